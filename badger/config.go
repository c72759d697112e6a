package badger

import (
	"errors"
	"regexp"
	"time"

	"github.com/velmie/beacon"
)

const (
	// DefaultTable is the table used when Config.Table is empty.
	DefaultTable = "beacon_buffer"

	defaultGCInterval     = 5 * time.Minute
	defaultGCDiscardRatio = 0.5
)

var (
	// ErrPathRequired is returned when a persistent store has no directory.
	ErrPathRequired = errors.New("beacon badger path is required")
	// ErrInvalidTable is returned when the table name cannot be used as a key prefix.
	ErrInvalidTable = errors.New("beacon badger table name is invalid")
	// ErrNotOpen is returned when the store is used before Open or after Close.
	ErrNotOpen = errors.New("beacon badger store is not open")
)

var tablePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// Config holds configuration for a BadgerDB-backed store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in RAM. Data is lost on Close.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// Table names the key prefix. Several tables may share one directory.
	Table string
	// GCInterval is how often value-log GC runs. Zero disables it.
	GCInterval time.Duration
	// GCDiscardRatio is the garbage ratio that triggers a value-log rewrite.
	GCDiscardRatio float64
	// Logger receives store and BadgerDB messages.
	Logger beacon.Logger
	// IDs assigns record IDs.
	IDs beacon.IDSource
}

// DefaultConfig returns production defaults for a store at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		Table:          DefaultTable,
		GCInterval:     defaultGCInterval,
		GCDiscardRatio: defaultGCDiscardRatio,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{
		InMemory: true,
		Table:    DefaultTable,
	}
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.GCDiscardRatio <= 0 || c.GCDiscardRatio >= 1 {
		c.GCDiscardRatio = defaultGCDiscardRatio
	}
	if c.Logger == nil {
		c.Logger = beacon.NopLogger{}
	}
	if c.IDs == nil {
		c.IDs = beacon.NewTimeOrderedIDs(nil)
	}

	return c
}

func (c Config) validate() error {
	if !c.InMemory && c.Path == "" {
		return ErrPathRequired
	}
	if !tablePattern.MatchString(c.Table) {
		return ErrInvalidTable
	}

	return nil
}
