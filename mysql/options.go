package mysql

import "github.com/velmie/beacon"

const defaultTable = "beacon_buffer"

// Config defines MySQL store behavior.
type Config struct {
	Table string
	Clock beacon.Clock
	IDs   beacon.IDSource
	// CreateTable runs CREATE TABLE IF NOT EXISTS in Open.
	CreateTable    bool
	createTableSet bool
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = defaultTable
	}
	if c.Clock == nil {
		c.Clock = beacon.SystemClock{}
	}
	if c.IDs == nil {
		c.IDs = beacon.NewTimeOrderedIDs(c.Clock)
	}
	if !c.createTableSet {
		c.CreateTable = true
	}

	return c
}

// Option configures the MySQL store.
type Option func(*Config)

// WithTable sets the buffer table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

// WithClock sets the time source used for created_at.
func WithClock(clock beacon.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithIDSource sets the record ID source.
func WithIDSource(ids beacon.IDSource) Option {
	return func(c *Config) {
		c.IDs = ids
	}
}

// WithCreateTable enables or disables table creation in Open.
func WithCreateTable(enabled bool) Option {
	return func(c *Config) {
		c.CreateTable = enabled
		c.createTableSet = true
	}
}
