package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/velmie/beacon"
)

const (
	defaultPruneLimit      = 10000
	defaultPruneEvery      = time.Hour
	defaultPruneLockPrefix = "beacon:prune:"
)

// PruneOptions selects stale records to delete.
type PruneOptions struct {
	// Before removes records created at or before this timestamp (required).
	Before time.Time
	// Limit caps the number of rows deleted per call (0 uses the default).
	Limit int
}

// PruneMaintainerConfig controls periodic pruning of stale records. Records
// that outlive the retention window were never delivered and no agent is
// retrying them.
type PruneMaintainerConfig struct {
	// Table is the buffer table name. Use schema.table for a non-default schema.
	Table string
	// Retention removes records older than now-retention (required).
	Retention time.Duration
	// CheckEvery is the interval between prune runs.
	CheckEvery time.Duration
	// Limit caps the number of rows deleted per run (0 uses the default).
	Limit int
	// LockName is the advisory lock name. Defaults to beacon:prune:<table>.
	LockName string
	Clock    beacon.Clock
	// Logger receives warnings about prune failures.
	Logger beacon.Logger
}

// PruneMaintainer prunes stale records under a MySQL advisory lock so only
// one process does the work.
type PruneMaintainer struct {
	store *Store
	cfg   PruneMaintainerConfig
}

// Prune deletes records created at or before opts.Before and returns the
// number removed.
func (s *Store) Prune(ctx context.Context, opts PruneOptions) (int64, error) {
	if opts.Before.IsZero() {
		return 0, ErrPruneBeforeRequired
	}
	limit := opts.Limit
	if limit == 0 {
		limit = defaultPruneLimit
	}
	if limit < 0 {
		return 0, ErrPruneLimitInvalid
	}

	res, err := s.exec.ExecContext(ctx, s.queries.pruneStale, opts.Before.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("beacon mysql: prune delete failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("beacon mysql: prune rows failed: %w", err)
	}

	return affected, nil
}

// NewPruneMaintainer creates a prune maintainer with defaults applied.
func NewPruneMaintainer(db *sql.DB, cfg PruneMaintainerConfig) (*PruneMaintainer, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if cfg.Retention <= 0 {
		return nil, ErrPruneRetentionInvalid
	}
	if cfg.Clock == nil {
		cfg.Clock = beacon.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = beacon.NopLogger{}
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultPruneEvery
	}
	if cfg.Limit == 0 {
		cfg.Limit = defaultPruneLimit
	}
	if cfg.Limit < 0 {
		return nil, ErrPruneLimitInvalid
	}

	store, err := NewStore(db, WithTable(cfg.Table), WithCreateTable(false))
	if err != nil {
		return nil, err
	}
	cfg.Table = store.table
	if cfg.LockName == "" {
		cfg.LockName = defaultPruneLockPrefix + cfg.Table
	}

	return &PruneMaintainer{store: store, cfg: cfg}, nil
}

// Run prunes periodically until the context is canceled.
func (m *PruneMaintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	m.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

// Ensure executes a single prune pass. It returns zero without error when
// another session holds the lock.
func (m *PruneMaintainer) Ensure(ctx context.Context) (int64, error) {
	conn, err := m.store.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("beacon mysql: prune conn failed: %w", err)
	}
	defer conn.Close()

	locked, err := m.tryLock(ctx, conn)
	if err != nil {
		return 0, err
	}
	if !locked {
		m.cfg.Logger.Debug("beacon prune lock held by another session", "lock", m.cfg.LockName)

		return 0, nil
	}
	defer m.releaseLock(ctx, conn)

	before := m.cfg.Clock.Now().Add(-m.cfg.Retention)

	return m.store.Prune(ctx, PruneOptions{Before: before, Limit: m.cfg.Limit})
}

func (m *PruneMaintainer) runOnce(ctx context.Context) {
	removed, err := m.Ensure(ctx)
	if err != nil {
		m.cfg.Logger.Warn("beacon prune failed", "err", err)

		return
	}
	if removed > 0 {
		m.cfg.Logger.Info("beacon pruned stale records", "table", m.cfg.Table, "removed", removed)
	}
}

func (m *PruneMaintainer) tryLock(ctx context.Context, conn *sql.Conn) (bool, error) {
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", m.cfg.LockName).Scan(&got); err != nil {
		return false, fmt.Errorf("beacon mysql: acquire prune lock failed: %w", err)
	}

	return got.Valid && got.Int64 != 0, nil
}

func (m *PruneMaintainer) releaseLock(ctx context.Context, conn *sql.Conn) {
	var released sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", m.cfg.LockName).Scan(&released); err != nil {
		m.cfg.Logger.Warn("beacon prune release lock failed", "err", err)
	}
}
