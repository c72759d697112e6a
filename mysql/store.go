package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/velmie/beacon"
)

// Executor runs write statements. *sql.DB and *sql.Tx satisfy it.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store implements beacon.Store on a MySQL 8.0+ table. Records are ordered
// by their time-ordered binary id.
type Store struct {
	db      *sql.DB
	exec    Executor
	cfg     Config
	queries queries
	table   string
}

var _ beacon.Store = (*Store)(nil)

// NewStore constructs a MySQL store with validated configuration. The caller
// owns db; Close leaves it open.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	table, err := sanitizeTableName(cfg.Table)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		exec:    db,
		cfg:     cfg,
		queries: newQueries(table),
		table:   table,
	}, nil
}

// MustNewStore constructs a MySQL store or panics on error.
func MustNewStore(db *sql.DB, opts ...Option) *Store {
	store, err := NewStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// Table returns the sanitized table name.
func (s *Store) Table() string {
	return s.table
}

// Open implements beacon.Store. It verifies the connection and creates the
// table unless WithCreateTable(false) was given.
func (s *Store) Open(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("beacon mysql: ping failed: %w", err)
	}
	if !s.cfg.CreateTable {
		return nil
	}

	schema, err := Schema(s.table)
	if err != nil {
		return err
	}
	if _, err := s.exec.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("beacon mysql: create table failed: %w", err)
	}

	return nil
}

// Append implements beacon.Store.
func (s *Store) Append(ctx context.Context, rec beacon.StoredRecord) (beacon.ID, error) {
	id := rec.ID
	if id.IsZero() {
		var err error
		id, err = s.cfg.IDs.NewID()
		if err != nil {
			return beacon.ID{}, fmt.Errorf("beacon mysql: generate id failed: %w", err)
		}
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.cfg.Clock.Now()
	}

	if _, err := s.exec.ExecContext(ctx, s.queries.insert, id, rec.Items, created.UTC(), rec.Attempt); err != nil {
		return beacon.ID{}, fmt.Errorf("beacon mysql: insert failed: %w", err)
	}

	return id, nil
}

// ReadAll implements beacon.Store.
func (s *Store) ReadAll(ctx context.Context) ([]beacon.StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.queries.selectAll)
	if err != nil {
		return nil, fmt.Errorf("beacon mysql: select failed: %w", err)
	}
	defer rows.Close()

	var records []beacon.StoredRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("beacon mysql: rows failed: %w", err)
	}

	return records, nil
}

// ReadByID implements beacon.Store.
func (s *Store) ReadByID(ctx context.Context, id beacon.ID) (beacon.StoredRecord, bool, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, s.queries.selectOne, id))
	if errors.Is(err, sql.ErrNoRows) {
		return beacon.StoredRecord{}, false, nil
	}
	if err != nil {
		return beacon.StoredRecord{}, false, err
	}

	return rec, true, nil
}

// Update implements beacon.Store.
func (s *Store) Update(ctx context.Context, id beacon.ID, patch beacon.RecordPatch) error {
	var attempt, items any
	if patch.Attempt != nil {
		attempt = *patch.Attempt
	}
	if patch.Items != nil {
		items = *patch.Items
	}

	res, err := s.exec.ExecContext(ctx, s.queries.update, attempt, items, id)
	if err != nil {
		return fmt.Errorf("beacon mysql: update failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("beacon mysql: update rows failed: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// MySQL reports zero affected rows when the values did not change.
	var n int
	if err := s.db.QueryRowContext(ctx, s.queries.exists, id).Scan(&n); err != nil {
		return fmt.Errorf("beacon mysql: update lookup failed: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", beacon.ErrRecordNotFound, id)
	}

	return nil
}

// Remove implements beacon.Store.
func (s *Store) Remove(ctx context.Context, id beacon.ID) error {
	if _, err := s.exec.ExecContext(ctx, s.queries.deleteOne, id); err != nil {
		return fmt.Errorf("beacon mysql: delete failed: %w", err)
	}

	return nil
}

// Clear implements beacon.Store.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.exec.ExecContext(ctx, s.queries.deleteAll); err != nil {
		return fmt.Errorf("beacon mysql: clear failed: %w", err)
	}

	return nil
}

// Count implements beacon.Store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, s.queries.count).Scan(&count); err != nil {
		return 0, fmt.Errorf("beacon mysql: count failed: %w", err)
	}

	return count, nil
}

// Close implements beacon.Store. The database handle is left open.
func (s *Store) Close() error {
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (beacon.StoredRecord, error) {
	var (
		rec     beacon.StoredRecord
		created time.Time
	)
	if err := row.Scan(&rec.ID, &rec.Items, &created, &rec.Attempt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return beacon.StoredRecord{}, err
		}

		return beacon.StoredRecord{}, fmt.Errorf("beacon mysql: scan failed: %w", err)
	}
	rec.CreatedAt = created.UTC()

	return rec, nil
}
