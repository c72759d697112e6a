package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/velmie/beacon"
)

type fakeResult struct {
	affected int64
}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.affected, nil }

type fakeExecutor struct {
	query    string
	args     []any
	affected int64
	err      error
}

func (f *fakeExecutor) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.query = query
	f.args = args
	if f.err != nil {
		return nil, f.err
	}

	return fakeResult{affected: f.affected}, nil
}

type fixedIDs struct {
	id    beacon.ID
	calls int
}

func (g *fixedIDs) NewID() (beacon.ID, error) {
	g.calls++

	return g.id, nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

func newFakeStore(exec Executor, opts ...Option) *Store {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Store{
		exec:    exec,
		cfg:     cfg.withDefaults(),
		queries: newQueries("beacon_buffer"),
		table:   "beacon_buffer",
	}
}

func TestNewStoreValidation(t *testing.T) {
	if _, err := NewStore(nil); !errors.Is(err, ErrDBRequired) {
		t.Fatalf("expected ErrDBRequired, got %v", err)
	}
	if _, err := NewStore(&sql.DB{}, WithTable("bad-name")); !errors.Is(err, ErrInvalidTableName) {
		t.Fatalf("expected ErrInvalidTableName, got %v", err)
	}

	store, err := NewStore(&sql.DB{}, WithTable("telemetry.errors"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if store.Table() != "telemetry.errors" {
		t.Fatalf("unexpected table %q", store.Table())
	}
	if !store.cfg.CreateTable {
		t.Fatalf("expected table creation by default")
	}
}

func TestMustNewStorePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	MustNewStore(nil)
}

func TestStoreAppendGeneratesID(t *testing.T) {
	ids := &fixedIDs{id: beacon.ID{0x01}}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	exec := &fakeExecutor{affected: 1}
	store := newFakeStore(exec, WithIDSource(ids), WithClock(fixedClock{now: now}))

	id, err := store.Append(context.Background(), beacon.StoredRecord{Items: `["a"]`})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id != ids.id || ids.calls != 1 {
		t.Fatalf("expected generated id to be returned")
	}
	if !strings.HasPrefix(exec.query, "INSERT INTO beacon_buffer") {
		t.Fatalf("unexpected query %q", exec.query)
	}
	if len(exec.args) != 4 {
		t.Fatalf("expected 4 args, got %d", len(exec.args))
	}
	if exec.args[0] != ids.id || exec.args[1] != `["a"]` || exec.args[3] != 0 {
		t.Fatalf("unexpected args %v", exec.args)
	}
	if created, ok := exec.args[2].(time.Time); !ok || !created.Equal(now) {
		t.Fatalf("expected clock time for created_at, got %v", exec.args[2])
	}
}

func TestStoreAppendKeepsID(t *testing.T) {
	ids := &fixedIDs{id: beacon.ID{0x01}}
	exec := &fakeExecutor{affected: 1}
	store := newFakeStore(exec, WithIDSource(ids))
	want := beacon.ID{0x02}

	id, err := store.Append(context.Background(), beacon.StoredRecord{ID: want, Items: "[]", Attempt: 2})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id != want || ids.calls != 0 {
		t.Fatalf("expected provided id to be kept")
	}
	if exec.args[3] != 2 {
		t.Fatalf("expected attempt to be stored, got %v", exec.args[3])
	}
}

func TestStoreAppendError(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("lost connection")}
	store := newFakeStore(exec)

	if _, err := store.Append(context.Background(), beacon.StoredRecord{Items: "[]"}); err == nil || !strings.Contains(err.Error(), "lost connection") {
		t.Fatalf("expected wrapped exec error, got %v", err)
	}
}

func TestStoreUpdatePassesNullForKeptFields(t *testing.T) {
	exec := &fakeExecutor{affected: 1}
	store := newFakeStore(exec)
	attempt := 3
	id := beacon.ID{0x05}

	if err := store.Update(context.Background(), id, beacon.RecordPatch{Attempt: &attempt}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !strings.Contains(exec.query, "COALESCE(?, attempt)") {
		t.Fatalf("unexpected query %q", exec.query)
	}
	if exec.args[0] != 3 || exec.args[1] != nil || exec.args[2] != id {
		t.Fatalf("unexpected args %v", exec.args)
	}
}

func TestStoreRemoveAndClear(t *testing.T) {
	exec := &fakeExecutor{}
	store := newFakeStore(exec)
	ctx := context.Background()

	if err := store.Remove(ctx, beacon.ID{0x07}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if exec.query != "DELETE FROM beacon_buffer WHERE id = ?" {
		t.Fatalf("unexpected remove query %q", exec.query)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if exec.query != "DELETE FROM beacon_buffer" {
		t.Fatalf("unexpected clear query %q", exec.query)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
