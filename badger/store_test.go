package badger

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velmie/beacon"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()

	store, err := New(InMemoryConfig())
	require.NoError(t, err)
	require.NoError(t, store.Open(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrPathRequired)

	_, err = New(Config{InMemory: true, Table: "bad/table"})
	require.ErrorIs(t, err, ErrInvalidTable)

	cfg := DefaultConfig("/tmp/x")
	assert.True(t, cfg.SyncWrites)
	assert.Equal(t, DefaultTable, cfg.Table)
	assert.Equal(t, 5*time.Minute, cfg.GCInterval)
}

func TestStoreAppendAndReadInOrder(t *testing.T) {
	store := openInMemory(t)
	ctx := context.Background()
	created := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)

	var ids []beacon.ID
	for _, items := range []string{"[1]", "[2]", "[3]"} {
		id, err := store.Append(ctx, beacon.StoredRecord{Items: items, CreatedAt: created})
		require.NoError(t, err)
		require.False(t, id.IsZero())
		ids = append(ids, id)
	}

	records, err := store.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, ids[i], rec.ID)
		assert.Zero(t, rec.Attempt)
		assert.True(t, rec.CreatedAt.Equal(created))
	}
	assert.Equal(t, "[2]", records[1].Items)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestStoreReadByIDAndUpdate(t *testing.T) {
	store := openInMemory(t)
	ctx := context.Background()

	id, err := store.Append(ctx, beacon.StoredRecord{Items: "[]"})
	require.NoError(t, err)

	attempt := 2
	items := `["patched"]`
	require.NoError(t, store.Update(ctx, id, beacon.RecordPatch{Attempt: &attempt, Items: &items}))

	rec, ok, err := store.ReadByID(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, rec.Attempt)
	assert.Equal(t, items, rec.Items)

	_, ok, err = store.ReadByID(ctx, beacon.ID{0x01})
	require.NoError(t, err)
	assert.False(t, ok)

	err = store.Update(ctx, beacon.ID{0x01}, beacon.RecordPatch{Attempt: &attempt})
	require.ErrorIs(t, err, beacon.ErrRecordNotFound)
}

func TestStoreRemoveAndClear(t *testing.T) {
	store := openInMemory(t)
	ctx := context.Background()

	first, err := store.Append(ctx, beacon.StoredRecord{Items: "[1]"})
	require.NoError(t, err)
	_, err = store.Append(ctx, beacon.StoredRecord{Items: "[2]"})
	require.NoError(t, err)

	require.NoError(t, store.Remove(ctx, first))
	require.NoError(t, store.Remove(ctx, first))
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, store.Clear(ctx))
	records, err := store.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStoreTablesAreIsolated(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	errorsTable, err := NewWithDB(db, Config{Table: "errors"})
	require.NoError(t, err)
	otherTable, err := NewWithDB(db, Config{Table: "errors2"})
	require.NoError(t, err)
	require.NoError(t, errorsTable.Open(ctx))
	require.NoError(t, otherTable.Open(ctx))

	_, err = errorsTable.Append(ctx, beacon.StoredRecord{Items: "[1]"})
	require.NoError(t, err)
	_, err = otherTable.Append(ctx, beacon.StoredRecord{Items: "[2]"})
	require.NoError(t, err)

	require.NoError(t, otherTable.Clear(ctx))
	count, err := errorsTable.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, errorsTable.Close())
	require.NoError(t, db.View(func(*badger.Txn) error { return nil }))
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := DefaultConfig(dir)
	cfg.SyncWrites = false
	cfg.GCInterval = time.Hour

	store, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Open(ctx))
	require.NotNil(t, store.GC())
	id, err := store.Append(ctx, beacon.StoredRecord{Items: `["kept"]`})
	require.NoError(t, err)
	store.GC().RunOnce()
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	reopened, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, reopened.Open(ctx))
	defer reopened.Close()

	rec, ok, err := reopened.ReadByID(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `["kept"]`, rec.Items)
}

func TestStoreNotOpen(t *testing.T) {
	store, err := New(InMemoryConfig())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Append(ctx, beacon.StoredRecord{})
	require.ErrorIs(t, err, ErrNotOpen)

	require.NoError(t, store.Open(ctx))
	require.NoError(t, store.Close())
	require.ErrorIs(t, store.Open(ctx), ErrNotOpen)
	_, err = store.Count(ctx)
	require.ErrorIs(t, err, ErrNotOpen)
}

func TestStoreCancelledContext(t *testing.T) {
	store := openInMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Append(ctx, beacon.StoredRecord{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewGCRunnerValidation(t *testing.T) {
	_, err := NewGCRunner(nil, time.Second, 0.5, nil)
	require.Error(t, err)

	store := openInMemory(t)
	db, err := store.handle()
	require.NoError(t, err)
	_, err = NewGCRunner(db, 0, 0.5, nil)
	require.Error(t, err)
	_, err = NewGCRunner(db, time.Second, 1.5, nil)
	require.Error(t, err)

	runner, err := NewGCRunner(db, time.Hour, 0.5, nil)
	require.NoError(t, err)
	runner.Start()
	runner.Stop()
	runner.Stop()
}
