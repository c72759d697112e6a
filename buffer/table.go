package buffer

import (
	"context"
	"fmt"
	"sync"

	"github.com/velmie/beacon"
)

// Table wraps a beacon.Store and tracks whether it could be opened. Every
// operation on an unavailable table returns beacon.ErrStoreUnavailable
// without touching the store.
type Table struct {
	store  beacon.Store
	logger beacon.Logger

	mu        sync.RWMutex
	opened    bool
	available bool
	openErr   error
}

// NewTable wraps store. It does not open it.
func NewTable(store beacon.Store, logger beacon.Logger) (*Table, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if logger == nil {
		logger = beacon.NopLogger{}
	}

	return &Table{store: store, logger: logger}, nil
}

// Initialize opens the store once. Later calls return the first outcome.
func (t *Table) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.opened {
		return t.openErr
	}
	t.opened = true

	if err := t.store.Open(ctx); err != nil {
		t.openErr = fmt.Errorf("%w: %w", beacon.ErrStoreUnavailable, err)
		t.logger.Warn("beacon durable store unavailable; persistence disabled", "err", err)

		return t.openErr
	}
	t.available = true

	return nil
}

// IsAvailable reports whether the store was opened successfully.
func (t *Table) IsAvailable() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.available
}

// Append stores rec and returns its id.
func (t *Table) Append(ctx context.Context, rec beacon.StoredRecord) (beacon.ID, error) {
	if !t.IsAvailable() {
		return beacon.ID{}, beacon.ErrStoreUnavailable
	}

	return t.store.Append(ctx, rec)
}

// ReadAll returns every record in insertion order.
func (t *Table) ReadAll(ctx context.Context) ([]beacon.StoredRecord, error) {
	if !t.IsAvailable() {
		return nil, beacon.ErrStoreUnavailable
	}

	return t.store.ReadAll(ctx)
}

// ReadByID returns one record.
func (t *Table) ReadByID(ctx context.Context, id beacon.ID) (beacon.StoredRecord, bool, error) {
	if !t.IsAvailable() {
		return beacon.StoredRecord{}, false, beacon.ErrStoreUnavailable
	}

	return t.store.ReadByID(ctx, id)
}

// Update applies patch to a record.
func (t *Table) Update(ctx context.Context, id beacon.ID, patch beacon.RecordPatch) error {
	if !t.IsAvailable() {
		return beacon.ErrStoreUnavailable
	}

	return t.store.Update(ctx, id, patch)
}

// Remove deletes a record.
func (t *Table) Remove(ctx context.Context, id beacon.ID) error {
	if !t.IsAvailable() {
		return beacon.ErrStoreUnavailable
	}

	return t.store.Remove(ctx, id)
}

// Clear deletes every record.
func (t *Table) Clear(ctx context.Context) error {
	if !t.IsAvailable() {
		return beacon.ErrStoreUnavailable
	}

	return t.store.Clear(ctx)
}

// Count returns the number of records.
func (t *Table) Count(ctx context.Context) (int, error) {
	if !t.IsAvailable() {
		return 0, beacon.ErrStoreUnavailable
	}

	return t.store.Count(ctx)
}

// Close closes the store and marks the table unavailable.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.available {
		return nil
	}
	t.available = false

	return t.store.Close()
}
