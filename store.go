package beacon

import (
	"context"
	"time"
)

// StoredRecord is one failed batch kept by a durable store.
type StoredRecord struct {
	ID ID
	// Items is serializer output for the batch, or the serializer's
	// failure marker when the batch could not be encoded.
	Items     string
	CreatedAt time.Time
	// Attempt counts failed deliveries of this record.
	Attempt int
}

// RecordPatch lists the fields Update changes; nil fields are kept.
type RecordPatch struct {
	Attempt *int
	Items   *string
}

// Store is a key-ordered table of StoredRecord values. Records are returned
// in ID order, which is insertion order.
type Store interface {
	// Open prepares the backend. It must be called before other methods.
	Open(ctx context.Context) error
	// Append stores rec and returns its ID, assigning one when rec.ID is zero.
	Append(ctx context.Context, rec StoredRecord) (ID, error)
	// ReadAll returns every record in ID order.
	ReadAll(ctx context.Context) ([]StoredRecord, error)
	// ReadByID returns the record and whether it exists.
	ReadByID(ctx context.Context, id ID) (StoredRecord, bool, error)
	// Update applies patch to an existing record. Unknown ids return ErrRecordNotFound.
	Update(ctx context.Context, id ID, patch RecordPatch) error
	// Remove deletes a record. Removing an unknown id is not an error.
	Remove(ctx context.Context, id ID) error
	// Clear deletes every record.
	Clear(ctx context.Context) error
	// Count returns the number of records.
	Count(ctx context.Context) (int, error)
	// Close releases the backend.
	Close() error
}

// DurableStats summarises the durable buffer.
type DurableStats struct {
	Total       int
	ByAttempt   map[int]int
	MeanAttempt float64
	Available   bool
}

// RetryReport counts the outcome of one pass over the durable buffer.
type RetryReport struct {
	Attempted int
	Delivered int
	Failed    int
	Dropped   int
	Skipped   int
}

// Resender re-delivers a batch restored from the durable buffer. attempt is
// the number of the attempt being made. On success the resender removes the
// record; on error the buffer counts a failed attempt.
type Resender interface {
	Resend(ctx context.Context, items []Item, attempt int, id ID) error
}

// PendingChecker is implemented by resenders that already hold some records
// in memory. The durable pass skips those ids.
type PendingChecker interface {
	Pending(id ID) bool
}

// DurableBuffer keeps failed batches across restarts. Implementations log
// and swallow storage failures; none of these calls fail the caller.
type DurableBuffer interface {
	// Save stores items with attempt 0. ok is false when nothing was stored.
	Save(ctx context.Context, items []Item) (id ID, ok bool)
	// Remove deletes a record.
	Remove(ctx context.Context, id ID)
	// Increment records one more failed attempt for a record.
	Increment(ctx context.Context, id ID)
	// RetryAll re-sends every stored record below maxRetries and drops the rest.
	RetryAll(ctx context.Context, maxRetries int, resender Resender) RetryReport
	// Stats summarises stored records.
	Stats(ctx context.Context) DurableStats
	// Clear deletes every record.
	Clear(ctx context.Context)
}
