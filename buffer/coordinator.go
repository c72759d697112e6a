package buffer

import (
	"context"
	"errors"

	"github.com/velmie/beacon"
	"github.com/velmie/beacon/serial"
)

// Config defines the collaborators of a Coordinator.
type Config struct {
	Logger     beacon.Logger
	Metrics    beacon.Metrics
	Clock      beacon.Clock
	Serializer *serial.Serializer
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = beacon.NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = beacon.NopMetrics{}
	}
	if c.Clock == nil {
		c.Clock = beacon.SystemClock{}
	}

	return c
}

// Option configures a Coordinator.
type Option func(*Config)

// WithLogger sets the coordinator logger.
func WithLogger(logger beacon.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the recorder for dropped records.
func WithMetrics(metrics beacon.Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithClock sets the clock used for record timestamps.
func WithClock(clock beacon.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithSerializer sets the serializer used for stored batches.
func WithSerializer(serializer *serial.Serializer) Option {
	return func(c *Config) {
		c.Serializer = serializer
	}
}

// Batch is a stored record with its items restored.
type Batch struct {
	ID      beacon.ID
	Items   []beacon.Item
	Attempt int
}

// Coordinator implements beacon.DurableBuffer over a Table. Storage errors
// are logged and never returned.
type Coordinator struct {
	table *Table
	codec Codec
	cfg   Config
}

var _ beacon.DurableBuffer = (*Coordinator)(nil)

// New returns a coordinator over table. The table should be initialized;
// an unavailable table turns every call into a no-op.
func New(table *Table, opts ...Option) *Coordinator {
	if table == nil {
		panic("beacon buffer: nil Table")
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Coordinator{table: table, codec: NewCodec(cfg.Serializer), cfg: cfg}
}

// Save implements beacon.DurableBuffer.
func (c *Coordinator) Save(ctx context.Context, items []beacon.Item) (beacon.ID, bool) {
	rec := beacon.StoredRecord{
		Items:     c.codec.Encode(items),
		CreatedAt: c.cfg.Clock.Now(),
	}
	if serial.IsFailure(rec.Items) {
		c.cfg.Logger.Warn("beacon buffer storing serialization failure marker", "items", len(items))
	}

	id, err := c.table.Append(ctx, rec)
	if err != nil {
		c.logStoreError("save", err)

		return beacon.ID{}, false
	}

	return id, true
}

// Retrieve returns every decodable batch. Records that fail to decode are
// removed.
func (c *Coordinator) Retrieve(ctx context.Context) []Batch {
	records, err := c.table.ReadAll(ctx)
	if err != nil {
		c.logStoreError("read", err)

		return nil
	}

	batches := make([]Batch, 0, len(records))
	for _, rec := range records {
		batch, ok := c.restore(ctx, rec)
		if ok {
			batches = append(batches, batch)
		}
	}

	return batches
}

// RetrieveByID returns one batch.
func (c *Coordinator) RetrieveByID(ctx context.Context, id beacon.ID) (Batch, bool) {
	rec, ok, err := c.table.ReadByID(ctx, id)
	if err != nil {
		c.logStoreError("read", err)

		return Batch{}, false
	}
	if !ok {
		return Batch{}, false
	}

	return c.restore(ctx, rec)
}

// Remove implements beacon.DurableBuffer.
func (c *Coordinator) Remove(ctx context.Context, id beacon.ID) {
	if err := c.table.Remove(ctx, id); err != nil {
		c.logStoreError("remove", err)
	}
}

// Increment implements beacon.DurableBuffer.
func (c *Coordinator) Increment(ctx context.Context, id beacon.ID) {
	rec, ok, err := c.table.ReadByID(ctx, id)
	if err != nil {
		c.logStoreError("read", err)

		return
	}
	if !ok {
		return
	}
	c.setAttempt(ctx, id, rec.Attempt+1)
}

// Stats implements beacon.DurableBuffer.
func (c *Coordinator) Stats(ctx context.Context) beacon.DurableStats {
	stats := beacon.DurableStats{ByAttempt: map[int]int{}, Available: c.table.IsAvailable()}

	records, err := c.table.ReadAll(ctx)
	if err != nil {
		c.logStoreError("read", err)

		return stats
	}

	sum := 0
	for _, rec := range records {
		stats.ByAttempt[rec.Attempt]++
		sum += rec.Attempt
	}
	stats.Total = len(records)
	if stats.Total > 0 {
		stats.MeanAttempt = float64(sum) / float64(stats.Total)
	}

	return stats
}

// Clear implements beacon.DurableBuffer.
func (c *Coordinator) Clear(ctx context.Context) {
	if err := c.table.Clear(ctx); err != nil {
		c.logStoreError("clear", err)
	}
}

func (c *Coordinator) restore(ctx context.Context, rec beacon.StoredRecord) (Batch, bool) {
	items, err := c.codec.Decode(rec.Items)
	if err != nil {
		c.cfg.Logger.Error("beacon buffer dropping undecodable record", "id", rec.ID.String(), "err", err)
		c.cfg.Metrics.AddDropped(beacon.ReasonUndecodable, 1)
		c.Remove(ctx, rec.ID)

		return Batch{}, false
	}

	return Batch{ID: rec.ID, Items: items, Attempt: rec.Attempt}, true
}

func (c *Coordinator) setAttempt(ctx context.Context, id beacon.ID, attempt int) {
	err := c.table.Update(ctx, id, beacon.RecordPatch{Attempt: &attempt})
	if err != nil && !errors.Is(err, beacon.ErrRecordNotFound) {
		c.logStoreError("update", err)
	}
}

func (c *Coordinator) logStoreError(op string, err error) {
	if errors.Is(err, beacon.ErrStoreUnavailable) {
		c.cfg.Logger.Debug("beacon buffer skipped; store unavailable", "op", op)

		return
	}
	c.cfg.Logger.Warn("beacon buffer store error", "op", op, "err", err)
}
