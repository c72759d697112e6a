package beacon

import (
	"context"
	"maps"
	"slices"
)

// Stats is a snapshot of the agent state.
type Stats struct {
	Queued         int
	Retrying       int
	Enabled        bool
	DurableEnabled bool
	MaxRetries     int
	// Durable is set when the durable buffer is enabled.
	Durable *DurableStats
}

// Agent is the producer-facing entry point. It batches submitted data,
// sends it, retries failures with backoff and falls back to the durable
// buffer. Producer calls never fail and never panic.
type Agent struct {
	cfg    AgentConfig
	queue  *Queue
	ledger *RetryLedger
}

// NewAgent constructs a disabled Agent. Call Configure to enable delivery.
func NewAgent(opts ...AgentOption) *Agent {
	var cfg AgentConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	a := &Agent{cfg: cfg}
	a.queue = NewQueue(cfg.Settings, BatchSinkFunc(a.deliver), cfg.Scheduler)
	a.ledger = NewRetryLedger(cfg.Settings, LedgerConfig{
		Sender:            cfg.Sender,
		DurableSink:       durableSink{agent: a},
		Scheduler:         cfg.Scheduler,
		Clock:             cfg.Clock,
		Logger:            cfg.Logger,
		Metrics:           cfg.Metrics,
		FailureClassifier: cfg.FailureClassifier,
	})

	return a
}

// Configure applies a new policy. An invalid policy is logged, leaves the
// agent disabled and is returned for the caller's information.
func (a *Agent) Configure(cfg Config) error {
	if err := a.cfg.Settings.Apply(cfg); err != nil {
		a.cfg.Logger.Error("beacon configuration rejected; delivery disabled", "err", err)

		return err
	}

	current := a.cfg.Settings.Snapshot()
	a.cfg.Logger.Info("beacon delivery configured",
		"endpoint", current.Endpoint,
		"batch_size", current.BatchSize,
		"batch_timeout", current.BatchTimeout,
		"max_retries", current.MaxRetries,
		"persistent_buffer", current.UsePersistentBuffer,
	)

	return nil
}

// Start runs the startup pass over the durable buffer, re-sending batches
// left by a previous session. It is a no-op unless delivery and the durable
// buffer are both enabled.
func (a *Agent) Start(ctx context.Context) RetryReport {
	return a.retryDurable(ctx)
}

// Enabled reports whether delivery is active.
func (a *Agent) Enabled() bool {
	return a.cfg.Settings.Enabled()
}

// SubmitError queues an error report. Keys in extra overwrite keys in payload.
func (a *Agent) SubmitError(ctx context.Context, payload map[string]any, extra map[string]any) {
	defer a.recoverPanic("submit error")

	if !a.Enabled() {
		a.cfg.Logger.Warn("beacon error report ignored", "err", ErrNotEnabled)

		return
	}

	merged := make(map[string]any, len(payload)+len(extra))
	maps.Copy(merged, payload)
	maps.Copy(merged, extra)

	a.enqueue(ctx, KindError, merged)
}

// SubmitBreadcrumbs queues a breadcrumb batch. Breadcrumbs are only
// forwarded when a batch timeout is configured.
func (a *Agent) SubmitBreadcrumbs(ctx context.Context, batch []any) {
	defer a.recoverPanic("submit breadcrumbs")

	if !a.Enabled() || len(batch) == 0 {
		return
	}
	if !a.cfg.Settings.Snapshot().ForwardBreadcrumbs() {
		return
	}

	a.enqueue(ctx, KindBreadcrumbs, slices.Clone(batch))
}

// Flush delivers whatever is queued now.
func (a *Agent) Flush(ctx context.Context) {
	defer a.recoverPanic("flush")

	a.queue.Flush(ctx)
	a.cfg.Metrics.SetQueued(a.queue.Size())
}

// ForceFlush flushes the queue, processes due retries and runs a pass over
// the durable buffer.
func (a *Agent) ForceFlush(ctx context.Context) {
	defer a.recoverPanic("force flush")

	a.queue.Flush(ctx)
	a.cfg.Metrics.SetQueued(a.queue.Size())
	a.ledger.ProcessReady(ctx)
	a.retryDurable(ctx)
}

// Disable stops delivery and drops in-memory data. Durable records are kept
// for the next session. Calling Disable again has no effect.
func (a *Agent) Disable() {
	a.cfg.Settings.Disable()

	queued := a.queue.Reset()
	retrying := a.ledger.Reset()
	if dropped := queued + retrying; dropped > 0 {
		a.cfg.Metrics.AddDropped(ReasonDisabled, dropped)
		a.cfg.Logger.Warn("beacon disabled with undelivered items", "queued", queued, "retrying", retrying)
	}
	a.cfg.Metrics.SetQueued(0)
}

// Stats returns the current state.
func (a *Agent) Stats(ctx context.Context) Stats {
	cfg := a.cfg.Settings.Snapshot()
	stats := Stats{
		Queued:         a.queue.Size(),
		Retrying:       a.ledger.Size(),
		Enabled:        a.Enabled(),
		DurableEnabled: a.durableEnabled(),
		MaxRetries:     cfg.MaxRetries,
	}
	if stats.DurableEnabled {
		durable := a.cfg.DurableBuffer.Stats(ctx)
		stats.Durable = &durable
	}

	return stats
}

func (a *Agent) enqueue(ctx context.Context, kind Kind, payload any) {
	value, ok := a.seal(kind, payload)
	if !ok {
		return
	}

	a.queue.Add(ctx, Item{Kind: kind, Payload: value, CreatedAt: a.cfg.Clock.Now()})
	a.cfg.Metrics.SetQueued(a.queue.Size())
}

// seal applies the encryption hook. The sealed payload is the ciphertext
// as a string.
func (a *Agent) seal(kind Kind, payload any) (any, bool) {
	encrypt := a.cfg.Settings.Snapshot().Encrypt
	if encrypt == nil {
		return payload, true
	}

	sealed, err := encrypt([]byte(a.cfg.Serializer.Serialize(payload)))
	if err != nil {
		a.cfg.Metrics.AddDropped(ReasonEncryptFailed, 1)
		a.cfg.Logger.Error("beacon payload encryption failed; item dropped", "kind", string(kind), "err", err)

		return nil, false
	}

	return string(sealed), true
}

// deliver is the queue sink: one attempt, then the ledger takes over.
func (a *Agent) deliver(ctx context.Context, items []Item) {
	if len(items) == 0 {
		return
	}
	count := len(items)

	start := a.cfg.Clock.Now()
	err := a.cfg.Sender.Send(ctx, items)
	a.cfg.Metrics.ObserveSendDuration(a.cfg.Clock.Now().Sub(start))
	if err == nil {
		a.cfg.Metrics.AddDelivered(count)
		a.cfg.Logger.Debug("beacon batch delivered", "items", count)

		return
	}

	a.cfg.Metrics.AddFailed(count)
	if a.cfg.FailureClassifier(ctx, items, err) == FailureDrop {
		a.cfg.Metrics.AddDropped(ReasonNonRetryable, count)
		a.cfg.Logger.Error("beacon batch rejected; dropped", "items", count, "err", err)

		return
	}
	if !a.Enabled() {
		a.cfg.Metrics.AddDropped(ReasonDisabled, count)

		return
	}

	var id ID
	if a.durableEnabled() {
		if saved, ok := a.cfg.DurableBuffer.Save(ctx, items); ok {
			id = saved
		}
	}
	due := a.ledger.Schedule(items, 1, id)
	a.cfg.Metrics.AddRetries(count)
	a.cfg.Logger.Warn("beacon batch delivery failed; scheduled retry",
		"items", count,
		"next_attempt_at", due,
		"durable", !id.IsZero(),
		"err", err,
	)
}

func (a *Agent) retryDurable(ctx context.Context) RetryReport {
	if !a.Enabled() || !a.durableEnabled() {
		return RetryReport{}
	}

	maxRetries := a.cfg.Settings.Snapshot().MaxRetries
	report := a.cfg.DurableBuffer.RetryAll(ctx, maxRetries, durableResender{agent: a})
	if report.Attempted > 0 || report.Dropped > 0 {
		a.cfg.Logger.Info("beacon durable buffer pass",
			"attempted", report.Attempted,
			"delivered", report.Delivered,
			"failed", report.Failed,
			"dropped", report.Dropped,
			"skipped", report.Skipped,
		)
	}

	return report
}

func (a *Agent) durableEnabled() bool {
	return a.cfg.DurableBuffer != nil && a.cfg.Settings.Snapshot().UsePersistentBuffer
}

func (a *Agent) recoverPanic(op string) {
	if rec := recover(); rec != nil {
		a.cfg.Logger.Error("beacon recovered from panic", "op", op, "panic", rec)
	}
}

// durableSink forwards ledger outcomes to the durable buffer.
type durableSink struct {
	agent *Agent
}

func (s durableSink) Remove(ctx context.Context, id ID) {
	if s.agent.cfg.DurableBuffer != nil {
		s.agent.cfg.DurableBuffer.Remove(ctx, id)
	}
}

func (s durableSink) Increment(ctx context.Context, id ID) {
	if s.agent.cfg.DurableBuffer != nil {
		s.agent.cfg.DurableBuffer.Increment(ctx, id)
	}
}

// durableResender sends restored records and removes the ones accepted.
type durableResender struct {
	agent *Agent
}

func (r durableResender) Resend(ctx context.Context, items []Item, attempt int, id ID) error {
	a := r.agent

	start := a.cfg.Clock.Now()
	err := a.cfg.Sender.Send(ctx, items)
	a.cfg.Metrics.ObserveSendDuration(a.cfg.Clock.Now().Sub(start))
	if err != nil {
		a.cfg.Metrics.AddFailed(len(items))
		a.cfg.Logger.Warn("beacon durable resend failed", "id", id.String(), "attempt", attempt, "err", err)

		return err
	}

	a.cfg.Metrics.AddDelivered(len(items))
	a.cfg.DurableBuffer.Remove(ctx, id)

	return nil
}

func (r durableResender) Pending(id ID) bool {
	return r.agent.ledger.Holds(id)
}
