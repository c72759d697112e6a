package beacon

import (
	"context"
	"slices"
	"sync"
	"time"
)

// RetryEntry is a failed batch waiting for its next attempt.
type RetryEntry struct {
	Items []Item
	// Attempt is the number of the next retry, starting at 1.
	Attempt int
	// DurableID links the entry to a durable record; zero when there is none.
	DurableID     ID
	NextAttemptAt time.Time

	inFlight bool
}

// DurableSink is told about retry outcomes for entries backed by a
// durable record.
type DurableSink interface {
	// Remove is called once the entry is delivered or dropped.
	Remove(ctx context.Context, id ID)
	// Increment is called after each failed retry that will be retried again.
	Increment(ctx context.Context, id ID)
}

// LedgerConfig wires a RetryLedger.
type LedgerConfig struct {
	Sender            Sender
	DurableSink       DurableSink
	Scheduler         Scheduler
	Clock             Clock
	Logger            Logger
	Metrics           Metrics
	FailureClassifier FailureClassifier
}

func (c LedgerConfig) withDefaults() LedgerConfig {
	if c.Scheduler == nil {
		c.Scheduler = TimerScheduler{}
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.FailureClassifier == nil {
		c.FailureClassifier = defaultFailureClassifier
	}

	return c
}

// RetryLedger holds failed batches and re-sends them with exponential
// backoff. A single timer is armed for the earliest pending entry.
type RetryLedger struct {
	settings *Settings
	cfg      LedgerConfig

	mu      sync.Mutex
	entries []*RetryEntry
	cancel  Cancel
	armedAt time.Time
	timer   uint64
}

// NewRetryLedger returns an empty ledger.
func NewRetryLedger(settings *Settings, cfg LedgerConfig) *RetryLedger {
	if settings == nil {
		panic("beacon: nil Settings")
	}
	if cfg.Sender == nil {
		panic("beacon: nil Sender")
	}

	return &RetryLedger{settings: settings, cfg: cfg.withDefaults()}
}

// BackoffDelay returns min(base*2^(attempt-1), maxDelay). Attempts below 1
// count as 1.
func BackoffDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}

	return min(delay, maxDelay)
}

// NextDelay returns the backoff for attempt under the current policy.
func (l *RetryLedger) NextDelay(attempt int) time.Duration {
	cfg := l.settings.Snapshot()

	return BackoffDelay(attempt, cfg.BaseDelay, cfg.MaxDelay)
}

// Schedule adds items for another attempt and returns when it is due.
func (l *RetryLedger) Schedule(items []Item, attempt int, durableID ID) time.Time {
	if attempt < 1 {
		attempt = 1
	}
	due := l.cfg.Clock.Now().Add(l.NextDelay(attempt))

	l.mu.Lock()
	l.entries = append(l.entries, &RetryEntry{
		Items:         items,
		Attempt:       attempt,
		DurableID:     durableID,
		NextAttemptAt: due,
	})
	l.armLocked()
	size := len(l.entries)
	l.mu.Unlock()

	l.cfg.Metrics.SetRetrying(size)

	return due
}

// ProcessReady sends every entry that is due and not already being sent by
// another call, then re-arms the timer.
func (l *RetryLedger) ProcessReady(ctx context.Context) {
	l.mu.Lock()
	now := l.cfg.Clock.Now()
	var due []*RetryEntry
	for _, entry := range l.entries {
		if entry.inFlight || entry.NextAttemptAt.After(now) {
			continue
		}
		entry.inFlight = true
		due = append(due, entry)
	}
	l.mu.Unlock()

	for _, entry := range due {
		l.attempt(ctx, entry)
	}

	l.mu.Lock()
	l.armLocked()
	size := len(l.entries)
	l.mu.Unlock()

	l.cfg.Metrics.SetRetrying(size)
}

// Size returns the number of entries.
func (l *RetryLedger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}

// Entries returns a copy of the pending entries.
func (l *RetryLedger) Entries() []RetryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]RetryEntry, 0, len(l.entries))
	for _, entry := range l.entries {
		out = append(out, *entry)
	}

	return out
}

// Holds reports whether an entry backed by the durable record id is pending.
func (l *RetryLedger) Holds(id ID) bool {
	if id.IsZero() {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range l.entries {
		if entry.DurableID == id {
			return true
		}
	}

	return false
}

// Reset drops every entry and cancels the timer. It returns the number of
// items dropped. Durable records are left alone.
func (l *RetryLedger) Reset() int {
	l.mu.Lock()
	dropped := 0
	for _, entry := range l.entries {
		dropped += len(entry.Items)
	}
	l.entries = nil
	l.stopTimerLocked()
	l.mu.Unlock()

	l.cfg.Metrics.SetRetrying(0)

	return dropped
}

func (l *RetryLedger) attempt(ctx context.Context, entry *RetryEntry) {
	start := l.cfg.Clock.Now()
	err := l.cfg.Sender.Send(ctx, entry.Items)
	l.cfg.Metrics.ObserveSendDuration(l.cfg.Clock.Now().Sub(start))
	count := len(entry.Items)

	if err == nil {
		if !l.remove(entry) {
			return
		}
		l.cfg.Metrics.AddDelivered(count)
		l.cfg.Logger.Debug("beacon retry delivered", "items", count, "attempt", entry.Attempt)
		l.notifyRemove(ctx, entry.DurableID)

		return
	}

	l.cfg.Metrics.AddFailed(count)
	maxRetries := l.settings.Snapshot().MaxRetries
	action := l.cfg.FailureClassifier(ctx, entry.Items, err)

	if action == FailureDrop || entry.Attempt >= maxRetries {
		if !l.remove(entry) {
			return
		}
		reason := ReasonRetryExhausted
		if action == FailureDrop {
			reason = ReasonNonRetryable
		}
		l.cfg.Metrics.AddDropped(reason, count)
		l.cfg.Logger.Error("beacon batch dropped",
			"items", count,
			"attempt", entry.Attempt,
			"reason", string(reason),
			"err", ErrRetryExhausted,
			"cause", err,
		)
		l.notifyRemove(ctx, entry.DurableID)

		return
	}

	next := entry.Attempt + 1
	due := l.cfg.Clock.Now().Add(l.NextDelay(next))

	l.mu.Lock()
	entry.inFlight = false
	live := slices.Contains(l.entries, entry)
	if live {
		entry.Attempt = next
		entry.NextAttemptAt = due
	}
	l.mu.Unlock()
	if !live {
		return
	}

	l.cfg.Metrics.AddRetries(count)
	l.cfg.Logger.Warn("beacon retry failed", "items", count, "attempt", next-1, "next_attempt_at", due, "err", err)
	if !entry.DurableID.IsZero() && l.cfg.DurableSink != nil {
		l.cfg.DurableSink.Increment(ctx, entry.DurableID)
	}
}

// remove deletes entry and reports whether it was still present. A Reset
// during the send makes it absent.
func (l *RetryLedger) remove(entry *RetryEntry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.inFlight = false
	idx := slices.Index(l.entries, entry)
	if idx < 0 {
		return false
	}
	l.entries = slices.Delete(l.entries, idx, idx+1)

	return true
}

func (l *RetryLedger) notifyRemove(ctx context.Context, id ID) {
	if id.IsZero() || l.cfg.DurableSink == nil {
		return
	}
	l.cfg.DurableSink.Remove(ctx, id)
}

func (l *RetryLedger) armLocked() {
	var earliest time.Time
	for _, entry := range l.entries {
		if entry.inFlight {
			continue
		}
		if earliest.IsZero() || entry.NextAttemptAt.Before(earliest) {
			earliest = entry.NextAttemptAt
		}
	}
	if earliest.IsZero() {
		l.stopTimerLocked()

		return
	}
	if l.cancel != nil && !l.armedAt.After(earliest) {
		return
	}

	l.stopTimerLocked()
	l.timer++
	token := l.timer
	l.armedAt = earliest
	l.cancel = l.cfg.Scheduler.Schedule(earliest.Sub(l.cfg.Clock.Now()), func() {
		l.onTimer(token)
	})
}

func (l *RetryLedger) onTimer(token uint64) {
	l.mu.Lock()
	if l.cancel == nil || token != l.timer {
		l.mu.Unlock()

		return
	}
	l.cancel = nil
	l.mu.Unlock()

	l.ProcessReady(context.Background())
}

func (l *RetryLedger) stopTimerLocked() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	l.cancel = nil
	l.armedAt = time.Time{}
	l.timer++
}
