package beacon

import (
	"context"
	"sync"
)

// BatchSink receives batches flushed from a Queue.
type BatchSink interface {
	// Deliver takes ownership of items. It runs on the goroutine that
	// triggered the flush.
	Deliver(ctx context.Context, items []Item)
}

// BatchSinkFunc adapts a function to BatchSink.
type BatchSinkFunc func(ctx context.Context, items []Item)

// Deliver implements BatchSink.
func (fn BatchSinkFunc) Deliver(ctx context.Context, items []Item) {
	fn(ctx, items)
}

// Queue accumulates items and hands them to a sink in batches, either when
// BatchSize is reached or when BatchTimeout expires after the first item.
type Queue struct {
	settings  *Settings
	sink      BatchSink
	scheduler Scheduler

	mu     sync.Mutex
	items  []Item
	cancel Cancel
	timer  uint64
}

// NewQueue returns an empty queue.
func NewQueue(settings *Settings, sink BatchSink, scheduler Scheduler) *Queue {
	if settings == nil {
		panic("beacon: nil Settings")
	}
	if sink == nil {
		panic("beacon: nil BatchSink")
	}
	if scheduler == nil {
		scheduler = TimerScheduler{}
	}

	return &Queue{settings: settings, sink: sink, scheduler: scheduler}
}

// Add appends item. Reaching the batch size flushes before Add returns.
func (q *Queue) Add(ctx context.Context, item Item) {
	cfg := q.settings.Snapshot()

	q.mu.Lock()
	q.items = append(q.items, item)
	if len(q.items) >= cfg.BatchSize {
		batch := q.takeLocked()
		q.mu.Unlock()
		q.sink.Deliver(ctx, batch)

		return
	}
	if cfg.BatchTimeout > 0 && q.cancel == nil {
		q.timer++
		token := q.timer
		q.cancel = q.scheduler.Schedule(cfg.BatchTimeout, func() {
			q.onTimer(token)
		})
	}
	q.mu.Unlock()
}

// Flush delivers everything queued. An empty queue is left untouched.
func (q *Queue) Flush(ctx context.Context) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()

		return
	}
	batch := q.takeLocked()
	q.mu.Unlock()

	q.sink.Deliver(ctx, batch)
}

// Size returns the number of queued items.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// IsEmpty reports whether nothing is queued.
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// Reset drops queued items without delivering them and returns how many
// were dropped.
func (q *Queue) Reset() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := len(q.items)
	q.items = nil
	q.stopTimerLocked()

	return dropped
}

func (q *Queue) onTimer(token uint64) {
	q.mu.Lock()
	if q.cancel == nil || token != q.timer {
		q.mu.Unlock()

		return
	}
	q.cancel = nil
	q.mu.Unlock()

	q.Flush(context.Background())
}

func (q *Queue) takeLocked() []Item {
	batch := q.items
	q.items = nil
	q.stopTimerLocked()

	return batch
}

func (q *Queue) stopTimerLocked() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	q.cancel = nil
	q.timer++
}
