package beacon

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var errSendFailed = errors.New("send failed")

// fakeTimers is a manual clock and scheduler. Advance fires due callbacks.
type fakeTimers struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeTimers) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

func (f *fakeTimers) Schedule(delay time.Duration, fn func()) Cancel {
	f.mu.Lock()
	defer f.mu.Unlock()

	timer := &fakeTimer{at: f.now.Add(delay), fn: fn}
	f.pending = append(f.pending, timer)

	return func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if timer.fired || timer.stopped {
			return false
		}
		timer.stopped = true

		return true
	}
}

func (f *fakeTimers) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		var due []*fakeTimer
		for _, timer := range f.pending {
			if !timer.fired && !timer.stopped && !timer.at.After(f.now) {
				timer.fired = true
				due = append(due, timer)
			}
		}
		f.mu.Unlock()
		if len(due) == 0 {
			return
		}
		sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		for _, timer := range due {
			timer.fn()
		}
	}
}

// Armed returns the deadlines of timers that can still fire.
func (f *fakeTimers) Armed() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []time.Time
	for _, timer := range f.pending {
		if !timer.fired && !timer.stopped {
			out = append(out, timer.at)
		}
	}

	return out
}

// fakeSender records batches and returns queued errors, then fallback.
type fakeSender struct {
	mu       sync.Mutex
	batches  [][]Item
	errs     []error
	fallback error
	onSend   func(items []Item)
}

func (s *fakeSender) Send(_ context.Context, items []Item) error {
	s.mu.Lock()
	s.batches = append(s.batches, items)
	var err error
	if len(s.errs) > 0 {
		err = s.errs[0]
		s.errs = s.errs[1:]
	} else {
		err = s.fallback
	}
	hook := s.onSend
	s.mu.Unlock()

	if hook != nil {
		hook(items)
	}

	return err
}

func (s *fakeSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.batches)
}

func (s *fakeSender) Batch(i int) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.batches[i]
}

// fakeDurable is an in-memory DurableBuffer.
type fakeDurable struct {
	mu       sync.Mutex
	ids      *TimeOrderedIDs
	records  map[ID]*fakeRecord
	order    []ID
	saveFail bool
}

type fakeRecord struct {
	items   []Item
	attempt int
}

func newFakeDurable(clock Clock) *fakeDurable {
	return &fakeDurable{ids: NewTimeOrderedIDs(clock), records: make(map[ID]*fakeRecord)}
}

func (d *fakeDurable) Save(_ context.Context, items []Item) (ID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.saveFail {
		return ID{}, false
	}
	id, err := d.ids.NewID()
	if err != nil {
		return ID{}, false
	}
	d.records[id] = &fakeRecord{items: items}
	d.order = append(d.order, id)

	return id, true
}

func (d *fakeDurable) Remove(_ context.Context, id ID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.records, id)
}

func (d *fakeDurable) Increment(_ context.Context, id ID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rec, ok := d.records[id]; ok {
		rec.attempt++
	}
}

func (d *fakeDurable) RetryAll(ctx context.Context, maxRetries int, resender Resender) RetryReport {
	d.mu.Lock()
	var ids []ID
	for _, id := range d.order {
		if _, ok := d.records[id]; ok {
			ids = append(ids, id)
		}
	}
	d.mu.Unlock()

	var report RetryReport
	for _, id := range ids {
		d.mu.Lock()
		rec, ok := d.records[id]
		if !ok {
			d.mu.Unlock()

			continue
		}
		items, attempt := rec.items, rec.attempt
		d.mu.Unlock()

		if attempt >= maxRetries {
			d.Remove(ctx, id)
			report.Dropped++

			continue
		}
		if checker, ok := resender.(PendingChecker); ok && checker.Pending(id) {
			report.Skipped++

			continue
		}
		report.Attempted++
		if err := resender.Resend(ctx, items, attempt+1, id); err != nil {
			d.Increment(ctx, id)
			report.Failed++

			continue
		}
		report.Delivered++
	}

	return report
}

func (d *fakeDurable) Stats(context.Context) DurableStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := DurableStats{Total: len(d.records), ByAttempt: map[int]int{}, Available: true}
	for _, rec := range d.records {
		stats.ByAttempt[rec.attempt]++
	}

	return stats
}

func (d *fakeDurable) Clear(context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.records = make(map[ID]*fakeRecord)
	d.order = nil
}

func (d *fakeDurable) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.records)
}

func (d *fakeDurable) Attempt(id ID) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rec, ok := d.records[id]; ok {
		return rec.attempt
	}

	return -1
}

// recordingMetrics keeps counters the tests assert on.
type recordingMetrics struct {
	NopMetrics

	mu        sync.Mutex
	delivered int
	failed    int
	retries   int
	dropped   map[DropReason]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{dropped: make(map[DropReason]int)}
}

func (m *recordingMetrics) AddDelivered(n int) {
	m.mu.Lock()
	m.delivered += n
	m.mu.Unlock()
}

func (m *recordingMetrics) AddFailed(n int) {
	m.mu.Lock()
	m.failed += n
	m.mu.Unlock()
}

func (m *recordingMetrics) AddRetries(n int) {
	m.mu.Lock()
	m.retries += n
	m.mu.Unlock()
}

func (m *recordingMetrics) AddDropped(reason DropReason, n int) {
	m.mu.Lock()
	m.dropped[reason] += n
	m.mu.Unlock()
}

func (m *recordingMetrics) Dropped(reason DropReason) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.dropped[reason]
}

// recordingLogger keeps messages per level.
type recordingLogger struct {
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.errors...)
}

func (l *recordingLogger) Warns() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.warns...)
}
