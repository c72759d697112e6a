package beacon

import "time"

// Clock abstracts time for deterministic tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SystemClock uses the system time in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Cancel stops a scheduled callback. It reports whether the callback was
// stopped before it ran and is safe to call more than once.
type Cancel func() bool

// Scheduler runs callbacks after a delay. The queue and the retry ledger
// arm at most one callback each through it.
type Scheduler interface {
	// Schedule runs fn once after delay and returns a handle that cancels it.
	Schedule(delay time.Duration, fn func()) Cancel
}

// TimerScheduler schedules callbacks on runtime timers.
type TimerScheduler struct{}

// Schedule implements Scheduler.
func (TimerScheduler) Schedule(delay time.Duration, fn func()) Cancel {
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, fn)

	return timer.Stop
}
