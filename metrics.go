package beacon

import "time"

// Metrics captures delivery telemetry.
type Metrics interface {
	// ObserveSendDuration records how long one transport attempt took.
	ObserveSendDuration(duration time.Duration)
	// AddDelivered counts items accepted by the collector.
	AddDelivered(count int)
	// AddFailed counts items whose transport attempt failed.
	AddFailed(count int)
	// AddRetries counts items scheduled for another attempt.
	AddRetries(count int)
	// AddDropped counts items discarded for the given reason.
	AddDropped(reason DropReason, count int)
	// SetQueued reports the in-memory queue length.
	SetQueued(count int)
	// SetRetrying reports the number of entries waiting in the retry ledger.
	SetRetrying(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveSendDuration implements Metrics.
func (NopMetrics) ObserveSendDuration(time.Duration) {}

// AddDelivered implements Metrics.
func (NopMetrics) AddDelivered(int) {}

// AddFailed implements Metrics.
func (NopMetrics) AddFailed(int) {}

// AddRetries implements Metrics.
func (NopMetrics) AddRetries(int) {}

// AddDropped implements Metrics.
func (NopMetrics) AddDropped(DropReason, int) {}

// SetQueued implements Metrics.
func (NopMetrics) SetQueued(int) {}

// SetRetrying implements Metrics.
func (NopMetrics) SetRetrying(int) {}
