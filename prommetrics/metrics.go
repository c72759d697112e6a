// Package prommetrics implements beacon.Metrics with Prometheus collectors.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/velmie/beacon"
)

const defaultNamespace = "beacon"

// Options configures the recorder.
type Options struct {
	// Namespace prefixes every metric name. Defaults to "beacon".
	Namespace string
	// Registerer receives the collectors. Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Buckets overrides the send-duration histogram buckets, in seconds.
	Buckets []float64
}

// Recorder implements beacon.Metrics.
type Recorder struct {
	sendDuration prometheus.Histogram
	delivered    prometheus.Counter
	failed       prometheus.Counter
	retries      prometheus.Counter
	dropped      *prometheus.CounterVec
	queued       prometheus.Gauge
	retrying     prometheus.Gauge
}

var _ beacon.Metrics = (*Recorder)(nil)

// New registers the beacon collectors. It panics if they are already
// registered with the same Registerer, like promauto.
func New(opts Options) *Recorder {
	if opts.Namespace == "" {
		opts.Namespace = defaultNamespace
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if len(opts.Buckets) == 0 {
		opts.Buckets = prometheus.ExponentialBuckets(0.005, 2, 12) // 5ms to ~10s
	}
	factory := promauto.With(opts.Registerer)

	return &Recorder{
		sendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      "send_duration_seconds",
			Help:      "Duration of one transport attempt in seconds",
			Buckets:   opts.Buckets,
		}),
		delivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "items_delivered_total",
			Help:      "Items accepted by the collector",
		}),
		failed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "items_failed_total",
			Help:      "Items whose transport attempt failed",
		}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "items_retried_total",
			Help:      "Items scheduled for another attempt",
		}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "items_dropped_total",
			Help:      "Items discarded by reason",
		}, []string{"reason"}),
		queued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: opts.Namespace,
			Name:      "queue_length",
			Help:      "Items waiting in the in-memory batch queue",
		}),
		retrying: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: opts.Namespace,
			Name:      "retry_ledger_entries",
			Help:      "Batches waiting in the in-memory retry ledger",
		}),
	}
}

// ObserveSendDuration implements beacon.Metrics.
func (r *Recorder) ObserveSendDuration(duration time.Duration) {
	r.sendDuration.Observe(duration.Seconds())
}

// AddDelivered implements beacon.Metrics.
func (r *Recorder) AddDelivered(count int) {
	addCount(r.delivered, count)
}

// AddFailed implements beacon.Metrics.
func (r *Recorder) AddFailed(count int) {
	addCount(r.failed, count)
}

// AddRetries implements beacon.Metrics.
func (r *Recorder) AddRetries(count int) {
	addCount(r.retries, count)
}

// AddDropped implements beacon.Metrics.
func (r *Recorder) AddDropped(reason beacon.DropReason, count int) {
	addCount(r.dropped.WithLabelValues(string(reason)), count)
}

// SetQueued implements beacon.Metrics.
func (r *Recorder) SetQueued(count int) {
	r.queued.Set(float64(count))
}

// SetRetrying implements beacon.Metrics.
func (r *Recorder) SetRetrying(count int) {
	r.retrying.Set(float64(count))
}

// counters panic on negative adds
func addCount(c prometheus.Counter, count int) {
	if count > 0 {
		c.Add(float64(count))
	}
}
