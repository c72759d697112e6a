// Command beacon-bench measures agent throughput against an in-process
// collector that can fail a share of requests.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/velmie/beacon"
	"github.com/velmie/beacon/badger"
	"github.com/velmie/beacon/buffer"
	"github.com/velmie/beacon/serial"
)

const (
	defaultRecords          = 10000
	defaultProducers        = 4
	defaultBatchSize        = 50
	defaultPayloadBytes     = 256
	defaultBaseDelay        = 10 * time.Millisecond
	defaultMaxDelay         = 200 * time.Millisecond
	defaultDrainTimeout     = time.Minute
	defaultProgressInterval = 5 * time.Second
	drainPoll               = 20 * time.Millisecond
	percentileP50           = 0.50
	percentileP95           = 0.95
	percentileP99           = 0.99
	microsecondsPerSecond   = 1e6
)

var (
	errRecordsRequired = errors.New("beacon-bench: records must be positive")
	errInvalidFailRate = errors.New("beacon-bench: fail-rate must be within [0, 1)")
	errDrainTimeout    = errors.New("beacon-bench: items still pending after drain timeout")
)

type benchConfig struct {
	records          int
	producers        int
	batchSize        int
	batchTimeout     time.Duration
	payloadBytes     int
	payloadSeed      int64
	failRate         float64
	collectorDelay   time.Duration
	maxRetries       int
	baseDelay        time.Duration
	maxDelay         time.Duration
	durable          bool
	storePath        string
	drainTimeout     time.Duration
	progress         bool
	progressInterval time.Duration
	jsonOut          bool
}

type result struct {
	Records          int           `json:"records"`
	Producers        int           `json:"producers"`
	BatchSize        int           `json:"batch_size"`
	PayloadBytes     int           `json:"payload_bytes"`
	FailRate         float64       `json:"fail_rate"`
	Durable          bool          `json:"durable"`
	Delivered        int64         `json:"delivered"`
	Dropped          int64         `json:"dropped"`
	Retried          int64         `json:"retried"`
	Requests         int64         `json:"requests"`
	Rejected         int64         `json:"rejected"`
	Duration         time.Duration `json:"duration"`
	Throughput       float64       `json:"throughput_items_per_sec"`
	SendP50Ms        float64       `json:"send_p50_ms"`
	SendP95Ms        float64       `json:"send_p95_ms"`
	SendP99Ms        float64       `json:"send_p99_ms"`
	SendMaxMs        float64       `json:"send_max_ms"`
	SendMeanMs       float64       `json:"send_mean_ms"`
	SendSamples      int           `json:"send_samples"`
	DurableLeft      int           `json:"durable_left"`
	ProcessUserCPU   float64       `json:"process_user_cpu_seconds"`
	ProcessSystemCPU float64       `json:"process_system_cpu_seconds"`
	ProcessMaxRSSKB  int64         `json:"process_max_rss_kb"`
	GoTotalAlloc     uint64        `json:"go_total_alloc_bytes"`
	GoNumGC          uint32        `json:"go_num_gc"`
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	res, err := run(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := printResult(os.Stdout, res, cfg.jsonOut); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseConfig(args []string, stderr io.Writer) (benchConfig, error) {
	var cfg benchConfig

	flagSet := pflag.NewFlagSet("beacon-bench", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.IntVar(&cfg.records, "records", defaultRecords, "error reports to submit")
	flagSet.IntVar(&cfg.producers, "producers", defaultProducers, "concurrent producers")
	flagSet.IntVar(&cfg.batchSize, "batch-size", defaultBatchSize, "agent batch size")
	flagSet.DurationVar(&cfg.batchTimeout, "batch-timeout", 0, "agent batch timeout (0 flushes on size only)")
	flagSet.IntVar(&cfg.payloadBytes, "payload-bytes", defaultPayloadBytes, "message size per report")
	flagSet.Int64Var(&cfg.payloadSeed, "payload-seed", 1, "random seed for payloads and failures")
	flagSet.Float64Var(&cfg.failRate, "fail-rate", 0, "share of collector requests answered with 503")
	flagSet.DurationVar(&cfg.collectorDelay, "collector-delay", 0, "latency added by the collector")
	flagSet.IntVar(&cfg.maxRetries, "max-retries", 3, "agent retry limit")
	flagSet.DurationVar(&cfg.baseDelay, "base-delay", defaultBaseDelay, "first retry delay")
	flagSet.DurationVar(&cfg.maxDelay, "max-delay", defaultMaxDelay, "retry delay cap")
	flagSet.BoolVar(&cfg.durable, "durable", false, "back failed batches with a BadgerDB buffer")
	flagSet.StringVar(&cfg.storePath, "store", "", "BadgerDB directory (in-memory when empty)")
	flagSet.DurationVar(&cfg.drainTimeout, "drain-timeout", defaultDrainTimeout, "time to wait for retries to settle")
	flagSet.BoolVar(&cfg.progress, "progress", true, "emit progress updates to stderr")
	flagSet.DurationVar(&cfg.progressInterval, "progress-interval", defaultProgressInterval, "progress update interval")
	flagSet.BoolVar(&cfg.jsonOut, "json", false, "print JSON result")

	if err := flagSet.Parse(args); err != nil {
		return benchConfig{}, err
	}
	if cfg.records <= 0 {
		return benchConfig{}, errRecordsRequired
	}
	if cfg.failRate < 0 || cfg.failRate >= 1 {
		return benchConfig{}, errInvalidFailRate
	}
	cfg.producers = max(cfg.producers, 1)

	return cfg, nil
}

func run(ctx context.Context, cfg benchConfig) (result, error) {
	col := newCollector(cfg)
	server := httptest.NewServer(col)
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := &benchMetrics{}
	opts := []beacon.AgentOption{beacon.WithLogger(logger), beacon.WithMetrics(metrics)}

	var coord *buffer.Coordinator
	if cfg.durable {
		table, err := openBuffer(ctx, cfg)
		if err != nil {
			return result{}, err
		}
		defer table.Close()
		coord = buffer.New(table)
		opts = append(opts, beacon.WithDurableBuffer(coord))
	}

	agent := beacon.NewAgent(opts...)
	err := agent.Configure(beacon.Config{
		Endpoint:            server.URL,
		BatchSize:           cfg.batchSize,
		BatchTimeout:        cfg.batchTimeout,
		MaxRetries:          cfg.maxRetries,
		BaseDelay:           cfg.baseDelay,
		MaxDelay:            cfg.maxDelay,
		UsePersistentBuffer: cfg.durable,
	})
	if err != nil {
		return result{}, err
	}

	printer := newProgressPrinter(cfg.progress, cfg.progressInterval, os.Stderr)
	progressCtx, stopProgress := context.WithCancel(ctx)
	defer stopProgress()
	if printer.Enabled() {
		go reportProgress(progressCtx, printer, metrics, int64(cfg.records))
	}

	startUsage := readResourceUsage()
	start := time.Now()
	produce(ctx, agent, cfg)
	agent.Flush(ctx)
	drainErr := drain(ctx, agent, metrics, cfg)
	elapsed := time.Since(start)
	stopProgress()
	endUsage := readResourceUsage()

	snap := metrics.sends.Snapshot()
	res := result{
		Records:          cfg.records,
		Producers:        cfg.producers,
		BatchSize:        cfg.batchSize,
		PayloadBytes:     cfg.payloadBytes,
		FailRate:         cfg.failRate,
		Durable:          cfg.durable,
		Delivered:        metrics.delivered.Load(),
		Dropped:          metrics.dropped.Load(),
		Retried:          metrics.retried.Load(),
		Requests:         col.requests.Load(),
		Rejected:         col.rejected.Load(),
		Duration:         elapsed,
		Throughput:       float64(metrics.delivered.Load()) / elapsed.Seconds(),
		SendP50Ms:        msFloat(snap.P50),
		SendP95Ms:        msFloat(snap.P95),
		SendP99Ms:        msFloat(snap.P99),
		SendMaxMs:        msFloat(snap.Max),
		SendMeanMs:       msFloat(snap.Mean),
		SendSamples:      snap.Count,
		ProcessUserCPU:   endUsage.UserCPUSeconds - startUsage.UserCPUSeconds,
		ProcessSystemCPU: endUsage.SystemCPUSeconds - startUsage.SystemCPUSeconds,
		ProcessMaxRSSKB:  endUsage.MaxRSSKB,
		GoTotalAlloc:     endUsage.GoTotalAllocBytes - startUsage.GoTotalAllocBytes,
		GoNumGC:          endUsage.GoNumGC - startUsage.GoNumGC,
	}
	if coord != nil {
		res.DurableLeft = coord.Stats(ctx).Total
	}
	agent.Disable()

	return res, drainErr
}

func openBuffer(ctx context.Context, cfg benchConfig) (*buffer.Table, error) {
	storeCfg := badger.InMemoryConfig()
	if cfg.storePath != "" {
		storeCfg = badger.DefaultConfig(cfg.storePath)
		storeCfg.SyncWrites = false
	}
	store, err := badger.New(storeCfg)
	if err != nil {
		return nil, err
	}
	table, err := buffer.NewTable(store, nil)
	if err != nil {
		return nil, err
	}
	if err := table.Initialize(ctx); err != nil {
		return nil, err
	}

	return table, nil
}

func produce(ctx context.Context, agent *beacon.Agent, cfg benchConfig) {
	var (
		wg   sync.WaitGroup
		next atomic.Int64
	)
	for p := range cfg.producers {
		wg.Add(1)
		go func(producer int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(cfg.payloadSeed + int64(producer)))
			for {
				n := next.Add(1)
				if n > int64(cfg.records) {
					return
				}
				agent.SubmitError(ctx, map[string]any{
					"message": randomText(rng, cfg.payloadBytes),
					"seq":     n,
				}, map[string]any{"producer": producer})
			}
		}(p)
	}
	wg.Wait()
}

// drain forces retries until every item is delivered or dropped.
func drain(ctx context.Context, agent *beacon.Agent, metrics *benchMetrics, cfg benchConfig) error {
	deadline := time.Now().Add(cfg.drainTimeout)
	for {
		if metrics.settled() >= int64(cfg.records) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %d of %d settled", errDrainTimeout, metrics.settled(), cfg.records)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(drainPoll):
		}
		agent.ForceFlush(ctx)
	}
}

type collector struct {
	mu       sync.Mutex
	rng      *rand.Rand
	cfg      benchConfig
	requests atomic.Int64
	rejected atomic.Int64
	items    atomic.Int64
}

func newCollector(cfg benchConfig) *collector {
	return &collector{rng: rand.New(rand.NewSource(cfg.payloadSeed)), cfg: cfg}
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.requests.Add(1)
	if c.cfg.collectorDelay > 0 {
		time.Sleep(c.cfg.collectorDelay)
	}

	c.mu.Lock()
	fail := c.rng.Float64() < c.cfg.failRate
	c.mu.Unlock()
	if fail {
		c.rejected.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)

		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)

		return
	}
	envelope, ok := serial.Deserialize(string(body)).(map[string]any)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)

		return
	}
	items, _ := envelope["items"].([]any)
	c.items.Add(int64(len(items)))
	w.WriteHeader(http.StatusAccepted)
}

type benchMetrics struct {
	delivered atomic.Int64
	dropped   atomic.Int64
	retried   atomic.Int64
	sends     durationStats
}

var _ beacon.Metrics = (*benchMetrics)(nil)

func (m *benchMetrics) ObserveSendDuration(d time.Duration) {
	m.sends.Add(d)
}

func (m *benchMetrics) AddDelivered(n int) {
	m.delivered.Add(int64(n))
}

func (m *benchMetrics) AddRetries(n int) {
	m.retried.Add(int64(n))
}

func (m *benchMetrics) AddDropped(_ beacon.DropReason, n int) {
	m.dropped.Add(int64(n))
}

func (m *benchMetrics) AddFailed(int)   {}
func (m *benchMetrics) SetQueued(int)   {}
func (m *benchMetrics) SetRetrying(int) {}

func (m *benchMetrics) settled() int64 {
	return m.delivered.Load() + m.dropped.Load()
}

type durationStats struct {
	mu      sync.Mutex
	samples []time.Duration
}

func (s *durationStats) Add(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.samples = append(s.samples, d)
	s.mu.Unlock()
}

func (s *durationStats) Snapshot() durationSnapshot {
	s.mu.Lock()
	samples := slices.Clone(s.samples)
	s.mu.Unlock()
	if len(samples) == 0 {
		return durationSnapshot{}
	}
	slices.Sort(samples)

	return durationSnapshot{
		P50:   percentile(samples, percentileP50),
		P95:   percentile(samples, percentileP95),
		P99:   percentile(samples, percentileP99),
		Max:   samples[len(samples)-1],
		Mean:  meanDuration(samples),
		Count: len(samples),
	}
}

type durationSnapshot struct {
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(samples)))) - 1
	idx = min(max(idx, 0), len(samples)-1)

	return samples[idx]
}

func meanDuration(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}

	return sum / time.Duration(len(samples))
}

type resourceUsage struct {
	UserCPUSeconds    float64
	SystemCPUSeconds  float64
	MaxRSSKB          int64
	GoTotalAllocBytes uint64
	GoNumGC           uint32
}

func readResourceUsage() resourceUsage {
	var usage resourceUsage

	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err == nil {
		usage.UserCPUSeconds = float64(ru.Utime.Sec) + float64(ru.Utime.Usec)/microsecondsPerSecond
		usage.SystemCPUSeconds = float64(ru.Stime.Sec) + float64(ru.Stime.Usec)/microsecondsPerSecond
		usage.MaxRSSKB = ru.Maxrss
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	usage.GoTotalAllocBytes = ms.TotalAlloc
	usage.GoNumGC = ms.NumGC

	return usage
}

func randomText(rng *rand.Rand, size int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789 "
	var b strings.Builder
	b.Grow(size)
	for range size {
		b.WriteByte(alphabet[rng.Intn(len(alphabet))])
	}

	return b.String()
}

func msFloat(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type progressPrinter struct {
	mu       sync.Mutex
	out      io.Writer
	enabled  bool
	interval time.Duration
	lastLen  int
}

func newProgressPrinter(enabled bool, interval time.Duration, out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, enabled: enabled, interval: interval}
}

func (p *progressPrinter) Enabled() bool {
	return p.enabled && p.interval > 0
}

func (p *progressPrinter) Print(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	padding := ""
	if p.lastLen > len(line) {
		padding = strings.Repeat(" ", p.lastLen-len(line))
	}
	fmt.Fprintf(p.out, "\r%s%s", line, padding)
	p.lastLen = len(line)
}

func reportProgress(ctx context.Context, printer *progressPrinter, metrics *benchMetrics, target int64) {
	ticker := time.NewTicker(printer.interval)
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			settled := metrics.settled()
			rate := float64(metrics.delivered.Load()) / time.Since(start).Seconds()
			printer.Print(fmt.Sprintf("settled %d/%d delivered=%d dropped=%d rate=%.0f/s",
				settled, target, metrics.delivered.Load(), metrics.dropped.Load(), rate))
		}
	}
}

func printResult(w io.Writer, res result, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(res)
	}

	fmt.Fprintf(w, "records=%d producers=%d batch_size=%d payload_bytes=%d fail_rate=%.2f durable=%t\n",
		res.Records, res.Producers, res.BatchSize, res.PayloadBytes, res.FailRate, res.Durable)
	fmt.Fprintf(w, "delivered=%d dropped=%d retried=%d requests=%d rejected=%d durable_left=%d\n",
		res.Delivered, res.Dropped, res.Retried, res.Requests, res.Rejected, res.DurableLeft)
	fmt.Fprintf(w, "duration=%s throughput=%.0f items/s\n", res.Duration.Round(time.Millisecond), res.Throughput)
	fmt.Fprintf(w, "send p50=%.2fms p95=%.2fms p99=%.2fms max=%.2fms mean=%.2fms samples=%d\n",
		res.SendP50Ms, res.SendP95Ms, res.SendP99Ms, res.SendMaxMs, res.SendMeanMs, res.SendSamples)
	fmt.Fprintf(w, "cpu user=%.2fs sys=%.2fs max_rss=%dKB alloc=%dB gc=%d\n",
		res.ProcessUserCPU, res.ProcessSystemCPU, res.ProcessMaxRSSKB, res.GoTotalAlloc, res.GoNumGC)

	return nil
}
