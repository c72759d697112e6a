package beacon

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type agentHarness struct {
	agent   *Agent
	timers  *fakeTimers
	sender  *fakeSender
	durable *fakeDurable
	metrics *recordingMetrics
	logger  *recordingLogger
}

func newAgentHarness(t *testing.T, cfg Config, opts ...AgentOption) *agentHarness {
	t.Helper()

	h := &agentHarness{
		timers:  newFakeTimers(),
		sender:  &fakeSender{},
		metrics: newRecordingMetrics(),
		logger:  &recordingLogger{},
	}
	h.durable = newFakeDurable(h.timers)
	base := []AgentOption{
		WithClock(h.timers),
		WithScheduler(h.timers),
		WithSender(h.sender),
		WithDurableBuffer(h.durable),
		WithMetrics(h.metrics),
		WithLogger(h.logger),
	}
	h.agent = NewAgent(append(base, opts...)...)

	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://collector.example/ingest"
	}
	if err := h.agent.Configure(cfg); err != nil {
		t.Fatalf("configure: %v", err)
	}

	return h
}

func TestAgentBatchesTwoErrorsIntoOneSend(t *testing.T) {
	h := newAgentHarness(t, Config{BatchSize: 2})
	ctx := context.Background()

	h.agent.SubmitError(ctx, map[string]any{"message": "first"}, nil)
	h.agent.SubmitError(ctx, map[string]any{"message": "second"}, nil)

	if h.sender.Calls() != 1 {
		t.Fatalf("expected one send, got %d", h.sender.Calls())
	}
	batch := h.sender.Batch(0)
	if len(batch) != 2 {
		t.Fatalf("expected 2 items, got %d", len(batch))
	}
	for i, want := range []string{"first", "second"} {
		if batch[i].Kind != KindError {
			t.Fatalf("item %d: expected error kind, got %q", i, batch[i].Kind)
		}
		if got := batch[i].Payload.(map[string]any)["message"]; got != want {
			t.Fatalf("item %d: expected %q, got %v", i, want, got)
		}
	}
	if stats := h.agent.Stats(ctx); stats.Queued != 0 || stats.Retrying != 0 {
		t.Fatalf("expected empty queue and ledger, got %+v", stats)
	}
}

func TestAgentSubmitErrorMergesContext(t *testing.T) {
	h := newAgentHarness(t, Config{BatchSize: 1})

	h.agent.SubmitError(context.Background(),
		map[string]any{"message": "boom", "url": "/a"},
		map[string]any{"url": "/b", "user": "u1"},
	)

	payload := h.sender.Batch(0)[0].Payload.(map[string]any)
	want := map[string]any{"message": "boom", "url": "/b", "user": "u1"}
	if len(payload) != len(want) {
		t.Fatalf("expected %v, got %v", want, payload)
	}
	for k, v := range want {
		if payload[k] != v {
			t.Fatalf("key %q: expected %v, got %v", k, v, payload[k])
		}
	}
}

func TestAgentDisabledIgnoresSubmissions(t *testing.T) {
	sender := &fakeSender{}
	logger := &recordingLogger{}
	agent := NewAgent(WithSender(sender), WithLogger(logger), WithScheduler(newFakeTimers()))

	agent.SubmitError(context.Background(), map[string]any{"message": "x"}, nil)
	agent.SubmitBreadcrumbs(context.Background(), []any{"crumb"})
	agent.Flush(context.Background())

	if sender.Calls() != 0 {
		t.Fatalf("expected no sends while disabled")
	}
	if agent.Stats(context.Background()).Queued != 0 {
		t.Fatalf("expected nothing queued while disabled")
	}
	if len(logger.Warns()) != 1 {
		t.Fatalf("expected one warning for the ignored error, got %v", logger.Warns())
	}
}

func TestAgentConfigureRejectsInvalidEndpoint(t *testing.T) {
	logger := &recordingLogger{}
	agent := NewAgent(WithSender(&fakeSender{}), WithLogger(logger))

	err := agent.Configure(Config{Endpoint: "not a url"})
	if !errors.Is(err, ErrEndpointInvalid) {
		t.Fatalf("expected ErrEndpointInvalid, got %v", err)
	}
	if agent.Enabled() {
		t.Fatalf("expected agent to stay disabled")
	}
	if len(logger.Errors()) != 1 {
		t.Fatalf("expected configuration error to be logged")
	}
}

func TestAgentBreadcrumbsNeedBatchTimeout(t *testing.T) {
	ctx := context.Background()

	h := newAgentHarness(t, Config{BatchSize: 1})
	h.agent.SubmitBreadcrumbs(ctx, []any{"click"})
	if h.sender.Calls() != 0 {
		t.Fatalf("expected breadcrumbs to be ignored without a batch timeout")
	}

	h = newAgentHarness(t, Config{BatchSize: 1, BatchTimeout: time.Second})
	h.agent.SubmitBreadcrumbs(ctx, nil)
	if h.sender.Calls() != 0 {
		t.Fatalf("expected empty breadcrumb batch to be ignored")
	}
	h.agent.SubmitBreadcrumbs(ctx, []any{"click", "scroll"})
	if h.sender.Calls() != 1 {
		t.Fatalf("expected breadcrumbs to be sent")
	}
	item := h.sender.Batch(0)[0]
	if item.Kind != KindBreadcrumbs || len(item.Payload.([]any)) != 2 {
		t.Fatalf("unexpected breadcrumb item %+v", item)
	}
}

func TestAgentBreadcrumbBatchIsCopied(t *testing.T) {
	h := newAgentHarness(t, Config{BatchSize: 2, BatchTimeout: time.Second})
	ctx := context.Background()

	crumbs := []any{"click", "scroll"}
	h.agent.SubmitBreadcrumbs(ctx, crumbs)
	crumbs[0] = "reused"
	h.agent.Flush(ctx)

	if h.sender.Calls() != 1 {
		t.Fatalf("expected one send, got %d", h.sender.Calls())
	}
	payload := h.sender.Batch(0)[0].Payload.([]any)
	if payload[0] != "click" {
		t.Fatalf("expected queued breadcrumbs to be unaffected by the caller, got %v", payload)
	}
}

func TestAgentTimeoutFlush(t *testing.T) {
	h := newAgentHarness(t, Config{BatchSize: 10, BatchTimeout: 2 * time.Second})

	h.agent.SubmitError(context.Background(), map[string]any{"message": "x"}, nil)
	h.timers.Advance(2 * time.Second)

	if h.sender.Calls() != 1 {
		t.Fatalf("expected timeout flush, got %d sends", h.sender.Calls())
	}
}

func TestAgentFailedFlushGoesToLedgerAndDurable(t *testing.T) {
	h := newAgentHarness(t, Config{BatchSize: 1, UsePersistentBuffer: true})
	h.sender.errs = []error{&TransportError{StatusCode: 500, Status: "Internal Server Error"}}
	ctx := context.Background()

	h.agent.SubmitError(ctx, map[string]any{"message": "x"}, nil)

	stats := h.agent.Stats(ctx)
	if stats.Retrying != 1 {
		t.Fatalf("expected one ledger entry, got %d", stats.Retrying)
	}
	if stats.Durable == nil || stats.Durable.Total != 1 {
		t.Fatalf("expected one durable record, got %+v", stats.Durable)
	}
	entry := h.agent.ledger.Entries()[0]
	if entry.Attempt != 1 || entry.DurableID.IsZero() {
		t.Fatalf("unexpected ledger entry %+v", entry)
	}
	if !entry.NextAttemptAt.Equal(h.timers.Now().Add(time.Second)) {
		t.Fatalf("expected retry after the base delay")
	}

	h.timers.Advance(time.Second)

	if h.sender.Calls() != 2 {
		t.Fatalf("expected the retry to be sent, got %d sends", h.sender.Calls())
	}
	stats = h.agent.Stats(ctx)
	if stats.Retrying != 0 || stats.Durable.Total != 0 {
		t.Fatalf("expected ledger and durable buffer to be empty, got %+v / %+v", stats, stats.Durable)
	}
}

func TestAgentRetryExhaustionRemovesDurableRecord(t *testing.T) {
	h := newAgentHarness(t, Config{BatchSize: 1, MaxRetries: 3, UsePersistentBuffer: true})
	h.sender.fallback = errSendFailed

	h.agent.SubmitError(context.Background(), map[string]any{"message": "x"}, nil)
	id := h.agent.ledger.Entries()[0].DurableID

	h.timers.Advance(time.Second)
	if got := h.durable.Attempt(id); got != 1 {
		t.Fatalf("expected durable attempt 1, got %d", got)
	}
	h.timers.Advance(2 * time.Second)
	h.timers.Advance(4 * time.Second)

	if h.sender.Calls() != 4 {
		t.Fatalf("expected initial send plus 3 retries, got %d", h.sender.Calls())
	}
	if h.agent.ledger.Size() != 0 || h.durable.Len() != 0 {
		t.Fatalf("expected ledger and durable buffer to be empty")
	}
	if h.metrics.Dropped(ReasonRetryExhausted) != 1 {
		t.Fatalf("expected exhausted drop to be counted")
	}
}

func TestAgentWithoutPersistentBufferSkipsDurable(t *testing.T) {
	h := newAgentHarness(t, Config{BatchSize: 1})
	h.sender.errs = []error{errSendFailed}

	h.agent.SubmitError(context.Background(), map[string]any{"message": "x"}, nil)

	if h.durable.Len() != 0 {
		t.Fatalf("expected durable buffer to be untouched")
	}
	if h.agent.ledger.Size() != 1 {
		t.Fatalf("expected in-memory retry")
	}
	if h.agent.Stats(context.Background()).Durable != nil {
		t.Fatalf("expected no durable stats when the buffer is off")
	}
}

func TestAgentDisableClearsMemoryKeepsDurable(t *testing.T) {
	h := newAgentHarness(t, Config{BatchSize: 2, BatchTimeout: time.Second, UsePersistentBuffer: true})
	ctx := context.Background()
	h.sender.errs = []error{errSendFailed}

	h.agent.SubmitError(ctx, map[string]any{"message": "a"}, nil)
	h.agent.SubmitError(ctx, map[string]any{"message": "b"}, nil)
	h.agent.SubmitError(ctx, map[string]any{"message": "c"}, nil)

	h.agent.Disable()
	h.agent.Disable()

	stats := h.agent.Stats(ctx)
	if stats.Enabled || stats.Queued != 0 || stats.Retrying != 0 {
		t.Fatalf("expected disabled agent with empty memory, got %+v", stats)
	}
	if h.durable.Len() != 1 {
		t.Fatalf("expected durable record to survive disable")
	}
	if len(h.timers.Armed()) != 0 {
		t.Fatalf("expected timers to be cancelled")
	}
	if h.metrics.Dropped(ReasonDisabled) != 3 {
		t.Fatalf("expected 3 items dropped on disable, got %d", h.metrics.Dropped(ReasonDisabled))
	}

	h.timers.Advance(time.Minute)
	if h.sender.Calls() != 1 {
		t.Fatalf("expected no sends after disable")
	}
}

func TestAgentEncryptsPayload(t *testing.T) {
	encrypt := func(plain []byte) ([]byte, error) {
		return []byte("sealed:" + string(plain)), nil
	}
	h := newAgentHarness(t, Config{BatchSize: 1, Encrypt: encrypt})

	h.agent.SubmitError(context.Background(), map[string]any{"message": "secret"}, nil)

	payload, ok := h.sender.Batch(0)[0].Payload.(string)
	if !ok {
		t.Fatalf("expected ciphertext string payload")
	}
	if !strings.HasPrefix(payload, "sealed:") || !strings.Contains(payload, "secret") {
		t.Fatalf("unexpected ciphertext %q", payload)
	}
}

func TestAgentEncryptFailureDropsItem(t *testing.T) {
	encrypt := func([]byte) ([]byte, error) { return nil, errors.New("no key") }
	h := newAgentHarness(t, Config{BatchSize: 1, Encrypt: encrypt})

	h.agent.SubmitError(context.Background(), map[string]any{"message": "secret"}, nil)

	if h.sender.Calls() != 0 || h.agent.Stats(context.Background()).Queued != 0 {
		t.Fatalf("expected item to be dropped")
	}
	if h.metrics.Dropped(ReasonEncryptFailed) != 1 {
		t.Fatalf("expected encrypt drop to be counted")
	}
}

func TestAgentStartReplaysDurableRecords(t *testing.T) {
	h := newAgentHarness(t, Config{UsePersistentBuffer: true})
	ctx := context.Background()
	fresh, _ := h.durable.Save(ctx, []Item{errorItem("old")})
	spent, _ := h.durable.Save(ctx, []Item{errorItem("spent")})
	h.durable.records[spent].attempt = 3

	report := h.agent.Start(ctx)

	if report.Delivered != 1 || report.Dropped != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if h.sender.Calls() != 1 {
		t.Fatalf("expected one resend, got %d", h.sender.Calls())
	}
	if h.durable.Len() != 0 || h.durable.Attempt(fresh) != -1 {
		t.Fatalf("expected durable buffer to be drained")
	}
}

func TestAgentForceFlushSkipsRecordsHeldInMemory(t *testing.T) {
	h := newAgentHarness(t, Config{BatchSize: 5, UsePersistentBuffer: true})
	ctx := context.Background()
	h.sender.errs = []error{errSendFailed}

	h.agent.SubmitError(ctx, map[string]any{"message": "a"}, nil)
	h.agent.ForceFlush(ctx)

	if h.sender.Calls() != 1 {
		t.Fatalf("expected only the flush send, got %d", h.sender.Calls())
	}
	if h.agent.ledger.Size() != 1 || h.durable.Len() != 1 {
		t.Fatalf("expected the failed batch to wait in the ledger and durable buffer")
	}
}

func TestAgentRecoversSenderPanic(t *testing.T) {
	h := newAgentHarness(t, Config{BatchSize: 1})
	h.sender.onSend = func([]Item) { panic("transport exploded") }

	h.agent.SubmitError(context.Background(), map[string]any{"message": "x"}, nil)

	if len(h.logger.Errors()) != 1 {
		t.Fatalf("expected panic to be logged, got %v", h.logger.Errors())
	}
}

func TestAgentStatsReportsPolicy(t *testing.T) {
	h := newAgentHarness(t, Config{MaxRetries: 5, UsePersistentBuffer: true})

	stats := h.agent.Stats(context.Background())

	if !stats.Enabled || !stats.DurableEnabled || stats.MaxRetries != 5 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Durable == nil || !stats.Durable.Available {
		t.Fatalf("expected durable stats")
	}
}
