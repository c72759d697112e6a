package beacon

import (
	"net/http"

	"github.com/velmie/beacon/serial"
)

// AgentConfig defines the collaborators an Agent is built from.
type AgentConfig struct {
	Settings          *Settings
	Sender            Sender
	HTTPClient        *http.Client
	DurableBuffer     DurableBuffer
	Scheduler         Scheduler
	Clock             Clock
	Logger            Logger
	Metrics           Metrics
	FailureClassifier FailureClassifier
	Serializer        *serial.Serializer
}

func (c AgentConfig) withDefaults() AgentConfig {
	if c.Settings == nil {
		c.Settings = NewSettings()
	}
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
	if c.Serializer == nil {
		c.Serializer = serial.New()
	}
	if c.Sender == nil {
		c.Sender = &HTTPTransport{
			Settings:   c.Settings,
			Client:     c.HTTPClient,
			Clock:      c.Clock,
			Serializer: c.Serializer,
		}
	}

	return c
}

// AgentOption configures an Agent.
type AgentOption func(*AgentConfig)

// WithSettings shares an existing policy holder with the agent.
func WithSettings(settings *Settings) AgentOption {
	return func(c *AgentConfig) {
		c.Settings = settings
	}
}

// WithSender replaces the HTTP transport.
func WithSender(sender Sender) AgentOption {
	return func(c *AgentConfig) {
		c.Sender = sender
	}
}

// WithHTTPClient sets the client used by the default HTTP transport.
func WithHTTPClient(client *http.Client) AgentOption {
	return func(c *AgentConfig) {
		c.HTTPClient = client
	}
}

// WithDurableBuffer sets the buffer used when UsePersistentBuffer is on.
func WithDurableBuffer(buffer DurableBuffer) AgentOption {
	return func(c *AgentConfig) {
		c.DurableBuffer = buffer
	}
}

// WithScheduler sets the timer source for batch and retry timers.
func WithScheduler(scheduler Scheduler) AgentOption {
	return func(c *AgentConfig) {
		c.Scheduler = scheduler
	}
}

// WithClock sets the agent clock.
func WithClock(clock Clock) AgentOption {
	return func(c *AgentConfig) {
		c.Clock = clock
	}
}

// WithLogger sets the agent logger.
func WithLogger(logger Logger) AgentOption {
	return func(c *AgentConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the agent metrics recorder.
func WithMetrics(metrics Metrics) AgentOption {
	return func(c *AgentConfig) {
		c.Metrics = metrics
	}
}

// WithFailureClassifier sets the retry/drop decision for failed sends.
func WithFailureClassifier(classifier FailureClassifier) AgentOption {
	return func(c *AgentConfig) {
		c.FailureClassifier = classifier
	}
}

// WithSerializer sets the serializer used for encrypted payloads and
// request bodies.
func WithSerializer(serializer *serial.Serializer) AgentOption {
	return func(c *AgentConfig) {
		c.Serializer = serializer
	}
}
