package beacon

import (
	"fmt"
	"maps"
	"net/url"
	"sync"
	"time"
)

const (
	defaultBatchSize      = 10
	defaultMaxRetries     = 3
	defaultBaseDelay      = time.Second
	defaultMaxDelay       = 30 * time.Second
	defaultRequestTimeout = 10 * time.Second
)

// EncryptFunc transforms outgoing bytes before they leave the process.
// It is supplied by the caller and trusted: its errors are not retried.
type EncryptFunc func(plaintext []byte) ([]byte, error)

// Config is the delivery policy.
type Config struct {
	// Endpoint is the collector URL. Delivery stays disabled without it.
	Endpoint string
	// Headers are added to every request after Content-Type.
	Headers map[string]string
	// BatchSize flushes the queue once it holds this many items.
	BatchSize int
	// BatchTimeout flushes a non-empty queue after this delay. Zero means
	// only size-triggered flushes happen and breadcrumbs are not forwarded.
	BatchTimeout time.Duration
	// MaxRetries bounds how many times a failed batch is re-sent.
	MaxRetries int
	// BaseDelay is the backoff before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// UsePersistentBuffer keeps failed batches in the durable store.
	UsePersistentBuffer bool
	// Encrypt, when set, seals payloads and request bodies.
	Encrypt EncryptFunc
	// RequestTimeout bounds a single transport attempt.
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.Headers != nil {
		c.Headers = maps.Clone(c.Headers)
	}

	return c
}

// Validate checks the policy. Zero values are allowed and replaced by defaults.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return ErrEndpointRequired
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrEndpointInvalid, c.Endpoint)
	}
	if c.BatchSize < 0 {
		return ErrInvalidBatchSize
	}
	if c.BatchTimeout < 0 {
		return ErrInvalidBatchTimeout
	}
	if c.MaxRetries < 0 || c.BaseDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("%w: negative values", ErrInvalidRetryPolicy)
	}
	if c.BaseDelay > 0 && c.MaxDelay > 0 && c.BaseDelay > c.MaxDelay {
		return fmt.Errorf("%w: base delay %s exceeds max delay %s", ErrInvalidRetryPolicy, c.BaseDelay, c.MaxDelay)
	}

	return nil
}

// ForwardBreadcrumbs reports whether breadcrumb batches are queued at all.
func (c Config) ForwardBreadcrumbs() bool {
	return c.BatchTimeout > 0
}

// Settings holds the process-wide delivery policy. Components keep a
// pointer to it, so a later Apply is visible to all of them.
type Settings struct {
	mu      sync.RWMutex
	cfg     Config
	enabled bool
}

// NewSettings returns disabled settings with default limits and no endpoint.
func NewSettings() *Settings {
	return &Settings{cfg: Config{}.withDefaults()}
}

// Apply validates cfg and makes it current. On error the previous policy is
// kept and delivery is disabled.
func (s *Settings) Apply(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		s.mu.Lock()
		s.enabled = false
		s.mu.Unlock()

		return err
	}

	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.enabled = true
	s.mu.Unlock()

	return nil
}

// Snapshot returns the current policy. The Headers map is shared and must
// not be modified.
func (s *Settings) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cfg
}

// Enabled reports whether delivery is active.
func (s *Settings) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.enabled
}

// Disable turns delivery off and reports whether it was on.
func (s *Settings) Disable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	was := s.enabled
	s.enabled = false

	return was
}
