package beacon

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/velmie/beacon/serial"
)

const maxDrainBytes = 64 << 10

type envelope struct {
	SentAt time.Time `json:"sentAt"`
	Items  []Item    `json:"items"`
}

// HTTPTransport posts batches to the configured endpoint. Zero-value fields
// fall back to http.DefaultClient, SystemClock and the default serializer.
type HTTPTransport struct {
	Settings   *Settings
	Client     *http.Client
	Clock      Clock
	Serializer *serial.Serializer
}

// NewHTTPTransport returns a transport reading its policy from settings.
func NewHTTPTransport(settings *Settings, client *http.Client) *HTTPTransport {
	return &HTTPTransport{Settings: settings, Client: client}
}

// Send implements Sender. It makes exactly one request.
func (t *HTTPTransport) Send(ctx context.Context, items []Item) error {
	if t.Settings == nil {
		return ErrEndpointRequired
	}
	cfg := t.Settings.Snapshot()
	if cfg.Endpoint == "" {
		return ErrEndpointRequired
	}

	body, err := t.encode(cfg, items)
	if err != nil {
		return err
	}

	if cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("beacon: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range cfg.Headers {
		req.Header.Set(name, value)
	}

	resp, err := t.client().Do(req)
	if err != nil {
		return fmt.Errorf("beacon: post batch: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{StatusCode: resp.StatusCode, Status: statusText(resp)}
	}

	return nil
}

func (t *HTTPTransport) encode(cfg Config, items []Item) ([]byte, error) {
	serializer := t.Serializer
	if serializer == nil {
		serializer = serial.New()
	}
	clock := t.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	body := []byte(serializer.Serialize(envelope{SentAt: clock.Now(), Items: items}))
	if cfg.Encrypt == nil {
		return body, nil
	}

	sealed, err := cfg.Encrypt(body)
	if err != nil {
		return nil, fmt.Errorf("beacon: encrypt body: %w", err)
	}

	return sealed, nil
}

func (t *HTTPTransport) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}

	return http.DefaultClient
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		return http.StatusText(resp.StatusCode)
	}

	return text
}
