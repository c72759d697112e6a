package serial

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"
)

const defaultMaxDepth = 64

type failureMarker struct {
	SerializationFailed bool   `json:"serializationFailed"`
	Error               string `json:"error"`
	Timestamp           string `json:"timestamp"`
}

// Serializer converts value graphs to a JSON-safe tagged text and back.
// The zero value is not usable, construct it with New.
type Serializer struct {
	maxDepth int
	now      func() time.Time
}

// Option configures a Serializer.
type Option func(*Serializer)

// WithMaxDepth bounds how deep the walk descends before emitting an Unknown node.
func WithMaxDepth(depth int) Option {
	return func(s *Serializer) {
		s.maxDepth = depth
	}
}

// WithNow overrides the time source used to stamp fallback output.
func WithNow(now func() time.Time) Option {
	return func(s *Serializer) {
		s.now = now
	}
}

// New constructs a Serializer.
func New(opts ...Option) *Serializer {
	s := &Serializer{maxDepth: defaultMaxDepth, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxDepth <= 0 {
		s.maxDepth = defaultMaxDepth
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

var std = New()

// Serialize encodes v with the default Serializer.
func Serialize(v any) string {
	return std.Serialize(v)
}

// Deserialize decodes text with the default Serializer.
func Deserialize(text string) any {
	return std.Deserialize(text)
}

// Serialize encodes v. It never fails: when the graph cannot be encoded the
// result is a fallback marker carrying the error, detectable with IsFailure.
func (s *Serializer) Serialize(v any) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = s.failure(fmt.Sprint(r))
		}
	}()

	enc := newEncoder(s.maxDepth)
	node := enc.walk(reflect.ValueOf(v), 0)
	data, err := json.Marshal(node)
	if err != nil {
		return s.failure(err.Error())
	}

	return string(data)
}

// Deserialize decodes text produced by Serialize. Malformed input yields nil;
// fallback output yields a *Failure. Numbers decode as float64, except
// integers beyond 2^53 which keep their exact value as int64 or uint64.
func (s *Serializer) Deserialize(text string) any {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil
	}
	if failure, ok := asFailure(raw); ok {
		return failure
	}

	graph := decoder{refs: make(map[int]any)}

	return graph.decode(raw)
}

// IsFailure reports whether text is a fallback marker rather than an encoded value.
func IsFailure(text string) bool {
	var marker failureMarker
	if err := json.Unmarshal([]byte(text), &marker); err != nil {
		return false
	}

	return marker.SerializationFailed
}

func (s *Serializer) failure(msg string) string {
	data, err := json.Marshal(failureMarker{
		SerializationFailed: true,
		Error:               msg,
		Timestamp:           s.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return `{"serializationFailed":true}`
	}

	return string(data)
}

func asFailure(raw any) (*Failure, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	if failed, _ := m["serializationFailed"].(bool); !failed {
		return nil, false
	}
	out := &Failure{Message: stringField(m, "error")}
	if ts, err := time.Parse(time.RFC3339Nano, stringField(m, "timestamp")); err == nil {
		out.Timestamp = ts
	}

	return out, true
}
