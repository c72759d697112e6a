package beacon

import (
	"errors"
	"fmt"
)

var (
	// ErrEndpointRequired is returned when delivery is configured without an endpoint.
	ErrEndpointRequired = errors.New("beacon endpoint is required")
	// ErrEndpointInvalid is returned when the endpoint is not an absolute http(s) URL.
	ErrEndpointInvalid = errors.New("beacon endpoint must be an absolute http or https URL")
	// ErrInvalidBatchSize is returned when the batch size is negative.
	ErrInvalidBatchSize = errors.New("beacon batch size must not be negative")
	// ErrInvalidBatchTimeout is returned when the batch timeout is negative.
	ErrInvalidBatchTimeout = errors.New("beacon batch timeout must not be negative")
	// ErrInvalidRetryPolicy is returned when retry or backoff settings are inconsistent.
	ErrInvalidRetryPolicy = errors.New("beacon retry policy is invalid")
	// ErrNotEnabled is reported when data is submitted before delivery is enabled.
	ErrNotEnabled = errors.New("beacon delivery is not enabled")
	// ErrStoreUnavailable indicates the durable store could not be opened.
	ErrStoreUnavailable = errors.New("beacon durable store is unavailable")
	// ErrRetryExhausted marks data dropped after the last permitted attempt.
	ErrRetryExhausted = errors.New("beacon retries exhausted")
	// ErrRecordNotFound is returned by stores when a record id is unknown.
	ErrRecordNotFound = errors.New("beacon record not found")
	// ErrInvalidID is returned when parsing or scanning an ID fails.
	ErrInvalidID = errors.New("beacon id is invalid")
	// ErrInvalidItem is returned when an item carries an unknown kind.
	ErrInvalidItem = errors.New("beacon item is invalid")
)

// TransportError reports a non-success response from the collector.
type TransportError struct {
	StatusCode int
	Status     string
}

// Error implements error.
func (e *TransportError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// Temporary reports whether a later attempt may succeed.
func (e *TransportError) Temporary() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == 408, e.StatusCode == 425, e.StatusCode == 429:
		return true
	default:
		return false
	}
}
