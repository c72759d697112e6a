package beacon

import (
	"context"
	"errors"
)

// FailureAction defines how a failed delivery should be handled.
type FailureAction int

const (
	// FailureRetry keeps the items for another attempt.
	FailureRetry FailureAction = iota
	// FailureDrop discards the items without further attempts.
	FailureDrop
)

// FailureClassifier decides whether a failed delivery is retried.
type FailureClassifier func(ctx context.Context, items []Item, err error) FailureAction

func defaultFailureClassifier(context.Context, []Item, error) FailureAction {
	return FailureRetry
}

// RetryTemporary retries network failures and transient HTTP statuses and
// drops batches the collector rejected outright (4xx other than 408, 425, 429).
func RetryTemporary(_ context.Context, _ []Item, err error) FailureAction {
	var transportErr *TransportError
	if errors.As(err, &transportErr) && !transportErr.Temporary() {
		return FailureDrop
	}

	return FailureRetry
}
