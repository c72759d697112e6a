package beacon

import "context"

// Sender delivers one batch of items in a single attempt.
type Sender interface {
	// Send transmits items and returns an error when the attempt failed.
	Send(ctx context.Context, items []Item) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, items []Item) error

// Send implements Sender.
func (fn SenderFunc) Send(ctx context.Context, items []Item) error {
	return fn(ctx, items)
}
