package beacon

import (
	"fmt"
	"time"
)

// Kind identifies what a queued item carries.
type Kind string

const (
	// KindError is a captured error report.
	KindError Kind = "error"
	// KindBreadcrumbs is a batch of breadcrumbs.
	KindBreadcrumbs Kind = "breadcrumbs"
)

// Item is one unit of telemetry waiting for delivery. Items are not
// modified after they are queued.
type Item struct {
	Kind      Kind      `json:"kind"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks the item kind.
func (i Item) Validate() error {
	switch i.Kind {
	case KindError, KindBreadcrumbs:
		return nil
	case "":
		return fmt.Errorf("%w: kind is required", ErrInvalidItem)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidItem, i.Kind)
	}
}
