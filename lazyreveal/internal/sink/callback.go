package sink

import (
	"context"

	"github.com/hazyhaar/lazyreveal/lazyreveal/event"
)

// Func is called for each event (in-process, zero serialisation).
type Func func(ctx context.Context, ev event.Event) error

// Callback delivers events via a Go function call. Used when the consumer
// lives in the same binary, and by tests.
type Callback struct {
	fn Func
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn Func) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, ev event.Event) error {
	if c.fn != nil {
		return c.fn(ctx, ev)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
