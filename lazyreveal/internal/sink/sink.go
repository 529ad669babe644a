// Package sink defines output backends for lazyreveal events.
package sink

import (
	"context"

	"github.com/hazyhaar/lazyreveal/lazyreveal/event"
)

// Sink is the output interface. Implementations deliver events to different
// backends (stdout, webhook, SQLite, in-process callback).
type Sink interface {
	Send(ctx context.Context, ev event.Event) error
	Close() error
}
