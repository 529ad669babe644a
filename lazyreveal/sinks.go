package lazyreveal

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hazyhaar/lazyreveal/lazyreveal/internal/sink"
)

// Sink is the output interface for runner events.
type Sink = sink.Sink

// EventFunc is called for each event by a callback sink.
type EventFunc = sink.Func

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process callback sink.
func NewCallbackSink(fn EventFunc) Sink {
	return sink.NewCallback(fn)
}

// NewSQLiteSink appends events to the reveal_events table of db.
func NewSQLiteSink(db *sql.DB) Sink {
	return sink.NewSQLite(db)
}

// SinksFromConfig builds the sinks listed in cfg. A sqlite sink needs db.
func SinksFromConfig(cfgs []SinkConfig, db *sql.DB, logger *slog.Logger) ([]Sink, error) {
	var out []Sink
	for i, sc := range cfgs {
		switch sc.Type {
		case "stdout", "":
			out = append(out, NewStdoutSink(os.Stdout))
		case "webhook":
			if sc.URL == "" {
				return nil, fmt.Errorf("lazyreveal: sink %d: webhook needs url", i)
			}
			out = append(out, NewWebhookSink(sc.URL, logger))
		case "sqlite":
			if db == nil {
				return nil, fmt.Errorf("lazyreveal: sink %d: sqlite needs db", i)
			}
			out = append(out, NewSQLiteSink(db))
		default:
			return nil, fmt.Errorf("lazyreveal: sink %d: unknown type %q", i, sc.Type)
		}
	}
	return out, nil
}

// EventsSchema creates the reveal_events table written by the SQLite sink.
const EventsSchema = sink.EventsSchema
