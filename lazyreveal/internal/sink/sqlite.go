package sink

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/lazyreveal/lazyreveal/event"
)

// EventsSchema is the reveal_events table written by the SQLite sink.
const EventsSchema = `
CREATE TABLE IF NOT EXISTS reveal_events (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	page_id    TEXT NOT NULL,
	page_url   TEXT DEFAULT '',
	job_id     TEXT DEFAULT '',
	batch_id   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	selector   TEXT NOT NULL,
	idx        INTEGER NOT NULL,
	payload    TEXT DEFAULT '',
	skipped    INTEGER DEFAULT 0,
	error      TEXT DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reveal_events_page ON reveal_events(page_id, created_at);
`

// SQLite appends events to the reveal_events table. The caller owns db and
// must have applied EventsSchema.
type SQLite struct {
	db *sql.DB
}

// NewSQLite creates a SQLite sink.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Send(ctx context.Context, ev event.Event) error {
	skipped := 0
	if ev.Skipped {
		skipped = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reveal_events (
			id, type, page_id, page_url, job_id, batch_id, kind,
			selector, idx, payload, skipped, error, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ev.ID, string(ev.Type), ev.PageID, ev.PageURL, ev.JobID, ev.BatchID, ev.Kind,
		ev.Selector, ev.Index, ev.Payload, skipped, ev.Error, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("sqlite sink: insert: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error { return nil }
