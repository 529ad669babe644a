package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Schema for the reveal_jobs table.
const Schema = `
CREATE TABLE IF NOT EXISTS reveal_jobs (
	id          TEXT PRIMARY KEY,
	page_id     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	selector    TEXT NOT NULL,
	src_target  TEXT DEFAULT '',
	attr        TEXT DEFAULT '',
	payloads    TEXT DEFAULT 'null',
	load_before REAL,
	load_after  TEXT DEFAULT 'null',
	status      TEXT DEFAULT 'active',
	updated_at  INTEGER NOT NULL
);
`

// DBJob is an active row of reveal_jobs.
type DBJob struct {
	PageID string
	Job    JobConfig
}

// LoadJobs reads every active job. Payloads and load_after are JSON and are
// decoded untyped so that validation reports wrongly typed entries.
func LoadJobs(ctx context.Context, db *sql.DB) ([]DBJob, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, page_id, kind, selector, src_target, attr,
		       payloads, load_before, load_after
		FROM reveal_jobs
		WHERE status = 'active'
		ORDER BY updated_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("config: load jobs: %w", err)
	}
	defer rows.Close()

	var jobs []DBJob
	for rows.Next() {
		var j DBJob
		var payloadsJSON, afterJSON string
		var before sql.NullFloat64
		if err := rows.Scan(&j.Job.ID, &j.PageID, &j.Job.Kind, &j.Job.Selector,
			&j.Job.SrcTarget, &j.Job.Attr, &payloadsJSON, &before, &afterJSON); err != nil {
			return nil, fmt.Errorf("config: scan job: %w", err)
		}

		var payloads any
		if err := json.Unmarshal([]byte(payloadsJSON), &payloads); err != nil {
			return nil, fmt.Errorf("config: job %s payloads: %w", j.Job.ID, err)
		}
		if j.Job.Kind == "video" {
			j.Job.Videos = payloads
		} else {
			j.Job.Images = payloads
		}
		if err := json.Unmarshal([]byte(afterJSON), &j.Job.LoadAfter); err != nil {
			return nil, fmt.Errorf("config: job %s load_after: %w", j.Job.ID, err)
		}
		if before.Valid {
			v := before.Float64
			j.Job.LoadBefore = &v
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// SaveJob inserts or replaces a job row.
func SaveJob(ctx context.Context, db *sql.DB, pageID string, j JobConfig, now int64) error {
	payloads := j.Images
	if j.Kind == "video" {
		payloads = j.Videos
	}
	payloadsJSON, err := json.Marshal(payloads)
	if err != nil {
		return fmt.Errorf("config: marshal payloads: %w", err)
	}
	afterJSON, err := json.Marshal(j.LoadAfter)
	if err != nil {
		return fmt.Errorf("config: marshal load_after: %w", err)
	}

	var before any
	if j.LoadBefore != nil {
		before = *j.LoadBefore
	}
	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO reveal_jobs (
			id, page_id, kind, selector, src_target, attr,
			payloads, load_before, load_after, status, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,'active',?)`,
		j.ID, pageID, j.Kind, j.Selector, j.SrcTarget, j.Attr,
		string(payloadsJSON), before, string(afterJSON), now)
	if err != nil {
		return fmt.Errorf("config: save job: %w", err)
	}
	return nil
}
