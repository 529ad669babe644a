// Package event defines the records emitted by the lazyreveal runner. Any
// consumer (webhook receiver, log pipeline, custom sink) imports this package
// to decode what was revealed, where and when.
package event

import (
	"encoding/json"
)

// Type is the kind of runner event.
type Type string

const (
	TypeReveal  Type = "reveal"  // one element revealed (or skipped)
	TypeVisible Type = "visible" // exec job fired
	TypeBatch   Type = "batch"   // batch started
	TypeError   Type = "error"   // reveal action failed
)

// Event is the unit delivered to sinks.
type Event struct {
	ID        string `json:"id"` // UUIDv7
	Type      Type   `json:"type"`
	PageID    string `json:"page_id"`
	PageURL   string `json:"page_url,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	BatchID   string `json:"batch_id"`
	Kind      string `json:"kind"` // image | video | exec
	Selector  string `json:"selector"`
	Index     int    `json:"index"`
	Payload   string `json:"payload,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
	Targets   int    `json:"targets,omitempty"` // batch events only
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// Marshal serialises an Event to JSON.
func Marshal(e *Event) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal deserialises an Event from JSON.
func Unmarshal(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
