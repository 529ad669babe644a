package reveal

import (
	"errors"
	"fmt"
)

var (
	// ErrNoObserver is returned by Destroy when no batch was ever created.
	ErrNoObserver = errors.New("reveal: no observer to destroy")
	// ErrClosed is returned when a batch operation runs on a destroyed batch.
	ErrClosed = errors.New("reveal: batch closed")
)

// ConfigError reports an invalid root, margin or threshold.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("reveal: config %s=%v: %s", e.Field, e.Value, e.Reason)
}

// SelectorError reports a missing, invalid or unmatched selector.
type SelectorError struct {
	Selector string
	Reason   string
	Err      error
}

func (e *SelectorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reveal: selector %q: %s: %v", e.Selector, e.Reason, e.Err)
	}
	return fmt.Sprintf("reveal: selector %q: %s", e.Selector, e.Reason)
}

func (e *SelectorError) Unwrap() error { return e.Err }

// TypeError reports a payload or callback of the wrong type. Index is -1
// when the whole value is wrong rather than one entry of a list.
type TypeError struct {
	Field string
	Index int
	Got   string
}

func (e *TypeError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("reveal: %s[%d]: expected string, got %s", e.Field, e.Index, e.Got)
	}
	return fmt.Sprintf("reveal: %s: unexpected %s", e.Field, e.Got)
}
