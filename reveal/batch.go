package reveal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Reveal describes one fired action. Skipped is set when there was nothing
// to apply (no payload, or no SrcTarget match inside the element).
type Reveal struct {
	BatchID  string
	Kind     Kind
	Selector string
	Index    int
	Payload  string
	Skipped  bool
	Err      error
}

// BatchInfo is a point-in-time view of a batch.
type BatchInfo struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Selector  string    `json:"selector"`
	Targets   int       `json:"targets"`
	Pending   int       `json:"pending"`
	CreatedAt time.Time `json:"created_at"`
	Closed    bool      `json:"closed"`
}

// action applies the reveal for target i and reports what it wrote.
type action func(i int, el Element) (payload string, skipped bool, err error)

// Batch is one batch operation: its own observer, its own targets, and a
// one-shot flag per target.
type Batch struct {
	id        string
	kind      Kind
	selector  string
	createdAt time.Time
	min       float64
	act       action
	logger    *slog.Logger
	hook      func(Reveal)
	onDone    func(*Batch)

	mu      sync.Mutex
	obs     Observer
	targets []Element
	index   map[Element]int
	fired   []bool
	pending int
	closed  bool
	done    chan struct{}
}

func newBatch(id string, kind Kind, selector string, cfg ObserverConfig, targets []Element, act action) *Batch {
	b := &Batch{
		id:        id,
		kind:      kind,
		selector:  selector,
		createdAt: time.Now(),
		min:       cfg.MinThreshold(),
		act:       act,
		targets:   targets,
		index:     make(map[Element]int, len(targets)),
		fired:     make([]bool, len(targets)),
		pending:   len(targets),
		done:      make(chan struct{}),
	}
	for i, el := range targets {
		b.index[el] = i
	}
	return b
}

// ID returns the batch identifier.
func (b *Batch) ID() string { return b.id }

// Kind returns the reveal action kind.
func (b *Batch) Kind() Kind { return b.kind }

// Selector returns the selector the batch was resolved from.
func (b *Batch) Selector() string { return b.selector }

// Done is closed once every target fired or the batch was closed.
func (b *Batch) Done() <-chan struct{} { return b.done }

// Pending returns the number of targets that have not fired yet.
func (b *Batch) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// Info returns a snapshot of the batch state.
func (b *Batch) Info() BatchInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BatchInfo{
		ID:        b.id,
		Kind:      b.kind,
		Selector:  b.selector,
		Targets:   len(b.targets),
		Pending:   b.pending,
		CreatedAt: b.createdAt,
		Closed:    b.closed,
	}
}

// Close disconnects the batch observer, releasing every subscription it
// still holds. Closing twice is a no-op.
func (b *Batch) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	obs := b.obs
	b.mu.Unlock()

	var err error
	if obs != nil {
		if derr := obs.Disconnect(); derr != nil {
			err = fmt.Errorf("reveal: disconnect batch %s: %w", b.id, derr)
		}
	}
	b.finish()
	return err
}

func (b *Batch) finish() {
	close(b.done)
	if b.onDone != nil {
		b.onDone(b)
	}
}

// handle is the Callback bound to the batch observer.
func (b *Batch) handle(entries []Entry, obs Observer) {
	for _, e := range entries {
		if !e.IsIntersecting || e.Ratio < b.min {
			continue
		}
		i, ok := b.claim(e.Target)
		if !ok {
			continue
		}

		b.fire(i)

		if err := obs.Unobserve(e.Target); err != nil {
			b.logger.Warn("reveal: unobserve failed", "batch", b.id, "index", i, "error", err)
		}
		b.settle(obs)
	}
}

// claim marks target el as fired. It reports false if el is unknown, has
// already fired, or the batch is closed.
func (b *Batch) claim(el Element) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, false
	}
	i, ok := b.index[el]
	if !ok || b.fired[i] {
		return 0, false
	}
	b.fired[i] = true
	return i, true
}

// settle decrements the pending count and completes the batch once the last
// target fired.
func (b *Batch) settle(obs Observer) {
	b.mu.Lock()
	b.pending--
	last := b.pending == 0 && !b.closed
	if last {
		b.closed = true
	}
	b.mu.Unlock()

	if !last {
		return
	}
	if err := obs.Disconnect(); err != nil {
		b.logger.Warn("reveal: disconnect completed batch", "batch", b.id, "error", err)
	}
	b.logger.Debug("reveal: batch completed", "batch", b.id, "kind", b.kind)
	b.finish()
}

// fire runs the action for target i. A panic inside the action is recovered
// here and reported as a failed Reveal.
func (b *Batch) fire(i int) {
	r := Reveal{BatchID: b.id, Kind: b.kind, Selector: b.selector, Index: i}

	func() {
		defer func() {
			if p := recover(); p != nil {
				r.Err = fmt.Errorf("reveal: %s action panicked: %v", b.kind, p)
			}
		}()
		r.Payload, r.Skipped, r.Err = b.act(i, b.targets[i])
	}()

	switch {
	case r.Err != nil:
		b.logger.Error("reveal: action failed", "batch", b.id, "kind", b.kind, "index", i, "error", r.Err)
	case r.Skipped:
		b.logger.Debug("reveal: nothing to apply", "batch", b.id, "index", i)
	default:
		b.logger.Debug("reveal: applied", "batch", b.id, "kind", b.kind, "index", i, "payload", r.Payload)
	}

	if b.hook != nil {
		b.hook(r)
	}
}
