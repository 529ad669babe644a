package reveal

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Controller holds the shared observer configuration and every outstanding
// batch. Each batch owns its observer; a new batch never orphans an older
// one, and Destroy tears all of them down.
type Controller struct {
	doc     Document
	factory ObserverFactory
	logger  *slog.Logger
	hook    func(Reveal)
	newID   func() string

	mu      sync.Mutex
	cfg     ObserverConfig
	batches []*Batch
	started bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithHook registers a function called after every fired action, from the
// goroutine delivering the visibility entries.
func WithHook(fn func(Reveal)) Option {
	return func(c *Controller) { c.hook = fn }
}

// WithIDGenerator overrides batch ID generation. Default: UUIDv7.
func WithIDGenerator(gen func() string) Option {
	return func(c *Controller) { c.newID = gen }
}

// New creates a Controller with the default configuration.
func New(doc Document, factory ObserverFactory, opts ...Option) *Controller {
	c := &Controller{
		doc:     doc,
		factory: factory,
		logger:  slog.Default(),
		newID:   func() string { return uuid.Must(uuid.NewV7()).String() },
		cfg:     DefaultConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Configure validates o and replaces the stored configuration. Batches
// already created keep the configuration they started with.
func (c *Controller) Configure(o Options) error {
	cfg, err := o.ObserverConfig()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	return nil
}

// Config returns a copy of the stored configuration.
func (c *Controller) Config() ObserverConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.clone()
}

// Batches lists the outstanding batches in creation order.
func (c *Controller) Batches() []BatchInfo {
	c.mu.Lock()
	batches := append([]*Batch(nil), c.batches...)
	c.mu.Unlock()

	infos := make([]BatchInfo, len(batches))
	for i, b := range batches {
		infos[i] = b.Info()
	}
	return infos
}

// Destroy resets the configuration to its defaults and disconnects every
// outstanding batch. It returns ErrNoObserver if no batch was ever created.
func (c *Controller) Destroy() error {
	c.mu.Lock()
	c.cfg = DefaultConfig()
	batches := c.batches
	c.batches = nil
	started := c.started
	c.mu.Unlock()

	if !started {
		return ErrNoObserver
	}

	var errs []error
	for _, b := range batches {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.logger.Info("reveal: destroyed", "batches", len(batches))
	return errors.Join(errs...)
}

// effectiveConfig returns the override when given, the stored config
// otherwise. The stored config is never touched by an override.
func (c *Controller) effectiveConfig(override *Options) (ObserverConfig, error) {
	if override != nil {
		return override.ObserverConfig()
	}
	return c.Config(), nil
}

// resolve validates selector and returns its matches in document order.
func resolve(doc Document, selector string) ([]Element, error) {
	if selector == "" {
		return nil, &SelectorError{Selector: selector, Reason: "missing"}
	}
	els, err := doc.QueryAll(selector)
	if err != nil {
		return nil, &SelectorError{Selector: selector, Reason: "invalid", Err: err}
	}
	if len(els) == 0 {
		return nil, &SelectorError{Selector: selector, Reason: "no match"}
	}
	return els, nil
}

// start creates the batch observer and observes every target. Setup is
// all-or-nothing: if any Observe fails the observer is disconnected and
// the batch discarded.
func (c *Controller) start(kind Kind, selector string, cfg ObserverConfig, targets []Element, act action) (*Batch, error) {
	b := newBatch(c.newID(), kind, selector, cfg, targets, act)
	b.logger = c.logger
	b.hook = c.hook
	b.onDone = c.forget

	obs, err := c.factory.NewObserver(b.handle, cfg)
	if err != nil {
		return nil, fmt.Errorf("reveal: create observer: %w", err)
	}
	b.mu.Lock()
	b.obs = obs
	b.mu.Unlock()

	c.mu.Lock()
	c.started = true
	c.batches = append(c.batches, b)
	c.mu.Unlock()

	for i, el := range targets {
		if err := obs.Observe(el); err != nil {
			b.onDone = nil
			c.forget(b)
			_ = b.Close()
			return nil, fmt.Errorf("reveal: observe target %d: %w", i, err)
		}
	}

	c.logger.Info("reveal: batch started",
		"batch", b.id, "kind", kind, "selector", selector,
		"targets", len(targets), "margin", cfg.Margin, "thresholds", cfg.Thresholds)
	return b, nil
}

// forget drops b from the outstanding set.
func (c *Controller) forget(b *Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.batches {
		if x == b {
			c.batches = append(c.batches[:i], c.batches[i+1:]...)
			return
		}
	}
}
