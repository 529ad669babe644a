package lazyreveal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hazyhaar/lazyreveal/lazyreveal/event"
	"github.com/hazyhaar/lazyreveal/lazyreveal/internal/metrics"
	"github.com/hazyhaar/lazyreveal/reveal"
)

// Page is one attached document with its reveal controller.
type Page struct {
	ID  string
	URL string

	runner  *Runner
	ctx     context.Context
	doc     reveal.Document
	ctrl    *reveal.Controller
	root    reveal.Element
	base    reveal.Options
	created time.Time
	closers []func() error

	// mu guards jobs and is held while a job starts so that the reveal hook
	// never observes a batch before its job is recorded.
	mu   sync.Mutex
	jobs map[string]string // batch ID -> job ID
}

// PageInfo is the JSON view of a page.
type PageInfo struct {
	ID         string             `json:"id"`
	URL        string             `json:"url,omitempty"`
	Margin     string             `json:"margin"`
	Thresholds []float64          `json:"thresholds"`
	Batches    []reveal.BatchInfo `json:"batches"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Info returns a snapshot of the page state.
func (p *Page) Info() PageInfo {
	cfg := p.ctrl.Config()
	return PageInfo{
		ID:         p.ID,
		URL:        p.URL,
		Margin:     cfg.Margin,
		Thresholds: cfg.Thresholds,
		Batches:    p.Batches(),
		CreatedAt:  p.created,
	}
}

// Batches lists the outstanding batches of the page.
func (p *Page) Batches() []reveal.BatchInfo {
	b := p.ctrl.Batches()
	if b == nil {
		b = []reveal.BatchInfo{}
	}
	return b
}

// Controller returns the page controller.
func (p *Page) Controller() *reveal.Controller { return p.ctrl }

// Document returns the page document.
func (p *Page) Document() reveal.Document { return p.doc }

// Apply validates job and starts its batch.
func (p *Page) Apply(ctx context.Context, job JobConfig) (*reveal.Batch, error) {
	p.mu.Lock()
	b, err := p.start(job)
	if err == nil {
		p.jobs[b.ID()] = job.ID
	}
	p.mu.Unlock()
	if err != nil {
		p.runner.metrics.JobError(errorClass(err))
		return nil, fmt.Errorf("lazyreveal: job %s: %w", job.ID, err)
	}

	m := p.runner.metrics
	m.BatchStarted(string(b.Kind()))
	go func() {
		<-b.Done()
		m.BatchDone()
	}()

	info := b.Info()
	p.runner.emit(ctx, event.Event{
		Type:     event.TypeBatch,
		PageID:   p.ID,
		PageURL:  p.URL,
		JobID:    job.ID,
		BatchID:  b.ID(),
		Kind:     string(b.Kind()),
		Selector: b.Selector(),
		Index:    -1,
		Targets:  info.Targets,
	})
	return b, nil
}

// Destroy disconnects every batch of the page. The page configuration is
// restored afterwards so that later jobs keep the configured margin and
// thresholds.
func (p *Page) Destroy() error {
	err := p.ctrl.Destroy()
	if cerr := p.ctrl.Configure(p.base); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

func (p *Page) close() {
	if err := p.ctrl.Destroy(); err != nil && !errors.Is(err, reveal.ErrNoObserver) {
		p.runner.logger.Warn("lazyreveal: destroy page", "id", p.ID, "error", err)
	}
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			p.runner.logger.Warn("lazyreveal: close page", "id", p.ID, "error", err)
		}
	}
}

// onReveal is the controller hook. It turns every fired action into an
// event: reveal for media, visible for exec, error when the action failed.
func (p *Page) onReveal(rv reveal.Reveal) {
	p.mu.Lock()
	jobID := p.jobs[rv.BatchID]
	p.mu.Unlock()

	ev := event.Event{
		Type:     event.TypeReveal,
		PageID:   p.ID,
		PageURL:  p.URL,
		JobID:    jobID,
		BatchID:  rv.BatchID,
		Kind:     string(rv.Kind),
		Selector: rv.Selector,
		Index:    rv.Index,
		Payload:  rv.Payload,
		Skipped:  rv.Skipped,
	}

	outcome := metrics.OutcomeApplied
	switch {
	case rv.Err != nil:
		outcome = metrics.OutcomeFailed
		ev.Type = event.TypeError
		ev.Error = rv.Err.Error()
	case rv.Skipped:
		outcome = metrics.OutcomeSkipped
	case rv.Kind == reveal.KindExec:
		ev.Type = event.TypeVisible
	}
	p.runner.metrics.Reveal(string(rv.Kind), outcome)
	p.runner.emit(p.ctx, ev)
}

// autoscroll scrolls the page step by step until every batch completed, the
// end of the document is reached, or cfg.MaxSteps steps were taken.
func (p *Page) autoscroll(ctx context.Context, s Scroller, cfg AutoscrollConfig) {
	log := p.runner.logger
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for step := 0; step < cfg.MaxSteps; step++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if len(p.ctrl.Batches()) == 0 {
			log.Debug("lazyreveal: autoscroll done, no pending batch", "page", p.ID, "steps", step)
			return
		}
		bottom, err := s.ScrollBy(ctx, int(cfg.Step))
		if err != nil {
			log.Warn("lazyreveal: autoscroll failed", "page", p.ID, "error", err)
			return
		}
		if bottom {
			log.Debug("lazyreveal: autoscroll reached bottom", "page", p.ID, "steps", step+1)
			return
		}
	}
	log.Debug("lazyreveal: autoscroll step limit", "page", p.ID, "steps", cfg.MaxSteps)
}

// errorClass labels setup errors for metrics.
func errorClass(err error) string {
	var ce *reveal.ConfigError
	var se *reveal.SelectorError
	var te *reveal.TypeError
	switch {
	case errors.As(err, &ce):
		return "config"
	case errors.As(err, &se):
		return "selector"
	case errors.As(err, &te):
		return "type"
	}
	return "other"
}
