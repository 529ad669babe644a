// Package lazyreveal runs reveal jobs against live pages. It drives Chrome
// as a disposable component, gives every page its own reveal controller,
// scrolls pages so lazy content crosses the viewport, and emits one event per
// revealed element to sinks (stdout, webhook, SQLite, callback).
package lazyreveal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/lazyreveal/lazyreveal/event"
	"github.com/hazyhaar/lazyreveal/lazyreveal/internal/browser"
	"github.com/hazyhaar/lazyreveal/lazyreveal/internal/config"
	"github.com/hazyhaar/lazyreveal/lazyreveal/internal/metrics"
	"github.com/hazyhaar/lazyreveal/lazyreveal/internal/rodview"
	"github.com/hazyhaar/lazyreveal/lazyreveal/internal/sink"
	"github.com/hazyhaar/lazyreveal/reveal"
)

// ErrUnknownPage is returned for operations on a page ID the runner does not
// hold.
var ErrUnknownPage = errors.New("lazyreveal: unknown page")

// Scroller moves a page down by dy pixels and reports whether the end of
// the document was reached.
type Scroller interface {
	ScrollBy(ctx context.Context, dy int) (bool, error)
}

// Runner is the top-level orchestrator. It owns the browser, one page per
// configured URL, and the sink router.
type Runner struct {
	cfg     *config.Config
	mgr     *browser.Manager
	sinkR   *sink.Router
	db      *sql.DB
	metrics *metrics.Metrics
	reg     *prometheus.Registry
	logger  *slog.Logger

	mu    sync.Mutex
	ctx   context.Context
	pages map[string]*Page
	order []string
}

// Option configures a Runner.
type Option func(*Runner)

// WithSinks adds output sinks.
func WithSinks(sinks ...Sink) Option {
	return func(r *Runner) {
		for _, s := range sinks {
			r.sinkR.Add(s)
		}
	}
}

// WithDB sets the database holding reveal_jobs. Active rows are applied on
// Start and SaveJob persists to it.
func WithDB(db *sql.DB) Option {
	return func(r *Runner) { r.db = db }
}

// WithRegistry registers runner metrics on reg and serves it on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(r *Runner) {
		r.reg = reg
		r.metrics = metrics.New(reg)
	}
}

// New creates a Runner from configuration.
func New(cfg *Config, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &Config{}
		cfg.ApplyDefaults()
	}

	r := &Runner{
		cfg: cfg,
		mgr: browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			MemoryLimit:      cfg.Browser.MemoryLimit,
			RecycleInterval:  cfg.Browser.RecycleInterval,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			Mode:             browser.ParseMode(cfg.Browser.Stealth),
			XvfbDisplay:      cfg.Browser.XvfbDisplay,
			Logger:           logger,
		}),
		sinkR:  sink.NewRouter(logger),
		logger: logger,
		ctx:    context.Background(),
		pages:  make(map[string]*Page),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start launches the browser, opens every configured page, and applies the
// active jobs stored in the database.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	if _, err := r.mgr.Start(ctx); err != nil {
		return fmt.Errorf("lazyreveal: start browser: %w", err)
	}
	r.mgr.OnRecycle(func(*rod.Browser) {
		r.metrics.Recycled()
		r.reopenPages(ctx)
	})

	for _, pc := range r.cfg.Pages {
		if err := r.OpenPage(ctx, pc); err != nil {
			r.logger.Error("lazyreveal: failed to open page", "url", pc.URL, "error", err)
		}
	}
	return r.applyStoredJobs(ctx)
}

// OpenPage opens pc in a new browser tab and applies its jobs.
func (r *Runner) OpenPage(ctx context.Context, pc PageConfig) error {
	tab, err := browser.OpenTab(ctx, r.mgr, pc.URL, pc.ID, browser.TabOptions{
		Stealth: true,
		Width:   r.cfg.Browser.ViewportWidth,
		Height:  r.cfg.Browser.ViewportHeight,
	})
	if err != nil {
		return fmt.Errorf("lazyreveal: open tab: %w", err)
	}

	view, err := rodview.Attach(ctx, tab.Page, r.logger)
	if err != nil {
		tab.Close()
		return fmt.Errorf("lazyreveal: attach view: %w", err)
	}

	p, err := r.AttachPage(pc, view, view, tab)
	if err != nil {
		view.Close()
		tab.Close()
		return err
	}
	p.closers = append(p.closers, func() error { view.Close(); return nil }, tab.Close)
	return nil
}

// AttachPage registers a page over an existing document and observer
// factory, configures its controller and applies pc.Jobs. A job that fails
// is logged and counted; it does not prevent the page from attaching. When
// scroller is non-nil and pc.Autoscroll is enabled, the page is scrolled in
// the background until its batches complete.
func (r *Runner) AttachPage(pc PageConfig, doc reveal.Document, factory reveal.ObserverFactory, scroller Scroller) (*Page, error) {
	r.mu.Lock()
	ctx := r.ctx
	if _, exists := r.pages[pc.ID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("lazyreveal: page %q already attached", pc.ID)
	}
	r.mu.Unlock()

	p := &Page{
		ID:      pc.ID,
		URL:     pc.URL,
		runner:  r,
		ctx:     ctx,
		doc:     doc,
		jobs:    make(map[string]string),
		created: time.Now(),
	}
	p.ctrl = reveal.New(doc, factory,
		reveal.WithLogger(r.logger.With("page", pc.ID)),
		reveal.WithHook(p.onReveal),
	)

	if pc.Root != "" {
		els, err := doc.QueryAll(pc.Root)
		if err != nil || len(els) == 0 {
			return nil, &reveal.ConfigError{Field: "root", Value: pc.Root, Reason: "selector matches no element"}
		}
		p.root = els[0]
	}
	base, err := r.baseOptions(p.root)
	if err != nil {
		return nil, err
	}
	p.base = base
	if err := p.ctrl.Configure(base); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.pages[pc.ID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("lazyreveal: page %q already attached", pc.ID)
	}
	r.pages[pc.ID] = p
	r.order = append(r.order, pc.ID)
	r.mu.Unlock()

	for _, j := range pc.Jobs {
		if _, err := p.Apply(ctx, j); err != nil {
			r.logger.Error("lazyreveal: job failed", "page", pc.ID, "job", j.ID, "error", err)
		}
	}

	if scroller != nil && pc.Autoscroll.Enabled {
		sctx, cancel := context.WithCancel(ctx)
		p.closers = append(p.closers, func() error { cancel(); return nil })
		go p.autoscroll(sctx, scroller, pc.Autoscroll)
	}

	r.logger.Info("lazyreveal: page attached", "id", pc.ID, "url", pc.URL, "jobs", len(pc.Jobs))
	return p, nil
}

// baseOptions converts the reveal section of the configuration.
func (r *Runner) baseOptions(root reveal.Element) (reveal.Options, error) {
	after, err := reveal.ParseThresholds(r.cfg.Reveal.LoadAfter)
	if err != nil {
		return reveal.Options{}, err
	}
	return reveal.Options{
		Root:       root,
		LoadBefore: r.cfg.Reveal.LoadBefore,
		LoadAfter:  after,
	}, nil
}

// Page returns the page registered under id.
func (r *Runner) Page(id string) (*Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPage, id)
	}
	return p, nil
}

// Pages lists the attached pages in attach order.
func (r *Runner) Pages() []PageInfo {
	r.mu.Lock()
	pages := make([]*Page, 0, len(r.order))
	for _, id := range r.order {
		pages = append(pages, r.pages[id])
	}
	r.mu.Unlock()

	out := make([]PageInfo, len(pages))
	for i, p := range pages {
		out[i] = p.Info()
	}
	return out
}

// ApplyJob runs job on the page registered under pageID.
func (r *Runner) ApplyJob(ctx context.Context, pageID string, job JobConfig) (*reveal.Batch, error) {
	p, err := r.Page(pageID)
	if err != nil {
		return nil, err
	}
	return p.Apply(ctx, job)
}

// SaveJob persists job for pageID in the reveal_jobs table.
func (r *Runner) SaveJob(ctx context.Context, pageID string, job JobConfig) error {
	if r.db == nil {
		return fmt.Errorf("lazyreveal: no database configured")
	}
	if job.ID == "" {
		job.ID = uuid.Must(uuid.NewV7()).String()
	}
	return config.SaveJob(ctx, r.db, pageID, job, time.Now().UnixMilli())
}

// Destroy tears down every batch of the page and resets its controller to
// the default configuration.
func (r *Runner) Destroy(pageID string) error {
	p, err := r.Page(pageID)
	if err != nil {
		return err
	}
	return p.Destroy()
}

// Stop destroys every page, closes the sinks and shuts the browser down.
func (r *Runner) Stop() {
	r.mu.Lock()
	pages := r.pages
	r.pages = make(map[string]*Page)
	r.order = nil
	r.mu.Unlock()

	for id, p := range pages {
		p.close()
		r.logger.Info("lazyreveal: page closed", "id", id)
	}
	r.sinkR.Close()
	r.mgr.Close()
}

func (r *Runner) applyStoredJobs(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	jobs, err := config.LoadJobs(ctx, r.db)
	if err != nil {
		return fmt.Errorf("lazyreveal: load stored jobs: %w", err)
	}
	for _, j := range jobs {
		if _, err := r.ApplyJob(ctx, j.PageID, j.Job); err != nil {
			r.logger.Error("lazyreveal: stored job failed", "page", j.PageID, "job", j.Job.ID, "error", err)
		}
	}
	return nil
}

// reopenPages recreates every browser page after a recycle. Revealed state
// lives in the old tabs and is lost; jobs run again on fresh pages.
func (r *Runner) reopenPages(ctx context.Context) {
	r.mu.Lock()
	old := r.pages
	r.pages = make(map[string]*Page)
	r.order = nil
	r.mu.Unlock()

	for _, p := range old {
		p.close()
	}
	for _, pc := range r.cfg.Pages {
		if err := r.OpenPage(ctx, pc); err != nil {
			r.logger.Error("lazyreveal: reopen page failed", "url", pc.URL, "error", err)
		}
	}
	if err := r.applyStoredJobs(ctx); err != nil {
		r.logger.Error("lazyreveal: reapply stored jobs failed", "error", err)
	}
}

func (r *Runner) emit(ctx context.Context, ev event.Event) {
	ev.ID = uuid.Must(uuid.NewV7()).String()
	ev.Timestamp = time.Now().UnixMilli()
	if err := r.sinkR.Send(ctx, ev); err != nil {
		r.logger.Error("lazyreveal: send event failed", "type", ev.Type, "error", err)
	}
}
