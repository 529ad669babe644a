// Package rodview backs the reveal interfaces with a live Chrome page: DOM
// queries go through Rod, and every observer is a native IntersectionObserver
// injected into the page whose entries come back over a CDP runtime binding.
package rodview

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/lazyreveal/reveal"
)

//go:embed observer.js
var observerJS string

const bindingName = "__lazyreveal_binding"

// Page is a reveal.Document and reveal.ObserverFactory over one Rod page.
type Page struct {
	page   *rod.Page
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	// elements caches handles by page key. A handle leaves the cache once
	// no observer watches it anymore.
	mu        sync.Mutex
	elements  map[string]*Element
	observers map[int]*Observer
	nextObs   int

	// entries are delivered in order on a dedicated goroutine so that
	// callbacks may issue CDP calls without blocking the event reader.
	dispatch chan bindingCall
}

type bindingCall struct {
	Observer int `json:"o"`
	Entries  []struct {
		Key          string  `json:"k"`
		Intersecting bool    `json:"i"`
		Ratio        float64 `json:"r"`
	} `json:"e"`
}

// Attach installs the binding and the observer script on page and starts
// delivering entries. Close stops delivery.
func Attach(ctx context.Context, page *rod.Page, logger *slog.Logger) (*Page, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &Page{
		page:      page,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		elements:  make(map[string]*Element),
		observers: make(map[int]*Observer),
		dispatch:  make(chan bindingCall, 1024),
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		logger.Warn("rodview: addBinding failed (may already exist)", "error", err)
	}
	wait := p.listenBinding()
	go wait()
	go p.dispatchLoop()

	if _, err := page.Context(ctx).Eval(observerJS); err != nil {
		cancel()
		return nil, fmt.Errorf("rodview: inject observer.js: %w", err)
	}
	return p, nil
}

// Close stops entry delivery. Observers left in the page are disconnected.
func (p *Page) Close() {
	p.mu.Lock()
	obs := make([]*Observer, 0, len(p.observers))
	for _, o := range p.observers {
		obs = append(obs, o)
	}
	p.mu.Unlock()
	for _, o := range obs {
		_ = o.Disconnect()
	}
	p.cancel()
}

// QueryAll implements reveal.Document.
func (p *Page) QueryAll(selector string) ([]reveal.Element, error) {
	els, err := p.page.Context(p.ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("rodview: query %q: %w", selector, err)
	}
	return p.wrapAll(els)
}

// Query is QueryAll returning the concrete type.
func (p *Page) Query(selector string) ([]*Element, error) {
	els, err := p.page.Context(p.ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("rodview: query %q: %w", selector, err)
	}
	out := make([]*Element, 0, len(els))
	for _, el := range els {
		w, err := p.wrap(el)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func (p *Page) wrapAll(els rod.Elements) ([]reveal.Element, error) {
	out := make([]reveal.Element, 0, len(els))
	for _, el := range els {
		w, err := p.wrap(el)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// wrap returns the cached Element for the DOM node behind el so that the
// same node always maps to the same handle.
func (p *Page) wrap(el *rod.Element) (*Element, error) {
	res, err := el.Eval(`() => window.__lazyreveal.keyOf(this)`)
	if err != nil {
		return nil, fmt.Errorf("rodview: key element: %w", err)
	}
	key := res.Value.Str()

	p.mu.Lock()
	w, ok := p.elements[key]
	switch {
	case !ok:
		w = &Element{el: el, key: key, page: p}
		p.elements[key] = w
		el = nil
	case w.el == nil:
		w.el = el
		el = nil
	}
	p.mu.Unlock()

	// duplicate remote object for a node already held
	if el != nil {
		if err := el.Release(); err != nil {
			p.logger.Debug("rodview: release duplicate", "key", key, "error", err)
		}
	}
	return w, nil
}

// NewObserver implements reveal.ObserverFactory.
func (p *Page) NewObserver(cb reveal.Callback, cfg reveal.ObserverConfig) (reveal.Observer, error) {
	rootKey := ""
	if cfg.Root != nil {
		root, ok := cfg.Root.(*Element)
		if !ok || root.page != p {
			return nil, fmt.Errorf("rodview: root does not belong to this page")
		}
		rootKey = root.key
	}
	thresholds := cfg.Thresholds
	if len(thresholds) == 0 {
		thresholds = []float64{0}
	}
	margin := cfg.Margin
	if margin == "" {
		margin = "0px"
	}

	p.mu.Lock()
	p.nextObs++
	o := &Observer{id: p.nextObs, page: p, cb: cb, targets: make(map[*Element]struct{})}
	p.observers[o.id] = o
	p.mu.Unlock()

	_, err := p.page.Context(p.ctx).Eval(`(id, root, margin, th) => window.__lazyreveal.create(id, root, margin, th)`,
		o.id, rootKey, margin, thresholds)
	if err != nil {
		p.mu.Lock()
		delete(p.observers, o.id)
		p.mu.Unlock()
		return nil, fmt.Errorf("rodview: create observer: %w", err)
	}
	return o, nil
}

// Observers reports how many observers are live in the page.
func (p *Page) Observers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.observers)
}

// listenBinding subscribes to Runtime.bindingCalled and returns the wait
// function that pumps IntersectionObserver entries until the page closes.
func (p *Page) listenBinding() func() {
	return p.page.Context(p.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		call, err := parseBindingCall(e.Payload)
		if err != nil {
			p.logger.Warn("rodview: parse binding payload", "error", err)
			return
		}
		select {
		case p.dispatch <- call:
		case <-p.ctx.Done():
		}
	})
}

func parseBindingCall(payload string) (bindingCall, error) {
	var call bindingCall
	if err := json.Unmarshal([]byte(payload), &call); err != nil {
		return bindingCall{}, err
	}
	return call, nil
}

func (p *Page) dispatchLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case call := <-p.dispatch:
			p.deliver(call)
		}
	}
}

func (p *Page) deliver(call bindingCall) {
	p.mu.Lock()
	o := p.observers[call.Observer]
	entries := make([]reveal.Entry, 0, len(call.Entries))
	for _, e := range call.Entries {
		el, ok := p.elements[e.Key]
		if !ok {
			continue
		}
		entries = append(entries, reveal.Entry{Target: el, IsIntersecting: e.Intersecting, Ratio: e.Ratio})
	}
	p.mu.Unlock()

	if o == nil || len(entries) == 0 {
		return
	}
	o.cb(entries, o)
}

// track records that o watches e. Must hold p.mu.
func (p *Page) track(o *Observer, e *Element) {
	if _, ok := o.targets[e]; ok {
		return
	}
	o.targets[e] = struct{}{}
	e.refs++
	if _, ok := p.elements[e.key]; !ok {
		p.elements[e.key] = e
	}
}

// untrack drops e from o and reports whether no observer watches e
// anymore. Must hold p.mu.
func (p *Page) untrack(o *Observer, e *Element) bool {
	if _, ok := o.targets[e]; !ok {
		return false
	}
	delete(o.targets, e)
	e.refs--
	if e.refs > 0 {
		return false
	}
	if p.elements[e.key] == e {
		delete(p.elements, e.key)
	}
	return true
}

// release frees the remote objects behind handles nothing watches. A
// handle still held by a caller resolves its node again on next use.
func (p *Page) release(els []*Element) {
	for _, e := range els {
		p.mu.Lock()
		el := e.el
		if e.refs > 0 {
			el = nil
		} else {
			e.el = nil
		}
		p.mu.Unlock()
		if el == nil {
			continue
		}
		if err := el.Release(); err != nil {
			p.logger.Debug("rodview: release element", "key", e.key, "error", err)
		}
	}
}

// Observer is a handle on an IntersectionObserver living in the page.
type Observer struct {
	id   int
	page *Page
	cb   reveal.Callback

	targets map[*Element]struct{} // guarded by page.mu
}

func (o *Observer) Observe(el reveal.Element) error {
	e, err := o.element(el)
	if err != nil {
		return err
	}
	p := o.page
	p.mu.Lock()
	p.track(o, e)
	p.mu.Unlock()

	_, err = p.page.Context(p.ctx).Eval(`(id, k) => window.__lazyreveal.observe(id, k)`, o.id, e.key)
	if err != nil {
		p.mu.Lock()
		p.untrack(o, e)
		p.mu.Unlock()
		return fmt.Errorf("rodview: observe: %w", err)
	}
	return nil
}

func (o *Observer) Unobserve(el reveal.Element) error {
	e, err := o.element(el)
	if err != nil {
		return err
	}
	p := o.page
	_, err = p.page.Context(p.ctx).Eval(`(id, k) => window.__lazyreveal.unobserve(id, k)`, o.id, e.key)

	p.mu.Lock()
	free := p.untrack(o, e)
	p.mu.Unlock()
	if free {
		p.release([]*Element{e})
	}
	if err != nil {
		return fmt.Errorf("rodview: unobserve: %w", err)
	}
	return nil
}

func (o *Observer) Disconnect() error {
	p := o.page
	p.mu.Lock()
	_, live := p.observers[o.id]
	delete(p.observers, o.id)
	var free []*Element
	for e := range o.targets {
		if p.untrack(o, e) {
			free = append(free, e)
		}
	}
	p.mu.Unlock()

	var err error
	if live {
		_, err = p.page.Context(p.ctx).Eval(`(id) => window.__lazyreveal.disconnect(id)`, o.id)
	}
	p.release(free)
	if err != nil {
		return fmt.Errorf("rodview: disconnect: %w", err)
	}
	return nil
}

func (o *Observer) element(el reveal.Element) (*Element, error) {
	e, ok := el.(*Element)
	if !ok || e.page != o.page {
		return nil, fmt.Errorf("rodview: element does not belong to this page")
	}
	return e, nil
}
