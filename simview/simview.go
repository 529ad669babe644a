// Package simview emulates an intersection observer over laid-out element
// rectangles. Elements are placed in document coordinates, the viewport is
// scrolled, and Flush plays the role of the browser rendering step: it
// computes intersections and delivers threshold crossings to the observers.
package simview

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/hazyhaar/lazyreveal/reveal"
)

// Rect is an axis-aligned rectangle.
type Rect struct {
	X, Y, W, H float64
}

// Area returns W*H.
func (r Rect) Area() float64 { return r.W * r.H }

// Intersect returns the overlap of r and o. ok is true when they overlap or
// share an edge; edge-adjacent rectangles intersect with zero area.
func (r Rect) Intersect(o Rect) (Rect, bool) {
	x1, y1 := max(r.X, o.X), max(r.Y, o.Y)
	x2, y2 := min(r.X+r.W, o.X+o.W), min(r.Y+r.H, o.Y+o.H)
	if x2 < x1 || y2 < y1 {
		return Rect{}, false
	}
	return Rect{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}, true
}

// Viewport is the simulated top-level viewport plus the layout of every
// placed element.
type Viewport struct {
	logger *slog.Logger

	mu        sync.Mutex
	width     float64
	height    float64
	scrollX   float64
	scrollY   float64
	rects     map[reveal.Element]Rect
	observers []*Observer
}

// New creates a viewport of the given size scrolled to the origin.
func New(width, height float64) *Viewport {
	return &Viewport{
		logger: slog.Default(),
		width:  width,
		height: height,
		rects:  make(map[reveal.Element]Rect),
	}
}

// SetLogger replaces the logger.
func (v *Viewport) SetLogger(l *slog.Logger) {
	if l != nil {
		v.logger = l
	}
}

// Place sets the layout rectangle of el, in document coordinates.
func (v *Viewport) Place(el reveal.Element, r Rect) {
	v.mu.Lock()
	v.rects[el] = r
	v.mu.Unlock()
}

// Remove drops el from the layout; it then never intersects.
func (v *Viewport) Remove(el reveal.Element) {
	v.mu.Lock()
	delete(v.rects, el)
	v.mu.Unlock()
}

// ScrollTo moves the viewport origin. Entries are delivered on the next
// Flush.
func (v *Viewport) ScrollTo(x, y float64) {
	v.mu.Lock()
	v.scrollX, v.scrollY = x, y
	v.mu.Unlock()
}

// Bounds returns the viewport rectangle in document coordinates.
func (v *Viewport) Bounds() Rect {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Rect{X: v.scrollX, Y: v.scrollY, W: v.width, H: v.height}
}

// NewObserver implements reveal.ObserverFactory.
func (v *Viewport) NewObserver(cb reveal.Callback, cfg reveal.ObserverConfig) (reveal.Observer, error) {
	m, err := ParseMargin(cfg.Margin)
	if err != nil {
		return nil, err
	}
	thresholds := append([]float64(nil), cfg.Thresholds...)
	if len(thresholds) == 0 {
		thresholds = []float64{0}
	}
	slices.Sort(thresholds)
	for _, t := range thresholds {
		if t < 0 || t > 1 {
			return nil, fmt.Errorf("simview: threshold %v out of range", t)
		}
	}

	o := &Observer{
		v:          v,
		cb:         cb,
		root:       cfg.Root,
		margin:     m,
		thresholds: thresholds,
		prev:       make(map[reveal.Element]state),
	}
	v.mu.Lock()
	v.observers = append(v.observers, o)
	v.mu.Unlock()
	return o, nil
}

// Observers returns the number of connected observers.
func (v *Viewport) Observers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.observers)
}

// Observed returns the number of targets across all connected observers.
func (v *Viewport) Observed() int {
	v.mu.Lock()
	obs := slices.Clone(v.observers)
	v.mu.Unlock()

	n := 0
	for _, o := range obs {
		n += len(o.Targets())
	}
	return n
}

// Flush computes intersections for every observer and delivers the entries
// of targets whose state crossed a threshold since the previous Flush. It
// returns the number of entries delivered. Callbacks run on the caller's
// goroutine, outside any lock.
func (v *Viewport) Flush() int {
	v.mu.Lock()
	obs := slices.Clone(v.observers)
	v.mu.Unlock()

	n := 0
	for _, o := range obs {
		entries := o.collect()
		if len(entries) == 0 {
			continue
		}
		n += len(entries)
		o.cb(entries, o)
	}
	return n
}

// ScrollBy scrolls down by dy pixels and flushes. It reports whether the
// viewport bottom reached the lowest placed element.
func (v *Viewport) ScrollBy(_ context.Context, dy int) (bool, error) {
	v.mu.Lock()
	v.scrollY += float64(dy)
	var extent float64
	for _, r := range v.rects {
		extent = max(extent, r.Y+r.H)
	}
	bottom := v.scrollY+v.height >= extent
	v.mu.Unlock()

	v.Flush()
	return bottom, nil
}

// Step scrolls to (x, y) and flushes.
func (v *Viewport) Step(x, y float64) int {
	v.ScrollTo(x, y)
	return v.Flush()
}

func (v *Viewport) detach(o *Observer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.observers = slices.DeleteFunc(v.observers, func(x *Observer) bool { return x == o })
}

// rootRect returns the effective root rectangle before margins.
func (v *Viewport) rootRect(root reveal.Element) (Rect, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if root == nil {
		return Rect{X: v.scrollX, Y: v.scrollY, W: v.width, H: v.height}, true
	}
	r, ok := v.rects[root]
	return r, ok
}

func (v *Viewport) rect(el reveal.Element) (Rect, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r, ok := v.rects[el]
	return r, ok
}

// state is the last reported threshold index and intersection flag.
type state struct {
	index        int
	intersecting bool
}

// Observer is a simulated intersection observer.
type Observer struct {
	v          *Viewport
	cb         reveal.Callback
	root       reveal.Element
	margin     Margin
	thresholds []float64

	mu           sync.Mutex
	targets      []reveal.Element
	prev         map[reveal.Element]state
	disconnected bool
}

// Observe starts tracking el. Its initial state is reported on the next
// Flush.
func (o *Observer) Observe(el reveal.Element) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disconnected {
		return fmt.Errorf("simview: observe on disconnected observer")
	}
	if _, ok := o.prev[el]; ok {
		return nil
	}
	o.targets = append(o.targets, el)
	o.prev[el] = state{index: -1}
	return nil
}

// Unobserve stops tracking el.
func (o *Observer) Unobserve(el reveal.Element) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.prev[el]; !ok {
		return nil
	}
	delete(o.prev, el)
	o.targets = slices.DeleteFunc(o.targets, func(x reveal.Element) bool { return x == el })
	return nil
}

// Disconnect stops tracking every target and detaches from the viewport.
func (o *Observer) Disconnect() error {
	o.mu.Lock()
	o.targets = nil
	o.prev = make(map[reveal.Element]state)
	o.disconnected = true
	o.mu.Unlock()
	o.v.detach(o)
	return nil
}

// Targets returns the tracked elements in observation order.
func (o *Observer) Targets() []reveal.Element {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.targets)
}

// collect computes the pending entries and records the new states.
func (o *Observer) collect() []reveal.Entry {
	root, rootOK := o.v.rootRect(o.root)
	box := o.margin.Expand(root)

	o.mu.Lock()
	defer o.mu.Unlock()

	var entries []reveal.Entry
	for _, el := range o.targets {
		var (
			ratio        float64
			intersecting bool
		)
		if r, ok := o.v.rect(el); ok && rootOK {
			if inter, hit := r.Intersect(box); hit {
				intersecting = true
				if a := r.Area(); a > 0 {
					ratio = inter.Area() / a
				} else {
					ratio = 1
				}
			}
		}

		idx := 0
		if intersecting {
			idx = o.thresholdIndex(ratio)
		}
		prev := o.prev[el]
		if prev.index == idx && prev.intersecting == intersecting {
			continue
		}
		o.prev[el] = state{index: idx, intersecting: intersecting}
		entries = append(entries, reveal.Entry{Target: el, IsIntersecting: intersecting, Ratio: ratio})
	}
	return entries
}

// thresholdIndex is the index of the first threshold greater than ratio,
// or len(thresholds) when ratio reaches the last one.
func (o *Observer) thresholdIndex(ratio float64) int {
	for i, t := range o.thresholds {
		if t > ratio {
			return i
		}
	}
	return len(o.thresholds)
}
