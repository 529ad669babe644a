package rodview

import (
	"fmt"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/lazyreveal/reveal"
)

// Element is a reveal.Element over a Rod element handle.
type Element struct {
	el   *rod.Element
	key  string
	page *Page

	refs int // observers watching this node, guarded by page.mu
}

// Rod returns the underlying Rod element, resolving it again if it was
// released.
func (e *Element) Rod() (*rod.Element, error) { return e.remote() }

func (e *Element) remote() (*rod.Element, error) {
	p := e.page
	p.mu.Lock()
	el := e.el
	p.mu.Unlock()
	if el != nil {
		return el, nil
	}

	el, err := p.page.Context(p.ctx).Sleeper(rod.NotFoundSleeper).
		ElementByJS(rod.Eval(`(k) => window.__lazyreveal.get(k)`, e.key))
	if err != nil {
		return nil, fmt.Errorf("rodview: resolve %s: %w", e.key, err)
	}
	p.mu.Lock()
	if e.el == nil {
		e.el = el
	} else {
		el = e.el
	}
	p.mu.Unlock()
	return el, nil
}

// call runs fn on the remote handle. When the handle was released while fn
// ran, fn is retried once on a fresh one.
func (e *Element) call(fn func(*rod.Element) error) error {
	el, err := e.remote()
	if err != nil {
		return err
	}
	if err = fn(el); err == nil {
		return nil
	}
	e.page.mu.Lock()
	stale := e.el != el
	e.page.mu.Unlock()
	if !stale {
		return err
	}
	fresh, rerr := e.remote()
	if rerr != nil {
		return err
	}
	return fn(fresh)
}

func (e *Element) NodeType() int {
	n := 0
	e.call(func(el *rod.Element) error {
		res, err := el.Eval(`() => this.nodeType`)
		if err != nil {
			return err
		}
		n = res.Value.Int()
		return nil
	})
	return n
}

func (e *Element) Attr(name string) (string, bool) {
	var v *string
	err := e.call(func(el *rod.Element) error {
		var err error
		v, err = el.Attribute(name)
		return err
	})
	if err != nil || v == nil {
		return "", false
	}
	return *v, true
}

func (e *Element) SetAttr(name, value string) error {
	err := e.call(func(el *rod.Element) error {
		_, err := el.Eval(`(n, v) => this.setAttribute(n, v)`, name, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("rodview: set %s: %w", name, err)
	}
	return nil
}

// SetSource assigns the src property, which starts the load immediately.
func (e *Element) SetSource(value string) error {
	err := e.call(func(el *rod.Element) error {
		_, err := el.Eval(`(v) => { this.src = v }`, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("rodview: set src: %w", err)
	}
	return nil
}

// QueryFirst returns the first descendant matching selector, or nil.
func (e *Element) QueryFirst(selector string) (reveal.Element, error) {
	var els rod.Elements
	err := e.call(func(el *rod.Element) error {
		var err error
		els, err = el.Elements(selector)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rodview: query %q: %w", selector, err)
	}
	if len(els) == 0 {
		return nil, nil
	}
	for _, extra := range els[1:] {
		extra.Release()
	}
	return e.page.wrap(els[0])
}
