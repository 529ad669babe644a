// Package htmldoc resolves CSS selectors over a parsed HTML tree and exposes
// the matches as reveal elements. It is the static counterpart of the
// browser-backed document: used for planning, offline checks and tests.
package htmldoc

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/lazyreveal/reveal"
)

// Document is a parsed HTML document. Element handles are cached per node so
// that repeated queries return identical values.
type Document struct {
	root *html.Node

	mu    sync.RWMutex
	nodes map[*html.Node]*Element
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: parse: %w", err)
	}
	return &Document{root: root, nodes: make(map[*html.Node]*Element)}, nil
}

// ParseString parses an HTML string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// QueryAll returns every element matching selector in document order. A
// selector that does not compile is returned as an error.
func (d *Document) QueryAll(selector string) ([]reveal.Element, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: compile %q: %w", selector, err)
	}
	d.mu.RLock()
	nodes := sel.MatchAll(d.root)
	d.mu.RUnlock()

	out := make([]reveal.Element, len(nodes))
	for i, n := range nodes {
		out[i] = d.Wrap(n)
	}
	return out, nil
}

// Query is QueryAll returning concrete elements.
func (d *Document) Query(selector string) ([]*Element, error) {
	els, err := d.QueryAll(selector)
	if err != nil {
		return nil, err
	}
	out := make([]*Element, len(els))
	for i, el := range els {
		out[i] = el.(*Element)
	}
	return out, nil
}

// Wrap returns the handle for n, creating it on first use.
func (d *Document) Wrap(n *html.Node) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.nodes[n]; ok {
		return el
	}
	el := &Element{doc: d, node: n}
	d.nodes[n] = el
	return el
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Render serialises the current tree.
func (d *Document) Render(w io.Writer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return html.Render(w, d.root)
}

// String renders the document, or returns "" if rendering fails.
func (d *Document) String() string {
	var b strings.Builder
	if err := d.Render(&b); err != nil {
		return ""
	}
	return b.String()
}

// Element is a node of a Document.
type Element struct {
	doc  *Document
	node *html.Node
}

// Node returns the underlying html node.
func (e *Element) Node() *html.Node { return e.node }

// Tag returns the element name, "" for non-element nodes.
func (e *Element) Tag() string {
	if e.node.Type != html.ElementNode {
		return ""
	}
	return e.node.Data
}

// NodeType maps the node to its DOM nodeType.
func (e *Element) NodeType() int {
	if e == nil || e.node == nil {
		return 0
	}
	switch e.node.Type {
	case html.ElementNode:
		return reveal.ElementNode
	case html.TextNode:
		return 3
	case html.CommentNode:
		return 8
	case html.DocumentNode:
		return 9
	case html.DoctypeNode:
		return 10
	}
	return 0
}

func (e *Element) Attr(name string) (string, bool) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	for _, a := range e.node.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (e *Element) SetAttr(name, value string) error {
	if e.node.Type != html.ElementNode {
		return fmt.Errorf("htmldoc: set %s on non-element node", name)
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	for i, a := range e.node.Attr {
		if a.Namespace == "" && a.Key == name {
			e.node.Attr[i].Val = value
			return nil
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: name, Val: value})
	return nil
}

// SetSource writes the src attribute; a static tree has no separate
// property.
func (e *Element) SetSource(value string) error {
	return e.SetAttr("src", value)
}

// QueryFirst returns the first descendant (not e itself) matching selector.
func (e *Element) QueryFirst(selector string) (reveal.Element, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: compile %q: %w", selector, err)
	}
	var m *html.Node
	e.doc.mu.RLock()
	for c := e.node.FirstChild; c != nil && m == nil; c = c.NextSibling {
		m = sel.MatchFirst(c)
	}
	e.doc.mu.RUnlock()
	if m == nil {
		return nil, nil
	}
	return e.doc.Wrap(m), nil
}
