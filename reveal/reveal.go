// Package reveal defers image, video and callback work until the hosting
// element becomes visible. A Controller resolves selectors through a
// Document, hands the matched elements to a visibility Observer, and runs a
// one-shot action per element on its first qualifying entry, after which the
// element is unobserved.
//
// The visibility primitive and the selector resolver are collaborators: the
// rodview package backs them with a real Chrome IntersectionObserver, simview
// emulates one over laid-out rectangles, htmldoc resolves selectors over a
// parsed HTML tree.
package reveal

// ElementNode is the DOM nodeType of an element.
const ElementNode = 1

// Markup slots holding a pending payload when no explicit list is given.
const (
	ImageSlot = "data-image-src"
	VideoSlot = "data-video-src"
)

// Element is a DOM element handle. Implementations must be comparable: the
// same node must always be represented by the same value so that entries
// delivered by an Observer can be matched back to their batch.
type Element interface {
	NodeType() int
	Attr(name string) (string, bool)
	SetAttr(name, value string) error
	// SetSource writes the element's source (the src property).
	SetSource(value string) error
	// QueryFirst returns the first descendant matching selector, or nil.
	QueryFirst(selector string) (Element, error)
}

// Document resolves selectors against the live document, in document order.
type Document interface {
	QueryAll(selector string) ([]Element, error)
}

// Entry is one visibility report for an observed element.
type Entry struct {
	Target         Element
	IsIntersecting bool
	Ratio          float64
}

// Callback receives visibility entries. It may be called from any goroutine.
type Callback func(entries []Entry, obs Observer)

// Observer tracks elements and reports threshold crossings to its Callback.
type Observer interface {
	Observe(el Element) error
	Unobserve(el Element) error
	Disconnect() error
}

// ObserverFactory creates observers bound to a callback and configuration.
type ObserverFactory interface {
	NewObserver(cb Callback, cfg ObserverConfig) (Observer, error)
}

// ObserverFactoryFunc adapts a function to ObserverFactory.
type ObserverFactoryFunc func(cb Callback, cfg ObserverConfig) (Observer, error)

func (f ObserverFactoryFunc) NewObserver(cb Callback, cfg ObserverConfig) (Observer, error) {
	return f(cb, cfg)
}

// Kind identifies the reveal action of a batch.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindExec  Kind = "exec"
)

// Slot returns the markup fallback slot for media kinds, "" for KindExec.
func (k Kind) Slot() string {
	switch k {
	case KindImage:
		return ImageSlot
	case KindVideo:
		return VideoSlot
	}
	return ""
}

// IsValidElement reports whether e is a genuine element node.
func IsValidElement(e Element) bool {
	return e != nil && e.NodeType() == ElementNode
}

// IsValidSelector reports whether s resolves to at least one element. An
// invalid selector and a valid one that currently matches nothing are both
// reported as false.
func IsValidSelector(doc Document, s string) bool {
	if doc == nil || s == "" {
		return false
	}
	els, err := doc.QueryAll(s)
	return err == nil && len(els) > 0
}
