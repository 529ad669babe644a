package reveal

// ExecOptions describes a callback batch.
type ExecOptions struct {
	// Selector picks the element to watch; only the first match is used.
	Selector string
	// Fn runs once, when the element first becomes visible. Required.
	Fn func()
	// Override replaces the controller configuration for this batch only.
	Override *Options
}

// RunOnVisible watches the first element matched by o.Selector and calls
// o.Fn once when it becomes visible.
//
// Fn runs on the goroutine delivering visibility entries. A panic in Fn is
// recovered there, logged, and passed to the hook as a failed Reveal; it
// does not propagate to the caller of RunOnVisible.
func (c *Controller) RunOnVisible(o ExecOptions) (*Batch, error) {
	cfg, err := c.effectiveConfig(o.Override)
	if err != nil {
		return nil, err
	}
	els, err := resolve(c.doc, o.Selector)
	if err != nil {
		return nil, err
	}
	if o.Fn == nil {
		return nil, &TypeError{Field: "exeFn", Index: -1, Got: "nil function"}
	}

	fn := o.Fn
	act := func(int, Element) (string, bool, error) {
		fn()
		return "", false, nil
	}
	return c.start(KindExec, o.Selector, cfg, els[:1], act)
}
