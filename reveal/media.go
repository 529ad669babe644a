package reveal

// ImageOptions describes an image reveal batch.
type ImageOptions struct {
	// Selector picks the elements to watch. Required.
	Selector string
	// SrcTarget, when set, selects the descendant of each matched element
	// that receives the path. Empty means the matched element itself.
	SrcTarget string
	// Attr names the attribute to write. Empty writes the source.
	Attr string
	// Images[i] is the path for the i-th matched element. Elements past the
	// end of the list fall back to their data-image-src attribute.
	Images []string
	// Override replaces the controller configuration for this batch only.
	Override *Options
}

// VideoOptions describes a video reveal batch. It mirrors ImageOptions but
// falls back to the data-video-src attribute.
type VideoOptions struct {
	Selector  string
	SrcTarget string
	Attr      string
	Videos    []string
	Override  *Options
}

// RevealImages watches every element matched by o.Selector and writes its
// image path once, on the first qualifying visibility entry.
func (c *Controller) RevealImages(o ImageOptions) (*Batch, error) {
	return c.revealMedia(KindImage, mediaSpec{
		selector:  o.Selector,
		srcTarget: o.SrcTarget,
		attr:      o.Attr,
		payloads:  o.Images,
		override:  o.Override,
	})
}

// RevealVideos is the video counterpart of RevealImages.
func (c *Controller) RevealVideos(o VideoOptions) (*Batch, error) {
	return c.revealMedia(KindVideo, mediaSpec{
		selector:  o.Selector,
		srcTarget: o.SrcTarget,
		attr:      o.Attr,
		payloads:  o.Videos,
		override:  o.Override,
	})
}

type mediaSpec struct {
	selector  string
	srcTarget string
	attr      string
	payloads  []string
	override  *Options
}

func (c *Controller) revealMedia(kind Kind, s mediaSpec) (*Batch, error) {
	cfg, err := c.effectiveConfig(s.override)
	if err != nil {
		return nil, err
	}
	els, err := resolve(c.doc, s.selector)
	if err != nil {
		return nil, err
	}

	payloads := append([]string(nil), s.payloads...)
	act := func(i int, el Element) (string, bool, error) {
		payload, ok := payloadFor(kind, payloads, i, el)
		if !ok {
			return "", true, nil
		}

		target := el
		if s.srcTarget != "" {
			sub, err := el.QueryFirst(s.srcTarget)
			if err != nil {
				return payload, false, err
			}
			if sub == nil {
				return payload, true, nil
			}
			target = sub
		}

		if s.attr != "" {
			return payload, false, target.SetAttr(s.attr, payload)
		}
		return payload, false, target.SetSource(payload)
	}

	return c.start(kind, s.selector, cfg, els, act)
}

// payloadFor looks up the explicit payload for index i, defaulting to the
// element's markup slot. An empty payload counts as absent.
func payloadFor(kind Kind, payloads []string, i int, el Element) (string, bool) {
	if i < len(payloads) && payloads[i] != "" {
		return payloads[i], true
	}
	v, ok := el.Attr(kind.Slot())
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
