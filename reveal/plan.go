package reveal

// Assignment is the payload a batch would apply to one matched element.
type Assignment struct {
	Index    int     `json:"index"`
	Element  Element `json:"-"`
	Payload  string  `json:"payload,omitempty"`
	Explicit bool    `json:"explicit"`
	Missing  bool    `json:"missing,omitempty"`
}

// Plan resolves selector and reports, without observing anything, which
// payload each matched element would receive from a media batch of kind.
// Markup slots are read now; a live batch reads them at reveal time.
func Plan(doc Document, kind Kind, selector string, payloads []string) ([]Assignment, error) {
	els, err := resolve(doc, selector)
	if err != nil {
		return nil, err
	}

	out := make([]Assignment, len(els))
	for i, el := range els {
		a := Assignment{Index: i, Element: el}
		a.Explicit = i < len(payloads) && payloads[i] != ""
		if p, ok := payloadFor(kind, payloads, i, el); ok {
			a.Payload = p
		} else {
			a.Missing = true
		}
		out[i] = a
	}
	return out, nil
}
