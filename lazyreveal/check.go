package lazyreveal

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/lazyreveal/htmldoc"
	"github.com/hazyhaar/lazyreveal/reveal"
)

// Check validates cfg without a browser: the reveal section, page URLs and
// root selectors, and every job's kind, selectors, payloads and per-job
// options. Whether selectors match anything can only be known on the live
// page and is not checked.
func Check(cfg *Config) error {
	// An empty document compiles selectors without matching them.
	empty, err := htmldoc.ParseString("")
	if err != nil {
		return err
	}
	compiles := func(sel string) error {
		_, err := empty.QueryAll(sel)
		return err
	}

	var errs []error
	after, err := reveal.ParseThresholds(cfg.Reveal.LoadAfter)
	if err != nil {
		errs = append(errs, fmt.Errorf("reveal: %w", err))
	}
	base := reveal.Options{LoadBefore: cfg.Reveal.LoadBefore, LoadAfter: after}
	if _, err := base.ObserverConfig(); err != nil {
		errs = append(errs, fmt.Errorf("reveal: %w", err))
	}

	seen := map[string]bool{}
	for _, p := range cfg.Pages {
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("page %s: duplicate id", p.ID))
		}
		seen[p.ID] = true
		if p.URL == "" {
			errs = append(errs, fmt.Errorf("page %s: url is required", p.ID))
		}
		if p.Root != "" {
			if err := compiles(p.Root); err != nil {
				errs = append(errs, fmt.Errorf("page %s: root: %w", p.ID, err))
			}
		}
		for _, j := range p.Jobs {
			if err := checkJob(j, base, compiles); err != nil {
				errs = append(errs, fmt.Errorf("page %s: job %s: %w", p.ID, j.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

func checkJob(j JobConfig, base reveal.Options, compiles func(string) error) error {
	var errs []error
	if j.Selector == "" {
		errs = append(errs, &reveal.SelectorError{Selector: j.Selector, Reason: "missing"})
	} else if err := compiles(j.Selector); err != nil {
		errs = append(errs, &reveal.SelectorError{Selector: j.Selector, Reason: "invalid", Err: err})
	}

	switch j.Kind {
	case "image", "":
		_, err := reveal.Strings("images", j.Images)
		errs = append(errs, err)
	case "video":
		_, err := reveal.Strings("videos", j.Videos)
		errs = append(errs, err)
	case "exec":
	default:
		errs = append(errs, &reveal.ConfigError{Field: "kind", Value: j.Kind, Reason: "must be image, video or exec"})
	}
	if j.SrcTarget != "" {
		if err := compiles(j.SrcTarget); err != nil {
			errs = append(errs, fmt.Errorf("src_target: %w", err))
		}
	}

	o := base
	if j.LoadBefore != nil {
		o.LoadBefore = *j.LoadBefore
	}
	if j.LoadAfter != nil {
		after, err := reveal.ParseThresholds(j.LoadAfter)
		if err != nil {
			errs = append(errs, err)
		}
		o.LoadAfter = after
	}
	if _, err := o.ObserverConfig(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
