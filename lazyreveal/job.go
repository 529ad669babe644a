package lazyreveal

import (
	"fmt"

	"github.com/hazyhaar/lazyreveal/reveal"
)

// start converts job to a controller call. Loosely typed fields are checked
// here, before any element is observed.
func (p *Page) start(job JobConfig) (*reveal.Batch, error) {
	override, err := p.override(job)
	if err != nil {
		return nil, err
	}

	switch job.Kind {
	case "image", "":
		images, err := reveal.Strings("images", job.Images)
		if err != nil {
			return nil, err
		}
		return p.ctrl.RevealImages(reveal.ImageOptions{
			Selector:  job.Selector,
			SrcTarget: job.SrcTarget,
			Attr:      job.Attr,
			Images:    images,
			Override:  override,
		})

	case "video":
		videos, err := reveal.Strings("videos", job.Videos)
		if err != nil {
			return nil, err
		}
		return p.ctrl.RevealVideos(reveal.VideoOptions{
			Selector:  job.Selector,
			SrcTarget: job.SrcTarget,
			Attr:      job.Attr,
			Videos:    videos,
			Override:  override,
		})

	case "exec":
		jobID, selector := job.ID, job.Selector
		return p.ctrl.RunOnVisible(reveal.ExecOptions{
			Selector: job.Selector,
			Override: override,
			Fn: func() {
				p.runner.logger.Info("lazyreveal: element visible", "page", p.ID, "job", jobID, "selector", selector)
			},
		})
	}
	return nil, &reveal.ConfigError{Field: "kind", Value: job.Kind, Reason: "must be image, video or exec"}
}

// override builds per-job options when the job sets its own load_before or
// load_after. Unset fields inherit the page configuration.
func (p *Page) override(job JobConfig) (*reveal.Options, error) {
	if job.LoadBefore == nil && job.LoadAfter == nil {
		return nil, nil
	}
	o := p.base
	if job.LoadBefore != nil {
		o.LoadBefore = *job.LoadBefore
	}
	if job.LoadAfter != nil {
		after, err := reveal.ParseThresholds(job.LoadAfter)
		if err != nil {
			return nil, err
		}
		o.LoadAfter = after
	}
	return &o, nil
}

// Plan reports which payload each element matched by a media job would
// receive, without observing anything.
func (p *Page) Plan(job JobConfig) ([]reveal.Assignment, error) {
	return PlanDocument(p.doc, job)
}

// PlanDocument is Page.Plan over a standalone document.
func PlanDocument(doc reveal.Document, job JobConfig) ([]reveal.Assignment, error) {
	kind := reveal.KindImage
	field, raw := "images", job.Images
	switch job.Kind {
	case "image", "":
	case "video":
		kind = reveal.KindVideo
		field, raw = "videos", job.Videos
	default:
		return nil, &reveal.ConfigError{Field: "kind", Value: job.Kind, Reason: "plan supports image and video"}
	}
	payloads, err := reveal.Strings(field, raw)
	if err != nil {
		return nil, fmt.Errorf("lazyreveal: plan: %w", err)
	}
	return reveal.Plan(doc, kind, job.Selector, payloads)
}
