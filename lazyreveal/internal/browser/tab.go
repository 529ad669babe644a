package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// TabOptions controls how a page is opened.
type TabOptions struct {
	Stealth bool
	Width   int
	Height  int
}

// Tab wraps a Rod page opened for one configured lazyreveal page.
type Tab struct {
	Page    *rod.Page
	PageURL string
	PageID  string
	manager *Manager
}

// OpenTab creates a new tab, sizes its viewport and navigates to pageURL.
func OpenTab(ctx context.Context, mgr *Manager, pageURL, pageID string, opts TabOptions) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if opts.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if opts.Width > 0 && opts.Height > 0 {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.Width,
			Height:            opts.Height,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			mgr.cfg.Logger.Warn("browser: set viewport failed", "error", err)
		}
	}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, mgr.cfg.ResourceBlocking); err != nil {
			mgr.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return &Tab{
		Page:    page,
		PageURL: pageURL,
		PageID:  pageID,
		manager: mgr,
	}, nil
}

// ScrollBy scrolls the window by dy pixels and reports whether the bottom
// of the document has been reached.
func (t *Tab) ScrollBy(ctx context.Context, dy int) (bool, error) {
	res, err := t.Page.Context(ctx).Eval(`(dy) => {
		window.scrollBy(0, dy);
		return window.scrollY + window.innerHeight >= document.documentElement.scrollHeight - 1;
	}`, dy)
	if err != nil {
		return false, fmt.Errorf("browser: scroll: %w", err)
	}
	return res.Value.Bool(), nil
}

// HTML serialises the current DOM as outer HTML.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	res, err := t.Page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
