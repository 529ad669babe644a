package lazyreveal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/lazyreveal/dbopen"
	"github.com/hazyhaar/lazyreveal/htmldoc"
	"github.com/hazyhaar/lazyreveal/lazyreveal/event"
	"github.com/hazyhaar/lazyreveal/lazyreveal/internal/config"
	"github.com/hazyhaar/lazyreveal/reveal"
	"github.com/hazyhaar/lazyreveal/simview"
)

// harness is a Runner without a browser: pages are parsed HTML laid out in a
// simulated 800x600 viewport, events are collected in memory.
type harness struct {
	r   *Runner
	reg *prometheus.Registry

	mu     sync.Mutex
	events []event.Event
}

func newHarness(t *testing.T, cfg *Config, opts ...Option) *harness {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ApplyDefaults()

	h := &harness{reg: prometheus.NewRegistry()}
	collect := NewCallbackSink(func(_ context.Context, ev event.Event) error {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
		return nil
	})
	opts = append([]Option{WithRegistry(h.reg), WithSinks(collect)}, opts...)
	h.r = New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	t.Cleanup(h.r.Stop)
	return h
}

// page parses markup, places every element carrying a data-y attribute at
// that offset (100x100), and attaches the result as pc.
func (h *harness) page(t *testing.T, pc PageConfig, markup string) (*Page, *htmldoc.Document, *simview.Viewport, error) {
	t.Helper()
	doc, err := htmldoc.ParseString(markup)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	view := simview.New(800, 600)
	placed, _ := doc.Query("[data-y]")
	for _, el := range placed {
		v, _ := el.Attr("data-y")
		y, err := strconv.ParseFloat(v, 64)
		if err != nil {
			t.Fatalf("data-y %q: %v", v, err)
		}
		view.Place(el, simview.Rect{Y: y, W: 100, H: 100})
	}
	p, err := h.r.AttachPage(pc, doc, view, view)
	return p, doc, view, err
}

func (h *harness) ofType(typ event.Type) []event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []event.Event
	for _, ev := range h.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func gauge(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				total += g.GetValue()
			}
		}
	}
	return total
}

const twoImages = `<html><body>
<img class="lazy" data-y="100">
<img class="lazy" data-y="1000" data-image-src="b.jpg">
</body></html>`

func TestAttachPage_RevealsAndEmits(t *testing.T) {
	h := newHarness(t, nil)
	_, doc, view, err := h.page(t, PageConfig{
		ID:  "home",
		URL: "https://example.test/",
		Jobs: []JobConfig{
			{ID: "hero", Kind: "image", Selector: "img.lazy", Images: []any{"a.jpg"}},
		},
	}, twoImages)
	if err != nil {
		t.Fatal(err)
	}

	batches := h.ofType(event.TypeBatch)
	if len(batches) != 1 || batches[0].Targets != 2 || batches[0].JobID != "hero" {
		t.Fatalf("batch events = %+v", batches)
	}

	view.Flush()
	revealed := h.ofType(event.TypeReveal)
	if len(revealed) != 1 {
		t.Fatalf("after first flush: %d reveal events", len(revealed))
	}
	if ev := revealed[0]; ev.Index != 0 || ev.Payload != "a.jpg" || ev.JobID != "hero" || ev.PageURL != "https://example.test/" {
		t.Errorf("first reveal = %+v", ev)
	}

	view.Step(0, 800)
	revealed = h.ofType(event.TypeReveal)
	if len(revealed) != 2 || revealed[1].Payload != "b.jpg" {
		t.Fatalf("reveal events = %+v", revealed)
	}

	imgs, _ := doc.Query("img.lazy")
	for i, want := range []string{"a.jpg", "b.jpg"} {
		if v, _ := imgs[i].Attr("src"); v != want {
			t.Errorf("img %d src = %q, want %q", i, v, want)
		}
	}

	if got := gauge(t, h.reg, "lazyreveal_reveals_total"); got != 2 {
		t.Errorf("reveals_total = %v", got)
	}
	eventually(t, "active batches to drop to 0", func() bool {
		return gauge(t, h.reg, "lazyreveal_active_batches") == 0
	})
}

func TestApplyJob_TypeErrorObservesNothing(t *testing.T) {
	h := newHarness(t, nil)
	_, doc, view, err := h.page(t, PageConfig{ID: "p"}, twoImages)
	if err != nil {
		t.Fatal(err)
	}

	_, err = h.r.ApplyJob(context.Background(), "p", JobConfig{
		ID: "bad", Kind: "image", Selector: "img.lazy", Images: []any{1, "ok.jpg"},
	})
	var te *reveal.TypeError
	if !errors.As(err, &te) || te.Index != 0 {
		t.Fatalf("err = %v, want TypeError at index 0", err)
	}
	if view.Observed() != 0 {
		t.Errorf("observed = %d, want 0", view.Observed())
	}
	if len(h.ofType(event.TypeBatch)) != 0 {
		t.Error("batch event emitted for rejected job")
	}
	imgs, _ := doc.Query("img.lazy")
	if _, ok := imgs[0].Attr("src"); ok {
		t.Error("element mutated by rejected job")
	}
	if got := gauge(t, h.reg, "lazyreveal_job_errors_total"); got != 1 {
		t.Errorf("job_errors_total = %v", got)
	}
}

func TestApplyJob_UnknownKindAndPage(t *testing.T) {
	h := newHarness(t, nil)
	if _, _, _, err := h.page(t, PageConfig{ID: "p"}, twoImages); err != nil {
		t.Fatal(err)
	}

	_, err := h.r.ApplyJob(context.Background(), "p", JobConfig{Kind: "audio", Selector: "img"})
	var ce *reveal.ConfigError
	if !errors.As(err, &ce) || ce.Field != "kind" {
		t.Fatalf("err = %v, want kind ConfigError", err)
	}

	_, err = h.r.ApplyJob(context.Background(), "nope", JobConfig{Selector: "img"})
	if !errors.Is(err, ErrUnknownPage) {
		t.Fatalf("err = %v, want ErrUnknownPage", err)
	}
}

func TestApplyJob_ExecEmitsVisible(t *testing.T) {
	h := newHarness(t, nil)
	_, _, view, err := h.page(t, PageConfig{ID: "p"},
		`<div id="footer" data-y="2000"></div><div id="footer2" data-y="3000"></div>`)
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.r.ApplyJob(context.Background(), "p", JobConfig{ID: "more", Kind: "exec", Selector: "div"})
	if err != nil {
		t.Fatal(err)
	}
	if info := b.Info(); info.Targets != 1 {
		t.Fatalf("exec batch targets = %d, want 1", info.Targets)
	}

	view.Flush()
	if len(h.ofType(event.TypeVisible)) != 0 {
		t.Fatal("visible before scrolling")
	}
	view.Step(0, 1700)
	view.Step(0, 2500)
	vis := h.ofType(event.TypeVisible)
	if len(vis) != 1 || vis[0].JobID != "more" || vis[0].BatchID != b.ID() || vis[0].Kind != "exec" {
		t.Fatalf("visible events = %+v", vis)
	}
}

func TestApplyJob_OverrideKeepsPageConfig(t *testing.T) {
	h := newHarness(t, nil)
	p, _, view, err := h.page(t, PageConfig{ID: "p"}, `<img id="low" data-y="800" data-image-src="low.jpg">`)
	if err != nil {
		t.Fatal(err)
	}

	before := 300.0
	if _, err := p.Apply(context.Background(), JobConfig{Selector: "#low", LoadBefore: &before}); err != nil {
		t.Fatal(err)
	}
	view.Flush()
	if rv := h.ofType(event.TypeReveal); len(rv) != 1 || rv[0].Payload != "low.jpg" {
		t.Fatalf("reveal events = %+v", rv)
	}
	if info := p.Info(); info.Margin != "0px" {
		t.Errorf("page margin = %q after override, want 0px", info.Margin)
	}
}

func TestApplyJob_BadLoadAfter(t *testing.T) {
	h := newHarness(t, nil)
	p, _, _, err := h.page(t, PageConfig{ID: "p"}, twoImages)
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Apply(context.Background(), JobConfig{Selector: "img", LoadAfter: []any{0.5, 2.0}})
	var ce *reveal.ConfigError
	if !errors.As(err, &ce) || ce.Field != "loadAfter[1]" {
		t.Fatalf("err = %v", err)
	}
}

func TestAttachPage_Errors(t *testing.T) {
	h := newHarness(t, nil)
	_, _, _, err := h.page(t, PageConfig{ID: "p", Root: "#scroller"}, twoImages)
	var ce *reveal.ConfigError
	if !errors.As(err, &ce) || ce.Field != "root" {
		t.Fatalf("err = %v, want root ConfigError", err)
	}

	if _, _, _, err := h.page(t, PageConfig{ID: "p"}, twoImages); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := h.page(t, PageConfig{ID: "p"}, twoImages); err == nil {
		t.Fatal("duplicate page id accepted")
	}
}

func TestAttachPage_BadRevealConfig(t *testing.T) {
	h := newHarness(t, &Config{Reveal: RevealConfig{LoadBefore: -1}})
	_, _, _, err := h.page(t, PageConfig{ID: "p"}, twoImages)
	var ce *reveal.ConfigError
	if !errors.As(err, &ce) || ce.Field != "loadBefore" {
		t.Fatalf("err = %v, want loadBefore ConfigError", err)
	}
	if len(h.r.Pages()) != 0 {
		t.Error("page registered despite bad config")
	}
}

func TestDestroy_KeepsConfiguredOptions(t *testing.T) {
	h := newHarness(t, &Config{Reveal: RevealConfig{LoadBefore: 50, LoadAfter: []any{0.25}}})
	p, _, view, err := h.page(t, PageConfig{ID: "p"}, twoImages)
	if err != nil {
		t.Fatal(err)
	}

	if err := h.r.Destroy("p"); !errors.Is(err, reveal.ErrNoObserver) {
		t.Fatalf("Destroy before any job = %v, want ErrNoObserver", err)
	}

	if _, err := p.Apply(context.Background(), JobConfig{Selector: "img.lazy"}); err != nil {
		t.Fatal(err)
	}
	if err := h.r.Destroy("p"); err != nil {
		t.Fatal(err)
	}
	if len(p.Batches()) != 0 || view.Observers() != 0 {
		t.Fatalf("batches = %d, observers = %d after Destroy", len(p.Batches()), view.Observers())
	}
	info := p.Info()
	if info.Margin != "50px" || len(info.Thresholds) != 1 || info.Thresholds[0] != 0.25 {
		t.Errorf("config after Destroy = %s %v", info.Margin, info.Thresholds)
	}

	view.Flush()
	if n := len(h.ofType(event.TypeReveal)); n != 0 {
		t.Errorf("%d reveals after Destroy", n)
	}
}

func TestAutoscroll_RevealsDownThePage(t *testing.T) {
	h := newHarness(t, nil)
	_, _, _, err := h.page(t, PageConfig{
		ID: "feed",
		Jobs: []JobConfig{
			{ID: "cards", Kind: "image", Selector: "img"},
		},
		Autoscroll: AutoscrollConfig{Enabled: true, Step: 500, Interval: time.Millisecond, MaxSteps: 20},
	}, `<img data-y="1200" data-image-src="1.jpg"><img data-y="2400" data-image-src="2.jpg">`)
	if err != nil {
		t.Fatal(err)
	}

	eventually(t, "both images revealed", func() bool {
		return len(h.ofType(event.TypeReveal)) == 2
	})
	p, _ := h.r.Page("feed")
	if len(p.Batches()) != 0 {
		t.Errorf("batches left = %d", len(p.Batches()))
	}
}

func TestStoredJobs_AppliedToAttachedPages(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(config.Schema))
	h := newHarness(t, nil, WithDB(db))
	if _, _, _, err := h.page(t, PageConfig{ID: "p"}, twoImages); err != nil {
		t.Fatal(err)
	}

	job := JobConfig{ID: "stored", Kind: "video", Selector: "img.lazy", Videos: []any{"v.mp4"}}
	if err := h.r.SaveJob(context.Background(), "p", job); err != nil {
		t.Fatal(err)
	}
	if err := h.r.applyStoredJobs(context.Background()); err != nil {
		t.Fatal(err)
	}

	batches := h.ofType(event.TypeBatch)
	if len(batches) != 1 || batches[0].JobID != "stored" || batches[0].Kind != "video" {
		t.Fatalf("batch events = %+v", batches)
	}
}

func TestSaveJob_NoDB(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.r.SaveJob(context.Background(), "p", JobConfig{Selector: "img"}); err == nil {
		t.Fatal("SaveJob without database should fail")
	}
}

func TestPlanDocument(t *testing.T) {
	doc, _ := htmldoc.ParseString(`<img class="a"><img class="a" data-image-src="slot.jpg"><img class="a">`)
	got, err := PlanDocument(doc, JobConfig{Selector: "img.a", Images: []any{"x.jpg", ""}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	if !got[0].Explicit || got[0].Payload != "x.jpg" {
		t.Errorf("0 = %+v", got[0])
	}
	if got[1].Explicit || got[1].Payload != "slot.jpg" {
		t.Errorf("1 = %+v", got[1])
	}
	if !got[2].Missing {
		t.Errorf("2 = %+v", got[2])
	}

	if _, err := PlanDocument(doc, JobConfig{Kind: "exec", Selector: "img"}); err == nil {
		t.Error("plan accepted an exec job")
	}
}

func TestSinksFromConfig(t *testing.T) {
	sinks, err := SinksFromConfig([]SinkConfig{{Type: "stdout"}, {Type: "webhook", URL: "http://localhost/x"}}, nil, nil)
	if err != nil || len(sinks) != 2 {
		t.Fatalf("sinks = %d, err = %v", len(sinks), err)
	}
	if _, err := SinksFromConfig([]SinkConfig{{Type: "sqlite"}}, nil, nil); err == nil {
		t.Error("sqlite sink without db accepted")
	}
	if _, err := SinksFromConfig([]SinkConfig{{Type: "kafka"}}, nil, nil); err == nil {
		t.Error("unknown sink accepted")
	}
}
