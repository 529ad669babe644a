package reveal_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/hazyhaar/lazyreveal/htmldoc"
	"github.com/hazyhaar/lazyreveal/reveal"
	"github.com/hazyhaar/lazyreveal/simview"
)

// fixture wires a controller to a parsed document and a simulated viewport
// of 800x600.
type fixture struct {
	doc     *htmldoc.Document
	view    *simview.Viewport
	ctrl    *reveal.Controller
	mu      sync.Mutex
	reveals []reveal.Reveal
}

func newFixture(t *testing.T, markup string) *fixture {
	t.Helper()
	doc, err := htmldoc.ParseString(markup)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	f := &fixture{doc: doc, view: simview.New(800, 600)}
	f.ctrl = reveal.New(doc, f.view, reveal.WithHook(func(r reveal.Reveal) {
		f.mu.Lock()
		f.reveals = append(f.reveals, r)
		f.mu.Unlock()
	}))
	return f
}

// stack places every element matched by selector in a column, starting at
// y with the given height and gap.
func (f *fixture) stack(t *testing.T, selector string, y, h, gap float64) []*htmldoc.Element {
	t.Helper()
	els, err := f.doc.Query(selector)
	if err != nil {
		t.Fatalf("query %s: %v", selector, err)
	}
	for i, el := range els {
		f.view.Place(el, simview.Rect{X: 0, Y: y + float64(i)*(h+gap), W: 100, H: h})
	}
	return els
}

func (f *fixture) fired() []reveal.Reveal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]reveal.Reveal(nil), f.reveals...)
}

func src(el *htmldoc.Element) string {
	v, _ := el.Attr("src")
	return v
}

func TestRevealImages_OrderedScenario(t *testing.T) {
	f := newFixture(t, `<img class="lazy"><img class="lazy">`)
	els := f.stack(t, "img.lazy", 100, 100, 20)

	if err := f.ctrl.Configure(reveal.Options{LoadBefore: 50, LoadAfter: []float64{0}}); err != nil {
		t.Fatal(err)
	}
	b, err := f.ctrl.RevealImages(reveal.ImageOptions{
		Selector: "img.lazy",
		Images:   []string{"a.jpg", "b.jpg"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := f.view.Observed(); got != 2 {
		t.Fatalf("observed = %d, want 2", got)
	}

	f.view.Flush()

	if src(els[0]) != "a.jpg" || src(els[1]) != "b.jpg" {
		t.Fatalf("src = %q, %q", src(els[0]), src(els[1]))
	}
	if got := f.view.Observed(); got != 0 {
		t.Errorf("observed after reveal = %d, want 0", got)
	}
	select {
	case <-b.Done():
	default:
		t.Error("batch not done after every target fired")
	}
	if n := len(f.ctrl.Batches()); n != 0 {
		t.Errorf("outstanding batches = %d, want 0", n)
	}

	r := f.fired()
	if len(r) != 2 || r[0].Index != 0 || r[1].Index != 1 {
		t.Fatalf("reveals = %+v", r)
	}
}

func TestRevealImages_LoadBeforeReachesBelowFold(t *testing.T) {
	f := newFixture(t, `<img id="near"><img id="far">`)
	near, _ := f.doc.Query("#near")
	far, _ := f.doc.Query("#far")
	f.view.Place(near[0], simview.Rect{Y: 630, W: 100, H: 100})
	f.view.Place(far[0], simview.Rect{Y: 900, W: 100, H: 100})

	if err := f.ctrl.Configure(reveal.Options{LoadBefore: 50}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ctrl.RevealImages(reveal.ImageOptions{Selector: "img", Images: []string{"n.jpg", "f.jpg"}}); err != nil {
		t.Fatal(err)
	}
	f.view.Flush()

	if src(near[0]) != "n.jpg" {
		t.Errorf("near src = %q, want n.jpg", src(near[0]))
	}
	if src(far[0]) != "" {
		t.Errorf("far src = %q, want empty", src(far[0]))
	}

	f.view.Step(0, 400)
	if src(far[0]) != "f.jpg" {
		t.Errorf("far src after scroll = %q, want f.jpg", src(far[0]))
	}
}

func TestRevealImages_FallbackToMarkup(t *testing.T) {
	f := newFixture(t, `<img id="a" data-image-src="markup.jpg">`)
	els := f.stack(t, "#a", 0, 50, 0)

	if _, err := f.ctrl.RevealImages(reveal.ImageOptions{Selector: "#a", Images: []string{}}); err != nil {
		t.Fatal(err)
	}
	f.view.Flush()

	if got := src(els[0]); got != "markup.jpg" {
		t.Fatalf("src = %q, want markup.jpg", got)
	}
}

func TestRevealImages_ShortListFallsBack(t *testing.T) {
	f := newFixture(t, `<img class="x"><img class="x" data-image-src="m2.jpg"><img class="x">`)
	els := f.stack(t, "img.x", 0, 50, 10)

	if _, err := f.ctrl.RevealImages(reveal.ImageOptions{Selector: "img.x", Images: []string{"one.jpg"}}); err != nil {
		t.Fatal(err)
	}
	f.view.Flush()

	if src(els[0]) != "one.jpg" || src(els[1]) != "m2.jpg" || src(els[2]) != "" {
		t.Fatalf("src = %q, %q, %q", src(els[0]), src(els[1]), src(els[2]))
	}
	r := f.fired()
	if len(r) != 3 || !r[2].Skipped {
		t.Fatalf("third reveal should be skipped: %+v", r)
	}
	if got := f.view.Observed(); got != 0 {
		t.Errorf("skipped target still observed: %d", got)
	}
}

func TestRevealImages_SrcTargetAndAttr(t *testing.T) {
	f := newFixture(t, `<div class="card"><span></span><img class="inner"></div>`)
	cards := f.stack(t, ".card", 0, 80, 0)

	if _, err := f.ctrl.RevealImages(reveal.ImageOptions{
		Selector:  ".card",
		SrcTarget: "img.inner",
		Attr:      "data-loaded",
		Images:    []string{"card.webp"},
	}); err != nil {
		t.Fatal(err)
	}
	f.view.Flush()

	inner, _ := f.doc.Query("img.inner")
	if v, _ := inner[0].Attr("data-loaded"); v != "card.webp" {
		t.Errorf("inner data-loaded = %q", v)
	}
	if _, ok := inner[0].Attr("src"); ok {
		t.Error("src written although Attr was set")
	}
	if _, ok := cards[0].Attr("data-loaded"); ok {
		t.Error("payload written on the matched element instead of SrcTarget")
	}
}

func TestRevealVideos_UsesVideoSlot(t *testing.T) {
	f := newFixture(t, `<video data-video-src="clip.mp4" data-image-src="poster.jpg"></video>`)
	els := f.stack(t, "video", 0, 200, 0)

	if _, err := f.ctrl.RevealVideos(reveal.VideoOptions{Selector: "video"}); err != nil {
		t.Fatal(err)
	}
	f.view.Flush()

	if got := src(els[0]); got != "clip.mp4" {
		t.Fatalf("src = %q, want clip.mp4", got)
	}
	if r := f.fired(); len(r) != 1 || r[0].Kind != reveal.KindVideo {
		t.Fatalf("reveals = %+v", r)
	}
}

func TestRevealImages_NotVisibleUntilScrolled(t *testing.T) {
	f := newFixture(t, `<img id="a">`)
	els := f.stack(t, "#a", 2000, 100, 0)

	if _, err := f.ctrl.RevealImages(reveal.ImageOptions{Selector: "#a", Images: []string{"a.jpg"}}); err != nil {
		t.Fatal(err)
	}
	f.view.Flush()
	if src(els[0]) != "" {
		t.Fatal("revealed while off screen")
	}

	f.view.Step(0, 1500)
	if src(els[0]) != "a.jpg" {
		t.Fatalf("src = %q after scroll", src(els[0]))
	}
}

// revealLoose decodes raw the way job runners do and only starts a batch
// when every payload is a string.
func revealLoose(c *reveal.Controller, selector string, raw any) (*reveal.Batch, error) {
	images, err := reveal.Strings("images", raw)
	if err != nil {
		return nil, err
	}
	return c.RevealImages(reveal.ImageOptions{Selector: selector, Images: images})
}

func TestRevealImages_TypeErrorBeforeObserving(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		wantErr bool
	}{
		{"mixed", []any{1, "ok"}, true},
		{"strings", []any{"a.jpg", "b.jpg"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, `<img class="lazy"><img class="lazy">`)
			els := f.stack(t, "img.lazy", 0, 50, 0)

			b, err := revealLoose(f.ctrl, "img.lazy", tt.raw)
			f.view.Flush()

			if !tt.wantErr {
				if err != nil {
					t.Fatal(err)
				}
				select {
				case <-b.Done():
				default:
					t.Error("batch not done after flush")
				}
				if got := src(els[1]); got != "b.jpg" {
					t.Errorf("src[1] = %q, want b.jpg", got)
				}
				return
			}

			var te *reveal.TypeError
			if !errors.As(err, &te) {
				t.Fatalf("err = %v, want *TypeError", err)
			}
			if te.Index != 0 {
				t.Errorf("index = %d, want 0", te.Index)
			}
			if b != nil {
				t.Fatal("batch returned with error")
			}
			if f.view.Observers() != 0 {
				t.Error("observer created")
			}
			if len(f.ctrl.Batches()) != 0 || len(f.fired()) != 0 {
				t.Error("batch started")
			}
			for i, el := range els {
				if _, ok := el.Attr("src"); ok {
					t.Errorf("element %d mutated", i)
				}
			}
		})
	}
}

func TestSelectorErrors(t *testing.T) {
	f := newFixture(t, `<img class="lazy">`)
	for _, sel := range []string{"", "[[", "img.missing"} {
		_, err := f.ctrl.RevealImages(reveal.ImageOptions{Selector: sel})
		var se *reveal.SelectorError
		if !errors.As(err, &se) {
			t.Errorf("selector %q: err = %v, want *SelectorError", sel, err)
		}
	}
	if f.view.Observers() != 0 {
		t.Errorf("observers = %d after failed setups", f.view.Observers())
	}
}

func TestIsValidSelector(t *testing.T) {
	doc, _ := htmldoc.ParseString(`<p class="a"></p>`)
	if !reveal.IsValidSelector(doc, "p.a") {
		t.Error("p.a should be valid")
	}
	if reveal.IsValidSelector(doc, "p.b") {
		t.Error("unmatched selector reported valid")
	}
	if reveal.IsValidSelector(doc, ")(") {
		t.Error("syntactically invalid selector reported valid")
	}
}

func TestConfigure_RootMustBeElement(t *testing.T) {
	f := newFixture(t, `<p id="p">text</p>`)
	ps, _ := f.doc.Query("#p")
	text := f.doc.Wrap(ps[0].Node().FirstChild)

	err := f.ctrl.Configure(reveal.Options{Root: text})
	var ce *reveal.ConfigError
	if !errors.As(err, &ce) || ce.Field != "root" {
		t.Fatalf("err = %v, want root ConfigError", err)
	}
	if err := f.ctrl.Configure(reveal.Options{Root: ps[0]}); err != nil {
		t.Fatalf("element root rejected: %v", err)
	}
	if !reveal.IsValidElement(ps[0]) || reveal.IsValidElement(text) || reveal.IsValidElement(nil) {
		t.Error("IsValidElement mismatch")
	}
}

func TestRootElementBounds(t *testing.T) {
	f := newFixture(t, `<div id="scroller"><img id="a"><img id="b"></div>`)
	root, _ := f.doc.Query("#scroller")
	a, _ := f.doc.Query("#a")
	b, _ := f.doc.Query("#b")
	f.view.Place(root[0], simview.Rect{X: 0, Y: 0, W: 200, H: 200})
	f.view.Place(a[0], simview.Rect{X: 0, Y: 50, W: 50, H: 50})
	f.view.Place(b[0], simview.Rect{X: 0, Y: 300, W: 50, H: 50})

	if _, err := f.ctrl.RevealImages(reveal.ImageOptions{
		Selector: "img",
		Images:   []string{"a.jpg", "b.jpg"},
		Override: &reveal.Options{Root: root[0]},
	}); err != nil {
		t.Fatal(err)
	}
	f.view.Flush()

	if src(a[0]) != "a.jpg" || src(b[0]) != "" {
		t.Fatalf("src = %q, %q", src(a[0]), src(b[0]))
	}
}

func TestOverride_DoesNotMutateSharedConfig(t *testing.T) {
	f := newFixture(t, `<img id="a">`)
	a, _ := f.doc.Query("#a")
	// Half of the image is inside the viewport.
	f.view.Place(a[0], simview.Rect{Y: 550, W: 100, H: 100})

	if _, err := f.ctrl.RevealImages(reveal.ImageOptions{
		Selector: "#a",
		Images:   []string{"a.jpg"},
		Override: &reveal.Options{LoadAfter: []float64{1}},
	}); err != nil {
		t.Fatal(err)
	}
	f.view.Flush()
	if src(a[0]) != "" {
		t.Fatal("fired below the override threshold")
	}

	cfg := f.ctrl.Config()
	if cfg.Thresholds[0] != 0 || cfg.Margin != "0px" {
		t.Fatalf("shared config changed: %+v", cfg)
	}

	f.view.Step(0, 100)
	if src(a[0]) != "a.jpg" {
		t.Fatalf("src = %q once fully visible", src(a[0]))
	}
}

func TestOverride_Invalid(t *testing.T) {
	f := newFixture(t, `<img id="a">`)
	_, err := f.ctrl.RevealImages(reveal.ImageOptions{
		Selector: "#a",
		Override: &reveal.Options{LoadBefore: -5},
	})
	var ce *reveal.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ConfigError", err)
	}
}

func TestRunOnVisible_FiresOnce(t *testing.T) {
	f := newFixture(t, `<button id="cta"></button><button id="cta2"></button>`)
	f.stack(t, "button", 1000, 40, 0)

	calls := 0
	b, err := f.ctrl.RunOnVisible(reveal.ExecOptions{Selector: "#cta", Fn: func() { calls++ }})
	if err != nil {
		t.Fatal(err)
	}
	if b.Info().Targets != 1 {
		t.Fatalf("targets = %d, want 1", b.Info().Targets)
	}

	f.view.Flush()
	if calls != 0 {
		t.Fatal("called while off screen")
	}
	f.view.Step(0, 800)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	f.view.Step(0, 0)
	f.view.Step(0, 800)
	if calls != 1 {
		t.Fatalf("calls = %d after further visibility changes, want 1", calls)
	}
}

func TestRunOnVisible_FirstMatchOnly(t *testing.T) {
	f := newFixture(t, `<i class="t"></i><i class="t"></i>`)
	f.stack(t, "i.t", 0, 10, 0)

	b, err := f.ctrl.RunOnVisible(reveal.ExecOptions{Selector: "i.t", Fn: func() {}})
	if err != nil {
		t.Fatal(err)
	}
	if f.view.Observed() != 1 || b.Info().Targets != 1 {
		t.Fatalf("observed = %d", f.view.Observed())
	}
}

func TestRunOnVisible_NilFn(t *testing.T) {
	f := newFixture(t, `<div id="x"></div>`)
	_, err := f.ctrl.RunOnVisible(reveal.ExecOptions{Selector: "#x"})
	var te *reveal.TypeError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TypeError", err)
	}
}

func TestRunOnVisible_PanicIsReported(t *testing.T) {
	f := newFixture(t, `<div id="x"></div>`)
	f.stack(t, "#x", 0, 10, 0)

	if _, err := f.ctrl.RunOnVisible(reveal.ExecOptions{Selector: "#x", Fn: func() { panic("boom") }}); err != nil {
		t.Fatal(err)
	}
	f.view.Flush()

	r := f.fired()
	if len(r) != 1 || r[0].Err == nil {
		t.Fatalf("reveals = %+v, want one failed reveal", r)
	}
	if f.view.Observed() != 0 {
		t.Error("panicking target still observed")
	}
}

func TestDestroy_TearsDownEveryBatch(t *testing.T) {
	f := newFixture(t, `<img class="a"><img class="b">`)
	f.stack(t, "img", 5000, 10, 0)

	b1, err := f.ctrl.RevealImages(reveal.ImageOptions{Selector: "img.a", Images: []string{"a"}})
	if err != nil {
		t.Fatal(err)
	}
	b2, err := f.ctrl.RevealVideos(reveal.VideoOptions{Selector: "img.b", Videos: []string{"b"}})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(f.ctrl.Batches()); n != 2 {
		t.Fatalf("batches = %d, want 2 (new batch must not orphan the old one)", n)
	}
	if err := f.ctrl.Configure(reveal.Options{LoadBefore: 10}); err != nil {
		t.Fatal(err)
	}

	if err := f.ctrl.Destroy(); err != nil {
		t.Fatal(err)
	}
	if f.view.Observers() != 0 {
		t.Errorf("observers = %d after Destroy", f.view.Observers())
	}
	for _, b := range []*reveal.Batch{b1, b2} {
		select {
		case <-b.Done():
		default:
			t.Errorf("batch %s not done", b.ID())
		}
	}
	if cfg := f.ctrl.Config(); cfg.Margin != "0px" {
		t.Errorf("config not reset: %+v", cfg)
	}
}

func TestDestroy_NoObserver(t *testing.T) {
	f := newFixture(t, `<p></p>`)
	if err := f.ctrl.Configure(reveal.Options{LoadBefore: 3}); err != nil {
		t.Fatal(err)
	}
	if err := f.ctrl.Destroy(); !errors.Is(err, reveal.ErrNoObserver) {
		t.Fatalf("err = %v, want ErrNoObserver", err)
	}
	if cfg := f.ctrl.Config(); cfg.Margin != "0px" {
		t.Errorf("config not reset: %+v", cfg)
	}
}

func TestDestroyThenConfigure_Idempotent(t *testing.T) {
	f := newFixture(t, `<img>`)
	f.stack(t, "img", 5000, 10, 0)
	if _, err := f.ctrl.RevealImages(reveal.ImageOptions{Selector: "img"}); err != nil {
		t.Fatal(err)
	}

	opts := reveal.Options{LoadBefore: 25, LoadAfter: []float64{0.1, 0.9}}
	var got [2]reveal.ObserverConfig
	for i := range got {
		if err := f.ctrl.Destroy(); err != nil {
			t.Fatal(err)
		}
		if err := f.ctrl.Configure(opts); err != nil {
			t.Fatal(err)
		}
		got[i] = f.ctrl.Config()
	}
	if got[0].Margin != got[1].Margin || len(got[0].Thresholds) != len(got[1].Thresholds) {
		t.Fatalf("configs differ: %+v vs %+v", got[0], got[1])
	}
	for i := range got[0].Thresholds {
		if got[0].Thresholds[i] != got[1].Thresholds[i] {
			t.Fatalf("thresholds differ: %v vs %v", got[0].Thresholds, got[1].Thresholds)
		}
	}
}

func TestPlan(t *testing.T) {
	doc, _ := htmldoc.ParseString(`<img class="p"><img class="p" data-image-src="m.jpg"><img class="p">`)
	plan, err := reveal.Plan(doc, reveal.KindImage, "img.p", []string{"x.jpg"})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 3 {
		t.Fatalf("len = %d", len(plan))
	}
	if !plan[0].Explicit || plan[0].Payload != "x.jpg" {
		t.Errorf("plan[0] = %+v", plan[0])
	}
	if plan[1].Explicit || plan[1].Payload != "m.jpg" {
		t.Errorf("plan[1] = %+v", plan[1])
	}
	if !plan[2].Missing {
		t.Errorf("plan[2] = %+v", plan[2])
	}
}
