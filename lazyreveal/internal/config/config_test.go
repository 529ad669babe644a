package config

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/lazyreveal/dbopen"
)

const sampleYAML = `
browser:
  stealth: headless
reveal:
  load_before: 50
  load_after: [0, 0.5]
pages:
  - url: https://example.com
    autoscroll:
      enabled: true
    jobs:
      - kind: image
        selector: img.lazy
        images: [a.jpg, b.jpg]
      - kind: video
        selector: video
        videos: [1, ok.mp4]
      - id: cta
        kind: exec
        selector: "#cta"
        load_after: 1
sinks:
  - type: stdout
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Browser.RecycleInterval != 4*time.Hour || cfg.Browser.XvfbDisplay != ":99" {
		t.Errorf("browser defaults = %+v", cfg.Browser)
	}
	if cfg.Browser.ViewportWidth != 1280 || cfg.Browser.ViewportHeight != 800 {
		t.Errorf("viewport = %dx%d", cfg.Browser.ViewportWidth, cfg.Browser.ViewportHeight)
	}
	if len(cfg.Pages) != 1 {
		t.Fatalf("pages = %d", len(cfg.Pages))
	}
	p := cfg.Pages[0]
	if p.ID != "page-1" {
		t.Errorf("page id = %q", p.ID)
	}
	if p.Autoscroll.Step != 600 || p.Autoscroll.MaxSteps != 50 {
		t.Errorf("autoscroll = %+v", p.Autoscroll)
	}
	if p.Jobs[0].ID != "page-1-job-1" || p.Jobs[2].ID != "cta" {
		t.Errorf("job ids = %q, %q", p.Jobs[0].ID, p.Jobs[2].ID)
	}
	videos, ok := p.Jobs[1].Videos.([]any)
	if !ok || len(videos) != 2 {
		t.Fatalf("videos kept untyped: %#v", p.Jobs[1].Videos)
	}
	if _, isInt := videos[0].(int); !isInt {
		t.Errorf("videos[0] = %T, want int", videos[0])
	}
	if cfg.Reveal.LoadBefore != 50 {
		t.Errorf("load_before = %v", cfg.Reveal.LoadBefore)
	}
}

func TestParse_BadYAML(t *testing.T) {
	if _, err := Parse([]byte("pages: [")); err == nil {
		t.Fatal("expected error")
	}
}

func TestJobs_SaveLoad(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	ctx := context.Background()

	before := 25.0
	jobs := []struct {
		page string
		job  JobConfig
	}{
		{"home", JobConfig{ID: "j1", Kind: "image", Selector: "img", Images: []string{"a.jpg"}, LoadBefore: &before, LoadAfter: []float64{0.5}}},
		{"home", JobConfig{ID: "j2", Kind: "video", Selector: "video", Videos: []any{"v.mp4"}}},
	}
	for i, j := range jobs {
		if err := SaveJob(ctx, db, j.page, j.job, int64(i+1)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.Exec(`INSERT INTO reveal_jobs (id, page_id, kind, selector, status, updated_at)
		VALUES ('off', 'home', 'image', 'img', 'paused', 9)`); err != nil {
		t.Fatal(err)
	}

	got, err := LoadJobs(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("jobs = %d, want 2 (paused excluded)", len(got))
	}
	j1 := got[0].Job
	if j1.ID != "j1" || j1.LoadBefore == nil || *j1.LoadBefore != 25 {
		t.Errorf("j1 = %+v", j1)
	}
	imgs, _ := j1.Images.([]any)
	if len(imgs) != 1 || imgs[0] != "a.jpg" {
		t.Errorf("j1 images = %#v", j1.Images)
	}
	after, _ := j1.LoadAfter.([]any)
	if len(after) != 1 || after[0] != 0.5 {
		t.Errorf("j1 load_after = %#v", j1.LoadAfter)
	}
	if got[1].Job.Videos == nil || got[1].Job.LoadBefore != nil {
		t.Errorf("j2 = %+v", got[1].Job)
	}
}
