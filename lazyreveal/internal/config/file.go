// Package config handles lazyreveal configuration from YAML files and the
// reveal_jobs SQLite table.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level runner configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Reveal  RevealConfig  `yaml:"reveal"`
	Pages   []PageConfig  `yaml:"pages"`
	Sinks   []SinkConfig  `yaml:"sinks"`
	DB      string        `yaml:"db"` // SQLite path: reveal_jobs + reveal_events
	HTTP    HTTPConfig    `yaml:"http"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
	ViewportWidth    int           `yaml:"viewport_width"`
	ViewportHeight   int           `yaml:"viewport_height"`
}

// RevealConfig is the controller configuration applied to every page.
type RevealConfig struct {
	LoadBefore float64 `yaml:"load_before"`
	LoadAfter  any     `yaml:"load_after"` // number or list of numbers
}

// PageConfig defines a page and the jobs run on it.
type PageConfig struct {
	ID         string           `yaml:"id"`
	URL        string           `yaml:"url"`
	Root       string           `yaml:"root"` // selector of the scroll root; empty = viewport
	Jobs       []JobConfig      `yaml:"jobs"`
	Autoscroll AutoscrollConfig `yaml:"autoscroll"`
}

// AutoscrollConfig scrolls a browser page step by step so that lazy
// elements cross the viewport.
type AutoscrollConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Step     float64       `yaml:"step"`
	Interval time.Duration `yaml:"interval"`
	MaxSteps int           `yaml:"max_steps"`
}

// JobConfig is one batch operation. Images, Videos and LoadAfter are kept
// untyped so that wrongly typed input is reported by validation instead of
// failing the whole file.
type JobConfig struct {
	ID         string   `yaml:"id" json:"id,omitempty"`
	Kind       string   `yaml:"kind" json:"kind"` // image | video | exec
	Selector   string   `yaml:"selector" json:"selector"`
	SrcTarget  string   `yaml:"src_target" json:"src_target,omitempty"`
	Attr       string   `yaml:"attr" json:"attr,omitempty"`
	Images     any      `yaml:"images" json:"images,omitempty"`
	Videos     any      `yaml:"videos" json:"videos,omitempty"`
	LoadBefore *float64 `yaml:"load_before" json:"load_before,omitempty"`
	LoadAfter  any      `yaml:"load_after" json:"load_after,omitempty"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | sqlite
	URL  string `yaml:"url"`  // webhook
}

// HTTPConfig enables the admin API when Addr is set.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: yaml: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.ViewportWidth <= 0 {
		c.Browser.ViewportWidth = 1280
	}
	if c.Browser.ViewportHeight <= 0 {
		c.Browser.ViewportHeight = 800
	}
	for i := range c.Pages {
		p := &c.Pages[i]
		if p.ID == "" {
			p.ID = fmt.Sprintf("page-%d", i+1)
		}
		if p.Autoscroll.Step <= 0 {
			p.Autoscroll.Step = 600
		}
		if p.Autoscroll.Interval <= 0 {
			p.Autoscroll.Interval = 250 * time.Millisecond
		}
		if p.Autoscroll.MaxSteps <= 0 {
			p.Autoscroll.MaxSteps = 50
		}
		for j := range p.Jobs {
			if p.Jobs[j].ID == "" {
				p.Jobs[j].ID = fmt.Sprintf("%s-job-%d", p.ID, j+1)
			}
		}
	}
}
