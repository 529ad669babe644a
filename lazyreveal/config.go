package lazyreveal

import (
	"github.com/hazyhaar/lazyreveal/lazyreveal/internal/config"
)

// Config is the top-level runner configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// RevealConfig is the controller configuration applied to every page.
type RevealConfig = config.RevealConfig

// PageConfig defines a page and its jobs.
type PageConfig = config.PageConfig

// AutoscrollConfig drives scrolling of browser pages.
type AutoscrollConfig = config.AutoscrollConfig

// JobConfig is one batch operation.
type JobConfig = config.JobConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes YAML configuration and applies defaults.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}

// JobsSchema creates the reveal_jobs table read on Start.
const JobsSchema = config.Schema
