// Package config loads rtlwatch configuration from YAML and stores the
// user's display preferences in SQLite.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Pages   []PageConfig  `yaml:"pages"`
	Scanner ScannerConfig `yaml:"scanner"`
	Sinks   []SinkConfig  `yaml:"sinks"`
	Storage StorageConfig `yaml:"storage"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"` // DevTools URL of a running Chrome
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// PageConfig defines a page to watch.
type PageConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
	// StealthLevel: 0 fetches over plain HTTP and annotates once, 1 is a
	// headless browser tab, 2 a headful one, auto picks 0 when the markup
	// already holds the text.
	StealthLevel string `yaml:"stealth_level"`
	// Attach reuses an open tab whose URL starts with URL instead of
	// opening one. Needs browser.remote.
	Attach bool `yaml:"attach"`
}

// ScannerConfig tunes the mutation queue.
type ScannerConfig struct {
	Window time.Duration `yaml:"window"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type      string `yaml:"type"` // stdout | webhook | sqlite
	URL       string `yaml:"url"`  // webhook
	MarksOnly bool   `yaml:"marks_only"`
	// Retention drops sqlite history older than this. Zero keeps it all.
	Retention time.Duration `yaml:"retention"`
}

// StorageConfig locates the preference database. Empty DB disables
// persistence.
type StorageConfig struct {
	DB string `yaml:"db"`
	// CleanupInterval is how often sqlite sink retention runs. Default: 10m.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// HTTPConfig enables the message API. Empty Listen disables it.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
	// AllowPrivate lets POST /api/pages open loopback and LAN URLs.
	AllowPrivate bool `yaml:"allow_private"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero fields.
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
	if c.Scanner.Window <= 0 {
		c.Scanner.Window = 200 * time.Millisecond
	}
	for i := range c.Pages {
		p := &c.Pages[i]
		if p.StealthLevel == "" {
			p.StealthLevel = "auto"
		}
		if p.ID == "" {
			p.ID = fmt.Sprintf("page-%d", i+1)
		}
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth %q: want headless or headful", c.Browser.Stealth)
	}
	for _, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: page %s: url required", p.ID)
		}
		switch strings.ToLower(p.StealthLevel) {
		case "0", "1", "2", "auto":
		default:
			return fmt.Errorf("config: page %s: stealth_level %q: want 0, 1, 2 or auto", p.ID, p.StealthLevel)
		}
		if p.Attach && c.Browser.Remote == "" {
			return fmt.Errorf("config: page %s: attach needs browser.remote", p.ID)
		}
	}
	for _, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: webhook sink: url required")
			}
		case "sqlite":
			if c.Storage.DB == "" {
				return fmt.Errorf("config: sqlite sink needs storage.db")
			}
			if s.Retention < 0 {
				return fmt.Errorf("config: sqlite sink: negative retention")
			}
		default:
			return fmt.Errorf("config: unknown sink type %q", s.Type)
		}
	}
	return nil
}
