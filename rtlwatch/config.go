package rtlwatch

import "github.com/hazyhaar/rtlfix/rtlwatch/internal/config"

// Config is the top-level rtlwatch configuration.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig defines a page to watch.
type PageConfig = config.PageConfig

// ScannerConfig tunes the mutation queue.
type ScannerConfig = config.ScannerConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes a YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}
