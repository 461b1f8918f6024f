package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/getmockd/netlens/pkg/eventstore"
	"github.com/getmockd/netlens/pkg/interceptor"
	"github.com/getmockd/netlens/pkg/kvstore"
	"github.com/getmockd/netlens/pkg/proxy"
	"github.com/getmockd/netlens/pkg/query"
)

// Config is the complete netlens configuration.
type Config struct {
	Monitor MonitorConfig `json:"monitor" yaml:"monitor"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Feed    FeedConfig    `json:"feed" yaml:"feed"`
	Proxy   ProxyConfig   `json:"proxy" yaml:"proxy"`
	Ignore  IgnoreConfig  `json:"ignore" yaml:"ignore"`
}

// MonitorConfig configures capture.
type MonitorConfig struct {
	MaxEvents   int      `json:"maxEvents" yaml:"maxEvents"`
	MaxBodySize int64    `json:"maxBodySize" yaml:"maxBodySize"`
	IgnoreURLs  []string `json:"ignoreURLs,omitempty" yaml:"ignoreURLs,omitempty"`
	StartActive bool     `json:"startActive" yaml:"startActive"`

	// Filter is the initial view filter.
	Filter query.Filter `json:"filter,omitzero" yaml:"filter,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	File   string `json:"file,omitempty" yaml:"file,omitempty"`
}

// FeedConfig configures the read API.
type FeedConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// ProxyConfig configures the observed forward proxy. An empty Addr
// disables it.
type ProxyConfig struct {
	Addr    string        `json:"addr,omitempty" yaml:"addr,omitempty"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	Rules   proxy.Rules   `json:"rules,omitzero" yaml:"rules,omitempty"`
}

// IgnoreConfig selects where ignore patterns are persisted.
type IgnoreConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Default ports.
const (
	DefaultFeedAddr     = "127.0.0.1:7070"
	DefaultProxyTimeout = 30 * time.Second
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Monitor: MonitorConfig{
			MaxEvents:   eventstore.DefaultMaxEvents,
			MaxBodySize: interceptor.DefaultMaxBodySize,
			StartActive: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Feed: FeedConfig{
			Addr: DefaultFeedAddr,
		},
		Proxy: ProxyConfig{
			Timeout: DefaultProxyTimeout,
		},
		Ignore: IgnoreConfig{
			Backend: kvstore.BackendMemory,
		},
	}
}

// IgnorePath returns the configured ignore store path, or the default
// location for file-backed stores.
func (c *IgnoreConfig) IgnorePath() string {
	if c.Path != "" {
		return c.Path
	}
	switch c.Backend {
	case kvstore.BackendFile:
		return filepath.Join(DefaultDataDir(), "ignore.json")
	case kvstore.BackendSQLite:
		return filepath.Join(DefaultDataDir(), "netlens.db")
	}
	return ""
}

// DefaultDataDir returns the per-user data directory following the XDG
// conventions on Linux.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "netlens")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".netlens")
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "netlens")
	case "windows":
		if appData := os.Getenv("LOCALAPPDATA"); appData != "" {
			return filepath.Join(appData, "netlens")
		}
		return filepath.Join(home, "AppData", "Local", "netlens")
	}
	return filepath.Join(home, ".local", "share", "netlens")
}
