package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/getmockd/netlens/pkg/config"
	"github.com/getmockd/netlens/pkg/logging"
)

// loadConfig reads --config (or the defaults) and applies the log flag
// overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openLogger builds the process logger from cfg. Logs go to stderr so stdout
// stays clean for --json output.
func openLogger(cfg *config.Config, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	if stderr == nil {
		stderr = os.Stderr
	}
	return logging.Open(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: logging.ParseFormat(cfg.Log.Format),
		Output: stderr,
		File:   cfg.Log.File,
	})
}
