package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/getmockd/netlens/pkg/kvstore"
)

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

var validLogFormats = map[string]bool{"text": true, "json": true}

var validBackends = map[string]bool{
	kvstore.BackendMemory: true,
	kvstore.BackendFile:   true,
	kvstore.BackendSQLite: true,
}

// Validate checks every section and returns all problems found.
func (c *Config) Validate() error {
	var errs []error

	if c.Monitor.MaxEvents <= 0 {
		errs = append(errs, &ValidationError{Field: "monitor.maxEvents", Message: "must be positive"})
	}
	if c.Monitor.MaxBodySize <= 0 {
		errs = append(errs, &ValidationError{Field: "monitor.maxBodySize", Message: "must be positive"})
	}
	if err := c.Monitor.Filter.Validate(); err != nil {
		errs = append(errs, &ValidationError{Field: "monitor.filter", Message: err.Error()})
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, &ValidationError{Field: "log.level", Message: fmt.Sprintf("unknown level %q", c.Log.Level)})
	}
	if !validLogFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, &ValidationError{Field: "log.format", Message: fmt.Sprintf("unknown format %q", c.Log.Format)})
	}

	if err := validateAddr(c.Feed.Addr, "feed.addr"); err != nil {
		errs = append(errs, err)
	}
	if c.Proxy.Addr != "" {
		if err := validateAddr(c.Proxy.Addr, "proxy.addr"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Proxy.Timeout < 0 {
		errs = append(errs, &ValidationError{Field: "proxy.timeout", Message: "must not be negative"})
	}
	if bad, ok := c.Proxy.Rules.Valid(); !ok {
		errs = append(errs, &ValidationError{Field: "proxy.rules", Message: fmt.Sprintf("invalid pattern %q", bad)})
	}

	if !validBackends[strings.ToLower(c.Ignore.Backend)] {
		errs = append(errs, &ValidationError{Field: "ignore.backend", Message: fmt.Sprintf("unknown backend %q", c.Ignore.Backend)})
	}

	return errors.Join(errs...)
}

func validateAddr(addr, field string) error {
	if addr == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return &ValidationError{Field: field, Message: fmt.Sprintf("invalid address %q: %v", addr, err)}
	}
	return nil
}
