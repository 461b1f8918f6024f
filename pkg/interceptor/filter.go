package interceptor

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultIgnoreURLs are infrastructure endpoints that are never observed.
// Patterns use doublestar syntax and match "host/path".
var DefaultIgnoreURLs = []string{
	"**/symbolicate",
	"**/reload",
	"**/debugger-proxy*",
	"**/debug/pprof/**",
	"localhost:8081/**",
	"127.0.0.1:8081/**",
	"10.0.2.2:8081/**",
	"localhost:8097/**",
}

// urlFilter decides which requests are excluded from observation.
type urlFilter struct {
	patterns []string
}

// newURLFilter compiles the default patterns plus extra ones. Invalid
// patterns are logged and skipped.
func newURLFilter(extra []string, log *slog.Logger) *urlFilter {
	f := &urlFilter{patterns: make([]string, 0, len(DefaultIgnoreURLs)+len(extra))}
	for _, p := range append(append([]string{}, DefaultIgnoreURLs...), extra...) {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			log.Warn("skipping invalid ignore pattern", "pattern", p)
			continue
		}
		f.patterns = append(f.patterns, p)
	}
	return f
}

// ignored reports whether a request to u must not be observed.
func (f *urlFilter) ignored(u *url.URL) bool {
	if u == nil {
		return false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	candidate := strings.ToLower(u.Host + path)
	for _, p := range f.patterns {
		if ok, _ := doublestar.Match(p, candidate); ok {
			return true
		}
	}
	return false
}

// ignoredRaw parses raw and applies ignored. Unparseable URLs are observed.
func (f *urlFilter) ignoredRaw(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return f.ignored(u)
}
