package proxy

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Rules decide which requests the proxy forwards. Hosts are matched
// case-insensitively with the port stripped; paths use doublestar globs.
type Rules struct {
	AllowHosts []string `json:"allowHosts,omitempty" yaml:"allowHosts,omitempty"` // empty = all
	DenyHosts  []string `json:"denyHosts,omitempty" yaml:"denyHosts,omitempty"`
	DenyPaths  []string `json:"denyPaths,omitempty" yaml:"denyPaths,omitempty"`
}

// Allows reports whether a request for host and path may be forwarded.
// Precedence:
// 1. Any deny match rejects.
// 2. If AllowHosts is non-empty the host must match one of them.
func (r *Rules) Allows(host, path string) bool {
	if r == nil {
		return true
	}
	host = hostOnly(host)

	for _, p := range r.DenyHosts {
		if matchHost(p, host) {
			return false
		}
	}
	for _, p := range r.DenyPaths {
		if ok, _ := doublestar.Match(p, path); ok {
			return false
		}
	}
	if len(r.AllowHosts) == 0 {
		return true
	}
	for _, p := range r.AllowHosts {
		if matchHost(p, host) {
			return true
		}
	}
	return false
}

// Valid reports the first malformed pattern, if any.
func (r *Rules) Valid() (string, bool) {
	if r == nil {
		return "", true
	}
	for _, set := range [][]string{r.AllowHosts, r.DenyHosts, r.DenyPaths} {
		for _, p := range set {
			if !doublestar.ValidatePattern(p) {
				return p, false
			}
		}
	}
	return "", true
}

func matchHost(pattern, host string) bool {
	ok, _ := doublestar.Match(strings.ToLower(pattern), host)
	return ok
}

func hostOnly(host string) string {
	host = strings.ToLower(host)
	if strings.HasPrefix(host, "[") {
		if i := strings.Index(host, "]"); i > 0 {
			return host[1:i]
		}
		return host
	}
	if i := strings.LastIndex(host, ":"); i >= 0 {
		return host[:i]
	}
	return host
}
