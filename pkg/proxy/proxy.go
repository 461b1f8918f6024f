// Package proxy implements an HTTP forward proxy whose upstream client is
// instrumented, so everything it forwards shows up in the monitor.
package proxy

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/getmockd/netlens/pkg/logging"
)

// Options configures a Proxy.
type Options struct {
	// Client supplies the upstream transport and timeout, normally a
	// transport from Monitor.WrapTransport. Redirects are never followed;
	// they go back to the caller.
	Client *http.Client
	Rules  *Rules
	Logger *slog.Logger
}

// Proxy forwards absolute-URI requests. It does not record anything itself.
type Proxy struct {
	client *http.Client
	log    *slog.Logger

	mu    sync.RWMutex
	rules *Rules
}

// New creates a proxy.
func New(opts Options) *Proxy {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Proxy{
		client: client,
		rules:  opts.Rules,
		log:    logging.OrNop(opts.Logger),
	}
}

// SetRules replaces the forwarding rules. nil allows everything.
func (p *Proxy) SetRules(r *Rules) {
	p.mu.Lock()
	p.rules = r
	p.mu.Unlock()
}

// Rules returns the current forwarding rules.
func (p *Proxy) Rules() *Rules {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rules
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		// Tunnelled bytes are opaque to the interceptor.
		p.log.Debug("rejecting CONNECT", "host", r.Host)
		w.Header().Set("Allow", "GET, HEAD, POST, PUT, PATCH, DELETE, OPTIONS")
		http.Error(w, "CONNECT tunnelling is not supported", http.StatusMethodNotAllowed)
		return
	}
	p.handleHTTP(w, r)
}

func (p *Proxy) transport() http.RoundTripper {
	if p.client.Transport != nil {
		return p.client.Transport
	}
	return http.DefaultTransport
}
