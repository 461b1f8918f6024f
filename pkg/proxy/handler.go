package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
)

var errNotAbsolute = errors.New("proxy requests must use an absolute http URL")

// hop-by-hop headers, RFC 9110 section 7.6.1.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func (p *Proxy) handleHTTP(w http.ResponseWriter, r *http.Request) {
	out, err := p.outgoing(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !p.Rules().Allows(out.URL.Host, out.URL.Path) {
		p.log.Info("request blocked by rules", "method", r.Method, "url", out.URL.String())
		http.Error(w, "blocked by proxy rules", http.StatusForbidden)
		return
	}

	if p.client.Timeout > 0 {
		ctx, cancel := context.WithTimeout(out.Context(), p.client.Timeout)
		defer cancel()
		out = out.WithContext(ctx)
	}

	resp, err := p.transport().RoundTrip(out)
	if err != nil {
		p.log.Warn("upstream request failed", "method", r.Method, "url", out.URL.String(), "error", err)
		http.Error(w, "upstream request failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	removeHopByHopHeaders(resp.Header)
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		p.log.Debug("response copy interrupted", "url", out.URL.String(), "written", n, "error", err)
		return
	}
	p.log.Debug("proxied", "method", r.Method, "url", out.URL.String(), "status", resp.StatusCode, "bytes", n)
}

// outgoing builds the upstream request from an incoming proxy request.
func (p *Proxy) outgoing(r *http.Request) (*http.Request, error) {
	if r.URL.Host == "" || (r.URL.Scheme != "http" && r.URL.Scheme != "https") {
		return nil, errNotAbsolute
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), r.Body)
	if err != nil {
		return nil, err
	}
	out.ContentLength = r.ContentLength
	if r.ContentLength == 0 {
		out.Body = http.NoBody
	}

	removeConnectionHeaders(r.Header)
	copyHeaders(out.Header, r.Header)
	removeHopByHopHeaders(out.Header)

	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := out.Header.Get("X-Forwarded-For"); prior != "" {
			ip = prior + ", " + ip
		}
		out.Header.Set("X-Forwarded-For", ip)
	}
	return out, nil
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func removeHopByHopHeaders(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// removeConnectionHeaders drops headers listed in the Connection header.
func removeConnectionHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
}
