package proxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/netlens/pkg/monitor"
	"github.com/getmockd/netlens/pkg/netevent"
)

type fixture struct {
	mon      *monitor.Monitor
	proxy    *Proxy
	upstream *httptest.Server
	client   *http.Client
}

func newFixture(t *testing.T, rules *Rules) *fixture {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /items", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Seen-Forwarded-For", r.Header.Get("X-Forwarded-For"))
		w.Header().Set("X-Seen-Proxy-Auth", r.Header.Get("Proxy-Authorization"))
		w.Header().Set("X-Seen-Custom", r.Header.Get("X-Custom"))
		_, _ = io.WriteString(w, `{"items":[1,2,3]}`)
	})
	mux.HandleFunc("POST /echo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
		_, _ = io.Copy(w, r.Body)
	})
	mux.HandleFunc("GET /moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/items", http.StatusFound)
	})
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)

	mon := monitor.New(context.Background(), monitor.Options{})
	t.Cleanup(mon.Close)
	mon.StartListening()

	upstreamClient := &http.Client{Transport: mon.WrapTransport(nil), Timeout: 5 * time.Second}
	p := New(Options{Client: upstreamClient, Rules: rules})
	front := httptest.NewServer(p)
	t.Cleanup(front.Close)

	proxyURL, err := url.Parse(front.URL)
	require.NoError(t, err)
	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	t.Cleanup(client.CloseIdleConnections)

	return &fixture{mon: mon, proxy: p, upstream: upstream, client: client}
}

func (f *fixture) completed(t *testing.T, n int) []netevent.NetworkEvent {
	t.Helper()
	require.Eventually(t, func() bool {
		events := f.mon.Events()
		if len(events) != n {
			return false
		}
		for _, ev := range events {
			if ev.DurationMs == nil {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
	return f.mon.Events()
}

func TestProxy_ForwardsAndCaptures(t *testing.T) {
	f := newFixture(t, nil)

	req, err := http.NewRequest(http.MethodGet, f.upstream.URL+"/items?limit=3", nil)
	require.NoError(t, err)
	req.Header.Set("X-Custom", "kept")
	req.Header.Set("Proxy-Authorization", "Basic c2VjcmV0")

	resp, err := f.client.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"items":[1,2,3]}`, string(body))
	assert.Equal(t, "kept", resp.Header.Get("X-Seen-Custom"))
	assert.Empty(t, resp.Header.Get("X-Seen-Proxy-Auth"))
	assert.Equal(t, "127.0.0.1", resp.Header.Get("X-Seen-Forwarded-For"))

	events := f.completed(t, 1)
	ev := events[0]
	assert.Equal(t, "GET", ev.Method)
	assert.Equal(t, "/items", ev.Path)
	assert.Equal(t, []string{"3"}, ev.Query["limit"])
	assert.Equal(t, 200, ev.Status)
	assert.Equal(t, netevent.ContentJSON, ev.ContentType)
	require.NotNil(t, ev.ResponseBody)
	assert.Equal(t, netevent.BodyJSON, ev.ResponseBody.Kind)
	assert.Equal(t, "kept", ev.RequestHeaders.Get("X-Custom"))
}

func TestProxy_RequestBody(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.client.Post(f.upstream.URL+"/echo", "application/json", strings.NewReader(`{"name":"ada"}`))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.JSONEq(t, `{"name":"ada"}`, string(body))

	ev := f.completed(t, 1)[0]
	require.NotNil(t, ev.RequestBody)
	assert.Equal(t, netevent.BodyJSON, ev.RequestBody.Kind)
	assert.Equal(t, int64(len(`{"name":"ada"}`)), ev.RequestSize)
}

func TestProxy_RedirectsPassThrough(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.client.Get(f.upstream.URL + "/moved")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/items", resp.Header.Get("Location"))
	ev := f.completed(t, 1)[0]
	assert.Equal(t, 302, ev.Status)
}

func TestProxy_UpstreamFailure(t *testing.T) {
	f := newFixture(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := ln.Addr().String()
	require.NoError(t, ln.Close())

	resp, err := f.client.Get("http://" + dead + "/nothing")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	ev := f.completed(t, 1)[0]
	assert.NotEmpty(t, ev.Error)
	assert.Zero(t, ev.Status)
}

func TestProxy_RulesBlock(t *testing.T) {
	f := newFixture(t, &Rules{DenyPaths: []string{"/items"}})

	resp, err := f.client.Get(f.upstream.URL + "/items")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, f.mon.Events())

	f.proxy.SetRules(nil)
	resp, err = f.client.Get(f.upstream.URL + "/items")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	f.completed(t, 1)
}

func TestProxy_RejectsConnect(t *testing.T) {
	p := New(Options{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodConnect, "http://example.com:443", nil)
	req.Host = "example.com:443"

	p.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Allow"))
}

func TestProxy_RejectsOriginForm(t *testing.T) {
	p := New(Options{})
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/relative", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveConnectionHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "X-Trace, keep-alive")
	h.Set("X-Trace", "1")
	h.Set("X-Keep", "yes")
	removeConnectionHeaders(h)
	removeHopByHopHeaders(h)
	assert.Empty(t, h.Get("X-Trace"))
	assert.Empty(t, h.Get("Connection"))
	assert.Equal(t, "yes", h.Get("X-Keep"))
}
