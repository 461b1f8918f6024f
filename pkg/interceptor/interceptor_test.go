package interceptor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/netlens/pkg/netevent"
)

// collector records lifecycle events delivered to a listener.
type collector struct {
	mu     sync.Mutex
	events []netevent.Lifecycle
}

func (c *collector) listen(l netevent.Lifecycle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, l)
}

func (c *collector) all() []netevent.Lifecycle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]netevent.Lifecycle(nil), c.events...)
}

func (c *collector) phases() []netevent.Phase {
	var out []netevent.Phase
	for _, l := range c.all() {
		out = append(out, l.Phase)
	}
	return out
}

// echoHandler reflects the request it received as JSON.
func echoHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	w.Header()["X-Echo-Multi"] = []string{"one", "two"}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"method":   r.Method,
		"rawQuery": r.URL.RawQuery,
		"headers":  r.Header,
		"body":     string(body),
		"length":   r.ContentLength,
	})
}

func newActive(t *testing.T, opts Options) (*Interceptor, *collector, *http.Client) {
	t.Helper()
	ic := New(opts)
	c := &collector{}
	ic.AddListener(c.listen)
	client := &http.Client{}
	ic.Attach(client)
	ic.Start()
	t.Cleanup(func() {
		if ic.IsActive() {
			ic.Stop()
		}
	})
	return ic, c, client
}

func doRequest(t *testing.T, client *http.Client, method, url string, body io.Reader, header http.Header) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, data
}

func TestTransparency_EchoRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer srv.Close()

	const query = "/echo?a=1&a=2&space=hello%20world&sym=%26%3D%3F%2B&utf=%C3%A9&empty=&flag"
	header := http.Header{
		"X-Multi":        {"first", "second"},
		"Content-Type":   {"application/json"},
		"X-Special-Char": {`a "quoted" value; with=stuff`},
	}
	payload := `{"name":"widget","tags":["a","b"],"emoji":"✓"}`

	_, plain := doRequest(t, &http.Client{}, http.MethodPost, srv.URL+query, strings.NewReader(payload), header)

	_, c, client := newActive(t, Options{})
	resp, observed := doRequest(t, client, http.MethodPost, srv.URL+query, strings.NewReader(payload), header)

	assert.Equal(t, string(plain), string(observed), "server must see identical bytes")
	assert.Equal(t, []string{"one", "two"}, resp.Header["X-Echo-Multi"])

	events := c.all()
	require.Len(t, events, 2)
	assert.Equal(t, netevent.PhaseRequest, events[0].Phase)
	assert.Equal(t, netevent.PhaseResponse, events[1].Phase)
	assert.Equal(t, events[0].RequestID, events[1].RequestID)
	assert.Equal(t, payload, string(events[0].Body.Data))
	assert.Equal(t, []string{"first", "second"}, events[0].Headers["X-Multi"])
	assert.Equal(t, string(observed), string(events[1].ResponseBody.Data))
	assert.Equal(t, 200, events[1].Status)
	assert.Equal(t, "OK", events[1].StatusText)
}

func TestDoubleReadSafety(t *testing.T) {
	content := strings.Repeat("0123456789", 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, content)
	}))
	defer srv.Close()

	_, c, client := newActive(t, Options{})

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)

	// The terminal event waits for the body.
	assert.Equal(t, []netevent.Phase{netevent.PhaseRequest}, c.phases())

	// Read in small chunks to exercise the tee.
	var got bytes.Buffer
	buf := make([]byte, 7)
	for {
		n, err := resp.Body.Read(buf)
		got.Write(buf[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, content, got.String())
	events := c.all()
	require.Len(t, events, 2)
	assert.Equal(t, content, string(events[1].ResponseBody.Data))
	assert.False(t, events[1].ResponseBody.Truncated)
	assert.Equal(t, int64(len(content)), events[1].ResponseBody.Size)
}

func TestStartIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer srv.Close()

	original := &http.Transport{}
	client := &http.Client{Transport: original}

	ic := New(Options{})
	c := &collector{}
	ic.AddListener(c.listen)
	ic.Attach(client)

	ic.Start()
	ic.Start()
	require.True(t, ic.IsActive())

	wrapped, ok := client.Transport.(*Transport)
	require.True(t, ok)
	assert.Same(t, original, wrapped.Base(), "transport must be wrapped exactly once")

	doRequest(t, client, http.MethodGet, srv.URL, nil, nil)
	assert.Len(t, c.all(), 2, "one request and one response event")

	ic.Stop()
	assert.Same(t, original, client.Transport)
}

func TestStopRestoresNilTransport(t *testing.T) {
	client := &http.Client{}
	ic := New(Options{})
	ic.Attach(client)

	ic.Start()
	assert.NotNil(t, client.Transport)
	ic.Stop()
	assert.Nil(t, client.Transport)
	assert.False(t, ic.IsActive())
}

func TestStopWhenInactiveIsNoop(t *testing.T) {
	ic := New(Options{})
	require.NotPanics(t, ic.Stop)
	assert.False(t, ic.IsActive())
}

func TestAttachWhileActive(t *testing.T) {
	ic := New(Options{})
	ic.Start()
	defer ic.Stop()

	client := &http.Client{}
	ic.Attach(client)
	ic.Attach(client)
	_, ok := client.Transport.(*Transport)
	assert.True(t, ok)

	ic.Detach(client)
	assert.Nil(t, client.Transport)
}

func TestAttachClientAlreadyWrapped(t *testing.T) {
	ic := New(Options{})
	wrapped := ic.WrapTransport(http.DefaultTransport)
	client := &http.Client{Transport: wrapped}
	ic.Attach(client)

	ic.Start()
	assert.Same(t, wrapped, client.Transport)
	assert.Same(t, wrapped, ic.WrapTransport(wrapped))
	ic.Stop()
	assert.Same(t, wrapped, client.Transport)
}

func TestInactiveTransportDoesNotEmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer srv.Close()

	ic := New(Options{})
	c := &collector{}
	ic.AddListener(c.listen)
	client := &http.Client{Transport: ic.WrapTransport(nil)}

	doRequest(t, client, http.MethodGet, srv.URL, nil, nil)
	assert.Empty(t, c.all())

	ic.Start()
	defer ic.Stop()
	doRequest(t, client, http.MethodGet, srv.URL, nil, nil)
	assert.Len(t, c.all(), 2)
}

func TestListeners(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer srv.Close()

	ic := New(Options{})
	ic.AddListener(func(netevent.Lifecycle) { panic("listener failure") })
	c := &collector{}
	unsubscribe := ic.AddListener(c.listen)
	other := &collector{}
	ic.AddListener(other.listen)
	assert.Equal(t, 3, ic.ListenerCount())

	client := &http.Client{}
	ic.Attach(client)
	ic.Start()
	defer ic.Stop()

	var data []byte
	require.NotPanics(t, func() {
		_, data = doRequest(t, client, http.MethodGet, srv.URL, nil, nil)
	})
	assert.NotEmpty(t, data)
	assert.Len(t, c.all(), 2)
	assert.Len(t, other.all(), 2)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 2, ic.ListenerCount())

	doRequest(t, client, http.MethodGet, srv.URL, nil, nil)
	assert.Len(t, c.all(), 2)
	assert.Len(t, other.all(), 4)
}

func TestIgnoredURLsAreNotObserved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer srv.Close()

	_, c, client := newActive(t, Options{IgnoreURLs: []string{"**/healthz"}})

	resp, data := doRequest(t, client, http.MethodPost, srv.URL+"/symbolicate", strings.NewReader("stack"), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "stack")

	doRequest(t, client, http.MethodGet, srv.URL+"/healthz", nil, nil)
	assert.Empty(t, c.all())

	doRequest(t, client, http.MethodGet, srv.URL+"/api", nil, nil)
	assert.Len(t, c.all(), 2)
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	url := srv.URL
	srv.Close()

	_, c, client := newActive(t, Options{})

	_, plainErr := (&http.Client{}).Get(url)
	require.Error(t, plainErr)

	resp, err := client.Get(url)
	require.Error(t, err)
	assert.Nil(t, resp)

	events := c.all()
	require.Len(t, events, 2)
	assert.Equal(t, netevent.PhaseError, events[1].Phase)
	assert.Error(t, events[1].Err)
	assert.Zero(t, events[1].Status)
	assert.False(t, events[1].Aborted)
}

func TestCancelledRequestIsAborted(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, c, client := newActive(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	events := c.all()
	require.Len(t, events, 2)
	assert.Equal(t, netevent.PhaseError, events[1].Phase)
	assert.True(t, events[1].Aborted)
}

// opaqueReader hides its concrete type so http.NewRequest sets no GetBody.
type opaqueReader struct {
	r io.Reader
}

func (o *opaqueReader) Read(p []byte) (int, error) { return o.r.Read(p) }

func TestRequestBodyWithoutGetBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer srv.Close()

	_, c, client := newActive(t, Options{MaxBodySize: 4})

	payload := "abcdefghij"
	req, err := http.NewRequest(http.MethodPut, srv.URL, &opaqueReader{r: strings.NewReader(payload)})
	require.NoError(t, err)
	req.ContentLength = int64(len(payload))
	require.Nil(t, req.GetBody)

	resp, err := client.Do(req)
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	var echoed map[string]any
	require.NoError(t, json.Unmarshal(data, &echoed))
	assert.Equal(t, payload, echoed["body"])
	assert.Equal(t, float64(len(payload)), echoed["length"])

	events := c.all()
	require.NotEmpty(t, events)
	assert.Equal(t, "abcd", string(events[0].Body.Data))
	assert.True(t, events[0].Body.Truncated)
	assert.Equal(t, int64(len(payload)), events[0].Body.Size)
}

func TestStreamingRequestBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer srv.Close()

	_, c, client := newActive(t, Options{})

	pr, pw := io.Pipe()
	go func() {
		_, _ = io.WriteString(pw, `{"chunk":1}`)
		_ = pw.Close()
	}()

	req, err := http.NewRequest(http.MethodPost, srv.URL, pr)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	var echoed map[string]any
	require.NoError(t, json.Unmarshal(data, &echoed))
	assert.Equal(t, `{"chunk":1}`, echoed["body"])

	events := c.all()
	require.Len(t, events, 2)
	assert.Empty(t, events[0].Body.Data, "unknown-length body is not read before dispatch")
	assert.Equal(t, `{"chunk":1}`, string(events[1].Body.Data))
}

func TestResponseCaptureIsBounded(t *testing.T) {
	content := strings.Repeat("x", 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, content)
	}))
	defer srv.Close()

	_, c, client := newActive(t, Options{MaxBodySize: 8})

	_, data := doRequest(t, client, http.MethodGet, srv.URL, nil, nil)
	assert.Equal(t, content, string(data))

	events := c.all()
	require.Len(t, events, 2)
	assert.Equal(t, "xxxxxxxx", string(events[1].ResponseBody.Data))
	assert.True(t, events[1].ResponseBody.Truncated)
	assert.Equal(t, int64(100), events[1].ResponseBody.Size)
}

func TestEarlyCloseMarksPartialBody(t *testing.T) {
	content := strings.Repeat("y", 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, content)
	}))
	defer srv.Close()

	_, c, client := newActive(t, Options{})

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	buf := make([]byte, 10)
	_, err = io.ReadFull(resp.Body, buf)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	events := c.all()
	require.Len(t, events, 2)
	assert.True(t, events[1].ResponseBody.Truncated)
	assert.Equal(t, 200, events[1].Status)
}

func TestChunkedJSONDecodedThenClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"a":`)
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, `1}`)
	}))
	defer srv.Close()

	_, c, client := newActive(t, Options{})

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), resp.ContentLength)
	var v map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, 1, v["a"])

	events := c.all()
	require.Len(t, events, 2)
	assert.False(t, events[1].ResponseBody.Truncated)
	body := netevent.DecodeBody(events[1].ResponseBody, "application/json")
	require.NotNil(t, body)
	assert.Equal(t, netevent.BodyJSON, body.Kind)
	assert.Equal(t, map[string]any{"a": float64(1)}, body.JSON)
}

func TestChunkedPartialJSONStaysTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"items":[1,2,`)
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, strings.Repeat("3,", 32*1024)+`4]}`)
	}))
	defer srv.Close()

	_, c, client := newActive(t, Options{})

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(resp.Body, buf)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	events := c.all()
	require.Len(t, events, 2)
	assert.True(t, events[1].ResponseBody.Truncated)
}

func TestHeadResponseCompletesImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(echoHandler))
	defer srv.Close()

	_, c, client := newActive(t, Options{})

	resp, err := client.Head(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, []netevent.Phase{netevent.PhaseRequest, netevent.PhaseResponse}, c.phases())
}
