package interceptor

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getmockd/netlens/pkg/netevent"
)

// Transport is an http.RoundTripper that reports lifecycle events for every
// round trip made through it while its Interceptor is active.
type Transport struct {
	ic   *Interceptor
	base http.RoundTripper
}

// Base returns the wrapped transport.
func (t *Transport) Base() http.RoundTripper {
	return t.base
}

// RoundTrip forwards req to the base transport and returns exactly what the
// base returned.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	ic := t.ic
	if !ic.IsActive() || ic.filter.ignored(req.URL) {
		return base.RoundTrip(req)
	}

	reqID := ic.seq.Next(string(netevent.ClientKindHTTP))
	start := time.Now()
	capture := ic.captureRequest(req)

	ic.emit(netevent.Lifecycle{
		Phase:      netevent.PhaseRequest,
		RequestID:  reqID,
		ClientKind: netevent.ClientKindHTTP,
		Timestamp:  start,
		Method:     requestMethod(req),
		URL:        req.URL.String(),
		Headers:    req.Header.Clone(),
		Body:       capture.payload,
	})

	resp, err := base.RoundTrip(capture.out)
	elapsed := time.Since(start)

	if err != nil || resp == nil {
		if err == nil {
			err = errors.New("transport returned no response")
		}
		ic.emit(netevent.Lifecycle{
			Phase:     netevent.PhaseError,
			RequestID: reqID,
			Timestamp: time.Now(),
			Body:      streamed(capture),
			Duration:  elapsed,
			Err:       err,
			Aborted:   aborted(req.Context(), err),
		})
		return resp, err
	}

	done := func(body netevent.Payload) {
		ic.emit(netevent.Lifecycle{
			Phase:           netevent.PhaseResponse,
			RequestID:       reqID,
			Timestamp:       time.Now(),
			Body:            streamed(capture),
			Status:          resp.StatusCode,
			StatusText:      statusText(resp),
			Protocol:        resp.Proto,
			ResponseHeaders: resp.Header.Clone(),
			ResponseBody:    body,
			Duration:        elapsed,
		})
	}

	if resp.Body == nil || resp.Body == http.NoBody || resp.StatusCode == http.StatusSwitchingProtocols {
		done(netevent.Payload{Size: max(resp.ContentLength, 0)})
		return resp, nil
	}
	resp.Body = newCaptureBody(resp.Body, ic.maxBody, resp.ContentLength, done)
	return resp, nil
}

// streamed returns the request body recorded during transmission, if the
// body was streamed rather than captured up front.
func streamed(c requestCapture) netevent.Payload {
	if c.stream == nil {
		return netevent.Payload{}
	}
	return c.stream.rec.payload(-1, false)
}

func requestMethod(req *http.Request) string {
	if req.Method == "" {
		return http.MethodGet
	}
	return req.Method
}

// statusText strips the numeric code from resp.Status.
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

// aborted reports whether err stems from the caller cancelling the request.
func aborted(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil
}
