package interceptor

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/getmockd/netlens/pkg/netevent"
)

// recorder accumulates a bounded copy of the bytes flowing through a body.
type recorder struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int64
	total     int64
	truncated bool
}

func (r *recorder) record(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total += int64(len(p))
	room := r.limit - int64(r.buf.Len())
	if room <= 0 {
		if len(p) > 0 {
			r.truncated = true
		}
		return
	}
	if int64(len(p)) > room {
		p = p[:room]
		r.truncated = true
	}
	r.buf.Write(p)
}

// complete reports whether every advertised byte has been seen.
func (r *recorder) complete(declared int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return declared >= 0 && r.total >= declared
}

// wholeJSON reports whether a body of unknown length recorded a complete
// JSON object or array. Decoders commonly stop at the closing brace and
// close the body without reading the chunked terminator.
func (r *recorder) wholeJSON(declared int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if declared >= 0 || r.truncated {
		return false
	}
	data := bytes.TrimSpace(r.buf.Bytes())
	if len(data) == 0 || (data[0] != '{' && data[0] != '[') {
		return false
	}
	return json.Valid(data)
}

// payload snapshots the recording. declared is the advertised body length
// (-1 when unknown); partial marks a body that was not read to the end.
func (r *recorder) payload(declared int64, partial bool) netevent.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := declared
	if size < 0 {
		size = r.total
	}
	return netevent.Payload{
		Data:      bytes.Clone(r.buf.Bytes()),
		Size:      size,
		Truncated: r.truncated || partial,
	}
}

// captureBody wraps a response body so the caller reads exactly the bytes
// the server sent while a bounded copy is recorded. done runs once, when the
// body reaches EOF, fails, or is closed.
type captureBody struct {
	rc       io.ReadCloser
	rec      recorder
	declared int64
	once     sync.Once
	done     func(netevent.Payload)
}

func newCaptureBody(rc io.ReadCloser, limit, declared int64, done func(netevent.Payload)) *captureBody {
	return &captureBody{rc: rc, rec: recorder{limit: limit}, declared: declared, done: done}
}

func (b *captureBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.rec.record(p[:n])
	}
	if err != nil {
		b.finish(err != io.EOF)
	}
	return n, err
}

func (b *captureBody) Close() error {
	err := b.rc.Close()
	b.finish(!b.rec.complete(b.declared) && !b.rec.wholeJSON(b.declared))
	return err
}

func (b *captureBody) finish(partial bool) {
	b.once.Do(func() {
		b.done(b.rec.payload(b.declared, partial))
	})
}

// teeBody records a streaming request body as the transport sends it.
type teeBody struct {
	rc  io.ReadCloser
	rec recorder
}

func (b *teeBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.rec.record(p[:n])
	}
	return n, err
}

func (b *teeBody) Close() error {
	return b.rc.Close()
}

// replayBody replays a consumed prefix followed by the unread remainder.
type replayBody struct {
	io.Reader
	closer io.Closer
}

func (b *replayBody) Close() error {
	return b.closer.Close()
}

// errReader returns err after the replayed prefix, reproducing the failure
// the transport would have seen reading the original body.
type errReader struct {
	err error
}

func (r errReader) Read([]byte) (int, error) {
	return 0, r.err
}

// requestCapture is the outcome of capturing a request body.
type requestCapture struct {
	// out is the request to forward. It is the caller's request unless the
	// body had to be re-wrapped.
	out *http.Request

	// payload is known at dispatch time when stream is nil.
	payload netevent.Payload

	// stream records a body of unknown length while it is sent.
	stream *teeBody
}

// captureRequest captures the request body without changing the bytes sent.
//
// Bodies with GetBody are read from a fresh copy and the request is
// forwarded untouched. Bodies of known length are read up to the capture
// limit and replayed in front of the remainder. Bodies of unknown length are
// recorded while the transport streams them, so full-duplex callers never
// block on the capture.
func (i *Interceptor) captureRequest(req *http.Request) requestCapture {
	if req.Body == nil || req.Body == http.NoBody {
		return requestCapture{out: req}
	}

	if req.GetBody != nil {
		if rc, err := req.GetBody(); err == nil {
			data, readErr := io.ReadAll(io.LimitReader(rc, i.maxBody+1))
			_ = rc.Close()
			if readErr == nil {
				return requestCapture{out: req, payload: bounded(data, i.maxBody, req.ContentLength)}
			}
		}
	}

	out := req.Clone(req.Context())

	if req.ContentLength <= 0 {
		tee := &teeBody{rc: req.Body, rec: recorder{limit: i.maxBody}}
		out.Body = tee
		return requestCapture{out: out, stream: tee}
	}

	prefix, readErr := io.ReadAll(io.LimitReader(req.Body, i.maxBody+1))
	var rest io.Reader = req.Body
	if readErr != nil {
		rest = errReader{err: readErr}
	}
	out.Body = &replayBody{Reader: io.MultiReader(bytes.NewReader(prefix), rest), closer: req.Body}
	return requestCapture{out: out, payload: bounded(prefix, i.maxBody, req.ContentLength)}
}

// bounded trims data read with a one-byte lookahead to the capture limit.
func bounded(data []byte, limit, declared int64) netevent.Payload {
	p := netevent.Payload{Data: data, Size: declared}
	if int64(len(data)) > limit {
		p.Data = data[:limit]
		p.Truncated = true
	}
	if p.Size <= 0 {
		if p.Truncated {
			p.Size = -1
		} else {
			p.Size = int64(len(data))
		}
	}
	return p
}
