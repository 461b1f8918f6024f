package netevent

import (
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/getmockd/netlens/pkg/logging"
)

// Normalizer folds raw Lifecycle events into NetworkEvent records. It keeps
// the pending record of every in-flight request so that terminal events can
// be applied to the same record. Safe for concurrent use.
type Normalizer struct {
	mu      sync.Mutex
	pending map[string]*NetworkEvent
	log     *slog.Logger
}

// NewNormalizer creates a Normalizer. A nil logger discards output.
func NewNormalizer(log *slog.Logger) *Normalizer {
	log = logging.OrNop(log)
	return &Normalizer{
		pending: make(map[string]*NetworkEvent),
		log:     log,
	}
}

// Apply converts a lifecycle event into the current state of its record.
// It returns false when the event cannot be applied: an unknown phase, a
// duplicate request id, or a terminal event without a pending record.
// Returned records are copies; later transitions never mutate them.
func (n *Normalizer) Apply(l Lifecycle) (NetworkEvent, bool) {
	switch l.Phase {
	case PhaseRequest:
		return n.begin(l)
	case PhaseResponse, PhaseError:
		return n.complete(l)
	default:
		n.log.Warn("dropping lifecycle event with unknown phase", "phase", l.Phase, "id", l.RequestID)
		return NetworkEvent{}, false
	}
}

func (n *Normalizer) begin(l Lifecycle) (NetworkEvent, bool) {
	ev := newPending(l)

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, dup := n.pending[l.RequestID]; dup {
		n.log.Warn("dropping duplicate request event", "id", l.RequestID)
		return NetworkEvent{}, false
	}
	n.pending[l.RequestID] = &ev
	return ev, true
}

func (n *Normalizer) complete(l Lifecycle) (NetworkEvent, bool) {
	n.mu.Lock()
	prev, ok := n.pending[l.RequestID]
	if ok {
		delete(n.pending, l.RequestID)
	}
	n.mu.Unlock()

	if !ok {
		n.log.Warn("dropping terminal event without pending request", "id", l.RequestID, "phase", l.Phase)
		return NetworkEvent{}, false
	}

	ev := *prev
	if ev.RequestBody == nil && (len(l.Body.Data) > 0 || l.Body.Size > 0) {
		// Bodies of unknown length are only known once they were sent.
		ev.RequestBody = DecodeBody(l.Body, ev.RequestHeaders.Get("Content-Type"))
		ev.RequestSize = payloadSize(l.Body)
		if ev.GraphQL == nil {
			ev.GraphQL = ExtractGraphQL(ev.RequestBody, ev.Query)
		}
	}
	ms := l.Duration.Milliseconds()
	ev.DurationMs = &ms

	if l.Phase == PhaseError || l.Status == 0 {
		ev.Error = errorMessage(l)
		ev.Aborted = l.Aborted
		return ev, true
	}

	ev.Status = l.Status
	ev.StatusText = l.StatusText
	ev.Protocol = l.Protocol
	ev.ResponseHeaders = HeadersFrom(l.ResponseHeaders)
	ct := l.ResponseHeaders.Get("Content-Type")
	ev.ResponseBody = DecodeBody(l.ResponseBody, ct)
	ev.ResponseSize = payloadSize(l.ResponseBody)
	ev.ContentType = Classify(ct)
	return ev, true
}

// Pending returns the number of in-flight requests.
func (n *Normalizer) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

// Forget drops the pending records of the given requests. Terminal events
// that arrive later for them are dropped.
func (n *Normalizer) Forget(ids ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, id := range ids {
		delete(n.pending, id)
	}
}

// Reset forgets every in-flight request. Terminal events that arrive later
// for those requests are dropped.
func (n *Normalizer) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = make(map[string]*NetworkEvent)
}

// newPending builds the pending record for a request event.
func newPending(l Lifecycle) NetworkEvent {
	ts := l.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	ev := NetworkEvent{
		ID:             l.RequestID,
		ClientKind:     l.ClientKind,
		Method:         l.Method,
		URL:            l.URL,
		RequestHeaders: HeadersFrom(l.Headers),
		RequestSize:    payloadSize(l.Body),
		Timestamp:      ts,
	}
	if ev.ClientKind == "" {
		ev.ClientKind = ClientKindHTTP
	}

	var query url.Values
	if u, err := url.Parse(l.URL); err == nil {
		ev.Host = u.Host
		ev.Path = u.Path
		if ev.Path == "" {
			ev.Path = "/"
		}
		query = u.Query()
		if len(query) > 0 {
			ev.Query = query
		}
	}

	ct := l.Headers.Get("Content-Type")
	ev.RequestBody = DecodeBody(l.Body, ct)
	ev.ContentType = Classify(ct)
	ev.GraphQL = ExtractGraphQL(ev.RequestBody, query)
	return ev
}

// payloadSize returns the best-effort size of a payload.
func payloadSize(p Payload) int64 {
	if p.Size > 0 {
		return p.Size
	}
	return int64(len(p.Data))
}

// errorMessage returns the human-readable failure of a terminal event.
func errorMessage(l Lifecycle) string {
	switch {
	case l.Err != nil:
		return l.Err.Error()
	case l.Aborted:
		return "request aborted"
	default:
		return "network error"
	}
}
