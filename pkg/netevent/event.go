package netevent

import (
	"net/http"
	"sort"
	"strings"
	"time"
)

// ClientKind identifies the calling convention that produced an event.
type ClientKind string

// Client kinds.
const (
	ClientKindHTTP ClientKind = "http"
	ClientKindGRPC ClientKind = "grpc"
)

// Header is a single header field as it was received.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers is an ordered list of header fields. A repeated header appears
// once per value.
type Headers []Header

// HeadersFrom converts an http.Header into Headers, keeping key case as it
// appears in the map and ordering fields by name.
func HeadersFrom(h http.Header) Headers {
	if len(h) == 0 {
		return nil
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(Headers, 0, len(h))
	for _, name := range names {
		for _, v := range h[name] {
			out = append(out, Header{Name: name, Value: v})
		}
	}
	return out
}

// Get returns the first value for name, compared case-insensitively.
func (h Headers) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values returns every value for name, compared case-insensitively.
func (h Headers) Values(name string) []string {
	var out []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// NetworkEvent is the canonical record of one logical request.
type NetworkEvent struct {
	// ID is unique per logical request and stable across its lifecycle.
	ID string `json:"id"`

	// ClientKind is the calling convention that produced the event.
	ClientKind ClientKind `json:"clientKind"`

	Method string              `json:"method"`
	URL    string              `json:"url"`
	Host   string              `json:"host"`
	Path   string              `json:"path"`
	Query  map[string][]string `json:"query,omitempty"`

	RequestHeaders  Headers `json:"requestHeaders,omitempty"`
	ResponseHeaders Headers `json:"responseHeaders,omitempty"`

	RequestBody  *Body `json:"requestBody,omitempty"`
	ResponseBody *Body `json:"responseBody,omitempty"`

	RequestSize  int64 `json:"requestSize"`
	ResponseSize int64 `json:"responseSize"`

	// Status and StatusText are set only after a successful completion.
	Status     int    `json:"status,omitempty"`
	StatusText string `json:"statusText,omitempty"`
	Protocol   string `json:"protocol,omitempty"`

	// ContentType is the coarse category used for filtering and display.
	ContentType ContentCategory `json:"contentType"`

	Timestamp time.Time `json:"timestamp"`

	// DurationMs is set only on the terminal transition.
	DurationMs *int64 `json:"durationMs,omitempty"`

	// Error describes a transport failure.
	Error   string `json:"error,omitempty"`
	Aborted bool   `json:"aborted,omitempty"`

	GraphQL *GraphQLMeta `json:"graphql,omitempty"`
}

// StatusClass is the classification used by status filters and statistics.
type StatusClass string

// Status classes.
const (
	ClassPending  StatusClass = "pending"
	ClassSuccess  StatusClass = "success"
	ClassError    StatusClass = "error"
	ClassRedirect StatusClass = "redirect"
)

// Class classifies the event. An error message or a status of 400 and above
// is an error, a status in [200,300) is a success, no status and no error is
// pending. Everything else (1xx and 3xx) falls in the redirect band, which is
// visible only when no status class is selected.
func (e *NetworkEvent) Class() StatusClass {
	switch {
	case e.Error != "" || e.Status >= 400:
		return ClassError
	case e.Status >= 200 && e.Status < 300:
		return ClassSuccess
	case e.Status == 0:
		return ClassPending
	default:
		return ClassRedirect
	}
}

// Terminal reports whether the event has completed or failed.
func (e *NetworkEvent) Terminal() bool {
	return e.Status != 0 || e.Error != ""
}

// Duration returns the recorded duration, if any.
func (e *NetworkEvent) Duration() (time.Duration, bool) {
	if e.DurationMs == nil {
		return 0, false
	}
	return time.Duration(*e.DurationMs) * time.Millisecond, true
}

// OperationName returns the GraphQL operation name, if any.
func (e *NetworkEvent) OperationName() string {
	if e.GraphQL == nil {
		return ""
	}
	return e.GraphQL.OperationName
}
