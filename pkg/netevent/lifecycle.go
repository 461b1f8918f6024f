package netevent

import (
	"net/http"
	"time"
)

// Phase is the lifecycle phase of a raw event.
type Phase string

// Lifecycle phases.
const (
	PhaseRequest  Phase = "request"
	PhaseResponse Phase = "response"
	PhaseError    Phase = "error"
)

// Payload is a captured request or response body.
type Payload struct {
	// Data holds at most the capture limit of bytes.
	Data []byte

	// Size is the full body size in bytes, best-effort. -1 means unknown.
	Size int64

	// Truncated reports that Data holds only a prefix of the body.
	Truncated bool
}

// Lifecycle is a raw lifecycle event emitted by an interceptor. A request
// event always precedes the single terminal (response or error) event that
// carries the same RequestID.
type Lifecycle struct {
	Phase      Phase
	RequestID  string
	ClientKind ClientKind
	Timestamp  time.Time

	// Request fields, set on PhaseRequest.
	Method  string
	URL     string
	Headers http.Header
	Body    Payload

	// Terminal fields.
	Status          int
	StatusText      string
	Protocol        string
	ResponseHeaders http.Header
	ResponseBody    Payload
	Duration        time.Duration
	Err             error
	Aborted         bool
}
