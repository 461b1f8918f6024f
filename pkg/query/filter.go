package query

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/ohler55/ojg/jp"
	"golang.org/x/text/cases"

	"github.com/getmockd/netlens/pkg/netevent"
)

// StatusFilter selects events by status class.
type StatusFilter string

// Status filters. StatusAll also shows events in the redirect band.
const (
	StatusAll     StatusFilter = "all"
	StatusSuccess StatusFilter = "success"
	StatusError   StatusFilter = "error"
	StatusPending StatusFilter = "pending"
)

// ErrInvalidStatus is returned for an unknown status filter.
var ErrInvalidStatus = errors.New("invalid status filter")

// ParseStatusFilter parses a status filter; empty means StatusAll.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch StatusFilter(strings.ToLower(strings.TrimSpace(s))) {
	case "", StatusAll:
		return StatusAll, nil
	case StatusSuccess:
		return StatusSuccess, nil
	case StatusError:
		return StatusError, nil
	case StatusPending:
		return StatusPending, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Filter is a conjunction of optional predicates. Empty fields match
// everything. Within Methods and ContentTypes any listed value matches.
type Filter struct {
	Status       StatusFilter               `json:"status,omitempty" yaml:"status,omitempty"`
	Methods      []string                   `json:"methods,omitempty" yaml:"methods,omitempty"`
	ContentTypes []netevent.ContentCategory `json:"contentTypes,omitempty" yaml:"contentTypes,omitempty"`
	SearchText   string                     `json:"searchText,omitempty" yaml:"searchText,omitempty"`
	Host         string                     `json:"host,omitempty" yaml:"host,omitempty"`

	// Expression is an expr-lang boolean expression over the event, for
	// example `status >= 500 && durationMs > 200`. See ExprFields.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`

	// BodyPath is a JSONPath that must match inside a JSON response body.
	BodyPath string `json:"bodyPath,omitempty" yaml:"bodyPath,omitempty"`
}

// IsZero reports whether the filter matches every event.
func (f Filter) IsZero() bool {
	return (f.Status == "" || f.Status == StatusAll) &&
		len(f.Methods) == 0 &&
		len(f.ContentTypes) == 0 &&
		strings.TrimSpace(f.SearchText) == "" &&
		strings.TrimSpace(f.Host) == "" &&
		strings.TrimSpace(f.Expression) == "" &&
		strings.TrimSpace(f.BodyPath) == ""
}

// Validate reports a malformed status, expression or body path.
func (f Filter) Validate() error {
	_, err := f.compile()
	return err
}

// Apply returns the events that pass every predicate of f, in their
// original order. Predicates that fail to compile are skipped; use Validate
// to surface them.
func Apply(events []netevent.NetworkEvent, f Filter) []netevent.NetworkEvent {
	m, _ := f.compile()
	return m.apply(events)
}

// ExprFields lists the names available to Filter.Expression.
var ExprFields = []string{
	"id", "clientKind", "method", "url", "host", "path", "query",
	"status", "statusText", "class", "contentType", "error", "aborted",
	"requestSize", "responseSize", "durationMs", "completed",
	"operationName", "requestHeaders", "responseHeaders",
}

// exprEnv exposes an event to expressions.
func exprEnv(ev *netevent.NetworkEvent) map[string]any {
	var duration int64
	if ev.DurationMs != nil {
		duration = *ev.DurationMs
	}
	query := ev.Query
	if query == nil {
		query = map[string][]string{}
	}
	return map[string]any{
		"id":              ev.ID,
		"clientKind":      string(ev.ClientKind),
		"method":          ev.Method,
		"url":             ev.URL,
		"host":            ev.Host,
		"path":            ev.Path,
		"query":           query,
		"status":          ev.Status,
		"statusText":      ev.StatusText,
		"class":           string(ev.Class()),
		"contentType":     string(ev.ContentType),
		"error":           ev.Error,
		"aborted":         ev.Aborted,
		"requestSize":     ev.RequestSize,
		"responseSize":    ev.ResponseSize,
		"durationMs":      duration,
		"completed":       ev.DurationMs != nil,
		"operationName":   ev.OperationName(),
		"requestHeaders":  headerMap(ev.RequestHeaders),
		"responseHeaders": headerMap(ev.ResponseHeaders),
	}
}

// headerMap keys the first value of each header by its lowercase name.
func headerMap(h netevent.Headers) map[string]string {
	m := make(map[string]string, len(h))
	for _, f := range h {
		name := strings.ToLower(f.Name)
		if _, ok := m[name]; !ok {
			m[name] = f.Value
		}
	}
	return m
}

// matcher is a compiled Filter. It is not safe for concurrent use.
type matcher struct {
	methods      []string
	status       StatusFilter
	needle       string
	fold         cases.Caser
	host         string
	contentTypes []netevent.ContentCategory
	program      *vm.Program
	path         jp.Expr
}

// compile builds a matcher from every valid predicate and returns the
// errors of the invalid ones.
func (f Filter) compile() (*matcher, error) {
	m := &matcher{fold: cases.Fold()}
	var errs []error

	for _, method := range f.Methods {
		if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
			m.methods = append(m.methods, method)
		}
	}

	status, err := ParseStatusFilter(string(f.Status))
	if err != nil {
		errs = append(errs, err)
		status = StatusAll
	}
	m.status = status

	if needle := strings.TrimSpace(f.SearchText); needle != "" {
		m.needle = m.fold.String(needle)
	}
	m.host = strings.TrimSpace(f.Host)
	m.contentTypes = slices.Clone(f.ContentTypes)

	if src := strings.TrimSpace(f.Expression); src != "" {
		program, err := expr.Compile(src, expr.Env(exprEnv(&netevent.NetworkEvent{})), expr.AsBool())
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid expression %q: %w", src, err))
		} else {
			m.program = program
		}
	}

	if src := strings.TrimSpace(f.BodyPath); src != "" {
		path, err := jp.ParseString(src)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid body path %q: %w", src, err))
		} else {
			m.path = path
		}
	}

	return m, errors.Join(errs...)
}

func (m *matcher) apply(events []netevent.NetworkEvent) []netevent.NetworkEvent {
	out := make([]netevent.NetworkEvent, 0, len(events))
	for i := range events {
		if m.match(&events[i]) {
			out = append(out, events[i])
		}
	}
	return out
}

// match evaluates the predicates cheapest first: method, status class,
// free text, host, content type, then expression and body path.
func (m *matcher) match(ev *netevent.NetworkEvent) bool {
	if len(m.methods) > 0 && !slices.Contains(m.methods, strings.ToUpper(ev.Method)) {
		return false
	}
	if m.status != StatusAll && string(ev.Class()) != string(m.status) {
		return false
	}
	if m.needle != "" && !m.search(ev) {
		return false
	}
	if m.host != "" && !strings.EqualFold(ev.Host, m.host) {
		return false
	}
	if len(m.contentTypes) > 0 && !slices.Contains(m.contentTypes, ev.ContentType) {
		return false
	}
	if m.program != nil {
		out, err := expr.Run(m.program, exprEnv(ev))
		if ok, _ := out.(bool); err != nil || !ok {
			return false
		}
	}
	if m.path != nil {
		body := ev.ResponseBody
		if body == nil || body.Kind != netevent.BodyJSON || len(m.path.Get(body.JSON)) == 0 {
			return false
		}
	}
	return true
}

// search reports whether the needle occurs in any searchable field.
func (m *matcher) search(ev *netevent.NetworkEvent) bool {
	for _, field := range []string{ev.URL, ev.Method, ev.Host, ev.Path, ev.Error, ev.OperationName()} {
		if field != "" && strings.Contains(m.fold.String(field), m.needle) {
			return true
		}
	}
	return false
}
