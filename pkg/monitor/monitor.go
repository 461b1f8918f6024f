// Package monitor wires the interception pipeline together: interceptor,
// normalizer, event store, live view and ignore-pattern set.
//
// A Monitor is the single owner of that pipeline. Hosts construct one,
// attach their HTTP clients or gRPC connections, and toggle observation with
// StartListening and StopListening.
package monitor

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"github.com/getmockd/netlens/pkg/eventstore"
	"github.com/getmockd/netlens/pkg/ignore"
	"github.com/getmockd/netlens/pkg/interceptor"
	"github.com/getmockd/netlens/pkg/logging"
	"github.com/getmockd/netlens/pkg/metrics"
	"github.com/getmockd/netlens/pkg/netevent"
	"github.com/getmockd/netlens/pkg/query"
)

// Options configures a Monitor.
type Options struct {
	Logger *slog.Logger

	// MaxEvents is the store retention bound. Values <= 0 use
	// eventstore.DefaultMaxEvents.
	MaxEvents int

	// MaxBodySize bounds captured bodies. Values <= 0 use
	// interceptor.DefaultMaxBodySize.
	MaxBodySize int64

	// IgnoreURLs are extra interceptor-level globs; matching traffic never
	// enters the store.
	IgnoreURLs []string

	// KV persists the user ignore patterns. Nil keeps them in memory.
	KV ignore.KV
}

// Status describes the monitor for presentation layers.
type Status struct {
	Active        bool `json:"active"`
	ListenerCount int  `json:"listenerCount"`
	EventCount    int  `json:"eventCount"`
	Capacity      int  `json:"capacity"`
	Pending       int  `json:"pending"`
}

// Monitor owns the interception pipeline.
type Monitor struct {
	ic     *interceptor.Interceptor
	norm   *netevent.Normalizer
	store  *eventstore.Store
	view   *query.View
	ignore *ignore.Set
	log    *slog.Logger

	registry *metrics.Registry
	pipeline *metrics.Pipeline

	removePipeline func()
	removeIgnore   func()
}

// New builds an inactive Monitor and loads the persisted ignore patterns.
// A failure to read them is logged and the set starts empty.
func New(ctx context.Context, opts Options) *Monitor {
	log := logging.OrNop(opts.Logger)

	norm := netevent.NewNormalizer(logging.Component(log, "normalizer"))
	m := &Monitor{
		ic: interceptor.New(interceptor.Options{
			Logger:      logging.Component(log, "interceptor"),
			MaxBodySize: opts.MaxBodySize,
			IgnoreURLs:  opts.IgnoreURLs,
		}),
		norm: norm,
		store: eventstore.New(
			eventstore.WithMaxEvents(opts.MaxEvents),
			eventstore.WithLogger(logging.Component(log, "store")),
			// Evicted requests that are still in flight are never recorded.
			eventstore.WithEvictHook(func(ids []string) { norm.Forget(ids...) }),
		),
		ignore: ignore.New(opts.KV, logging.Component(log, "ignore")),
		log:    log,
	}
	m.view = query.NewView(m.store, logging.Component(log, "view"))
	m.registerMetrics()

	if err := m.ignore.Load(ctx); err != nil {
		log.Warn("starting with no ignore patterns", "error", err)
	}
	m.view.SetIgnorePatterns(m.ignore.Patterns())
	m.removeIgnore = m.ignore.OnChange(m.view.SetIgnorePatterns)
	m.removePipeline = m.ic.AddListener(m.record)
	return m
}

// record feeds one lifecycle event through the normalizer into the store.
func (m *Monitor) record(l netevent.Lifecycle) {
	ev, ok := m.norm.Apply(l)
	if !ok {
		return
	}
	if m.store.Append(ev) {
		m.pipeline.Observe(&ev)
	}
}

func (m *Monitor) registerMetrics() {
	m.registry = metrics.NewRegistry()
	m.pipeline = metrics.NewPipeline(m.registry)
	m.registry.NewGaugeFunc("netlens_store_events", "Events currently retained.",
		func() float64 { return float64(m.store.Len()) })
	m.registry.NewGaugeFunc("netlens_store_capacity", "Maximum retained events.",
		func() float64 { return float64(m.store.Capacity()) })
	m.registry.NewGaugeFunc("netlens_pending_requests", "Requests awaiting completion.",
		func() float64 { return float64(m.norm.Pending()) })
	m.registry.NewGaugeFunc("netlens_listening", "1 while traffic is observed.",
		func() float64 {
			if m.ic.IsActive() {
				return 1
			}
			return 0
		})
	m.registry.NewGaugeFunc("netlens_ignore_patterns", "Active ignore patterns.",
		func() float64 { return float64(len(m.ignore.Patterns())) })
}

// MetricsHandler serves capture metrics in the Prometheus text format.
func (m *Monitor) MetricsHandler() http.Handler {
	return m.registry.Handler()
}

// Close stops observation and detaches the pipeline. Attached clients get
// their original transports back.
func (m *Monitor) Close() {
	if m.ic.IsActive() {
		m.ic.Stop()
	}
	m.removePipeline()
	m.removeIgnore()
	m.view.Close()
}

// StartListening starts observing attached clients. Starting an active
// monitor logs a warning and changes nothing.
func (m *Monitor) StartListening() {
	m.ic.Start()
}

// StopListening stops observing and restores attached transports. Stopping
// an inactive monitor logs a warning and changes nothing.
func (m *Monitor) StopListening() {
	m.ic.Stop()
}

// IsActive reports whether traffic is being observed.
func (m *Monitor) IsActive() bool {
	return m.ic.IsActive()
}

// AddListener registers fn for raw lifecycle events and returns a function
// that removes it.
func (m *Monitor) AddListener(fn interceptor.Listener) func() {
	return m.ic.AddListener(fn)
}

// ListenerCount returns the number of listeners added with AddListener.
func (m *Monitor) ListenerCount() int {
	return max(m.ic.ListenerCount()-1, 0)
}

// Status summarizes the monitor state.
func (m *Monitor) Status() Status {
	return Status{
		Active:        m.IsActive(),
		ListenerCount: m.ListenerCount(),
		EventCount:    m.store.Len(),
		Capacity:      m.store.Capacity(),
		Pending:       m.norm.Pending(),
	}
}

// Attach routes c through the interceptor while the monitor is listening.
func (m *Monitor) Attach(c *http.Client) {
	m.ic.Attach(c)
}

// Detach restores c and stops tracking it.
func (m *Monitor) Detach(c *http.Client) {
	m.ic.Detach(c)
}

// NewClient returns an attached client with the given timeout.
func (m *Monitor) NewClient(timeout time.Duration) *http.Client {
	c := &http.Client{Timeout: timeout}
	m.ic.Attach(c)
	return c
}

// WrapTransport wraps base so calls through it are observed while the
// monitor is listening.
func (m *Monitor) WrapTransport(base http.RoundTripper) http.RoundTripper {
	return m.ic.WrapTransport(base)
}

// UnaryClientInterceptor observes unary gRPC calls while listening.
func (m *Monitor) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return m.ic.UnaryClientInterceptor()
}

// Subscribe registers fn to receive every store snapshot.
func (m *Monitor) Subscribe(fn eventstore.Subscriber) func() {
	return m.store.Subscribe(fn)
}

// Events returns every stored event in capture order.
func (m *Monitor) Events() []netevent.NetworkEvent {
	return m.store.All()
}

// Event returns the stored event with id.
func (m *Monitor) Event(id string) (netevent.NetworkEvent, bool) {
	return m.store.Get(id)
}

// ClearEvents empties the store. Requests still in flight are forgotten, so
// their completions do not resurrect records.
func (m *Monitor) ClearEvents() {
	m.norm.Reset()
	m.store.Clear()
}

// Filter returns the active view filter.
func (m *Monitor) Filter() query.Filter {
	return m.view.Filter()
}

// SetFilter replaces the view filter. Invalid filters are rejected.
func (m *Monitor) SetFilter(f query.Filter) error {
	return m.view.SetFilter(f)
}

// Visible returns the filtered, non-ignored events.
func (m *Monitor) Visible() []netevent.NetworkEvent {
	return m.view.Visible()
}

// Stats summarizes the visible events.
func (m *Monitor) Stats() query.Stats {
	return m.view.Stats()
}

// TotalStats summarizes every stored event.
func (m *Monitor) TotalStats() query.Stats {
	return m.view.TotalStats()
}

// Hosts returns the distinct hosts seen.
func (m *Monitor) Hosts() []string {
	return m.view.Hosts()
}

// Methods returns the distinct methods seen.
func (m *Monitor) Methods() []string {
	return m.view.Methods()
}

// Snapshot returns the current view state.
func (m *Monitor) Snapshot() query.Snapshot {
	return m.view.Snapshot()
}

// SubscribeView registers fn to receive a view snapshot after every change.
func (m *Monitor) SubscribeView(fn func(query.Snapshot)) func() {
	return m.view.Subscribe(fn)
}

// IgnorePatterns returns the active ignore patterns.
func (m *Monitor) IgnorePatterns() []string {
	return m.ignore.Patterns()
}

// AddIgnorePattern hides events whose URL contains pattern.
func (m *Monitor) AddIgnorePattern(ctx context.Context, pattern string) error {
	return m.ignore.Add(ctx, pattern)
}

// RemoveIgnorePattern reveals events hidden by pattern.
func (m *Monitor) RemoveIgnorePattern(ctx context.Context, pattern string) error {
	return m.ignore.Remove(ctx, pattern)
}

// ToggleIgnorePattern flips pattern and reports whether it is now active.
func (m *Monitor) ToggleIgnorePattern(ctx context.Context, pattern string) (bool, error) {
	return m.ignore.Toggle(ctx, pattern)
}

// SetIgnorePatterns replaces the ignore patterns.
func (m *Monitor) SetIgnorePatterns(ctx context.Context, patterns []string) error {
	return m.ignore.Replace(ctx, patterns)
}
