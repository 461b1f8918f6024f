package interceptor

import (
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/getmockd/netlens/internal/id"
	"github.com/getmockd/netlens/pkg/logging"
	"github.com/getmockd/netlens/pkg/netevent"
)

// DefaultMaxBodySize is the default maximum body size to capture (1MB).
const DefaultMaxBodySize = 1 << 20

// Listener receives every lifecycle event. Listeners run synchronously on
// the goroutine that observed the event and must not block.
type Listener func(netevent.Lifecycle)

// Options configures an Interceptor.
type Options struct {
	// Logger receives warnings about lifecycle misuse and listener panics.
	// Nil discards output.
	Logger *slog.Logger

	// MaxBodySize bounds how many bytes of each body are captured.
	// Values <= 0 use DefaultMaxBodySize.
	MaxBodySize int64

	// IgnoreURLs are doublestar globs matched against "host/path", in
	// addition to DefaultIgnoreURLs.
	IgnoreURLs []string
}

// attachment is a client whose transport is swapped while active.
type attachment struct {
	client    *http.Client
	original  http.RoundTripper
	installed bool
}

// Interceptor owns the instrumentation layer and its listeners.
type Interceptor struct {
	active atomic.Bool

	// mu guards lifecycle transitions and attachments.
	mu       sync.Mutex
	attached []*attachment

	lmu          sync.RWMutex
	listeners    map[int]Listener
	nextListener int

	seq     id.Sequence
	filter  *urlFilter
	maxBody int64
	log     *slog.Logger
}

// New creates an inactive Interceptor.
func New(opts Options) *Interceptor {
	log := opts.Logger
	log = logging.OrNop(log)
	maxBody := opts.MaxBodySize
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}
	return &Interceptor{
		listeners: make(map[int]Listener),
		filter:    newURLFilter(opts.IgnoreURLs, log),
		maxBody:   maxBody,
		log:       log,
	}
}

// Start activates observation and installs wrappers on attached clients.
// Calling Start while already active only logs a warning.
func (i *Interceptor) Start() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.active.Load() {
		i.log.Warn("network interception already active")
		return
	}
	for _, a := range i.attached {
		i.install(a)
	}
	i.active.Store(true)
	i.log.Info("network interception started", "clients", len(i.attached))
}

// Stop deactivates observation and restores the transports saved by Start.
// Calling Stop while inactive only logs a warning.
func (i *Interceptor) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.active.Load() {
		i.log.Warn("network interception not active")
		return
	}
	i.active.Store(false)
	for _, a := range i.attached {
		i.uninstall(a)
	}
	i.log.Info("network interception stopped")
}

// IsActive reports whether the interceptor is observing traffic.
func (i *Interceptor) IsActive() bool {
	return i.active.Load()
}

// Attach registers a client whose Transport is wrapped while the interceptor
// is active. Attaching while active wraps the client immediately. Attaching
// the same client twice has no effect.
func (i *Interceptor) Attach(c *http.Client) {
	if c == nil {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, a := range i.attached {
		if a.client == c {
			return
		}
	}
	a := &attachment{client: c}
	i.attached = append(i.attached, a)
	if i.active.Load() {
		i.install(a)
	}
}

// Detach restores a client's transport, if installed, and forgets it.
func (i *Interceptor) Detach(c *http.Client) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.attached = slices.DeleteFunc(i.attached, func(a *attachment) bool {
		if a.client != c {
			return false
		}
		i.uninstall(a)
		return true
	})
}

// install swaps the client's transport for a wrapper, unless the client
// already goes through this interceptor.
func (i *Interceptor) install(a *attachment) {
	if t, ok := a.client.Transport.(*Transport); ok && t.ic == i {
		return
	}
	a.original = a.client.Transport
	a.client.Transport = &Transport{ic: i, base: a.original}
	a.installed = true
}

// uninstall puts back the exact transport saved by install.
func (i *Interceptor) uninstall(a *attachment) {
	if !a.installed {
		return
	}
	a.client.Transport = a.original
	a.original = nil
	a.installed = false
}

// WrapTransport returns an http.RoundTripper that observes calls through base
// while the interceptor is active. A nil base uses http.DefaultTransport at
// call time. Wrapping a transport of this interceptor returns it unchanged.
func (i *Interceptor) WrapTransport(base http.RoundTripper) http.RoundTripper {
	if t, ok := base.(*Transport); ok && t.ic == i {
		return t
	}
	return &Transport{ic: i, base: base}
}

// AddListener registers fn and returns a function that removes it.
func (i *Interceptor) AddListener(fn Listener) func() {
	i.lmu.Lock()
	key := i.nextListener
	i.nextListener++
	i.listeners[key] = fn
	i.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			i.lmu.Lock()
			delete(i.listeners, key)
			i.lmu.Unlock()
		})
	}
}

// ListenerCount returns the number of registered listeners.
func (i *Interceptor) ListenerCount() int {
	i.lmu.RLock()
	defer i.lmu.RUnlock()
	return len(i.listeners)
}

// emit delivers l to every listener in registration order. A panicking
// listener is logged and skipped.
func (i *Interceptor) emit(l netevent.Lifecycle) {
	i.lmu.RLock()
	keys := make([]int, 0, len(i.listeners))
	for k := range i.listeners {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	fns := make([]Listener, len(keys))
	for n, k := range keys {
		fns[n] = i.listeners[k]
	}
	i.lmu.RUnlock()

	for _, fn := range fns {
		i.deliver(fn, l)
	}
}

func (i *Interceptor) deliver(fn Listener, l netevent.Lifecycle) {
	defer func() {
		if r := recover(); r != nil {
			i.log.Error("network listener panicked", "panic", r, "id", l.RequestID, "phase", l.Phase)
		}
	}()
	fn(l)
}

// observes reports whether a call to rawURL should be observed right now.
func (i *Interceptor) observes(rawURL string) bool {
	return i.active.Load() && !i.filter.ignoredRaw(rawURL)
}
