package query

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/getmockd/netlens/pkg/eventstore"
	"github.com/getmockd/netlens/pkg/ignore"
	"github.com/getmockd/netlens/pkg/logging"
	"github.com/getmockd/netlens/pkg/netevent"
)

// Source is the event store a View follows.
type Source interface {
	All() []netevent.NetworkEvent
	Subscribe(fn eventstore.Subscriber) func()
}

// Snapshot is the derived state of a View at one point in time.
type Snapshot struct {
	// Events are the visible events: filtered, then with ignored URLs hidden.
	Events []netevent.NetworkEvent `json:"events"`

	// Stats covers the visible events; TotalStats covers the whole store.
	Stats      Stats `json:"stats"`
	TotalStats Stats `json:"totalStats"`

	Hosts           []string `json:"hosts"`
	Methods         []string `json:"methods"`
	Filter          Filter   `json:"filter"`
	IgnoredPatterns []string `json:"ignoredPatterns"`
}

// View keeps a filtered projection of a Source current. It recomputes on
// every store change, filter change and ignore-pattern change, then
// notifies its own subscribers.
type View struct {
	notifyMu sync.Mutex

	mu       sync.RWMutex
	events   []netevent.NetworkEvent
	filter   Filter
	matcher  *matcher
	patterns []string
	snap     Snapshot

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int

	unsubscribe func()
	log         *slog.Logger
}

// NewView creates a View over src with an empty filter. A nil log discards
// output.
func NewView(src Source, log *slog.Logger) *View {
	log = logging.OrNop(log)
	m, _ := Filter{}.compile()
	v := &View{
		matcher: m,
		subs:    make(map[int]func(Snapshot)),
		log:     log,
	}

	// Holding mu while seeding makes an early notification wait and then
	// apply the newer snapshot.
	v.mu.Lock()
	v.unsubscribe = src.Subscribe(v.onStoreChange)
	v.events = src.All()
	v.recomputeLocked()
	v.mu.Unlock()
	return v
}

// Close stops following the source.
func (v *View) Close() {
	v.unsubscribe()
}

func (v *View) onStoreChange(events []netevent.NetworkEvent) {
	v.update(func() { v.events = events })
}

// Filter returns the current filter.
func (v *View) Filter() Filter {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.filter
}

// SetFilter replaces the filter. An invalid filter is rejected and the
// current one kept.
func (v *View) SetFilter(f Filter) error {
	m, err := f.compile()
	if err != nil {
		return err
	}
	f.Methods = slices.Clone(f.Methods)
	f.ContentTypes = slices.Clone(f.ContentTypes)
	v.update(func() {
		v.filter = f
		v.matcher = m
	})
	return nil
}

// SetIgnorePatterns replaces the patterns used to hide events.
func (v *View) SetIgnorePatterns(patterns []string) {
	patterns = slices.Clone(patterns)
	v.update(func() { v.patterns = patterns })
}

// IgnorePatterns returns the patterns currently hiding events.
func (v *View) IgnorePatterns() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.patterns)
}

// Visible returns the events that pass the filter and are not ignored.
func (v *View) Visible() []netevent.NetworkEvent {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.snap.Events)
}

// Stats summarizes the visible events.
func (v *View) Stats() Stats {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snap.Stats
}

// TotalStats summarizes every event in the store.
func (v *View) TotalStats() Stats {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snap.TotalStats
}

// Hosts returns the distinct hosts in the store.
func (v *View) Hosts() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.snap.Hosts)
}

// Methods returns the distinct methods in the store.
func (v *View) Methods() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.snap.Methods)
}

// Snapshot returns the current derived state.
func (v *View) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return cloneSnapshot(v.snap)
}

// Subscribe registers fn to receive a Snapshot after every recompute and
// returns a function that removes it.
func (v *View) Subscribe(fn func(Snapshot)) func() {
	v.subMu.Lock()
	key := v.nextSub
	v.nextSub++
	v.subs[key] = fn
	v.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.subMu.Lock()
			delete(v.subs, key)
			v.subMu.Unlock()
		})
	}
}

// update applies change, recomputes and notifies, serialized with other
// updates so subscribers observe snapshots in order.
func (v *View) update(change func()) {
	v.notifyMu.Lock()
	defer v.notifyMu.Unlock()

	v.mu.Lock()
	change()
	v.recomputeLocked()
	snap := cloneSnapshot(v.snap)
	v.mu.Unlock()

	v.publish(snap)
}

func (v *View) recomputeLocked() {
	visible := ignore.Hide(v.matcher.apply(v.events), v.patterns)
	v.snap = Snapshot{
		Events:          visible,
		Stats:           ComputeStats(visible),
		TotalStats:      ComputeStats(v.events),
		Hosts:           Hosts(v.events),
		Methods:         Methods(v.events),
		Filter:          v.filter,
		IgnoredPatterns: append([]string{}, v.patterns...),
	}
}

func (v *View) publish(snap Snapshot) {
	v.subMu.Lock()
	keys := make([]int, 0, len(v.subs))
	for k := range v.subs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	fns := make([]func(Snapshot), len(keys))
	for i, k := range keys {
		fns[i] = v.subs[k]
	}
	v.subMu.Unlock()

	for _, fn := range fns {
		v.deliver(fn, snap)
	}
}

func (v *View) deliver(fn func(Snapshot), snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			v.log.Error("view subscriber panicked", "panic", r)
		}
	}()
	fn(snap)
}

func cloneSnapshot(s Snapshot) Snapshot {
	s.Events = slices.Clone(s.Events)
	s.Hosts = slices.Clone(s.Hosts)
	s.Methods = slices.Clone(s.Methods)
	s.IgnoredPatterns = slices.Clone(s.IgnoredPatterns)
	s.Filter.Methods = slices.Clone(s.Filter.Methods)
	s.Filter.ContentTypes = slices.Clone(s.Filter.ContentTypes)
	return s
}
