// Package eventstore provides the bounded in-memory ledger of captured
// network events with synchronous publish/subscribe notification.
package eventstore

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/getmockd/netlens/pkg/logging"
	"github.com/getmockd/netlens/pkg/netevent"
)

// DefaultMaxEvents is the retention bound used when none is configured.
const DefaultMaxEvents = 200

// Subscriber receives the full ordered snapshot after every change.
type Subscriber func(events []netevent.NetworkEvent)

// Option configures a Store.
type Option func(*Store)

// WithMaxEvents sets the retention bound. Values <= 0 keep the default.
func WithMaxEvents(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEvents = n
		}
	}
}

// WithLogger sets the logger used for dropped updates and subscriber panics.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithEvictHook sets a function called with the ids of records dropped by
// retention, after the store is updated and before subscribers are notified.
func WithEvictHook(fn func(ids []string)) Option {
	return func(s *Store) {
		s.onEvict = fn
	}
}

// Store is an ordered collection of events keyed by id. Appending an
// existing id updates the record in place; new ids go to the end and the
// oldest records are evicted once the retention bound is exceeded.
type Store struct {
	// notifyMu serializes mutations with their fan-out so subscribers see
	// snapshots in mutation order.
	notifyMu sync.Mutex

	mu        sync.RWMutex
	events    []netevent.NetworkEvent
	index     map[string]int
	maxEvents int
	onEvict   func(ids []string)

	subMu       sync.RWMutex
	subscribers map[int]Subscriber
	nextSub     int

	log *slog.Logger
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		index:       make(map[string]int),
		maxEvents:   DefaultMaxEvents,
		subscribers: make(map[int]Subscriber),
		log:         logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = make([]netevent.NetworkEvent, 0, s.maxEvents)
	return s
}

// Append inserts a pending record or updates an existing one by id, then
// notifies every subscriber once. It reports whether the store changed.
//
// Records enter the store pending: a terminal event whose id is not stored
// (never inserted, evicted, or cleared) is dropped, as is an update to a
// record that is already terminal.
func (s *Store) Append(ev netevent.NetworkEvent) bool {
	if ev.ID == "" {
		s.log.Warn("dropping event without id", "url", ev.URL)
		return false
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	var evicted []string
	if i, ok := s.index[ev.ID]; ok {
		if s.events[i].Terminal() {
			s.mu.Unlock()
			s.log.Warn("dropping update to completed event", "id", ev.ID)
			return false
		}
		s.events[i] = ev
	} else {
		if ev.Terminal() {
			s.mu.Unlock()
			s.log.Warn("dropping completion of unknown or evicted event", "id", ev.ID)
			return false
		}
		s.events = append(s.events, ev)
		s.index[ev.ID] = len(s.events) - 1
		if len(s.events) > s.maxEvents {
			evicted = s.evictLocked(len(s.events) - s.maxEvents)
		}
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if len(evicted) > 0 && s.onEvict != nil {
		s.onEvict(evicted)
	}
	s.publish(snapshot)
	return true
}

// evictLocked drops the n oldest records, rebuilds the index and returns
// the dropped ids.
func (s *Store) evictLocked(n int) []string {
	ids := make([]string, n)
	for i, ev := range s.events[:n] {
		ids[i] = ev.ID
		delete(s.index, ev.ID)
	}
	kept := make([]netevent.NetworkEvent, len(s.events)-n, s.maxEvents+1)
	copy(kept, s.events[n:])
	s.events = kept
	for i, ev := range s.events {
		s.index[ev.ID] = i
	}
	return ids
}

// Clear removes every record and notifies subscribers with an empty snapshot.
func (s *Store) Clear() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.events = make([]netevent.NetworkEvent, 0, s.maxEvents)
	s.index = make(map[string]int)
	s.mu.Unlock()

	s.publish([]netevent.NetworkEvent{})
}

// All returns a copy of the current ordered snapshot.
func (s *Store) All() []netevent.NetworkEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Get returns the record with the given id.
func (s *Store) Get(id string) (netevent.NetworkEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return netevent.NetworkEvent{}, false
	}
	return s.events[i], true
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Capacity returns the retention bound.
func (s *Store) Capacity() int {
	return s.maxEvents
}

func (s *Store) snapshotLocked() []netevent.NetworkEvent {
	out := make([]netevent.NetworkEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Subscribe registers fn to receive the snapshot after every change and
// returns a function that removes it. Unsubscribing is idempotent and may
// be called from inside a notification.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.subMu.Lock()
	key := s.nextSub
	s.nextSub++
	s.subscribers[key] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, key)
			s.subMu.Unlock()
		})
	}
}

// SubscriberCount returns the number of registered subscribers.
func (s *Store) SubscriberCount() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subscribers)
}

// publish delivers snapshot to a stable copy of the subscriber list, in
// registration order. Subscribers share the snapshot and must not modify it.
func (s *Store) publish(snapshot []netevent.NetworkEvent) {
	s.subMu.RLock()
	keys := make([]int, 0, len(s.subscribers))
	for k := range s.subscribers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	subs := make([]Subscriber, len(keys))
	for i, k := range keys {
		subs[i] = s.subscribers[k]
	}
	s.subMu.RUnlock()

	for _, fn := range subs {
		s.deliver(fn, snapshot)
	}
}

// deliver invokes one subscriber, containing any panic it raises.
func (s *Store) deliver(fn Subscriber, snapshot []netevent.NetworkEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("event subscriber panicked", "panic", r)
		}
	}()
	fn(snapshot)
}
