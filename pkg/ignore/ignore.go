// Package ignore holds the user-controlled set of URL patterns that hide
// events from filtered views without deleting them from the store.
//
// A pattern matches an event when the event URL contains it, compared
// case-insensitively. The active set is persisted as a JSON string array
// under StorageKey through a KV.
package ignore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/getmockd/netlens/pkg/logging"
	"github.com/getmockd/netlens/pkg/netevent"
)

// StorageKey is the key under which the pattern set is persisted.
const StorageKey = "netlens.ignoredPatterns"

// ErrEmptyPattern is returned when adding a blank pattern.
var ErrEmptyPattern = errors.New("ignore pattern is empty")

// KV is the key-value collaborator that stores the pattern set. Any store
// with string values satisfies it.
type KV interface {
	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key.
	Set(ctx context.Context, key, value string) error
}

// Set is the active ignore-pattern set. It is safe for concurrent use.
type Set struct {
	// syncMu serializes changes with their persist and notify steps so the
	// KV and change hooks see sets in the order they were applied. Hooks
	// must not mutate the Set.
	syncMu sync.Mutex

	mu       sync.RWMutex
	patterns []string

	kv  KV
	log *slog.Logger

	hmu      sync.Mutex
	hooks    map[int]func([]string)
	nextHook int
}

// New creates an empty Set backed by kv. A nil kv keeps patterns in memory
// only; a nil log discards output.
func New(kv KV, log *slog.Logger) *Set {
	log = logging.OrNop(log)
	return &Set{kv: kv, log: log, hooks: make(map[int]func([]string))}
}

// Load replaces the in-memory set with the persisted one. A missing or
// malformed value loads as the empty set; only a KV failure is returned.
func (s *Set) Load(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	raw, ok, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		return fmt.Errorf("load ignore patterns: %w", err)
	}

	var patterns []string
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &patterns); err != nil {
			s.log.Warn("discarding malformed ignore patterns", "key", StorageKey, "error", err)
			patterns = nil
		}
	}

	s.mu.Lock()
	s.patterns = normalize(patterns)
	snapshot := slices.Clone(s.patterns)
	s.mu.Unlock()

	s.notify(snapshot)
	return nil
}

// Patterns returns a copy of the active patterns in insertion order.
func (s *Set) Patterns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.patterns)
}

// Contains reports whether pattern is active.
func (s *Set) Contains(pattern string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Index(s.patterns, pattern) >= 0
}

// Matches reports whether rawURL is hidden by any active pattern.
func (s *Set) Matches(rawURL string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return MatchAny(rawURL, s.patterns)
}

// Add activates pattern. Adding an active pattern changes nothing.
func (s *Set) Add(ctx context.Context, pattern string) error {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return ErrEmptyPattern
	}
	return s.mutate(ctx, func(ps []string) ([]string, bool) {
		if slices.Index(ps, pattern) >= 0 {
			return ps, false
		}
		return append(ps, pattern), true
	})
}

// Remove deactivates pattern. Removing an inactive pattern changes nothing.
func (s *Set) Remove(ctx context.Context, pattern string) error {
	pattern = strings.TrimSpace(pattern)
	return s.mutate(ctx, func(ps []string) ([]string, bool) {
		i := slices.Index(ps, pattern)
		if i < 0 {
			return ps, false
		}
		return slices.Delete(ps, i, i+1), true
	})
}

// Toggle removes pattern if active and adds it otherwise. It returns whether
// the pattern is active afterwards.
func (s *Set) Toggle(ctx context.Context, pattern string) (bool, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false, ErrEmptyPattern
	}
	var active bool
	err := s.mutate(ctx, func(ps []string) ([]string, bool) {
		if i := slices.Index(ps, pattern); i >= 0 {
			active = false
			return slices.Delete(ps, i, i+1), true
		}
		active = true
		return append(ps, pattern), true
	})
	return active, err
}

// Replace sets the active patterns. Blank and duplicate entries are dropped.
func (s *Set) Replace(ctx context.Context, patterns []string) error {
	next := normalize(patterns)
	return s.mutate(ctx, func(ps []string) ([]string, bool) {
		return next, !slices.Equal(ps, next)
	})
}

// OnChange registers fn to receive the active patterns after every change
// and returns a function that removes it.
func (s *Set) OnChange(fn func([]string)) func() {
	s.hmu.Lock()
	key := s.nextHook
	s.nextHook++
	s.hooks[key] = fn
	s.hmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.hmu.Lock()
			delete(s.hooks, key)
			s.hmu.Unlock()
		})
	}
}

// mutate applies change under the lock, then persists and notifies when the
// set changed. The in-memory set keeps the change even if persisting fails.
func (s *Set) mutate(ctx context.Context, change func([]string) ([]string, bool)) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.Lock()
	next, changed := change(slices.Clone(s.patterns))
	if !changed {
		s.mu.Unlock()
		return nil
	}
	s.patterns = next
	snapshot := slices.Clone(next)
	s.mu.Unlock()

	err := s.persist(ctx, snapshot)
	s.notify(snapshot)
	return err
}

func (s *Set) persist(ctx context.Context, patterns []string) error {
	if s.kv == nil {
		return nil
	}
	if patterns == nil {
		patterns = []string{}
	}
	data, err := json.Marshal(patterns)
	if err != nil {
		return fmt.Errorf("encode ignore patterns: %w", err)
	}
	if err := s.kv.Set(ctx, StorageKey, string(data)); err != nil {
		s.log.Error("failed to persist ignore patterns", "error", err)
		return fmt.Errorf("persist ignore patterns: %w", err)
	}
	return nil
}

func (s *Set) notify(patterns []string) {
	s.hmu.Lock()
	keys := make([]int, 0, len(s.hooks))
	for k := range s.hooks {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	fns := make([]func([]string), len(keys))
	for n, k := range keys {
		fns[n] = s.hooks[k]
	}
	s.hmu.Unlock()

	for _, fn := range fns {
		fn(slices.Clone(patterns))
	}
}

// MatchAny reports whether rawURL contains any of patterns, ignoring case.
func MatchAny(rawURL string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	lower := strings.ToLower(rawURL)
	for _, p := range patterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Hide returns the events whose URL matches none of patterns. The input
// slice is not modified.
func Hide(events []netevent.NetworkEvent, patterns []string) []netevent.NetworkEvent {
	if len(patterns) == 0 {
		return events
	}
	out := make([]netevent.NetworkEvent, 0, len(events))
	for _, ev := range events {
		if !MatchAny(ev.URL, patterns) {
			out = append(out, ev)
		}
	}
	return out
}

// normalize trims patterns and drops blanks and duplicates.
func normalize(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || slices.Contains(out, p) {
			continue
		}
		out = append(out, p)
	}
	return out
}
