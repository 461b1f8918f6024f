package query

import (
	"slices"
	"strings"

	"github.com/getmockd/netlens/pkg/netevent"
)

// Stats summarizes a set of events. Redirects counts the 1xx/3xx band,
// which belongs to none of the other classes.
type Stats struct {
	Total             int     `json:"total"`
	Success           int     `json:"success"`
	Errors            int     `json:"errors"`
	Pending           int     `json:"pending"`
	Redirects         int     `json:"redirects"`
	TotalDataSent     int64   `json:"totalDataSent"`
	TotalDataReceived int64   `json:"totalDataReceived"`
	AvgDurationMs     float64 `json:"avgDurationMs"`
}

// ComputeStats summarizes events in one pass. The average duration covers
// only events that recorded a duration.
func ComputeStats(events []netevent.NetworkEvent) Stats {
	var s Stats
	var durationSum int64
	var timed int

	for i := range events {
		ev := &events[i]
		s.Total++
		switch ev.Class() {
		case netevent.ClassSuccess:
			s.Success++
		case netevent.ClassError:
			s.Errors++
		case netevent.ClassPending:
			s.Pending++
		default:
			s.Redirects++
		}
		s.TotalDataSent += max(ev.RequestSize, 0)
		s.TotalDataReceived += max(ev.ResponseSize, 0)
		if ev.DurationMs != nil {
			durationSum += *ev.DurationMs
			timed++
		}
	}

	if timed > 0 {
		s.AvgDurationMs = float64(durationSum) / float64(timed)
	}
	return s
}

// Hosts returns the distinct non-empty hosts in events, sorted.
func Hosts(events []netevent.NetworkEvent) []string {
	return distinct(events, func(ev *netevent.NetworkEvent) string { return ev.Host })
}

// Methods returns the distinct methods in events, upper-cased and sorted.
func Methods(events []netevent.NetworkEvent) []string {
	return distinct(events, func(ev *netevent.NetworkEvent) string { return strings.ToUpper(ev.Method) })
}

func distinct(events []netevent.NetworkEvent, key func(*netevent.NetworkEvent) string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for i := range events {
		k := key(&events[i])
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
