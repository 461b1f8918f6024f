package metrics

import (
	"github.com/getmockd/netlens/pkg/netevent"
)

// Pipeline counts terminal network events.
type Pipeline struct {
	Events   *Counter
	Duration *Histogram
	Bytes    *Counter
}

// NewPipeline registers the capture series on reg.
func NewPipeline(reg *Registry) *Pipeline {
	return &Pipeline{
		Events: reg.NewCounter("netlens_events_total",
			"Completed or failed network events by client kind and status class.",
			"client_kind", "class"),
		Duration: reg.NewHistogram("netlens_event_duration_seconds",
			"Time from request start to response headers.",
			DurationBuckets, "client_kind"),
		Bytes: reg.NewCounter("netlens_bytes_total",
			"Captured payload bytes by direction.",
			"direction"),
	}
}

// Observe records a terminal event. Non-terminal events are ignored.
func (p *Pipeline) Observe(ev *netevent.NetworkEvent) {
	if ev == nil || !ev.Terminal() {
		return
	}
	kind := string(ev.ClientKind)
	_ = p.Events.Inc(kind, string(ev.Class()))
	if d, ok := ev.Duration(); ok {
		_ = p.Duration.Observe(d.Seconds(), kind)
	}
	_ = p.Bytes.Add(float64(ev.RequestSize), "sent")
	_ = p.Bytes.Add(float64(ev.ResponseSize), "received")
}
