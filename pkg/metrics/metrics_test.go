package metrics

import (
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/netlens/pkg/netevent"
)

func TestCounter(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("requests_total", "Requests.", "method", "status")

	require.NoError(t, c.Inc("GET", "200"))
	require.NoError(t, c.Inc("GET", "200"))
	require.NoError(t, c.Add(5, "POST", "201"))

	assert.Equal(t, 2.0, c.Value("GET", "200"))
	assert.Equal(t, 5.0, c.Value("POST", "201"))
	assert.Zero(t, c.Value("PUT", "204"))
	assert.Len(t, c.Collect(), 2, "Value does not create series")

	assert.ErrorIs(t, c.Add(-1, "GET", "200"), ErrNegativeCounterValue)
	assert.ErrorIs(t, c.Inc("GET"), ErrLabelCountMismatch)
}

func TestGauge(t *testing.T) {
	r := NewRegistry()
	g := r.NewGauge("connections", "Open connections.", "protocol")

	require.NoError(t, g.Set(3, "ws"))
	require.NoError(t, g.Add(-1, "ws"))
	samples := g.Collect()
	require.Len(t, samples, 1)
	assert.Equal(t, 2.0, samples[0].Value)
	assert.Equal(t, map[string]string{"protocol": "ws"}, samples[0].Labels)

	assert.ErrorIs(t, g.Set(1), ErrLabelCountMismatch)
}

func TestGaugeFunc(t *testing.T) {
	r := NewRegistry()
	n := 4.0
	r.NewGaugeFunc("queue_depth", "Depth.", func() float64 { return n })
	n = 7

	var b strings.Builder
	_, err := r.WriteTo(&b)
	require.NoError(t, err)
	assert.Contains(t, b.String(), "queue_depth 7\n")
}

func TestHistogram(t *testing.T) {
	r := NewRegistry()
	h := r.NewHistogram("latency_seconds", "Latency.", []float64{1, 0.1, 0.5})

	for _, v := range []float64{0.05, 0.1, 0.3, 2} {
		require.NoError(t, h.Observe(v))
	}

	values := map[string]float64{}
	for _, s := range h.Collect() {
		values[s.Name+"/"+s.Labels["le"]] = s.Value
	}
	assert.Equal(t, 2.0, values["latency_seconds_bucket/0.1"], "bounds are inclusive")
	assert.Equal(t, 3.0, values["latency_seconds_bucket/0.5"])
	assert.Equal(t, 3.0, values["latency_seconds_bucket/1"])
	assert.Equal(t, 4.0, values["latency_seconds_bucket/+Inf"])
	assert.Equal(t, 4.0, values["latency_seconds_count/"])
	assert.InDelta(t, 2.45, values["latency_seconds_sum/"], 1e-9)
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	r.NewCounter("dup", "first")
	assert.ErrorIs(t, r.Register(newGauge("dup", "second", nil)), ErrDuplicateMetric)
	assert.Panics(t, func() { r.NewGauge("dup", "third") })
}

func TestHandlerExposition(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("events_total", "Events\nseen.", "path")
	r.NewGauge("unused", "Never set.")
	require.NoError(t, c.Inc(`/a"b`))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, "text/plain; version=0.0.4; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "# HELP events_total Events\\nseen.\n"+
		"# TYPE events_total counter\n"+
		"events_total{path=\"/a\\\"b\"} 1\n", rec.Body.String())
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "1", formatFloat(1))
	assert.Equal(t, "0.25", formatFloat(0.25))
	assert.Equal(t, "+Inf", formatFloat(math.Inf(1)))
	assert.Equal(t, "-Inf", formatFloat(math.Inf(-1)))
	assert.Equal(t, "NaN", formatFloat(math.NaN()))
}

func TestCounterConcurrent(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("hits", "Hits.", "kind")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				_ = c.Inc("http")
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8000.0, c.Value("http"))
}

func TestPipelineObserve(t *testing.T) {
	r := NewRegistry()
	p := NewPipeline(r)
	ms := int64(120)

	p.Observe(&netevent.NetworkEvent{ClientKind: netevent.ClientKindHTTP, Status: 200, DurationMs: &ms, RequestSize: 10, ResponseSize: 40})
	p.Observe(&netevent.NetworkEvent{ClientKind: netevent.ClientKindHTTP, Error: "refused"})
	p.Observe(&netevent.NetworkEvent{ClientKind: netevent.ClientKindHTTP}) // pending
	p.Observe(nil)

	assert.Equal(t, 1.0, p.Events.Value("http", "success"))
	assert.Equal(t, 1.0, p.Events.Value("http", "error"))
	assert.Zero(t, p.Events.Value("http", "pending"))
	assert.Equal(t, 10.0, p.Bytes.Value("sent"))
	assert.Equal(t, 40.0, p.Bytes.Value("received"))

	var count float64
	for _, s := range p.Duration.Collect() {
		if s.Name == "netlens_event_duration_seconds_count" {
			count = s.Value
		}
	}
	assert.Equal(t, 1.0, count)
}
