package metrics

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	// ErrLabelCountMismatch is returned when the label values don't match the declared names.
	ErrLabelCountMismatch = errors.New("label count mismatch")
	// ErrNegativeCounterValue is returned when a counter would decrease.
	ErrNegativeCounterValue = errors.New("counter cannot be decreased")
	// ErrDuplicateMetric is returned when a name is registered twice.
	ErrDuplicateMetric = errors.New("duplicate metric name")
)

// Kind is the Prometheus metric type.
type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
)

// Metric is implemented by everything a Registry can expose.
type Metric interface {
	Name() string
	Help() string
	Kind() Kind
	Collect() []Sample
}

// Sample is one exposition line.
type Sample struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// float is a float64 updated with compare-and-swap.
type float struct{ bits atomic.Uint64 }

func (f *float) load() float64   { return math.Float64frombits(f.bits.Load()) }
func (f *float) store(v float64) { f.bits.Store(math.Float64bits(v)) }

func (f *float) add(delta float64) {
	for {
		old := f.bits.Load()
		if f.bits.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+delta)) {
			return
		}
	}
}

// desc is the name/help/label part shared by every metric kind.
type desc struct {
	name       string
	help       string
	labelNames []string
}

func (d *desc) Name() string { return d.name }
func (d *desc) Help() string { return d.help }

// family maps label values to one series of type S.
type family[S any] struct {
	desc
	mu     sync.RWMutex
	series map[string]*S
	labels map[string]map[string]string
	newS   func() *S
}

func newFamily[S any](name, help string, labelNames []string, mk func() *S) family[S] {
	return family[S]{
		desc:   desc{name: name, help: help, labelNames: slices.Clone(labelNames)},
		series: make(map[string]*S),
		labels: make(map[string]map[string]string),
		newS:   mk,
	}
}

func (f *family[S]) get(values []string) (*S, error) {
	if len(values) != len(f.labelNames) {
		return nil, fmt.Errorf("%w: %s expected %d labels, got %d", ErrLabelCountMismatch, f.name, len(f.labelNames), len(values))
	}
	key := strings.Join(values, "\x00")

	f.mu.RLock()
	s, ok := f.series[key]
	f.mu.RUnlock()
	if ok {
		return s, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok = f.series[key]; ok {
		return s, nil
	}
	labels := make(map[string]string, len(values))
	for i, n := range f.labelNames {
		labels[n] = values[i]
	}
	s = f.newS()
	f.series[key] = s
	f.labels[key] = labels
	return s, nil
}

func (f *family[S]) lookup(values []string) (*S, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.series[strings.Join(values, "\x00")]
	return s, ok
}

// each visits every series in key order.
func (f *family[S]) each(fn func(labels map[string]string, s *S)) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fn(f.labels[k], f.series[k])
	}
}

// Counter only goes up.
type Counter struct{ family[float] }

func newCounter(name, help string, labelNames []string) *Counter {
	return &Counter{newFamily(name, help, labelNames, func() *float { return new(float) })}
}

func (c *Counter) Kind() Kind { return KindCounter }

// Add adds delta to the series for values.
func (c *Counter) Add(delta float64, values ...string) error {
	if delta < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeCounterValue, c.name)
	}
	s, err := c.get(values)
	if err != nil {
		return err
	}
	s.add(delta)
	return nil
}

// Inc adds one to the series for values.
func (c *Counter) Inc(values ...string) error { return c.Add(1, values...) }

// Value returns the current value of the series for values, or 0.
func (c *Counter) Value(values ...string) float64 {
	if s, ok := c.lookup(values); ok {
		return s.load()
	}
	return 0
}

func (c *Counter) Collect() []Sample {
	var out []Sample
	c.each(func(labels map[string]string, s *float) {
		out = append(out, Sample{Name: c.name, Labels: labels, Value: s.load()})
	})
	return out
}

// Gauge can go up and down.
type Gauge struct{ family[float] }

func newGauge(name, help string, labelNames []string) *Gauge {
	return &Gauge{newFamily(name, help, labelNames, func() *float { return new(float) })}
}

func (g *Gauge) Kind() Kind { return KindGauge }

// Set sets the series for values.
func (g *Gauge) Set(v float64, values ...string) error {
	s, err := g.get(values)
	if err != nil {
		return err
	}
	s.store(v)
	return nil
}

// Add adds delta, which may be negative, to the series for values.
func (g *Gauge) Add(delta float64, values ...string) error {
	s, err := g.get(values)
	if err != nil {
		return err
	}
	s.add(delta)
	return nil
}

func (g *Gauge) Collect() []Sample {
	var out []Sample
	g.each(func(labels map[string]string, s *float) {
		out = append(out, Sample{Name: g.name, Labels: labels, Value: s.load()})
	})
	return out
}

// GaugeFunc is an unlabelled gauge whose value is read at scrape time.
type GaugeFunc struct {
	desc
	fn func() float64
}

func (g *GaugeFunc) Kind() Kind { return KindGauge }

func (g *GaugeFunc) Collect() []Sample {
	return []Sample{{Name: g.name, Value: g.fn()}}
}

type bucketSet struct {
	counts []atomic.Uint64
	sum    float
	count  atomic.Uint64
}

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	family[bucketSet]
	bounds []float64
}

func newHistogram(name, help string, bounds []float64, labelNames []string) *Histogram {
	b := slices.Clone(bounds)
	slices.Sort(b)
	if len(b) == 0 || !math.IsInf(b[len(b)-1], 1) {
		b = append(b, math.Inf(1))
	}
	return &Histogram{
		family: newFamily(name, help, labelNames, func() *bucketSet {
			return &bucketSet{counts: make([]atomic.Uint64, len(b))}
		}),
		bounds: b,
	}
}

func (h *Histogram) Kind() Kind { return KindHistogram }

// Observe records v in the series for values.
func (h *Histogram) Observe(v float64, values ...string) error {
	s, err := h.get(values)
	if err != nil {
		return err
	}
	i, _ := slices.BinarySearch(h.bounds, v)
	s.counts[i].Add(1)
	s.sum.add(v)
	s.count.Add(1)
	return nil
}

func (h *Histogram) Collect() []Sample {
	var out []Sample
	h.each(func(labels map[string]string, s *bucketSet) {
		var cumulative uint64
		for i, bound := range h.bounds {
			cumulative += s.counts[i].Load()
			bl := make(map[string]string, len(labels)+1)
			for k, v := range labels {
				bl[k] = v
			}
			bl["le"] = formatFloat(bound)
			out = append(out, Sample{Name: h.name + "_bucket", Labels: bl, Value: float64(cumulative)})
		}
		out = append(out,
			Sample{Name: h.name + "_sum", Labels: labels, Value: s.sum.load()},
			Sample{Name: h.name + "_count", Labels: labels, Value: float64(s.count.Load())},
		)
	})
	return out
}

// DurationBuckets are histogram bounds in seconds for request latency.
var DurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
