package metrics

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Registry holds metrics in registration order.
type Registry struct {
	mu      sync.RWMutex
	metrics []Metric
	names   map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// NewCounter creates and registers a counter.
func (r *Registry) NewCounter(name, help string, labels ...string) *Counter {
	c := newCounter(name, help, labels)
	r.mustRegister(c)
	return c
}

// NewGauge creates and registers a gauge.
func (r *Registry) NewGauge(name, help string, labels ...string) *Gauge {
	g := newGauge(name, help, labels)
	r.mustRegister(g)
	return g
}

// NewGaugeFunc registers a gauge whose value is fn() at scrape time.
func (r *Registry) NewGaugeFunc(name, help string, fn func() float64) *GaugeFunc {
	g := &GaugeFunc{desc: desc{name: name, help: help}, fn: fn}
	r.mustRegister(g)
	return g
}

// NewHistogram creates and registers a histogram with the given bounds.
func (r *Registry) NewHistogram(name, help string, bounds []float64, labels ...string) *Histogram {
	h := newHistogram(name, help, bounds, labels)
	r.mustRegister(h)
	return h
}

// Register adds m, failing on a duplicate name.
func (r *Registry) Register(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.names[m.Name()]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateMetric, m.Name())
	}
	r.names[m.Name()] = struct{}{}
	r.metrics = append(r.metrics, m)
	return nil
}

// mustRegister panics on duplicates; they would produce invalid exposition
// output and only happen through programmer error.
func (r *Registry) mustRegister(m Metric) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// WriteTo writes every metric with at least one sample.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	r.mu.RLock()
	metrics := slices.Clone(r.metrics)
	r.mu.RUnlock()

	cw := &countingWriter{w: bufio.NewWriter(w)}
	for _, m := range metrics {
		samples := m.Collect()
		if len(samples) == 0 {
			continue
		}
		fmt.Fprintf(cw, "# HELP %s %s\n", m.Name(), escapeHelp(m.Help()))
		fmt.Fprintf(cw, "# TYPE %s %s\n", m.Name(), m.Kind())
		for _, s := range samples {
			if len(s.Labels) == 0 {
				fmt.Fprintf(cw, "%s %s\n", s.Name, formatFloat(s.Value))
			} else {
				fmt.Fprintf(cw, "%s{%s} %s\n", s.Name, formatLabels(s.Labels), formatFloat(s.Value))
			}
		}
	}
	if err := cw.w.Flush(); err != nil && cw.err == nil {
		cw.err = err
	}
	return cw.n, cw.err
}

// Handler serves the registry in the text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = r.WriteTo(w)
	})
}

type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}

func formatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(escapeLabelValue(labels[k]))
		b.WriteByte('"')
	}
	return b.String()
}

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

var (
	helpEscaper  = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
)

func escapeHelp(s string) string       { return helpEscaper.Replace(s) }
func escapeLabelValue(s string) string { return labelEscaper.Replace(s) }
