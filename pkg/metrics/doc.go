// Package metrics exposes netlens capture counters in the Prometheus text
// exposition format (text/plain; version=0.0.4).
//
// Counters, gauges and histograms are safe for concurrent use. GaugeFunc
// values are computed at scrape time, which suits figures the monitor already
// tracks such as the number of stored events.
//
//	reg := metrics.NewRegistry()
//	p := metrics.NewPipeline(reg)
//	p.Observe(ev) // once per terminal event
//	http.Handle("/metrics", reg.Handler())
//
// Series exported by Pipeline:
//
//   - netlens_events_total{client_kind, class}
//   - netlens_event_duration_seconds{client_kind}
//   - netlens_bytes_total{direction}
package metrics
