// Package feed serves a monitor over HTTP: JSON endpoints for the captured
// events, derived statistics, ignore patterns and capture state, plus a
// websocket stream that pushes a fresh view snapshot after every change.
//
// Routes:
//
//	GET    /health
//	GET    /metrics             Prometheus text exposition
//	GET    /events              visible events; filter query params override the view filter
//	GET    /events/{id}
//	DELETE /events
//	GET    /events/stream       websocket snapshot stream
//	GET    /filter
//	PUT    /filter
//	GET    /stats
//	GET    /hosts
//	GET    /methods
//	GET    /ignore
//	PUT    /ignore
//	POST   /ignore/toggle
//	GET    /monitor
//	POST   /monitor/start
//	POST   /monitor/stop
package feed
