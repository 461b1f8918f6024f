package feed

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/getmockd/netlens/pkg/logging"
	"github.com/getmockd/netlens/pkg/monitor"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

// Server exposes a Monitor over HTTP.
type Server struct {
	mon *monitor.Monitor
	log *slog.Logger
	mux *http.ServeMux

	accept websocket.AcceptOptions

	mu      sync.Mutex
	streams map[string]*stream
}

// New creates a Server for mon. A nil log discards output.
func New(mon *monitor.Monitor, log *slog.Logger) *Server {
	s := &Server{
		mon: mon,
		log: logging.OrNop(log),
		mux: http.NewServeMux(),
		accept: websocket.AcceptOptions{
			// The feed is a local developer tool; browsers on other
			// origins (dev servers) must be able to connect.
			InsecureSkipVerify: true,
		},
		streams: make(map[string]*stream),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.mon.MetricsHandler())

	s.mux.HandleFunc("GET /events", s.handleListEvents)
	s.mux.HandleFunc("GET /events/stream", s.handleStream)
	s.mux.HandleFunc("GET /events/{id}", s.handleGetEvent)
	s.mux.HandleFunc("DELETE /events", s.handleClearEvents)

	s.mux.HandleFunc("GET /filter", s.handleGetFilter)
	s.mux.HandleFunc("PUT /filter", s.handleSetFilter)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("GET /hosts", s.handleHosts)
	s.mux.HandleFunc("GET /methods", s.handleMethods)

	s.mux.HandleFunc("GET /ignore", s.handleGetIgnore)
	s.mux.HandleFunc("PUT /ignore", s.handleSetIgnore)
	s.mux.HandleFunc("POST /ignore/toggle", s.handleToggleIgnore)

	s.mux.HandleFunc("GET /monitor", s.handleMonitorStatus)
	s.mux.HandleFunc("POST /monitor/start", s.handleMonitorStart)
	s.mux.HandleFunc("POST /monitor/stop", s.handleMonitorStop)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// StreamCount returns the number of open websocket streams.
func (s *Server) StreamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// Close ends every open stream.
func (s *Server) Close() {
	s.mu.Lock()
	streams := make([]*stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	for _, st := range streams {
		st.close(websocket.StatusGoingAway, "server shutting down")
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, errCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   errCode,
		Message: message,
	})
}

// decodeJSON reads a bounded JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}
