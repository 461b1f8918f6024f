package feed

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/getmockd/netlens/pkg/ignore"
	"github.com/getmockd/netlens/pkg/netevent"
	"github.com/getmockd/netlens/pkg/query"
)

// EventsResponse is the body of GET /events.
type EventsResponse struct {
	Events []netevent.NetworkEvent `json:"events"`
	Count  int                     `json:"count"`
	Stats  query.Stats             `json:"stats"`
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Visible query.Stats `json:"visible"`
	Total   query.Stats `json:"total"`
}

// IgnoreResponse is the body of the ignore endpoints.
type IgnoreResponse struct {
	Patterns []string `json:"patterns"`
}

// ToggleRequest is the body of POST /ignore/toggle.
type ToggleRequest struct {
	Pattern string `json:"pattern"`
}

// ToggleResponse reports the state of a toggled pattern.
type ToggleResponse struct {
	Pattern  string   `json:"pattern"`
	Active   bool     `json:"active"`
	Patterns []string `json:"patterns"`
}

// filterParams are the query parameters that override the view filter.
var filterParams = []string{"status", "method", "contentType", "q", "host", "expr", "bodyPath"}

// filterFromQuery builds a Filter from query parameters. ok is false when
// none of the filter parameters is present.
func filterFromQuery(q url.Values) (f query.Filter, ok bool, err error) {
	for _, p := range filterParams {
		if q.Has(p) {
			ok = true
			break
		}
	}
	if !ok {
		return query.Filter{}, false, nil
	}

	status, err := query.ParseStatusFilter(q.Get("status"))
	if err != nil {
		return query.Filter{}, true, err
	}
	f = query.Filter{
		Status:     status,
		Methods:    q["method"],
		SearchText: q.Get("q"),
		Host:       q.Get("host"),
		Expression: q.Get("expr"),
		BodyPath:   q.Get("bodyPath"),
	}
	for _, ct := range q["contentType"] {
		f.ContentTypes = append(f.ContentTypes, netevent.ParseContentCategory(ct))
	}
	return f, true, f.Validate()
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListEvents handles GET /events.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	f, override, err := filterFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	var events []netevent.NetworkEvent
	if override {
		events = ignore.Hide(query.Apply(s.mon.Events(), f), s.mon.IgnorePatterns())
	} else {
		events = s.mon.Visible()
	}
	writeJSON(w, http.StatusOK, EventsResponse{
		Events: events,
		Count:  len(events),
		Stats:  query.ComputeStats(events),
	})
}

// handleGetEvent handles GET /events/{id}.
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ev, ok := s.mon.Event(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "event not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleClearEvents handles DELETE /events.
func (s *Server) handleClearEvents(w http.ResponseWriter, r *http.Request) {
	s.mon.ClearEvents()
	w.WriteHeader(http.StatusNoContent)
}

// handleGetFilter handles GET /filter.
func (s *Server) handleGetFilter(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mon.Filter())
}

// handleSetFilter handles PUT /filter.
func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	var f query.Filter
	if err := decodeJSON(w, r, &f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := s.mon.SetFilter(f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.mon.Filter())
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.mon.Snapshot()
	writeJSON(w, http.StatusOK, StatsResponse{Visible: snap.Stats, Total: snap.TotalStats})
}

// handleHosts handles GET /hosts.
func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"hosts": s.mon.Hosts()})
}

// handleMethods handles GET /methods.
func (s *Server) handleMethods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"methods": s.mon.Methods()})
}

// handleGetIgnore handles GET /ignore.
func (s *Server) handleGetIgnore(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, IgnoreResponse{Patterns: s.mon.IgnorePatterns()})
}

// handleSetIgnore handles PUT /ignore with a JSON string array.
func (s *Server) handleSetIgnore(w http.ResponseWriter, r *http.Request) {
	var patterns []string
	if err := decodeJSON(w, r, &patterns); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "expected a JSON array of strings: "+err.Error())
		return
	}
	if err := s.mon.SetIgnorePatterns(r.Context(), patterns); err != nil {
		s.log.Error("failed to save ignore patterns", "error", err)
		writeError(w, http.StatusInternalServerError, "persist_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, IgnoreResponse{Patterns: s.mon.IgnorePatterns()})
}

// handleToggleIgnore handles POST /ignore/toggle.
func (s *Server) handleToggleIgnore(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	active, err := s.mon.ToggleIgnorePattern(r.Context(), req.Pattern)
	switch {
	case err == nil:
	case errors.Is(err, ignore.ErrEmptyPattern):
		writeError(w, http.StatusBadRequest, "invalid_pattern", err.Error())
		return
	default:
		s.log.Error("failed to save ignore patterns", "error", err)
		writeError(w, http.StatusInternalServerError, "persist_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ToggleResponse{
		Pattern:  req.Pattern,
		Active:   active,
		Patterns: s.mon.IgnorePatterns(),
	})
}

// handleMonitorStatus handles GET /monitor.
func (s *Server) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mon.Status())
}

// handleMonitorStart handles POST /monitor/start.
func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	if !s.mon.IsActive() {
		s.mon.StartListening()
	}
	writeJSON(w, http.StatusOK, s.mon.Status())
}

// handleMonitorStop handles POST /monitor/stop.
func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	if s.mon.IsActive() {
		s.mon.StopListening()
	}
	writeJSON(w, http.StatusOK, s.mon.Status())
}
