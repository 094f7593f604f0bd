package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/twincore/internal/timeline"
)

// handleGetTimeline returns recorded hardware transitions.
//
// Query parameters (at most one):
//   - pin: filter to one pin number
//   - sensor: filter to one sensor id
//   - actuator: filter to one actuator id
func (s *Server) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var entries []timeline.Entry
	switch {
	case q.Get("pin") != "":
		pin, err := strconv.Atoi(q.Get("pin"))
		if err != nil {
			writeBadRequest(w, "pin must be a number")
			return
		}
		entries = s.timeline.ByPin(pin)
	case q.Get("sensor") != "":
		entries = s.timeline.BySensor(q.Get("sensor"))
	case q.Get("actuator") != "":
		entries = s.timeline.ByActuator(q.Get("actuator"))
	default:
		entries = s.timeline.All()
	}

	if entries == nil {
		entries = []timeline.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleClearTimeline discards all recorded entries. The debug session
// state is untouched — an active session keeps recording.
func (s *Server) handleClearTimeline(w http.ResponseWriter, _ *http.Request) {
	s.timeline.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// sessionResponse describes the debug session state.
type sessionResponse struct {
	Active  bool   `json:"active"`
	Started string `json:"started,omitempty"`
	Entries int    `json:"entries"`
}

// handleGetSession returns the current debug session state.
func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionState())
}

// handleStartSession begins a debug session. Starting while one is
// active rebases the session clock; entry timestamps are relative to the
// most recent start.
func (s *Server) handleStartSession(w http.ResponseWriter, _ *http.Request) {
	s.timeline.Start()
	s.logger.Info("timeline debug session started")
	writeJSON(w, http.StatusOK, s.sessionState())
}

// handleStopSession ends the debug session. Recorded entries are kept.
func (s *Server) handleStopSession(w http.ResponseWriter, _ *http.Request) {
	s.timeline.Stop()
	s.logger.Info("timeline debug session stopped")
	writeJSON(w, http.StatusOK, s.sessionState())
}

func (s *Server) sessionState() sessionResponse {
	start, active := s.timeline.Session()
	resp := sessionResponse{
		Active:  active,
		Entries: s.timeline.Len(),
	}
	if !start.IsZero() {
		resp.Started = start.UTC().Format(time.RFC3339)
	}
	return resp
}
