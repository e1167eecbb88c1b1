package api

import (
	"net/http"
	"time"
)

// RegisterRoutes registers the health, metrics and session endpoints.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)

	if s.deps.Metrics != nil {
		mux.Handle(s.opts.MetricsPath, s.deps.Metrics)
	}

	if s.deps.Auth == nil {
		mux.HandleFunc("/ws", s.handleSession)
		return
	}
	mux.HandleFunc("/ws", s.deps.Auth.RequireAuth(s.handleSession))
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}

	health := s.health()
	if !health.Degraded() {
		health.Status = "ok"
		writeOK(w, health)
		return
	}
	health.Status = "degraded"
	writeErr(w, http.StatusServiceUnavailable, "SERVICE_DEGRADED",
		"One or more subsystems are unavailable", health)
}

func (s *Server) health() *Health {
	h := &Health{
		Version:   s.opts.Version,
		UptimeSec: time.Since(s.startTime).Seconds(),
	}
	if s.deps.Device != nil {
		state := s.deps.Device.CardReaderState()
		h.Subsystems.Device = DeviceHealth{
			Connected:   s.deps.Device.IsConnected(),
			SupportsEMV: state.SupportsEMV,
			Tampered:    state.IsTampered,
		}
	}
	if s.deps.Commands != nil {
		snap := s.deps.Commands.Snapshot()
		h.Subsystems.Queue = &snap
	}
	if s.deps.Sessions != nil {
		h.Subsystems.Sessions = s.deps.Sessions.Count()
	}
	return h
}
