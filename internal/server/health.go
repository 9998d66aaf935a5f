package server

import (
	"net/http"
	"time"
)

// handleHealthz reports process liveness only; it never consults
// dependencies.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"service":        "claw-rubber",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

// handleReadyz reports per-dependency readiness and 503s unless the store
// answers a probe and the selected search provider has its key or URL
// configured. The search upstream itself is not contacted.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	deps := map[string]bool{
		"store":  s.Store.IsHealthy(r.Context()),
		"search": s.searchConfigured(),
	}
	ready := true
	for _, ok := range deps {
		if !ok {
			ready = false
		}
	}
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":        ready,
		"dependencies": deps,
	})
}

func (s *Server) searchConfigured() bool {
	switch s.Cfg.Search.Provider {
	case "brave":
		return s.Cfg.Search.BraveAPIKey != ""
	case "searxng":
		return s.Cfg.Search.SearxURL != ""
	}
	return false
}
