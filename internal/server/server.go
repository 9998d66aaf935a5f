// Package server exposes the proxy over HTTP: the v1 search/fetch surface,
// liveness and readiness probes, and the dashboard read API.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/waffleophagus/claw-rubber/internal/config"
	"github.com/waffleophagus/claw-rubber/internal/pipeline"
	"github.com/waffleophagus/claw-rubber/internal/search"
	"github.com/waffleophagus/claw-rubber/internal/store"
)

// Server wires the HTTP surface to the pipeline and its collaborators.
type Server struct {
	Cfg      config.Config
	Settings config.ProfileSettings
	Store    *store.Store
	Pipeline *pipeline.Pipeline
	Queue    *search.Queue
	Search   *search.Client
	Log      zerolog.Logger

	started time.Time
}

// New assembles a server. The caller owns the lifecycle of the store and
// queue.
func New(cfg config.Config, st *store.Store, pl *pipeline.Pipeline, q *search.Queue, sc *search.Client, log zerolog.Logger) *Server {
	return &Server{
		Cfg:      cfg,
		Settings: cfg.ProfileSettings(),
		Store:    st,
		Pipeline: pl,
		Queue:    q,
		Search:   sc,
		Log:      log,
		started:  time.Now(),
	}
}

// Router builds the chi mux with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Post("/fetch", s.handleFetch)
		r.Post("/web-fetch", s.handleWebFetch)

		r.Get("/dashboard/events", s.handleDashboardEvents)
		r.Get("/dashboard/flagged/{eventID}", s.handleDashboardFlagged)
		r.Get("/dashboard/flagged/{eventID}/pdf", s.handleDashboardFlaggedPDF)

		r.Get("/lists/allow", s.handleListAllow)
		r.Get("/lists/block", s.handleListBlock)
		r.Post("/lists/allow", s.handleAddAllow)
		r.Post("/lists/block", s.handleAddBlock)
		r.Delete("/lists/allow", s.handleRemoveAllow)
		r.Delete("/lists/block", s.handleRemoveBlock)
	})
	return r
}

// requestLogger emits one line per request with status and duration.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.Log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Dur("duration", time.Since(started)).
			Msg("request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
