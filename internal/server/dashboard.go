package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/waffleophagus/claw-rubber/internal/report"
	"github.com/waffleophagus/claw-rubber/internal/store"
)

func (s *Server) handleDashboardEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = n
	}
	events, err := s.Store.RecentFetchEvents(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, "events unavailable", err.Error())
		return
	}
	if events == nil {
		events = []store.FetchEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) flaggedFromRequest(w http.ResponseWriter, r *http.Request) *store.FlaggedPayload {
	id, err := strconv.ParseInt(chi.URLParam(r, "eventID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "event id must be a positive integer", nil)
		return nil
	}
	fp, err := s.Store.GetFlaggedPayload(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no flagged payload for event", nil)
		return nil
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "flagged payload unavailable", err.Error())
		return nil
	}
	return fp
}

func (s *Server) handleDashboardFlagged(w http.ResponseWriter, r *http.Request) {
	fp := s.flaggedFromRequest(w, r)
	if fp == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fetch_event_id": fp.FetchEventID,
		"result_id":      fp.ResultID,
		"url":            fp.URL,
		"domain":         fp.Domain,
		"score":          fp.Score,
		"flags":          emptyIfNilStrings(fp.Flags),
		"evidence":       fp.Evidence,
		"reason":         fp.Reason,
		"content":        fp.Content,
		"created_at":     fp.CreatedAt,
	})
}

func (s *Server) handleDashboardFlaggedPDF(w http.ResponseWriter, r *http.Request) {
	fp := s.flaggedFromRequest(w, r)
	if fp == nil {
		return
	}
	pdf, err := report.FlaggedPayloadPDF(fp)
	if err != nil {
		writeError(w, http.StatusBadGateway, "pdf rendering failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

type listMutationBody struct {
	Domain string `json:"domain"`
	Note   string `json:"note"`
}

func (s *Server) handleListAllow(w http.ResponseWriter, r *http.Request) {
	s.respondList(w, r, false)
}

func (s *Server) handleListBlock(w http.ResponseWriter, r *http.Request) {
	s.respondList(w, r, true)
}

func (s *Server) respondList(w http.ResponseWriter, r *http.Request, block bool) {
	var (
		entries []store.RuntimeDomainEntry
		err     error
	)
	if block {
		entries, err = s.Store.ListRuntimeBlocklistDomains(r.Context())
	} else {
		entries, err = s.Store.ListRuntimeAllowlistDomains(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "list unavailable", err.Error())
		return
	}
	if entries == nil {
		entries = []store.RuntimeDomainEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleAddAllow(w http.ResponseWriter, r *http.Request) {
	s.mutateList(w, r, false)
}

func (s *Server) handleAddBlock(w http.ResponseWriter, r *http.Request) {
	s.mutateList(w, r, true)
}

func (s *Server) handleRemoveAllow(w http.ResponseWriter, r *http.Request) {
	s.removeFromList(w, r, false)
}

func (s *Server) handleRemoveBlock(w http.ResponseWriter, r *http.Request) {
	s.removeFromList(w, r, true)
}

func (s *Server) removeFromList(w http.ResponseWriter, r *http.Request, block bool) {
	if !s.Cfg.DashboardWriteAPI {
		writeError(w, http.StatusForbidden, "dashboard write api disabled", nil)
		return
	}
	var body listMutationBody
	if !decodeBody(w, r, &body) {
		return
	}
	var err error
	if block {
		err = s.Store.RemoveRuntimeBlocklistDomain(r.Context(), body.Domain)
	} else {
		err = s.Store.RemoveRuntimeAllowlistDomain(r.Context(), body.Domain)
	}
	if errors.Is(err, store.ErrInvalidDomain) {
		writeError(w, http.StatusBadRequest, "invalid domain", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "list mutation failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) mutateList(w http.ResponseWriter, r *http.Request, block bool) {
	if !s.Cfg.DashboardWriteAPI {
		writeError(w, http.StatusForbidden, "dashboard write api disabled", nil)
		return
	}
	var body listMutationBody
	if !decodeBody(w, r, &body) {
		return
	}
	var err error
	if block {
		err = s.Store.AddRuntimeBlocklistDomain(r.Context(), body.Domain, body.Note)
	} else {
		err = s.Store.AddRuntimeAllowlistDomain(r.Context(), body.Domain, body.Note)
	}
	if errors.Is(err, store.ErrInvalidDomain) {
		writeError(w, http.StatusBadRequest, "invalid domain", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "list mutation failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
