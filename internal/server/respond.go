package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/waffleophagus/claw-rubber/internal/fetch"
	"github.com/waffleophagus/claw-rubber/internal/pipeline"
	"github.com/waffleophagus/claw-rubber/internal/search"
	"github.com/waffleophagus/claw-rubber/internal/store"
)

type errorBody struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Message: message, Details: details}})
}

// decodeBody parses a JSON request body strictly.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

// mapUpstreamError translates pipeline/search failures to the error taxonomy.
func mapUpstreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, search.ErrQueueOverflow):
		writeError(w, http.StatusServiceUnavailable, "search queue saturated", nil)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown or expired result id", nil)
	case errors.Is(err, fetch.ErrSchemeNotHTTPS),
		errors.Is(err, fetch.ErrBlockedHost),
		errors.Is(err, fetch.ErrTooManyRedirects),
		errors.Is(err, fetch.ErrBodyTooLarge),
		errors.Is(err, fetch.ErrContentType):
		writeError(w, http.StatusBadGateway, "upstream fetch failed", err.Error())
	default:
		writeError(w, http.StatusBadGateway, "upstream request failed", err.Error())
	}
}

// safetyPayload is the safety block shared by allow and block responses.
type safetyPayload struct {
	Decision             string   `json:"decision"`
	Score                int      `json:"score"`
	Flags                []string `json:"flags"`
	Reason               string   `json:"reason,omitempty"`
	Bypassed             bool     `json:"bypassed"`
	AllowedBy            string   `json:"allowed_by,omitempty"`
	BlockedBy            string   `json:"blocked_by,omitempty"`
	NormalizationApplied []string `json:"normalization_applied"`
	ObfuscationSignals   []string `json:"obfuscation_signals"`
}

type sourcePayload struct {
	Domain       string `json:"domain"`
	FetchBackend string `json:"fetch_backend"`
	Rendered     bool   `json:"rendered"`
	FallbackUsed bool   `json:"fallback_used"`
	FinalURL     string `json:"final_url,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
}

func safetyFromOutcome(out *pipeline.Outcome) safetyPayload {
	decision := "block"
	if out.Allowed {
		decision = "allow"
	}
	return safetyPayload{
		Decision:             decision,
		Score:                out.Score,
		Flags:                emptyIfNilStrings(out.Flags),
		Reason:               out.Reason,
		Bypassed:             out.Bypassed,
		AllowedBy:            out.AllowedBy,
		BlockedBy:            out.BlockedBy,
		NormalizationApplied: emptyIfNilStrings(out.NormalizationApplied),
		ObfuscationSignals:   emptyIfNilStrings(out.ObfuscationSignals),
	}
}

func (s *Server) sourceFromOutcome(out *pipeline.Outcome) sourcePayload {
	src := sourcePayload{
		Domain:       out.Source.Domain,
		FetchBackend: out.Source.FetchBackend,
		Rendered:     out.Source.Rendered,
		FallbackUsed: out.Source.FallbackUsed,
		ContentType:  out.Source.ContentType,
	}
	if s.Cfg.ExposeSafeContentURLs {
		src.FinalURL = out.Source.FinalURL
	}
	return src
}

func emptyIfNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
