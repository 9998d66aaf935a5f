package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/waffleophagus/claw-rubber/internal/pipeline"
	"github.com/waffleophagus/claw-rubber/internal/policy"
	"github.com/waffleophagus/claw-rubber/internal/sanitize"
	"github.com/waffleophagus/claw-rubber/internal/search"
	"github.com/waffleophagus/claw-rubber/internal/store"
)

const maxWebFetchChars = 5_000_000

type searchRequestBody struct {
	Query      string `json:"query"`
	Count      int    `json:"count"`
	Country    string `json:"country"`
	SearchLang string `json:"search_lang"`
	Safesearch string `json:"safesearch"`
	Freshness  string `json:"freshness"`
}

type searchResultPayload struct {
	ResultID     string `json:"result_id"`
	Title        string `json:"title"`
	Snippet      string `json:"snippet"`
	Source       string `json:"source"`
	Rank         int    `json:"rank,omitempty"`
	Availability string `json:"availability"`
	URL          string `json:"url,omitempty"`
	RiskHint     string `json:"risk_hint,omitempty"`
}

type searchResponse struct {
	RequestID string                `json:"request_id"`
	Results   []searchResultPayload `json:"results"`
	Meta      struct {
		TotalReturned int  `json:"total_returned"`
		URLsExposed   bool `json:"urls_exposed"`
	} `json:"meta"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body searchRequestBody
	if !decodeBody(w, r, &body) {
		return
	}
	body.Query = strings.TrimSpace(body.Query)
	if body.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required", nil)
		return
	}
	if body.Count == 0 {
		body.Count = 10
	}
	if body.Count < 1 || body.Count > 20 {
		writeError(w, http.StatusBadRequest, "count must be between 1 and 20", nil)
		return
	}
	switch body.Safesearch {
	case "", "off", "moderate", "strict":
	default:
		writeError(w, http.StatusBadRequest, "safesearch must be off, moderate, or strict", nil)
		return
	}

	ctx := r.Context()
	value, err := s.Queue.Schedule(ctx, func(ctx context.Context) (any, error) {
		return s.Search.Search(ctx, search.Query{
			Query:      body.Query,
			Count:      body.Count,
			Country:    body.Country,
			SearchLang: body.SearchLang,
			Safesearch: body.Safesearch,
			Freshness:  body.Freshness,
		})
	})
	if err != nil {
		mapUpstreamError(w, err)
		return
	}
	results := value.([]search.Result)

	requestID := uuid.NewString()
	now := time.Now()
	if err := s.Store.StoreSearchRequest(ctx, store.SearchRequest{
		ID: requestID, Query: body.Query, Count: body.Count, CreatedAt: now,
	}); err != nil {
		s.Log.Warn().Err(err).Msg("persist search request failed")
	}

	allow, block, err := s.effectiveLists(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, "policy lists unavailable", err.Error())
		return
	}
	domains := policy.NewDomainPolicy(allow, block)

	resp := searchResponse{RequestID: requestID}
	rank := 0
	for _, res := range results {
		u, err := url.Parse(res.URL)
		if err != nil || !strings.EqualFold(u.Scheme, "https") || u.Hostname() == "" {
			continue
		}
		rank++
		domain := policy.NormalizeDomain(u.Hostname())
		dec := domains.Evaluate(domain)

		rec := store.SearchResultRecord{
			ResultID:     uuid.NewString(),
			RequestID:    requestID,
			Query:        body.Query,
			Rank:         rank,
			URL:          res.URL,
			Domain:       domain,
			Title:        res.Title,
			Snippet:      res.Snippet,
			Source:       res.Source,
			Availability: store.AvailabilityAllowed,
			CreatedAt:    now,
			ExpiresAt:    now.Add(s.Cfg.ResultTTL),
		}
		if dec.Action == policy.ActionBlock {
			rec.Availability = store.AvailabilityBlocked
			rec.BlockReason = dec.Reason
		}
		if err := s.Store.StoreSearchResult(ctx, rec); err != nil {
			s.Log.Warn().Err(err).Str("url", res.URL).Msg("persist search result failed")
			continue
		}

		item := searchResultPayload{
			ResultID:     rec.ResultID,
			Title:        rec.Title,
			Snippet:      rec.Snippet,
			Source:       rec.Source,
			Rank:         rec.Rank,
			Availability: rec.Availability,
		}
		if !s.Cfg.RedactURLs {
			item.URL = rec.URL
		}
		if rec.Availability == store.AvailabilityBlocked {
			item.RiskHint = "high"
		}
		resp.Results = append(resp.Results, item)
	}
	if resp.Results == nil {
		resp.Results = []searchResultPayload{}
	}
	resp.Meta.TotalReturned = len(resp.Results)
	resp.Meta.URLsExposed = !s.Cfg.RedactURLs
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) effectiveLists(ctx context.Context) ([]string, []string, error) {
	allow, err := s.Store.EffectiveAllowlist(ctx, s.Cfg.Allowlist)
	if err != nil {
		return nil, nil, err
	}
	block, err := s.Store.EffectiveBlocklist(ctx, s.Cfg.Blocklist)
	if err != nil {
		return nil, nil, err
	}
	return allow, block, nil
}

type fetchRequestBody struct {
	ResultID string `json:"result_id"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var body fetchRequestBody
	if !decodeBody(w, r, &body) {
		return
	}
	if _, err := uuid.Parse(body.ResultID); err != nil {
		writeError(w, http.StatusBadRequest, "result_id must be a UUID", nil)
		return
	}

	ctx := r.Context()
	rec, err := s.Store.GetSearchResult(ctx, body.ResultID)
	if err != nil {
		mapUpstreamError(w, err)
		return
	}

	out, err := s.Pipeline.Run(ctx, pipeline.Request{
		URL:       rec.URL,
		Domain:    rec.Domain,
		Mode:      sanitize.ModeMarkdown,
		MaxChars:  s.Settings.MaxExtractedChars,
		TraceKind: store.TraceSearchResultFetch,
		Search: &pipeline.SearchContext{
			ResultID:  rec.ResultID,
			RequestID: rec.RequestID,
			Query:     rec.Query,
			Rank:      rec.Rank,
		},
	})
	if err != nil {
		mapUpstreamError(w, err)
		return
	}

	if !out.Allowed {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"result_id": rec.ResultID,
			"safety":    safetyFromOutcome(out),
			"source":    s.sourceFromOutcome(out),
		})
		return
	}

	resp := map[string]any{
		"result_id":       rec.ResultID,
		"content":         out.Content,
		"content_summary": out.ContentSummary,
		"safety":          safetyFromOutcome(out),
		"source":          s.sourceFromOutcome(out),
	}
	if s.Cfg.ExposeSafeContentURLs {
		resp["url"] = rec.URL
		resp["final_url"] = out.Source.FinalURL
	}
	writeJSON(w, http.StatusOK, resp)
}

type webFetchRequestBody struct {
	URL         string `json:"url"`
	ExtractMode string `json:"extractMode"`
	MaxChars    int    `json:"maxChars"`
}

func (s *Server) handleWebFetch(w http.ResponseWriter, r *http.Request) {
	var body webFetchRequestBody
	if !decodeBody(w, r, &body) {
		return
	}
	u, err := url.Parse(strings.TrimSpace(body.URL))
	if err != nil || !strings.EqualFold(u.Scheme, "https") || u.Hostname() == "" {
		writeError(w, http.StatusBadRequest, "url must be a valid https url", nil)
		return
	}
	mode := sanitize.ModeMarkdown
	switch body.ExtractMode {
	case "", "markdown":
	case "text":
		mode = sanitize.ModeText
	default:
		writeError(w, http.StatusBadRequest, "extractMode must be markdown or text", nil)
		return
	}
	if body.MaxChars < 0 || body.MaxChars > maxWebFetchChars {
		writeError(w, http.StatusBadRequest, "maxChars out of range", nil)
		return
	}
	maxChars := body.MaxChars
	if maxChars == 0 {
		maxChars = s.Settings.MaxExtractedChars
	}

	fetchID := uuid.NewString()
	out, err := s.Pipeline.Run(r.Context(), pipeline.Request{
		URL:       u.String(),
		Domain:    policy.NormalizeDomain(u.Hostname()),
		Mode:      mode,
		MaxChars:  maxChars,
		TraceKind: store.TraceDirectWebFetch,
	})
	if err != nil {
		mapUpstreamError(w, err)
		return
	}

	if !out.Allowed {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"fetch_id":     fetchID,
			"extract_mode": string(mode),
			"safety":       safetyFromOutcome(out),
			"source":       s.sourceFromOutcome(out),
		})
		return
	}

	resp := map[string]any{
		"fetch_id":        fetchID,
		"extract_mode":    string(mode),
		"content":         out.Content,
		"content_summary": out.ContentSummary,
		"truncated":       out.Truncated,
		"safety":          safetyFromOutcome(out),
		"source":          s.sourceFromOutcome(out),
	}
	if s.Cfg.ExposeSafeContentURLs {
		resp["url"] = u.String()
		resp["final_url"] = out.Source.FinalURL
	}
	writeJSON(w, http.StatusOK, resp)
}
