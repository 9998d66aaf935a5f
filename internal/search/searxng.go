package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SearxNG implements Provider against a SearxNG instance's /search endpoint,
// for deployments that prefer a self-hosted upstream.
type SearxNG struct {
	BaseURL    string
	APIKey     string // optional
	HTTPClient *http.Client
	UserAgent  string
}

func (s *SearxNG) Name() string { return "searxng" }

func (s *SearxNG) Search(ctx context.Context, q Query) ([]Result, error) {
	if s.BaseURL == "" {
		return nil, fmt.Errorf("missing searxng base url")
	}
	count := q.Count
	if count <= 0 {
		count = 10
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(u.Path, "/search") {
		u.Path = strings.TrimRight(u.Path, "/") + "/search"
	}
	vals := u.Query()
	vals.Set("q", q.Query)
	vals.Set("format", "json")
	vals.Set("language", languageOrAuto(q.SearchLang))
	vals.Set("safesearch", searxSafesearch(q.Safesearch))
	vals.Set("categories", "general")
	vals.Set("count", fmt.Sprintf("%d", count))
	if s.APIKey != "" {
		vals.Set("apikey", s.APIKey)
	}
	u.RawQuery = vals.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	hc := s.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{RetryAfter: retryDelayFromHeaders(resp.Header, time.Now())}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("searxng status: %d", resp.StatusCode)
	}
	var sr searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(sr.Results))
	for _, r := range sr.Results {
		if r.URL == "" || r.Title == "" {
			continue
		}
		out = append(out, Result{
			Title:     strings.TrimSpace(r.Title),
			URL:       strings.TrimSpace(r.URL),
			Snippet:   strings.TrimSpace(r.Content),
			Source:    s.Name(),
			Published: strings.TrimSpace(r.PublishedDate),
		})
		if len(out) >= count {
			break
		}
	}
	return out, nil
}

func languageOrAuto(lang string) string {
	if lang == "" {
		return "auto"
	}
	return lang
}

// searxSafesearch maps the shared tri-state onto SearxNG's numeric knob.
func searxSafesearch(s string) string {
	switch s {
	case "off":
		return "0"
	case "strict":
		return "2"
	}
	return "1"
}

type searxResponse struct {
	Results []struct {
		Title         string `json:"title"`
		URL           string `json:"url"`
		Content       string `json:"content"`
		PublishedDate string `json:"publishedDate"`
	} `json:"results"`
}
