package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const braveDefaultBase = "https://api.search.brave.com/res/v1"

// Brave implements Provider against the Brave Search API.
type Brave struct {
	BaseURL    string // optional override, mainly for tests
	APIKey     string
	HTTPClient *http.Client
	UserAgent  string
}

func (b *Brave) Name() string { return "brave" }

func (b *Brave) Search(ctx context.Context, q Query) ([]Result, error) {
	if b.APIKey == "" {
		return nil, fmt.Errorf("missing brave api key")
	}
	count := q.Count
	if count <= 0 {
		count = 10
	}
	if count > 20 {
		count = 20
	}
	base := b.BaseURL
	if base == "" {
		base = braveDefaultBase
	}
	u, err := url.Parse(strings.TrimRight(base, "/") + "/web/search")
	if err != nil {
		return nil, err
	}
	vals := u.Query()
	vals.Set("q", q.Query)
	vals.Set("count", strconv.Itoa(count))
	if q.Country != "" {
		vals.Set("country", q.Country)
	}
	if q.SearchLang != "" {
		vals.Set("search_lang", q.SearchLang)
	}
	vals.Set("safesearch", safesearchOrDefault(q.Safesearch))
	if q.Freshness != "" {
		vals.Set("freshness", q.Freshness)
	}
	u.RawQuery = vals.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.APIKey)
	if b.UserAgent != "" {
		req.Header.Set("User-Agent", b.UserAgent)
	}

	hc := b.HTTPClient
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
		return nil, fmt.Errorf("brave status: %d", resp.StatusCode)
	}

	var br braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(br.Web.Results))
	for _, r := range br.Web.Results {
		if r.URL == "" || r.Title == "" {
			continue
		}
		out = append(out, Result{
			Title:     strings.TrimSpace(r.Title),
			URL:       strings.TrimSpace(r.URL),
			Snippet:   strings.TrimSpace(r.Description),
			Source:    b.Name(),
			Published: strings.TrimSpace(r.PageAge),
		})
		if len(out) >= count {
			break
		}
	}
	return out, nil
}

func safesearchOrDefault(s string) string {
	switch s {
	case "off", "moderate", "strict":
		return s
	}
	return "moderate"
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			PageAge     string `json:"page_age"`
		} `json:"results"`
	} `json:"web"`
}
