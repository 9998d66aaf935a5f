package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RenderedResult is what a render backend hands back: the post-JavaScript
// HTML and, when the backend tracked navigation, the final URL.
type RenderedResult struct {
	FinalURL string `json:"finalUrl"`
	HTML     string `json:"html"`
}

// Renderer drives a browserless-style /content endpoint. The backend is an
// external service; this client only shapes requests and bounds responses.
type Renderer struct {
	BaseURL         string
	Token           string
	HTTPClient      *http.Client
	Timeout         time.Duration
	WaitUntil       string
	WaitForSelector string
	BlockAds        bool
	MaxHTMLBytes    int64
	UserAgent       string
}

// Name identifies the backend in fetch provenance.
func (r *Renderer) Name() string { return "browserless" }

type renderRequest struct {
	URL             string `json:"url"`
	WaitUntil       string `json:"waitUntil,omitempty"`
	WaitForSelector string `json:"waitForSelector,omitempty"`
	BlockAds        bool   `json:"blockAds,omitempty"`
	TimeoutMs       int64  `json:"timeout,omitempty"`
}

// Render submits the URL and returns the rendered HTML under the byte
// ceiling. A JSON response may carry a finalUrl; a raw HTML response leaves
// it empty.
func (r *Renderer) Render(ctx context.Context, pageURL string) (*RenderedResult, error) {
	if r.BaseURL == "" {
		return nil, fmt.Errorf("renderer base url not configured")
	}
	endpoint := strings.TrimRight(r.BaseURL, "/") + "/content"
	if r.Token != "" {
		endpoint += "?token=" + r.Token
	}

	payload := renderRequest{
		URL:             pageURL,
		WaitUntil:       r.WaitUntil,
		WaitForSelector: r.WaitForSelector,
		BlockAds:        r.BlockAds,
	}
	if r.Timeout > 0 {
		payload.TimeoutMs = r.Timeout.Milliseconds()
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal render request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}

	hc := r.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", pageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("renderer status: %d", resp.StatusCode)
	}

	raw, err := r.readBounded(resp.Body)
	if err != nil {
		return nil, err
	}
	ct := resp.Header.Get("Content-Type")
	if strings.HasPrefix(strings.ToLower(ct), "application/json") {
		var out RenderedResult
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode render response: %w", err)
		}
		if out.HTML == "" {
			return nil, fmt.Errorf("renderer returned empty html")
		}
		return &out, nil
	}
	return &RenderedResult{HTML: string(raw)}, nil
}

func (r *Renderer) readBounded(body io.Reader) ([]byte, error) {
	max := r.MaxHTMLBytes
	if max <= 0 {
		max = 3 << 20
	}
	raw, err := io.ReadAll(io.LimitReader(body, max+1))
	if err != nil {
		return nil, fmt.Errorf("read render response: %w", err)
	}
	if int64(len(raw)) > max {
		return nil, fmt.Errorf("%w: renderer limit %d", ErrBodyTooLarge, max)
	}
	return raw, nil
}
