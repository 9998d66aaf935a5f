// Package fetch retrieves page bytes with SSRF hardening, manual redirect
// control, and an optional headless-render backend with transparent HTTP
// fallback.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrTooManyRedirects fires when a chain exceeds the configured cap.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrBodyTooLarge fires when a body exceeds the byte budget mid-stream.
	ErrBodyTooLarge = errors.New("response body exceeds byte limit")
	// ErrContentType rejects types outside the allowlist.
	ErrContentType = errors.New("unsupported content type")
)

const acceptHeader = "text/html,text/plain,application/xhtml+xml"

// Page is the fetcher's result: the bytes on the wire plus provenance about
// how they were obtained.
type Page struct {
	FinalURL     string
	ContentType  string
	Body         []byte
	BackendUsed  string
	Rendered     bool
	FallbackUsed bool
}

// Client fetches pages. A nil Guard behaves like the zero Guard (default
// resolver, private hosts blocked). MaxRedirects falls back to 4; a zero
// MaxFetchBytes or Timeout leaves the body size or per-hop time unbounded.
type Client struct {
	HTTPClient     *http.Client
	UserAgent      string
	Timeout        time.Duration
	MaxRedirects   int
	MaxFetchBytes  int64
	Guard          *Guard
	Renderer       *Renderer
	FallbackToHTTP bool
	Log            zerolog.Logger

	// allowHTTP permits plain http for tests against httptest listeners.
	allowHTTP bool
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (c *Client) maxRedirects() int {
	if c.MaxRedirects > 0 {
		return c.MaxRedirects
	}
	return 4
}

// FetchPage retrieves the URL through the configured backend. Only https is
// accepted; every hop and every renderer-returned final URL is re-validated
// against the SSRF guard.
func (c *Client) FetchPage(ctx context.Context, rawURL string) (*Page, error) {
	u, err := c.validateURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if c.Renderer != nil {
		page, err := c.renderedFetch(ctx, u)
		if err == nil {
			return page, nil
		}
		if !c.FallbackToHTTP {
			return nil, err
		}
		c.Log.Warn().Err(err).Str("url", rawURL).Msg("renderer failed, falling back to http")
		page, err = c.plainFetch(ctx, u)
		if err != nil {
			return nil, err
		}
		page.FallbackUsed = true
		return page, nil
	}
	return c.plainFetch(ctx, u)
}

// validateURL enforces the https-only scheme rule and the host guard.
func (c *Client) validateURL(ctx context.Context, rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "https" && !(c.allowHTTP && scheme == "http") {
		return nil, fmt.Errorf("%w: %q", ErrSchemeNotHTTPS, u.Scheme)
	}
	if u.User != nil {
		return nil, fmt.Errorf("%w: embedded credentials", ErrBlockedHost)
	}
	if err := c.Guard.ValidateHost(ctx, u.Hostname()); err != nil {
		return nil, err
	}
	return u, nil
}

// plainFetch walks redirects manually, re-validating each hop, and streams
// the final body under the byte budget.
func (c *Client) plainFetch(ctx context.Context, u *url.URL) (*Page, error) {
	resp, finalURL, err := c.walkRedirects(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !allowedContentType(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrContentType, contentType)
	}
	body, err := readLimited(resp.Body, c.MaxFetchBytes)
	if err != nil {
		return nil, err
	}
	return &Page{
		FinalURL:    finalURL.String(),
		ContentType: contentType,
		Body:        body,
		BackendUsed: "http",
	}, nil
}

// walkRedirects performs the GET chain and returns the terminal response.
// The caller owns the response body.
func (c *Client) walkRedirects(ctx context.Context, u *url.URL) (*http.Response, *url.URL, error) {
	current := u
	for hop := 0; ; hop++ {
		resp, err := c.doGet(ctx, current)
		if err != nil {
			return nil, nil, err
		}
		if !isRedirect(resp.StatusCode) {
			return resp, current, nil
		}
		loc := resp.Header.Get("Location")
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if loc == "" {
			return nil, nil, fmt.Errorf("redirect status %d without location", resp.StatusCode)
		}
		next, err := current.Parse(loc)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redirect location: %w", err)
		}
		if hop+1 > c.maxRedirects() {
			return nil, nil, ErrTooManyRedirects
		}
		validated, err := c.validateURL(ctx, next.String())
		if err != nil {
			return nil, nil, err
		}
		current = validated
	}
}

func (c *Client) doGet(ctx context.Context, u *url.URL) (*http.Response, error) {
	var cancel context.CancelFunc = func() {}
	if c.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("new request: %w", err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	req.Header.Set("Accept", acceptHeader)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelReadCloser releases the per-hop timeout once the body is closed.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// renderedFetch resolves the final URL over plain GETs (bodies discarded),
// submits it to the renderer, and re-validates whatever URL comes back.
func (c *Client) renderedFetch(ctx context.Context, u *url.URL) (*Page, error) {
	resp, finalURL, err := c.walkRedirects(ctx, u)
	if err != nil {
		return nil, err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	rendered, err := c.Renderer.Render(ctx, finalURL.String())
	if err != nil {
		return nil, err
	}
	final := finalURL.String()
	if rendered.FinalURL != "" {
		if _, err := c.validateURL(ctx, rendered.FinalURL); err != nil {
			return nil, err
		}
		final = rendered.FinalURL
	}
	return &Page{
		FinalURL:    final,
		ContentType: "text/html",
		Body:        []byte(rendered.HTML),
		BackendUsed: c.Renderer.Name(),
		Rendered:    true,
	}, nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func allowedContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "text/html", "text/plain", "application/xhtml+xml":
		return true
	}
	return false
}

// readLimited streams at most max bytes, failing once the counter passes the
// budget rather than truncating silently.
func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return b, nil
	}
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(b)) > max {
		return nil, fmt.Errorf("%w: limit %d", ErrBodyTooLarge, max)
	}
	return b, nil
}
