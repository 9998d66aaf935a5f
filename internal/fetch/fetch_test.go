package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
)

type fakeResolver struct {
	ips map[string][]string
}

func (f *fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	raw, ok := f.ips[host]
	if !ok {
		return nil, fmt.Errorf("no such host: %s", host)
	}
	var out []net.IPAddr
	for _, s := range raw {
		out = append(out, net.IPAddr{IP: net.ParseIP(s)})
	}
	return out, nil
}

func testClient(t *testing.T) *Client {
	t.Helper()
	return &Client{
		Guard:         &Guard{AllowPrivateHosts: true},
		MaxRedirects:  4,
		MaxFetchBytes: 1 << 20,
		UserAgent:     "claw-rubber-test",
		allowHTTP:     true,
	}
}

func TestGuard_RejectsIPLiterals(t *testing.T) {
	g := &Guard{}
	for _, host := range []string{"127.0.0.1", "10.0.0.1", "8.8.8.8", "::1"} {
		if err := g.ValidateHost(context.Background(), host); !errors.Is(err, ErrBlockedHost) {
			t.Fatalf("host %s: expected ErrBlockedHost, got %v", host, err)
		}
	}
}

func TestGuard_RejectsPrivateResolution(t *testing.T) {
	g := &Guard{Resolver: &fakeResolver{ips: map[string][]string{
		"internal.test": {"192.168.1.10"},
		"mapped.test":   {"::ffff:10.1.2.3"},
		"mixed.test":    {"93.184.216.34", "169.254.0.5"},
		"public.test":   {"93.184.216.34"},
	}}}
	ctx := context.Background()

	for _, host := range []string{"internal.test", "mapped.test", "mixed.test"} {
		if err := g.ValidateHost(ctx, host); !errors.Is(err, ErrBlockedHost) {
			t.Fatalf("host %s: expected ErrBlockedHost, got %v", host, err)
		}
	}
	if err := g.ValidateHost(ctx, "public.test"); err != nil {
		t.Fatalf("public host rejected: %v", err)
	}
}

func TestIsBlockedAddr_CIDRUnion(t *testing.T) {
	blocked := []string{
		"0.0.0.1", "10.255.255.255", "100.64.0.1", "127.0.0.1",
		"169.254.169.254", "172.16.0.1", "192.0.0.1", "192.0.2.5",
		"192.168.0.1", "198.18.0.1", "198.51.100.7", "203.0.113.9",
		"224.0.0.1", "240.0.0.1",
		"::1", "::", "fc00::1", "fe80::1", "ff02::1", "2001:db8::1",
		"::ffff:127.0.0.1", "::ffff:192.168.1.1",
	}
	for _, s := range blocked {
		if !IsBlockedAddr(netip.MustParseAddr(s)) {
			t.Fatalf("expected %s blocked", s)
		}
	}
	for _, s := range []string{"93.184.216.34", "1.1.1.1", "2606:4700::1111"} {
		if IsBlockedAddr(netip.MustParseAddr(s)) {
			t.Fatalf("expected %s allowed", s)
		}
	}
}

func TestFetchPage_RejectsNonHTTPS(t *testing.T) {
	c := &Client{Guard: &Guard{AllowPrivateHosts: true}}
	_, err := c.FetchPage(context.Background(), "http://example.com/")
	if !errors.Is(err, ErrSchemeNotHTTPS) {
		t.Fatalf("expected scheme error, got %v", err)
	}
	_, err = c.FetchPage(context.Background(), "ftp://example.com/")
	if !errors.Is(err, ErrSchemeNotHTTPS) {
		t.Fatalf("expected scheme error, got %v", err)
	}
}

func TestFetchPage_Plain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "claw-rubber-test" {
			t.Errorf("missing user agent")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<p>hello</p>")
	}))
	defer srv.Close()

	page, err := testClient(t).FetchPage(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(page.Body) != "<p>hello</p>" {
		t.Fatalf("unexpected body: %s", page.Body)
	}
	if page.BackendUsed != "http" || page.Rendered || page.FallbackUsed {
		t.Fatalf("unexpected provenance: %+v", page)
	}
}

func TestFetchPage_RedirectCap(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	c := testClient(t)
	c.MaxRedirects = 3
	_, err := c.FetchPage(context.Background(), srv.URL+"/start")
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Fatalf("expected ErrTooManyRedirects, got %v", err)
	}
}

func TestFetchPage_RedirectFollowedWithinCap(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, srv.URL+"/end", http.StatusMovedPermanently)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "done")
	}))
	defer srv.Close()

	page, err := testClient(t).FetchPage(context.Background(), srv.URL+"/start")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.HasSuffix(page.FinalURL, "/end") {
		t.Fatalf("final url not tracked: %s", page.FinalURL)
	}
	if string(page.Body) != "done" {
		t.Fatalf("unexpected body: %s", page.Body)
	}
}

func TestFetchPage_ContentTypeAllowlist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"a":1}`)
	}))
	defer srv.Close()

	_, err := testClient(t).FetchPage(context.Background(), srv.URL)
	if !errors.Is(err, ErrContentType) {
		t.Fatalf("expected ErrContentType, got %v", err)
	}
}

func TestFetchPage_ByteBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, strings.Repeat("a", 2048))
	}))
	defer srv.Close()

	c := testClient(t)
	c.MaxFetchBytes = 1024
	_, err := c.FetchPage(context.Background(), srv.URL)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestFetchPage_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient(t).FetchPage(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "unexpected status: 403") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestFetchPage_RenderedBackend(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<p>static</p>")
	}))
	defer page.Close()

	renderer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"finalUrl":%q,"html":"<p>rendered</p>"}`, page.URL+"/final")
	}))
	defer renderer.Close()

	c := testClient(t)
	c.Renderer = &Renderer{BaseURL: renderer.URL, MaxHTMLBytes: 1 << 20}
	got, err := c.FetchPage(context.Background(), page.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !got.Rendered || got.BackendUsed != "browserless" {
		t.Fatalf("unexpected provenance: %+v", got)
	}
	if string(got.Body) != "<p>rendered</p>" {
		t.Fatalf("unexpected body: %s", got.Body)
	}
	if !strings.HasSuffix(got.FinalURL, "/final") {
		t.Fatalf("renderer final url ignored: %s", got.FinalURL)
	}
}

func TestFetchPage_RendererFailureFallsBack(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<p>static</p>")
	}))
	defer page.Close()

	renderer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "render backend down", http.StatusInternalServerError)
	}))
	defer renderer.Close()

	c := testClient(t)
	c.Renderer = &Renderer{BaseURL: renderer.URL}
	c.FallbackToHTTP = true
	got, err := c.FetchPage(context.Background(), page.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !got.FallbackUsed || got.Rendered {
		t.Fatalf("expected http fallback, got %+v", got)
	}
	if string(got.Body) != "<p>static</p>" {
		t.Fatalf("unexpected body: %s", got.Body)
	}

	// Without fallback the renderer error surfaces.
	c2 := testClient(t)
	c2.Renderer = &Renderer{BaseURL: renderer.URL}
	if _, err := c2.FetchPage(context.Background(), page.URL); err == nil {
		t.Fatal("expected renderer error to surface")
	}
}

func TestFetchPage_RendererFinalURLValidated(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<p>static</p>")
	}))
	defer page.Close()

	renderer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"finalUrl":"ftp://evil.test/x","html":"<p>x</p>"}`)
	}))
	defer renderer.Close()

	c := testClient(t)
	c.Renderer = &Renderer{BaseURL: renderer.URL}
	if _, err := c.FetchPage(context.Background(), page.URL); !errors.Is(err, ErrSchemeNotHTTPS) {
		t.Fatalf("expected scheme rejection of renderer final url, got %v", err)
	}
}
