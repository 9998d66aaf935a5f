package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/waffleophagus/claw-rubber/internal/score"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSearchResult_RoundTripAndExpiry(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	rec := SearchResultRecord{
		ResultID:     "11111111-1111-1111-1111-111111111111",
		RequestID:    "req-1",
		Query:        "bun runtime",
		Rank:         1,
		URL:          "https://bun.sh/docs",
		Domain:       "bun.sh",
		Title:        "Bun docs",
		Snippet:      "Bun is a JavaScript runtime.",
		Source:       "brave",
		Availability: AvailabilityAllowed,
		CreatedAt:    now,
		ExpiresAt:    now.Add(30 * time.Minute),
	}
	if err := s.StoreSearchResult(ctx, rec); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := s.GetSearchResult(ctx, rec.ResultID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.URL != rec.URL || got.Domain != "bun.sh" || got.Rank != 1 {
		t.Fatalf("unexpected record: %+v", got)
	}

	// Unknown id.
	if _, err := s.GetSearchResult(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Expired record reads as not found.
	s.now = func() time.Time { return now.Add(31 * time.Minute) }
	if _, err := s.GetSearchResult(ctx, rec.ResultID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestSearchResult_InvariantExpiryAfterCreation(t *testing.T) {
	s := testStore(t)
	now := time.Now()
	err := s.StoreSearchResult(context.Background(), SearchResultRecord{
		ResultID:  "r",
		CreatedAt: now,
		ExpiresAt: now,
	})
	if err == nil {
		t.Fatal("expected invariant error")
	}
}

func TestFetchEvent_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.StoreFetchEvent(ctx, FetchEvent{
		URL:             "https://evil.test/page",
		Domain:          "evil.test",
		Decision:        "block",
		Score:           12,
		Flags:           []string{"instruction_override", "domain_blocklist"},
		Reason:          "Rule score 12 ≥ block threshold 10",
		BlockedBy:       "rule-threshold",
		DomainAction:    "inspect",
		MediumThreshold: 6,
		BlockThreshold:  10,
		DurationMs:      41,
		TraceKind:       TraceDirectWebFetch,
	})
	if err != nil {
		t.Fatalf("store event: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive id, got %d", id)
	}

	events, err := s.RecentFetchEvents(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.ID != id || ev.Decision != "block" || len(ev.Flags) != 2 || ev.CreatedAt.IsZero() {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestFetchEvent_RecentOrdering(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 3; i++ {
		created := base.Add(time.Duration(i) * time.Second)
		s.now = func() time.Time { return created }
		if _, err := s.StoreFetchEvent(ctx, FetchEvent{
			URL: "https://a.test", Domain: "a.test", Decision: "allow",
			DomainAction: "inspect", TraceKind: TraceUnknown,
		}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	events, err := s.RecentFetchEvents(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	for i := 1; i < len(events); i++ {
		if events[i].CreatedAt.After(events[i-1].CreatedAt) {
			t.Fatalf("events not newest-first")
		}
	}
}

func TestFlaggedPayload_RoundTripAndContentCap(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	start, end := 0, 6
	fp := FlaggedPayload{
		FetchEventID: 7,
		URL:          "https://evil.test/p",
		Domain:       "evil.test",
		Score:        14,
		Flags:        []string{"instruction_override"},
		Evidence: []score.Evidence{{
			Flag: "instruction_override", Detector: "rule", Basis: "normalized",
			Start: &start, End: &end, MatchedText: "ignore", Excerpt: "ignore previous", Weight: 4,
		}},
		Reason:  "Rule score 14 ≥ block threshold 10",
		Content: strings.Repeat("x", 40_000),
	}
	if err := s.StoreFlaggedPayload(ctx, fp); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := s.GetFlaggedPayload(ctx, 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Content) != 30_000 {
		t.Fatalf("content not capped: %d", len(got.Content))
	}
	if len(got.Evidence) != 1 || got.Evidence[0].MatchedText != "ignore" {
		t.Fatalf("evidence mangled: %+v", got.Evidence)
	}
	if got.Evidence[0].Start == nil || *got.Evidence[0].Start != 0 {
		t.Fatalf("evidence offsets lost: %+v", got.Evidence[0])
	}

	if _, err := s.GetFlaggedPayload(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRuntimeLists(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.AddRuntimeAllowlistDomain(ctx, "*.Example.COM", "trusted docs"); err != nil {
		t.Fatalf("add allow: %v", err)
	}
	if err := s.AddRuntimeBlocklistDomain(ctx, "evil.test", ""); err != nil {
		t.Fatalf("add block: %v", err)
	}

	// Invalid entries rejected.
	for _, bad := range []string{"", "-leading.dash", "spaces in.domain", strings.Repeat("a", 300) + ".com"} {
		if err := s.AddRuntimeAllowlistDomain(ctx, bad, ""); !errors.Is(err, ErrInvalidDomain) {
			t.Fatalf("domain %q: expected ErrInvalidDomain, got %v", bad, err)
		}
	}

	allow, err := s.ListRuntimeAllowlistDomains(ctx)
	if err != nil {
		t.Fatalf("list allow: %v", err)
	}
	if len(allow) != 1 || allow[0].Domain != "example.com" || allow[0].Note != "trusted docs" {
		t.Fatalf("unexpected allowlist: %+v", allow)
	}

	// Effective lists merge static and runtime, deduplicated.
	eff, err := s.EffectiveAllowlist(ctx, []string{"Example.com", "static.test"})
	if err != nil {
		t.Fatalf("effective: %v", err)
	}
	if len(eff) != 2 {
		t.Fatalf("expected deduplicated merge, got %v", eff)
	}

	block, err := s.EffectiveBlocklist(ctx, nil)
	if err != nil {
		t.Fatalf("effective block: %v", err)
	}
	if len(block) != 1 || block[0] != "evil.test" {
		t.Fatalf("unexpected blocklist: %v", block)
	}

	// Removal is durable.
	if err := s.RemoveRuntimeBlocklistDomain(ctx, "evil.test"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	block, _ = s.EffectiveBlocklist(ctx, nil)
	if len(block) != 0 {
		t.Fatalf("expected empty blocklist, got %v", block)
	}
}

func TestPurgeExpiredData(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	old := now.AddDate(0, 0, -40)
	s.now = func() time.Time { return old }
	if err := s.StoreSearchRequest(ctx, SearchRequest{ID: "old-req", Query: "q", Count: 5, CreatedAt: old}); err != nil {
		t.Fatalf("store req: %v", err)
	}
	if _, err := s.StoreFetchEvent(ctx, FetchEvent{
		URL: "https://old.test", Domain: "old.test", Decision: "block",
		DomainAction: "inspect", TraceKind: TraceUnknown,
	}); err != nil {
		t.Fatalf("store event: %v", err)
	}
	if err := s.StoreFlaggedPayload(ctx, FlaggedPayload{FetchEventID: 1, URL: "https://old.test", Domain: "old.test", Reason: "r", Content: "c"}); err != nil {
		t.Fatalf("store payload: %v", err)
	}
	if err := s.StoreSearchResult(ctx, SearchResultRecord{
		ResultID: "expired", CreatedAt: old, ExpiresAt: old.Add(time.Minute),
		Availability: AvailabilityAllowed,
	}); err != nil {
		t.Fatalf("store result: %v", err)
	}

	s.now = func() time.Time { return now }
	if _, err := s.StoreFetchEvent(ctx, FetchEvent{
		URL: "https://fresh.test", Domain: "fresh.test", Decision: "allow",
		DomainAction: "inspect", TraceKind: TraceUnknown,
	}); err != nil {
		t.Fatalf("store fresh event: %v", err)
	}

	stats, err := s.PurgeExpiredData(ctx, 30)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if stats.SearchResults != 1 || stats.FetchEvents != 1 || stats.FlaggedPayloads != 1 || stats.SearchRequests != 1 {
		t.Fatalf("unexpected purge stats: %+v", stats)
	}

	events, _ := s.RecentFetchEvents(ctx, 10)
	if len(events) != 1 || events[0].Domain != "fresh.test" {
		t.Fatalf("fresh event lost: %+v", events)
	}
}

func TestIsHealthy(t *testing.T) {
	s := testStore(t)
	if !s.IsHealthy(context.Background()) {
		t.Fatal("expected healthy store")
	}
	s.Close()
	if s.IsHealthy(context.Background()) {
		t.Fatal("expected unhealthy after close")
	}
}
