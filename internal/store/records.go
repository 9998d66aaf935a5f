package store

import (
	"time"

	"github.com/waffleophagus/claw-rubber/internal/score"
)

// Availability states for cached search results.
const (
	AvailabilityAllowed = "allowed"
	AvailabilityBlocked = "blocked"
)

// Trace kinds for fetch events.
const (
	TraceSearchResultFetch = "search-result-fetch"
	TraceDirectWebFetch    = "direct-web-fetch"
	TraceUnknown           = "unknown"
)

// SearchRequest records one /v1/search invocation.
type SearchRequest struct {
	ID        string
	Query     string
	Count     int
	CreatedAt time.Time
}

// SearchResultRecord caches a single search hit for later fetch-by-id.
// Records are immutable after creation and readable only before expiry.
type SearchResultRecord struct {
	ResultID    string
	RequestID   string
	Query       string
	Rank        int
	URL         string
	Domain      string
	Title       string
	Snippet     string
	Source      string
	Availability string
	BlockReason string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// FetchEvent is one completed trip through the fetch pipeline.
type FetchEvent struct {
	ID              int64
	ResultID        string
	URL             string
	Domain          string
	Decision        string
	Score           int
	Flags           []string
	Reason          string
	BlockedBy       string
	AllowedBy       string
	DomainAction    string
	MediumThreshold int
	BlockThreshold  int
	Bypassed        bool
	DurationMs      int64
	TraceKind       string
	SearchRequestID string
	SearchQuery     string
	SearchRank      int
	CreatedAt       time.Time
}

// FlaggedPayload preserves the evidence behind a block decision.
type FlaggedPayload struct {
	ID           int64
	FetchEventID int64
	ResultID     string
	URL          string
	Domain       string
	Score        int
	Flags        []string
	Evidence     []score.Evidence
	Reason       string
	Content      string
	CreatedAt    time.Time
}

// RuntimeDomainEntry is a durable allow/block list row.
type RuntimeDomainEntry struct {
	Domain  string
	Note    string
	AddedAt time.Time
}
