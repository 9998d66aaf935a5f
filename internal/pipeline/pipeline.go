// Package pipeline orchestrates one fetch end to end: domain policy,
// retrieval, sanitization, scoring, the decision engine, and persistence.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/waffleophagus/claw-rubber/internal/config"
	"github.com/waffleophagus/claw-rubber/internal/fetch"
	"github.com/waffleophagus/claw-rubber/internal/policy"
	"github.com/waffleophagus/claw-rubber/internal/sanitize"
	"github.com/waffleophagus/claw-rubber/internal/score"
	"github.com/waffleophagus/claw-rubber/internal/store"
)

const (
	summaryWordLimit = 120
	summaryCharLimit = 600
	judgeTextLimit   = 8000
)

// Fetcher is the retrieval surface the pipeline drives.
type Fetcher interface {
	FetchPage(ctx context.Context, rawURL string) (*fetch.Page, error)
}

// Judge is the optional adjudicator consulted in the medium band.
type Judge interface {
	Evaluate(ctx context.Context, text string, ruleScore int, flags []string) *policy.JudgeResult
}

// SearchContext ties a fetch back to the search result that produced it.
type SearchContext struct {
	ResultID  string
	RequestID string
	Query     string
	Rank      int
}

// Request describes one pipeline invocation.
type Request struct {
	URL       string
	Domain    string
	Mode      sanitize.Mode
	MaxChars  int
	TraceKind string
	Search    *SearchContext
}

// SourceMeta is retrieval provenance echoed to the caller.
type SourceMeta struct {
	Domain       string
	FetchBackend string
	Rendered     bool
	FallbackUsed bool
	FinalURL     string
	ContentType  string
}

// Outcome is the pipeline's result for both allow and block decisions.
// Retrieval failures surface as errors instead.
type Outcome struct {
	Allowed              bool
	Content              string
	Truncated            bool
	ContentSummary       string
	Score                int
	Flags                []string
	Reason               string
	Bypassed             bool
	BlockedBy            string
	AllowedBy            string
	NormalizationApplied []string
	ObfuscationSignals   []string
	Source               SourceMeta
	FetchEventID         int64
}

// Pipeline wires the collaborating components. Construct one per server; it
// is safe for concurrent use.
type Pipeline struct {
	Store           *store.Store
	Fetcher         Fetcher
	Scorer          *score.Scorer
	Judge           Judge
	Settings        config.ProfileSettings
	FailClosed      bool
	StaticAllowlist []string
	StaticBlocklist []string
	Log             zerolog.Logger

	now func() time.Time
}

func (p *Pipeline) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// Run executes the pipeline. The returned error is reserved for upstream
// retrieval or persistence failures; policy blocks come back as an Outcome
// with Allowed=false.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Outcome, error) {
	started := p.clock()

	allow, err := p.Store.EffectiveAllowlist(ctx, p.StaticAllowlist)
	if err != nil {
		return nil, fmt.Errorf("load allowlist: %w", err)
	}
	block, err := p.Store.EffectiveBlocklist(ctx, p.StaticBlocklist)
	if err != nil {
		return nil, fmt.Errorf("load blocklist: %w", err)
	}
	domains := policy.NewDomainPolicy(allow, block)

	domainDec := domains.Evaluate(req.Domain)
	if domainDec.Action == policy.ActionBlock {
		return p.finishDomainBlock(ctx, req, domainDec, domainDec.Reason, started, SourceMeta{Domain: req.Domain})
	}

	page, err := p.Fetcher.FetchPage(ctx, req.URL)
	if err != nil {
		p.Log.Warn().Err(err).Str("url", req.URL).Msg("fetch failed")
		return nil, err
	}
	src := SourceMeta{
		Domain:       req.Domain,
		FetchBackend: page.BackendUsed,
		Rendered:     page.Rendered,
		FallbackUsed: page.FallbackUsed,
		FinalURL:     page.FinalURL,
		ContentType:  page.ContentType,
	}

	// Post-fetch recheck: a redirect may have landed on a different domain.
	finalDomain := domainFromURL(page.FinalURL)
	if finalDomain != "" && finalDomain != policy.NormalizeDomain(req.Domain) {
		redirectDec := domains.Evaluate(finalDomain)
		if redirectDec.Action == policy.ActionBlock {
			src.Domain = finalDomain
			return p.finishDomainBlock(ctx, req, redirectDec, "Redirected final URL blocked", started, src)
		}
	}

	scoring := sanitize.ToText(page.Body, p.Settings.MaxExtractedChars)
	extracted, err := sanitize.Extract(page.Body, req.Mode, req.MaxChars)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}

	var sc score.Result
	var judgeResult *policy.JudgeResult
	if domainDec.Action == policy.ActionInspect {
		sc = p.Scorer.Score(scoring.Content)
		if p.Judge != nil && sc.Score >= p.Settings.MediumThreshold && sc.Score < p.Settings.BlockThreshold {
			judgeResult = p.Judge.Evaluate(ctx, capRunes(scoring.Content, judgeTextLimit), sc.Score, sc.Flags)
		}
	}

	decision := policy.Decide(policy.EngineInput{
		Score:        sc.Score,
		Flags:        sc.Flags,
		AllowSignals: sc.AllowSignals,
		DomainAction: domainDec.Action,
		DomainReason: domainDec.Reason,
		Judge:        judgeResult,
		FailClosed:   p.FailClosed,
		Thresholds: policy.Thresholds{
			Medium: p.Settings.MediumThreshold,
			Block:  p.Settings.BlockThreshold,
		},
	})

	eventID, err := p.persistEvent(ctx, req, decision, domainDec, started)
	if err != nil {
		return nil, err
	}
	if !decision.Allow {
		p.persistPayload(ctx, req, decision, sc.Evidence, scoring.Content, eventID)
	}

	out := &Outcome{
		Allowed:              decision.Allow,
		Score:                decision.Score,
		Flags:                decision.Flags,
		Reason:               decision.Reason,
		Bypassed:             decision.Bypassed,
		BlockedBy:            decision.BlockedBy,
		AllowedBy:            decision.AllowedBy,
		NormalizationApplied: sc.NormalizationApplied,
		ObfuscationSignals:   sc.ObfuscationSignals,
		Source:               src,
		FetchEventID:         eventID,
	}
	if decision.Allow {
		out.Content = extracted.Content
		out.Truncated = extracted.Truncated
		out.ContentSummary = sanitize.Summary(extracted.Content, summaryWordLimit, summaryCharLimit)
	}
	return out, nil
}

// finishDomainBlock persists the trace for a domain-policy block and returns
// the outcome without touching the fetcher (or, post-recheck, the scorer).
func (p *Pipeline) finishDomainBlock(ctx context.Context, req Request, dec policy.DomainDecision, reason string, started time.Time, src SourceMeta) (*Outcome, error) {
	decision := policy.Decision{
		Allow:     false,
		Score:     0,
		Flags:     []string{policy.FlagDomainBlocklist},
		Reason:    reason,
		BlockedBy: policy.BlockedByDomainPolicy,
	}
	eventID, err := p.persistEvent(ctx, req, decision, dec, started)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Allowed:      false,
		Score:        0,
		Flags:        decision.Flags,
		Reason:       reason,
		BlockedBy:    decision.BlockedBy,
		Source:       src,
		FetchEventID: eventID,
	}, nil
}

func (p *Pipeline) persistEvent(ctx context.Context, req Request, d policy.Decision, domainDec policy.DomainDecision, started time.Time) (int64, error) {
	ev := store.FetchEvent{
		URL:             req.URL,
		Domain:          req.Domain,
		Decision:        decisionString(d.Allow),
		Score:           d.Score,
		Flags:           d.Flags,
		Reason:          d.Reason,
		BlockedBy:       d.BlockedBy,
		AllowedBy:       d.AllowedBy,
		DomainAction:    string(domainDec.Action),
		MediumThreshold: p.Settings.MediumThreshold,
		BlockThreshold:  p.Settings.BlockThreshold,
		Bypassed:        d.Bypassed,
		DurationMs:      p.clock().Sub(started).Milliseconds(),
		TraceKind:       req.TraceKind,
	}
	if req.Search != nil {
		ev.ResultID = req.Search.ResultID
		ev.SearchRequestID = req.Search.RequestID
		ev.SearchQuery = req.Search.Query
		ev.SearchRank = req.Search.Rank
	}
	id, err := p.Store.StoreFetchEvent(ctx, ev)
	if err != nil {
		return 0, fmt.Errorf("persist fetch event: %w", err)
	}
	return id, nil
}

// persistPayload records block evidence. Failures are logged, not fatal: the
// block decision already stands.
func (p *Pipeline) persistPayload(ctx context.Context, req Request, d policy.Decision, evidence []score.Evidence, content string, eventID int64) {
	fp := store.FlaggedPayload{
		FetchEventID: eventID,
		URL:          req.URL,
		Domain:       req.Domain,
		Score:        d.Score,
		Flags:        d.Flags,
		Evidence:     evidence,
		Reason:       d.Reason,
		Content:      content,
	}
	if req.Search != nil {
		fp.ResultID = req.Search.ResultID
	}
	if err := p.Store.StoreFlaggedPayload(ctx, fp); err != nil {
		p.Log.Warn().Err(err).Int64("event_id", eventID).Msg("persist flagged payload failed")
	}
}

func decisionString(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "block"
}

func domainFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return policy.NormalizeDomain(u.Hostname())
}

func capRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
