package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// maxFlaggedContentChars caps the sanitized text preserved as block evidence.
const maxFlaggedContentChars = 30_000

// StoreFetchEvent persists one pipeline trace and returns its id. CreatedAt
// is stamped at persistence time when unset.
func (s *Store) StoreFetchEvent(ctx context.Context, ev FetchEvent) (int64, error) {
	flags, err := json.Marshal(emptyIfNil(ev.Flags))
	if err != nil {
		return 0, fmt.Errorf("marshal flags: %w", err)
	}
	created := ev.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO fetch_events
			(result_id, url, domain, decision, score, flags, reason, blocked_by,
			 allowed_by, domain_action, medium_threshold, block_threshold, bypassed,
			 duration_ms, trace_kind, search_request_id, search_query, search_rank, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ResultID, ev.URL, ev.Domain, ev.Decision, ev.Score, string(flags),
		ev.Reason, ev.BlockedBy, ev.AllowedBy, ev.DomainAction,
		ev.MediumThreshold, ev.BlockThreshold, boolToInt(ev.Bypassed),
		ev.DurationMs, ev.TraceKind, ev.SearchRequestID, ev.SearchQuery,
		ev.SearchRank, millis(created))
	if err != nil {
		return 0, fmt.Errorf("store fetch event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("fetch event id: %w", err)
	}
	return id, nil
}

// StoreFlaggedPayload preserves block evidence. Content is truncated to the
// evidence cap before writing.
func (s *Store) StoreFlaggedPayload(ctx context.Context, fp FlaggedPayload) error {
	flags, err := json.Marshal(emptyIfNil(fp.Flags))
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}
	evidence, err := json.Marshal(fp.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}
	content := fp.Content
	if runes := []rune(content); len(runes) > maxFlaggedContentChars {
		content = string(runes[:maxFlaggedContentChars])
	}
	created := fp.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flagged_payloads
			(fetch_event_id, result_id, url, domain, score, flags, evidence, reason, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fp.FetchEventID, fp.ResultID, fp.URL, fp.Domain, fp.Score,
		string(flags), string(evidence), fp.Reason, content, millis(created))
	if err != nil {
		return fmt.Errorf("store flagged payload: %w", err)
	}
	return nil
}

// RecentFetchEvents returns the newest events for the dashboard, ties broken
// by descending id.
func (s *Store) RecentFetchEvents(ctx context.Context, limit int) ([]FetchEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, result_id, url, domain, decision, score, flags, reason,
		        blocked_by, allowed_by, domain_action, medium_threshold,
		        block_threshold, bypassed, duration_ms, trace_kind,
		        search_request_id, search_query, search_rank, created_at
		   FROM fetch_events ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent fetch events: %w", err)
	}
	defer rows.Close()

	var out []FetchEvent
	for rows.Next() {
		ev, err := scanFetchEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// GetFlaggedPayload loads block evidence by its fetch event id.
func (s *Store) GetFlaggedPayload(ctx context.Context, fetchEventID int64) (*FlaggedPayload, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fetch_event_id, result_id, url, domain, score, flags,
		        evidence, reason, content, created_at
		   FROM flagged_payloads WHERE fetch_event_id = ?
		  ORDER BY id DESC LIMIT 1`, fetchEventID)

	var fp FlaggedPayload
	var flagsJSON, evidenceJSON string
	var createdMs int64
	err := row.Scan(&fp.ID, &fp.FetchEventID, &fp.ResultID, &fp.URL, &fp.Domain,
		&fp.Score, &flagsJSON, &evidenceJSON, &fp.Reason, &fp.Content, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flagged payload: %w", err)
	}
	if err := json.Unmarshal([]byte(flagsJSON), &fp.Flags); err != nil {
		return nil, fmt.Errorf("decode flags: %w", err)
	}
	if err := json.Unmarshal([]byte(evidenceJSON), &fp.Evidence); err != nil {
		return nil, fmt.Errorf("decode evidence: %w", err)
	}
	fp.CreatedAt = fromMillis(createdMs)
	return &fp, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFetchEvent(r rowScanner) (FetchEvent, error) {
	var ev FetchEvent
	var flagsJSON string
	var bypassed int
	var createdMs int64
	err := r.Scan(&ev.ID, &ev.ResultID, &ev.URL, &ev.Domain, &ev.Decision,
		&ev.Score, &flagsJSON, &ev.Reason, &ev.BlockedBy, &ev.AllowedBy,
		&ev.DomainAction, &ev.MediumThreshold, &ev.BlockThreshold, &bypassed,
		&ev.DurationMs, &ev.TraceKind, &ev.SearchRequestID, &ev.SearchQuery,
		&ev.SearchRank, &createdMs)
	if err != nil {
		return ev, fmt.Errorf("scan fetch event: %w", err)
	}
	if err := json.Unmarshal([]byte(flagsJSON), &ev.Flags); err != nil {
		return ev, fmt.Errorf("decode flags: %w", err)
	}
	ev.Bypassed = bypassed != 0
	ev.CreatedAt = fromMillis(createdMs)
	return ev, nil
}

func emptyIfNil(flags []string) []string {
	if flags == nil {
		return []string{}
	}
	return flags
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
