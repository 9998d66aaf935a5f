package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// StoreSearchRequest records one search invocation.
func (s *Store) StoreSearchRequest(ctx context.Context, req SearchRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_requests (id, query, count, created_at) VALUES (?, ?, ?, ?)`,
		req.ID, req.Query, req.Count, millis(req.CreatedAt))
	if err != nil {
		return fmt.Errorf("store search request: %w", err)
	}
	return nil
}

// StoreSearchResult caches one search hit. Records are immutable; a duplicate
// result id is an error.
func (s *Store) StoreSearchResult(ctx context.Context, rec SearchResultRecord) error {
	if !rec.ExpiresAt.After(rec.CreatedAt) {
		return fmt.Errorf("search result %s: expiresAt must be after createdAt", rec.ResultID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_results
			(result_id, request_id, query, rank, url, domain, title, snippet, source,
			 availability, block_reason, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ResultID, rec.RequestID, rec.Query, rec.Rank, rec.URL, rec.Domain,
		rec.Title, rec.Snippet, rec.Source, rec.Availability, rec.BlockReason,
		millis(rec.CreatedAt), millis(rec.ExpiresAt))
	if err != nil {
		return fmt.Errorf("store search result: %w", err)
	}
	return nil
}

// GetSearchResult returns the cached record, or ErrNotFound when the id is
// unknown or the record has expired.
func (s *Store) GetSearchResult(ctx context.Context, resultID string) (*SearchResultRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT result_id, request_id, query, rank, url, domain, title, snippet,
		        source, availability, block_reason, created_at, expires_at
		   FROM search_results WHERE result_id = ?`, resultID)

	var rec SearchResultRecord
	var createdMs, expiresMs int64
	err := row.Scan(&rec.ResultID, &rec.RequestID, &rec.Query, &rec.Rank, &rec.URL,
		&rec.Domain, &rec.Title, &rec.Snippet, &rec.Source, &rec.Availability,
		&rec.BlockReason, &createdMs, &expiresMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get search result: %w", err)
	}
	rec.CreatedAt = fromMillis(createdMs)
	rec.ExpiresAt = fromMillis(expiresMs)
	if !s.now().Before(rec.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &rec, nil
}
