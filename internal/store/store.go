// Package store is the persistence adapter. It exclusively owns every durable
// record; all mutations are serialized through a single writer connection.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/waffleophagus/claw-rubber/internal/policy"
)

var (
	// ErrNotFound covers unknown and expired identifiers alike.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidDomain rejects runtime list entries that are not plain
	// RFC-1035 domains.
	ErrInvalidDomain = errors.New("invalid domain")
)

var domainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)

// Store wraps the SQLite database. Safe for concurrent use.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	log zerolog.Logger
	now func() time.Time
}

// Open connects to the SQLite file (or ":memory:") and ensures the schema.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection doubles as the write serializer and keeps
	// ":memory:" databases coherent.
	db.SetMaxOpenConns(1)
	s := &Store{db: db, log: log, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// IsHealthy reports whether the database answers a trivial query.
func (s *Store) IsHealthy(ctx context.Context) bool {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		s.log.Warn().Err(err).Msg("store health probe failed")
		return false
	}
	return one == 1
}

func (s *Store) migrate() error {
	stmts := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS search_requests (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			count INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS search_results (
			result_id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			query TEXT NOT NULL,
			rank INTEGER NOT NULL,
			url TEXT NOT NULL,
			domain TEXT NOT NULL,
			title TEXT NOT NULL,
			snippet TEXT NOT NULL,
			source TEXT NOT NULL,
			availability TEXT NOT NULL,
			block_reason TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_search_results_expires ON search_results(expires_at)`,
		`CREATE TABLE IF NOT EXISTS fetch_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			result_id TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			domain TEXT NOT NULL,
			decision TEXT NOT NULL,
			score INTEGER NOT NULL,
			flags TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			blocked_by TEXT NOT NULL DEFAULT '',
			allowed_by TEXT NOT NULL DEFAULT '',
			domain_action TEXT NOT NULL,
			medium_threshold INTEGER NOT NULL,
			block_threshold INTEGER NOT NULL,
			bypassed INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			trace_kind TEXT NOT NULL,
			search_request_id TEXT NOT NULL DEFAULT '',
			search_query TEXT NOT NULL DEFAULT '',
			search_rank INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fetch_events_created ON fetch_events(created_at)`,
		`CREATE TABLE IF NOT EXISTS flagged_payloads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			fetch_event_id INTEGER NOT NULL,
			result_id TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			domain TEXT NOT NULL,
			score INTEGER NOT NULL,
			flags TEXT NOT NULL,
			evidence TEXT NOT NULL,
			reason TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_flagged_payloads_event ON flagged_payloads(fetch_event_id)`,
		`CREATE TABLE IF NOT EXISTS allowlist_domains (
			domain TEXT PRIMARY KEY,
			note TEXT NOT NULL DEFAULT '',
			added_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS blocklist_domains (
			domain TEXT PRIMARY KEY,
			note TEXT NOT NULL DEFAULT '',
			added_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// validateDomain normalizes and checks a runtime list entry.
func validateDomain(raw string) (string, error) {
	d := policy.NormalizeDomain(raw)
	if d == "" || len(d) > 255 || !domainPattern.MatchString(d) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
	}
	return d, nil
}

func millis(t time.Time) int64        { return t.UnixMilli() }
func fromMillis(ms int64) time.Time   { return time.UnixMilli(ms).UTC() }
