package store

import (
	"context"
	"fmt"
	"time"
)

// PurgeStats counts the rows removed by one retention pass.
type PurgeStats struct {
	SearchResults   int64
	SearchRequests  int64
	FetchEvents     int64
	FlaggedPayloads int64
}

// PurgeExpiredData removes expired search results and trims events, flagged
// payloads, and search requests older than retentionDays.
func (s *Store) PurgeExpiredData(ctx context.Context, retentionDays int) (PurgeStats, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	now := s.now()
	cutoff := millis(now.AddDate(0, 0, -retentionDays))

	s.mu.Lock()
	defer s.mu.Unlock()

	var stats PurgeStats
	steps := []struct {
		dst   *int64
		query string
		arg   int64
	}{
		{&stats.SearchResults, `DELETE FROM search_results WHERE expires_at <= ?`, millis(now)},
		{&stats.SearchRequests, `DELETE FROM search_requests WHERE created_at < ?`, cutoff},
		{&stats.FetchEvents, `DELETE FROM fetch_events WHERE created_at < ?`, cutoff},
		{&stats.FlaggedPayloads, `DELETE FROM flagged_payloads WHERE created_at < ?`, cutoff},
	}
	for _, step := range steps {
		res, err := s.db.ExecContext(ctx, step.query, step.arg)
		if err != nil {
			return stats, fmt.Errorf("purge: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			*step.dst = n
		}
	}
	return stats, nil
}

// StartRetentionSweep runs PurgeExpiredData on the given interval until the
// context ends. Failures are logged and never affect live requests.
func (s *Store) StartRetentionSweep(ctx context.Context, interval time.Duration, retentionDays int) {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats, err := s.PurgeExpiredData(ctx, retentionDays)
				if err != nil {
					s.log.Warn().Err(err).Msg("retention sweep failed")
					continue
				}
				s.log.Debug().
					Int64("search_results", stats.SearchResults).
					Int64("fetch_events", stats.FetchEvents).
					Int64("flagged_payloads", stats.FlaggedPayloads).
					Msg("retention sweep completed")
			}
		}
	}()
}
