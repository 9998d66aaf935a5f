package store

import (
	"context"
	"fmt"

	"github.com/waffleophagus/claw-rubber/internal/policy"
)

// AddRuntimeAllowlistDomain inserts (or refreshes the note of) an allowlist
// entry.
func (s *Store) AddRuntimeAllowlistDomain(ctx context.Context, domain, note string) error {
	return s.addListDomain(ctx, "allowlist_domains", domain, note)
}

// AddRuntimeBlocklistDomain inserts (or refreshes the note of) a blocklist
// entry.
func (s *Store) AddRuntimeBlocklistDomain(ctx context.Context, domain, note string) error {
	return s.addListDomain(ctx, "blocklist_domains", domain, note)
}

func (s *Store) addListDomain(ctx context.Context, table, domain, note string) error {
	d, err := validateDomain(domain)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (domain, note, added_at) VALUES (?, ?, ?)
		 ON CONFLICT(domain) DO UPDATE SET note = excluded.note`,
		d, note, millis(s.now()))
	if err != nil {
		return fmt.Errorf("add %s entry: %w", table, err)
	}
	return nil
}

// RemoveRuntimeAllowlistDomain deletes an allowlist entry.
func (s *Store) RemoveRuntimeAllowlistDomain(ctx context.Context, domain string) error {
	return s.removeListDomain(ctx, "allowlist_domains", domain)
}

// RemoveRuntimeBlocklistDomain deletes a blocklist entry.
func (s *Store) RemoveRuntimeBlocklistDomain(ctx context.Context, domain string) error {
	return s.removeListDomain(ctx, "blocklist_domains", domain)
}

func (s *Store) removeListDomain(ctx context.Context, table, domain string) error {
	d, err := validateDomain(domain)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE domain = ?`, d); err != nil {
		return fmt.Errorf("remove %s entry: %w", table, err)
	}
	return nil
}

// ListRuntimeAllowlistDomains returns all durable allowlist entries.
func (s *Store) ListRuntimeAllowlistDomains(ctx context.Context) ([]RuntimeDomainEntry, error) {
	return s.listDomains(ctx, "allowlist_domains")
}

// ListRuntimeBlocklistDomains returns all durable blocklist entries.
func (s *Store) ListRuntimeBlocklistDomains(ctx context.Context) ([]RuntimeDomainEntry, error) {
	return s.listDomains(ctx, "blocklist_domains")
}

func (s *Store) listDomains(ctx context.Context, table string) ([]RuntimeDomainEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, note, added_at FROM `+table+` ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var out []RuntimeDomainEntry
	for rows.Next() {
		var e RuntimeDomainEntry
		var addedMs int64
		if err := rows.Scan(&e.Domain, &e.Note, &addedMs); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		e.AddedAt = fromMillis(addedMs)
		out = append(out, e)
	}
	return out, rows.Err()
}

// EffectiveAllowlist unions the static config entries with the runtime rows,
// deduplicated by normalized domain.
func (s *Store) EffectiveAllowlist(ctx context.Context, static []string) ([]string, error) {
	runtime, err := s.ListRuntimeAllowlistDomains(ctx)
	if err != nil {
		return nil, err
	}
	return mergeDomains(static, runtime), nil
}

// EffectiveBlocklist unions the static config entries with the runtime rows.
func (s *Store) EffectiveBlocklist(ctx context.Context, static []string) ([]string, error) {
	runtime, err := s.ListRuntimeBlocklistDomains(ctx)
	if err != nil {
		return nil, err
	}
	return mergeDomains(static, runtime), nil
}

func mergeDomains(static []string, runtime []RuntimeDomainEntry) []string {
	seen := make(map[string]struct{}, len(static)+len(runtime))
	out := make([]string, 0, len(static)+len(runtime))
	add := func(raw string) {
		d := policy.NormalizeDomain(raw)
		if d == "" {
			return
		}
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	for _, d := range static {
		add(d)
	}
	for _, e := range runtime {
		add(e.Domain)
	}
	return out
}
