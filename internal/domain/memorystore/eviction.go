package memorystore

import (
	"context"
	"time"
)

// ScopeCap pairs a scope prefix with the row cap enforced for it.
type ScopeCap struct {
	Prefix  string
	MaxRows int
}

// EvictionConfig controls one eviction sweep: the per-scope caps checked
// in order, plus the global cap applied across the whole store.
type EvictionConfig struct {
	ScopeCaps     []ScopeCap
	GlobalMaxRows int
}

// DefaultScopeCaps mirrors the source lineage's persona/ops-family caps;
// everything not matching one of these prefixes is only subject to TTL
// expiry and the global cap.
func DefaultScopeCaps(opsMaxRows, personaMaxRows int) []ScopeCap {
	return []ScopeCap{
		{Prefix: "persona:", MaxRows: personaMaxRows},
		{Prefix: "task:", MaxRows: opsMaxRows},
		{Prefix: "ops:", MaxRows: opsMaxRows},
		{Prefix: "calendar:", MaxRows: opsMaxRows},
		{Prefix: "notes", MaxRows: opsMaxRows},
	}
}

// EvictionSummary reports what one sweep did.
type EvictionSummary struct {
	TTLExpired   int
	LRUEvicted   int
	ScopesCleaned []string
}

// Evict runs the three-step sweep: TTL expiry, then per-scope LRU trim,
// then a global LRU trim. Each step commits its own deletes so a failure
// partway through still keeps the work already done.
func (s *Store) Evict(ctx context.Context, cfg EvictionConfig) (EvictionSummary, error) {
	if err := s.Initialize(); err != nil {
		return EvictionSummary{}, err
	}

	var summary EvictionSummary

	expiredIDs, err := s.findExpiredIDs(ctx)
	if err != nil {
		return summary, err
	}
	if len(expiredIDs) > 0 {
		if err := s.deleteIDs(ctx, expiredIDs); err != nil {
			return summary, err
		}
		summary.TTLExpired = len(expiredIDs)
	}

	for _, sc := range cfg.ScopeCaps {
		if sc.MaxRows <= 0 {
			continue
		}
		evicted, err := s.trimScopeToCap(ctx, sc.Prefix, sc.MaxRows)
		if err != nil {
			return summary, err
		}
		if evicted > 0 {
			summary.LRUEvicted += evicted
			summary.ScopesCleaned = append(summary.ScopesCleaned, sc.Prefix)
		}
	}

	if cfg.GlobalMaxRows > 0 {
		evicted, err := s.trimGlobalToCap(ctx, cfg.GlobalMaxRows)
		if err != nil {
			return summary, err
		}
		summary.LRUEvicted += evicted
	}

	return summary, nil
}

// findExpiredIDs loads every item carrying a TTL and evaluates expiry in
// application code, sidestepping dialect-specific date arithmetic.
func (s *Store) findExpiredIDs(ctx context.Context) ([]string, error) {
	var rows []row
	if err := s.db.WithContext(ctx).Where("ttl_seconds IS NOT NULL").Find(&rows).Error; err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var expired []string
	for _, r := range rows {
		if r.TTLSeconds == nil {
			continue
		}
		expiresAt := r.CreatedAt.Add(time.Duration(*r.TTLSeconds) * time.Second)
		if now.After(expiresAt) {
			expired = append(expired, r.ID)
		}
	}
	return expired, nil
}

// trimScopeToCap deletes the oldest-accessed rows matching prefix until
// the scope is at or under maxRows, ordered coalesce(last_accessed_at,
// created_at) ascending then created_at ascending, same as the global
// trim.
func (s *Store) trimScopeToCap(ctx context.Context, prefix string, maxRows int) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&row{}).Where("scope LIKE ?", prefix+"%").Count(&count).Error; err != nil {
		return 0, err
	}
	if int(count) <= maxRows {
		return 0, nil
	}
	excess := int(count) - maxRows

	var ids []string
	if err := s.db.WithContext(ctx).Model(&row{}).
		Where("scope LIKE ?", prefix+"%").
		Order("COALESCE(last_accessed_at, created_at) ASC, created_at ASC").
		Limit(excess).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.deleteIDs(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// trimGlobalToCap is trimScopeToCap without the scope filter.
func (s *Store) trimGlobalToCap(ctx context.Context, maxRows int) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&row{}).Count(&count).Error; err != nil {
		return 0, err
	}
	if int(count) <= maxRows {
		return 0, nil
	}
	excess := int(count) - maxRows

	var ids []string
	if err := s.db.WithContext(ctx).Model(&row{}).
		Order("COALESCE(last_accessed_at, created_at) ASC, created_at ASC").
		Limit(excess).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.deleteIDs(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *Store) deleteIDs(ctx context.Context, ids []string) error {
	return s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&row{}).Error
}

// Stats is a read-only snapshot of the store's size, used by the eviction
// daemon's own periodic log line. It performs no mutation.
type Stats struct {
	Total         int64
	ByScope       map[string]int64
	WithTTL       int64
	WithEmbedding int64
	MaxRows       int
}

// ScopeStats computes Stats against the given scope prefixes and the
// configured global row cap.
func (s *Store) ScopeStats(ctx context.Context, scopePrefixes []string, maxRows int) (Stats, error) {
	if err := s.Initialize(); err != nil {
		return Stats{}, err
	}

	var stats Stats
	stats.ByScope = make(map[string]int64, len(scopePrefixes))
	stats.MaxRows = maxRows

	if err := s.db.WithContext(ctx).Model(&row{}).Count(&stats.Total).Error; err != nil {
		return Stats{}, err
	}
	for _, prefix := range scopePrefixes {
		var count int64
		if err := s.db.WithContext(ctx).Model(&row{}).Where("scope LIKE ?", prefix+"%").Count(&count).Error; err != nil {
			return Stats{}, err
		}
		stats.ByScope[prefix] = count
	}
	if err := s.db.WithContext(ctx).Model(&row{}).Where("ttl_seconds IS NOT NULL").Count(&stats.WithTTL).Error; err != nil {
		return Stats{}, err
	}
	if err := s.db.WithContext(ctx).Model(&row{}).Where("embedding IS NOT NULL").Count(&stats.WithEmbedding).Error; err != nil {
		return Stats{}, err
	}
	return stats, nil
}
