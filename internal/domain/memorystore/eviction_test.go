package memorystore

import (
	"context"
	"testing"
	"time"
)

func TestEvict_DeletesExpiredItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ttl := int64(1)
	expired := Item{ID: "e1", Text: "old", Scope: "notes", CreatedAt: time.Now().UTC().Add(-time.Hour), TTLSeconds: &ttl}
	if _, err := s.Upsert(ctx, expired, UpsertOptions{}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	fresh := Item{ID: "e2", Text: "new", Scope: "notes", CreatedAt: time.Now().UTC()}
	if _, err := s.Upsert(ctx, fresh, UpsertOptions{}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	summary, err := s.Evict(ctx, EvictionConfig{})
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if summary.TTLExpired != 1 {
		t.Fatalf("expected exactly one ttl-expired item, got %d", summary.TTLExpired)
	}

	if got, _ := s.GetByID(ctx, "e1"); got != nil {
		t.Fatal("expected expired item deleted")
	}
	if got, _ := s.GetByID(ctx, "e2"); got == nil {
		t.Fatal("expected fresh (no-TTL) item to survive")
	}
}

func TestEvict_PerScopeLRUTrim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		item := Item{
			ID:        idFor(i),
			Text:      "note",
			Scope:     "ops:tasks",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if _, err := s.Upsert(ctx, item, UpsertOptions{}); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	summary, err := s.Evict(ctx, EvictionConfig{ScopeCaps: []ScopeCap{{Prefix: "ops:", MaxRows: 2}}})
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if summary.LRUEvicted != 3 {
		t.Fatalf("expected 3 rows trimmed to reach the cap of 2, got %d", summary.LRUEvicted)
	}
	if len(summary.ScopesCleaned) != 1 || summary.ScopesCleaned[0] != "ops:" {
		t.Fatalf("expected ops: recorded as cleaned, got %v", summary.ScopesCleaned)
	}

	// The two most recently created items (idx 3, 4) must be the survivors.
	if got, _ := s.GetByID(ctx, idFor(0)); got != nil {
		t.Fatal("expected the oldest item evicted")
	}
	if got, _ := s.GetByID(ctx, idFor(4)); got == nil {
		t.Fatal("expected the newest item to survive")
	}
}

func TestEvict_GlobalLRUTrim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 4; i++ {
		item := Item{ID: idFor(i), Text: "note", Scope: "misc", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if _, err := s.Upsert(ctx, item, UpsertOptions{}); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	summary, err := s.Evict(ctx, EvictionConfig{GlobalMaxRows: 1})
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if summary.LRUEvicted != 3 {
		t.Fatalf("expected global trim to remove 3 rows, got %d", summary.LRUEvicted)
	}
}

func TestScopeStats_ReportsCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, Item{ID: "s1", Text: "a", Scope: "persona:zeke"}, UpsertOptions{}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := s.Upsert(ctx, Item{ID: "s2", Text: "b", Scope: "notes"}, UpsertOptions{}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	stats, err := s.ScopeStats(ctx, []string{"persona:", "notes"}, 20000)
	if err != nil {
		t.Fatalf("scope_stats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected 2 total items, got %d", stats.Total)
	}
	if stats.ByScope["persona:"] != 1 || stats.ByScope["notes"] != 1 {
		t.Fatalf("unexpected by-scope breakdown: %v", stats.ByScope)
	}
	if stats.MaxRows != 20000 {
		t.Fatalf("expected max_rows passthrough, got %d", stats.MaxRows)
	}
}

func idFor(i int) string {
	return string(rune('a' + i))
}
