package memorystore

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	s := New(db, nil, SearchWeights{}, nil)
	if err := s.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return s
}

func TestUpsert_PreservesCreatedAtOnReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	original := Item{ID: "m1", Text: "first version", Scope: "notes", CreatedAt: time.Now().UTC().Add(-time.Hour)}
	if _, err := s.Upsert(ctx, original, UpsertOptions{}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	replacement := Item{ID: "m1", Text: "second version", Scope: "notes", CreatedAt: time.Now().UTC()}
	if _, err := s.Upsert(ctx, replacement, UpsertOptions{}); err != nil {
		t.Fatalf("upsert replace: %v", err)
	}

	got, err := s.GetByID(ctx, "m1")
	if err != nil || got == nil {
		t.Fatalf("get_by_id: %v, %v", got, err)
	}
	if got.Text != "second version" {
		t.Fatalf("expected updated text, got %q", got.Text)
	}
	if !got.CreatedAt.Equal(original.CreatedAt) {
		t.Fatalf("expected created_at preserved at %v, got %v", original.CreatedAt, got.CreatedAt)
	}
}

func TestUpsert_ResolvesTTLFromScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, Item{ID: "t1", Text: "temp note", Scope: "thread:abc"}, UpsertOptions{}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ := s.GetByID(ctx, "t1")
	if got.TTLSeconds == nil || *got.TTLSeconds != transientTTLSeconds {
		t.Fatalf("expected transient TTL for thread: scope, got %v", got.TTLSeconds)
	}

	if _, err := s.Upsert(ctx, Item{ID: "p1", Text: "persona fact", Scope: "persona:zeke"}, UpsertOptions{}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got2, _ := s.GetByID(ctx, "p1")
	if got2.TTLSeconds != nil {
		t.Fatalf("expected no TTL for persona: scope, got %v", *got2.TTLSeconds)
	}
}

func TestDeleteAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Upsert(ctx, Item{ID: "a", Text: "one", Scope: "task:x"}, UpsertOptions{})
	s.Upsert(ctx, Item{ID: "b", Text: "two", Scope: "task:y"}, UpsertOptions{})
	s.Upsert(ctx, Item{ID: "c", Text: "three", Scope: "ops:z"}, UpsertOptions{})

	n, err := s.Count(ctx, "task:")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 task: items, got %d (err=%v)", n, err)
	}

	deleted, err := s.Delete(ctx, "a")
	if err != nil || !deleted {
		t.Fatalf("expected delete to report true, got %v (err=%v)", deleted, err)
	}
	deletedAgain, _ := s.Delete(ctx, "a")
	if deletedAgain {
		t.Fatal("deleting a missing id a second time should report false")
	}

	n, _ = s.Count(ctx, "task:")
	if n != 1 {
		t.Fatalf("expected 1 task: item after delete, got %d", n)
	}
}

func TestSearch_FTSOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Upsert(ctx, Item{ID: "a", Text: "remember to buy milk and eggs", Scope: "notes"}, UpsertOptions{})
	s.Upsert(ctx, Item{ID: "b", Text: "quarterly budget review meeting", Scope: "notes"}, UpsertOptions{})

	results, err := s.Search(ctx, "milk eggs", "", 8, false, true)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one fts hit")
	}
	if results[0].Item.ID != "a" {
		t.Fatalf("expected 'a' to rank first, got %q", results[0].Item.ID)
	}
	if results[0].MatchType != MatchFTS {
		t.Fatalf("expected match type fts, got %v", results[0].MatchType)
	}
}

func TestBuildFTSQuery_StripsDisallowedCharactersAndEmptyIsSafe(t *testing.T) {
	if got := buildFTSQuery("hello, world!"); got != `"hello" OR "world"` {
		t.Fatalf("unexpected fts query: %q", got)
	}
	if got := buildFTSQuery("!!! ???"); got != "" {
		t.Fatalf("expected empty query for all-punctuation input, got %q", got)
	}
}

func TestCosineSimilarity_ZeroNormGuard(t *testing.T) {
	if got := cosineSimilarity([]float32{0, 0, 0}, []float32{1, 2, 3}); got != 0 {
		t.Fatalf("expected 0 for zero-norm vector, got %v", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); got != 1 {
		t.Fatalf("expected identical vectors to score 1, got %v", got)
	}
}

func TestEmbeddingCodec_RoundTrips(t *testing.T) {
	vec := []float32{0.1, -0.2, 3.5, 0}
	packed := packEmbedding(vec)
	unpacked := unpackEmbedding(packed)
	if len(unpacked) != len(vec) {
		t.Fatalf("expected round-trip length %d, got %d", len(vec), len(unpacked))
	}
	for i := range vec {
		if unpacked[i] != vec[i] {
			t.Fatalf("element %d: want %v got %v", i, vec[i], unpacked[i])
		}
	}
}

func TestResolveTTLSeconds_Precedence(t *testing.T) {
	bucket := BucketLongTerm
	explicitTTL := int64(42)

	got := resolveTTLSeconds("thread:abc", &bucket, &explicitTTL)
	if got == nil || *got != 42 {
		t.Fatalf("explicit TTL should win over bucket, got %v", got)
	}

	got = resolveTTLSeconds("thread:abc", &bucket, nil)
	if got != nil {
		t.Fatalf("explicit bucket (long_term) should win over scope default, got %v", got)
	}

	got = resolveTTLSeconds("thread:abc", nil, nil)
	if got == nil || *got != transientTTLSeconds {
		t.Fatalf("scope-derived bucket should apply when nothing explicit is given, got %v", got)
	}
}
