// Package memorystore implements the durable, scope-namespaced memory
// substrate: a gorm-backed relational store with an FTS5 virtual table for
// full-text search, combined with an in-process cosine-similarity ranker
// over packed float32 embeddings for the vector half of hybrid search.
package memorystore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EmbeddingProvider computes a dense embedding for a piece of text. Satisfied
// directly by internal/infrastructure/embedding.OllamaEmbedder.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchWeights controls how FTS and vector contributions are combined
// into a result's final score. Defaults to 0.4/0.6; overridable.
type SearchWeights struct {
	FTS    float64
	Vector float64
}

// DefaultSearchWeights is the hybrid-ranking formula's default blend.
var DefaultSearchWeights = SearchWeights{FTS: 0.4, Vector: 0.6}

// Store is the memory substrate. One Store owns one gorm connection; FTS5
// virtual-table wiring is sqlite-specific and is a no-op (degrading
// gracefully to substring-free FTS misses) on other dialects.
type Store struct {
	db       *gorm.DB
	embedder EmbeddingProvider
	weights  SearchWeights
	logger   *zap.Logger
	isSQLite bool

	mu sync.Mutex // guards schema init
	initialized bool
}

// New constructs a Store. embedder may be nil; vector search then always
// returns zero candidates, matching the source's "vector search failed,
// log and continue" degrade path.
func New(db *gorm.DB, embedder EmbeddingProvider, weights SearchWeights, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if weights.FTS == 0 && weights.Vector == 0 {
		weights = DefaultSearchWeights
	}
	return &Store{
		db:       db,
		embedder: embedder,
		weights:  weights,
		logger:   logger,
		isSQLite: db.Dialector.Name() == "sqlite",
	}
}

// Initialize creates the backing table and, on sqlite, the FTS5 virtual
// table plus sync triggers. Idempotent and safe to call repeatedly.
func (s *Store) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	if err := s.db.AutoMigrate(&row{}); err != nil {
		return fmt.Errorf("migrate memory_items: %w", err)
	}

	if s.isSQLite {
		stmts := []string{
			`CREATE VIRTUAL TABLE IF NOT EXISTS memory_items_fts USING fts5(
				id, text, scope, tags_json,
				content='memory_items', content_rowid='rowid'
			)`,
			`CREATE TRIGGER IF NOT EXISTS memory_items_ai AFTER INSERT ON memory_items BEGIN
				INSERT INTO memory_items_fts(rowid, id, text, scope, tags_json)
				VALUES (new.rowid, new.id, new.text, new.scope, new.tags_json);
			END`,
			`CREATE TRIGGER IF NOT EXISTS memory_items_ad AFTER DELETE ON memory_items BEGIN
				INSERT INTO memory_items_fts(memory_items_fts, rowid, id, text, scope, tags_json)
				VALUES('delete', old.rowid, old.id, old.text, old.scope, old.tags_json);
			END`,
			`CREATE TRIGGER IF NOT EXISTS memory_items_au AFTER UPDATE ON memory_items BEGIN
				INSERT INTO memory_items_fts(memory_items_fts, rowid, id, text, scope, tags_json)
				VALUES('delete', old.rowid, old.id, old.text, old.scope, old.tags_json);
				INSERT INTO memory_items_fts(rowid, id, text, scope, tags_json)
				VALUES (new.rowid, new.id, new.text, new.scope, new.tags_json);
			END`,
		}
		for _, stmt := range stmts {
			if err := s.db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("fts5 setup: %w", err)
			}
		}
	}

	s.initialized = true
	return nil
}

// UpsertOptions controls the optional behaviors of Upsert.
type UpsertOptions struct {
	GenerateEmbedding bool
	Bucket            *Bucket
	TTLSeconds        *int64
}

// Upsert inserts a new item or replaces an existing one by id. created_at is
// preserved across a replace. If GenerateEmbedding is set and the item
// carries no embedding, one is computed via the configured provider;
// failure to embed is logged and swallowed, matching the source's
// best-effort embedding behavior.
func (s *Store) Upsert(ctx context.Context, item Item, opts UpsertOptions) (string, error) {
	if err := s.Initialize(); err != nil {
		return "", err
	}
	if item.Text == "" {
		return "", fmt.Errorf("memory item text must not be empty")
	}

	item.TTLSeconds = resolveTTLSeconds(item.Scope, opts.Bucket, firstNonNil(opts.TTLSeconds, item.TTLSeconds))

	if opts.GenerateEmbedding && item.Embedding == nil && s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, item.Text)
		if err != nil {
			s.logger.Warn("failed to generate embedding", zap.String("id", item.ID), zap.Error(err))
		} else {
			item.Embedding = vec
		}
	}

	var existing row
	tx := s.db.WithContext(ctx).First(&existing, "id = ?", item.ID)
	createdAt := item.CreatedAt
	if tx.Error == nil {
		createdAt = existing.CreatedAt // preserved on replace
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tagsJSON, err := json.Marshal(item.Tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}

	r := row{
		ID:             item.ID,
		Text:           item.Text,
		Scope:          item.Scope,
		TagsJSON:       string(tagsJSON),
		CreatedAt:      createdAt,
		LastAccessedAt: item.LastAccessedAt,
		TTLSeconds:     item.TTLSeconds,
		Embedding:      packEmbedding(item.Embedding),
	}

	if err := s.db.WithContext(ctx).Save(&r).Error; err != nil {
		return "", fmt.Errorf("upsert memory item: %w", err)
	}
	return item.ID, nil
}

func firstNonNil(a, b *int64) *int64 {
	if a != nil {
		return a
	}
	return b
}

// GetByID performs an exact fetch. Does not touch last_accessed_at.
func (s *Store) GetByID(ctx context.Context, id string) (*Item, error) {
	if err := s.Initialize(); err != nil {
		return nil, err
	}
	var r row
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	item := rowToItem(r)
	return &item, nil
}

// Delete removes a row by id, reporting whether one was actually removed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if err := s.Initialize(); err != nil {
		return false, err
	}
	tx := s.db.WithContext(ctx).Delete(&row{}, "id = ?", id)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// Count returns the number of rows, optionally restricted to a scope
// prefix.
func (s *Store) Count(ctx context.Context, scope string) (int64, error) {
	if err := s.Initialize(); err != nil {
		return 0, err
	}
	q := s.db.WithContext(ctx).Model(&row{})
	if scope != "" {
		q = q.Where("scope LIKE ?", scope+"%")
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// Search runs hybrid FTS + vector retrieval and returns up to k results,
// combined through the weighted-merge algorithm. Each returned item has
// its last_accessed_at touched.
func (s *Store) Search(ctx context.Context, query, scope string, k int, useVector, useFTS bool) ([]SearchResult, error) {
	if err := s.Initialize(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 8
	}
	candidateLimit := k * 2

	bag := make(map[string]*SearchResult)

	if useFTS {
		ftsHits, err := s.searchFTS(ctx, query, scope, candidateLimit)
		if err != nil {
			s.logger.Warn("fts search failed", zap.Error(err))
		}
		for _, hit := range ftsHits {
			existing, ok := bag[hit.item.ID]
			if !ok {
				existing = &SearchResult{Item: hit.item, MatchType: MatchFTS}
				bag[hit.item.ID] = existing
			}
			existing.Score += hit.score * s.weights.FTS
		}
	}

	if useVector && s.embedder != nil {
		queryVec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			s.logger.Warn("vector search failed", zap.Error(err))
		} else {
			vecHits, err := s.searchVector(ctx, queryVec, scope, candidateLimit)
			if err != nil {
				s.logger.Warn("vector search failed", zap.Error(err))
			}
			for _, hit := range vecHits {
				existing, ok := bag[hit.item.ID]
				if !ok {
					existing = &SearchResult{Item: hit.item, MatchType: MatchVector}
					bag[hit.item.ID] = existing
				} else {
					existing.MatchType = MatchHybrid
				}
				existing.Score += hit.score * s.weights.Vector
			}
		}
	}

	results := make([]SearchResult, 0, len(bag))
	for _, r := range bag {
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}

	for _, r := range results {
		s.touchLastAccessed(ctx, r.Item.ID)
	}

	return results, nil
}

type scoredItem struct {
	item  Item
	score float64
}

// ftsTokenPattern matches the characters allowed to survive tokenization:
// alphanumeric plus space, hyphen, underscore.
var ftsTokenPattern = regexp.MustCompile(`[^a-zA-Z0-9 _-]`)

// buildFTSQuery strips disallowed characters per token, quotes each
// surviving token, and joins with OR. Returns "" if nothing survives.
func buildFTSQuery(query string) string {
	words := strings.Fields(query)
	var quoted []string
	for _, w := range words {
		cleaned := ftsTokenPattern.ReplaceAllString(w, "")
		if cleaned != "" {
			quoted = append(quoted, fmt.Sprintf("%q", cleaned))
		}
	}
	return strings.Join(quoted, " OR ")
}

func (s *Store) searchFTS(ctx context.Context, query, scope string, limit int) ([]scoredItem, error) {
	if !s.isSQLite {
		return nil, nil
	}
	safeQuery := buildFTSQuery(query)
	if safeQuery == "" {
		return nil, nil
	}

	type hit struct {
		row
		Rank float64
	}
	var hits []hit
	sql := `SELECT m.*, bm25(memory_items_fts) as rank
		FROM memory_items m
		JOIN memory_items_fts ON m.id = memory_items_fts.id
		WHERE memory_items_fts MATCH ?`
	args := []any{safeQuery}
	if scope != "" {
		sql += " AND m.scope LIKE ?"
		args = append(args, scope+"%")
	}
	sql += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	if err := s.db.WithContext(ctx).Raw(sql, args...).Scan(&hits).Error; err != nil {
		return nil, err
	}

	out := make([]scoredItem, 0, len(hits))
	for _, h := range hits {
		out = append(out, scoredItem{
			item:  rowToItem(h.row),
			score: 1.0 / (1.0 + absFloat(h.Rank)),
		})
	}
	return out, nil
}

func (s *Store) searchVector(ctx context.Context, queryVec []float32, scope string, limit int) ([]scoredItem, error) {
	q := s.db.WithContext(ctx).Model(&row{}).Where("embedding IS NOT NULL")
	if scope != "" {
		q = q.Where("scope LIKE ?", scope+"%")
	}
	var rows []row
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	scored := make([]scoredItem, 0, len(rows))
	for _, r := range rows {
		item := rowToItem(r)
		if len(item.Embedding) == 0 {
			continue
		}
		scored = append(scored, scoredItem{item: item, score: cosineSimilarity(queryVec, item.Embedding)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *Store) touchLastAccessed(ctx context.Context, id string) {
	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&row{}).Where("id = ?", id).Update("last_accessed_at", now).Error; err != nil {
		s.logger.Warn("failed to touch last_accessed_at", zap.String("id", id), zap.Error(err))
	}
}

func rowToItem(r row) Item {
	var tags []string
	if r.TagsJSON != "" {
		_ = json.Unmarshal([]byte(r.TagsJSON), &tags)
	}
	return Item{
		ID:             r.ID,
		Text:           r.Text,
		Scope:          r.Scope,
		Tags:           tags,
		CreatedAt:      r.CreatedAt,
		LastAccessedAt: r.LastAccessedAt,
		TTLSeconds:     r.TTLSeconds,
		Embedding:      unpackEmbedding(r.Embedding),
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
