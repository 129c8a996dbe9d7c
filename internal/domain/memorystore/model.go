package memorystore

import "time"

// Item is a single stored memory row.
type Item struct {
	ID             string
	Text           string
	Scope          string
	Tags           []string
	CreatedAt      time.Time
	LastAccessedAt *time.Time
	TTLSeconds     *int64
	Embedding      []float32
}

// ExpiresAt returns the absolute expiry time, or nil if the item never
// expires.
func (i Item) ExpiresAt() *time.Time {
	if i.TTLSeconds == nil {
		return nil
	}
	t := i.CreatedAt.Add(time.Duration(*i.TTLSeconds) * time.Second)
	return &t
}

// Expired reports whether the item's TTL has elapsed as of now.
func (i Item) Expired(now time.Time) bool {
	exp := i.ExpiresAt()
	return exp != nil && !now.Before(*exp)
}

// MatchType labels how a search result was found.
type MatchType string

const (
	MatchFTS    MatchType = "fts"
	MatchVector MatchType = "vector"
	MatchHybrid MatchType = "hybrid"
)

// SearchResult pairs an item with its combined relevance score and the mode
// that produced it.
type SearchResult struct {
	Item      Item
	Score     float64
	MatchType MatchType
}

// row is the gorm-mapped persistence model. Kept separate from Item so the
// domain type stays free of ORM tags.
type row struct {
	ID             string `gorm:"primaryKey;size:64"`
	Text           string `gorm:"type:text;not null"`
	Scope          string `gorm:"index;size:255;not null"`
	TagsJSON       string `gorm:"type:text"`
	CreatedAt      time.Time
	LastAccessedAt *time.Time
	TTLSeconds     *int64
	Embedding      []byte `gorm:"type:blob"`
}

func (row) TableName() string { return "memory_items" }
