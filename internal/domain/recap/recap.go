// Package recap compresses long conversation threads into a compact
// summary memory item and, on success, purges the raw messages that fed
// it. It runs off the main dispatch loop — nothing in the Orchestration
// Kernel invokes it synchronously.
package recap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config tunes when a thread qualifies for recap and how tightly the
// output is bounded.
type Config struct {
	MaxMessages      int
	MaxContentBytes  int
	MaxSummaryBytes  int
	MinAgeHours      float64
	PurgeAfterRecap  bool
	MaxInputChars    int
}

// DefaultConfig matches the thresholds a fresh deployment ships with.
func DefaultConfig() Config {
	return Config{
		MaxMessages:     20,
		MaxContentBytes: 8 * 1024,
		MaxSummaryBytes: 1024,
		MinAgeHours:     6,
		PurgeAfterRecap: true,
		MaxInputChars:   12000,
	}
}

// Message is one turn of a conversation thread, the unit recap reads.
type Message struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Stats summarizes a thread's size and age for the recap-need check.
type Stats struct {
	ConversationID string
	MessageCount   int
	TotalBytes     int
	OldestMessage  *time.Time
	NewestMessage  *time.Time
	NeedsRecap     bool
}

// AgeHours reports how long ago the thread's newest message landed,
// relative to now. Zero if the thread has no messages.
func (s Stats) AgeHours(now time.Time) float64 {
	if s.NewestMessage == nil {
		return 0
	}
	return now.Sub(*s.NewestMessage).Hours()
}

// Result reports the outcome of one RecapThread call.
type Result struct {
	ConversationID string
	Success        bool
	Summary        string
	SummaryBytes   int
	MessagesPurged int
	Error          string
}

// RecapSystemPrompt is the fixed instruction given to the summarizer for
// every recap, independent of thread content.
const RecapSystemPrompt = `You are a conversation summarizer. Compress the following conversation into a concise bullet-point summary.

Requirements:
- Maximum 900 bytes (leave room for metadata)
- Use bullet points for key information
- Capture: main topics discussed, decisions made, action items, important facts learned
- Preserve names, dates, and specific details
- Skip pleasantries and filler
- Write in past tense

Format:
- Topic 1: Key point
- Topic 2: Key point
- Action: Any follow-ups needed
- Context: Any important context for future reference`

// Summarizer is the external text-compression dependency. The kernel's
// LLM-backed intent Provider and this interface are deliberately
// separate contracts: a recap summarizer only ever sees a flattened
// conversation string, never tool-call machinery.
type Summarizer interface {
	Summarize(ctx context.Context, systemPrompt, conversationText string) (string, error)
}

// MemoryItem is the shape a recap produces for the memory store: a scope,
// tags, a TTL bucket hint, and body text carrying both a metadata header
// and the summary.
type MemoryItem struct {
	Text string
	Scope string
	Tags []string
	// BucketLongTerm in the memory store's terms: a recap never expires
	// on its own, only via LRU eviction.
	NoExpiry bool
}

// Storage is the two-method persistence contract a recap run needs,
// matching the resolved design note that prefers an interface over two
// independent callback values.
type Storage interface {
	Store(ctx context.Context, item MemoryItem) (bool, error)
	Purge(ctx context.Context, conversationID string) (int, error)
}

// CalculateStats computes size/age metrics and the recap-need verdict for
// a thread's messages.
func CalculateStats(conversationID string, messages []Message, cfg Config) Stats {
	total := 0
	var oldest, newest *time.Time
	for _, m := range messages {
		total += len([]byte(m.Content))
		if m.CreatedAt.IsZero() {
			continue
		}
		if oldest == nil || m.CreatedAt.Before(*oldest) {
			t := m.CreatedAt
			oldest = &t
		}
		if newest == nil || m.CreatedAt.After(*newest) {
			t := m.CreatedAt
			newest = &t
		}
	}

	needsRecap := len(messages) > cfg.MaxMessages || total > cfg.MaxContentBytes

	return Stats{
		ConversationID: conversationID,
		MessageCount:   len(messages),
		TotalBytes:     total,
		OldestMessage:  oldest,
		NewestMessage:  newest,
		NeedsRecap:     needsRecap,
	}
}

// formatForSummary renders messages as role-tagged lines, skipping empty
// content.
func formatForSummary(messages []Message) string {
	var lines []string
	for _, m := range messages {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s]: %s", strings.ToUpper(m.Role), content))
	}
	return strings.Join(lines, "\n")
}

// generateSummary flattens messages, truncates the input to MaxInputChars,
// calls the summarizer, then truncates the output to MaxSummaryBytes.
func generateSummary(ctx context.Context, summarizer Summarizer, messages []Message, cfg Config) (string, error) {
	text := formatForSummary(messages)
	if len(text) > cfg.MaxInputChars {
		text = text[:cfg.MaxInputChars] + "\n[...truncated...]"
	}

	summary, err := summarizer.Summarize(ctx, RecapSystemPrompt, text)
	if err != nil {
		return "", fmt.Errorf("generate recap summary: %w", err)
	}
	summary = strings.TrimSpace(summary)

	return truncateSummary(summary, cfg.MaxSummaryBytes), nil
}

// truncateSummary shrinks summary to fit within maxBytes, removing whole
// trailing lines first and falling back to a character-by-character trim
// once no newline remains. Always succeeds, including on single-line
// input with no newlines at all.
func truncateSummary(summary string, maxBytes int) string {
	if len(summary) <= maxBytes {
		return summary
	}

	targetBytes := maxBytes - 20 // room for the truncation marker
	if targetBytes < 0 {
		targetBytes = 0
	}

	for len(summary) > targetBytes && strings.Contains(summary, "\n") {
		idx := strings.LastIndex(summary, "\n")
		summary = summary[:idx]
	}
	for len(summary) > targetBytes && len(summary) > 0 {
		cut := 10
		if cut > len(summary) {
			cut = len(summary)
		}
		summary = summary[:len(summary)-cut]
	}

	return strings.TrimRight(summary, " \t\n") + "\n[...truncated]"
}

// createMemoryItem builds the recap's memory-store payload: scope
// recap:thread:<id>, fixed tag set, a metadata header followed by the
// summary body.
func createMemoryItem(conversationID, title, summary string, stats Stats) MemoryItem {
	displayTitle := title
	if displayTitle == "" {
		displayTitle = conversationID
	}

	period := "unknown to unknown"
	if stats.OldestMessage != nil && stats.NewestMessage != nil {
		period = fmt.Sprintf("%s to %s", stats.OldestMessage.Format(time.RFC3339), stats.NewestMessage.Format(time.RFC3339))
	}

	header := []string{
		fmt.Sprintf("Conversation Recap: %s", displayTitle),
		fmt.Sprintf("Messages: %d | Size: %d bytes", stats.MessageCount, stats.TotalBytes),
		fmt.Sprintf("Period: %s", period),
		"",
	}

	return MemoryItem{
		Text:     strings.Join(header, "\n") + summary,
		Scope:    fmt.Sprintf("recap:thread:%s", conversationID),
		Tags:     []string{"recap", "conversation", "summary"},
		NoExpiry: true,
	}
}

// RecapThread summarizes messages and, on success, purges the raw
// thread. It refuses to act on threads that are too young or too small,
// reporting why in Result.Error rather than treating either as a hard
// error — both are ordinary "nothing to do here" outcomes a caller may
// see on every sweep.
func RecapThread(ctx context.Context, conversationID, title string, messages []Message, cfg Config, summarizer Summarizer, storage Storage, logger *zap.Logger) Result {
	if logger == nil {
		logger = zap.NewNop()
	}
	stats := CalculateStats(conversationID, messages, cfg)

	if stats.AgeHours(time.Now()) < cfg.MinAgeHours {
		return Result{ConversationID: conversationID, Success: false,
			Error: fmt.Sprintf("thread too recent (%.1fh < %.1fh min)", stats.AgeHours(time.Now()), cfg.MinAgeHours)}
	}
	if !stats.NeedsRecap {
		return Result{ConversationID: conversationID, Success: false,
			Error: fmt.Sprintf("thread does not need recap (msgs=%d, bytes=%d)", stats.MessageCount, stats.TotalBytes)}
	}

	summary, err := generateSummary(ctx, summarizer, messages, cfg)
	if err != nil {
		return Result{ConversationID: conversationID, Success: false, Error: err.Error()}
	}
	summaryBytes := len([]byte(summary))

	item := createMemoryItem(conversationID, title, summary, stats)

	if storage != nil {
		stored, err := storage.Store(ctx, item)
		if err != nil {
			return Result{ConversationID: conversationID, Success: false, Summary: summary, SummaryBytes: summaryBytes, Error: err.Error()}
		}
		if !stored {
			return Result{ConversationID: conversationID, Success: false, Summary: summary, SummaryBytes: summaryBytes, Error: "failed to store recap memory"}
		}
	}

	purged := 0
	if cfg.PurgeAfterRecap && storage != nil {
		n, err := storage.Purge(ctx, conversationID)
		if err != nil {
			logger.Warn("recap purge failed", zap.String("conversation_id", conversationID), zap.Error(err))
		} else {
			purged = n
		}
	}

	logger.Info("recapped conversation thread",
		zap.String("conversation_id", conversationID),
		zap.Int("messages", stats.MessageCount),
		zap.Int("summary_bytes", summaryBytes),
		zap.Int("messages_purged", purged),
	)

	return Result{ConversationID: conversationID, Success: true, Summary: summary, SummaryBytes: summaryBytes, MessagesPurged: purged}
}
