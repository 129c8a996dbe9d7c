// Package context trims an inbound conversation history blob down to a
// token budget before it is handed to a specialist, so a long-running
// thread never blows past a provider's context window on its way in.
package context

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// PruningStrategy selects how Prune reduces an over-budget message list.
type PruningStrategy int

const (
	PruneNone      PruningStrategy = iota // leave the list untouched
	PruneAdaptive                         // importance-weighted trim of the middle, preserving system + recent
	PruneHardClear                        // keep system messages, then fill from the most recent backward until the budget is hit
)

func (s PruningStrategy) String() string {
	switch s {
	case PruneNone:
		return "none"
	case PruneAdaptive:
		return "adaptive"
	case PruneHardClear:
		return "hard_clear"
	default:
		return "unknown"
	}
}

// Message is one turn of a flattened conversation history.
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	Importance float64 // 0-1; 0 means "not yet scored"
	Tokens     int     // estimated token count; 0 means "not yet counted"
}

// PruneConfig controls the budget and what Prune is allowed to discard.
type PruneConfig struct {
	Strategy            PruningStrategy
	MaxTokens           int
	SoftTrimRatio       float64 // fraction of MaxTokens at which trimming starts
	HardClearRatio      float64 // fraction of MaxTokens: hard-clear's budget; above it the adaptive pass drops the older half of its kept middle once
	PreserveSystem      bool
	PreserveRecent      int // always-kept trailing message count
	ImportanceThreshold float64
}

// DefaultPruneConfig matches the conversation-history budget used when the
// caller doesn't specify one: a few thousand tokens is plenty for the
// "recent context" a specialist needs, distinct from the durable recap
// the thread-recap job produces once a thread grows past its own
// threshold.
func DefaultPruneConfig() *PruneConfig {
	return &PruneConfig{
		Strategy:            PruneAdaptive,
		MaxTokens:           4000,
		SoftTrimRatio:       0.7,
		HardClearRatio:      0.85,
		PreserveSystem:      true,
		PreserveRecent:      4,
		ImportanceThreshold: 0.3,
	}
}

// Tokenizer estimates how many tokens a piece of text costs.
type Tokenizer interface {
	Count(text string) int
}

// SimpleTokenizer estimates token count from rune counts, weighting CJK
// characters (roughly 2 chars/token) differently from Latin text (roughly
// 4 chars/token).
type SimpleTokenizer struct {
	charsPerToken float64
}

func NewSimpleTokenizer() *SimpleTokenizer {
	return &SimpleTokenizer{charsPerToken: 4.0}
}

func (t *SimpleTokenizer) Count(text string) int {
	cjk := 0
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			cjk++
		}
	}
	total := utf8.RuneCountInString(text)
	latin := total - cjk
	tokens := float64(cjk)/2.0 + float64(latin)/t.charsPerToken
	return int(tokens) + 1
}

// Pruner reduces a message list to fit within a PruneConfig's budget.
type Pruner struct {
	config    *PruneConfig
	tokenizer Tokenizer
}

func NewPruner(config *PruneConfig, tokenizer Tokenizer) *Pruner {
	if config == nil {
		config = DefaultPruneConfig()
	}
	if tokenizer == nil {
		tokenizer = NewSimpleTokenizer()
	}
	return &Pruner{config: config, tokenizer: tokenizer}
}

// Prune returns messages unchanged if they're under the soft threshold,
// otherwise applies the configured strategy.
func (p *Pruner) Prune(messages []Message) []Message {
	if p.config.Strategy == PruneNone {
		return messages
	}

	total := p.calculateTotalTokens(messages)
	soft := int(float64(p.config.MaxTokens) * p.config.SoftTrimRatio)
	hard := int(float64(p.config.MaxTokens) * p.config.HardClearRatio)

	if total < soft {
		return messages
	}

	switch p.config.Strategy {
	case PruneHardClear:
		return p.hardClearPrune(messages, hard)
	default:
		return p.adaptivePrune(messages, hard)
	}
}

func (p *Pruner) calculateTotalTokens(messages []Message) int {
	total := 0
	for i := range messages {
		if messages[i].Tokens == 0 {
			messages[i].Tokens = p.tokenizer.Count(messages[i].Content)
		}
		total += messages[i].Tokens
	}
	return total
}

func (p *Pruner) adaptivePrune(messages []Message, hardThreshold int) []Message {
	if len(messages) == 0 {
		return messages
	}

	var systemMessages []Message
	if p.config.PreserveSystem {
		for _, msg := range messages {
			if msg.Role == "system" {
				systemMessages = append(systemMessages, msg)
			}
		}
	}

	recentStart := len(messages) - p.config.PreserveRecent
	if recentStart < 0 {
		recentStart = 0
	}
	recentMessages := messages[recentStart:]

	var middleMessages []Message
	for i, msg := range messages {
		if msg.Role == "system" || i >= recentStart {
			continue
		}
		if p.evaluateImportance(msg) >= p.config.ImportanceThreshold {
			middleMessages = append(middleMessages, msg)
		}
	}

	result := append(append(append([]Message{}, systemMessages...), middleMessages...), recentMessages...)

	if p.calculateTotalTokens(result) > hardThreshold && len(middleMessages) > 0 {
		half := len(middleMessages) / 2
		result = append(append(append([]Message{}, systemMessages...), middleMessages[half:]...), recentMessages...)
	}
	return result
}

func (p *Pruner) hardClearPrune(messages []Message, hardThreshold int) []Message {
	if len(messages) == 0 {
		return messages
	}

	var result []Message
	current := 0
	if p.config.PreserveSystem {
		for _, msg := range messages {
			if msg.Role == "system" {
				result = append(result, msg)
				current += msg.Tokens
			}
		}
	}

	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role == "system" {
			continue
		}
		if current+msg.Tokens > hardThreshold {
			break
		}
		insertIdx := len(result)
		for j, m := range result {
			if m.Role != "system" {
				insertIdx = j
				break
			}
		}
		result = append(result[:insertIdx], append([]Message{msg}, result[insertIdx:]...)...)
		current += msg.Tokens
	}
	return result
}

func (p *Pruner) evaluateImportance(msg Message) float64 {
	if msg.Importance > 0 {
		return msg.Importance
	}

	importance := 0.5
	if msg.Role == "tool" || msg.ToolCallID != "" {
		importance += 0.2
	}
	if strings.Contains(msg.Content, "```") {
		importance += 0.15
	}
	lower := strings.ToLower(msg.Content)
	if strings.Contains(lower, "error") || strings.Contains(lower, "failed") || strings.Contains(lower, "exception") {
		importance += 0.1
	}
	if len(msg.Content) > 500 {
		importance += 0.05
	}
	if importance > 1.0 {
		importance = 1.0
	}
	return importance
}

func (p *Pruner) EstimateTokens(messages []Message) int {
	return p.calculateTotalTokens(messages)
}

func (p *Pruner) NeedsPruning(messages []Message) bool {
	total := p.calculateTotalTokens(messages)
	soft := int(float64(p.config.MaxTokens) * p.config.SoftTrimRatio)
	return total >= soft
}

// ParseFlatHistory splits a "[ROLE]: content" per-line blob (the format
// the request entry point receives conversation_history in) into
// Messages. Lines without a recognizable "[role]: " prefix are kept as
// user-role content rather than dropped.
func ParseFlatHistory(text string) []Message {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	messages := make([]Message, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") {
			if idx := strings.Index(line, "]: "); idx > 0 {
				messages = append(messages, Message{Role: strings.ToLower(line[1:idx]), Content: line[idx+3:]})
				continue
			}
		}
		messages = append(messages, Message{Role: "user", Content: line})
	}
	return messages
}

// FormatFlatHistory re-serializes Messages back to the "[ROLE]: content"
// form ParseFlatHistory reads.
func FormatFlatHistory(messages []Message) string {
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "[%s]: %s\n", strings.ToUpper(msg.Role), msg.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// TrimToBudget parses, prunes, and re-serializes a flat conversation
// history string in one call — the entry point's only point of contact
// with this package.
func TrimToBudget(history string, cfg *PruneConfig) string {
	if history == "" {
		return history
	}
	p := NewPruner(cfg, nil)
	messages := ParseFlatHistory(history)
	if !p.NeedsPruning(messages) {
		return history
	}
	return FormatFlatHistory(p.Prune(messages))
}
