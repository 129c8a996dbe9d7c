// Package budget enforces the per-request hard cap on tool calls and
// wall-clock time. It is not a rate limiter: once either limit is reached,
// no further tool call is permitted for the remainder of the request.
package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ExhaustionReason is the closed set of reasons a budget can be exhausted.
type ExhaustionReason string

const (
	ReasonToolCalls ExhaustionReason = "tool_calls"
	ReasonTimeout   ExhaustionReason = "timeout"
)

// Package-level defaults, used whenever New is given a non-positive limit
// (direct/unconfigured use, and what the unit tests exercise unless they
// override it). A process wired through the ambient Config
// loader instead uses the env-derived 50/300 defaults — see
// internal/infrastructure/config.
const (
	DefaultMaxToolCalls = 25
	DefaultTimeoutSeconds = 120.0
)

// Exceeded is the sentinel error signaling budget exhaustion. It carries the
// full Summary so the kernel can build a graceful stop message.
type Exceeded struct {
	Summary Summary
}

func (e *Exceeded) Error() string {
	return fmt.Sprintf("run budget exceeded: %s", e.Summary.FormatMessage())
}

// IsExceeded reports whether err is (or wraps) a budget Exceeded error.
func IsExceeded(err error) bool {
	var e *Exceeded
	return errors.As(err, &e)
}

// Summary is the read-only snapshot returned by GetSummary.
type Summary struct {
	ToolCallsUsed  int
	ToolCallsLimit int
	ElapsedSeconds float64
	TimeoutSeconds float64
	Exceeded       bool
	Reason         ExhaustionReason
	ToolsCalled    []string
}

// FormatMessage renders a short human-readable description of the summary.
func (s Summary) FormatMessage() string {
	if !s.Exceeded {
		return fmt.Sprintf("%d/%d tool calls, %.1fs/%.1fs elapsed", s.ToolCallsUsed, s.ToolCallsLimit, s.ElapsedSeconds, s.TimeoutSeconds)
	}
	return fmt.Sprintf("exceeded (%s): %d/%d tool calls, %.1fs/%.1fs elapsed", s.Reason, s.ToolCallsUsed, s.ToolCallsLimit, s.ElapsedSeconds, s.TimeoutSeconds)
}

// FirstTools returns up to n of the tool names invoked so far, in call order.
func (s Summary) FirstTools(n int) []string {
	if n > len(s.ToolsCalled) {
		n = len(s.ToolsCalled)
	}
	return s.ToolsCalled[:n]
}

// RunBudget tracks tool-call count and elapsed wall-clock time for a single
// orchestration run. Safe for concurrent use, though in practice a single
// request only ever touches its own budget from one goroutine at a time.
type RunBudget struct {
	mu             sync.Mutex
	toolCallsLimit int
	timeoutSeconds float64
	startTime      time.Time
	toolCallCount  int
	toolsCalled    []string
	exceededReason ExhaustionReason // "" until exhausted
}

// New constructs a RunBudget. maxToolCalls <= 0 defaults to
// DefaultMaxToolCalls; timeoutSeconds <= 0 defaults to DefaultTimeoutSeconds.
func New(maxToolCalls int, timeoutSeconds float64) *RunBudget {
	if maxToolCalls <= 0 {
		maxToolCalls = DefaultMaxToolCalls
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = DefaultTimeoutSeconds
	}
	return &RunBudget{
		toolCallsLimit: maxToolCalls,
		timeoutSeconds: timeoutSeconds,
		startTime:      time.Now(),
	}
}

func (b *RunBudget) elapsedSeconds() float64 {
	return time.Since(b.startTime).Seconds()
}

// isExceededLocked checks both conditions with a fixed precedence:
// tool-call exhaustion wins when both are simultaneously true.
func (b *RunBudget) isExceededLocked() (bool, ExhaustionReason) {
	if b.toolCallCount >= b.toolCallsLimit {
		return true, ReasonToolCalls
	}
	if b.elapsedSeconds() >= b.timeoutSeconds {
		return true, ReasonTimeout
	}
	return false, ""
}

// RecordToolCall increments the counter and appends name to the call
// history. Counting is post-call: even a tool call that ultimately failed
// still consumes one unit of budget.
func (b *RunBudget) RecordToolCall(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toolCallCount++
	b.toolsCalled = append(b.toolsCalled, name)
}

// CanExecuteTool is the pre-flight check used before attempting a tool call.
// It returns false once either limit has been reached, recording the
// exhaustion reason as a side effect so GetSummary reflects it even if
// CheckBudget is never called.
func (b *RunBudget) CanExecuteTool() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	exceeded, reason := b.isExceededLocked()
	if exceeded {
		b.exceededReason = reason
		return false
	}
	return true
}

// CheckBudget returns an *Exceeded error if the budget is exhausted, nil
// otherwise. Where the source uses an exception for control flow, this
// returns a sentinel error that the kernel checks with IsExceeded.
func (b *RunBudget) CheckBudget() error {
	if !b.CanExecuteTool() {
		return &Exceeded{Summary: b.GetSummary()}
	}
	return nil
}

// GetSummary returns a read-only snapshot of the budget's current state.
func (b *RunBudget) GetSummary() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	exceeded, reason := b.isExceededLocked()
	if exceeded {
		b.exceededReason = reason
	} else {
		reason = b.exceededReason
	}
	toolsCalled := make([]string, len(b.toolsCalled))
	copy(toolsCalled, b.toolsCalled)
	return Summary{
		ToolCallsUsed:  b.toolCallCount,
		ToolCallsLimit: b.toolCallsLimit,
		ElapsedSeconds: b.elapsedSeconds(),
		TimeoutSeconds: b.timeoutSeconds,
		Exceeded:       exceeded,
		Reason:         reason,
		ToolsCalled:    toolsCalled,
	}
}

// Reset re-baselines the budget: clears the counter, call history, and
// restarts the elapsed-time clock.
func (b *RunBudget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toolCallCount = 0
	b.toolsCalled = nil
	b.exceededReason = ""
	b.startTime = time.Now()
}

// RemainingToolCalls returns how many more tool calls are permitted.
func (b *RunBudget) RemainingToolCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.toolCallsLimit - b.toolCallCount
	if r < 0 {
		return 0
	}
	return r
}
