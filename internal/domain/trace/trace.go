// Package trace implements the per-request audit trail: a hierarchical span
// tree plus a flat ordered event log, scoped to a single orchestration run.
package trace

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind is the closed set of trace event variants. Encoded as a tagged
// sum rather than a bare string per the core's "dynamic variants" design note.
type EventKind string

const (
	EventRequestStart        EventKind = "request_start"
	EventRequestComplete     EventKind = "request_complete"
	EventAgentStart          EventKind = "agent_start"
	EventAgentComplete       EventKind = "agent_complete"
	EventAgentError          EventKind = "agent_error"
	EventToolStart           EventKind = "tool_start"
	EventToolComplete        EventKind = "tool_complete"
	EventToolError           EventKind = "tool_error"
	EventHandoffStart        EventKind = "handoff_start"
	EventHandoffComplete     EventKind = "handoff_complete"
	EventMemoryAccess        EventKind = "memory_access"
	EventSecurityCheck       EventKind = "security_check"
	EventRunBudgetExceeded   EventKind = "run_budget_exceeded"
	EventInputPolicyViolation EventKind = "input_policy_violation"
)

// isError reports whether this kind represents an error-class event, used by
// Summary.ErrorCount.
func (k EventKind) isError() bool {
	switch k {
	case EventAgentError, EventToolError, EventRunBudgetExceeded, EventInputPolicyViolation:
		return true
	default:
		return false
	}
}

// Event is one entry in the trace's flat event log. Data is an open payload
// bag; callers are expected to put only JSON-marshalable values into it.
type Event struct {
	Kind           EventKind
	Timestamp      time.Time
	TraceID        string
	SpanID         uint64
	ParentSpanID   *uint64
	AgentID        string
	ToolName       string
	DurationMS     *float64
	Data           map[string]any
}

// Span is a single unit of work within the trace: bounded by a start and
// (eventually) an end time, with its own sub-log of events that occurred
// while it was the active span.
type Span struct {
	ID           uint64
	ParentID     *uint64
	Name         string
	StartTime    time.Time
	EndTime      *time.Time
	Events       []Event
}

// DurationMS returns the span's elapsed duration in milliseconds, or nil if
// the span has not yet been completed.
func (s *Span) DurationMS() *float64 {
	if s.EndTime == nil {
		return nil
	}
	ms := float64(s.EndTime.Sub(s.StartTime)) / float64(time.Millisecond)
	return &ms
}

// Context is the live trace for one request: a tree of spans rooted at a
// single root span, plus the flat ordered event log. Not safe for
// unsynchronized concurrent writes from multiple goroutines: a single
// request is driven by a single goroutine, so the mutex here exists to
// guard against accidental concurrent access, not to enable it.
type Context struct {
	mu            sync.Mutex
	TraceID       string
	RootSpanID    uint64
	currentSpanID uint64
	spans         map[uint64]*Span
	events        []Event
	StartTime     time.Time
	Metadata      map[string]any

	nextSpanID uint64
}

// New allocates a trace context with a freshly minted UUIDv4 trace id, a
// root span, and the given metadata bag.
func New(metadata map[string]any) *Context {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	c := &Context{
		TraceID:   uuid.New().String(),
		spans:     make(map[uint64]*Span),
		StartTime: time.Now().UTC(),
		Metadata:  metadata,
	}
	root := c.newSpan(nil, "root")
	c.RootSpanID = root.ID
	c.currentSpanID = root.ID
	return c
}

// NewWithTraceID behaves like New but honors a caller-supplied trace id
// (e.g. from an inbound X-Trace-ID header) instead of minting one.
func NewWithTraceID(traceID string, metadata map[string]any) *Context {
	c := New(metadata)
	if traceID != "" {
		c.TraceID = traceID
	}
	return c
}

func (c *Context) newSpan(parent *uint64, name string) *Span {
	c.nextSpanID++
	s := &Span{
		ID:        c.nextSpanID,
		ParentID:  parent,
		Name:      name,
		StartTime: time.Now().UTC(),
	}
	c.spans[s.ID] = s
	return s
}

// CreateSpan creates a child span under the current span and pushes the
// current-span pointer to it.
func (c *Context) CreateSpan(name string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	parent := c.currentSpanID
	s := c.newSpan(&parent, name)
	c.currentSpanID = s.ID
	return s.ID
}

// CompleteSpan seals the given span. Idempotent: completing an
// already-sealed span does not rewrite its end time. If the completed span
// is the current pointer, the pointer pops to the span's parent (or the
// root span if it has none).
func (c *Context) CompleteSpan(spanID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.spans[spanID]
	if !ok {
		return
	}
	if s.EndTime == nil {
		now := time.Now().UTC()
		s.EndTime = &now
	}
	if c.currentSpanID == spanID {
		if s.ParentID != nil {
			c.currentSpanID = *s.ParentID
		} else {
			c.currentSpanID = c.RootSpanID
		}
	}
}

// CurrentSpanID returns the span id that new events are currently attributed to.
func (c *Context) CurrentSpanID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSpanID
}

// WithSpan temporarily makes spanID the current span for the duration of fn,
// restoring the prior current-span pointer on exit regardless of how fn
// returns. This grounds the "emission uses that span but the current-span
// pointer is restored on exit" rule for explicit-span-id helpers.
func (c *Context) WithSpan(spanID uint64, fn func()) {
	c.mu.Lock()
	original := c.currentSpanID
	if _, ok := c.spans[spanID]; ok {
		c.currentSpanID = spanID
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.currentSpanID = original
		c.mu.Unlock()
	}()

	fn()
}

// AddEvent appends an event to both the flat event log and the currently
// active span's own event list, stamping it with the span id active at
// creation time.
func (c *Context) AddEvent(kind EventKind, agentID, toolName string, durationMS *float64, data map[string]any) Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	span := c.spans[c.currentSpanID]
	var parent *uint64
	if span != nil {
		parent = span.ParentID
	}

	ev := Event{
		Kind:         kind,
		Timestamp:    time.Now().UTC(),
		TraceID:      c.TraceID,
		SpanID:       c.currentSpanID,
		ParentSpanID: parent,
		AgentID:      agentID,
		ToolName:     toolName,
		DurationMS:   durationMS,
		Data:         coerceData(data),
	}
	c.events = append(c.events, ev)
	if span != nil {
		span.Events = append(span.Events, ev)
	}
	return ev
}

// coerceData defends the "logging never raises" failure semantic: a nil bag
// becomes an empty one rather than being passed through as nil.
func coerceData(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	return data
}

// Events returns a snapshot copy of the flat ordered event log.
func (c *Context) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// TotalDurationMS is the elapsed time since the trace was created.
func (c *Context) TotalDurationMS() float64 {
	return float64(time.Since(c.StartTime)) / float64(time.Millisecond)
}

// Summary is the compact projection of a trace returned in a response envelope.
type Summary struct {
	TraceID        string
	DurationMS     float64
	SpanCount      int
	EventCount     int
	AgentsInvolved []string
	ToolsCalled    []string
	ErrorCount     int
	Metadata       map[string]any
}

// ToSummary projects the context into a Summary, deduplicating agent ids and
// tool names while preserving first-seen order.
func (c *Context) ToSummary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	var agents, tools []string
	seenAgents := make(map[string]bool)
	seenTools := make(map[string]bool)
	errCount := 0

	for _, ev := range c.events {
		if ev.AgentID != "" && !seenAgents[ev.AgentID] {
			seenAgents[ev.AgentID] = true
			agents = append(agents, ev.AgentID)
		}
		if ev.ToolName != "" && !seenTools[ev.ToolName] {
			seenTools[ev.ToolName] = true
			tools = append(tools, ev.ToolName)
		}
		if ev.Kind.isError() {
			errCount++
		}
	}

	return Summary{
		TraceID:        c.TraceID,
		DurationMS:     c.TotalDurationMS(),
		SpanCount:      len(c.spans),
		EventCount:     len(c.events),
		AgentsInvolved: agents,
		ToolsCalled:    tools,
		ErrorCount:     errCount,
		Metadata:       c.Metadata,
	}
}
