package trace

import (
	"fmt"

	"go.uber.org/zap"
)

// Logger pairs a trace Context with a structured zap logger, offering the
// same convenience helpers as the source's TracingLogger — one call per
// lifecycle point (request, agent, tool, handoff, memory, security, budget)
// that both emits a trace Event and writes a correlated log line. Logging
// never raises: every method here swallows its own formatting failures.
type Logger struct {
	zap *zap.Logger
}

// NewLogger wraps a zap logger. A nil logger is replaced with a no-op one so
// callers never need a nil check.
func NewLogger(zl *zap.Logger) *Logger {
	if zl == nil {
		zl = zap.NewNop()
	}
	return &Logger{zap: zl}
}

func (l *Logger) logEvent(ctx *Context, ev Event) {
	fields := []zap.Field{
		zap.String("trace_id", ev.TraceID),
		zap.Uint64("span_id", ev.SpanID),
		zap.String("kind", string(ev.Kind)),
	}
	if ev.AgentID != "" {
		fields = append(fields, zap.String("agent_id", ev.AgentID))
	}
	if ev.ToolName != "" {
		fields = append(fields, zap.String("tool_name", ev.ToolName))
	}
	if ev.DurationMS != nil {
		fields = append(fields, zap.Float64("duration_ms", *ev.DurationMS))
	}
	msg := fmt.Sprintf("trace_event: %s", ev.Kind)
	if ev.Kind.isError() {
		l.zap.Warn(msg, fields...)
	} else {
		l.zap.Debug(msg, fields...)
	}
}

// LogRequestStart emits REQUEST_START.
func (l *Logger) LogRequestStart(ctx *Context, source string) {
	ev := ctx.AddEvent(EventRequestStart, "", "", nil, map[string]any{"source": source})
	l.logEvent(ctx, ev)
}

// LogRequestComplete emits REQUEST_COMPLETE.
func (l *Logger) LogRequestComplete(ctx *Context, completionStatus string) {
	ev := ctx.AddEvent(EventRequestComplete, "", "", nil, map[string]any{"completion_status": completionStatus})
	l.logEvent(ctx, ev)
}

// LogAgentStart emits AGENT_START. Per the resolved open question, span
// creation for agent spans is always the caller's responsibility: the
// kernel must call CreateSpan itself and pass the result in as spanID. The
// emission is attributed to spanID but the current-span pointer is restored
// once this call returns.
func (l *Logger) LogAgentStart(ctx *Context, agentID string, spanID uint64, intent string) {
	ctx.WithSpan(spanID, func() {
		ev := ctx.AddEvent(EventAgentStart, agentID, "", nil, map[string]any{"intent": intent})
		l.logEvent(ctx, ev)
	})
}

// LogAgentComplete emits AGENT_COMPLETE, completes spanID if not already
// sealed, and reports the span's duration.
func (l *Logger) LogAgentComplete(ctx *Context, agentID string, spanID uint64, resultPreview string) {
	ctx.CompleteSpan(spanID)
	ctx.mu.Lock()
	s := ctx.spans[spanID]
	ctx.mu.Unlock()
	var dur *float64
	if s != nil {
		dur = s.DurationMS()
	}
	ctx.WithSpan(spanID, func() {
		ev := ctx.AddEvent(EventAgentComplete, agentID, "", dur, map[string]any{"result_preview": truncatePreview(resultPreview)})
		l.logEvent(ctx, ev)
	})
}

// LogAgentError emits AGENT_ERROR and completes spanID if given.
func (l *Logger) LogAgentError(ctx *Context, agentID string, spanID uint64, err error) {
	if spanID != 0 {
		ctx.CompleteSpan(spanID)
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	ctx.WithSpan(spanID, func() {
		ev := ctx.AddEvent(EventAgentError, agentID, "", nil, map[string]any{"error": msg})
		l.logEvent(ctx, ev)
	})
}

// LogToolStart always creates a new child span for the tool call (contrast
// with agent spans: tool-span creation is the tracing helper's
// responsibility, per the resolved design note) and returns its id.
func (l *Logger) LogToolStart(ctx *Context, toolName, agentID, argsPreview string) uint64 {
	spanID := ctx.CreateSpan("tool:" + toolName)
	ev := ctx.AddEvent(EventToolStart, agentID, toolName, nil, map[string]any{"args_preview": truncatePreview(argsPreview)})
	l.logEvent(ctx, ev)
	return spanID
}

// LogToolComplete completes the tool span and emits TOOL_COMPLETE.
func (l *Logger) LogToolComplete(ctx *Context, spanID uint64, toolName, agentID string) {
	ctx.CompleteSpan(spanID)
	ctx.mu.Lock()
	s := ctx.spans[spanID]
	ctx.mu.Unlock()
	var dur *float64
	if s != nil {
		dur = s.DurationMS()
	}
	ev := ctx.AddEvent(EventToolComplete, agentID, toolName, dur, nil)
	l.logEvent(ctx, ev)
}

// LogToolError completes the tool span and emits TOOL_ERROR.
func (l *Logger) LogToolError(ctx *Context, spanID uint64, toolName, agentID string, err error) {
	ctx.CompleteSpan(spanID)
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	ev := ctx.AddEvent(EventToolError, agentID, toolName, nil, map[string]any{"error": msg})
	l.logEvent(ctx, ev)
}

// LogHandoffStart emits HANDOFF_START.
func (l *Logger) LogHandoffStart(ctx *Context, source, target, reason, message string) {
	ev := ctx.AddEvent(EventHandoffStart, target, "", nil, map[string]any{
		"source": source, "target": target, "reason": reason, "message": message,
	})
	l.logEvent(ctx, ev)
}

// LogHandoffComplete emits HANDOFF_COMPLETE.
func (l *Logger) LogHandoffComplete(ctx *Context, target string, success bool) {
	ev := ctx.AddEvent(EventHandoffComplete, target, "", nil, map[string]any{"success": success})
	l.logEvent(ctx, ev)
}

// LogMemoryAccess emits MEMORY_ACCESS.
func (l *Logger) LogMemoryAccess(ctx *Context, op, scope string, hitCount int) {
	ev := ctx.AddEvent(EventMemoryAccess, "", "", nil, map[string]any{"op": op, "scope": scope, "hit_count": hitCount})
	l.logEvent(ctx, ev)
}

// LogSecurityCheck emits SECURITY_CHECK.
func (l *Logger) LogSecurityCheck(ctx *Context, check string, passed bool, detail string) {
	ev := ctx.AddEvent(EventSecurityCheck, "", "", nil, map[string]any{"check": check, "passed": passed, "detail": detail})
	l.logEvent(ctx, ev)
}

// LogRunBudgetExceeded emits RUN_BUDGET_EXCEEDED with a human-readable summary.
func (l *Logger) LogRunBudgetExceeded(ctx *Context, reason string, toolCallsUsed, toolCallsLimit int, elapsedSeconds, timeoutSeconds float64, toolsCalled []string, agentID string) {
	summary := fmt.Sprintf("budget exceeded (%s): %d/%d tool calls, %.2fs/%.0fs elapsed", reason, toolCallsUsed, toolCallsLimit, elapsedSeconds, timeoutSeconds)
	ev := ctx.AddEvent(EventRunBudgetExceeded, agentID, "", nil, map[string]any{
		"reason": reason, "tool_calls_used": toolCallsUsed, "tool_calls_limit": toolCallsLimit,
		"elapsed_seconds": elapsedSeconds, "timeout_seconds": timeoutSeconds,
		"tools_called": toolsCalled, "summary": summary,
	})
	l.logEvent(ctx, ev)
}

// LogInputPolicyViolation emits INPUT_POLICY_VIOLATION.
func (l *Logger) LogInputPolicyViolation(ctx *Context, toolName, violationType, field, message string) {
	ev := ctx.AddEvent(EventInputPolicyViolation, "", toolName, nil, map[string]any{
		"violation_type": violationType, "field": field, "message": message,
	})
	l.logEvent(ctx, ev)
}

func truncatePreview(s string) string {
	const maxLen = 200
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
