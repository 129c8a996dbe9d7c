// Package entrypoint implements the single request path every inbound
// utterance flows through: mint or honor a trace id, build the
// per-request TraceContext and RunBudget, optionally pull in a
// learned-preferences snippet and memory enrichment, invoke the
// Orchestration Kernel, and translate the result into the outbound
// envelope.
package entrypoint

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Johnsonbros/Zeke-sub000/internal/domain/budget"
	pruneContext "github.com/Johnsonbros/Zeke-sub000/internal/domain/context"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/intent"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/kernel"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/memorystore"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/specialist"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/trace"
)

// InboundMetadata carries the optional permission assertions and side
// channels a caller can attach to a request.
type InboundMetadata struct {
	Source                      string
	IsAdmin                     bool
	TrustedSingleUserDeployment bool
	SenderIsAdmin               bool
	LearnedPreferencesPrompt    string
	ConversationHistory         string
	Permissions                 map[string]any
}

// InboundRequest is the chat entry point's request envelope.
type InboundRequest struct {
	Message        string
	ConversationID string
	PhoneNumber    string
	Metadata       InboundMetadata
}

// HandoffRecord is one entry in the outbound envelope's handoff_chain,
// reconstructed from the trace's handoff_start/handoff_complete events.
type HandoffRecord struct {
	Source  string
	Target  string
	Reason  string
	Message string
}

// OutboundMetadata is the metadata bag of the outbound envelope.
type OutboundMetadata struct {
	CompletionStatus  kernel.CompletionStatus
	CompletionMessage string
	HandoffChain      []HandoffRecord
	TraceSummary      trace.Summary
	BudgetSummary     budget.Summary
}

// OutboundResponse is the chat entry point's response envelope.
type OutboundResponse struct {
	Response       string
	AgentID        specialist.ID
	ConversationID string
	TraceID        string
	Metadata       OutboundMetadata
}

// PreferencesFetcher fetches a learned-preferences prompt snippet from an
// external source (e.g. a profile service). A nil PreferencesFetcher
// skips the learned-preferences enrichment step entirely.
type PreferencesFetcher interface {
	Fetch(ctx context.Context, conversationID string) (string, error)
}

// MemorySearcher is the subset of *memorystore.Store's read surface the
// entry point needs for pre-dispatch enrichment. Satisfied directly by
// *memorystore.Store.
type MemorySearcher interface {
	Search(ctx context.Context, query, scope string, k int, useVector, useFTS bool) ([]memorystore.SearchResult, error)
}

// memoryEnrichCategories are the capability categories likely enough to
// need prior memory snippets that the entry point pre-fetches them before
// the kernel ever dispatches, rather than waiting for the memory-curator
// agent to be resolved as a target at all (which only happens for
// requires_coordination requests and the memory category itself).
var memoryEnrichCategories = map[specialist.CapabilityCategory]bool{
	specialist.CapabilityMemory:  true,
	specialist.CapabilityProfile: true,
}

// Config controls the budget and memory-enrichment behavior of every
// request the entry point handles.
type Config struct {
	MaxToolCalls      int
	TimeoutSeconds    float64
	MemorySearchScope string
	MemorySearchTopK  int
	ShutdownTimeout   time.Duration
	// HistoryPruneConfig bounds how much of an inbound conversation_history
	// blob survives into the agent context. Nil falls back to
	// pruneContext.DefaultPruneConfig().
	HistoryPruneConfig *pruneContext.PruneConfig
}

// DefaultConfig mirrors the env-derived 50-tool-call/300-second defaults
// internal/infrastructure/config falls back to when unset.
func DefaultConfig() Config {
	return Config{
		MaxToolCalls:      50,
		TimeoutSeconds:    300,
		MemorySearchScope: "",
		MemorySearchTopK:  5,
		ShutdownTimeout:   30 * time.Second,
	}
}

// EntryPoint is the single path every inbound request flows through.
type EntryPoint struct {
	router     *intent.Router
	classifier *intent.Classifier
	kernel     *kernel.Kernel
	memory     MemorySearcher
	prefs      PreferencesFetcher
	traceLog   *trace.Logger
	zapLog     *zap.Logger
	cfg        Config

	shutdownMu sync.RWMutex
	draining   bool
	activeRuns sync.WaitGroup
}

// Option configures an EntryPoint at construction.
type Option func(*EntryPoint)

func WithMemorySearcher(m MemorySearcher) Option {
	return func(e *EntryPoint) { e.memory = m }
}

func WithPreferencesFetcher(p PreferencesFetcher) Option {
	return func(e *EntryPoint) { e.prefs = p }
}

func WithZapLogger(zl *zap.Logger) Option {
	return func(e *EntryPoint) { e.zapLog = zl }
}

// New builds an EntryPoint. router and the kernel are required; memory and
// prefs are optional enrichment sources.
func New(router *intent.Router, classifier *intent.Classifier, k *kernel.Kernel, traceLog *trace.Logger, cfg Config, opts ...Option) *EntryPoint {
	e := &EntryPoint{
		router:     router,
		classifier: classifier,
		kernel:     k,
		traceLog:   traceLog,
		cfg:        cfg,
		zapLog:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ErrDraining is returned by Handle once Shutdown has been called and the
// entry point is no longer accepting new requests.
type ErrDraining struct{}

func (ErrDraining) Error() string { return "entry point is shutting down, not accepting new requests" }

// Handle runs the full request pipeline for one inbound request: mint or
// honor a trace id, build the budget and agent context, enrich from
// preferences and memory, dispatch through the kernel, and compose the
// outbound envelope. traceID, if non-empty, is the inbound X-Trace-ID
// header value and is honored verbatim; otherwise a new one is minted.
func (e *EntryPoint) Handle(ctx context.Context, req InboundRequest, traceID string) (OutboundResponse, error) {
	e.shutdownMu.RLock()
	if e.draining {
		e.shutdownMu.RUnlock()
		return OutboundResponse{}, ErrDraining{}
	}
	e.activeRuns.Add(1)
	e.shutdownMu.RUnlock()
	defer e.activeRuns.Done()

	// Step 1 + 2: mint or honor the trace id, build the TraceContext and
	// RunBudget for this request.
	tctx := trace.NewWithTraceID(traceID, map[string]any{"conversation_id": req.ConversationID})
	rb := budget.New(e.cfg.MaxToolCalls, e.cfg.TimeoutSeconds)

	// Step 3.
	e.traceLog.LogRequestStart(tctx, req.Metadata.Source)

	actx := specialist.NewAgentContext(req.Message, tctx, rb)
	actx.ConversationID = req.ConversationID
	actx.PhoneNumber = req.PhoneNumber
	actx.EnrichMetadata(map[string]any{
		"source":                         req.Metadata.Source,
		"is_admin":                       req.Metadata.IsAdmin,
		"trusted_single_user_deployment": req.Metadata.TrustedSingleUserDeployment,
		"sender_is_admin":                req.Metadata.SenderIsAdmin,
	})
	if req.Metadata.Permissions != nil {
		actx.EnrichMetadata(req.Metadata.Permissions)
	}

	// Step 4: optional learned-preferences fetch, injected into metadata
	// rather than the memory-context bag since it is not retrieval but an
	// already-known profile fact.
	learnedPrefs := req.Metadata.LearnedPreferencesPrompt
	if learnedPrefs == "" && e.prefs != nil {
		if fetched, err := e.prefs.Fetch(ctx, req.ConversationID); err == nil && fetched != "" {
			learnedPrefs = fetched
		} else if err != nil {
			e.zapLog.Warn("learned preferences fetch failed, continuing without it", zap.Error(err))
		}
	}
	if learnedPrefs != "" {
		actx.EnrichMetadata(map[string]any{"learned_preferences_prompt": learnedPrefs})
	}
	historySummary := req.Metadata.ConversationHistory
	if historySummary != "" {
		historySummary = pruneContext.TrimToBudget(historySummary, e.cfg.HistoryPruneConfig)
		actx.EnrichMetadata(map[string]any{"conversation_history": historySummary})
	}

	// Fast-path classify, then refine with the LLM fallback only if the
	// fast router asked for it.
	fastResult := e.router.Classify(req.Message)
	ci := fastResult
	if fastResult.NeedsLLMFallback && e.classifier != nil {
		ci = e.classifier.Refine(ctx, req.Message, intent.Hints{
			SenderID:      req.ConversationID,
			RecentSummary: historySummary,
		}, fastResult)
	}

	// Step 5: memory enrichment ahead of dispatch, for categories likely
	// to need prior context the memory-curator agent would not otherwise
	// be dispatched to fetch.
	e.enrichFromMemory(ctx, actx, ci)

	// Step 6.
	result := e.kernel.Dispatch(ctx, actx, ci)

	// Step 7 + 8: compose the outbound envelope. BudgetExceeded is already
	// folded into result.Status by the kernel; no separate catch needed
	// here beyond reading the status through.
	e.traceLog.LogRequestComplete(tctx, string(result.Status))

	resp := OutboundResponse{
		Response:       result.Text,
		AgentID:        specialist.Conductor,
		ConversationID: req.ConversationID,
		TraceID:        tctx.TraceID,
		Metadata: OutboundMetadata{
			CompletionStatus:  result.Status,
			CompletionMessage: completionMessage(result.Status),
			HandoffChain:      handoffChainFromEvents(tctx.Events()),
			TraceSummary:      tctx.ToSummary(),
			BudgetSummary:     rb.GetSummary(),
		},
	}
	return resp, nil
}

func (e *EntryPoint) enrichFromMemory(ctx context.Context, actx *specialist.AgentContext, ci intent.ClassifiedIntent) {
	if e.memory == nil || !memoryEnrichCategories[ci.Category] {
		return
	}
	k := e.cfg.MemorySearchTopK
	results, err := e.memory.Search(ctx, actx.UserMessage, e.cfg.MemorySearchScope, k, false, true)
	if err != nil {
		e.zapLog.Warn("pre-dispatch memory search failed, continuing without it", zap.Error(err))
		return
	}
	if len(results) == 0 {
		return
	}
	snippets := make([]string, 0, len(results))
	for _, r := range results {
		snippets = append(snippets, r.Item.Text)
	}
	actx.EnrichMemory(map[string]any{"prefetched": snippets})
}

func completionMessage(status kernel.CompletionStatus) string {
	switch status {
	case kernel.StatusComplete:
		return "request completed"
	case kernel.StatusPartial:
		return "request partially completed"
	case kernel.StatusFailed:
		return "request failed"
	case kernel.StatusAwaitingInput:
		return "awaiting further input"
	case kernel.StatusHandedOff:
		return "handed off to another agent"
	case kernel.StatusBudgetExceeded:
		return "stopped early due to run budget"
	default:
		return ""
	}
}

// handoffChainFromEvents reconstructs the outbound envelope's handoff
// chain from the trace's flat event log, pairing each handoff_start with
// its data bag; handoff_complete does not carry source/target text so it
// is not separately represented here.
func handoffChainFromEvents(events []trace.Event) []HandoffRecord {
	var chain []HandoffRecord
	for _, ev := range events {
		if ev.Kind != trace.EventHandoffStart {
			continue
		}
		source, _ := ev.Data["source"].(string)
		target, _ := ev.Data["target"].(string)
		reason, _ := ev.Data["reason"].(string)
		message, _ := ev.Data["message"].(string)
		if target == "" {
			target = ev.AgentID
		}
		chain = append(chain, HandoffRecord{Source: source, Target: target, Reason: reason, Message: message})
	}
	return chain
}

// Shutdown stops accepting new requests and waits for in-flight ones to
// finish, up to cfg.ShutdownTimeout (default from Config.ShutdownTimeout,
// falling back to 30s if zero). Returns ctx.Err() if it times out first.
func (e *EntryPoint) Shutdown(ctx context.Context) error {
	e.shutdownMu.Lock()
	e.draining = true
	e.shutdownMu.Unlock()

	timeout := e.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.activeRuns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-deadline.Done():
		return deadline.Err()
	}
}
