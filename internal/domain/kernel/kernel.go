// Package kernel implements the Orchestration Kernel: target resolution
// from a classified intent, strictly sequential dispatch across the
// resolved targets, and response composition from the collected
// AgentResponses.
//
// Dispatch here is deliberately a plain sequential loop, not a concurrent
// graph walk: no target is ever invoked in parallel within a single
// request. See DESIGN.md for the reasoning behind that choice.
package kernel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Johnsonbros/Zeke-sub000/internal/domain/budget"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/intent"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/specialist"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/trace"
)

// CompletionStatus is the closed set of outcomes a run can finish with.
type CompletionStatus string

const (
	StatusComplete       CompletionStatus = "complete"
	StatusPartial        CompletionStatus = "partial"
	StatusFailed         CompletionStatus = "failed"
	StatusAwaitingInput  CompletionStatus = "awaiting_input"
	StatusHandedOff      CompletionStatus = "handed_off"
	StatusBudgetExceeded CompletionStatus = "budget_exceeded"
)

// Response is the kernel's final output for one request.
type Response struct {
	Status    CompletionStatus
	Text      string
	Responses []specialist.AgentResponse
}

// sensitiveCategories always get the safety auditor appended to the
// resolved target list, as the final step of target resolution.
var sensitiveCategories = map[specialist.CapabilityCategory]bool{
	specialist.CapabilityCommunication: true,
	specialist.CapabilityProfile:       true,
	specialist.CapabilityMemory:        true,
}

// CategoryAgentTable is the fixed capability->agent routing table used in
// target resolution step 3.
type CategoryAgentTable map[specialist.CapabilityCategory][]specialist.ID

// DefaultCategoryAgentTable assigns each capability category to the
// specialist(s) that primarily own it.
var DefaultCategoryAgentTable = CategoryAgentTable{
	specialist.CapabilityCommunication:  {specialist.CommsPilot},
	specialist.CapabilityScheduling:     {specialist.OpsPlanner},
	specialist.CapabilityTaskManagement: {specialist.OpsPlanner},
	specialist.CapabilityInformation:    {specialist.ResearchScout},
	specialist.CapabilityMemory:         {specialist.MemoryCurator},
	specialist.CapabilityGrocery:        {specialist.OpsPlanner},
	specialist.CapabilityProfile:        {specialist.PersonalDataSteward},
	specialist.CapabilitySystem:         {specialist.Conductor},
}

// IntentOverrideTable maps a specific intent type directly to an agent,
// taking precedence over the category table (step 2).
type IntentOverrideTable map[intent.Type]specialist.ID

// DefaultIntentOverrides has no entries by default; callers may supply a
// populated table at construction to route specific intents to a
// non-default specialist.
var DefaultIntentOverrides = IntentOverrideTable{}

// BridgeFallback is invoked when a resolved target is absent from the
// registry, modeling a single tool-like `route_to_agent` call out to an
// external worker. A nil BridgeFallback always fails closed.
type BridgeFallback func(ctx context.Context, target specialist.ID, actx *specialist.AgentContext) (specialist.AgentResponse, error)

// Kernel resolves targets for a classified intent and dispatches to them
// in sequence.
type Kernel struct {
	registry        *specialist.Registry
	categoryTable   CategoryAgentTable
	intentOverrides IntentOverrideTable
	bridgeFallback  BridgeFallback
	logger          *trace.Logger
	zapLogger       *zap.Logger
}

// Option configures a Kernel at construction.
type Option func(*Kernel)

func WithCategoryTable(t CategoryAgentTable) Option {
	return func(k *Kernel) { k.categoryTable = t }
}

func WithIntentOverrides(t IntentOverrideTable) Option {
	return func(k *Kernel) { k.intentOverrides = t }
}

func WithBridgeFallback(f BridgeFallback) Option {
	return func(k *Kernel) { k.bridgeFallback = f }
}

func WithZapLogger(zl *zap.Logger) Option {
	return func(k *Kernel) { k.zapLogger = zl }
}

// New builds a Kernel over registry, defaulting the category table and
// intent overrides to the package defaults.
func New(registry *specialist.Registry, traceLogger *trace.Logger, opts ...Option) *Kernel {
	k := &Kernel{
		registry:        registry,
		categoryTable:   DefaultCategoryAgentTable,
		intentOverrides: DefaultIntentOverrides,
		logger:          traceLogger,
		zapLogger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// ResolveTargets builds the ordered target list for ci: coordination
// agent first, then an intent override or category routing, then the
// safety auditor for sensitive categories, then dedupe.
func (k *Kernel) ResolveTargets(ci intent.ClassifiedIntent) []specialist.ID {
	var targets []specialist.ID

	// Step 1: coordination requests always start with the memory curator.
	if ci.RequiresCoordination {
		targets = append(targets, specialist.MemoryCurator)
	}

	// Step 2: a specific-intent override, if any, takes precedence over
	// the category table.
	if override, ok := k.intentOverrides[ci.Type]; ok {
		targets = append(targets, override)
	} else if len(ci.TargetAgentIDs) > 0 {
		// The fast router only ever populates TargetAgentIDs for the
		// UNKNOWN fallback (targeting the safety agent directly); honor
		// that explicit routing ahead of the category table.
		targets = append(targets, ci.TargetAgentIDs...)
	} else {
		// Step 3: otherwise append the category's primary agent(s).
		targets = append(targets, k.categoryTable[ci.Category]...)
	}

	// Step 4: sensitive categories always get the safety auditor appended.
	if sensitiveCategories[ci.Category] {
		targets = append(targets, specialist.SafetyAuditor)
	}

	// Step 5: dedupe preserving first occurrence; default to safety
	// auditor alone if nothing resolved.
	targets = dedupePreserveOrder(targets)
	if len(targets) == 0 {
		targets = []specialist.ID{specialist.SafetyAuditor}
	}
	return targets
}

func dedupePreserveOrder(ids []specialist.ID) []specialist.ID {
	seen := make(map[specialist.ID]bool, len(ids))
	out := make([]specialist.ID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Dispatch runs ci's resolved targets in strict sequence against actx,
// checking the budget before each dispatch and handing off to the bridge
// when a target isn't locally registered, then composes the final
// Response from the collected AgentResponses.
func (k *Kernel) Dispatch(ctx context.Context, actx *specialist.AgentContext, ci intent.ClassifiedIntent) Response {
	targets := k.ResolveTargets(ci)
	invoked := make(map[specialist.ID]bool, len(targets))

	for _, target := range targets {
		// Pre-flight budget check before each dispatch. A budget already
		// exhausted before this target ever runs is the same graceful-stop
		// outcome as one exhausted mid-specialist.
		if actx.Budget != nil && !actx.Budget.CanExecuteTool() {
			summary := actx.Budget.GetSummary()
			if actx.Trace != nil {
				k.logger.LogRunBudgetExceeded(actx.Trace, string(summary.Reason), summary.ToolCallsUsed, summary.ToolCallsLimit, summary.ElapsedSeconds, summary.TimeoutSeconds, summary.ToolsCalled, string(target))
			}
			return k.budgetExceededResponse(actx, &budget.Exceeded{Summary: summary})
		}

		sp, ok := k.registry.Get(target)
		if !ok {
			resp := k.attemptBridgeFallback(ctx, target, actx)
			actx.AppendResponse(resp)
			invoked[target] = true
			continue
		}

		invoked[target] = true
		resp, budgetErr := k.dispatchOne(actx, sp, ci)
		actx.AppendResponse(resp)

		if target == specialist.MemoryCurator && resp.Success {
			actx.EnrichMemory(map[string]any{"enriched": resp.Content})
		}

		// A specialist may let BudgetExceeded escape its own tool-call loop
		// rather than converting it to a failed response; the kernel is the
		// boundary that catches it, stopping dispatch and converting it
		// into a graceful envelope.
		if budgetErr != nil {
			return k.budgetExceededResponse(actx, budgetErr)
		}

		// A specialist that initiated (but did not resolve) its own
		// inter-agent handoff leaves itself in WaitingForHandoff; that is
		// a legitimate non-terminal stop, not a failure.
		if sp.Status() == specialist.StatusWaitingForHandoff {
			return Response{Status: StatusHandedOff, Text: resp.Content, Responses: actx.PriorResponses}
		}
	}

	return k.composeResponse(ci, actx, targets, invoked)
}

// dispatchOne performs steps (b)-(d) for a single resolved specialist. It
// returns the budget's own exhaustion error separately from a normal
// failure so Dispatch can special-case the graceful-stop path.
func (k *Kernel) dispatchOne(actx *specialist.AgentContext, sp specialist.Specialist, ci intent.ClassifiedIntent) (specialist.AgentResponse, error) {
	var spanID uint64
	if actx.Trace != nil {
		spanID = actx.Trace.CreateSpan("agent:" + string(sp.ID()))
		k.logger.LogHandoffStart(actx.Trace, "conductor", string(sp.ID()), "dispatch", ci.RawMessage)
		k.logger.LogAgentStart(actx.Trace, string(sp.ID()), spanID, string(ci.Type))
	}

	start := time.Now()
	content, err := sp.Run(actx.UserMessage, actx)
	elapsedMS := float64(time.Since(start)) / float64(time.Millisecond)

	if budget.IsExceeded(err) {
		if actx.Trace != nil {
			k.logger.LogAgentError(actx.Trace, string(sp.ID()), spanID, err)
			k.logger.LogHandoffComplete(actx.Trace, string(sp.ID()), false)
		}
		return specialist.AgentResponse{AgentID: sp.ID(), Success: false, Error: err.Error(), ProcessingTimeMS: elapsedMS}, err
	}

	resp := specialist.AgentResponse{
		AgentID:          sp.ID(),
		ProcessingTimeMS: elapsedMS,
	}
	if err != nil {
		resp.Success = false
		resp.Error = err.Error()
		if actx.Trace != nil {
			k.logger.LogAgentError(actx.Trace, string(sp.ID()), spanID, err)
		}
	} else {
		resp.Success = true
		resp.Content = content
		if actx.Trace != nil {
			k.logger.LogAgentComplete(actx.Trace, string(sp.ID()), spanID, content)
		}
	}

	if actx.Trace != nil {
		k.logger.LogHandoffComplete(actx.Trace, string(sp.ID()), resp.Success)
	}
	return resp, nil
}

// budgetExceededResponse builds the graceful-stop envelope: the text
// begins with "I had to stop early" and names up to five tools.
func (k *Kernel) budgetExceededResponse(actx *specialist.AgentContext, budgetErr error) Response {
	var toolsNamed []string
	if actx.Budget != nil {
		toolsNamed = actx.Budget.GetSummary().FirstTools(5)
	}
	text := fmt.Sprintf("I had to stop early (%s)", budgetErr.Error())
	if len(toolsNamed) > 0 {
		text = fmt.Sprintf("I had to stop early after calling: %s", strings.Join(toolsNamed, ", "))
	}
	return Response{Status: StatusBudgetExceeded, Text: text, Responses: actx.PriorResponses}
}

func (k *Kernel) attemptBridgeFallback(ctx context.Context, target specialist.ID, actx *specialist.AgentContext) specialist.AgentResponse {
	if k.bridgeFallback == nil {
		return specialist.AgentResponse{AgentID: target, Success: false, Error: fmt.Sprintf("agent %s not registered and no bridge fallback configured", target)}
	}
	start := time.Now()
	resp, err := k.bridgeFallback(ctx, target, actx)
	if err != nil {
		return specialist.AgentResponse{
			AgentID:          target,
			Success:          false,
			Error:            err.Error(),
			ProcessingTimeMS: float64(time.Since(start)) / float64(time.Millisecond),
		}
	}
	return resp
}

// composeResponse derives the overall status and reply text from the set
// of successful and failed specialist responses collected during dispatch.
func (k *Kernel) composeResponse(ci intent.ClassifiedIntent, actx *specialist.AgentContext, targets []specialist.ID, invoked map[specialist.ID]bool) Response {
	responses := actx.PriorResponses
	if len(responses) == 0 {
		return Response{Status: StatusFailed, Text: "I wasn't able to process your request"}
	}

	var successes, failures []specialist.AgentResponse
	for _, r := range responses {
		if r.Success {
			successes = append(successes, r)
		} else {
			failures = append(failures, r)
		}
	}

	var status CompletionStatus
	var text string

	switch {
	case len(successes) == 0:
		status = StatusFailed
		text = failures[0].Error
	case len(failures) == 0 && len(nonEmptyContents(successes)) == 1:
		status = StatusComplete
		text = nonEmptyContents(successes)[0]
	case len(failures) > 0:
		status = StatusPartial
		text = joinContents(nonEmptyContents(successes))
	default:
		status = StatusComplete
		text = joinContents(nonEmptyContents(successes))
	}

	if ci.RequiresCoordination {
		for _, t := range targets {
			if !invoked[t] {
				status = StatusPartial
				break
			}
		}
	}

	return Response{Status: status, Text: text, Responses: responses}
}

func nonEmptyContents(responses []specialist.AgentResponse) []string {
	var out []string
	for _, r := range responses {
		if r.Content != "" {
			out = append(out, r.Content)
		}
	}
	return out
}

func joinContents(contents []string) string {
	out := ""
	for i, c := range contents {
		if i > 0 {
			out += "\n\n"
		}
		out += c
	}
	return out
}

