// Package specialist defines the closed set of agent identities, the
// capability taxonomy they route on, and the shared context/response
// envelope that flows through a single orchestration run.
//
// This models a fixed seven-agent topology rather than a dynamic
// sub-agent spawner: there is no runtime creation of new agent instances,
// no spawn depth, and no tool permission inheritance chain. Every agent
// identity is known at compile time and wired once into a Registry at
// process start.
package specialist

import (
	"fmt"
	"sync"

	"github.com/Johnsonbros/Zeke-sub000/internal/domain/budget"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/trace"
)

// ID is the closed set of agent identities in the system.
type ID string

const (
	Conductor           ID = "conductor"
	MemoryCurator       ID = "memory_curator"
	CommsPilot          ID = "comms_pilot"
	OpsPlanner          ID = "ops_planner"
	ResearchScout       ID = "research_scout"
	PersonalDataSteward ID = "personal_data_steward"
	SafetyAuditor       ID = "safety_auditor"
)

// AllIDs lists every known agent identity in canonical order.
var AllIDs = []ID{Conductor, MemoryCurator, CommsPilot, OpsPlanner, ResearchScout, PersonalDataSteward, SafetyAuditor}

func (id ID) Valid() bool {
	for _, known := range AllIDs {
		if id == known {
			return true
		}
	}
	return false
}

// Status is an agent's current operational state.
type Status string

const (
	StatusIdle               Status = "idle"
	StatusProcessing         Status = "processing"
	StatusWaitingForHandoff  Status = "waiting_for_handoff"
	StatusError              Status = "error"
)

// CapabilityCategory is the closed set of high-level capability categories
// that intents route on and agents declare ownership of.
type CapabilityCategory string

const (
	CapabilityCommunication   CapabilityCategory = "communication"
	CapabilityScheduling      CapabilityCategory = "scheduling"
	CapabilityTaskManagement  CapabilityCategory = "task_management"
	CapabilityInformation     CapabilityCategory = "information"
	CapabilityMemory          CapabilityCategory = "memory"
	CapabilityGrocery         CapabilityCategory = "grocery"
	CapabilityProfile         CapabilityCategory = "profile"
	CapabilitySystem          CapabilityCategory = "system"
)

// AllCapabilities lists every known capability category.
var AllCapabilities = []CapabilityCategory{
	CapabilityCommunication, CapabilityScheduling, CapabilityTaskManagement,
	CapabilityInformation, CapabilityMemory, CapabilityGrocery, CapabilityProfile, CapabilitySystem,
}

// HandoffReason is the closed set of reasons one agent hands off to another.
type HandoffReason string

const (
	ReasonCapabilityRequired HandoffReason = "capability_required"
	ReasonTaskContinuation   HandoffReason = "task_continuation"
	ReasonMultiStepWorkflow  HandoffReason = "multi_step_workflow"
	ReasonErrorEscalation    HandoffReason = "error_escalation"
	ReasonSafetyCheck        HandoffReason = "safety_check"
	ReasonMemoryNeeded       HandoffReason = "memory_needed"
)

// HandoffRequest captures one agent's request to transfer processing to
// another, built by Specialist.HandoffTo and validated against the
// source agent's declared handoff targets.
type HandoffRequest struct {
	SourceAgent ID
	TargetAgent ID
	Reason      HandoffReason
	Context     map[string]any
	Message     string
}

// AgentResponse is the uniform result shape every specialist returns.
type AgentResponse struct {
	AgentID          ID
	Success          bool
	Content          string
	Error            string
	ProcessingTimeMS float64
}

// AgentContext is constructed once per request and passed by shared
// reference to every agent invoked during the run. Per the data model's
// ownership rule, MemoryContext and Metadata are appended to in place —
// never re-bound to a new map — so earlier agents' enrichments remain
// visible to every later agent in the chain.
type AgentContext struct {
	UserMessage    string
	ConversationID string
	PhoneNumber    string
	MemoryContext  map[string]any
	UserProfile    map[string]any
	Metadata       map[string]any

	Trace  *trace.Context
	Budget *budget.RunBudget

	// PriorResponses accumulates one AgentResponse per dispatched target,
	// in dispatch order, so later agents (and the kernel's response
	// composition step) can see what earlier agents in the same run
	// returned.
	PriorResponses []AgentResponse

	mu sync.Mutex
}

// NewAgentContext builds a context with initialized bags so callers never
// need a nil check before enriching it.
func NewAgentContext(userMessage string, tr *trace.Context, rb *budget.RunBudget) *AgentContext {
	return &AgentContext{
		UserMessage:   userMessage,
		MemoryContext: make(map[string]any),
		UserProfile:   make(map[string]any),
		Metadata:      make(map[string]any),
		Trace:         tr,
		Budget:        rb,
	}
}

// EnrichMemory merges key/value pairs into the memory-context bag.
// Existing keys are overwritten; the bag itself is never replaced.
func (c *AgentContext) EnrichMemory(kv map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range kv {
		c.MemoryContext[k] = v
	}
}

// EnrichMetadata merges key/value pairs into the metadata bag, the same
// bag permission assertions (is_admin, sender_is_admin,
// trusted_single_user_deployment, source) live in.
func (c *AgentContext) EnrichMetadata(kv map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range kv {
		c.Metadata[k] = v
	}
}

// IsAdmin reports the is_admin permission assertion, defaulting to false
// when absent or not a bool.
func (c *AgentContext) IsAdmin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, _ := c.Metadata["is_admin"].(bool)
	return v
}

// AppendResponse records one dispatched agent's response in call order.
func (c *AgentContext) AppendResponse(r AgentResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PriorResponses = append(c.PriorResponses, r)
}

// Specialist is the contract every agent implements: identity,
// declarative capability ownership, the set of agents it may hand off to,
// and its single execution entry point.
type Specialist interface {
	ID() ID
	Name() string
	Description() string
	Capabilities() []CapabilityCategory
	HandoffTargets() []ID
	CanHandle(cat CapabilityCategory) bool
	Status() Status

	// Run executes the agent's logic against the shared context and
	// returns its textual response. The kernel treats this as opaque:
	// it times the call itself and wraps a returned error into a failed
	// AgentResponse rather than letting it propagate. Implementations
	// must not invoke tools in parallel and must debit ctx.Budget for
	// every tool call attempted.
	Run(utterance string, ctx *AgentContext) (string, error)
}

// BaseSpecialist provides the bookkeeping every concrete specialist
// shares: status tracking and handoff validation/construction. Concrete
// agents embed this and implement only Run.
type BaseSpecialist struct {
	IDValue          ID
	NameValue        string
	DescriptionValue string
	CapsValue        []CapabilityCategory
	TargetsValue     []ID

	mu     sync.Mutex
	status Status
}

func NewBaseSpecialist(id ID, name, description string, caps []CapabilityCategory, targets []ID) BaseSpecialist {
	return BaseSpecialist{
		IDValue:          id,
		NameValue:        name,
		DescriptionValue: description,
		CapsValue:        caps,
		TargetsValue:     targets,
		status:           StatusIdle,
	}
}

func (b *BaseSpecialist) ID() ID                            { return b.IDValue }
func (b *BaseSpecialist) Name() string                       { return b.NameValue }
func (b *BaseSpecialist) Description() string                { return b.DescriptionValue }
func (b *BaseSpecialist) Capabilities() []CapabilityCategory { return b.CapsValue }
func (b *BaseSpecialist) HandoffTargets() []ID               { return b.TargetsValue }

func (b *BaseSpecialist) CanHandle(cat CapabilityCategory) bool {
	for _, c := range b.CapsValue {
		if c == cat {
			return true
		}
	}
	return false
}

func (b *BaseSpecialist) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *BaseSpecialist) setStatus(s Status) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

// HandoffTo builds a HandoffRequest to target, logging it on the shared
// trace if present. It returns an error if target is not among this
// agent's declared handoff targets — a specialist cannot hand off
// somewhere it never declared it could.
func (b *BaseSpecialist) HandoffTo(actx *AgentContext, logger *trace.Logger, target ID, reason HandoffReason, context map[string]any, message string) (HandoffRequest, error) {
	allowed := false
	for _, t := range b.TargetsValue {
		if t == target {
			allowed = true
			break
		}
	}
	if !allowed {
		return HandoffRequest{}, fmt.Errorf("agent %s cannot hand off to %s: not in declared handoff targets %v", b.NameValue, target, b.TargetsValue)
	}

	if context == nil {
		context = map[string]any{}
	}
	req := HandoffRequest{
		SourceAgent: b.IDValue,
		TargetAgent: target,
		Reason:      reason,
		Context:     context,
		Message:     message,
	}

	if actx != nil && actx.Trace != nil && logger != nil {
		logger.LogHandoffStart(actx.Trace, string(b.IDValue), string(target), string(reason), message)
	}
	b.setStatus(StatusWaitingForHandoff)
	return req, nil
}

// CompleteHandoff marks a handoff's outcome and returns the agent to idle.
func (b *BaseSpecialist) CompleteHandoff(actx *AgentContext, logger *trace.Logger, req HandoffRequest, success bool) {
	b.setStatus(StatusIdle)
	if actx != nil && actx.Trace != nil && logger != nil {
		logger.LogHandoffComplete(actx.Trace, string(req.TargetAgent), success)
	}
}

// Registry is the write-once-at-startup lookup table from agent id to its
// Specialist implementation. Populated during process bootstrap and then
// treated as read-only for the rest of the process lifetime.
type Registry struct {
	mu         sync.RWMutex
	specialists map[ID]Specialist
	sealed     bool
}

func NewRegistry() *Registry {
	return &Registry{specialists: make(map[ID]Specialist)}
}

// Register adds a specialist to the registry. Panics if called after Seal,
// since the registry is meant to be built once during bootstrap and never
// mutated afterward.
func (r *Registry) Register(s Specialist) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		panic("specialist: cannot register after registry is sealed")
	}
	r.specialists[s.ID()] = s
}

// Seal freezes the registry against further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

func (r *Registry) Get(id ID) (Specialist, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specialists[id]
	return s, ok
}

// ByCapability returns every registered specialist that declares ownership
// of cat, in canonical AllIDs order.
func (r *Registry) ByCapability(cat CapabilityCategory) []Specialist {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Specialist
	for _, id := range AllIDs {
		if s, ok := r.specialists[id]; ok && s.CanHandle(cat) {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) All() []Specialist {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Specialist, 0, len(r.specialists))
	for _, id := range AllIDs {
		if s, ok := r.specialists[id]; ok {
			out = append(out, s)
		}
	}
	return out
}
