package specialist

import (
	"testing"

	"github.com/Johnsonbros/Zeke-sub000/internal/domain/budget"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/trace"
)

type stubSpecialist struct {
	BaseSpecialist
}

func (s *stubSpecialist) Run(utterance string, ctx *AgentContext) (string, error) {
	return "ok", nil
}

func newStub(id ID, caps []CapabilityCategory, targets []ID) *stubSpecialist {
	return &stubSpecialist{BaseSpecialist: NewBaseSpecialist(id, string(id), "stub agent", caps, targets)}
}

func TestAgentContext_EnrichmentsAppendNotReplace(t *testing.T) {
	tr := trace.New(nil)
	rb := budget.New(0, 0)
	actx := NewAgentContext("hello", tr, rb)

	actx.EnrichMemory(map[string]any{"a": 1})
	actx.EnrichMemory(map[string]any{"b": 2})
	if len(actx.MemoryContext) != 2 {
		t.Fatalf("expected both enrichments to survive, got %v", actx.MemoryContext)
	}

	actx.EnrichMetadata(map[string]any{"is_admin": true})
	if !actx.IsAdmin() {
		t.Fatal("expected is_admin to read back true")
	}
}

func TestCanHandle(t *testing.T) {
	s := newStub(MemoryCurator, []CapabilityCategory{CapabilityMemory}, nil)
	if !s.CanHandle(CapabilityMemory) {
		t.Fatal("expected memory_curator to own the memory capability")
	}
	if s.CanHandle(CapabilityGrocery) {
		t.Fatal("expected memory_curator not to own grocery")
	}
}

func TestHandoffTo_RejectsUndeclaredTarget(t *testing.T) {
	s := newStub(Conductor, nil, []ID{CommsPilot})
	actx := NewAgentContext("hi", nil, nil)
	logger := trace.NewLogger(nil)

	if _, err := s.HandoffTo(actx, logger, OpsPlanner, ReasonCapabilityRequired, nil, "need planner"); err == nil {
		t.Fatal("expected handoff to an undeclared target to fail")
	}

	req, err := s.HandoffTo(actx, logger, CommsPilot, ReasonCapabilityRequired, nil, "need comms")
	if err != nil {
		t.Fatalf("expected declared handoff to succeed, got %v", err)
	}
	if req.TargetAgent != CommsPilot || s.Status() != StatusWaitingForHandoff {
		t.Fatalf("unexpected handoff state: %+v status=%v", req, s.Status())
	}

	s.CompleteHandoff(actx, logger, req, true)
	if s.Status() != StatusIdle {
		t.Fatalf("expected status to return to idle after completion, got %v", s.Status())
	}
}

func TestRegistry_RegisterGetAndByCapability(t *testing.T) {
	r := NewRegistry()
	r.Register(newStub(MemoryCurator, []CapabilityCategory{CapabilityMemory}, nil))
	r.Register(newStub(CommsPilot, []CapabilityCategory{CapabilityCommunication}, nil))
	r.Seal()

	if _, ok := r.Get(MemoryCurator); !ok {
		t.Fatal("expected memory_curator to be registered")
	}
	if _, ok := r.Get(SafetyAuditor); ok {
		t.Fatal("expected safety_auditor to be absent")
	}

	matches := r.ByCapability(CapabilityMemory)
	if len(matches) != 1 || matches[0].ID() != MemoryCurator {
		t.Fatalf("expected exactly memory_curator for the memory capability, got %v", matches)
	}

	if len(r.All()) != 2 {
		t.Fatalf("expected 2 registered specialists, got %d", len(r.All()))
	}
}

func TestRegistry_PanicsOnRegisterAfterSeal(t *testing.T) {
	r := NewRegistry()
	r.Seal()

	defer func() {
		if recover() == nil {
			t.Fatal("expected registering after seal to panic")
		}
	}()
	r.Register(newStub(SafetyAuditor, nil, nil))
}

func TestID_Valid(t *testing.T) {
	if !Conductor.Valid() {
		t.Fatal("expected conductor to be a valid id")
	}
	if ID("made_up").Valid() {
		t.Fatal("expected an unknown id to be invalid")
	}
}
