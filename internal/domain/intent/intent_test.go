package intent

import (
	"testing"

	"github.com/Johnsonbros/Zeke-sub000/internal/domain/specialist"
)

func TestClassify_MatchesHighestConfidenceRule(t *testing.T) {
	r := NewDefaultRouter()
	got := r.Classify("what's the weather today")
	if got.Type != TypeWeather || got.Category != specialist.CapabilityInformation {
		t.Fatalf("expected weather intent, got %+v", got)
	}
	if got.Confidence != 0.95 {
		t.Fatalf("expected confidence 0.95, got %v", got.Confidence)
	}
	if got.NeedsLLMFallback {
		t.Fatal("expected a high-confidence match not to need llm fallback")
	}
}

func TestClassify_UnknownFallsBackToSafetyAgent(t *testing.T) {
	r := NewDefaultRouter()
	got := r.Classify("asdkjfh qwoeiru zxcvzxcv")
	if got.Type != TypeUnknown || got.Confidence != unknownConfidence {
		t.Fatalf("expected unknown fallback, got %+v", got)
	}
	if len(got.TargetAgentIDs) != 1 || got.TargetAgentIDs[0] != specialist.SafetyAuditor {
		t.Fatalf("expected unknown to target safety_auditor, got %v", got.TargetAgentIDs)
	}
	if !got.NeedsLLMFallback {
		t.Fatal("expected unknown to need llm fallback")
	}
}

func TestClassify_SoftFallbackBelowEightyPercent(t *testing.T) {
	r := NewDefaultRouter()
	got := r.Classify("search for the best pizza place")
	if got.Confidence != 0.75 {
		t.Fatalf("expected the search rule's 0.75 confidence, got %v", got.Confidence)
	}
	if !got.NeedsLLMFallback {
		t.Fatal("expected confidence below 0.8 to still request llm fallback")
	}
}

func TestClassify_EntityExtraction(t *testing.T) {
	r := NewDefaultRouter()
	got := r.Classify("tell Sarah that I'll be late")
	if got.Type != TypeSendMessage {
		t.Fatalf("expected send_message, got %+v", got)
	}
	if got.Entities["recipient"] != "Sarah" {
		t.Fatalf("expected recipient entity 'Sarah', got %v", got.Entities["recipient"])
	}
}

func TestClassify_CoordinationFlag(t *testing.T) {
	r := NewDefaultRouter()
	got := r.Classify("remind me to call mom and then text Sarah")
	if !got.RequiresCoordination {
		t.Fatal("expected coordination pattern 'and...then' to flag requires_coordination")
	}
}

func TestClassify_TimeEntityExtraction(t *testing.T) {
	r := NewDefaultRouter()
	got := r.Classify("remind me to call mom tomorrow at 3pm")
	if got.Entities["date"] == nil {
		t.Fatal("expected a date entity to be extracted")
	}
}

func TestClassify_BelowHardThresholdKeepsMatchWithFallbackFlag(t *testing.T) {
	rules := []Rule{
		mustRule([]string{`\bfoo\b`}, specialist.CapabilityInformation, TypeSearch, 0.4, false, nil),
	}
	r := NewRouter(rules, 0.6)
	got := r.Classify("foo bar")
	if got.Type != TypeSearch || got.Category != specialist.CapabilityInformation {
		t.Fatalf("expected the matched rule's category/type to survive a sub-threshold confidence, got %+v", got)
	}
	if got.Confidence != 0.4 {
		t.Fatalf("expected the matched rule's own confidence, got %v", got.Confidence)
	}
	if !got.NeedsLLMFallback {
		t.Fatal("expected a sub-threshold confidence to still request llm fallback")
	}
}

func TestClassify_RegistrationOrderTiebreak(t *testing.T) {
	rules := []Rule{
		mustRule([]string{`\bfoo\b`}, specialist.CapabilitySystem, TypeHelp, 0.8, false, nil),
		mustRule([]string{`\bfoo\b`}, specialist.CapabilityInformation, TypeSearch, 0.8, false, nil),
	}
	r := NewRouter(rules, 0.5)
	got := r.Classify("foo")
	if got.Type != TypeHelp {
		t.Fatalf("expected the first-registered equal-confidence rule to win, got %v", got.Type)
	}
}
