package entrypoint

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	pruneContext "github.com/Johnsonbros/Zeke-sub000/internal/domain/context"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/intent"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/kernel"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/memorystore"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/specialist"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/trace"
)

type stubSpecialist struct {
	specialist.BaseSpecialist
	run func(string, *specialist.AgentContext) (string, error)
}

func (s *stubSpecialist) Run(utterance string, ctx *specialist.AgentContext) (string, error) {
	if s.run != nil {
		return s.run(utterance, ctx)
	}
	return "handled", nil
}

func newStub(id specialist.ID, caps []specialist.CapabilityCategory, run func(string, *specialist.AgentContext) (string, error)) *stubSpecialist {
	return &stubSpecialist{BaseSpecialist: specialist.NewBaseSpecialist(id, string(id), "stub", caps, nil), run: run}
}

func newKernel(t *testing.T, specs ...*stubSpecialist) *kernel.Kernel {
	t.Helper()
	r := specialist.NewRegistry()
	for _, s := range specs {
		r.Register(s)
	}
	r.Seal()
	return kernel.New(r, trace.NewLogger(nil))
}

type stubMemory struct {
	results []memorystore.SearchResult
	err     error
	calls   int
}

func (m *stubMemory) Search(ctx context.Context, query, scope string, k int, useVector, useFTS bool) ([]memorystore.SearchResult, error) {
	m.calls++
	return m.results, m.err
}

type stubPrefs struct {
	text string
	err  error
}

func (p *stubPrefs) Fetch(ctx context.Context, conversationID string) (string, error) {
	return p.text, p.err
}

func newEntryPoint(t *testing.T, k *kernel.Kernel, opts ...Option) *EntryPoint {
	t.Helper()
	return New(intent.NewDefaultRouter(), nil, k, trace.NewLogger(nil), DefaultConfig(), opts...)
}

func TestHandle_HappyPathReturnsCompleteEnvelope(t *testing.T) {
	k := newKernel(t, newStub(specialist.OpsPlanner, []specialist.CapabilityCategory{specialist.CapabilityScheduling}, nil))
	e := newEntryPoint(t, k)

	resp, err := e.Handle(context.Background(), InboundRequest{Message: "remind me to call mom tomorrow", ConversationID: "c1"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.AgentID != specialist.Conductor {
		t.Fatalf("expected agent_id conductor, got %v", resp.AgentID)
	}
	if resp.TraceID == "" {
		t.Fatal("expected a minted trace id")
	}
	if resp.Metadata.CompletionStatus != kernel.StatusComplete {
		t.Fatalf("expected complete status, got %v", resp.Metadata.CompletionStatus)
	}
	if resp.Metadata.TraceSummary.TraceID != resp.TraceID {
		t.Fatal("expected trace summary to reference the same trace id")
	}
}

func TestHandle_HonorsSuppliedTraceID(t *testing.T) {
	k := newKernel(t, newStub(specialist.OpsPlanner, []specialist.CapabilityCategory{specialist.CapabilityScheduling}, nil))
	e := newEntryPoint(t, k)

	resp, err := e.Handle(context.Background(), InboundRequest{Message: "remind me to call mom tomorrow"}, "fixed-trace-id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.TraceID != "fixed-trace-id" {
		t.Fatalf("expected the supplied trace id honored, got %q", resp.TraceID)
	}
}

func TestHandle_LearnedPreferencesFromMetadataTakesPrecedenceOverFetcher(t *testing.T) {
	var seenPrefs string
	k := newKernel(t, newStub(specialist.OpsPlanner, []specialist.CapabilityCategory{specialist.CapabilityScheduling}, func(u string, ctx *specialist.AgentContext) (string, error) {
		seenPrefs, _ = ctx.Metadata["learned_preferences_prompt"].(string)
		return "ok", nil
	}))
	prefs := &stubPrefs{text: "fetched-prefs"}
	e := newEntryPoint(t, k, WithPreferencesFetcher(prefs))

	req := InboundRequest{Message: "remind me to call mom tomorrow", Metadata: InboundMetadata{LearnedPreferencesPrompt: "inline-prefs"}}
	if _, err := e.Handle(context.Background(), req, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seenPrefs != "inline-prefs" {
		t.Fatalf("expected inline metadata prefs to win, got %q", seenPrefs)
	}
}

func TestHandle_FetchesLearnedPreferencesWhenMetadataEmpty(t *testing.T) {
	var seenPrefs string
	k := newKernel(t, newStub(specialist.OpsPlanner, []specialist.CapabilityCategory{specialist.CapabilityScheduling}, func(u string, ctx *specialist.AgentContext) (string, error) {
		seenPrefs, _ = ctx.Metadata["learned_preferences_prompt"].(string)
		return "ok", nil
	}))
	prefs := &stubPrefs{text: "fetched-prefs"}
	e := newEntryPoint(t, k, WithPreferencesFetcher(prefs))

	if _, err := e.Handle(context.Background(), InboundRequest{Message: "remind me to call mom tomorrow"}, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seenPrefs != "fetched-prefs" {
		t.Fatalf("expected fetched prefs injected, got %q", seenPrefs)
	}
}

func TestHandle_MemoryEnrichmentOnlyForLikelyCategories(t *testing.T) {
	var sawPrefetched bool
	k := newKernel(t, newStub(specialist.PersonalDataSteward, []specialist.CapabilityCategory{specialist.CapabilityProfile}, func(u string, ctx *specialist.AgentContext) (string, error) {
		_, sawPrefetched = ctx.MemoryContext["prefetched"]
		return "ok", nil
	}))
	mem := &stubMemory{results: []memorystore.SearchResult{{Item: memorystore.Item{Text: "note about preferences"}}}}
	e := newEntryPoint(t, k, WithMemorySearcher(mem))

	// A profile-category message routes to the profile category table
	// entry, which the entry point treats as likely needing memory.
	req := InboundRequest{Message: "i prefer tea over coffee"}
	if _, err := e.Handle(context.Background(), req, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mem.calls == 0 {
		t.Fatal("expected a memory search for a profile-category request")
	}
	if !sawPrefetched {
		t.Fatal("expected prefetched snippets visible to the dispatched specialist")
	}
}

func TestHandle_PrunesOversizedConversationHistoryBeforeEnrichment(t *testing.T) {
	var seenHistory string
	k := newKernel(t, newStub(specialist.OpsPlanner, []specialist.CapabilityCategory{specialist.CapabilityScheduling}, func(u string, ctx *specialist.AgentContext) (string, error) {
		seenHistory, _ = ctx.Metadata["conversation_history"].(string)
		return "ok", nil
	}))
	e := newEntryPoint(t, k)
	e.cfg.HistoryPruneConfig = &pruneContext.PruneConfig{
		Strategy:       pruneContext.PruneHardClear,
		MaxTokens:      30,
		SoftTrimRatio:  0.5,
		HardClearRatio: 0.8,
		PreserveSystem: true,
	}

	var history strings.Builder
	for i := 0; i < 30; i++ {
		history.WriteString("[USER]: padding line to burn through the history budget\n")
	}
	history.WriteString("[USER]: the actual most recent question")

	req := InboundRequest{Message: "remind me to call mom tomorrow", Metadata: InboundMetadata{ConversationHistory: history.String()}}
	if _, err := e.Handle(context.Background(), req, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seenHistory == history.String() {
		t.Fatal("expected the oversized history to be pruned before reaching the specialist")
	}
	if !strings.Contains(seenHistory, "the actual most recent question") {
		t.Fatalf("expected the most recent line to survive pruning, got %q", seenHistory)
	}
}

func TestHandle_PlainErrorAfterLastAllowedToolCallComposesAsFailed(t *testing.T) {
	k := newKernel(t, newStub(specialist.OpsPlanner, []specialist.CapabilityCategory{specialist.CapabilityScheduling}, func(u string, ctx *specialist.AgentContext) (string, error) {
		ctx.Budget.RecordToolCall("search")
		return "", errors.New("budget exceeded")
	}))
	e := newEntryPoint(t, k)
	e.cfg.MaxToolCalls = 1

	resp, err := e.Handle(context.Background(), InboundRequest{Message: "remind me to call mom tomorrow"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Metadata.CompletionStatus != kernel.StatusFailed {
		t.Fatalf("a plain error (not budget.Exceeded) should compose as failed, got %v", resp.Metadata.CompletionStatus)
	}
}

func TestHandle_DrainingRejectsNewRequests(t *testing.T) {
	k := newKernel(t, newStub(specialist.OpsPlanner, []specialist.CapabilityCategory{specialist.CapabilityScheduling}, nil))
	e := newEntryPoint(t, k)

	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
	_, err := e.Handle(context.Background(), InboundRequest{Message: "remind me to call mom tomorrow"}, "")
	if _, ok := err.(ErrDraining); !ok {
		t.Fatalf("expected ErrDraining after shutdown, got %v", err)
	}
}

func TestShutdown_WaitsForInFlightRequestsThenReturns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	k := newKernel(t, newStub(specialist.OpsPlanner, []specialist.CapabilityCategory{specialist.CapabilityScheduling}, func(u string, ctx *specialist.AgentContext) (string, error) {
		close(started)
		<-release
		return "ok", nil
	}))
	e := newEntryPoint(t, k)

	done := make(chan struct{})
	go func() {
		e.Handle(context.Background(), InboundRequest{Message: "remind me to call mom tomorrow"}, "")
		close(done)
	}()

	<-started
	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- e.Shutdown(context.Background())
	}()

	select {
	case <-shutdownDone:
		t.Fatal("expected Shutdown to block while a request is in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-done
	if err := <-shutdownDone; err != nil {
		t.Fatalf("expected Shutdown to complete cleanly once in-flight work finished, got %v", err)
	}
}

func TestShutdown_TimesOutIfRequestNeverFinishes(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	k := newKernel(t, newStub(specialist.OpsPlanner, []specialist.CapabilityCategory{specialist.CapabilityScheduling}, func(u string, ctx *specialist.AgentContext) (string, error) {
		close(started)
		<-release
		return "ok", nil
	}))
	e := newEntryPoint(t, k)
	e.cfg.ShutdownTimeout = 20 * time.Millisecond

	go e.Handle(context.Background(), InboundRequest{Message: "remind me to call mom tomorrow"}, "")
	<-started
	defer close(release)

	if err := e.Shutdown(context.Background()); err == nil {
		t.Fatal("expected Shutdown to time out while the request is still in flight")
	}
}
