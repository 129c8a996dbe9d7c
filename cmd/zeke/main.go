// Command zeke boots the orchestration core as a standalone process: it
// wires configuration, storage, the bridge to the external specialist
// workers, and the request entry point together, then waits for a signal
// to drain in-flight requests and exit.
//
// This binary only assembles the core described by this module; the HTTP
// surface, the specialist workers' own business logic, and the sibling
// bridge process are external collaborators started elsewhere.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Johnsonbros/Zeke-sub000/internal/application/entrypoint"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/eviction"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/intent"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/kernel"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/memorystore"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/resilience"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/specialist"
	"github.com/Johnsonbros/Zeke-sub000/internal/domain/trace"
	"github.com/Johnsonbros/Zeke-sub000/internal/infrastructure/bridge"
	"github.com/Johnsonbros/Zeke-sub000/internal/infrastructure/config"
	"github.com/Johnsonbros/Zeke-sub000/internal/infrastructure/embedding"
	"github.com/Johnsonbros/Zeke-sub000/internal/infrastructure/logger"
	"github.com/Johnsonbros/Zeke-sub000/internal/infrastructure/persistence"
)

const appName = "zeke-core"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Println(appName)
			return
		case "help", "--help", "-h":
			fmt.Println("usage: zeke")
			fmt.Println("runs the orchestration core until SIGINT/SIGTERM, then drains in-flight requests")
			return
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	// Neither the LLM classifier provider nor the outer HTTP layer is
	// wired by this binary, so neither conditionally-required variable
	// applies here.
	if err := cfg.Validate(config.RequireOptions{}); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	outputPath := "stdout"
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "create log dir: %v\n", err)
			os.Exit(1)
		}
		outputPath = filepath.Join(cfg.LogDir, appName+".log")
	}
	log, err := logger.NewLogger(logger.Config{Level: cfg.LogLevel, Format: "json", OutputPath: outputPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ep, daemon, err := bootstrap(cfg, log)
	if err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}
	daemon.Start()

	log.Info("zeke core started", zap.String("memory_db", cfg.MemoryDB))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining in-flight requests")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		log.Warn("shutdown did not complete cleanly", zap.Error(err))
	}
}

// bootstrap assembles every collaborator the entry point needs: storage,
// the memory substrate, the bridge to external specialist workers, the
// kernel, and the eviction daemon. Split out from main so tests can drive
// it against an in-memory sqlite dialect without touching os.Args/signals.
func bootstrap(cfg *config.Config, log *zap.Logger) (*entrypoint.EntryPoint, *eviction.Daemon, error) {
	dialect, dsn := persistence.DialectSQLite, cfg.MemoryDB
	if dsn == "" {
		dsn = "zeke.db"
	}
	if cfg.DatabaseURL != "" {
		dialect, dsn = persistence.DialectPostgres, cfg.DatabaseURL
	}
	db, err := persistence.NewDBConnection(dialect, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	var embedder memorystore.EmbeddingProvider
	if cfg.EmbedModel != "" {
		ollamaURL := os.Getenv("OLLAMA_BASE_URL")
		if ollamaURL == "" {
			ollamaURL = "http://localhost:11434"
		}
		e, err := embedding.NewOllamaEmbedder(ollamaURL, cfg.EmbedModel, log)
		if err != nil {
			log.Warn("ollama embedder unavailable, memory search degrades to full-text only", zap.Error(err))
		} else {
			embedder = e
		}
	}

	weights := memorystore.SearchWeights{FTS: cfg.MemFTSWeight, Vector: cfg.MemVectorWeight}
	store := memorystore.New(db, embedder, weights, log)
	if err := store.Initialize(); err != nil {
		return nil, nil, fmt.Errorf("initialize memory store: %w", err)
	}

	daemon := eviction.New(store, eviction.Config{
		GlobalMaxRows: cfg.MemoryMaxRows,
		Enabled:       true,
	}, log)

	circuitCfg := resilience.Config{FailThreshold: cfg.CBFailThreshold, CooldownSec: float64(cfg.CBCooldownSec)}
	circuits := resilience.NewRegistry(circuitCfg)

	bridgeClient := bridge.New(bridge.Config{
		BaseURL: cfg.NodeBridgeURL,
		APIKey:  cfg.InternalBridgeKey,
	}, circuits, log)

	registry := buildSpecialistRegistry(bridgeClient)

	traceLog := trace.NewLogger(log)
	k := kernel.New(registry, traceLog, kernel.WithBridgeFallback(bridgeClient.Call), kernel.WithZapLogger(log))

	router := intent.NewDefaultRouter()

	epCfg := entrypoint.DefaultConfig()
	epCfg.MaxToolCalls = cfg.RunMaxToolCalls
	epCfg.TimeoutSeconds = cfg.RunMaxSeconds

	// No LLM classifier provider is wired: the fast pattern router handles
	// every request on its own, and ambiguous utterances fall through to
	// whatever category it defaults to rather than an LLM refinement call.
	// A Provider can be supplied here once a concrete LLM client exists.
	ep := entrypoint.New(router, nil, k, traceLog, epCfg, entrypoint.WithMemorySearcher(store), entrypoint.WithZapLogger(log))

	return ep, daemon, nil
}

// buildSpecialistRegistry registers all seven specialists as bridge
// clients reaching the external worker process. Their handoff topology
// mirrors the category table's natural flow: the conductor can route to
// any of the other six, the sensitive-category specialists can escalate
// to the safety auditor, and the auditor itself is a terminal hop.
func buildSpecialistRegistry(client *bridge.Client) *specialist.Registry {
	registry := specialist.NewRegistry()

	registry.Register(bridge.NewSpecialist(specialist.Conductor, "Conductor", "Top-level dispatcher for system-category requests and multi-agent coordination.",
		[]specialist.CapabilityCategory{specialist.CapabilitySystem},
		[]specialist.ID{specialist.MemoryCurator, specialist.CommsPilot, specialist.OpsPlanner, specialist.ResearchScout, specialist.PersonalDataSteward, specialist.SafetyAuditor},
		client))

	registry.Register(bridge.NewSpecialist(specialist.MemoryCurator, "Memory Curator", "Reads and writes durable facts in the long-term memory substrate.",
		[]specialist.CapabilityCategory{specialist.CapabilityMemory},
		[]specialist.ID{specialist.CommsPilot, specialist.SafetyAuditor},
		client))

	registry.Register(bridge.NewSpecialist(specialist.CommsPilot, "Comms Pilot", "Sends messages and manages communication-category requests.",
		[]specialist.CapabilityCategory{specialist.CapabilityCommunication},
		[]specialist.ID{specialist.SafetyAuditor},
		client))

	registry.Register(bridge.NewSpecialist(specialist.OpsPlanner, "Ops Planner", "Handles scheduling, task management, and grocery-list requests.",
		[]specialist.CapabilityCategory{specialist.CapabilityScheduling, specialist.CapabilityTaskManagement, specialist.CapabilityGrocery},
		[]specialist.ID{specialist.ResearchScout, specialist.SafetyAuditor},
		client))

	registry.Register(bridge.NewSpecialist(specialist.ResearchScout, "Research Scout", "Answers information-lookup requests.",
		[]specialist.CapabilityCategory{specialist.CapabilityInformation},
		[]specialist.ID{specialist.OpsPlanner},
		client))

	registry.Register(bridge.NewSpecialist(specialist.PersonalDataSteward, "Personal Data Steward", "Owns profile-category requests: preferences, identity, and personal facts.",
		[]specialist.CapabilityCategory{specialist.CapabilityProfile},
		[]specialist.ID{specialist.SafetyAuditor},
		client))

	registry.Register(bridge.NewSpecialist(specialist.SafetyAuditor, "Safety Auditor", "Final review hop appended to every sensitive-category dispatch.",
		nil,
		nil,
		client))

	registry.Seal()
	return registry
}
