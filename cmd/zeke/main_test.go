package main

import (
	"testing"

	"go.uber.org/zap"

	"github.com/Johnsonbros/Zeke-sub000/internal/domain/specialist"
	"github.com/Johnsonbros/Zeke-sub000/internal/infrastructure/config"
)

func TestBootstrap_WiresCoreWithoutError(t *testing.T) {
	cfg := &config.Config{
		MemoryDB:        ":memory:",
		RunMaxToolCalls: 10,
		RunMaxSeconds:   30,
		CBFailThreshold: 5,
		CBCooldownSec:   60,
		MemFTSWeight:    0.4,
		MemVectorWeight: 0.6,
		MemoryMaxRows:   1000,
		NodeBridgeURL:   "http://127.0.0.1:0",
	}

	ep, daemon, err := bootstrap(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected bootstrap error: %v", err)
	}
	if ep == nil {
		t.Fatal("expected a non-nil entry point")
	}
	if daemon == nil {
		t.Fatal("expected a non-nil eviction daemon")
	}
}

func TestBuildSpecialistRegistry_RegistersAllSevenSpecialists(t *testing.T) {
	registry := buildSpecialistRegistry(nil)
	for _, id := range specialist.AllIDs {
		if _, ok := registry.Get(id); !ok {
			t.Fatalf("expected specialist %s to be registered", id)
		}
	}
}
