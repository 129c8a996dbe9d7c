package config

import (
	"strings"
	"testing"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.LogLevel)
	}
	if cfg.MemoryMaxRows != 20000 {
		t.Fatalf("expected default memory max rows 20000, got %d", cfg.MemoryMaxRows)
	}
	if cfg.RunMaxToolCalls != 50 {
		t.Fatalf("expected default run max tool calls 50, got %d", cfg.RunMaxToolCalls)
	}
	if cfg.RunMaxSeconds != 300 {
		t.Fatalf("expected default run max seconds 300, got %v", cfg.RunMaxSeconds)
	}
	if cfg.MemFTSWeight != 0.4 || cfg.MemVectorWeight != 0.6 {
		t.Fatalf("expected default search weights 0.4/0.6, got %v/%v", cfg.MemFTSWeight, cfg.MemVectorWeight)
	}
}

func TestValidate_NoRequirementsPasses(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(RequireOptions{}); err != nil {
		t.Fatalf("expected no error when no outer surface is required, got %v", err)
	}
}

func TestValidate_ReportsAllMissingInOneMessage(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate(RequireOptions{LLM: true, HTTP: true})
	if err == nil {
		t.Fatal("expected an error when both LLM and HTTP vars are required but unset")
	}
	msg := err.Error()
	if !strings.Contains(msg, "OPENAI_API_KEY") || !strings.Contains(msg, "JWT_SECRET") {
		t.Fatalf("expected both missing vars named in the message, got %q", msg)
	}
}

func TestValidate_PassesWhenRequiredVarsPresent(t *testing.T) {
	cfg := &Config{OpenAIAPIKey: "sk-test", JWTSecret: "secret"}
	if err := cfg.Validate(RequireOptions{LLM: true, HTTP: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
