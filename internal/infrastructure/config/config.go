// Package config loads the process-wide configuration from environment
// variables, layered through viper the same way the source lineage layers
// config.yaml files: defaults first, then whatever the environment
// supplies.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full set of environment variables this process reads,
// bound through viper rather than read with bare os.Getenv so every other
// ambient concern in this repo (logging, the memory store's search
// weights, the run budget's defaults) is configured the same way.
type Config struct {
	OpenAIAPIKey      string
	DatabaseURL       string
	JWTSecret         string
	LogLevel          string
	MemoryDB          string
	EmbedModel        string
	MemoryMaxRows     int
	RunMaxToolCalls   int
	RunMaxSeconds     float64
	CBFailThreshold   int
	CBCooldownSec     int
	MemTTLTransient   int64
	MemTTLSession     int64
	LogDir            string
	InternalBridgeKey string
	NodeBridgeURL     string
	MemFTSWeight      float64
	MemVectorWeight   float64
}

// Load reads Config from the environment, applying defaults for anything
// not set. It never fails on a missing value by itself — see Validate for
// the fail-fast required-variable check, which depends on which outer
// surfaces (LLM provider, HTTP layer) the caller is actually wiring up.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("")
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	return &Config{
		OpenAIAPIKey:      v.GetString("OPENAI_API_KEY"),
		DatabaseURL:       v.GetString("DATABASE_URL"),
		JWTSecret:         v.GetString("JWT_SECRET"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		MemoryDB:          v.GetString("MEMORY_DB"),
		EmbedModel:        v.GetString("EMBED_MODEL"),
		MemoryMaxRows:     v.GetInt("MEMORY_MAX_ROWS"),
		RunMaxToolCalls:   v.GetInt("RUN_MAX_TOOL_CALLS"),
		RunMaxSeconds:     v.GetFloat64("RUN_MAX_SECONDS"),
		CBFailThreshold:   v.GetInt("CB_FAIL_THRESHOLD"),
		CBCooldownSec:     v.GetInt("CB_COOLDOWN_SEC"),
		MemTTLTransient:   v.GetInt64("MEM_TTL_TRANSIENT"),
		MemTTLSession:     v.GetInt64("MEM_TTL_SESSION"),
		LogDir:            v.GetString("LOG_DIR"),
		InternalBridgeKey: v.GetString("INTERNAL_BRIDGE_KEY"),
		NodeBridgeURL:     v.GetString("NODE_BRIDGE_URL"),
		MemFTSWeight:      v.GetFloat64("MEM_FTS_WEIGHT"),
		MemVectorWeight:   v.GetFloat64("MEM_VECTOR_WEIGHT"),
	}, nil
}

// envKeys lists every variable Load binds, used both for BindEnv and for
// Validate's missing-variable report.
var envKeys = []string{
	"OPENAI_API_KEY", "DATABASE_URL", "JWT_SECRET", "LOG_LEVEL", "MEMORY_DB",
	"EMBED_MODEL", "MEMORY_MAX_ROWS", "RUN_MAX_TOOL_CALLS", "RUN_MAX_SECONDS",
	"CB_FAIL_THRESHOLD", "CB_COOLDOWN_SEC", "MEM_TTL_TRANSIENT", "MEM_TTL_SESSION",
	"LOG_DIR", "INTERNAL_BRIDGE_KEY", "NODE_BRIDGE_URL", "MEM_FTS_WEIGHT", "MEM_VECTOR_WEIGHT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MEMORY_MAX_ROWS", 20000)
	v.SetDefault("RUN_MAX_TOOL_CALLS", 50)
	v.SetDefault("RUN_MAX_SECONDS", 300)
	v.SetDefault("CB_FAIL_THRESHOLD", 5)
	v.SetDefault("CB_COOLDOWN_SEC", 60)
	v.SetDefault("MEM_TTL_TRANSIENT", 129600)
	v.SetDefault("MEM_TTL_SESSION", 604800)
	v.SetDefault("MEM_FTS_WEIGHT", 0.4)
	v.SetDefault("MEM_VECTOR_WEIGHT", 0.6)
}

// RequireOptions selects which conditionally-required variables apply to
// the binary calling Validate: the core library alone requires none of
// them (each one is only needed by an outer surface this process may or
// may not wire up), so a process running only the in-process kernel can
// skip both.
type RequireOptions struct {
	LLM  bool // requires OPENAI_API_KEY
	HTTP bool // requires JWT_SECRET
}

// Validate fails fast with a single multi-line message listing every
// missing required variable, rather than surfacing them one at a time as
// each dependent component tries to start.
func (c *Config) Validate(opts RequireOptions) error {
	var missing []string
	if opts.LLM && c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if opts.HTTP && c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("missing required environment variables:\n")
	for _, name := range missing {
		b.WriteString("  - " + name + "\n")
	}
	return fmt.Errorf("%s", b.String())
}
