package policy

import (
	"encoding/json"
	"fmt"
	"os"
)

// document is the on-disk shape of a tool policy file: a settings block,
// a list of extra redaction substrings, a map of allowed-tool
// configuration, and a map of outright-blocked tools.
type document struct {
	Settings struct {
		DefaultAllow           bool `json:"default_allow"`
		StrictSchemaValidation bool `json:"strict_schema_validation"`
		LogRedactionEnabled    bool `json:"log_redaction_enabled"`
	} `json:"settings"`
	RedactPatterns []string `json:"redact_patterns"`
	Tools          map[string]struct {
		Allowed       bool       `json:"allowed"`
		RequiresAdmin bool       `json:"requires_admin"`
		RedactOutput  []string   `json:"redact_output"`
		Schema        ToolSchema `json:"schema"`
	} `json:"tools"`
	BlockedTools map[string]struct {
		Reason string `json:"reason"`
	} `json:"blocked_tools"`
}

// LoadFile reads a tool policy JSON document from path and builds a Gate
// from it.
func LoadFile(path string) (*Gate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool policy file %s: %w", path, err)
	}
	return Load(data)
}

// Load builds a Gate from a tool policy JSON document already in memory.
func Load(data []byte) (*Gate, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tool policy document: %w", err)
	}

	settings := Settings{
		DefaultAllow:           doc.Settings.DefaultAllow,
		StrictSchemaValidation: doc.Settings.StrictSchemaValidation,
		LogRedactionEnabled:    doc.Settings.LogRedactionEnabled,
	}

	tools := make(map[string]ToolPolicy, len(doc.Tools))
	for name, t := range doc.Tools {
		tools[name] = ToolPolicy{
			Allowed:       t.Allowed,
			RequiresAdmin: t.RequiresAdmin,
			Schema:        t.Schema,
			RedactFields:  t.RedactOutput,
		}
	}

	blocked := make(map[string]string, len(doc.BlockedTools))
	for name, b := range doc.BlockedTools {
		blocked[name] = b.Reason
	}

	return New(settings, tools, blocked, doc.RedactPatterns), nil
}
