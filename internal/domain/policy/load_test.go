package policy

import "testing"

const sampleDocument = `{
  "settings": {"default_allow": false, "strict_schema_validation": true, "log_redaction_enabled": true},
  "redact_patterns": ["ssn"],
  "tools": {
    "search_memory": {
      "allowed": true,
      "requires_admin": false,
      "redact_output": ["raw_query"],
      "schema": {"type": "object", "required": ["query"], "properties": {"query": {"type": "string"}}}
    },
    "delete_account": {"allowed": true, "requires_admin": true}
  },
  "blocked_tools": {
    "shell_exec": {"reason": "no shell access in this deployment"}
  }
}`

func TestLoad_BuildsGateFromDocument(t *testing.T) {
	g, err := Load([]byte(sampleDocument))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !g.IsToolAllowed("search_memory") {
		t.Fatal("expected search_memory allowed")
	}
	if g.IsToolAllowed("shell_exec") {
		t.Fatal("expected shell_exec blocked")
	}
	if g.IsToolAllowed("unknown_tool") {
		t.Fatal("expected an undeclared tool denied under default_allow=false")
	}
	if !g.RequiresAdmin("delete_account") {
		t.Fatal("expected delete_account to require admin")
	}
	if v := g.ValidateInput("search_memory", map[string]any{}, false); v == nil {
		t.Fatal("expected missing required field 'query' to fail validation")
	}
}

func TestLoad_RejectsMalformedJSON(t *testing.T) {
	if _, err := Load([]byte("not json")); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestLoadFile_MissingFileReturnsError(t *testing.T) {
	if _, err := LoadFile("/nonexistent/path/tools.json"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
