// Package policy implements the tool gate: a deny-by-default allow-list,
// per-tool JSON-Schema-subset input validation, and output redaction before
// a tool result is allowed to enter the trace or any other sink.
package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ViolationType is the closed set of ways a tool call can fail policy.
type ViolationType string

const (
	ViolationToolNotAllowed      ViolationType = "tool_not_allowed"
	ViolationToolNotFound        ViolationType = "tool_not_found"
	ViolationAdminRequired       ViolationType = "admin_required"
	ViolationMissingRequired     ViolationType = "missing_required"
	ViolationAdditionalProperty  ViolationType = "additional_properties"
	ViolationTypeMismatch        ViolationType = "type_mismatch"
	ViolationConstraintViolation ViolationType = "constraint_violation"
)

// Violation describes a single policy failure. Expected/Actual are kept as
// `any` since they mirror whatever the schema and input held (a string, a
// number, a list of allowed enum values, and so on).
type Violation struct {
	Type     ViolationType
	ToolName string
	Message  string
	Field    string
	Expected any
	Actual   any
}

// Error lets a Violation be returned as a Go error directly.
type Error struct {
	Violation Violation
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Violation.Type, e.Violation.Message)
}

// ToolSchema is the JSON-Schema subset this gate understands: type,
// required, properties, additionalProperties, enum, minimum, maximum,
// minLength, maxLength, pattern. Represented as a generic map so policy
// documents can be loaded straight from JSON without a bespoke parser.
type ToolSchema = map[string]any

// ToolPolicy is one tool's configuration entry.
type ToolPolicy struct {
	Allowed       bool
	RequiresAdmin bool
	Schema        ToolSchema
	RedactFields  []string
}

// Settings are the gate-wide settings.
type Settings struct {
	DefaultAllow           bool
	StrictSchemaValidation bool
	LogRedactionEnabled    bool
}

// DefaultRedactPatterns is the closed set of case-insensitive substrings
// that mark a field name as sensitive regardless of per-tool configuration.
var DefaultRedactPatterns = []string{"password", "token", "api_key", "secret", "phone_number"}

// Gate is the tool policy engine: an allow-list of named tools plus global
// settings and redaction patterns. Safe for concurrent read-only use once
// constructed; policy documents are not expected to be mutated at runtime.
type Gate struct {
	settings       Settings
	tools          map[string]ToolPolicy
	blocked        map[string]string // tool name -> block reason
	redactPatterns []string
}

// New constructs a Gate from tool definitions, blocked tools (name -> block
// reason), and extra redaction patterns appended to DefaultRedactPatterns.
func New(settings Settings, tools map[string]ToolPolicy, blocked map[string]string, extraRedactPatterns []string) *Gate {
	if tools == nil {
		tools = make(map[string]ToolPolicy)
	}
	if blocked == nil {
		blocked = make(map[string]string)
	}
	patterns := append([]string{}, DefaultRedactPatterns...)
	patterns = append(patterns, extraRedactPatterns...)
	return &Gate{settings: settings, tools: tools, blocked: blocked, redactPatterns: patterns}
}

// IsToolAllowed reports whether a tool may be called at all, independent of
// per-call admin/schema checks.
func (g *Gate) IsToolAllowed(name string) bool {
	if _, blocked := g.blocked[name]; blocked {
		return false
	}
	if t, ok := g.tools[name]; ok {
		return t.Allowed
	}
	return g.settings.DefaultAllow
}

// RequiresAdmin reports whether the named tool requires an admin caller.
func (g *Gate) RequiresAdmin(name string) bool {
	if t, ok := g.tools[name]; ok {
		return t.RequiresAdmin
	}
	return false
}

// ValidateInput runs the full gate check for one call: block-list, allow-
// list, admin requirement, then schema validation. Returns nil when the
// call passes every check.
func (g *Gate) ValidateInput(toolName string, args map[string]any, isAdmin bool) *Violation {
	if reason, blocked := g.blocked[toolName]; blocked {
		if reason == "" {
			reason = "not permitted"
		}
		return &Violation{
			Type:     ViolationToolNotAllowed,
			ToolName: toolName,
			Message:  fmt.Sprintf("tool %q is blocked: %s", toolName, reason),
		}
	}

	if !g.IsToolAllowed(toolName) {
		return &Violation{
			Type:     ViolationToolNotFound,
			ToolName: toolName,
			Message:  fmt.Sprintf("tool %q is not in the allow-list", toolName),
		}
	}

	if g.RequiresAdmin(toolName) && !isAdmin {
		return &Violation{
			Type:     ViolationAdminRequired,
			ToolName: toolName,
			Message:  fmt.Sprintf("tool %q requires admin permissions", toolName),
		}
	}

	tool, ok := g.tools[toolName]
	if !ok {
		if g.settings.DefaultAllow {
			return nil
		}
		return &Violation{
			Type:     ViolationToolNotFound,
			ToolName: toolName,
			Message:  fmt.Sprintf("tool %q not found in policy", toolName),
		}
	}

	if tool.Schema == nil || !g.settings.StrictSchemaValidation {
		return nil
	}
	return validateSchema(toolName, args, tool.Schema, "")
}

// ValidateAndRaise is ValidateInput but returns a *Error ready to propagate
// as the INPUT_POLICY_VIOLATION signal, matching the call sites that want a
// plain Go error rather than an optional violation.
func (g *Gate) ValidateAndRaise(toolName string, args map[string]any, isAdmin bool) error {
	if v := g.ValidateInput(toolName, args, isAdmin); v != nil {
		return &Error{Violation: *v}
	}
	return nil
}

// validateSchema walks the schema breadth-first: required fields first,
// then additionalProperties, then each declared field's own constraints in
// sorted-key order so validation is deterministic. Returns the first
// violation found.
func validateSchema(toolName string, data map[string]any, schema ToolSchema, path string) *Violation {
	required, _ := schema["required"].([]any)
	for _, rf := range required {
		name, _ := rf.(string)
		if _, present := data[name]; !present {
			fieldPath := joinPath(path, name)
			return &Violation{
				Type:     ViolationMissingRequired,
				ToolName: toolName,
				Message:  fmt.Sprintf("missing required field: %s", fieldPath),
				Field:    fieldPath,
				Expected: "present",
				Actual:   "missing",
			}
		}
	}

	properties, _ := schema["properties"].(map[string]any)

	if additional, ok := schema["additionalProperties"].(bool); ok && !additional {
		allowed := make(map[string]bool, len(properties))
		for k := range properties {
			allowed[k] = true
		}
		keys := sortedKeys(data)
		for _, k := range keys {
			if !allowed[k] {
				fieldPath := joinPath(path, k)
				return &Violation{
					Type:     ViolationAdditionalProperty,
					ToolName: toolName,
					Message:  fmt.Sprintf("additional property not allowed: %s", fieldPath),
					Field:    fieldPath,
					Expected: sortedKeys(properties),
					Actual:   k,
				}
			}
		}
	}

	for _, fieldName := range sortedKeys(data) {
		fieldSchema, ok := properties[fieldName].(map[string]any)
		if !ok {
			continue
		}
		fieldPath := joinPath(path, fieldName)
		if v := validateField(toolName, fieldName, data[fieldName], fieldSchema, fieldPath); v != nil {
			return v
		}
	}

	return nil
}

func validateField(toolName, fieldName string, value any, schema ToolSchema, path string) *Violation {
	if expected, ok := schema["type"]; ok {
		if !checkType(value, expected) {
			return &Violation{
				Type:     ViolationTypeMismatch,
				ToolName: toolName,
				Message:  fmt.Sprintf("field %q has wrong type: expected %v, got %s", path, expected, goTypeName(value)),
				Field:    path,
				Expected: expected,
				Actual:   goTypeName(value),
			}
		}
	}

	if enum, ok := schema["enum"].([]any); ok {
		matched := false
		for _, e := range enum {
			if e == value {
				matched = true
				break
			}
		}
		if !matched {
			return &Violation{
				Type:     ViolationConstraintViolation,
				ToolName: toolName,
				Message:  fmt.Sprintf("field %q must be one of %v, got %v", path, enum, value),
				Field:    path,
				Expected: enum,
				Actual:   value,
			}
		}
	}

	if s, ok := value.(string); ok {
		if minLen, ok := numberOf(schema["minLength"]); ok && float64(len(s)) < minLen {
			return &Violation{Type: ViolationConstraintViolation, ToolName: toolName,
				Message: fmt.Sprintf("field %q too short: minimum %v, got %d", path, schema["minLength"], len(s)),
				Field:   path, Expected: fmt.Sprintf("minLength=%v", schema["minLength"]), Actual: len(s)}
		}
		if maxLen, ok := numberOf(schema["maxLength"]); ok && float64(len(s)) > maxLen {
			return &Violation{Type: ViolationConstraintViolation, ToolName: toolName,
				Message: fmt.Sprintf("field %q too long: maximum %v, got %d", path, schema["maxLength"], len(s)),
				Field:   path, Expected: fmt.Sprintf("maxLength=%v", schema["maxLength"]), Actual: len(s)}
		}
		if pattern, ok := schema["pattern"].(string); ok {
			re, err := regexp.Compile(pattern)
			if err == nil && !re.MatchString(s) {
				return &Violation{Type: ViolationConstraintViolation, ToolName: toolName,
					Message: fmt.Sprintf("field %q does not match pattern: %s", path, pattern),
					Field:   path, Expected: fmt.Sprintf("pattern=%s", pattern), Actual: s}
			}
		}
	}

	if n, ok := numberOf(value); ok {
		if _, isBool := value.(bool); !isBool {
			if minV, ok := numberOf(schema["minimum"]); ok && n < minV {
				return &Violation{Type: ViolationConstraintViolation, ToolName: toolName,
					Message: fmt.Sprintf("field %q below minimum: %v, got %v", path, schema["minimum"], value),
					Field:   path, Expected: fmt.Sprintf("minimum=%v", schema["minimum"]), Actual: value}
			}
			if maxV, ok := numberOf(schema["maximum"]); ok && n > maxV {
				return &Violation{Type: ViolationConstraintViolation, ToolName: toolName,
					Message: fmt.Sprintf("field %q above maximum: %v, got %v", path, schema["maximum"], value),
					Field:   path, Expected: fmt.Sprintf("maximum=%v", schema["maximum"]), Actual: value}
			}
		}
	}

	return nil
}

// checkType supports a single type name or an array of acceptable type
// names. Booleans are never acceptable where "integer" or "number" is
// expected, even though Go's dynamic JSON decoding would otherwise treat
// them as interchangeable numeric-ish values.
func checkType(value any, expected any) bool {
	if list, ok := expected.([]any); ok {
		for _, t := range list {
			if checkType(value, t) {
				return true
			}
		}
		return false
	}
	name, ok := expected.(string)
	if !ok {
		return true
	}
	switch name {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		if _, isBool := value.(bool); isBool {
			return false
		}
		n, ok := numberOf(value)
		return ok && n == float64(int64(n))
	case "number":
		if _, isBool := value.(bool); isBool {
			return false
		}
		_, ok := numberOf(value)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "null":
		return value == nil
	default:
		return true
	}
}

// numberOf normalizes the handful of numeric representations that show up
// once arguments have been through JSON decoding (float64) versus
// hand-built test fixtures (int).
func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func goTypeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case nil:
		return "null"
	default:
		if _, ok := numberOf(v); ok {
			return "number"
		}
		return fmt.Sprintf("%T", v)
	}
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RedactOutput returns a deep-copied version of value with every field
// whose name is tool-specific-listed or matches a global redact pattern
// replaced by the literal string "[REDACTED]". The original tree is left
// untouched.
func (g *Gate) RedactOutput(toolName string, value any) any {
	if !g.settings.LogRedactionEnabled {
		return value
	}
	toolFields := make(map[string]bool)
	if t, ok := g.tools[toolName]; ok {
		for _, f := range t.RedactFields {
			toolFields[f] = true
		}
	}
	return redactRecursive(value, toolFields, g.redactPatterns)
}

func redactRecursive(data any, toolFields map[string]bool, patterns []string) any {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			if toolFields[key] || matchesPattern(key, patterns) {
				out[key] = "[REDACTED]"
			} else {
				out[key] = redactRecursive(val, toolFields, patterns)
			}
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redactRecursive(item, toolFields, patterns)
		}
		return out
	default:
		return data
	}
}

func matchesPattern(fieldName string, patterns []string) bool {
	lower := strings.ToLower(fieldName)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
