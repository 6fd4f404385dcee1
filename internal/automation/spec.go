package automation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tree operators.
const (
	OperatorAnd = "and"
	OperatorOr  = "or"
)

// ConditionTree is a boolean expression over predicate leaves. Rules may be
// leaves or nested subtrees (an entry carrying an "operator" key recurses).
type ConditionTree struct {
	Operator string          `json:"operator"`
	Rules    []ConditionSpec `json:"rules"`
}

// Empty reports whether the tree matches vacuously.
func (t *ConditionTree) Empty() bool {
	return t == nil || len(t.Rules) == 0
}

// ConditionSpec is one predicate leaf: {type, operator?, value?, ...}.
// Unknown keys are kept so custom predicates can carry their own fields.
type ConditionSpec map[string]any

// ActionSpec is one executor entry: {type, ...}.
type ActionSpec map[string]any

// ParseConditions decodes the JSON condition document stored on a rule.
// Empty input yields a nil tree (vacuous match).
func ParseConditions(raw string) (*ConditionTree, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" || raw == "{}" {
		return nil, nil
	}
	var tree ConditionTree
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		return nil, fmt.Errorf("parse conditions: %w", err)
	}
	return &tree, nil
}

// ParseActions decodes the JSON action list stored on a rule.
func ParseActions(raw string) ([]ActionSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" || raw == "[]" {
		return nil, nil
	}
	var actions []ActionSpec
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		return nil, fmt.Errorf("parse actions: %w", err)
	}
	return actions, nil
}

// Type returns the spec's dispatch key.
func (s ConditionSpec) Type() string { return stringValue(s["type"]) }

// Operator returns the comparison operator, empty when absent.
func (s ConditionSpec) Operator() string { return stringValue(s["operator"]) }

// Subtree returns the spec reinterpreted as a nested condition group when it
// carries an "operator" key, nil otherwise.
func (s ConditionSpec) Subtree() *ConditionTree {
	op, ok := s["operator"].(string)
	if !ok {
		return nil
	}
	rawRules, ok := s["rules"]
	if !ok {
		return nil
	}
	items, ok := rawRules.([]any)
	if !ok {
		return nil
	}
	tree := &ConditionTree{Operator: op}
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			tree.Rules = append(tree.Rules, ConditionSpec(m))
		}
	}
	return tree
}

// String returns the given key as a string, empty when absent or mistyped.
func (s ConditionSpec) String(key string) string { return stringValue(s[key]) }

// Number returns the given key as a float64.
func (s ConditionSpec) Number(key string) (float64, bool) { return numberValue(s[key]) }

// Uint returns the given key as an id.
func (s ConditionSpec) Uint(key string) (uint, bool) { return uintValue(s[key]) }

// Bool returns the given key as a bool, defaulting to false.
func (s ConditionSpec) Bool(key string) bool { return boolValue(s[key]) }

// Strings returns the given key as a string list; a scalar string becomes a
// one-element list.
func (s ConditionSpec) Strings(key string) []string { return stringsValue(s[key]) }

// Value returns the raw comparison value.
func (s ConditionSpec) Value() any { return s["value"] }

// Type returns the action's dispatch key.
func (s ActionSpec) Type() string { return stringValue(s["type"]) }

// String returns the given key as a string, empty when absent or mistyped.
func (s ActionSpec) String(key string) string { return stringValue(s[key]) }

// Number returns the given key as a float64.
func (s ActionSpec) Number(key string) (float64, bool) { return numberValue(s[key]) }

// Uint returns the given key as an id.
func (s ActionSpec) Uint(key string) (uint, bool) { return uintValue(s[key]) }

// Strings returns the given key as a string list.
func (s ActionSpec) Strings(key string) []string { return stringsValue(s[key]) }

// Map returns the given key as a nested object.
func (s ActionSpec) Map(key string) map[string]any {
	if m, ok := s[key].(map[string]any); ok {
		return m
	}
	return nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func uintValue(v any) (uint, bool) {
	n, ok := numberValue(v)
	if !ok || n < 0 {
		return 0, false
	}
	return uint(n), true
}

func boolValue(v any) bool {
	b, _ := v.(bool)
	return b
}

func stringsValue(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Stringify renders a metadata or comparison value for loose string compare.
// Maps and lists are JSON-encoded, nil becomes the empty string.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	case float64:
		// JSON numbers decode as float64; render integral values without
		// the trailing ".0" so they compare equal to their string form.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprint(val)
	}
}
