// Package registry loads the frozen tool catalogue once at startup and
// exposes read-only accessors. Mirrors the Source-of-Truth shape of
// the teacher's pkg/registry, adapted from a mutable, rollout-aware
// module registry to GEM's immutable, process-lifetime tool catalogue.
package registry

import (
	"errors"
	"fmt"

	"github.com/callkaidsroofing/gem/pkg/contracts"
)

// ErrToolNotFound is returned by Get when name isn't in the catalogue.
var ErrToolNotFound = errors.New("registry: tool not found")

// Registry is the immutable, process-lifetime tool catalogue.
type Registry struct {
	tools map[string]contracts.Tool
	order []string
}

// Get returns the tool definition for name, or ErrToolNotFound.
func (r *Registry) Get(name string) (contracts.Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return contracts.Tool{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t, nil
}

// All returns every registered tool in declaration order.
func (r *Registry) All() []contracts.Tool {
	out := make([]contracts.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// NewFromTools builds a frozen Registry, rejecting the document if any
// invariant from §4.1 is violated: missing required fields, duplicate
// names, a keyed tool without key_field, or a structurally invalid schema.
func NewFromTools(tools []contracts.Tool) (*Registry, error) {
	seen := make(map[string]bool, len(tools))
	r := &Registry{tools: make(map[string]contracts.Tool, len(tools))}

	for i, t := range tools {
		if err := validateTool(t); err != nil {
			return nil, fmt.Errorf("registry: tool[%d] %q: %w", i, t.Name, err)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("registry: duplicate tool name %q", t.Name)
		}
		seen[t.Name] = true
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r, nil
}

func validateTool(t contracts.Tool) error {
	if t.Name == "" {
		return errors.New("missing name")
	}
	if !isDottedName(t.Name) {
		return fmt.Errorf("name %q must be domain.method or domain.sub.method", t.Name)
	}
	if t.Description == "" {
		return errors.New("missing description")
	}
	if t.InputSchema == nil {
		return errors.New("missing input_schema")
	}
	if t.OutputSchema == nil {
		return errors.New("missing output_schema")
	}
	if t.TimeoutMS <= 0 {
		return errors.New("timeout_ms must be a positive integer")
	}
	switch t.Idempotency.Mode {
	case contracts.IdempotencyNone, contracts.IdempotencySafeRetry:
		// no further constraint
	case contracts.IdempotencyKeyed:
		if t.Idempotency.KeyField == "" {
			return errors.New("idempotency.mode = keyed requires key_field")
		}
	default:
		return fmt.Errorf("unknown idempotency.mode %q", t.Idempotency.Mode)
	}
	if err := validateSchemaShape(t.InputSchema); err != nil {
		return fmt.Errorf("input_schema: %w", err)
	}
	if err := validateSchemaShape(t.OutputSchema); err != nil {
		return fmt.Errorf("output_schema: %w", err)
	}
	return nil
}

// validateSchemaShape does a light structural sanity pass: when a schema
// declares properties at all, they must be a map, and required must list
// only declared properties. The schema's type keyword is not checked.
func validateSchemaShape(s map[string]any) error {
	props, hasProps := s["properties"]
	if !hasProps {
		return nil
	}
	propsMap, ok := props.(map[string]any)
	if !ok {
		return errors.New("properties must be an object")
	}
	required := toStringSlice(s["required"])
	for _, name := range required {
		if _, ok := propsMap[name]; !ok {
			return fmt.Errorf("required field %q is not declared in properties", name)
		}
	}
	return nil
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func isDottedName(name string) bool {
	parts := splitDots(name)
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

func splitDots(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
