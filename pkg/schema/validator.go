// Package schema implements a small, conformant subset of JSON-Schema
// validation: type, required, enum, additionalProperties, format:date-time,
// and numeric/string bounds. Per the design note this is deliberately
// hand-rolled rather than a full draft-compliant engine — the registry's
// schemas only ever need this much, and a full validator would hide the
// structured, path-carrying errors the Router and Worker depend on.
package schema

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ValidationError is the machine-readable verdict of a failed Validate call.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Result is the outcome of a Validate call.
type Result struct {
	Valid bool             `json:"valid"`
	Error *ValidationError `json:"error,omitempty"`
}

// Validate checks payload against a JSON-Schema-equivalent document drawn
// from the registry. The schema is the generic map[string]any shape the
// registry stores tool input_schema/output_schema as.
func Validate(s map[string]any, payload map[string]any) Result {
	if err := validateObject("", s, payload); err != nil {
		return Result{Valid: false, Error: err}
	}
	return Result{Valid: true}
}

func validateObject(path string, s map[string]any, payload map[string]any) *ValidationError {
	if payload == nil {
		payload = map[string]any{}
	}

	props, _ := s["properties"].(map[string]any)
	required, _ := s["required"].([]string)
	if required == nil {
		if reqAny, ok := s["required"].([]any); ok {
			for _, r := range reqAny {
				if str, ok := r.(string); ok {
					required = append(required, str)
				}
			}
		}
	}

	for _, name := range required {
		if _, ok := payload[name]; !ok {
			return &ValidationError{
				Path:    joinPath(path, name),
				Message: fmt.Sprintf("required field %q is missing", name),
			}
		}
	}

	additionalAllowed := false
	if v, ok := s["additionalProperties"]; ok {
		if b, ok := v.(bool); ok {
			additionalAllowed = b
		}
	}
	if !additionalAllowed && props != nil {
		for name := range payload {
			if _, declared := props[name]; !declared {
				return &ValidationError{
					Path:    joinPath(path, name),
					Message: fmt.Sprintf("unknown field %q not permitted (additionalProperties: false)", name),
				}
			}
		}
	}

	for name, rawFieldSchema := range props {
		fieldSchema, ok := rawFieldSchema.(map[string]any)
		if !ok {
			continue
		}
		val, present := payload[name]
		if !present {
			continue
		}
		if err := validateField(joinPath(path, name), fieldSchema, val); err != nil {
			return err
		}
	}

	return nil
}

func validateField(path string, s map[string]any, val any) *ValidationError {
	if enum, ok := s["enum"].([]any); ok {
		matched := false
		for _, e := range enum {
			if fmt.Sprintf("%v", e) == fmt.Sprintf("%v", val) {
				matched = true
				break
			}
		}
		if !matched {
			return &ValidationError{Path: path, Message: fmt.Sprintf("value %v is not one of %v", val, enum)}
		}
	}

	typ, _ := s["type"].(string)
	switch typ {
	case "string":
		str, ok := val.(string)
		if !ok {
			return &ValidationError{Path: path, Message: fmt.Sprintf("expected string, got %T", val)}
		}
		if err := validateStringBounds(path, s, str); err != nil {
			return err
		}
		if format, _ := s["format"].(string); format == "date-time" {
			if _, err := time.Parse(time.RFC3339, str); err != nil {
				return &ValidationError{Path: path, Message: "expected ISO-8601 date-time (RFC3339)"}
			}
		}
	case "number", "integer":
		num, ok := asFloat(val)
		if !ok {
			return &ValidationError{Path: path, Message: fmt.Sprintf("expected number, got %T", val)}
		}
		if err := validateNumericBounds(path, s, num); err != nil {
			return err
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return &ValidationError{Path: path, Message: fmt.Sprintf("expected boolean, got %T", val)}
		}
	case "object":
		obj, ok := val.(map[string]any)
		if !ok {
			return &ValidationError{Path: path, Message: fmt.Sprintf("expected object, got %T", val)}
		}
		return validateObject(path, s, obj)
	case "array":
		if _, ok := val.([]any); !ok {
			return &ValidationError{Path: path, Message: fmt.Sprintf("expected array, got %T", val)}
		}
	case "", "any":
		// untyped field: accept anything
	}
	return nil
}

func validateStringBounds(path string, s map[string]any, str string) *ValidationError {
	if minLen, ok := asFloat(s["minLength"]); ok && len(str) < int(minLen) {
		return &ValidationError{Path: path, Message: fmt.Sprintf("length %d is below minLength %d", len(str), int(minLen))}
	}
	if maxLen, ok := asFloat(s["maxLength"]); ok && len(str) > int(maxLen) {
		return &ValidationError{Path: path, Message: fmt.Sprintf("length %d exceeds maxLength %d", len(str), int(maxLen))}
	}
	if pattern, ok := s["pattern"].(string); ok && pattern != "" {
		re, err := regexp.Compile(pattern)
		if err == nil && !re.MatchString(str) {
			return &ValidationError{Path: path, Message: fmt.Sprintf("value does not match pattern %q", pattern)}
		}
	}
	return nil
}

func validateNumericBounds(path string, s map[string]any, num float64) *ValidationError {
	if min, ok := asFloat(s["minimum"]); ok && num < min {
		return &ValidationError{Path: path, Message: fmt.Sprintf("value %v is below minimum %v", num, min)}
	}
	if max, ok := asFloat(s["maximum"]); ok && num > max {
		return &ValidationError{Path: path, Message: fmt.Sprintf("value %v exceeds maximum %v", num, max)}
	}
	return nil
}

func asFloat(v any) (float64, bool) {
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

func joinPath(path, name string) string {
	if path == "" {
		return "$." + name
	}
	return strings.TrimSuffix(path, ".") + "." + name
}
