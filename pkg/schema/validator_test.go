package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leadSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":   map[string]any{"type": "string", "minLength": 1.0},
			"phone":  map[string]any{"type": "string", "pattern": "^[0-9]{10}$"},
			"suburb": map[string]any{"type": "string"},
			"source": map[string]any{"type": "string", "enum": []any{"test", "web", "phone"}},
		},
		"required":             []any{"name", "phone", "suburb"},
		"additionalProperties": false,
	}
}

func TestValidate_OK(t *testing.T) {
	r := Validate(leadSchema(), map[string]any{
		"name": "John", "phone": "0412345678", "suburb": "Clayton", "source": "test",
	})
	assert.True(t, r.Valid)
	assert.Nil(t, r.Error)
}

func TestValidate_MissingRequired(t *testing.T) {
	r := Validate(leadSchema(), map[string]any{"name": "x"})
	require.False(t, r.Valid)
	require.NotNil(t, r.Error)
	assert.Contains(t, r.Error.Message, "required field")
}

func TestValidate_UnknownField(t *testing.T) {
	r := Validate(leadSchema(), map[string]any{
		"name": "John", "phone": "0412345678", "suburb": "Clayton", "extra": "nope",
	})
	require.False(t, r.Valid)
	assert.Contains(t, r.Error.Message, "unknown field")
}

func TestValidate_EnumViolation(t *testing.T) {
	r := Validate(leadSchema(), map[string]any{
		"name": "John", "phone": "0412345678", "suburb": "Clayton", "source": "carrier-pigeon",
	})
	require.False(t, r.Valid)
	assert.Contains(t, r.Error.Message, "not one of")
}

func TestValidate_DateTimeFormat(t *testing.T) {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"scheduled_for": map[string]any{"type": "string", "format": "date-time"},
		},
		"required": []any{"scheduled_for"},
	}
	bad := Validate(s, map[string]any{"scheduled_for": "not-a-date"})
	assert.False(t, bad.Valid)

	good := Validate(s, map[string]any{"scheduled_for": "2026-08-01T09:00:00Z"})
	assert.True(t, good.Valid)
}

func TestValidate_NumericBounds(t *testing.T) {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"amount": map[string]any{"type": "number", "minimum": 0.0, "maximum": 100000.0},
		},
	}
	assert.True(t, Validate(s, map[string]any{"amount": 500.0}).Valid)
	assert.False(t, Validate(s, map[string]any{"amount": -5.0}).Valid)
	assert.False(t, Validate(s, map[string]any{"amount": 1e9}).Valid)
}
