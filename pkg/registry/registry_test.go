package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callkaidsroofing/gem/pkg/contracts"
)

func validInputSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{"name": map[string]any{"type": "string"}},
		"required":             []any{"name"},
		"additionalProperties": false,
	}
}

func baseTool(name string) contracts.Tool {
	return contracts.Tool{
		Name:         name,
		Description:  "test tool",
		InputSchema:  validInputSchema(),
		OutputSchema: validInputSchema(),
		Idempotency:  contracts.Idempotency{Mode: contracts.IdempotencyNone},
		TimeoutMS:    5000,
	}
}

func TestNewFromTools_OK(t *testing.T) {
	r, err := NewFromTools([]contracts.Tool{baseTool("leads.create")})
	require.NoError(t, err)
	got, err := r.Get("leads.create")
	require.NoError(t, err)
	assert.Equal(t, "leads.create", got.Name)
	assert.Len(t, r.All(), 1)
}

func TestNewFromTools_DuplicateName(t *testing.T) {
	_, err := NewFromTools([]contracts.Tool{baseTool("leads.create"), baseTool("leads.create")})
	assert.ErrorContains(t, err, "duplicate tool name")
}

func TestNewFromTools_KeyedWithoutKeyField(t *testing.T) {
	tool := baseTool("leads.create")
	tool.Idempotency = contracts.Idempotency{Mode: contracts.IdempotencyKeyed}
	_, err := NewFromTools([]contracts.Tool{tool})
	assert.ErrorContains(t, err, "key_field")
}

func TestNewFromTools_BadTimeout(t *testing.T) {
	tool := baseTool("leads.create")
	tool.TimeoutMS = 0
	_, err := NewFromTools([]contracts.Tool{tool})
	assert.ErrorContains(t, err, "timeout_ms")
}

func TestNewFromTools_UndeclaredRequiredField(t *testing.T) {
	tool := baseTool("leads.create")
	tool.InputSchema = map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
		"required":   []any{"phone"},
	}
	_, err := NewFromTools([]contracts.Tool{tool})
	assert.ErrorContains(t, err, "not declared in properties")
}

func TestGet_NotFound(t *testing.T) {
	r, err := NewFromTools([]contracts.Tool{baseTool("leads.create")})
	require.NoError(t, err)
	_, err = r.Get("does.not_exist")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestLoadBytes_FullDocument(t *testing.T) {
	doc := []byte(`
schema_version: "1.0.0"
tools:
  - name: os.health_check
    description: reports database connectivity
    input_schema:
      type: object
      additionalProperties: false
    output_schema:
      type: object
      additionalProperties: false
    idempotency:
      mode: none
    timeout_ms: 2000
`)
	r, err := LoadBytes(doc)
	require.NoError(t, err)
	tool, err := r.Get("os.health_check")
	require.NoError(t, err)
	assert.Equal(t, 2000, tool.TimeoutMS)
}

func TestLoadBytes_UnsupportedSchemaVersion(t *testing.T) {
	doc := []byte(`
schema_version: "2.0.0"
tools: []
`)
	_, err := LoadBytes(doc)
	assert.ErrorContains(t, err, "not supported")
}
