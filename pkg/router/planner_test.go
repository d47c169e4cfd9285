package router

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callkaidsroofing/gem/pkg/registry"
)

func loadTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.Load("../../registry/tools.yaml")
	require.NoError(t, err)
	return r
}

func TestPlanner_MatchesCreateLeadRule(t *testing.T) {
	reg := loadTestRegistry(t)
	p, err := NewPlanner(DefaultRules, reg)
	require.NoError(t, err)

	planned, reason := p.Plan("new lead: John Citizen, 0412345678, Clayton, referral", nil, 0)
	require.Len(t, planned, 1)
	assert.Equal(t, "leads.create", planned[0].ToolName)
	assert.Contains(t, reason, "create_lead")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(planned[0].Input, &decoded))
	assert.Equal(t, "John Citizen", decoded["name"])
	assert.Equal(t, "0412345678", decoded["phone"])
	assert.Equal(t, "Clayton", decoded["suburb"])
	assert.Equal(t, "referral", decoded["source"])
}

func TestPlanner_NoRuleMatches(t *testing.T) {
	reg := loadTestRegistry(t)
	p, err := NewPlanner(DefaultRules, reg)
	require.NoError(t, err)

	planned, reason := p.Plan("what's the weather like today", nil, 0)
	assert.Empty(t, planned)
	assert.Contains(t, reason, "no planner rule matched")
}

func TestPlanner_ContextFillsDeclaredMissingField(t *testing.T) {
	reg := loadTestRegistry(t)
	p, err := NewPlanner(DefaultRules, reg)
	require.NoError(t, err)

	planned, _ := p.Plan("schedule an inspection for 2026-08-01T09:00:00Z", map[string]any{"lead_id": "lead-123"}, 0)
	require.Len(t, planned, 1)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(planned[0].Input, &decoded))
	assert.Equal(t, "lead-123", decoded["lead_id"])
	assert.Equal(t, "2026-08-01T09:00:00Z", decoded["scheduled_for"])
}

func TestPlanner_ContextNeverOverridesExplicitExtraction(t *testing.T) {
	reg := loadTestRegistry(t)
	rules := []Rule{
		{
			Name:       "stub",
			Tool:       "inspections.complete",
			Confidence: 1,
			Patterns:   DefaultRules[1].Patterns, // any pattern; only Extract is exercised below
		},
	}
	rules[0].Extract = func(m []string, msg string, ctx map[string]any) map[string]any {
		return map[string]any{"inspection_id": "explicit-id"}
	}
	p, err := NewPlanner(rules, reg)
	require.NoError(t, err)

	planned, _ := p.Plan("schedule an inspection for 2026-08-01T09:00:00Z", map[string]any{"inspection_id": "from-context"}, 0)
	require.Len(t, planned, 1)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(planned[0].Input, &decoded))
	assert.Equal(t, "explicit-id", decoded["inspection_id"])
}

func TestPlanner_KeyedIdempotencyKeyExtractedFromInput(t *testing.T) {
	reg := loadTestRegistry(t)
	p, err := NewPlanner(DefaultRules, reg)
	require.NoError(t, err)

	planned, _ := p.Plan("new lead: Jane Doe, 0412999999, Clayton South, web", nil, 0)
	require.Len(t, planned, 1)
	assert.Equal(t, "0412999999", planned[0].IdempotencyKey)
}
