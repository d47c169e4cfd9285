// Package inspections implements the inspections.* tools. Inputs speak of
// a "stage"; the inspections table's column is "status" — the same
// status-vs-stage field mapping used for jobs, kept because the callers
// (the router's planner and external integrations) speak in stage
// terminology while the engine's own state machine speaks in status.
package inspections

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/callkaidsroofing/gem/pkg/contracts"
	"github.com/callkaidsroofing/gem/pkg/handlers/kit"
)

type scheduleInput struct {
	LeadID       string `json:"lead_id"`
	ScheduledFor string `json:"scheduled_for"`
	Stage        string `json:"stage"`
}

type scheduleOutput struct {
	InspectionID string `json:"inspection_id"`
}

// Schedule creates an inspection row for a lead. input.stage maps to the
// row's status column, defaulting to "pending" when omitted.
// inspections.schedule is keyed on the composite natural key
// (lead_id, scheduled_for), backed by a matching UNIQUE index; the loser of
// a concurrent insert race reuses the winner's inspection_id instead of
// failing, so one lead/slot pair never produces two inspections.
func Schedule(ctx context.Context, deps kit.Deps, input json.RawMessage) (json.RawMessage, contracts.Effects, error) {
	var in scheduleInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("inspections: decoding input: %w", err)
	}
	status := in.Stage
	if status == "" {
		status = "pending"
	}

	inspectionID := uuid.NewString()
	now := deps.Clock()
	query := fmt.Sprintf(`
		INSERT INTO inspections (inspection_id, lead_id, scheduled_for, status, created_at, updated_at)
		VALUES (%s, %s, %s, %s, %s, %s)
	`, deps.Placeholder(1), deps.Placeholder(2), deps.Placeholder(3), deps.Placeholder(4), deps.Placeholder(5), deps.Placeholder(6))
	_, err := deps.DB.ExecContext(ctx, query, inspectionID, in.LeadID, in.ScheduledFor, status, now, now)
	if err != nil {
		if !kit.IsUniqueViolation(err) {
			return nil, contracts.Effects{}, fmt.Errorf("inspections: inserting: %w", err)
		}
		query := fmt.Sprintf("SELECT inspection_id FROM inspections WHERE lead_id = %s AND scheduled_for = %s",
			deps.Placeholder(1), deps.Placeholder(2))
		row := deps.DB.QueryRowContext(ctx, query, in.LeadID, in.ScheduledFor)
		var existingID string
		if scanErr := row.Scan(&existingID); scanErr != nil {
			return nil, contracts.Effects{}, fmt.Errorf("inspections: resolving existing inspection for lead %s at %s: %w", in.LeadID, in.ScheduledFor, scanErr)
		}
		out, marshalErr := json.Marshal(scheduleOutput{InspectionID: existingID})
		effects := contracts.Effects{IdempotencyHit: true}
		return out, effects, marshalErr
	}

	out, err := json.Marshal(scheduleOutput{InspectionID: inspectionID})
	effects := contracts.Effects{DBWrites: []contracts.EffectEntry{{Kind: "insert", Reference: "inspections/" + inspectionID}}}
	return out, effects, err
}

type completeInput struct {
	InspectionID string `json:"inspection_id"`
	Findings     string `json:"findings"`
}

type completeOutput struct {
	InspectionID string `json:"inspection_id"`
	Completed    bool   `json:"completed"`
}

// Complete records findings and moves the inspection's status to completed.
func Complete(ctx context.Context, deps kit.Deps, input json.RawMessage) (json.RawMessage, contracts.Effects, error) {
	var in completeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("inspections: decoding input: %w", err)
	}

	now := deps.Clock()
	query := fmt.Sprintf(`
		UPDATE inspections SET status = 'completed', findings = %s, updated_at = %s WHERE inspection_id = %s
	`, deps.Placeholder(1), deps.Placeholder(2), deps.Placeholder(3))
	res, err := deps.DB.ExecContext(ctx, query, in.Findings, now, in.InspectionID)
	if err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("inspections: updating: %w", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return nil, contracts.Effects{}, err
	} else if rows == 0 {
		return nil, contracts.Effects{}, fmt.Errorf("inspections: %s not found", in.InspectionID)
	}

	out, err := json.Marshal(completeOutput{InspectionID: in.InspectionID, Completed: true})
	effects := contracts.Effects{DBWrites: []contracts.EffectEntry{{Kind: "update", Reference: "inspections/" + in.InspectionID}}}
	return out, effects, err
}
