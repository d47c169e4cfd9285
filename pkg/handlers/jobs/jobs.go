// Package jobs implements the jobs.* tools. input.stage maps to the jobs
// table's status column, same convention as inspections.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/callkaidsroofing/gem/pkg/contracts"
	"github.com/callkaidsroofing/gem/pkg/handlers/kit"
)

type createInput struct {
	QuoteID      string `json:"quote_id"`
	ScheduledFor string `json:"scheduled_for"`
}

type createOutput struct {
	JobID string `json:"job_id"`
}

// Create promotes an accepted quote into a scheduled job. jobs.create is
// keyed on quote_id, backed by a matching UNIQUE index on jobs.quote_id;
// the loser of a concurrent insert race reuses the winner's job_id instead
// of failing, so a quote never produces two jobs.
func Create(ctx context.Context, deps kit.Deps, input json.RawMessage) (json.RawMessage, contracts.Effects, error) {
	var in createInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("jobs: decoding input: %w", err)
	}

	jobID := uuid.NewString()
	now := deps.Clock()
	query := fmt.Sprintf(`
		INSERT INTO jobs (job_id, quote_id, scheduled_for, status, created_at, updated_at)
		VALUES (%s, %s, %s, %s, %s, %s)
	`, deps.Placeholder(1), deps.Placeholder(2), deps.Placeholder(3), deps.Placeholder(4), deps.Placeholder(5), deps.Placeholder(6))
	_, err := deps.DB.ExecContext(ctx, query, jobID, in.QuoteID, in.ScheduledFor, "scheduled", now, now)
	if err != nil {
		if !kit.IsUniqueViolation(err) {
			return nil, contracts.Effects{}, fmt.Errorf("jobs: inserting: %w", err)
		}
		row := deps.DB.QueryRowContext(ctx, fmt.Sprintf("SELECT job_id FROM jobs WHERE quote_id = %s", deps.Placeholder(1)), in.QuoteID)
		var existingID string
		if scanErr := row.Scan(&existingID); scanErr != nil {
			return nil, contracts.Effects{}, fmt.Errorf("jobs: resolving existing job for quote %s: %w", in.QuoteID, scanErr)
		}
		out, marshalErr := json.Marshal(createOutput{JobID: existingID})
		effects := contracts.Effects{IdempotencyHit: true}
		return out, effects, marshalErr
	}

	out, err := json.Marshal(createOutput{JobID: jobID})
	effects := contracts.Effects{DBWrites: []contracts.EffectEntry{{Kind: "insert", Reference: "jobs/" + jobID}}}
	return out, effects, err
}

type updateStatusInput struct {
	JobID string `json:"job_id"`
	Stage string `json:"stage"`
}

type updateStatusOutput struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// UpdateStatus transitions a job's status field, named "stage" in the tool
// input to match how the router's planner and external callers refer to it.
func UpdateStatus(ctx context.Context, deps kit.Deps, input json.RawMessage) (json.RawMessage, contracts.Effects, error) {
	var in updateStatusInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("jobs: decoding input: %w", err)
	}

	now := deps.Clock()
	query := fmt.Sprintf(`UPDATE jobs SET status = %s, updated_at = %s WHERE job_id = %s`,
		deps.Placeholder(1), deps.Placeholder(2), deps.Placeholder(3))
	res, err := deps.DB.ExecContext(ctx, query, in.Stage, now, in.JobID)
	if err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("jobs: updating: %w", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return nil, contracts.Effects{}, err
	} else if rows == 0 {
		return nil, contracts.Effects{}, fmt.Errorf("jobs: %s not found", in.JobID)
	}

	out, err := json.Marshal(updateStatusOutput{JobID: in.JobID, Status: in.Stage})
	effects := contracts.Effects{DBWrites: []contracts.EffectEntry{{Kind: "update", Reference: "jobs/" + in.JobID}}}
	return out, effects, err
}
