// Package crm implements the leads.* tools.
package crm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/callkaidsroofing/gem/pkg/contracts"
	"github.com/callkaidsroofing/gem/pkg/handlers/kit"
)

type createInput struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Suburb string `json:"suburb"`
	Source string `json:"source"`
	Notes  string `json:"notes"`
}

type createOutput struct {
	LeadID  string `json:"lead_id"`
	Created bool   `json:"created"`
}

// Create inserts a new lead row keyed on phone (leads.create is registered
// as idempotency.mode = keyed on phone, and the leads table carries a
// matching UNIQUE index). Two concurrently-dispatched calls for the same
// phone number race the insert; the loser catches the unique violation and
// looks up the winner's row instead of failing, so both calls settle on the
// same lead_id and exactly one row exists for that phone.
func Create(ctx context.Context, deps kit.Deps, input json.RawMessage) (json.RawMessage, contracts.Effects, error) {
	var in createInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("crm: decoding input: %w", err)
	}

	leadID := uuid.NewString()
	now := deps.Clock()
	query := fmt.Sprintf(`
		INSERT INTO leads (lead_id, name, phone, suburb, source, notes, stage, created_at, updated_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)
	`, deps.Placeholder(1), deps.Placeholder(2), deps.Placeholder(3), deps.Placeholder(4),
		deps.Placeholder(5), deps.Placeholder(6), deps.Placeholder(7), deps.Placeholder(8), deps.Placeholder(9))
	_, err := deps.DB.ExecContext(ctx, query, leadID, in.Name, in.Phone, in.Suburb, in.Source, in.Notes, "new", now, now)
	if err != nil {
		if !kit.IsUniqueViolation(err) {
			return nil, contracts.Effects{}, fmt.Errorf("crm: inserting lead: %w", err)
		}
		existingID, selErr := existingLeadID(ctx, deps, in.Phone)
		if selErr != nil {
			return nil, contracts.Effects{}, fmt.Errorf("crm: resolving existing lead for phone %s: %w", in.Phone, selErr)
		}
		out, marshalErr := json.Marshal(createOutput{LeadID: existingID, Created: false})
		effects := contracts.Effects{IdempotencyHit: true}
		return out, effects, marshalErr
	}

	out, err := json.Marshal(createOutput{LeadID: leadID, Created: true})
	effects := contracts.Effects{DBWrites: []contracts.EffectEntry{{Kind: "insert", Reference: "leads/" + leadID}}}
	return out, effects, err
}

func existingLeadID(ctx context.Context, deps kit.Deps, phone string) (string, error) {
	row := deps.DB.QueryRowContext(ctx, fmt.Sprintf("SELECT lead_id FROM leads WHERE phone = %s", deps.Placeholder(1)), phone)
	var id string
	if err := row.Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

type updateInput struct {
	LeadID string `json:"lead_id"`
	Notes  string `json:"notes"`
	Stage  string `json:"stage"`
}

type updateOutput struct {
	LeadID  string `json:"lead_id"`
	Updated bool   `json:"updated"`
}

// Update applies the mutable fields present in the request to an existing
// lead. Fields left unset in the input are left unchanged.
func Update(ctx context.Context, deps kit.Deps, input json.RawMessage) (json.RawMessage, contracts.Effects, error) {
	var in updateInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("crm: decoding input: %w", err)
	}

	now := deps.Clock()
	sets := []string{}
	args := []any{}
	n := 1
	if in.Notes != "" {
		sets = append(sets, "notes = "+deps.Placeholder(n))
		args = append(args, in.Notes)
		n++
	}
	if in.Stage != "" {
		sets = append(sets, "stage = "+deps.Placeholder(n))
		args = append(args, in.Stage)
		n++
	}
	sets = append(sets, "updated_at = "+deps.Placeholder(n))
	args = append(args, now)
	n++
	args = append(args, in.LeadID)

	query := "UPDATE leads SET " + joinClauses(sets) + " WHERE lead_id = " + deps.Placeholder(n)
	res, err := deps.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("crm: updating lead: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, contracts.Effects{}, err
	}
	if rows == 0 {
		return nil, contracts.Effects{}, fmt.Errorf("crm: lead %s not found", in.LeadID)
	}

	out, err := json.Marshal(updateOutput{LeadID: in.LeadID, Updated: true})
	effects := contracts.Effects{DBWrites: []contracts.EffectEntry{{Kind: "update", Reference: "leads/" + in.LeadID}}}
	return out, effects, err
}

func joinClauses(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
