// Package invoices implements the invoices.* tools.
package invoices

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/callkaidsroofing/gem/pkg/contracts"
	"github.com/callkaidsroofing/gem/pkg/handlers/kit"
)

type createInput struct {
	JobID       string `json:"job_id"`
	AmountCents int64  `json:"amount_cents"`
}

type createOutput struct {
	InvoiceID string `json:"invoice_id"`
}

// Create issues an invoice for a completed job. invoices.create is keyed on
// job_id, backed by a matching UNIQUE index on invoices.job_id; the loser of
// a concurrent insert race reuses the winner's invoice_id instead of
// failing, so a job never produces two invoices.
func Create(ctx context.Context, deps kit.Deps, input json.RawMessage) (json.RawMessage, contracts.Effects, error) {
	var in createInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("invoices: decoding input: %w", err)
	}

	invoiceID := uuid.NewString()
	now := deps.Clock()
	query := fmt.Sprintf(`
		INSERT INTO invoices (invoice_id, job_id, amount_cents, paid_amount_cents, status, created_at, updated_at)
		VALUES (%s, %s, %s, 0, %s, %s, %s)
	`, deps.Placeholder(1), deps.Placeholder(2), deps.Placeholder(3), deps.Placeholder(4), deps.Placeholder(5), deps.Placeholder(6))
	_, err := deps.DB.ExecContext(ctx, query, invoiceID, in.JobID, in.AmountCents, "unpaid", now, now)
	if err != nil {
		if !kit.IsUniqueViolation(err) {
			return nil, contracts.Effects{}, fmt.Errorf("invoices: inserting: %w", err)
		}
		row := deps.DB.QueryRowContext(ctx, fmt.Sprintf("SELECT invoice_id FROM invoices WHERE job_id = %s", deps.Placeholder(1)), in.JobID)
		var existingID string
		if scanErr := row.Scan(&existingID); scanErr != nil {
			return nil, contracts.Effects{}, fmt.Errorf("invoices: resolving existing invoice for job %s: %w", in.JobID, scanErr)
		}
		out, marshalErr := json.Marshal(createOutput{InvoiceID: existingID})
		effects := contracts.Effects{IdempotencyHit: true}
		return out, effects, marshalErr
	}

	out, err := json.Marshal(createOutput{InvoiceID: invoiceID})
	effects := contracts.Effects{DBWrites: []contracts.EffectEntry{{Kind: "insert", Reference: "invoices/" + invoiceID}}}
	return out, effects, err
}

type markPaidInput struct {
	InvoiceID       string `json:"invoice_id"`
	PaidAmountCents int64  `json:"paid_amount_cents"`
}

type markPaidOutput struct {
	InvoiceID string `json:"invoice_id"`
	Status    string `json:"status"`
}

// MarkPaid records a payment against an invoice. Status becomes "paid"
// once paid_amount_cents reaches the invoice's full amount, else "partial".
func MarkPaid(ctx context.Context, deps kit.Deps, input json.RawMessage) (json.RawMessage, contracts.Effects, error) {
	var in markPaidInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("invoices: decoding input: %w", err)
	}

	var amountCents int64
	row := deps.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT amount_cents FROM invoices WHERE invoice_id = %s", deps.Placeholder(1)), in.InvoiceID)
	if err := row.Scan(&amountCents); err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("invoices: %s not found: %w", in.InvoiceID, err)
	}

	status := "partial"
	if in.PaidAmountCents >= amountCents {
		status = "paid"
	}

	now := deps.Clock()
	query := fmt.Sprintf(`UPDATE invoices SET paid_amount_cents = %s, status = %s, updated_at = %s WHERE invoice_id = %s`,
		deps.Placeholder(1), deps.Placeholder(2), deps.Placeholder(3), deps.Placeholder(4))
	_, err := deps.DB.ExecContext(ctx, query, in.PaidAmountCents, status, now, in.InvoiceID)
	if err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("invoices: updating: %w", err)
	}

	out, err := json.Marshal(markPaidOutput{InvoiceID: in.InvoiceID, Status: status})
	effects := contracts.Effects{DBWrites: []contracts.EffectEntry{{Kind: "update", Reference: "invoices/" + in.InvoiceID}}}
	return out, effects, err
}
