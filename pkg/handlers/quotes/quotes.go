// Package quotes implements the quotes.* tools.
package quotes

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/callkaidsroofing/gem/pkg/contracts"
	"github.com/callkaidsroofing/gem/pkg/handlers/kit"
)

type createInput struct {
	LeadID      string `json:"lead_id"`
	AmountCents int64  `json:"amount_cents"`
	LineItems   []any  `json:"line_items"`
}

type createOutput struct {
	QuoteID string `json:"quote_id"`
}

// Create records a quote against a lead.
func Create(ctx context.Context, deps kit.Deps, input json.RawMessage) (json.RawMessage, contracts.Effects, error) {
	var in createInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("quotes: decoding input: %w", err)
	}

	quoteID := uuid.NewString()
	now := deps.Clock()
	query := fmt.Sprintf(`
		INSERT INTO quotes (quote_id, lead_id, amount_cents, status, created_at, updated_at)
		VALUES (%s, %s, %s, %s, %s, %s)
	`, deps.Placeholder(1), deps.Placeholder(2), deps.Placeholder(3), deps.Placeholder(4), deps.Placeholder(5), deps.Placeholder(6))
	_, err := deps.DB.ExecContext(ctx, query, quoteID, in.LeadID, in.AmountCents, "draft", now, now)
	if err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("quotes: inserting: %w", err)
	}

	out, err := json.Marshal(createOutput{QuoteID: quoteID})
	effects := contracts.Effects{DBWrites: []contracts.EffectEntry{{Kind: "insert", Reference: "quotes/" + quoteID}}}
	return out, effects, err
}

type sendInput struct {
	QuoteID string `json:"quote_id"`
}

type sendOutput struct {
	QuoteID     string `json:"quote_id"`
	DocumentURI string `json:"document_uri"`
}

// Send renders a minimal quote document, stores it in the artifact store,
// and records the resulting reference as the quote's document_uri.
func Send(ctx context.Context, deps kit.Deps, input json.RawMessage) (json.RawMessage, contracts.Effects, error) {
	var in sendInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("quotes: decoding input: %w", err)
	}

	var amountCents int64
	row := deps.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT amount_cents FROM quotes WHERE quote_id = %s", deps.Placeholder(1)), in.QuoteID)
	if err := row.Scan(&amountCents); err != nil {
		if err == sql.ErrNoRows {
			return nil, contracts.Effects{}, fmt.Errorf("quotes: %s not found", in.QuoteID)
		}
		return nil, contracts.Effects{}, err
	}

	doc := fmt.Sprintf("QUOTE %s\nAmount: %d cents\n", in.QuoteID, amountCents)
	ref, err := deps.Artifacts.Put(ctx, []byte(doc))
	if err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("quotes: storing document: %w", err)
	}

	now := deps.Clock()
	_, err = deps.DB.ExecContext(ctx, fmt.Sprintf(
		"UPDATE quotes SET document_uri = %s, status = 'sent', updated_at = %s WHERE quote_id = %s",
		deps.Placeholder(1), deps.Placeholder(2), deps.Placeholder(3),
	), ref, now, in.QuoteID)
	if err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("quotes: recording document_uri: %w", err)
	}

	out, err := json.Marshal(sendOutput{QuoteID: in.QuoteID, DocumentURI: ref})
	effects := contracts.Effects{
		DBWrites:     []contracts.EffectEntry{{Kind: "update", Reference: "quotes/" + in.QuoteID}},
		FilesWritten: []contracts.EffectEntry{{Kind: "file", Reference: ref}},
	}
	return out, effects, err
}
