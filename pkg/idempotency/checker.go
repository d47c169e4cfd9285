// Package idempotency implements the worker-side idempotency check that
// runs before a tool is dispatched: for safe-retry and keyed tools, a
// previous receipt for the same (tool, key) pair short-circuits execution
// entirely, instead of running the handler again.
//
// This is distinct from the HTTP-level Idempotency-Key replay cache in
// pkg/api, which caches whole router responses. This package only ever
// looks at receipts already sealed by the worker.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/callkaidsroofing/gem/pkg/contracts"
	"github.com/callkaidsroofing/gem/pkg/store"
)

// Checker decides, for a given invocation, whether a prior receipt already
// satisfies it.
type Checker struct {
	receipts store.Receipts
}

func NewChecker(receipts store.Receipts) *Checker {
	return &Checker{receipts: receipts}
}

// Outcome is what the worker should do about dispatching an invocation.
type Outcome struct {
	// Skip is true when a prior receipt already covers this call and the
	// handler must not run.
	Skip bool
	// Receipt is the new receipt to write when Skip is true — a copy of
	// the prior verdict with effects.idempotency_hit = true, carrying this
	// invocation's own call_id. Policy (b): every terminal invocation
	// still gets exactly one receipt of its own.
	Receipt contracts.Receipt
}

// Check extracts the tool's key field value (if any) from the invocation
// input and, for safe-retry/keyed tools, looks for a prior receipt.
func (c *Checker) Check(ctx context.Context, tool contracts.Tool, inv contracts.Invocation) (Outcome, error) {
	switch tool.Idempotency.Mode {
	case contracts.IdempotencyNone:
		return Outcome{}, nil
	case contracts.IdempotencySafeRetry:
		return c.checkSafeRetry(ctx, tool.Name, inv)
	case contracts.IdempotencyKeyed:
		key, err := extractKey(inv.Input, tool.Idempotency.KeyField)
		if err != nil {
			return Outcome{}, err
		}
		return c.checkByKey(ctx, tool.Name, inv.CallID, key)
	default:
		return Outcome{}, fmt.Errorf("idempotency: unknown mode %q", tool.Idempotency.Mode)
	}
}

// checkSafeRetry reuses the prior verdict when a prior receipt exists with
// the same call_id — the case of a worker crashing or losing its lease
// after sealing a receipt but before transitioning the invocation out of
// running, so the sweeper requeues a call_id that was already settled — or,
// failing that, the same caller-provided idempotency_key, when the caller
// supplied one. A bare key of "" (the common case: no caller-supplied key)
// is never looked up, since it would match nothing but NULL rows and isn't
// a real dedup key.
func (c *Checker) checkSafeRetry(ctx context.Context, toolName string, inv contracts.Invocation) (Outcome, error) {
	prior, err := c.receipts.Get(ctx, inv.CallID)
	if err == nil {
		return replayOutcome(prior, inv.CallID), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Outcome{}, fmt.Errorf("idempotency: call_id lookup failed: %w", err)
	}

	if inv.IdempotencyKey == "" {
		return Outcome{}, nil
	}
	return c.checkByKey(ctx, toolName, inv.CallID, inv.IdempotencyKey)
}

// checkByKey looks up the most recent receipt for (toolName, key).
func (c *Checker) checkByKey(ctx context.Context, toolName, callID, key string) (Outcome, error) {
	prior, err := c.receipts.FindByIdempotencyKey(ctx, toolName, key)
	if errors.Is(err, store.ErrNotFound) {
		return Outcome{}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("idempotency: lookup failed: %w", err)
	}
	return replayOutcome(prior, callID), nil
}

func replayOutcome(prior contracts.Receipt, callID string) Outcome {
	replay := prior
	replay.CallID = callID
	replay.Effects.IdempotencyHit = true
	return Outcome{Skip: true, Receipt: replay}
}

func extractKey(input json.RawMessage, field string) (string, error) {
	if field == "" {
		return "", errors.New("idempotency: keyed tool missing key_field")
	}
	var payload map[string]any
	if err := json.Unmarshal(input, &payload); err != nil {
		return "", fmt.Errorf("idempotency: invalid input payload: %w", err)
	}
	raw, ok := payload[field]
	if !ok {
		return "", fmt.Errorf("idempotency: key_field %q not present in input", field)
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
