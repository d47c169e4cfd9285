// Package worker runs the claim-execute-seal loop: pull the next queued
// invocation, resolve its tool, check idempotency, validate input, dispatch
// to the handler under a timeout, validate output, and write exactly one
// receipt before transitioning the invocation to a terminal status.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/callkaidsroofing/gem/pkg/contracts"
	"github.com/callkaidsroofing/gem/pkg/handlers/kit"
	"github.com/callkaidsroofing/gem/pkg/idempotency"
	"github.com/callkaidsroofing/gem/pkg/registry"
	"github.com/callkaidsroofing/gem/pkg/schema"
	"github.com/callkaidsroofing/gem/pkg/store"
	"github.com/callkaidsroofing/gem/pkg/telemetry"
)

// dispatcher resolves a tool name to its handler function. Satisfied by
// *handlers.Dispatcher in production and by a stub in tests.
type dispatcher interface {
	Resolve(toolName string) (kit.Func, error)
}

// Worker owns one claim loop over a shared queue.
type Worker struct {
	ID       string
	Queue    store.Queue
	Receipts store.Receipts
	Registry *registry.Registry
	Dispatch dispatcher
	Idemp    *idempotency.Checker
	Deps     kit.Deps
	Telem    *telemetry.Provider

	LeaseDuration time.Duration
	PollInterval  time.Duration
}

// New builds a Worker with the spec's defaults for lease duration and poll
// interval, both overridable on the returned value before Run.
func New(id string, q store.Queue, r store.Receipts, reg *registry.Registry, d dispatcher, idemp *idempotency.Checker, deps kit.Deps, telem *telemetry.Provider) *Worker {
	return &Worker{
		ID: id, Queue: q, Receipts: r, Registry: reg, Dispatch: d, Idemp: idemp, Deps: deps, Telem: telem,
		LeaseDuration: 2 * time.Minute,
		PollInterval:  500 * time.Millisecond,
	}
}

// Run blocks, claiming and processing invocations until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		inv, err := w.Queue.ClaimNext(ctx, w.ID, w.LeaseDuration)
		if errors.Is(err, store.ErrNoPending) {
			if w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		if err != nil {
			slog.ErrorContext(ctx, "worker: claim failed", "worker_id", w.ID, "error", err)
			if w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		if w.Telem != nil {
			w.Telem.ClaimCounter.Add(ctx, 1, w.attrs(inv.ToolName))
		}
		w.process(ctx, inv)
	}
}

// sleep waits PollInterval or ctx cancellation, reporting whether ctx ended.
func (w *Worker) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-time.After(w.PollInterval):
		return false
	}
}

func (w *Worker) attrs(label string) metric.AddOption {
	return metric.WithAttributes(attribute.String("label", label))
}

// process runs the pipeline for one claimed invocation and seals exactly
// one receipt before transitioning it to a terminal status.
func (w *Worker) process(ctx context.Context, inv contracts.Invocation) {
	var span trace.Span
	if w.Telem != nil {
		ctx, span = w.Telem.Tracer.Start(ctx, "gem.worker.dispatch", trace.WithAttributes(
			attribute.String("tool_name", inv.ToolName),
			attribute.String("call_id", inv.CallID),
		))
		defer span.End()
	}

	receipt, idempKey := w.buildReceipt(ctx, inv)

	if err := w.Receipts.Store(ctx, receipt, idempKey); err != nil {
		slog.ErrorContext(ctx, "worker: storing receipt failed", "call_id", inv.CallID, "error", err)
		return
	}
	if w.Telem != nil {
		w.Telem.ReceiptCounter.Add(ctx, 1, w.attrs(string(receipt.Status)))
	}

	terminal := contracts.StatusSucceeded
	if receipt.Status != contracts.ReceiptSucceeded {
		terminal = contracts.StatusFailed
	}
	if err := w.Queue.Transition(ctx, inv.CallID, terminal, receiptErrorPayload(receipt)); err != nil {
		slog.ErrorContext(ctx, "worker: transition failed", "call_id", inv.CallID, "error", err)
	}
}

// buildReceipt runs the full resolve/idempotency/validate/dispatch/validate
// pipeline and returns the receipt to seal plus the idempotency key value
// (if any) to persist alongside it.
func (w *Worker) buildReceipt(ctx context.Context, inv contracts.Invocation) (contracts.Receipt, string) {
	tool, err := w.Registry.Get(inv.ToolName)
	if err != nil {
		return failedReceipt(inv, contracts.ErrUnknownTool, err.Error(), ""), ""
	}

	idempKey := extractIdempotencyKey(tool, inv)

	outcome, err := w.Idemp.Check(ctx, tool, inv)
	if err != nil {
		return failedReceipt(inv, contracts.ErrHandlerError, err.Error(), ""), idempKey
	}
	if outcome.Skip {
		return outcome.Receipt, idempKey
	}

	if result := schema.Validate(tool.InputSchema, decodeObject(inv.Input)); !result.Valid {
		return failedReceipt(inv, contracts.ErrValidationError, result.Error.Message, result.Error.Path), idempKey
	}

	fn, err := w.Dispatch.Resolve(tool.Name)
	if err != nil {
		return notConfiguredReceipt(inv, &kit.NotConfiguredError{
			Reason:    err.Error(),
			NextSteps: []string{"register a handler for " + tool.Name + " in the worker's dispatcher table"},
		}), idempKey
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, time.Duration(tool.TimeoutMS)*time.Millisecond)
	defer cancel()

	if w.Telem != nil {
		w.Telem.DispatchCounter.Add(ctx, 1, w.attrs(tool.Name))
	}

	output, effects, err := fn(dispatchCtx, w.Deps, inv.Input)
	if err != nil {
		var notConfigured *kit.NotConfiguredError
		if errors.As(err, &notConfigured) {
			return notConfiguredReceipt(inv, notConfigured), idempKey
		}
		if errors.Is(dispatchCtx.Err(), context.DeadlineExceeded) {
			return failedReceipt(inv, contracts.ErrTimeout, fmt.Sprintf("tool %s exceeded timeout_ms=%d", tool.Name, tool.TimeoutMS), ""), idempKey
		}
		return failedReceipt(inv, contracts.ErrHandlerError, err.Error(), ""), idempKey
	}

	if result := schema.Validate(tool.OutputSchema, decodeObject(output)); !result.Valid {
		slog.WarnContext(ctx, "worker: handler output failed schema validation", "tool_name", tool.Name, "path", result.Error.Path, "message", result.Error.Message)
	}

	return contracts.Receipt{
		CallID:    inv.CallID,
		ToolName:  tool.Name,
		Status:    contracts.ReceiptSucceeded,
		Result:    output,
		Effects:   effects,
		CreatedAt: time.Now(),
	}, idempKey
}

// extractIdempotencyKey returns the value to persist in the receipt's
// idempotency_key column. For keyed tools that's the tool's declared key
// field, pulled from the input payload. For safe-retry tools there is no
// key field — the invocation's own idempotency_key (set at enqueue time
// when the caller supplied one, e.g. webhook dedup) is persisted instead,
// so a later safe-retry lookup by that key can find this receipt.
func extractIdempotencyKey(tool contracts.Tool, inv contracts.Invocation) string {
	switch tool.Idempotency.Mode {
	case contracts.IdempotencyKeyed:
		payload := decodeObject(inv.Input)
		raw, ok := payload[tool.Idempotency.KeyField]
		if !ok {
			return ""
		}
		if s, ok := raw.(string); ok {
			return s
		}
		b, _ := json.Marshal(raw)
		return string(b)
	case contracts.IdempotencySafeRetry:
		return inv.IdempotencyKey
	default:
		return ""
	}
}

func decodeObject(raw json.RawMessage) map[string]any {
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

func failedReceipt(inv contracts.Invocation, code, message, path string) contracts.Receipt {
	return contracts.Receipt{
		CallID:    inv.CallID,
		ToolName:  inv.ToolName,
		Status:    contracts.ReceiptFailed,
		Result:    contracts.NewFailedResult(code, message, path),
		CreatedAt: time.Now(),
	}
}

func notConfiguredReceipt(inv contracts.Invocation, nc *kit.NotConfiguredError) contracts.Receipt {
	return contracts.Receipt{
		CallID:    inv.CallID,
		ToolName:  inv.ToolName,
		Status:    contracts.ReceiptNotConfigured,
		Result:    contracts.NewNotConfiguredResult(nc.Reason, nc.RequiredEnv, nc.NextSteps),
		CreatedAt: time.Now(),
	}
}

// receiptErrorPayload returns the error payload to persist on the
// invocation row, or nil for a succeeded receipt.
func receiptErrorPayload(r contracts.Receipt) []byte {
	if r.Status == contracts.ReceiptSucceeded {
		return nil
	}
	return r.Result
}
