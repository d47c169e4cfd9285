package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/callkaidsroofing/gem/pkg/contracts"
	"github.com/callkaidsroofing/gem/pkg/store"
)

const (
	defaultWaitTimeoutMS  = 10_000
	defaultPollIntervalMS = 500
)

// Router turns a typed request into a plan of candidate invocations,
// writes them to the queue (in the enqueueing modes), and optionally polls
// for their receipts. It never writes receipts or domain tables — it
// writes only to the queue, per §3's ownership rule, and reads receipts
// while waiting.
type Router struct {
	Planner  *Planner
	Queue    store.Queue
	Receipts store.Receipts
	Runs     RunStore

	// WebhookTable maps "source/event_type" to the tool a webhook event
	// deterministically becomes.
	WebhookTable map[string]string
}

// New builds a Router with the default webhook event table.
func New(planner *Planner, q store.Queue, r store.Receipts, runs RunStore) *Router {
	return &Router{Planner: planner, Queue: q, Receipts: r, Runs: runs, WebhookTable: DefaultWebhookTable}
}

// RunBrain implements the single externally observable Router operation:
// plan, and — depending on mode — enqueue and/or wait for receipts.
func (rt *Router) RunBrain(ctx context.Context, req contracts.RouterRequest) contracts.RouterResponse {
	runID := uuid.NewString()
	limits := normalizeLimits(req.Limits)

	planned, reason := rt.Planner.Plan(req.Message, req.Context, limits.MaxToolCalls)

	resp := contracts.RouterResponse{
		OK:       true,
		RunID:    runID,
		Decision: reason,
		Planned:  planned,
	}

	rec := contracts.RunRecord{
		RunID:          runID,
		Message:        req.Message,
		Mode:           req.Mode,
		DecisionReason: reason,
		Planned:        planned,
	}

	switch req.Mode {
	case contracts.ModeAnswer:
		// Produce plan only; never enqueue.
	case contracts.ModePlan:
		resp.Decision = "awaiting approval: " + reason
		rec.DecisionReason = resp.Decision
	case contracts.ModeEnqueue, contracts.ModeEnqueueAndWait:
		enqueued, errs := rt.enqueueAll(ctx, planned)
		resp.Enqueued = enqueued
		resp.Errors = errs
		rec.Enqueued = enqueued
		rec.Errors = errs

		if req.Mode == contracts.ModeEnqueueAndWait {
			receipts := rt.waitForReceipts(ctx, enqueued, limits)
			resp.Receipts = receipts
			rec.Receipts = receipts
			rec.Terminal = allTerminal(receipts)
		}
	default:
		resp.OK = false
		resp.Errors = append(resp.Errors, fmt.Sprintf("unknown mode %q", req.Mode))
		rec.Errors = resp.Errors
	}

	if rt.Runs != nil {
		rt.Runs.Put(ctx, rec)
	}
	return resp
}

func normalizeLimits(l *contracts.Limits) contracts.Limits {
	out := contracts.Limits{
		WaitTimeoutMS:  defaultWaitTimeoutMS,
		PollIntervalMS: defaultPollIntervalMS,
	}
	if l == nil {
		return out
	}
	if l.MaxToolCalls > 0 {
		out.MaxToolCalls = l.MaxToolCalls
	}
	if l.WaitTimeoutMS > 0 {
		out.WaitTimeoutMS = l.WaitTimeoutMS
	}
	if l.PollIntervalMS > 0 {
		out.PollIntervalMS = l.PollIntervalMS
	}
	return out
}

// enqueueAll writes each planned call to the queue. Per §4.3's failure
// semantics this is best-effort: a store error enqueueing call k does not
// roll back calls 0..k-1 — the response just reports the partial result
// honestly via the returned error strings.
func (rt *Router) enqueueAll(ctx context.Context, planned []contracts.PlannedCall) ([]contracts.EnqueuedCall, []string) {
	var enqueued []contracts.EnqueuedCall
	var errs []string

	now := time.Now()
	for _, call := range planned {
		callID := uuid.NewString()
		inv := contracts.Invocation{
			CallID:         callID,
			ToolName:       call.ToolName,
			Input:          call.Input,
			Status:         contracts.StatusQueued,
			IdempotencyKey: call.IdempotencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := rt.Queue.Enqueue(ctx, inv); err != nil {
			slog.ErrorContext(ctx, "router: enqueue failed", "tool_name", call.ToolName, "error", err)
			errs = append(errs, fmt.Sprintf("enqueueing %s: %v", call.ToolName, err))
			continue
		}
		enqueued = append(enqueued, contracts.EnqueuedCall{CallID: callID, ToolName: call.ToolName})
	}
	return enqueued, errs
}

// waitForReceipts polls Receipts.Get for each enqueued call until every
// receipt has arrived or wait_timeout_ms elapses, whichever comes first.
// The invocations themselves are never affected by the wait timing out —
// only the caller stops waiting, per §5's cancellation model.
func (rt *Router) waitForReceipts(ctx context.Context, enqueued []contracts.EnqueuedCall, limits contracts.Limits) []contracts.ReceiptView {
	views := make(map[string]contracts.ReceiptView, len(enqueued))
	for _, e := range enqueued {
		views[e.CallID] = contracts.ReceiptView{CallID: e.CallID, Pending: true}
	}

	deadline := time.Now().Add(time.Duration(limits.WaitTimeoutMS) * time.Millisecond)
	interval := time.Duration(limits.PollIntervalMS) * time.Millisecond

poll:
	for {
		pending := 0
		for _, e := range enqueued {
			if !views[e.CallID].Pending {
				continue
			}
			r, err := rt.Receipts.Get(ctx, e.CallID)
			if errors.Is(err, store.ErrNotFound) {
				pending++
				continue
			}
			if err != nil {
				slog.ErrorContext(ctx, "router: polling receipt failed", "call_id", e.CallID, "error", err)
				pending++
				continue
			}
			views[e.CallID] = contracts.ReceiptView{CallID: e.CallID, Status: r.Status, Result: r.Result}
		}

		if pending == 0 || time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			break poll
		case <-time.After(interval):
		}
	}

	out := make([]contracts.ReceiptView, 0, len(enqueued))
	for _, e := range enqueued {
		out = append(out, views[e.CallID])
	}
	return out
}

func allTerminal(views []contracts.ReceiptView) bool {
	for _, v := range views {
		if v.Pending {
			return false
		}
	}
	return true
}

// IngestWebhook maps a typed event to a single tool call via WebhookTable
// and enqueues it with a dedup idempotency_key. Returns "duplicate" when
// the store's unique index on idempotency_key rejects the write, "ignored"
// when the event type has no mapped tool, or "enqueued" with the new
// call_id otherwise.
func (rt *Router) IngestWebhook(ctx context.Context, event contracts.WebhookEvent) (status string, callID string, err error) {
	tool, ok := rt.WebhookTable[event.Source+"/"+event.EventType]
	if !ok {
		return "ignored", "", nil
	}

	input, err := json.Marshal(event.Payload)
	if err != nil {
		return "", "", fmt.Errorf("router: encoding webhook payload: %w", err)
	}

	idempKey := fmt.Sprintf("%s-%s-%s", event.Source, event.EventType, event.ExternalID)
	now := time.Now()
	callID = uuid.NewString()
	inv := contracts.Invocation{
		CallID:         callID,
		ToolName:       tool,
		Input:          input,
		Status:         contracts.StatusQueued,
		IdempotencyKey: idempKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := rt.Queue.Enqueue(ctx, inv); err != nil {
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
			return "duplicate", "", nil
		}
		return "", "", fmt.Errorf("router: enqueueing webhook call: %w", err)
	}
	return "enqueued", callID, nil
}

// DefaultWebhookTable maps "<source>/<event_type>" to the tool name a
// webhook delivery deterministically becomes.
var DefaultWebhookTable = map[string]string{
	"ghl/contact.created":      "leads.create",
	"ghl/appointment.booked":   "inspections.schedule",
	"stripe/invoice.paid":      "invoices.mark_paid",
	"twilio/message.delivered": "comms.send_sms",
}
