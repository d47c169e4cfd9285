package router

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callkaidsroofing/gem/pkg/contracts"
	"github.com/callkaidsroofing/gem/pkg/store"
)

// fakeQueue and fakeReceipts are minimal in-memory stand-ins so router
// tests never need a real database.

type fakeQueue struct {
	rows map[string]contracts.Invocation
}

func newFakeQueue() *fakeQueue { return &fakeQueue{rows: map[string]contracts.Invocation{}} }

func (f *fakeQueue) Enqueue(ctx context.Context, inv contracts.Invocation) error {
	if inv.IdempotencyKey != "" {
		for _, existing := range f.rows {
			if existing.IdempotencyKey == inv.IdempotencyKey {
				return store.ErrDuplicateIdempotencyKey
			}
		}
	}
	f.rows[inv.CallID] = inv
	return nil
}

func (f *fakeQueue) ClaimNext(ctx context.Context, workerID string, leaseFor time.Duration) (contracts.Invocation, error) {
	return contracts.Invocation{}, store.ErrNoPending
}
func (f *fakeQueue) Transition(ctx context.Context, callID string, next contracts.InvocationStatus, errPayload []byte) error {
	inv := f.rows[callID]
	inv.Status = next
	f.rows[callID] = inv
	return nil
}
func (f *fakeQueue) Get(ctx context.Context, callID string) (contracts.Invocation, error) {
	inv, ok := f.rows[callID]
	if !ok {
		return contracts.Invocation{}, store.ErrNotFound
	}
	return inv, nil
}
func (f *fakeQueue) ReclaimStale(ctx context.Context, olderThan time.Time) ([]contracts.Invocation, error) {
	return nil, nil
}
func (f *fakeQueue) Init(ctx context.Context) error { return nil }

type fakeReceipts struct {
	byCallID map[string]contracts.Receipt
}

func newFakeReceipts() *fakeReceipts { return &fakeReceipts{byCallID: map[string]contracts.Receipt{}} }

func (f *fakeReceipts) Store(ctx context.Context, r contracts.Receipt, idempotencyKey string) error {
	f.byCallID[r.CallID] = r
	return nil
}
func (f *fakeReceipts) Get(ctx context.Context, callID string) (contracts.Receipt, error) {
	r, ok := f.byCallID[callID]
	if !ok {
		return contracts.Receipt{}, store.ErrNotFound
	}
	return r, nil
}
func (f *fakeReceipts) FindByIdempotencyKey(ctx context.Context, toolName, key string) (contracts.Receipt, error) {
	return contracts.Receipt{}, store.ErrNotFound
}
func (f *fakeReceipts) Init(ctx context.Context) error { return nil }

func newTestRouter(t *testing.T) (*Router, *fakeQueue, *fakeReceipts) {
	t.Helper()
	reg := loadTestRegistry(t)
	planner, err := NewPlanner(DefaultRules, reg)
	require.NoError(t, err)
	q := newFakeQueue()
	r := newFakeReceipts()
	return New(planner, q, r, NewMemoryRunStore(100)), q, r
}

func TestRunBrain_AnswerModeDoesNotEnqueue(t *testing.T) {
	rt, q, _ := newTestRouter(t)
	resp := rt.RunBrain(context.Background(), contracts.RouterRequest{
		Message: "new lead: John Citizen, 0412345678, Clayton, referral",
		Mode:    contracts.ModeAnswer,
	})
	assert.True(t, resp.OK)
	require.Len(t, resp.Planned, 1)
	assert.Empty(t, resp.Enqueued)
	assert.Empty(t, q.rows)
}

func TestRunBrain_PlanModeMarksAwaitingApproval(t *testing.T) {
	rt, _, _ := newTestRouter(t)
	resp := rt.RunBrain(context.Background(), contracts.RouterRequest{
		Message: "new lead: John Citizen, 0412345678, Clayton, referral",
		Mode:    contracts.ModePlan,
	})
	assert.Contains(t, resp.Decision, "awaiting approval")
}

func TestRunBrain_EnqueueModeWritesInvocation(t *testing.T) {
	rt, q, _ := newTestRouter(t)
	resp := rt.RunBrain(context.Background(), contracts.RouterRequest{
		Message: "new lead: John Citizen, 0412345678, Clayton, referral",
		Mode:    contracts.ModeEnqueue,
	})
	require.Len(t, resp.Enqueued, 1)
	assert.Len(t, q.rows, 1)
	assert.Empty(t, resp.Errors)
}

func TestRunBrain_EnqueueAndWaitReturnsPendingOnTimeout(t *testing.T) {
	rt, _, _ := newTestRouter(t)
	resp := rt.RunBrain(context.Background(), contracts.RouterRequest{
		Message: "new lead: John Citizen, 0412345678, Clayton, referral",
		Mode:    contracts.ModeEnqueueAndWait,
		Limits:  &contracts.Limits{WaitTimeoutMS: 50, PollIntervalMS: 10},
	})
	require.Len(t, resp.Receipts, 1)
	assert.True(t, resp.Receipts[0].Pending)
}

func TestRunBrain_EnqueueAndWaitReturnsReceiptOnceSealed(t *testing.T) {
	rt, _, receipts := newTestRouter(t)

	// Seed a receipt asynchronously so the poll loop has to wait at least
	// one interval before seeing it.
	resp := rt.RunBrain(context.Background(), contracts.RouterRequest{
		Message: "new lead: John Citizen, 0412345678, Clayton, referral",
		Mode:    contracts.ModeEnqueue,
	})
	require.Len(t, resp.Enqueued, 1)
	callID := resp.Enqueued[0].CallID

	go func() {
		time.Sleep(20 * time.Millisecond)
		result, _ := json.Marshal(map[string]any{"lead_id": "lead-1", "created": true})
		_ = receipts.Store(context.Background(), contracts.Receipt{
			CallID: callID, ToolName: "leads.create", Status: contracts.ReceiptSucceeded, Result: result,
		}, "0412345678")
	}()

	views := rt.waitForReceipts(context.Background(), resp.Enqueued, contracts.Limits{WaitTimeoutMS: 500, PollIntervalMS: 10})
	require.Len(t, views, 1)
	assert.False(t, views[0].Pending)
	assert.Equal(t, contracts.ReceiptSucceeded, views[0].Status)
}

func TestRunBrain_NoMatchProducesEmptyPlanAndReason(t *testing.T) {
	rt, _, _ := newTestRouter(t)
	resp := rt.RunBrain(context.Background(), contracts.RouterRequest{Message: "hello there", Mode: contracts.ModeAnswer})
	assert.Empty(t, resp.Planned)
	assert.Contains(t, resp.Decision, "no planner rule matched")
}

func TestIngestWebhook_UnknownEventIsIgnored(t *testing.T) {
	rt, _, _ := newTestRouter(t)
	status, _, err := rt.IngestWebhook(context.Background(), contracts.WebhookEvent{Source: "unknown", EventType: "whatever"})
	require.NoError(t, err)
	assert.Equal(t, "ignored", status)
}

func TestIngestWebhook_DuplicateDeliveryCollapses(t *testing.T) {
	rt, _, _ := newTestRouter(t)
	event := contracts.WebhookEvent{
		Source: "ghl", EventType: "contact.created", ExternalID: "ext-1",
		Payload: map[string]any{"name": "John"},
	}
	status1, callID1, err := rt.IngestWebhook(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, "enqueued", status1)
	assert.NotEmpty(t, callID1)

	status2, callID2, err := rt.IngestWebhook(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, "duplicate", status2)
	assert.Empty(t, callID2)
}
