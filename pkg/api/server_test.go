package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callkaidsroofing/gem/pkg/api"
	"github.com/callkaidsroofing/gem/pkg/contracts"
	"github.com/callkaidsroofing/gem/pkg/registry"
	"github.com/callkaidsroofing/gem/pkg/router"
	"github.com/callkaidsroofing/gem/pkg/store"
)

type fakeQueue struct{ rows map[string]contracts.Invocation }

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

type fakeReceipts struct{ byCallID map[string]contracts.Receipt }

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

func newTestServer(t *testing.T) *api.Server {
	t.Helper()
	reg, err := registry.Load("../../registry/tools.yaml")
	require.NoError(t, err)
	planner, err := router.NewPlanner(router.DefaultRules, reg)
	require.NoError(t, err)
	rt := router.New(planner, newFakeQueue(), newFakeReceipts(), router.NewMemoryRunStore(100))

	limiter := api.NewGlobalRateLimiter(1000, 1000)
	return api.NewServer(rt, reg, map[string]string{"ghl": "shhh"}, nil, limiter)
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "gem-router", body["service"])
}

func TestHandleTools_ListsCatalogue(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/brain/tools", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string][]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["tools"])
}

func TestHandleHelp_ReturnsText(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/brain/help", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleBrainRun_AnswerMode(t *testing.T) {
	srv := newTestServer(t)
	body, _ := json.Marshal(contracts.RouterRequest{
		Message: "new lead: John Citizen, 0412345678, Clayton, referral",
		Mode:    contracts.ModeAnswer,
	})
	req := httptest.NewRequest(http.MethodPost, "/brain/run", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp contracts.RouterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	require.Len(t, resp.Planned, 1)
	assert.Equal(t, "leads.create", resp.Planned[0].ToolName)
}

func TestHandleBrainRun_RejectsMissingMessage(t *testing.T) {
	srv := newTestServer(t)
	body, _ := json.Marshal(contracts.RouterRequest{Mode: contracts.ModeAnswer})
	req := httptest.NewRequest(http.MethodPost, "/brain/run", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBrainRun_RejectsUnknownMode(t *testing.T) {
	srv := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"message": "hi", "mode": "bogus"})
	req := httptest.NewRequest(http.MethodPost, "/brain/run", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWebhook_UnsignedRequestRejectedWhenSecretConfigured(t *testing.T) {
	srv := newTestServer(t)
	body, _ := json.Marshal(map[string]any{
		"event_type": "contact.created", "external_id": "ext-1", "payload": map[string]any{"name": "Jo"},
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/ghl", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleWebhook_UnknownSourceSkipsSignatureCheck(t *testing.T) {
	srv := newTestServer(t)
	body, _ := json.Marshal(map[string]any{
		"event_type": "whatever", "external_id": "ext-1", "payload": map[string]any{},
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/unknownsource", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ignored", resp["status"])
}
