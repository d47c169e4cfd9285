//go:build property
// +build property

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/callkaidsroofing/gem/pkg/contracts"
	"github.com/callkaidsroofing/gem/pkg/handlers/kit"
	"github.com/callkaidsroofing/gem/pkg/idempotency"
	"github.com/callkaidsroofing/gem/pkg/registry"
	"github.com/callkaidsroofing/gem/pkg/store"
)

// concurrentFakeQueue is a thread-safe in-memory store.Queue, standing in
// for Postgres's SELECT ... FOR UPDATE SKIP LOCKED: ClaimNext must never
// hand the same queued row to two concurrent callers, the property these
// tests exist to check.
type concurrentFakeQueue struct {
	mu     sync.Mutex
	rows   map[string]contracts.Invocation
	claims map[string]int // call_id -> number of times ClaimNext returned it
}

func newConcurrentFakeQueue(invs []contracts.Invocation) *concurrentFakeQueue {
	q := &concurrentFakeQueue{rows: map[string]contracts.Invocation{}, claims: map[string]int{}}
	for _, inv := range invs {
		q.rows[inv.CallID] = inv
	}
	return q
}

func (q *concurrentFakeQueue) Enqueue(ctx context.Context, inv contracts.Invocation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rows[inv.CallID] = inv
	return nil
}

func (q *concurrentFakeQueue) ClaimNext(ctx context.Context, workerID string, leaseFor time.Duration) (contracts.Invocation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, inv := range q.rows {
		if inv.Status != contracts.StatusQueued {
			continue
		}
		inv.Status = contracts.StatusRunning
		inv.WorkerID = workerID
		q.rows[id] = inv
		q.claims[id]++
		return inv, nil
	}
	return contracts.Invocation{}, store.ErrNoPending
}

func (q *concurrentFakeQueue) Transition(ctx context.Context, callID string, next contracts.InvocationStatus, errPayload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	inv, ok := q.rows[callID]
	if !ok {
		return store.ErrNotFound
	}
	if !inv.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal transition %s -> %s", inv.Status, next)
	}
	inv.Status = next
	inv.Error = errPayload
	q.rows[callID] = inv
	return nil
}

func (q *concurrentFakeQueue) Get(ctx context.Context, callID string) (contracts.Invocation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	inv, ok := q.rows[callID]
	if !ok {
		return contracts.Invocation{}, store.ErrNotFound
	}
	return inv, nil
}

func (q *concurrentFakeQueue) ReclaimStale(ctx context.Context, olderThan time.Time) ([]contracts.Invocation, error) {
	return nil, nil
}

func (q *concurrentFakeQueue) Init(ctx context.Context) error { return nil }

// doubleClaims reports any call_id ClaimNext handed out more than once —
// a direct violation of the no-duplicate-claim invariant.
func (q *concurrentFakeQueue) doubleClaims() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for id, n := range q.claims {
		if n > 1 {
			out = append(out, id)
		}
	}
	return out
}

type concurrentFakeReceipts struct {
	mu       sync.Mutex
	byCallID map[string]contracts.Receipt
	writes   map[string]int // call_id -> number of Store calls that succeeded
}

func newConcurrentFakeReceipts() *concurrentFakeReceipts {
	return &concurrentFakeReceipts{byCallID: map[string]contracts.Receipt{}, writes: map[string]int{}}
}

func (r *concurrentFakeReceipts) Store(ctx context.Context, rec contracts.Receipt, idemKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byCallID[rec.CallID]; exists {
		return fmt.Errorf("receipt for %s already sealed", rec.CallID)
	}
	r.byCallID[rec.CallID] = rec
	r.writes[rec.CallID]++
	return nil
}

func (r *concurrentFakeReceipts) Get(ctx context.Context, callID string) (contracts.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byCallID[callID]
	if !ok {
		return contracts.Receipt{}, store.ErrNotFound
	}
	return rec, nil
}

func (r *concurrentFakeReceipts) FindByIdempotencyKey(ctx context.Context, toolName, key string) (contracts.Receipt, error) {
	return contracts.Receipt{}, store.ErrNotFound
}

func (r *concurrentFakeReceipts) Init(ctx context.Context) error { return nil }

func propertyEchoTool() contracts.Tool {
	return contracts.Tool{
		Name:         "diagnostics.slow_echo",
		InputSchema:  map[string]any{"type": "object"},
		OutputSchema: map[string]any{"type": "object"},
		Idempotency:  contracts.Idempotency{Mode: contracts.IdempotencyNone},
		TimeoutMS:    1000,
	}
}

// TestProperty_ExactlyOneReceiptPerInvocation checks invariant 1: under N
// queued invocations drained by W concurrent workers, every invocation
// ends with exactly one sealed receipt — never zero, never more than one.
func TestProperty_ExactlyOneReceiptPerInvocation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("every queued invocation ends with exactly one receipt", prop.ForAll(
		func(n, workers int) bool {
			invs := makeInvocations(n)
			q := newConcurrentFakeQueue(invs)
			r := newConcurrentFakeReceipts()
			runWorkers(t, q, r, workers)

			for _, inv := range invs {
				if r.writes[inv.CallID] != 1 {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 30),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}

// TestProperty_StatusMonotonicity checks invariant 2: every invocation
// lands in exactly one terminal status (succeeded or failed), never stays
// queued/running once every worker has drained the queue.
func TestProperty_StatusMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("every invocation reaches a terminal status exactly once", prop.ForAll(
		func(n, workers int) bool {
			invs := makeInvocations(n)
			q := newConcurrentFakeQueue(invs)
			r := newConcurrentFakeReceipts()
			runWorkers(t, q, r, workers)

			for _, inv := range invs {
				final, err := q.Get(context.Background(), inv.CallID)
				if err != nil {
					return false
				}
				if final.Status != contracts.StatusSucceeded && final.Status != contracts.StatusFailed {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 30),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}

// TestProperty_NoDuplicateClaim checks invariant 3: ClaimNext never hands
// the same invocation to two workers, regardless of how many workers race
// to drain the same queue.
func TestProperty_NoDuplicateClaim(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("no invocation is ever claimed twice", prop.ForAll(
		func(n, workers int) bool {
			invs := makeInvocations(n)
			q := newConcurrentFakeQueue(invs)
			r := newConcurrentFakeReceipts()
			runWorkers(t, q, r, workers)

			return len(q.doubleClaims()) == 0
		},
		gen.IntRange(1, 30),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}

func makeInvocations(n int) []contracts.Invocation {
	now := time.Now()
	out := make([]contracts.Invocation, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, contracts.Invocation{
			CallID:    fmt.Sprintf("call-%d", i),
			ToolName:  "diagnostics.slow_echo",
			Input:     []byte(`{}`),
			Status:    contracts.StatusQueued,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return out
}

// runWorkers drains q with the given number of concurrent Workers, each
// running until the queue reports no pending work.
func runWorkers(t *testing.T, q *concurrentFakeQueue, r *concurrentFakeReceipts, n int) {
	t.Helper()
	reg, err := registry.NewFromTools([]contracts.Tool{propertyEchoTool()})
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	idemp := idempotency.NewChecker(r)
	dispatch := stubDispatcher{name: "diagnostics.slow_echo", fn: func(ctx context.Context, deps kit.Deps, input json.RawMessage) (json.RawMessage, contracts.Effects, error) {
		return []byte(`{}`), contracts.Effects{}, nil
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		w := &Worker{
			ID: fmt.Sprintf("w%d", i), Queue: q, Receipts: r, Registry: reg,
			Dispatch: dispatch, Idemp: idemp, Deps: kit.Deps{},
			PollInterval: time.Millisecond,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Run(ctx)
		}()
	}

	// Stop once the queue has no more queued rows for a couple of poll
	// intervals in a row, rather than waiting for the full ctx timeout.
	for {
		time.Sleep(5 * time.Millisecond)
		if !hasQueued(q) {
			time.Sleep(10 * time.Millisecond)
			if !hasQueued(q) {
				break
			}
		}
	}
	cancel()
	wg.Wait()
}

func hasQueued(q *concurrentFakeQueue) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, inv := range q.rows {
		if inv.Status == contracts.StatusQueued {
			return true
		}
	}
	return false
}
