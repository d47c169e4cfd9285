// Package store persists invocations (the work queue) and receipts (the
// terminal record of an invocation). Both interfaces are implemented twice:
// once against Postgres for production, once against SQLite for "lite mode"
// local/dev runs. Handlers and the worker loop depend only on the
// interfaces, never on a concrete driver.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/callkaidsroofing/gem/pkg/contracts"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// ErrNoPending is returned by ClaimNext when the queue is empty.
var ErrNoPending = errors.New("store: no pending invocations")

// ErrDuplicateIdempotencyKey is returned by Enqueue when a non-null
// idempotency_key collides with an existing queue row. The webhook
// ingress relies on this to collapse duplicate deliveries: the unique
// index backing it is the only thing standing between two concurrent
// deliveries and two queue rows.
var ErrDuplicateIdempotencyKey = errors.New("store: idempotency_key already queued")

// Queue is the invocation work queue: enqueue, atomically claim, transition.
type Queue interface {
	// Enqueue inserts a new invocation in the queued state.
	Enqueue(ctx context.Context, inv contracts.Invocation) error

	// ClaimNext atomically selects and leases the oldest queued invocation
	// to workerID, transitioning it to running. Returns ErrNoPending if the
	// queue is empty. Must never hand the same row to two callers.
	ClaimNext(ctx context.Context, workerID string, leaseFor time.Duration) (contracts.Invocation, error)

	// Transition moves an invocation to a terminal status, recording an
	// optional error payload. Fails if the transition is not legal per
	// contracts.InvocationStatus.CanTransitionTo.
	Transition(ctx context.Context, callID string, next contracts.InvocationStatus, errPayload []byte) error

	// Get returns the current row for callID.
	Get(ctx context.Context, callID string) (contracts.Invocation, error)

	// ReclaimStale finds running invocations whose lease has expired and
	// returns them for the sweeper to fail out with worker_lost receipts.
	ReclaimStale(ctx context.Context, olderThan time.Time) ([]contracts.Invocation, error)

	// Init creates the backing schema if it does not already exist.
	Init(ctx context.Context) error
}

// Receipts is the append-mostly store of terminal invocation outcomes. A
// receipt is written exactly once per terminal invocation; duplicate writes
// for the same call_id are rejected by a unique constraint, not silently
// merged.
type Receipts interface {
	// Store inserts a new receipt. idempotencyKey is the value (if any)
	// extracted from the originating invocation's key field, persisted
	// alongside the receipt so FindByIdempotencyKey can locate it later.
	// Returns an error if call_id already has a receipt.
	Store(ctx context.Context, r contracts.Receipt, idempotencyKey string) error

	// Get returns the receipt for callID.
	Get(ctx context.Context, callID string) (contracts.Receipt, error)

	// FindByIdempotencyKey looks up the most recent receipt for a tool +
	// idempotency key pair, used by keyed and safe-retry idempotency checks.
	FindByIdempotencyKey(ctx context.Context, toolName, key string) (contracts.Receipt, error)

	// Init creates the backing schema if it does not already exist.
	Init(ctx context.Context) error
}
