package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/callkaidsroofing/gem/pkg/contracts"
)

// PostgresQueue is the durable, multi-worker-safe invocation queue.
type PostgresQueue struct {
	db *sql.DB
}

func NewPostgresQueue(db *sql.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

const pgQueueSchema = `
CREATE TABLE IF NOT EXISTS invocations (
	call_id TEXT PRIMARY KEY,
	tool_name TEXT NOT NULL,
	input JSONB NOT NULL,
	status TEXT NOT NULL,
	idempotency_key TEXT,
	worker_id TEXT,
	claimed_at TIMESTAMPTZ,
	lease_until TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	error JSONB
);
CREATE INDEX IF NOT EXISTS idx_invocations_status_created
	ON invocations (status, created_at) WHERE status = 'queued';
CREATE INDEX IF NOT EXISTS idx_invocations_tool_idempotency
	ON invocations (tool_name, idempotency_key);
CREATE UNIQUE INDEX IF NOT EXISTS idx_invocations_idempotency_key_unique
	ON invocations (idempotency_key) WHERE idempotency_key IS NOT NULL;
`

func (q *PostgresQueue) Init(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, pgQueueSchema)
	return err
}

func (q *PostgresQueue) Enqueue(ctx context.Context, inv contracts.Invocation) error {
	query := `
		INSERT INTO invocations (call_id, tool_name, input, status, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.db.ExecContext(ctx, query,
		inv.CallID, inv.ToolName, []byte(inv.Input), contracts.StatusQueued,
		inv.IdempotencyKey, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store: enqueue %s: %w", inv.CallID, ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("store: enqueue %s: %w", inv.CallID, err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), the signal the webhook ingress and the keyed
// idempotency handlers rely on to recognize a dedup race they lost.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// ClaimNext uses SELECT ... FOR UPDATE SKIP LOCKED inside a single
// transaction so concurrent workers never observe the same queued row.
func (q *PostgresQueue) ClaimNext(ctx context.Context, workerID string, leaseFor time.Duration) (contracts.Invocation, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return contracts.Invocation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	const selectQuery = `
		SELECT call_id
		FROM invocations
		WHERE status = 'queued'
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`
	var callID string
	if err := tx.QueryRowContext(ctx, selectQuery).Scan(&callID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Invocation{}, ErrNoPending
		}
		return contracts.Invocation{}, err
	}

	now := time.Now()
	leaseUntil := now.Add(leaseFor)
	const updateQuery = `
		UPDATE invocations
		SET status = 'running', worker_id = $1, claimed_at = $2, lease_until = $3, updated_at = $2
		WHERE call_id = $4
	`
	if _, err := tx.ExecContext(ctx, updateQuery, workerID, now, leaseUntil, callID); err != nil {
		return contracts.Invocation{}, err
	}

	inv, err := scanInvocationRow(tx.QueryRowContext(ctx, invocationSelectColumns+" WHERE call_id = $1", callID))
	if err != nil {
		return contracts.Invocation{}, err
	}

	if err := tx.Commit(); err != nil {
		return contracts.Invocation{}, err
	}
	return inv, nil
}

func (q *PostgresQueue) Transition(ctx context.Context, callID string, next contracts.InvocationStatus, errPayload []byte) error {
	current, err := q.Get(ctx, callID)
	if err != nil {
		return err
	}
	if !current.Status.CanTransitionTo(next) {
		return fmt.Errorf("store: illegal transition %s -> %s for %s", current.Status, next, callID)
	}
	query := `UPDATE invocations SET status = $1, error = $2, updated_at = $3 WHERE call_id = $4`
	_, err = q.db.ExecContext(ctx, query, next, nullableJSON(errPayload), time.Now(), callID)
	return err
}

const invocationSelectColumns = `
	SELECT call_id, tool_name, input, status, idempotency_key, worker_id, claimed_at, created_at, updated_at, error
	FROM invocations`

func (q *PostgresQueue) Get(ctx context.Context, callID string) (contracts.Invocation, error) {
	inv, err := scanInvocationRow(q.db.QueryRowContext(ctx, invocationSelectColumns+" WHERE call_id = $1", callID))
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Invocation{}, ErrNotFound
	}
	return inv, err
}

func (q *PostgresQueue) ReclaimStale(ctx context.Context, olderThan time.Time) ([]contracts.Invocation, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT call_id, tool_name, input, status, idempotency_key, worker_id, claimed_at, created_at, updated_at, error
		FROM invocations WHERE status = 'running' AND lease_until < $1
	`, olderThan)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Invocation
	for rows.Next() {
		inv, err := scanInvocationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvocationRow(row rowScanner) (contracts.Invocation, error) {
	var inv contracts.Invocation
	var input, errPayload []byte
	var idemKey, workerID sql.NullString
	var claimedAt sql.NullTime
	if err := row.Scan(
		&inv.CallID, &inv.ToolName, &input, &inv.Status, &idemKey, &workerID,
		&claimedAt, &inv.CreatedAt, &inv.UpdatedAt, &errPayload,
	); err != nil {
		return contracts.Invocation{}, err
	}
	inv.Input = input
	inv.IdempotencyKey = idemKey.String
	inv.WorkerID = workerID.String
	if claimedAt.Valid {
		t := claimedAt.Time
		inv.ClaimedAt = &t
	}
	if len(errPayload) > 0 {
		inv.Error = errPayload
	}
	return inv, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
