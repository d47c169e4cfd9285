package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/callkaidsroofing/gem/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteQueue and SQLiteReceipts back "lite mode" — a single-process,
// file-or-memory-backed deployment for local development and the Lite
// Mode acceptance scenario. SQLite has no FOR UPDATE SKIP LOCKED, so
// ClaimNext runs the select-then-update in one ordinary (deferred)
// transaction and relies on SQLite's single-writer database lock: of two
// goroutines racing for the same row, only one can commit its UPDATE and
// the other's claim fails with a busy error. It does not issue BEGIN
// IMMEDIATE. Lite mode is single-process, so this lock is the only
// serialization needed.
type SQLiteQueue struct {
	db *sql.DB
}

func NewSQLiteQueue(db *sql.DB) *SQLiteQueue {
	return &SQLiteQueue{db: db}
}

const sqliteQueueSchema = `
CREATE TABLE IF NOT EXISTS invocations (
	call_id TEXT PRIMARY KEY,
	tool_name TEXT NOT NULL,
	input TEXT NOT NULL,
	status TEXT NOT NULL,
	idempotency_key TEXT,
	worker_id TEXT,
	claimed_at TEXT,
	lease_until TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_invocations_status_created ON invocations (status, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_invocations_idempotency_key_unique
	ON invocations (idempotency_key) WHERE idempotency_key IS NOT NULL;
`

func (q *SQLiteQueue) Init(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, sqliteQueueSchema)
	return err
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, inv contracts.Invocation) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO invocations (call_id, tool_name, input, status, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, inv.CallID, inv.ToolName, string(inv.Input), contracts.StatusQueued, inv.IdempotencyKey,
		inv.CreatedAt.Format(time.RFC3339Nano), inv.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return fmt.Errorf("store: enqueue %s: %w", inv.CallID, ErrDuplicateIdempotencyKey)
		}
		return fmt.Errorf("store: enqueue %s: %w", inv.CallID, err)
	}
	return nil
}

// isSQLiteUniqueViolation reports whether err is modernc.org/sqlite's
// surfaced form of a UNIQUE constraint failure. The driver wraps the
// underlying SQLite error message rather than exposing a typed code the
// way lib/pq does, so this matches on the same string SQLite itself uses.
func isSQLiteUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (q *SQLiteQueue) ClaimNext(ctx context.Context, workerID string, leaseFor time.Duration) (contracts.Invocation, error) {
	tx, err := q.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return contracts.Invocation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var callID string
	err = tx.QueryRowContext(ctx, `
		SELECT call_id FROM invocations WHERE status = 'queued' ORDER BY created_at ASC LIMIT 1
	`).Scan(&callID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Invocation{}, ErrNoPending
		}
		return contracts.Invocation{}, err
	}

	now := time.Now()
	leaseUntil := now.Add(leaseFor)
	_, err = tx.ExecContext(ctx, `
		UPDATE invocations SET status = 'running', worker_id = ?, claimed_at = ?, lease_until = ?, updated_at = ?
		WHERE call_id = ?
	`, workerID, now.Format(time.RFC3339Nano), leaseUntil.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), callID)
	if err != nil {
		return contracts.Invocation{}, err
	}

	inv, err := sqliteScanInvocation(tx.QueryRowContext(ctx, sqliteInvocationColumns+" WHERE call_id = ?", callID))
	if err != nil {
		return contracts.Invocation{}, err
	}
	if err := tx.Commit(); err != nil {
		return contracts.Invocation{}, err
	}
	return inv, nil
}

const sqliteInvocationColumns = `
	SELECT call_id, tool_name, input, status, idempotency_key, worker_id, claimed_at, created_at, updated_at, error
	FROM invocations`

func (q *SQLiteQueue) Transition(ctx context.Context, callID string, next contracts.InvocationStatus, errPayload []byte) error {
	current, err := q.Get(ctx, callID)
	if err != nil {
		return err
	}
	if !current.Status.CanTransitionTo(next) {
		return fmt.Errorf("store: illegal transition %s -> %s for %s", current.Status, next, callID)
	}
	_, err = q.db.ExecContext(ctx, `
		UPDATE invocations SET status = ?, error = ?, updated_at = ? WHERE call_id = ?
	`, string(next), nullableSQLiteJSON(errPayload), time.Now().Format(time.RFC3339Nano), callID)
	return err
}

func (q *SQLiteQueue) Get(ctx context.Context, callID string) (contracts.Invocation, error) {
	inv, err := sqliteScanInvocation(q.db.QueryRowContext(ctx, sqliteInvocationColumns+" WHERE call_id = ?", callID))
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Invocation{}, ErrNotFound
	}
	return inv, err
}

func (q *SQLiteQueue) ReclaimStale(ctx context.Context, olderThan time.Time) ([]contracts.Invocation, error) {
	rows, err := q.db.QueryContext(ctx, sqliteInvocationColumns+` WHERE status = 'running' AND lease_until < ?`,
		olderThan.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Invocation
	for rows.Next() {
		inv, err := sqliteScanInvocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func sqliteScanInvocation(row rowScanner) (contracts.Invocation, error) {
	var inv contracts.Invocation
	var input, errPayload sql.NullString
	var idemKey, workerID, claimedAt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(
		&inv.CallID, &inv.ToolName, &input, &inv.Status, &idemKey, &workerID,
		&claimedAt, &createdAt, &updatedAt, &errPayload,
	); err != nil {
		return contracts.Invocation{}, err
	}
	inv.Input = []byte(input.String)
	inv.IdempotencyKey = idemKey.String
	inv.WorkerID = workerID.String
	if claimedAt.Valid && claimedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, claimedAt.String)
		if err == nil {
			inv.ClaimedAt = &t
		}
	}
	if createdAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			inv.CreatedAt = t
		}
	}
	if updatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			inv.UpdatedAt = t
		}
	}
	if errPayload.Valid && errPayload.String != "" {
		inv.Error = []byte(errPayload.String)
	}
	return inv, nil
}

func nullableSQLiteJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// SQLiteReceipts is the lite-mode receipt store.
type SQLiteReceipts struct {
	db *sql.DB
}

func NewSQLiteReceipts(db *sql.DB) *SQLiteReceipts {
	return &SQLiteReceipts{db: db}
}

const sqliteReceiptsSchema = `
CREATE TABLE IF NOT EXISTS receipts (
	call_id TEXT PRIMARY KEY,
	tool_name TEXT NOT NULL,
	status TEXT NOT NULL,
	result TEXT,
	effects TEXT NOT NULL,
	idempotency_key TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_receipts_tool_idempotency ON receipts (tool_name, idempotency_key, created_at DESC);
`

func (s *SQLiteReceipts) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteReceiptsSchema)
	return err
}

func (s *SQLiteReceipts) Store(ctx context.Context, r contracts.Receipt, idempotencyKey string) error {
	effectsJSON, err := marshalEffects(r.Effects)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO receipts (call_id, tool_name, status, result, effects, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.CallID, r.ToolName, string(r.Status), string(r.Result), string(effectsJSON),
		nullableSQLiteJSON([]byte(idempotencyKey)), r.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: receipt for %s already exists or failed to insert: %w", r.CallID, err)
	}
	return nil
}

const sqliteReceiptColumns = `
	SELECT call_id, tool_name, status, result, effects, created_at
	FROM receipts`

func (s *SQLiteReceipts) Get(ctx context.Context, callID string) (contracts.Receipt, error) {
	return s.queryOne(ctx, sqliteReceiptColumns+" WHERE call_id = ?", callID)
}

func (s *SQLiteReceipts) FindByIdempotencyKey(ctx context.Context, toolName, key string) (contracts.Receipt, error) {
	query := sqliteReceiptColumns + `
		WHERE tool_name = ? AND idempotency_key = ?
		ORDER BY created_at DESC
		LIMIT 1
	`
	return s.queryOne(ctx, query, toolName, key)
}

func (s *SQLiteReceipts) queryOne(ctx context.Context, query string, args ...any) (contracts.Receipt, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	var r contracts.Receipt
	var result, effects, createdAt string
	if err := row.Scan(&r.CallID, &r.ToolName, &r.Status, &result, &effects, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Receipt{}, ErrNotFound
		}
		return contracts.Receipt{}, err
	}
	r.Result = []byte(result)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		r.CreatedAt = t
	}
	if err := unmarshalEffects([]byte(effects), &r.Effects); err != nil {
		return contracts.Receipt{}, fmt.Errorf("store: corrupt effects for %s: %w", r.CallID, err)
	}
	return r, nil
}
