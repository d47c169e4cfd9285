package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/callkaidsroofing/gem/pkg/contracts"
)

// PostgresReceipts is the durable receipt store. A receipt is written
// exactly once per call_id, enforced by a unique constraint rather than an
// application-level check-then-insert.
type PostgresReceipts struct {
	db *sql.DB
}

func NewPostgresReceipts(db *sql.DB) *PostgresReceipts {
	return &PostgresReceipts{db: db}
}

const pgReceiptsSchema = `
CREATE TABLE IF NOT EXISTS receipts (
	call_id TEXT PRIMARY KEY,
	tool_name TEXT NOT NULL,
	status TEXT NOT NULL,
	result JSONB,
	effects JSONB NOT NULL,
	idempotency_key TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_receipts_tool_idempotency
	ON receipts (tool_name, idempotency_key, created_at DESC);
`

func (s *PostgresReceipts) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgReceiptsSchema)
	return err
}

func (s *PostgresReceipts) Store(ctx context.Context, r contracts.Receipt, idempotencyKey string) error {
	effectsJSON, err := marshalEffects(r.Effects)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO receipts (call_id, tool_name, status, result, effects, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, query,
		r.CallID, r.ToolName, r.Status, []byte(r.Result), effectsJSON, nullableString(idempotencyKey), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: receipt for %s already exists or failed to insert: %w", r.CallID, err)
	}
	return nil
}

const receiptSelectColumns = `
	SELECT call_id, tool_name, status, result, effects, created_at
	FROM receipts`

func (s *PostgresReceipts) Get(ctx context.Context, callID string) (contracts.Receipt, error) {
	return s.queryOne(ctx, receiptSelectColumns+" WHERE call_id = $1", callID)
}

func (s *PostgresReceipts) FindByIdempotencyKey(ctx context.Context, toolName, key string) (contracts.Receipt, error) {
	query := receiptSelectColumns + `
		WHERE tool_name = $1 AND idempotency_key = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return s.queryOne(ctx, query, toolName, key)
}

func (s *PostgresReceipts) queryOne(ctx context.Context, query string, args ...any) (contracts.Receipt, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	var r contracts.Receipt
	var result, effects []byte
	if err := row.Scan(&r.CallID, &r.ToolName, &r.Status, &result, &effects, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Receipt{}, ErrNotFound
		}
		return contracts.Receipt{}, err
	}
	r.Result = result
	if err := unmarshalEffects(effects, &r.Effects); err != nil {
		return contracts.Receipt{}, fmt.Errorf("store: corrupt effects for %s: %w", r.CallID, err)
	}
	return r, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
