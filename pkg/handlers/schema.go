package handlers

import (
	"context"
	"database/sql"
)

// businessSchema is portable across Postgres and SQLite: plain TEXT
// columns, no SERIAL/AUTOINCREMENT, app-generated UUID primary keys. This
// mirrors the teacher's own inline "CREATE TABLE IF NOT EXISTS" / Init(ctx)
// convention rather than introducing a migration tool it never uses.
const businessSchema = `
CREATE TABLE IF NOT EXISTS leads (
	lead_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	phone TEXT NOT NULL,
	suburb TEXT NOT NULL,
	source TEXT NOT NULL,
	notes TEXT,
	stage TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_phone ON leads (phone);
CREATE TABLE IF NOT EXISTS inspections (
	inspection_id TEXT PRIMARY KEY,
	lead_id TEXT NOT NULL,
	scheduled_for TEXT NOT NULL,
	status TEXT NOT NULL,
	findings TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_inspections_lead_scheduled ON inspections (lead_id, scheduled_for);
CREATE TABLE IF NOT EXISTS quotes (
	quote_id TEXT PRIMARY KEY,
	lead_id TEXT NOT NULL,
	amount_cents INTEGER NOT NULL,
	document_uri TEXT,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS jobs (
	job_id TEXT PRIMARY KEY,
	quote_id TEXT NOT NULL,
	scheduled_for TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_quote_id ON jobs (quote_id);
CREATE TABLE IF NOT EXISTS invoices (
	invoice_id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	amount_cents INTEGER NOT NULL,
	paid_amount_cents INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_job_id ON invoices (job_id);
`

// InitSchema creates the business-data tables used by the domain handlers.
// Called once at startup by cmd/worker, same spirit as the
// teacher's per-store Init(ctx) methods.
func InitSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, businessSchema)
	return err
}
