package invoices

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/callkaidsroofing/gem/pkg/handlers/kit"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE invoices (
			invoice_id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			amount_cents INTEGER NOT NULL,
			paid_amount_cents INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE UNIQUE INDEX idx_invoices_job_id ON invoices (job_id);
	`)
	if err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	return db
}

func TestCreate_InsertsInvoice(t *testing.T) {
	db := openTestDB(t)
	deps := kit.Deps{DB: db, Dialect: kit.DialectSQLite}

	input, _ := json.Marshal(createInput{JobID: "job-1", AmountCents: 10000})
	out, effects, err := Create(context.Background(), deps, input)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	var result createOutput
	_ = json.Unmarshal(out, &result)
	if result.InvoiceID == "" {
		t.Fatal("expected non-empty invoice_id")
	}
	if len(effects.DBWrites) != 1 {
		t.Fatalf("expected one db_writes effect, got %d", len(effects.DBWrites))
	}
}

// TestCreate_DuplicateJobReusesInvoice covers the concurrent keyed-create
// race: a second Create for a job already invoiced must not insert a second
// row, and must return the same invoice_id as the first call.
func TestCreate_DuplicateJobReusesInvoice(t *testing.T) {
	db := openTestDB(t)
	deps := kit.Deps{DB: db, Dialect: kit.DialectSQLite}

	input, _ := json.Marshal(createInput{JobID: "job-1", AmountCents: 10000})
	firstOut, _, err := Create(context.Background(), deps, input)
	if err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	var first createOutput
	_ = json.Unmarshal(firstOut, &first)

	secondOut, effects, err := Create(context.Background(), deps, input)
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}
	var second createOutput
	_ = json.Unmarshal(secondOut, &second)

	if second.InvoiceID != first.InvoiceID {
		t.Fatalf("expected reused invoice_id %s, got %s", first.InvoiceID, second.InvoiceID)
	}
	if !effects.IdempotencyHit {
		t.Fatalf("expected idempotency_hit on a reused invoice")
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM invoices WHERE job_id = ?", "job-1").Scan(&count); err != nil {
		t.Fatalf("counting invoices: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one invoice row for job, got %d", count)
	}
}

func TestMarkPaid_NotFound(t *testing.T) {
	db := openTestDB(t)
	deps := kit.Deps{DB: db, Dialect: kit.DialectSQLite}

	input, _ := json.Marshal(markPaidInput{InvoiceID: "missing", PaidAmountCents: 100})
	_, _, err := MarkPaid(context.Background(), deps, input)
	if err == nil {
		t.Fatal("expected error for missing invoice")
	}
}

func TestMarkPaid_FullAmountMarksPaid(t *testing.T) {
	db := openTestDB(t)
	deps := kit.Deps{DB: db, Dialect: kit.DialectSQLite}

	createInputBytes, _ := json.Marshal(createInput{JobID: "job-1", AmountCents: 10000})
	out, _, err := Create(context.Background(), deps, createInputBytes)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	var created createOutput
	_ = json.Unmarshal(out, &created)

	markInputBytes, _ := json.Marshal(markPaidInput{InvoiceID: created.InvoiceID, PaidAmountCents: 10000})
	markOut, _, err := MarkPaid(context.Background(), deps, markInputBytes)
	if err != nil {
		t.Fatalf("MarkPaid failed: %v", err)
	}
	var result markPaidOutput
	_ = json.Unmarshal(markOut, &result)
	if result.Status != "paid" {
		t.Fatalf("expected status paid, got %s", result.Status)
	}
}
