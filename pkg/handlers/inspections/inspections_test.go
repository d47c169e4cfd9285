package inspections

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
		CREATE TABLE inspections (
			inspection_id TEXT PRIMARY KEY,
			lead_id TEXT NOT NULL,
			scheduled_for TEXT NOT NULL,
			status TEXT NOT NULL,
			findings TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE UNIQUE INDEX idx_inspections_lead_scheduled ON inspections (lead_id, scheduled_for);
	`)
	if err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	return db
}

func TestSchedule_InsertsInspection(t *testing.T) {
	db := openTestDB(t)
	deps := kit.Deps{DB: db, Dialect: kit.DialectSQLite}

	input, _ := json.Marshal(scheduleInput{LeadID: "lead-1", ScheduledFor: "2026-08-01T09:00:00Z"})
	out, effects, err := Schedule(context.Background(), deps, input)
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	var result scheduleOutput
	_ = json.Unmarshal(out, &result)
	if result.InspectionID == "" {
		t.Fatal("expected non-empty inspection_id")
	}
	if len(effects.DBWrites) != 1 {
		t.Fatalf("expected one db_writes effect, got %d", len(effects.DBWrites))
	}
}

// TestSchedule_DuplicateLeadAndSlotReusesInspection covers the concurrent
// keyed-create race: a second Schedule for the same (lead_id,
// scheduled_for) pair must not insert a second row, and must return the
// same inspection_id as the first call.
func TestSchedule_DuplicateLeadAndSlotReusesInspection(t *testing.T) {
	db := openTestDB(t)
	deps := kit.Deps{DB: db, Dialect: kit.DialectSQLite}

	input, _ := json.Marshal(scheduleInput{LeadID: "lead-1", ScheduledFor: "2026-08-01T09:00:00Z"})
	firstOut, _, err := Schedule(context.Background(), deps, input)
	if err != nil {
		t.Fatalf("first Schedule failed: %v", err)
	}
	var first scheduleOutput
	_ = json.Unmarshal(firstOut, &first)

	secondOut, effects, err := Schedule(context.Background(), deps, input)
	if err != nil {
		t.Fatalf("second Schedule failed: %v", err)
	}
	var second scheduleOutput
	_ = json.Unmarshal(secondOut, &second)

	if second.InspectionID != first.InspectionID {
		t.Fatalf("expected reused inspection_id %s, got %s", first.InspectionID, second.InspectionID)
	}
	if !effects.IdempotencyHit {
		t.Fatalf("expected idempotency_hit on a reused inspection")
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM inspections WHERE lead_id = ? AND scheduled_for = ?",
		"lead-1", "2026-08-01T09:00:00Z").Scan(&count); err != nil {
		t.Fatalf("counting inspections: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one inspection row for the slot, got %d", count)
	}
}

func TestComplete_NotFound(t *testing.T) {
	db := openTestDB(t)
	deps := kit.Deps{DB: db, Dialect: kit.DialectSQLite}

	input, _ := json.Marshal(completeInput{InspectionID: "missing", Findings: "n/a"})
	_, _, err := Complete(context.Background(), deps, input)
	if err == nil {
		t.Fatal("expected error for missing inspection")
	}
}
