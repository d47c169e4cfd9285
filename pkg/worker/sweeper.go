package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/callkaidsroofing/gem/pkg/contracts"
)

// Sweeper periodically reclaims invocations whose lease expired without the
// worker that claimed them sealing a receipt — a worker that crashed or was
// killed mid-dispatch. Each reclaimed invocation gets a worker_lost receipt
// before its status moves to failed, so it is never silently dropped and
// never re-run (re-running after an unknown-outcome handler call would risk
// a duplicate side effect).
type Sweeper struct {
	Worker   *Worker
	Interval time.Duration
}

// NewSweeper builds a Sweeper bound to w's queue and receipt store.
func NewSweeper(w *Worker) *Sweeper {
	return &Sweeper{Worker: w, Interval: 30 * time.Second}
}

// Run blocks, sweeping stale leases until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	stale, err := s.Worker.Queue.ReclaimStale(ctx, time.Now())
	if err != nil {
		slog.ErrorContext(ctx, "sweeper: reclaim query failed", "error", err)
		return
	}
	for _, inv := range stale {
		receipt := contracts.Receipt{
			CallID:    inv.CallID,
			ToolName:  inv.ToolName,
			Status:    contracts.ReceiptFailed,
			Result:    contracts.NewFailedResult(contracts.ErrWorkerLost, "worker holding this invocation's lease stopped responding before sealing a receipt", ""),
			CreatedAt: time.Now(),
		}
		if err := s.Worker.Receipts.Store(ctx, receipt, ""); err != nil {
			slog.ErrorContext(ctx, "sweeper: storing worker_lost receipt failed", "call_id", inv.CallID, "error", err)
			continue
		}
		if err := s.Worker.Queue.Transition(ctx, inv.CallID, contracts.StatusFailed, receipt.Result); err != nil {
			slog.ErrorContext(ctx, "sweeper: transition failed", "call_id", inv.CallID, "error", err)
			continue
		}
		slog.WarnContext(ctx, "sweeper: reclaimed stale invocation", "call_id", inv.CallID, "tool_name", inv.ToolName, "worker_id", inv.WorkerID)
	}
}
