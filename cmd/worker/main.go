// Command worker runs the claim-execute-seal loop over the shared queue,
// plus the sweeper that reclaims invocations whose lease expired without a
// receipt. Multiple worker processes can run against the same Postgres
// queue concurrently; lite mode (SQLite) is single-process only.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/callkaidsroofing/gem/pkg/artifacts"
	"github.com/callkaidsroofing/gem/pkg/config"
	"github.com/callkaidsroofing/gem/pkg/handlers"
	"github.com/callkaidsroofing/gem/pkg/handlers/kit"
	"github.com/callkaidsroofing/gem/pkg/idempotency"
	"github.com/callkaidsroofing/gem/pkg/registry"
	"github.com/callkaidsroofing/gem/pkg/store"
	"github.com/callkaidsroofing/gem/pkg/telemetry"
	"github.com/callkaidsroofing/gem/pkg/worker"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing: it never calls os.Exit itself.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) > 1 && (args[1] == "help" || args[1] == "--help" || args[1] == "-h") {
		fmt.Fprintln(stdout, "gem-worker: claims and executes queued tool invocations")
		return 0
	}

	cfg := config.Load()
	slog.SetLogLoggerLevel(parseLevel(cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg, err := registry.Load(cfg.RegistryPath)
	if err != nil {
		fmt.Fprintf(stderr, "worker: loading registry: %v\n", err)
		return 1
	}

	dispatcher := handlers.NewDispatcher()
	if missing := unimplementedTools(reg, dispatcher); len(missing) > 0 {
		fmt.Fprintf(stderr, "worker: registry declares tools with no handler: %v\n", missing)
		return 1
	}

	db, q, receipts, dialect, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "worker: opening store: %v\n", err)
		return 1
	}
	if err := handlers.InitSchema(ctx, db); err != nil {
		fmt.Fprintf(stderr, "worker: creating business tables: %v\n", err)
		return 1
	}

	artStore, err := artifacts.NewStoreFromEnv(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "worker: opening artifact store: %v\n", err)
		return 1
	}

	telem, err := telemetry.New(ctx, "gem-worker")
	if err != nil {
		fmt.Fprintf(stderr, "worker: setting up telemetry: %v\n", err)
		return 1
	}
	defer telem.Shutdown(context.Background())

	deps := kit.Deps{DB: db, Dialect: dialect, Artifacts: artStore}
	checker := idempotency.NewChecker(receipts)

	workerID := "worker-" + uuid.NewString()[:8]
	w := worker.New(workerID, q, receipts, reg, dispatcher, checker, deps, telem)
	w.PollInterval = cfg.PollInterval
	w.LeaseDuration = cfg.LeaseDuration

	sweeper := worker.NewSweeper(w)
	sweeper.Interval = cfg.SweepInterval

	errCh := make(chan error, 2)
	go func() { errCh <- w.Run(ctx) }()
	go func() { errCh <- sweeper.Run(ctx) }()

	slog.Info("worker: running", "worker_id", workerID)
	<-ctx.Done()
	slog.Info("worker: shutting down", "worker_id", workerID)
	return 0
}

func openStore(ctx context.Context, cfg *config.Config) (*sql.DB, store.Queue, store.Receipts, kit.Dialect, error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, "", fmt.Errorf("opening sqlite at %s: %w", cfg.SQLitePath, err)
		}
		q := store.NewSQLiteQueue(db)
		r := store.NewSQLiteReceipts(db)
		if err := q.Init(ctx); err != nil {
			return nil, nil, nil, "", err
		}
		if err := r.Init(ctx); err != nil {
			return nil, nil, nil, "", err
		}
		return db, q, r, kit.DialectSQLite, nil
	default:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, "", fmt.Errorf("opening postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, nil, nil, "", fmt.Errorf("pinging postgres: %w", err)
		}
		q := store.NewPostgresQueue(db)
		r := store.NewPostgresReceipts(db)
		if err := q.Init(ctx); err != nil {
			return nil, nil, nil, "", err
		}
		if err := r.Init(ctx); err != nil {
			return nil, nil, nil, "", err
		}
		return db, q, r, kit.DialectPostgres, nil
	}
}

// unimplementedTools cross-checks the loaded registry against the
// dispatcher's fixed name table, so a registry/handler mismatch fails
// loudly at startup instead of surfacing as a per-call not_configured receipt.
func unimplementedTools(reg *registry.Registry, d *handlers.Dispatcher) []string {
	implemented := make(map[string]bool)
	for _, name := range d.RegisteredNames() {
		implemented[name] = true
	}
	var missing []string
	for _, t := range reg.All() {
		if !implemented[t.Name] {
			missing = append(missing, t.Name)
		}
	}
	return missing
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
