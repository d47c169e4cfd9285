// Command router runs the GEM HTTP surface: POST /brain/run, GET /health,
// GET /brain/tools, GET /brain/help, and POST /webhooks/<source>. It never
// claims or executes invocations itself — only cmd/worker does that.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/callkaidsroofing/gem/pkg/api"
	"github.com/callkaidsroofing/gem/pkg/config"
	"github.com/callkaidsroofing/gem/pkg/registry"
	"github.com/callkaidsroofing/gem/pkg/router"
	"github.com/callkaidsroofing/gem/pkg/store"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing: it never calls os.Exit itself.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) > 1 {
		switch args[1] {
		case "health":
			return runHealthCmd(stdout, stderr)
		case "help", "--help", "-h":
			printUsage(stdout)
			return 0
		}
	}

	cfg := config.Load()
	slog.SetLogLoggerLevel(parseLevel(cfg.LogLevel))

	ctx := context.Background()

	reg, err := registry.Load(cfg.RegistryPath)
	if err != nil {
		fmt.Fprintf(stderr, "router: loading registry: %v\n", err)
		return 1
	}

	q, receipts, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "router: opening store: %v\n", err)
		return 1
	}

	planner, err := router.NewPlanner(router.DefaultRules, reg)
	if err != nil {
		fmt.Fprintf(stderr, "router: building planner: %v\n", err)
		return 1
	}

	runs := buildRunStore(cfg)
	rt := router.New(planner, q, receipts, runs)

	var auth *api.JWTAuth
	if cfg.RequireAuth {
		auth = api.NewJWTAuth(cfg.JWTSecret)
	}
	limiter := api.NewGlobalRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	srv := api.NewServer(rt, reg, cfg.WebhookSecrets, auth, limiter)

	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: srv.Handler()}
	go func() {
		slog.Info("router: listening", "port", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("router: server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("router: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	return 0
}

func openStore(ctx context.Context, cfg *config.Config) (store.Queue, store.Receipts, error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite at %s: %w", cfg.SQLitePath, err)
		}
		q := store.NewSQLiteQueue(db)
		r := store.NewSQLiteReceipts(db)
		if err := q.Init(ctx); err != nil {
			return nil, nil, err
		}
		if err := r.Init(ctx); err != nil {
			return nil, nil, err
		}
		return q, r, nil
	default:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, nil, fmt.Errorf("pinging postgres: %w", err)
		}
		q := store.NewPostgresQueue(db)
		r := store.NewPostgresReceipts(db)
		if err := q.Init(ctx); err != nil {
			return nil, nil, err
		}
		if err := r.Init(ctx); err != nil {
			return nil, nil, err
		}
		return q, r, nil
	}
}

func buildRunStore(cfg *config.Config) router.RunStore {
	if cfg.RedisURL == "" {
		return router.NewMemoryRunStore(1000)
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Warn("router: invalid REDIS_URL, falling back to in-memory run store", "error", err)
		return router.NewMemoryRunStore(1000)
	}
	rdb := redis.NewClient(opts)
	return router.NewRedisRunStore(rdb, time.Hour, 1000)
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func runHealthCmd(out, errOut io.Writer) int {
	port := config.Load().Port
	resp, err := http.Get("http://localhost:" + port + "/health")
	if err != nil {
		fmt.Fprintf(errOut, "health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(out, "OK")
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "gem-router: plans and routes tool calls over HTTP")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage: router [command]")
	fmt.Fprintln(w, "  (no command)  run the HTTP server (default)")
	fmt.Fprintln(w, "  health        check a running server's /health endpoint")
	fmt.Fprintln(w, "  help          show this help")
}
