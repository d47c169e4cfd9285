// Package kit holds the shared handler contract (Deps, Func,
// NotConfiguredError) that every domain package under pkg/handlers
// depends on, kept separate from pkg/handlers itself to avoid that
// package's dispatcher importing back into the domain packages it wires.
package kit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/callkaidsroofing/gem/pkg/artifacts"
	"github.com/callkaidsroofing/gem/pkg/contracts"
)

// Dialect names the SQL placeholder style a Deps' DB expects, since
// handlers run against Postgres in production and SQLite in lite mode.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Deps are the resources a handler is allowed to touch. Handlers never
// reach for globals or ambient state — everything comes through Deps so
// tests can substitute an in-memory DB and a temp-dir artifact store.
type Deps struct {
	DB        *sql.DB
	Dialect   Dialect
	Artifacts artifacts.Store
	Now       func() time.Time
}

// Clock returns deps.Now if set, else time.Now — handlers call this
// instead of time.Now directly so tests can freeze time.
func (d Deps) Clock() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Placeholder returns the nth (1-indexed) bind-parameter placeholder for
// this Deps' dialect: "$n" for Postgres, "?" for SQLite.
func (d Deps) Placeholder(n int) string {
	if d.Dialect == DialectSQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// Func is the signature every handler implements: decode input, do the
// domain work, return an output payload plus an audit-only effects record.
type Func func(ctx context.Context, deps Deps, input json.RawMessage) (json.RawMessage, contracts.Effects, error)

// NotConfiguredError is returned by a handler when a required integration
// isn't configured in this environment. The worker recognizes it and seals
// a not_configured receipt instead of a failed one.
type NotConfiguredError struct {
	Reason      string
	RequiredEnv []string
	NextSteps   []string
}

func (e *NotConfiguredError) Error() string { return "handlers: not configured: " + e.Reason }
