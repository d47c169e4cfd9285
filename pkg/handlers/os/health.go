// Package os implements operational tools — currently just a health check.
// Named os (for "operations", not the stdlib) to match the registry's
// os.health_check tool name.
package os

import (
	"context"
	"encoding/json"
	"time"

	"github.com/callkaidsroofing/gem/pkg/contracts"
	"github.com/callkaidsroofing/gem/pkg/handlers/kit"
)

type healthOutput struct {
	DBConnected bool    `json:"db_connected"`
	LatencyMS   float64 `json:"latency_ms"`
}

// HealthCheck pings the database and reports connectivity and latency.
func HealthCheck(ctx context.Context, deps kit.Deps, _ json.RawMessage) (json.RawMessage, contracts.Effects, error) {
	start := time.Now()
	connected := true
	if deps.DB != nil {
		if err := deps.DB.PingContext(ctx); err != nil {
			connected = false
		}
	}
	out, err := json.Marshal(healthOutput{
		DBConnected: connected,
		LatencyMS:   float64(time.Since(start).Microseconds()) / 1000.0,
	})
	return out, contracts.Effects{}, err
}
