// Package diagnostics holds tools that exist purely to exercise engine
// behavior rather than to do real work.
package diagnostics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/callkaidsroofing/gem/pkg/contracts"
	"github.com/callkaidsroofing/gem/pkg/handlers/kit"
)

type slowEchoInput struct {
	DelayMS int    `json:"delay_ms"`
	Echo    string `json:"echo"`
}

type slowEchoOutput struct {
	Echo string `json:"echo"`
}

// SlowEcho sleeps for delay_ms then echoes its input back. Its registry
// entry sets timeout_ms below what a large delay_ms allows, so it is the
// tool the worker's timeout-enforcement test drives against.
func SlowEcho(ctx context.Context, deps kit.Deps, input json.RawMessage) (json.RawMessage, contracts.Effects, error) {
	var in slowEchoInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, contracts.Effects{}, err
	}

	select {
	case <-time.After(time.Duration(in.DelayMS) * time.Millisecond):
	case <-ctx.Done():
		return nil, contracts.Effects{}, ctx.Err()
	}

	out, err := json.Marshal(slowEchoOutput{Echo: in.Echo})
	return out, contracts.Effects{}, err
}
