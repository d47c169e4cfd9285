package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gowebpki/jcs"
)

// webhookEnvelope is the wire shape every POST /webhooks/<source> body is
// expected to carry: an event type, an external id for dedup, and the
// provider-specific payload.
type webhookEnvelope struct {
	EventType  string         `json:"event_type"`
	ExternalID string         `json:"external_id"`
	Payload    map[string]any `json:"payload"`
}

// decodeWebhookBody reads and JSON-decodes the envelope from body.
func decodeWebhookBody(body io.Reader) (webhookEnvelope, []byte, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return webhookEnvelope{}, nil, fmt.Errorf("api: reading webhook body: %w", err)
	}
	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return webhookEnvelope{}, raw, fmt.Errorf("api: decoding webhook body: %w", err)
	}
	return env, raw, nil
}

// verifyWebhookSignature checks sig (hex-encoded) against an HMAC-SHA256
// computed over the RFC 8785 canonical form of raw, so that a provider
// re-ordering object keys before signing never produces a spurious
// mismatch. secret is the source's configured shared secret.
func verifyWebhookSignature(raw []byte, sig, secret string) bool {
	if sig == "" {
		return false
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return false
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	expected := mac.Sum(nil)

	decoded, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(decoded, expected)
}
