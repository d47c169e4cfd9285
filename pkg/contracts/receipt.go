package contracts

import (
	"encoding/json"
	"time"
)

// ReceiptStatus is the terminal verdict sealed onto an invocation.
type ReceiptStatus string

const (
	ReceiptSucceeded     ReceiptStatus = "succeeded"
	ReceiptFailed        ReceiptStatus = "failed"
	ReceiptNotConfigured ReceiptStatus = "not_configured"
)

// Error codes from the §7 taxonomy. Values, not type names.
const (
	ErrUnknownTool      = "unknown_tool"
	ErrValidationError  = "validation_error"
	ErrTimeout          = "timeout"
	ErrHandlerError     = "handler_error"
	ErrWorkerLost       = "worker_lost"
	ErrDBError          = "db_error"
)

// EffectEntry is one typed audit entry inside a receipt's effects record.
type EffectEntry struct {
	Kind      string         `json:"kind"`
	Reference string         `json:"reference"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Effects is an audit hint of the side effects a handler performed.
// It is informational only; the engine never reconciles it against reality.
type Effects struct {
	DBWrites         []EffectEntry `json:"db_writes,omitempty"`
	MessagesSent     []EffectEntry `json:"messages_sent,omitempty"`
	FilesWritten     []EffectEntry `json:"files_written,omitempty"`
	ExternalCalls    []EffectEntry `json:"external_calls,omitempty"`
	IdempotencyHit   bool          `json:"idempotency_hit,omitempty"`
}

// ErrorDetail is the structured body of a failed receipt's result.error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// NotConfiguredResult is the result body for status = not_configured.
type NotConfiguredResult struct {
	Reason       string   `json:"reason"`
	RequiredEnv  []string `json:"required_env"`
	NextSteps    []string `json:"next_steps"`
}

// Receipt is the immutable, terminal record sealing one invocation.
// Exactly one exists per call_id once it reaches a terminal status.
type Receipt struct {
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Status    ReceiptStatus   `json:"status"`
	Result    json.RawMessage `json:"result"`
	Effects   Effects         `json:"effects"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewFailedResult builds the result.error payload for a failed receipt.
func NewFailedResult(code, message, path string) json.RawMessage {
	body, _ := json.Marshal(struct {
		Error ErrorDetail `json:"error"`
	}{Error: ErrorDetail{Code: code, Message: message, Path: path}})
	return body
}

// NewNotConfiguredResult builds the result payload for a not_configured receipt.
func NewNotConfiguredResult(reason string, requiredEnv, nextSteps []string) json.RawMessage {
	body, _ := json.Marshal(NotConfiguredResult{
		Reason:      reason,
		RequiredEnv: requiredEnv,
		NextSteps:   nextSteps,
	})
	return body
}
