package contracts

import (
	"encoding/json"
	"time"
)

// InvocationStatus is the one-way state of a queued tool call.
type InvocationStatus string

const (
	StatusQueued    InvocationStatus = "queued"
	StatusRunning   InvocationStatus = "running"
	StatusSucceeded InvocationStatus = "succeeded"
	StatusFailed    InvocationStatus = "failed"
)

// CanTransitionTo reports whether the state machine allows status -> next.
// queued -> running -> {succeeded, failed}. No other transition is legal.
func (s InvocationStatus) CanTransitionTo(next InvocationStatus) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusSucceeded || next == StatusFailed
	default:
		return false
	}
}

// Invocation is a row in the queue.
type Invocation struct {
	CallID         string           `json:"call_id"`
	ToolName       string           `json:"tool_name"`
	Input          json.RawMessage  `json:"input"`
	Status         InvocationStatus `json:"status"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	WorkerID       string           `json:"worker_id,omitempty"`
	ClaimedAt      *time.Time       `json:"claimed_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Error          json.RawMessage  `json:"error,omitempty"`
}
