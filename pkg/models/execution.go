package models

import (
	"encoding/json"
	"time"
)

// ExecutionStatus is the state of one proposed or executed tool invocation.
//
// Auto-runnable tools move proposed -> queued -> running -> success|error.
// Confirmation-gated tools insert a pending_approval stage before queued.
type ExecutionStatus string

const (
	ExecutionProposed        ExecutionStatus = "proposed"
	ExecutionPendingApproval ExecutionStatus = "pending_approval"
	ExecutionQueued          ExecutionStatus = "queued"
	ExecutionRunning         ExecutionStatus = "running"
	ExecutionSuccess         ExecutionStatus = "success"
	ExecutionError           ExecutionStatus = "error"
)

// Terminal reports whether the status is final. A terminal execution must
// never transition again; the execution engine relies on this for idempotent
// re-entry after job retries.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSuccess || s == ExecutionError
}

// ExecutionErrorKind distinguishes failure causes recorded on an execution.
type ExecutionErrorKind string

const (
	ErrKindToolDisabled  ExecutionErrorKind = "tool_disabled"
	ErrKindToolNotFound  ExecutionErrorKind = "tool_not_found"
	ErrKindInvalidArgs   ExecutionErrorKind = "invalid_arguments"
	ErrKindAuthorization ExecutionErrorKind = "tool_authorization_failed"
	ErrKindTimeout       ExecutionErrorKind = "tool_timeout"
	ErrKindExecution     ExecutionErrorKind = "tool_execution_failed"
)

// ToolExecution is one proposed or executed invocation of a tool, scoped to
// the assistant message that proposed it so sibling calls from one model turn
// can be grouped and awaited together.
type ToolExecution struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`

	// MessageID is the originating assistant message.
	MessageID string `json:"message_id"`

	// UserID is the acting user every tool must authorization-scope
	// its arguments against.
	UserID string `json:"user_id"`

	ToolKey string          `json:"tool_key"`
	Args    json.RawMessage `json:"args"`
	Status  ExecutionStatus `json:"status"`
	TraceID string          `json:"trace_id"`

	RequiresConfirmation bool `json:"requires_confirmation"`

	// IdempotencyKey is the ProposalFingerprint of (tool_key, args). Unique
	// per originating message; repeated identical proposals collapse onto
	// one record.
	IdempotencyKey string `json:"idempotency_key"`

	// ProviderCallID is the provider's tool-call identifier, required to
	// build a valid tool-result reply.
	ProviderCallID string `json:"provider_call_id"`

	Result    string             `json:"result,omitempty"`
	ErrorText string             `json:"error_text,omitempty"`
	ErrorKind ExecutionErrorKind `json:"error_kind,omitempty"`

	ApprovedBy string    `json:"approved_by,omitempty"`
	ApprovedAt time.Time `json:"approved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToToolResult converts a terminal execution into the canonical result shape
// fed back to the provider.
func (e *ToolExecution) ToToolResult() ToolResult {
	if e.Status == ExecutionError {
		content := e.ErrorText
		if content == "" {
			content = string(e.ErrorKind)
		}
		return ToolResult{ProviderCallID: e.ProviderCallID, Content: content, IsError: true}
	}
	return ToolResult{ProviderCallID: e.ProviderCallID, Content: e.Result}
}
