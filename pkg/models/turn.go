package models

import (
	"encoding/json"
	"time"
)

// TurnStatus is the terminal disposition of a turn.
type TurnStatus string

const (
	TurnRunning TurnStatus = "running"
	TurnSuccess TurnStatus = "success"
	TurnError   TurnStatus = "error"
)

// ProviderState is the opaque continuation token needed to resume a
// multi-step tool-calling conversation. A stateful provider stores its latest
// response id here; a stateless provider leaves it empty and relies on
// full-history replay instead.
type ProviderState struct {
	ResponseID string `json:"response_id,omitempty"`
}

// Empty reports whether no continuation token is held.
func (s ProviderState) Empty() bool {
	return s.ResponseID == ""
}

// Turn links one user message to one resulting assistant message, possibly
// spanning multiple tool-call iterations. ProviderState is mutated as the
// continuation loop advances; the record is immutable once Status reaches a
// terminal value.
type Turn struct {
	ID                 string          `json:"id"`
	ThreadID           string          `json:"thread_id"`
	UserMessageID      string          `json:"user_message_id"`
	AssistantMessageID string          `json:"assistant_message_id,omitempty"`
	TraceID            string          `json:"trace_id"`
	Provider           string          `json:"provider,omitempty"`
	Model              string          `json:"model,omitempty"`
	ContextSnapshot    json.RawMessage `json:"context_snapshot,omitempty"`
	UsageLogID         string          `json:"usage_log_id,omitempty"`
	LatencyMS          int64           `json:"latency_ms"`

	// Iterations counts continuation calls made after the initial
	// response. Bounded by the follow-up cap.
	Iterations int `json:"iterations"`

	Status TurnStatus `json:"status"`
	ErrorText          string          `json:"error_text,omitempty"`
	ProviderState      ProviderState   `json:"provider_state"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Terminal reports whether the turn reached a final status.
func (t *Turn) Terminal() bool {
	return t.Status == TurnSuccess || t.Status == TurnError
}
