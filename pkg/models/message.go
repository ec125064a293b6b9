// Package models defines the shared data model for the jobdeck assistant:
// threads, messages, turns, tool executions, and the tool registry entries
// that drive confirmation policy.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is an immutable record of one utterance in a thread.
//
// Assistant messages carry the tool calls the model proposed; tool messages
// carry the canonical results of executed tools. Together they are the
// replayable transcript a stateless provider rebuilds its history from.
type Message struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"thread_id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Meta        MessageMeta  `json:"meta"`
	CreatedAt   time.Time    `json:"created_at"`
}

// MessageMeta holds provider bookkeeping for a message.
type MessageMeta struct {
	// Provider and Model record which backend produced an assistant message.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// TraceID correlates the message with its turn, tool executions, and
	// LLM call logs.
	TraceID string `json:"trace_id,omitempty"`

	// ResponseID is the stateful provider's continuation token as of this
	// message. Empty for stateless providers.
	ResponseID string `json:"response_id,omitempty"`

	// PendingToolFollowup marks an assistant message whose tool calls have
	// not all reached a terminal status yet. The follow-up loop clears the
	// flag in place once every sibling execution resolves and the turn
	// continues.
	PendingToolFollowup bool `json:"pending_tool_followup,omitempty"`
}

// ToolCall is a provider-normalized request to execute a tool.
type ToolCall struct {
	// ProviderCallID is the provider's native identifier for this call
	// (OpenAI call_id, Anthropic tool_use_id). It is required to build a
	// valid tool-result reply.
	ProviderCallID string `json:"provider_call_id"`

	// ToolKey names the tool in the registry.
	ToolKey string `json:"tool_key"`

	// Args is the raw JSON argument object.
	Args json.RawMessage `json:"args"`
}

// ToolResult is the canonical output of one tool execution.
type ToolResult struct {
	ProviderCallID string `json:"provider_call_id"`
	Content        string `json:"content"`
	IsError        bool   `json:"is_error,omitempty"`
}

// ProposalFingerprint returns a stable content hash of (tool_key, args) used
// to deduplicate repeated tool proposals within one assistant message. The
// argument object is canonicalized before hashing so that key order does not
// affect the fingerprint.
func ProposalFingerprint(toolKey string, args json.RawMessage) string {
	canonical := canonicalJSON(args)
	h := sha256.New()
	h.Write([]byte(toolKey))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		// Unparseable args still need a deterministic fingerprint.
		return raw
	}
	// encoding/json sorts map keys, which is all the canonicalization needed.
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}
