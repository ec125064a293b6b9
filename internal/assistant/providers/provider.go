// Package providers adapts heterogeneous LLM tool-calling protocols to one
// canonical surface.
//
// Two protocol families are covered. Stateful providers (OpenAI Responses
// API) thread a conversation through server-side state: each call returns a
// response id, and resuming after tool execution sends only the tool outputs
// plus that id. Stateless providers (Anthropic Messages API) get the full
// transcript replayed on every call, with the strict requirement that every
// tool_use block is answered by a tool_result block in the immediately
// following user message.
//
// The orchestrator never sees either shape. It works with the canonical
// Request and Result types and persists ProviderState opaquely.
package providers

import (
	"context"
	"fmt"

	"github.com/jobdeck/jobdeck/pkg/models"
)

// Request is a canonical provider call.
type Request struct {
	// System is the system prompt.
	System string

	// Model overrides the adapter's default model when set.
	Model string

	// MaxTokens bounds the response length. Zero uses the adapter default.
	MaxTokens int

	// History is the full thread transcript, oldest first, ending with
	// either the user message that opened the turn or the tool messages
	// produced since the last assistant message.
	History []*models.Message

	// State is the continuation token from the previous call of this
	// turn. Stateless adapters ignore it.
	State models.ProviderState

	// Followup marks a continuation call: the model previously proposed
	// tool calls and History now ends with their results. A stateful
	// adapter must refuse a follow-up without State.
	Followup bool

	// Tools is the registry's enabled tool surface for this call.
	Tools []models.ToolDescriptor
}

// Result is a canonical, provider-normalized response.
//
// ToolCalls contains only well-formed calls: a call the provider emitted
// without a tool name is dropped during normalization rather than surfaced
// as an unroutable execution. A Result with empty Content and no ToolCalls
// is valid; the continuation loop substitutes fallback text.
type Result struct {
	Content      string
	ToolCalls    []models.ToolCall
	State        models.ProviderState
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// HasToolCalls reports whether the model proposed any tool invocations.
func (r *Result) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Provider is one LLM backend adapter.
type Provider interface {
	// Name identifies the adapter ("anthropic", "openai").
	Name() string

	// Stateful reports whether the adapter resumes turns via a
	// continuation id rather than history replay.
	Stateful() bool

	// Model returns the default model the adapter calls when the request
	// does not override it.
	Model() string

	// Complete performs one model call.
	Complete(ctx context.Context, req *Request) (*Result, error)
}

// trailingResults collects the tool results that arrived since the last
// assistant message, in order. Used by stateful adapters to build the
// minimal continuation payload.
func trailingResults(history []*models.Message) []models.ToolResult {
	var results []models.ToolResult
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != models.RoleTool {
			break
		}
		// Prepend to preserve transcript order.
		results = append(append([]models.ToolResult(nil), history[i].ToolResults...), results...)
	}
	return results
}

// validateToolAdjacency checks the invariant stateless providers enforce on
// replay: every assistant message with tool calls must be immediately
// followed by tool messages answering each call id before any other role
// appears. Returns a descriptive error naming the first unanswered call.
func validateToolAdjacency(history []*models.Message) error {
	for i, msg := range history {
		if msg.Role != models.RoleAssistant || len(msg.ToolCalls) == 0 {
			continue
		}

		answered := make(map[string]bool, len(msg.ToolCalls))
		for j := i + 1; j < len(history) && history[j].Role == models.RoleTool; j++ {
			for _, r := range history[j].ToolResults {
				answered[r.ProviderCallID] = true
			}
		}
		for _, call := range msg.ToolCalls {
			if !answered[call.ProviderCallID] {
				return fmt.Errorf("tool call %s (%s) in message %s has no adjacent result", call.ProviderCallID, call.ToolKey, msg.ID)
			}
		}
	}
	return nil
}
