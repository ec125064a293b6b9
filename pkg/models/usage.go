package models

import "time"

// UsageLog records one LLM provider call for billing and observability.
// A synthetic entry is still written when every provider fails, so an
// errored turn always has a correlated log line.
type UsageLog struct {
	ID           string    `json:"id"`
	TraceID      string    `json:"trace_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	LatencyMS    int64     `json:"latency_ms"`
	Status       string    `json:"status"` // success or error
	ErrorText    string    `json:"error_text,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
