package models

import (
	"encoding/json"
	"time"
)

// RiskLevel classifies the blast radius of a tool.
type RiskLevel string

const (
	RiskReadOnly    RiskLevel = "read_only"
	RiskWrite       RiskLevel = "write"
	RiskDestructive RiskLevel = "destructive"
)

// ToolDescriptor is a registry entry describing one tool: the LLM-facing
// schema and the policy inputs that decide whether an execution needs human
// approval before running.
type ToolDescriptor struct {
	Key                  string          `json:"key"`
	Description          string          `json:"description"`
	Schema               json.RawMessage `json:"schema"`
	Enabled              bool            `json:"enabled"`
	Risk                 RiskLevel       `json:"risk"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
	Timeout              time.Duration   `json:"timeout"`
}

// NeedsConfirmation is the single source of truth for confirmation gating:
// the static flag, or any risk level above read-only. The proposal recorder
// and the UI affordance both call this and must never diverge.
func (d ToolDescriptor) NeedsConfirmation() bool {
	return d.RequiresConfirmation || d.Risk != RiskReadOnly
}
