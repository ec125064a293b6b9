package models

import (
	"encoding/json"
	"testing"
)

func TestProposalFingerprint_KeyOrderIndependent(t *testing.T) {
	a := ProposalFingerprint("add_note_to_application", json.RawMessage(`{"application_id":"app-1","note":"hi"}`))
	b := ProposalFingerprint("add_note_to_application", json.RawMessage(`{"note":"hi","application_id":"app-1"}`))
	if a != b {
		t.Errorf("fingerprints differ for equivalent args: %s vs %s", a, b)
	}
}

func TestProposalFingerprint_DistinguishesToolAndArgs(t *testing.T) {
	base := ProposalFingerprint("get_profile_summary", json.RawMessage(`{}`))

	tests := []struct {
		name string
		tool string
		args string
	}{
		{"different tool", "get_pipeline_status", `{}`},
		{"different args", "get_profile_summary", `{"verbose":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProposalFingerprint(tt.tool, json.RawMessage(tt.args)); got == base {
				t.Errorf("fingerprint collision with base for %s %s", tt.tool, tt.args)
			}
		})
	}
}

func TestProposalFingerprint_NilArgs(t *testing.T) {
	if ProposalFingerprint("t", nil) != ProposalFingerprint("t", json.RawMessage(`{}`)) {
		t.Error("nil args should fingerprint like an empty object")
	}
}

func TestExecutionStatus_Terminal(t *testing.T) {
	tests := []struct {
		status   ExecutionStatus
		terminal bool
	}{
		{ExecutionProposed, false},
		{ExecutionPendingApproval, false},
		{ExecutionQueued, false},
		{ExecutionRunning, false},
		{ExecutionSuccess, true},
		{ExecutionError, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("Terminal(%s) = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestToolDescriptor_NeedsConfirmation(t *testing.T) {
	tests := []struct {
		name string
		d    ToolDescriptor
		want bool
	}{
		{"read only", ToolDescriptor{Risk: RiskReadOnly}, false},
		{"write", ToolDescriptor{Risk: RiskWrite}, true},
		{"destructive", ToolDescriptor{Risk: RiskDestructive}, true},
		{"flag overrides read only", ToolDescriptor{Risk: RiskReadOnly, RequiresConfirmation: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.NeedsConfirmation(); got != tt.want {
				t.Errorf("NeedsConfirmation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToolExecution_ToToolResult(t *testing.T) {
	ok := &ToolExecution{Status: ExecutionSuccess, ProviderCallID: "call_1", Result: "done"}
	if res := ok.ToToolResult(); res.IsError || res.Content != "done" || res.ProviderCallID != "call_1" {
		t.Errorf("unexpected success result: %+v", res)
	}

	failed := &ToolExecution{Status: ExecutionError, ProviderCallID: "call_2", ErrorKind: ErrKindTimeout}
	if res := failed.ToToolResult(); !res.IsError || res.Content != string(ErrKindTimeout) {
		t.Errorf("unexpected error result: %+v", res)
	}
}
