package providers

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/jobdeck/jobdeck/pkg/models"
)

func userMsg(id, content string) *models.Message {
	return &models.Message{ID: id, Role: models.RoleUser, Content: content}
}

func assistantMsg(id, content string, calls ...models.ToolCall) *models.Message {
	return &models.Message{ID: id, Role: models.RoleAssistant, Content: content, ToolCalls: calls}
}

func toolMsg(id string, results ...models.ToolResult) *models.Message {
	return &models.Message{ID: id, Role: models.RoleTool, ToolResults: results}
}

func call(callID, key string) models.ToolCall {
	return models.ToolCall{ProviderCallID: callID, ToolKey: key, Args: json.RawMessage(`{"q":"x"}`)}
}

func result(callID, content string) models.ToolResult {
	return models.ToolResult{ProviderCallID: callID, Content: content}
}

func TestBuildAnthropicMessagesMergesSiblingResults(t *testing.T) {
	tests := []struct {
		name     string
		siblings int
	}{
		{"single call", 1},
		{"two parallel calls", 2},
		{"three parallel calls", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := make([]models.ToolCall, tt.siblings)
			toolMsgs := make([]*models.Message, tt.siblings)
			for i := 0; i < tt.siblings; i++ {
				id := string(rune('a' + i))
				calls[i] = call("call_"+id, "search_jobs")
				toolMsgs[i] = toolMsg("tm_"+id, result("call_"+id, "ok"))
			}

			history := []*models.Message{
				userMsg("u1", "find me jobs"),
				assistantMsg("a1", "", calls...),
			}
			history = append(history, toolMsgs...)

			msgs, err := buildAnthropicMessages(history)
			if err != nil {
				t.Fatalf("build: %v", err)
			}

			// user, assistant, then exactly ONE merged user message carrying
			// every sibling tool_result.
			if len(msgs) != 3 {
				t.Fatalf("expected 3 messages (results merged), got %d", len(msgs))
			}
			merged := msgs[2]
			if len(merged.Content) != tt.siblings {
				t.Errorf("expected %d tool_result blocks in merged message, got %d", tt.siblings, len(merged.Content))
			}
			for _, block := range merged.Content {
				if block.OfToolResult == nil {
					t.Error("expected every block in merged message to be a tool_result")
				}
			}
		})
	}
}

func TestBuildAnthropicMessagesSequentialToolBatches(t *testing.T) {
	tests := []struct {
		name    string
		batches int
	}{
		{"one batch", 1},
		{"two sequential batches", 2},
		{"three sequential batches", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// A continuation loop that proposed one call per iteration:
			// assistant tool_use, its result, assistant tool_use, ...
			history := []*models.Message{userMsg("u1", "walk my pipeline")}
			for i := 0; i < tt.batches; i++ {
				id := fmt.Sprintf("call_%d", i)
				history = append(history,
					assistantMsg(fmt.Sprintf("a%d", i), "", call(id, "get_pipeline_status")),
					toolMsg(fmt.Sprintf("t%d", i), result(id, "ok")),
				)
			}

			if err := validateToolAdjacency(history); err != nil {
				t.Fatalf("adjacency: %v", err)
			}
			msgs, err := buildAnthropicMessages(history)
			if err != nil {
				t.Fatalf("build: %v", err)
			}

			// The batches must stay interleaved, never merged: each
			// assistant tool_use is answered by its own user message of
			// tool_result blocks before the next batch begins.
			if len(msgs) != 1+2*tt.batches {
				t.Fatalf("expected %d messages, got %d", 1+2*tt.batches, len(msgs))
			}
			for i := 0; i < tt.batches; i++ {
				asst := msgs[1+2*i]
				if len(asst.Content) == 0 || asst.Content[len(asst.Content)-1].OfToolUse == nil {
					t.Fatalf("batch %d: expected an assistant tool_use block", i)
				}
				res := msgs[2+2*i]
				if len(res.Content) != 1 || res.Content[0].OfToolResult == nil {
					t.Fatalf("batch %d: expected one tool_result block, got %d blocks", i, len(res.Content))
				}
				if got := res.Content[0].OfToolResult.ToolUseID; got != fmt.Sprintf("call_%d", i) {
					t.Errorf("batch %d: result answers %s", i, got)
				}
			}
		})
	}
}

func TestBuildAnthropicMessagesAssistantBlocks(t *testing.T) {
	history := []*models.Message{
		userMsg("u1", "hi"),
		assistantMsg("a1", "let me check", call("call_1", "get_pipeline_status")),
		toolMsg("tm1", result("call_1", `{"applications":3}`)),
	}

	msgs, err := buildAnthropicMessages(history)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	asst := msgs[1]
	if len(asst.Content) != 2 {
		t.Fatalf("expected text + tool_use blocks, got %d blocks", len(asst.Content))
	}
	if asst.Content[0].OfText == nil {
		t.Error("expected first block to be text")
	}
	if asst.Content[1].OfToolUse == nil {
		t.Fatal("expected second block to be tool_use")
	}
	if asst.Content[1].OfToolUse.ID != "call_1" {
		t.Errorf("tool_use id mismatch: %s", asst.Content[1].OfToolUse.ID)
	}
}

func TestValidateToolAdjacency(t *testing.T) {
	tests := []struct {
		name    string
		history []*models.Message
		wantErr bool
	}{
		{
			name: "complete pair",
			history: []*models.Message{
				userMsg("u1", "hi"),
				assistantMsg("a1", "", call("c1", "search_jobs")),
				toolMsg("t1", result("c1", "ok")),
			},
		},
		{
			name: "missing result",
			history: []*models.Message{
				userMsg("u1", "hi"),
				assistantMsg("a1", "", call("c1", "search_jobs")),
				userMsg("u2", "another question"),
			},
			wantErr: true,
		},
		{
			name: "partial sibling results",
			history: []*models.Message{
				userMsg("u1", "hi"),
				assistantMsg("a1", "", call("c1", "search_jobs"), call("c2", "get_profile_summary")),
				toolMsg("t1", result("c1", "ok")),
			},
			wantErr: true,
		},
		{
			name: "plain conversation",
			history: []*models.Message{
				userMsg("u1", "hi"),
				assistantMsg("a1", "hello"),
				userMsg("u2", "bye"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateToolAdjacency(tt.history)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateToolAdjacency() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildAnthropicToolsCarriesSchema(t *testing.T) {
	tools := []models.ToolDescriptor{
		{
			Key:         "search_jobs",
			Description: "Search job listings",
			Schema:      json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
		},
	}
	params := buildAnthropicTools(tools)
	if len(params) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(params))
	}
	tool := params[0].OfTool
	if tool == nil {
		t.Fatal("expected custom tool variant")
	}
	if tool.Name != "search_jobs" {
		t.Errorf("tool name mismatch: %s", tool.Name)
	}
	if tool.InputSchema.Properties == nil {
		t.Error("expected schema properties carried over")
	}
	if len(tool.InputSchema.Required) != 1 {
		t.Errorf("expected required fields carried over, got %v", tool.InputSchema.Required)
	}
}
