package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/jobdeck/jobdeck/internal/observability"
	"github.com/jobdeck/jobdeck/pkg/models"
)

const defaultOpenAIModel = "gpt-4.1"

// OpenAIProvider adapts the stateful Responses API. The first call of a
// turn sends conversation input; each response carries an id that later
// calls reference via previous_response_id, so a follow-up after tool
// execution sends only the function_call_output items. Losing the id
// between calls is unrecoverable for the turn.
type OpenAIProvider struct {
	client    openai.Client
	model     string
	maxTokens int
	logger    *observability.Logger
}

// OpenAIConfig configures the adapter.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Logger    *observability.Logger
}

// NewOpenAIProvider creates the adapter.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return &OpenAIProvider{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		logger:    cfg.Logger,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Stateful() bool { return true }

func (p *OpenAIProvider) Model() string { return p.model }

// Complete performs one Responses API call. Follow-ups require the
// continuation id persisted from the previous call of this turn; without it
// the call fails fatally rather than replaying a desynchronized history.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}

	params := responses.ResponseNewParams{
		Model:           shared.ResponsesModel(model),
		MaxOutputTokens: openai.Int(int64(maxTokens)),
	}
	if req.System != "" {
		params.Instructions = openai.String(req.System)
	}
	if len(req.Tools) > 0 {
		params.Tools = buildOpenAITools(req.Tools)
	}

	var input responses.ResponseInputParam
	if req.Followup {
		if req.State.Empty() {
			return nil, NewContractViolation(p.Name(), model, ErrMissingContinuation)
		}
		params.PreviousResponseID = openai.String(req.State.ResponseID)
		for _, r := range trailingResults(req.History) {
			input = append(input, responses.ResponseInputItemParamOfFunctionCallOutput(r.ProviderCallID, r.Content))
		}
		if len(input) == 0 {
			return nil, NewContractViolation(p.Name(), model,
				fmt.Errorf("follow-up call with no tool results to deliver"))
		}
	} else {
		input = buildOpenAIInput(req.History)
		if len(input) == 0 {
			return nil, NewContractViolation(p.Name(), model,
				fmt.Errorf("no messages to send"))
		}
	}
	params.Input = responses.ResponseNewParamsInputUnion{OfInputItemList: input}

	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return nil, NewProviderError(p.Name(), model, err)
	}

	res, dropped := normalizeOpenAIResponse(resp)
	if dropped > 0 && p.logger != nil {
		p.logger.Warn(ctx, "dropped unroutable tool calls from provider response",
			"provider", p.Name(), "model", model, "count", dropped)
	}
	return res, nil
}

// buildOpenAIInput converts the transcript to Responses input items. Past
// tool traffic is replayed as function_call / function_call_output pairs so
// a fresh turn on an old thread still carries its context.
func buildOpenAIInput(history []*models.Message) responses.ResponseInputParam {
	input := make(responses.ResponseInputParam, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case models.RoleUser:
			input = append(input, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleUser))
		case models.RoleAssistant:
			if msg.Content != "" {
				input = append(input, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleAssistant))
			}
			for _, call := range msg.ToolCalls {
				input = append(input, responses.ResponseInputItemParamOfFunctionCall(string(call.Args), call.ProviderCallID, call.ToolKey))
			}
		case models.RoleTool:
			for _, r := range msg.ToolResults {
				input = append(input, responses.ResponseInputItemParamOfFunctionCallOutput(r.ProviderCallID, r.Content))
			}
		}
	}
	return input
}

func buildOpenAITools(tools []models.ToolDescriptor) []responses.ToolUnionParam {
	result := make([]responses.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var parameters map[string]any
		if len(t.Schema) > 0 {
			_ = json.Unmarshal(t.Schema, &parameters)
		}
		variant := responses.ToolParamOfFunction(t.Key, parameters, false)
		if t.Description != "" && variant.OfFunction != nil {
			variant.OfFunction.Description = openai.String(t.Description)
		}
		result = append(result, variant)
	}
	return result
}

// normalizeOpenAIResponse extracts text and function calls and captures the
// response id as the turn's new continuation token. Function calls without
// a name are dropped and counted so the caller can log them.
func normalizeOpenAIResponse(resp *responses.Response) (*Result, int) {
	res := &Result{
		Content:    resp.OutputText(),
		State:      models.ProviderState{ResponseID: resp.ID},
		StopReason: string(resp.Status),
	}
	dropped := 0
	for _, item := range resp.Output {
		if item.Type != "function_call" {
			continue
		}
		call := item.AsFunctionCall()
		if call.Name == "" {
			dropped++
			continue
		}
		callID := call.CallID
		if callID == "" {
			callID = call.ID
		}
		args := json.RawMessage(call.Arguments)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		res.ToolCalls = append(res.ToolCalls, models.ToolCall{
			ProviderCallID: callID,
			ToolKey:        call.Name,
			Args:           args,
		})
	}
	res.InputTokens = int(resp.Usage.InputTokens)
	res.OutputTokens = int(resp.Usage.OutputTokens)
	return res, dropped
}
