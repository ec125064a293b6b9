package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jobdeck/jobdeck/internal/observability"
	"github.com/jobdeck/jobdeck/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicProvider adapts the stateless Messages API. Every call replays
// the full transcript; tool results ride in user messages as tool_result
// blocks placed immediately after the assistant message that proposed them.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int
	logger    *observability.Logger
}

// AnthropicConfig configures the adapter.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Logger    *observability.Logger
}

// NewAnthropicProvider creates the adapter.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		logger:    cfg.Logger,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Stateful() bool { return false }

func (p *AnthropicProvider) Model() string { return p.model }

// Complete replays the transcript and returns the normalized response.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	if err := validateToolAdjacency(req.History); err != nil {
		return nil, NewContractViolation(p.Name(), model, err)
	}

	messages, err := buildAnthropicMessages(req.History)
	if err != nil {
		return nil, NewContractViolation(p.Name(), model, err)
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildAnthropicTools(req.Tools)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, NewProviderError(p.Name(), model, err)
	}

	res, dropped := normalizeAnthropicResponse(msg)
	if dropped > 0 && p.logger != nil {
		p.logger.Warn(ctx, "dropped unroutable tool calls from provider response",
			"provider", p.Name(), "model", model, "count", dropped)
	}
	return res, nil
}

// buildAnthropicMessages converts the canonical transcript to Messages API
// shape. Consecutive tool messages are merged into a single user message so
// that all sibling tool_result blocks answer their tool_use blocks in the
// one position the protocol accepts.
func buildAnthropicMessages(history []*models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for i := 0; i < len(history); i++ {
		msg := history[i]
		switch msg.Role {
		case models.RoleUser:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				var input map[string]any
				if len(call.Args) > 0 {
					if err := json.Unmarshal(call.Args, &input); err != nil {
						return nil, fmt.Errorf("tool call %s has unparseable args: %w", call.ProviderCallID, err)
					}
				}
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ProviderCallID, input, call.ToolKey))
			}
			if len(blocks) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(blocks...))

		case models.RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for i < len(history) && history[i].Role == models.RoleTool {
				for _, r := range history[i].ToolResults {
					blocks = append(blocks, anthropic.NewToolResultBlock(r.ProviderCallID, r.Content, r.IsError))
				}
				i++
			}
			i--
			if len(blocks) > 0 {
				result = append(result, anthropic.NewUserMessage(blocks...))
			}
		}
	}
	return result, nil
}

func buildAnthropicTools(tools []models.ToolDescriptor) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if len(t.Schema) > 0 {
			var parsed map[string]any
			if err := json.Unmarshal(t.Schema, &parsed); err == nil {
				if props, ok := parsed["properties"]; ok {
					schema.Properties = props
				}
				if req := stringSlice(parsed["required"]); len(req) > 0 {
					schema.Required = req
				}
			}
		}
		tool := &anthropic.ToolParam{
			Name:        t.Key,
			InputSchema: schema,
		}
		if t.Description != "" {
			tool.Description = anthropic.String(t.Description)
		}
		result = append(result, anthropic.ToolUnionParam{OfTool: tool})
	}
	return result
}

// normalizeAnthropicResponse flattens text blocks and extracts tool_use
// blocks. A tool_use without a name cannot be routed; it is dropped and
// counted so the caller can log it.
func normalizeAnthropicResponse(msg *anthropic.Message) (*Result, int) {
	res := &Result{
		StopReason: string(msg.StopReason),
	}
	dropped := 0
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			res.Content += b.Text
		case anthropic.ToolUseBlock:
			if b.Name == "" {
				dropped++
				continue
			}
			args := json.RawMessage(b.Input)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			res.ToolCalls = append(res.ToolCalls, models.ToolCall{
				ProviderCallID: b.ID,
				ToolKey:        b.Name,
				Args:           args,
			})
		}
	}
	res.InputTokens = int(msg.Usage.InputTokens)
	res.OutputTokens = int(msg.Usage.OutputTokens)
	return res, dropped
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	result := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			result = append(result, s)
		}
	}
	return result
}
