package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultClaudeModel = "claude-sonnet-4-5-20250929"

// AnthropicProvider implements Provider on top of the Anthropic
// Messages API via the official SDK. It is the core's one concrete
// reference implementation of the spec's LLM function-calling
// interface; the client itself remains an external collaborator per
// spec.md §1.
type AnthropicProvider struct {
	client       sdk.Client
	defaultModel string
	retryConfig  RetryConfig
}

// AnthropicOption configures an AnthropicProvider.
type AnthropicOption func(*AnthropicProvider)

// WithAnthropicModel overrides the provider's default model.
func WithAnthropicModel(model string) AnthropicOption {
	return func(p *AnthropicProvider) { p.defaultModel = model }
}

// WithAnthropicRetry overrides the external-error retry schedule.
func WithAnthropicRetry(cfg RetryConfig) AnthropicOption {
	return func(p *AnthropicProvider) { p.retryConfig = cfg }
}

// NewAnthropicProvider creates a Provider backed by the Anthropic SDK,
// reading ANTHROPIC_API_KEY from the environment when apiKey is empty.
func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) *AnthropicProvider {
	clientOpts := []option.RequestOption{}
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	p := &AnthropicProvider{
		client:       sdk.NewClient(clientOpts...),
		defaultModel: defaultClaudeModel,
		retryConfig:  DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *AnthropicProvider) Name() string        { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	var msg *sdk.Message
	err = withRetry(ctx, p.retryConfig, func() error {
		m, err := p.client.Messages.New(ctx, *params)
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateMessage(msg), nil
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, *params)
	acc := sdk.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			return nil, fmt.Errorf("anthropic stream accumulate: %w", err)
		}
		if delta, ok := event.AsAny().(sdk.ContentBlockDeltaEvent); ok {
			switch d := delta.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if d.Text != "" {
					onChunk(StreamChunk{Content: d.Text})
				}
			case sdk.ThinkingDelta:
				if d.Thinking != "" {
					onChunk(StreamChunk{Thinking: d.Thinking})
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}
	onChunk(StreamChunk{Done: true})
	return translateMessage(&acc), nil
}

func (p *AnthropicProvider) buildParams(req ChatRequest) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: at least one message is required")
	}
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	var system []sdk.TextBlockParam
	var msgs []sdk.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
		case "tool":
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		case "assistant":
			blocks := encodeAssistantBlocks(m)
			if len(blocks) > 0 {
				msgs = append(msgs, sdk.NewAssistantMessage(blocks...))
			}
		default: // "user"
			blocks := []sdk.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, img := range m.Images {
				blocks = append(blocks, sdk.NewImageBlockBase64(img.MimeType, img.Data))
			}
			if len(blocks) > 0 {
				msgs = append(msgs, sdk.NewUserMessage(blocks...))
			}
		}
	}
	if len(msgs) == 0 {
		return nil, errors.New("anthropic: no encodable user/assistant/tool messages")
	}

	maxTokens := int64(8192)
	if v, ok := req.Options["max_tokens"].(int); ok && v > 0 {
		maxTokens = int64(v)
	}

	params := &sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if t, ok := req.Options["temperature"].(float64); ok {
		params.Temperature = sdk.Float(t)
	}
	if len(req.Tools) > 0 {
		tools := make([]sdk.ToolUnionParam, 0, len(req.Tools))
		for _, td := range req.Tools {
			schemaJSON, err := json.Marshal(td.Function.Parameters)
			if err != nil {
				return nil, fmt.Errorf("anthropic: marshal tool schema for %s: %w", td.Function.Name, err)
			}
			var schemaMap map[string]any
			if err := json.Unmarshal(schemaJSON, &schemaMap); err != nil {
				return nil, err
			}
			u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schemaMap}, td.Function.Name)
			if u.OfTool != nil {
				u.OfTool.Description = sdk.String(td.Function.Description)
			}
			tools = append(tools, u)
		}
		params.Tools = tools
	}
	return params, nil
}

func encodeAssistantBlocks(m Message) []sdk.ContentBlockParamUnion {
	var blocks []sdk.ContentBlockParamUnion
	if m.Content != "" {
		blocks = append(blocks, sdk.NewTextBlock(m.Content))
	}
	for _, tc := range m.ToolCalls {
		blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
	}
	return blocks
}

func translateMessage(msg *sdk.Message) *ChatResponse {
	resp := &ChatResponse{FinishReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			var args map[string]interface{}
			_ = json.Unmarshal(block.Input, &args)
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	if len(resp.ToolCalls) > 0 && resp.FinishReason == "" {
		resp.FinishReason = "tool_calls"
	}
	resp.Usage = &Usage{
		PromptTokens:        int(msg.Usage.InputTokens),
		CompletionTokens:    int(msg.Usage.OutputTokens),
		TotalTokens:         int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		CacheCreationTokens: int(msg.Usage.CacheCreationInputTokens),
		CacheReadTokens:     int(msg.Usage.CacheReadInputTokens),
	}
	return resp
}
