package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dylanbstorey/arawn-sub003/internal/agent"
	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	Retry        retryConfig
}

// AnthropicProvider implements agent.LLMProvider (§4.D) against the
// Anthropic Messages API via anthropics/anthropic-sdk-go.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
	retry        retryConfig
}

// NewAnthropicProvider constructs a provider from cfg. APIKey is
// required; BaseURL overrides the SDK's default endpoint.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("providers: anthropic api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = defaultRetryConfig()
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
		retry:        cfg.Retry,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SupportsTools() bool { return true }

func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000, SupportsVision: true},
	}
}

func (p *AnthropicProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

// Complete performs a single, non-streaming completion call by
// draining Stream into one CompletionResponse — the Anthropic SDK's
// unary Messages.New path and its streaming path converge on the same
// response shape, so Stream is the single source of truth for event
// ordering and Complete is built on top of it.
func (p *AnthropicProvider) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	var msg *anthropic.Message
	err = withRetry(ctx, p.retry, func(int) error {
		var callErr error
		msg, callErr = p.client.Messages.New(ctx, params)
		if callErr != nil {
			return NewProviderError("anthropic", p.model(req.Model), callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp := &models.CompletionResponse{
		Model:      string(msg.Model),
		StopReason: mapStopReason(string(msg.StopReason)),
		Usage: models.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			CacheCreated: int(msg.Usage.CacheCreationInputTokens),
			CacheRead:    int(msg.Usage.CacheReadInputTokens),
		},
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content = append(resp.Content, models.TextBlock(variant.Text))
		case anthropic.ToolUseBlock:
			var input any
			_ = json.Unmarshal(variant.Input, &input)
			resp.Content = append(resp.Content, models.ToolUseBlock(models.ToolCallId(variant.ID), variant.Name, input))
		}
	}
	return resp, nil
}

// Stream performs a completion call and emits the ordered StreamEvent
// sequence described in §4.D, translating Anthropic SSE events 1:1.
func (p *AnthropicProvider) Stream(ctx context.Context, req *models.CompletionRequest) (<-chan models.StreamEvent, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	out := make(chan models.StreamEvent, 16)
	go func() {
		defer close(out)

		stream := p.client.Messages.NewStreaming(ctx, params)
		blockTypes := make(map[int]string)

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_start":
				start := event.AsContentBlockStart()
				switch variant := start.ContentBlock.AsAny().(type) {
				case anthropic.TextBlock:
					blockTypes[int(start.Index)] = "text"
					out <- models.StreamEvent{Type: models.StreamEventContentBlockStart, Index: int(start.Index), ContentType: "text"}
				case anthropic.ToolUseBlock:
					blockTypes[int(start.Index)] = "tool_use"
					out <- models.StreamEvent{
						Type: models.StreamEventContentBlockStart, Index: int(start.Index), ContentType: "tool_use",
						ToolUseID: models.ToolCallId(variant.ID), ToolUseName: variant.Name,
					}
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta()
				switch d := delta.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					out <- models.StreamEvent{Type: models.StreamEventContentBlockDelta, Index: int(delta.Index), DeltaKind: models.DeltaTypeText, TextDelta: d.Text}
				case anthropic.InputJSONDelta:
					out <- models.StreamEvent{Type: models.StreamEventContentBlockDelta, Index: int(delta.Index), DeltaKind: models.DeltaTypeInputJSON, JSONDelta: d.PartialJSON}
				}

			case "content_block_stop":
				stop := event.AsContentBlockStop()
				out <- models.StreamEvent{Type: models.StreamEventContentBlockStop, Index: int(stop.Index)}

			case "message_delta":
				md := event.AsMessageDelta()
				reason := mapStopReason(string(md.Delta.StopReason))
				out <- models.StreamEvent{
					Type:       models.StreamEventMessageDelta,
					StopReason: &reason,
					Usage: &models.TokenUsage{
						OutputTokens: int(md.Usage.OutputTokens),
					},
				}

			case "message_stop":
				out <- models.StreamEvent{Type: models.StreamEventMessageStop}
				return
			}
		}
		if err := stream.Err(); err != nil {
			out <- models.StreamEvent{Type: models.StreamEventErr, ErrorMessage: NewProviderError("anthropic", p.model(req.Model), err).Error()}
		}
	}()
	return out, nil
}

func (p *AnthropicProvider) buildParams(req *models.CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

func (p *AnthropicProvider) convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			switch block.Type {
			case models.ContentBlockText:
				content = append(content, anthropic.NewTextBlock(block.Text))
			case models.ContentBlockToolUse:
				input := block.ToolUseInput
				content = append(content, anthropic.NewToolUseBlock(string(block.ToolUseID), input, block.ToolUseName))
			case models.ContentBlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(string(block.ToolResultID), block.ToolResultContent, !block.ToolResultSuccess))
			}
		}
		if msg.Role == models.MessageRoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func (p *AnthropicProvider) convertTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("providers: invalid schema for tool %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(tool.Description)
		}
		result = append(result, param)
	}
	return result, nil
}

func mapStopReason(raw string) models.StopReason {
	switch raw {
	case "end_turn", "":
		return models.StopReasonEndTurn
	case "tool_use":
		return models.StopReasonToolUse
	case "max_tokens":
		return models.StopReasonMaxTokens
	case "stop_sequence":
		return models.StopReasonStopSequence
	default:
		return models.StopReasonEndTurn
	}
}
