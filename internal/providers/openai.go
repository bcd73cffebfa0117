package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dylanbstorey/arawn-sub003/internal/agent"
	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Retry        retryConfig
}

// OpenAIProvider implements agent.LLMProvider (§4.D) against the
// Chat Completions API via sashabaranov/go-openai, exercising a
// different wire shape (role-tagged chat messages, delta-indexed tool
// calls) than AnthropicProvider's content-block stream.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	retry        retryConfig
}

// NewOpenAIProvider constructs a provider from cfg.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("providers: openai api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openai.GPT4o
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = defaultRetryConfig()
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		retry:        cfg.Retry,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: openai.GPT4o, Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
		{ID: openai.GPT4Turbo, Name: "GPT-4 Turbo", ContextSize: 128000, SupportsVision: true},
		{ID: openai.GPT3Dot5Turbo, Name: "GPT-3.5 Turbo", ContextSize: 16385, SupportsVision: false},
	}
}

func (p *OpenAIProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

func (p *OpenAIProvider) chatRequest(req *models.CompletionRequest) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:     p.model(req.Model),
		Messages:  convertOpenAIMessages(req.Messages, req.System),
		MaxTokens: req.MaxTokens,
		Tools:     convertOpenAITools(req.Tools),
	}
}

// Complete performs a single, non-streaming completion call.
func (p *OpenAIProvider) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	chatReq := p.chatRequest(req)

	var resp openai.ChatCompletionResponse
	err := withRetry(ctx, p.retry, func(int) error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, chatReq)
		if callErr != nil {
			return NewProviderError("openai", p.model(req.Model), callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("providers: openai response had no choices")
	}
	choice := resp.Choices[0]

	out := &models.CompletionResponse{
		Model:      resp.Model,
		StopReason: mapOpenAIFinishReason(string(choice.FinishReason)),
		Usage: models.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if choice.Message.Content != "" {
		out.Content = append(out.Content, models.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		var input any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		out.Content = append(out.Content, models.ToolUseBlock(models.ToolCallId(tc.ID), tc.Function.Name, input))
	}
	return out, nil
}

// Stream performs a completion call and translates OpenAI's
// delta-indexed chunk stream into the ordered StreamEvent sequence
// (§4.D). Unlike Anthropic, OpenAI doesn't emit an explicit
// content_block_start for the text block — one is synthesized at the
// first delta carrying content.
func (p *OpenAIProvider) Stream(ctx context.Context, req *models.CompletionRequest) (<-chan models.StreamEvent, error) {
	chatReq := p.chatRequest(req)
	chatReq.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, NewProviderError("openai", p.model(req.Model), err)
	}

	out := make(chan models.StreamEvent, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		textStarted := false
		toolStarted := make(map[int]bool)

		for {
			resp, err := stream.Recv()
			if err == io.EOF {
				out <- models.StreamEvent{Type: models.StreamEventMessageStop}
				return
			}
			if err != nil {
				out <- models.StreamEvent{Type: models.StreamEventErr, ErrorMessage: NewProviderError("openai", p.model(req.Model), err).Error()}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			delta := choice.Delta

			if delta.Content != "" {
				if !textStarted {
					out <- models.StreamEvent{Type: models.StreamEventContentBlockStart, Index: 0, ContentType: "text"}
					textStarted = true
				}
				out <- models.StreamEvent{Type: models.StreamEventContentBlockDelta, Index: 0, DeltaKind: models.DeltaTypeText, TextDelta: delta.Content}
			}

			for _, tc := range delta.ToolCalls {
				idx := 1
				if tc.Index != nil {
					idx = *tc.Index + 1 // offset past the reserved text index 0
				}
				if !toolStarted[idx] {
					out <- models.StreamEvent{
						Type: models.StreamEventContentBlockStart, Index: idx, ContentType: "tool_use",
						ToolUseID: models.ToolCallId(tc.ID), ToolUseName: tc.Function.Name,
					}
					toolStarted[idx] = true
				}
				if tc.Function.Arguments != "" {
					out <- models.StreamEvent{Type: models.StreamEventContentBlockDelta, Index: idx, DeltaKind: models.DeltaTypeInputJSON, JSONDelta: tc.Function.Arguments}
				}
			}

			if choice.FinishReason != "" {
				for idx := range toolStarted {
					out <- models.StreamEvent{Type: models.StreamEventContentBlockStop, Index: idx}
				}
				if textStarted {
					out <- models.StreamEvent{Type: models.StreamEventContentBlockStop, Index: 0}
				}
				reason := mapOpenAIFinishReason(string(choice.FinishReason))
				out <- models.StreamEvent{Type: models.StreamEventMessageDelta, StopReason: &reason}
			}
		}
	}()
	return out, nil
}

func convertOpenAIMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, msg := range messages {
		switch msg.Role {
		case models.MessageRoleToolResults:
			for _, block := range msg.Content {
				if block.Type == models.ContentBlockToolResult {
					result = append(result, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    block.ToolResultContent,
						ToolCallID: string(block.ToolResultID),
					})
				}
			}
		case models.MessageRoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			for _, block := range msg.Content {
				switch block.Type {
				case models.ContentBlockText:
					oaiMsg.Content = block.Text
				case models.ContentBlockToolUse:
					args, _ := json.Marshal(block.ToolUseInput)
					oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
						ID:   string(block.ToolUseID),
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      block.ToolUseName,
							Arguments: string(args),
						},
					})
				}
			}
			result = append(result, oaiMsg)
		default:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
			for _, block := range msg.Content {
				if block.Type == models.ContentBlockText {
					oaiMsg.Content = block.Text
				}
			}
			result = append(result, oaiMsg)
		}
	}
	return result
}

func convertOpenAITools(tools []models.ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func mapOpenAIFinishReason(raw string) models.StopReason {
	switch raw {
	case "stop", "":
		return models.StopReasonEndTurn
	case "tool_calls", "function_call":
		return models.StopReasonToolUse
	case "length":
		return models.StopReasonMaxTokens
	default:
		return models.StopReasonEndTurn
	}
}
