package models

// ToolDefinition is the shape a tool is advertised to an LLM backend
// in: name (unique within a registry, namespaced with ":" segments
// when sourced from an external adapter, e.g. mcp:<server>:<tool>),
// a human description, and a JSON-schema parameter declaration.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  []byte `json:"parameters"` // raw JSON-schema document
}

// StopReason is why a completion ended.
type StopReason string

const (
	StopReasonEndTurn      StopReason = "end_turn"
	StopReasonToolUse      StopReason = "tool_use"
	StopReasonMaxTokens    StopReason = "max_tokens"
	StopReasonStopSequence StopReason = "stop_sequence"
	StopReasonError        StopReason = "error"
)

// TokenUsage reports the accounting for one completion call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CacheCreated int `json:"cache_created,omitempty"`
	CacheRead    int `json:"cache_read,omitempty"`
}

// CompletionRequest is the backend-agnostic shape produced by the
// context builder (§4.C) and consumed by an LLMProvider (§4.D).
type CompletionRequest struct {
	Model       string           `json:"model"`
	MaxTokens   int              `json:"max_tokens"`
	Messages    []Message        `json:"messages"`
	System      string           `json:"system,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Stream      bool             `json:"stream"`
}

// CompletionResponse is the unary (non-streaming) result of a backend
// call (§4.D).
type CompletionResponse struct {
	Model      string         `json:"model"`
	StopReason StopReason     `json:"stop_reason"`
	Content    []ContentBlock `json:"content"`
	Usage      TokenUsage     `json:"usage"`
}

// StreamEventType discriminates StreamEvent variants (§4.D).
type StreamEventType string

const (
	StreamEventContentBlockStart StreamEventType = "content_block_start"
	StreamEventContentBlockDelta StreamEventType = "content_block_delta"
	StreamEventContentBlockStop  StreamEventType = "content_block_stop"
	StreamEventMessageDelta      StreamEventType = "message_delta"
	StreamEventMessageStop       StreamEventType = "message_stop"
	StreamEventErr               StreamEventType = "error"
)

// DeltaType discriminates the two delta payload shapes a backend may
// stream within a ContentBlockDelta event.
type DeltaType string

const (
	DeltaTypeText       DeltaType = "text_delta"
	DeltaTypeInputJSON  DeltaType = "input_json_delta"
)

// StreamEvent is one event in the ordered stream a backend emits for
// a single completion request (§4.D). Index disambiguates interleaved
// tool-use and text blocks when the backend streams them in parallel.
type StreamEvent struct {
	Type  StreamEventType `json:"type"`
	Index int             `json:"index,omitempty"`

	// ContentBlockStart
	ContentType string `json:"content_type,omitempty"` // "text" | "tool_use"
	ToolUseID   ToolCallId `json:"tool_use_id,omitempty"`
	ToolUseName string     `json:"tool_use_name,omitempty"`

	// ContentBlockDelta
	DeltaKind DeltaType `json:"delta_kind,omitempty"`
	TextDelta string    `json:"text_delta,omitempty"`
	JSONDelta string    `json:"json_delta,omitempty"` // partial JSON fragment

	// MessageDelta
	StopReason *StopReason `json:"stop_reason,omitempty"`
	Usage      *TokenUsage `json:"usage,omitempty"`

	// Error
	ErrorMessage string `json:"error_message,omitempty"`
}
