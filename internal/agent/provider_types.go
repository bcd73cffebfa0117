package agent

import (
	"context"
	"encoding/json"

	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends
// (§4.D). Implementations handle the specifics of communicating with a
// concrete API (Anthropic, OpenAI, ...) while presenting the unified
// models.CompletionRequest/Response/StreamEvent shapes to the runtime.
//
// Implementations must be safe for concurrent use: multiple goroutines
// may call Complete or Stream simultaneously for different requests.
type LLMProvider interface {
	// Complete performs a single, non-streaming completion call.
	Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error)

	// Stream performs a completion call and returns the ordered event
	// stream described in §4.D. The channel is closed after a
	// MessageStop or Error event; callers must drain it to avoid
	// leaking the goroutine that feeds it.
	Stream(ctx context.Context, req *models.CompletionRequest) (<-chan models.StreamEvent, error)

	// Name identifies the provider for logging and routing.
	Name() string

	// Models returns the models this provider can serve.
	Models() []Model

	// SupportsTools reports whether the provider can be given tool
	// definitions and will honor StopReasonToolUse.
	SupportsTools() bool
}

// Model describes an available LLM model and its capabilities.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}

// Tool defines the interface for executable agent tools (§4.A). A tool
// is identified by a unique name, documents itself with a JSON-schema
// parameter declaration, and executes synchronously against raw JSON
// input.
type Tool interface {
	// Name returns the tool name for LLM function calling. Must be
	// unique within a registry; adapters namespace external tools with
	// ":" segments (e.g. "mcp:server:tool").
	Name() string

	// Description returns the natural-language description shown to
	// the model so it can decide when to use the tool.
	Description() string

	// Schema returns the JSON-schema document describing the tool's
	// parameters.
	Schema() json.RawMessage

	// Execute runs the tool against params, which is expected to
	// satisfy Schema(). Execute should not panic; internal failures
	// are reported as a ToolResult with IsError set, reserving the
	// error return for failures the caller (not the model) must
	// handle, such as a cancelled context.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`

	// Artifacts holds files or media produced by the tool, surfaced to
	// callers outside the model's text channel.
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Artifact represents a file or media byproduct of a tool execution.
type Artifact struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}

// ResponseChunk is one unit of a streamed turn as surfaced to a runtime
// caller: either partial text, a completed tool result, a tool
// lifecycle event, an AgentEvent, or a terminal error.
type ResponseChunk struct {
	Text       string             `json:"text,omitempty"`
	ToolResult *models.ToolCallResult `json:"tool_result,omitempty"`
	ToolEvent  *models.ToolEvent  `json:"tool_event,omitempty"`
	Event      *models.AgentEvent `json:"event,omitempty"`
	Error      error              `json:"-"`
}
