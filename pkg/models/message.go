package models

// MessageRole tags a wire-level Message as produced by the context
// builder (§4.C step 4): a turn flattens into a User message, an
// optional Assistant message (tool-use blocks in call order, then a
// final text block), and a ToolResults message.
type MessageRole string

const (
	MessageRoleUser        MessageRole = "user"
	MessageRoleAssistant   MessageRole = "assistant"
	MessageRoleToolResults MessageRole = "tool_results"
)

// ContentBlockType discriminates the variants of ContentBlock.
type ContentBlockType string

const (
	ContentBlockText       ContentBlockType = "text"
	ContentBlockToolUse    ContentBlockType = "tool_use"
	ContentBlockToolResult ContentBlockType = "tool_result"
)

// ContentBlock is a single typed unit inside a Message. Exactly one of
// the variant-specific fields is meaningful for a given Type. The
// ToolUse id namespace is per-turn (§3).
type ContentBlock struct {
	Type ContentBlockType `json:"type"`

	// Text content (Type == ContentBlockText).
	Text string `json:"text,omitempty"`

	// ToolUse fields (Type == ContentBlockToolUse).
	ToolUseID    ToolCallId `json:"tool_use_id,omitempty"`
	ToolUseName  string     `json:"tool_use_name,omitempty"`
	ToolUseInput any        `json:"tool_use_input,omitempty"`

	// ToolResult fields (Type == ContentBlockToolResult).
	ToolResultID      ToolCallId `json:"tool_result_id,omitempty"`
	ToolResultContent string     `json:"tool_result_content,omitempty"`
	ToolResultSuccess bool       `json:"tool_result_success,omitempty"`
}

// TextBlock constructs a Text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentBlockText, Text: text}
}

// ToolUseBlock constructs a ToolUse content block.
func ToolUseBlock(id ToolCallId, name string, input any) ContentBlock {
	return ContentBlock{Type: ContentBlockToolUse, ToolUseID: id, ToolUseName: name, ToolUseInput: input}
}

// ToolResultBlock constructs a ToolResult content block.
func ToolResultBlock(id ToolCallId, content string, success bool) ContentBlock {
	return ContentBlock{Type: ContentBlockToolResult, ToolResultID: id, ToolResultContent: content, ToolResultSuccess: success}
}

// Message is the wire-level, transient record exchanged with an LLM
// backend: a tagged role carrying an ordered sequence of typed content
// blocks (§3). Messages are never persisted directly — they are
// derived from a Session's Turns by the context builder and discarded
// after the backend call.
type Message struct {
	Role    MessageRole    `json:"role"`
	Content []ContentBlock `json:"content"`
}
