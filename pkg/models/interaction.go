package models

import "time"

// InteractionRecord is one immutable entry in the append-only
// interaction log (§3, §4.K): one JSON object per line, one line per
// turn (or per backend call within a turn, per configuration).
type InteractionRecord struct {
	ID              string     `json:"id"`
	Timestamp       time.Time  `json:"timestamp"`
	Duration        int64      `json:"duration_ms"`
	RequestedModel  string     `json:"requested_model"`
	ServedModel     string     `json:"served_model"`
	MessageCount    int        `json:"message_count"`
	HasSystemPrompt bool       `json:"has_system_prompt"`
	AvailableTools  []string   `json:"available_tools,omitempty"`
	StopReason      StopReason `json:"stop_reason"`
	Usage           TokenUsage `json:"usage"`

	// ToolCallSummary is an extracted, terse summary of the tool calls
	// dispatched during this interaction (name + success), not the
	// full input/output — the full record lives in the session.
	ToolCallSummary []ToolCallSummary `json:"tool_call_summary,omitempty"`

	ResponseTextLength int            `json:"response_text_length"`
	RoutingMetadata    map[string]any `json:"routing_metadata,omitempty"`
	Tags               []string       `json:"tags,omitempty"`

	SessionID SessionId `json:"session_id,omitempty"`
	TurnID    TurnId    `json:"turn_id,omitempty"`
}

// ToolCallSummary is the terse per-call projection stored on an
// InteractionRecord.
type ToolCallSummary struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
}
