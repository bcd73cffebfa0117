// Package models defines the core data types shared across the agent
// runtime: sessions and turns, the wire-level message/completion shapes
// exchanged with LLM backends, tool definitions, memory records,
// interaction-log records, and the AgentEvent stream used by the
// streaming transport and observability.
package models

import "github.com/google/uuid"

// SessionId, TurnId, ToolCallId and MemoryId are opaque, universally
// unique, stringly-renderable identifiers. They are generated once at
// creation and never reused; order carries no meaning.
type (
	SessionId  string
	TurnId     string
	ToolCallId string
	MemoryId   string
)

// NewSessionId mints a fresh session identifier.
func NewSessionId() SessionId { return SessionId(uuid.NewString()) }

// NewTurnId mints a fresh turn identifier.
func NewTurnId() TurnId { return TurnId(uuid.NewString()) }

// NewToolCallId mints a fresh tool-call identifier.
func NewToolCallId() ToolCallId { return ToolCallId(uuid.NewString()) }

// NewMemoryId mints a fresh memory-record identifier.
func NewMemoryId() MemoryId { return MemoryId(uuid.NewString()) }
