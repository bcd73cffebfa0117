package models

import "time"

// Role indicates the author of a content block within a wire-level
// Message. It intentionally mirrors the smaller role set the context
// builder emits (§4.C): a turn's history is rendered as at most three
// messages (user, assistant, tool-results), never a free-form chat log.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is the LLM's request to execute one tool, scoped to a
// single turn. Arguments is a free-form structured value (decoded
// from the backend's JSON-input-delta accumulation).
type ToolCall struct {
	ID        ToolCallId `json:"id"`
	Name      string     `json:"name"`
	Arguments any        `json:"arguments"`
}

// ToolCallResult is the outcome of dispatching one ToolCall. Every
// ToolCallID here must match some call in the same turn (§3 Turn
// invariants); a turn's tool_results are a permutation-preserving
// subset of its tool_calls.
type ToolCallResult struct {
	ToolCallID ToolCallId `json:"tool_call_id"`
	Success    bool       `json:"success"`
	Content    string     `json:"content"`
}

// Turn is one (user-message, zero-or-more tool-calls/results,
// optional assistant-response) tuple. A turn with non-empty ToolCalls
// and a nil AssistantResponse is still dispatching (§3).
type Turn struct {
	ID                 TurnId           `json:"id"`
	UserMessage        string           `json:"user_message"`
	AssistantResponse  *string          `json:"assistant_response,omitempty"`
	ToolCalls          []ToolCall       `json:"tool_calls,omitempty"`
	ToolResults        []ToolCallResult `json:"tool_results,omitempty"`
	StartedAt          time.Time        `json:"started_at"`
	CompletedAt        time.Time        `json:"completed_at,omitempty"`

	// Summary marks a synthetic turn produced by compaction (§4.G),
	// replacing a contiguous prefix of turns. A Summary turn has no
	// ToolCalls/ToolResults and its UserMessage is empty; its
	// AssistantResponse carries the generated prose.
	Summary bool `json:"summary,omitempty"`
}

// InProgress reports whether the turn has been started but not yet
// finalised — the assistant response is absent and, per §4.B, an
// in-progress turn is rendered to the context builder as user-only.
func (t *Turn) InProgress() bool {
	return t.AssistantResponse == nil && !t.Summary
}

// Dispatching reports whether the turn has emitted tool calls that
// have not all been completed yet (§3: "a turn with non-empty
// tool_calls and assistant_response = None is considered still
// dispatching").
func (t *Turn) Dispatching() bool {
	return len(t.ToolCalls) > 0 && t.AssistantResponse == nil
}

// AddToolCall appends a tool-use block to the turn in call order.
func (t *Turn) AddToolCall(call ToolCall) {
	t.ToolCalls = append(t.ToolCalls, call)
}

// AddToolResult appends a tool result, preserving dispatch order. The
// caller is responsible for the §3 invariant that ToolCallID matches
// some call already present in ToolCalls.
func (t *Turn) AddToolResult(result ToolCallResult) {
	t.ToolResults = append(t.ToolResults, result)
}

// Complete finalises the turn with the given assistant text and sets
// CompletedAt. Called at most once per turn.
func (t *Turn) Complete(responseText string) {
	t.AssistantResponse = &responseText
	t.CompletedAt = time.Now()
}

// Session is a strictly append-only ordered history of Turns under a
// stable identity (§3, §4.B). Mutation is exposed only through
// StartTurn/complete-turn operations; callers must complete the
// current turn before starting another.
type Session struct {
	ID       SessionId `json:"id"`
	Turns    []*Turn   `json:"turns"`

	// ContextPreamble is a stable string prepended to the system
	// prompt (§3, §4.C); typically populated from bootstrap context
	// files (§6) on workspace attach.
	ContextPreamble string `json:"context_preamble,omitempty"`

	// Summary is set by compaction; when non-empty it has already
	// been materialised as the first Turn in Turns (Turn.Summary ==
	// true) — this field mirrors that text for quick access and API
	// responses without re-scanning Turns.
	Summary string `json:"summary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates an empty session with a fresh identity.
func NewSession() *Session {
	now := time.Now()
	return &Session{
		ID:        NewSessionId(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ActiveTurn returns the in-progress turn, if any. At most one turn
// per session may be in progress at a time (§3 invariant).
func (s *Session) ActiveTurn() *Turn {
	if len(s.Turns) == 0 {
		return nil
	}
	last := s.Turns[len(s.Turns)-1]
	if last.InProgress() || last.Dispatching() {
		return last
	}
	return nil
}

// StartTurn creates and appends a new in-progress turn. It returns an
// error if a turn is already in progress, enforcing the "complete
// before starting another" invariant.
func (s *Session) StartTurn(userMessage string) (*Turn, error) {
	if active := s.ActiveTurn(); active != nil {
		return nil, ErrTurnInProgress
	}
	turn := &Turn{
		ID:          NewTurnId(),
		UserMessage: userMessage,
		StartedAt:   time.Now(),
	}
	s.Turns = append(s.Turns, turn)
	s.UpdatedAt = turn.StartedAt
	return turn, nil
}

// AllTurns returns the ordered history. Callers must not mutate the
// returned slice's turns directly except through Turn's own methods
// while a lease (see internal/agent) is held.
func (s *Session) AllTurns() []*Turn {
	return s.Turns
}

// CompletedTurns returns turns that are neither in-progress nor still
// dispatching — the set the context builder is allowed to render
// (§4.C traverses this set newest to oldest).
func (s *Session) CompletedTurns() []*Turn {
	out := make([]*Turn, 0, len(s.Turns))
	for _, t := range s.Turns {
		if !t.InProgress() && !t.Dispatching() {
			out = append(out, t)
		}
	}
	return out
}

// ReplacePrefix replaces the first n turns with a single synthetic
// Summary turn carrying summaryText. This is the only mechanism by
// which completed turns may be "replaced" in the history (§3, §4.G).
func (s *Session) ReplacePrefix(n int, summaryText string) {
	if n <= 0 || n > len(s.Turns) {
		return
	}
	summaryTurn := &Turn{
		ID:                NewTurnId(),
		AssistantResponse: &summaryText,
		StartedAt:         s.Turns[0].StartedAt,
		CompletedAt:       s.Turns[n-1].CompletedAt,
		Summary:           true,
	}
	remaining := make([]*Turn, 0, len(s.Turns)-n+1)
	remaining = append(remaining, summaryTurn)
	remaining = append(remaining, s.Turns[n:]...)
	s.Turns = remaining
	s.Summary = summaryText
	s.UpdatedAt = time.Now()
}
