// Package orchestrator implements the exploration-budget wrapper
// around internal/agent's turn loop and internal/agent's compaction
// manager (§4.H): it estimates session size before each user turn,
// triggers compaction when the session is over threshold and
// compactions remain, drives the turn, and accumulates running totals
// across the whole orchestrated session.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/dylanbstorey/arawn-sub003/internal/agent"
	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// charsPerToken is the same cheap character-count proxy for tokens
// used by internal/agent/context.Packer ("approximate character
// budget, cheap proxy for tokens").
const charsPerToken = 4

// Config bounds one session's orchestrated exploration (§4.H).
type Config struct {
	// MaxContextTokens is the token budget the session is estimated
	// against before every turn.
	MaxContextTokens int

	// CompactionThreshold is the fraction (0-1] of MaxContextTokens
	// that, once reached, triggers a compaction attempt.
	CompactionThreshold float64

	// MaxCompactions bounds how many compactions a single session may
	// undergo across its lifetime.
	MaxCompactions int

	// MaxTurns bounds how many user turns a single session may run
	// through this orchestrator.
	MaxTurns int
}

// DefaultConfig returns conservative defaults: a 150k-token budget,
// compacting at 75% usage, at most 10 compactions and 200 turns
// across the exploration.
func DefaultConfig() Config {
	return Config{
		MaxContextTokens:    150_000,
		CompactionThreshold: 0.75,
		MaxCompactions:      10,
		MaxTurns:            200,
	}
}

// Metadata is the cumulative, whole-session counters returned
// alongside each turn's Result (§4.H).
type Metadata struct {
	TotalInputTokens     int `json:"total_input_tokens"`
	TotalOutputTokens    int `json:"total_output_tokens"`
	TotalIterations      int `json:"total_iterations"`
	CompactionsPerformed int `json:"compactions_performed"`
}

// Result is the composite outcome of one orchestrated turn.
type Result struct {
	Text      string   `json:"text"`
	Truncated bool     `json:"truncated"`
	Metadata  Metadata `json:"metadata"`
}

// sessionState tracks the running counters for one session across
// repeated Run calls, since the budget in §4.H is scoped to the whole
// exploration rather than a single turn.
type sessionState struct {
	turns                int
	compactionsPerformed int
	totalInputTokens     int
	totalOutputTokens    int
	totalIterations      int
}

// Orchestrator composes a Runtime turn loop with a CompactionManager
// under a configured exploration budget.
type Orchestrator struct {
	runtime   *agent.Runtime
	compactor *agent.CompactionManager
	cfg       Config

	mu       sync.Mutex
	sessions map[models.SessionId]*sessionState
}

// New builds an Orchestrator. compactor may be nil, in which case
// compaction is never attempted and budget exhaustion simply
// truncates.
func New(runtime *agent.Runtime, compactor *agent.CompactionManager, cfg Config) *Orchestrator {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultConfig().MaxTurns
	}
	if cfg.CompactionThreshold <= 0 {
		cfg.CompactionThreshold = DefaultConfig().CompactionThreshold
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = DefaultConfig().MaxContextTokens
	}
	return &Orchestrator{
		runtime:   runtime,
		compactor: compactor,
		cfg:       cfg,
		sessions:  make(map[models.SessionId]*sessionState),
	}
}

// Run drives one user turn against session, estimating context usage
// beforehand and compacting if the session is over threshold and
// compactions remain. Budget exhaustion (turn cap reached) returns
// Truncated=true with no partial text rather than calling the
// runtime at all, matching §4.H's "budget exhaustion yields
// truncated=true with partial text" for the degenerate case where no
// further turn can run.
func (o *Orchestrator) Run(ctx context.Context, session *models.Session, userMessage string) (*Result, error) {
	state := o.state(session.ID)

	state.turns++
	if state.turns > o.cfg.MaxTurns {
		state.turns--
		return o.truncatedResult(state, ""), nil
	}

	if o.compactor != nil && state.compactionsPerformed < o.cfg.MaxCompactions {
		if o.overThreshold(session) {
			compacted, err := o.compactor.Compact(ctx, session)
			if err != nil {
				return nil, fmt.Errorf("orchestrator: compact session %s: %w", session.ID, err)
			}
			if compacted {
				state.compactionsPerformed++
			}
		}
	}

	chunks, err := o.runtime.ProcessStream(ctx, session, userMessage)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: process turn: %w", err)
	}

	collector := agent.NewStatsCollector(string(session.ID))
	var text string
	var truncated bool
	for chunk := range chunks {
		if chunk.Error != nil {
			if ctx.Err() != nil {
				truncated = true
				break
			}
			return nil, chunk.Error
		}
		if chunk.Event != nil {
			collector.OnEvent(ctx, *chunk.Event)
		}
		text += chunk.Text
	}

	stats := collector.Stats()
	state.totalInputTokens += stats.InputTokens
	state.totalOutputTokens += stats.OutputTokens
	state.totalIterations += stats.Iters

	result := &Result{
		Text:      text,
		Truncated: truncated,
		Metadata: Metadata{
			TotalInputTokens:     state.totalInputTokens,
			TotalOutputTokens:    state.totalOutputTokens,
			TotalIterations:      state.totalIterations,
			CompactionsPerformed: state.compactionsPerformed,
		},
	}
	return result, nil
}

// Reset discards tracked counters for a session, e.g. once it is
// closed.
func (o *Orchestrator) Reset(sessionID models.SessionId) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sessions, sessionID)
	if o.compactor != nil {
		o.compactor.Reset(sessionID)
	}
}

func (o *Orchestrator) state(id models.SessionId) *sessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	if !ok {
		s = &sessionState{}
		o.sessions[id] = s
	}
	return s
}

// overThreshold estimates session size with the same cheap
// character-count proxy internal/agent/context.Packer uses and
// compares it against MaxContextTokens*CompactionThreshold.
func (o *Orchestrator) overThreshold(session *models.Session) bool {
	estimated := estimateTokens(session)
	threshold := int(float64(o.cfg.MaxContextTokens) * o.cfg.CompactionThreshold)
	return estimated >= threshold
}

func estimateTokens(session *models.Session) int {
	chars := len(session.Summary)
	for _, turn := range session.CompletedTurns() {
		chars += len(turn.UserMessage)
		if turn.AssistantResponse != nil {
			chars += len(*turn.AssistantResponse)
		}
		for _, tr := range turn.ToolResults {
			chars += len(tr.Content)
		}
	}
	return chars / charsPerToken
}

// truncatedResult builds a Result reflecting budget exhaustion without
// running a turn.
func (o *Orchestrator) truncatedResult(state *sessionState, text string) *Result {
	return &Result{
		Text:      text,
		Truncated: true,
		Metadata: Metadata{
			TotalInputTokens:     state.totalInputTokens,
			TotalOutputTokens:    state.totalOutputTokens,
			TotalIterations:      state.totalIterations,
			CompactionsPerformed: state.compactionsPerformed,
		},
	}
}
