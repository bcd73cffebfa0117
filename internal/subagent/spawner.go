// Package subagent implements the SubagentSpawner contract (§4.J):
// delegating a task to a named, restricted-capability agent that runs
// its own session to completion, synchronously or in the background.
//
// This is distinct from internal/tools/subagent, which supplies the
// chat-facing spawn tool and the announcement-queue/formatting helpers
// this package reuses for delegate_background's "post the result back
// into the parent workstream" step.
package subagent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dylanbstorey/arawn-sub003/internal/agent"
	"github.com/dylanbstorey/arawn-sub003/internal/sessions"
	toolsubagent "github.com/dylanbstorey/arawn-sub003/internal/tools/subagent"
	"github.com/dylanbstorey/arawn-sub003/internal/tools/policy"
	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// SubagentInfo describes one registered subagent a caller may
// delegate to (§4.J: "list_agents() -> [SubagentInfo]").
type SubagentInfo struct {
	Name string

	// Description is shown to callers choosing among subagents.
	Description string

	// AllowedTools restricts the subagent's tool registry to this
	// set, resolved against the Spawner's full tool catalog via
	// agent.FilterByPolicy. An empty set means no tools at all —
	// callers must opt a subagent into capabilities explicitly.
	AllowedTools []string

	// ReadOnly marks an exploration-style subagent. Read-only
	// subagents never get "spawn_subagent"/"delegate" registered into
	// their restricted toolset, regardless of AllowedTools, which is
	// how recursive delegation is prevented (§4.J).
	ReadOnly bool

	// DefaultMaxTurns bounds iterations when delegate's own max_turns
	// argument is zero.
	DefaultMaxTurns int

	// SystemPrompt is prepended to the subagent's runtime system
	// prompt; when empty, toolsubagent.BuildSubagentSystemPrompt
	// supplies a generic one.
	SystemPrompt string
}

// recursionDeniedTools are never registered into a subagent's
// restricted toolset, matching §4.J's "excluding the delegate/
// exploration tools from the read-only toolset" rule.
var recursionDeniedTools = map[string]bool{
	"spawn_subagent": true,
	"delegate":       true,
}

// Result is the payload of a Success outcome.
type Result struct {
	Text       string `json:"text"`
	Success    bool   `json:"success"`
	Turns      int    `json:"turns"`
	DurationMS int64  `json:"duration_ms"`
	Truncated  bool   `json:"truncated"`
	Compacted  bool   `json:"compacted"`
}

// Outcome is the §4.J DelegationOutcome sum, expressed as a tagged
// struct since Go has no native sum type: exactly one of Result,
// ErrorMessage (when Kind == OutcomeError), or Name/Available (when
// Kind == OutcomeUnknownAgent) is populated.
type OutcomeKind string

const (
	OutcomeSuccess      OutcomeKind = "success"
	OutcomeError        OutcomeKind = "error"
	OutcomeUnknownAgent OutcomeKind = "unknown_agent"
)

// Outcome is the result of a delegate call.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`

	// Success
	Result *Result `json:"result,omitempty"`

	// Error
	ErrorMessage string `json:"error,omitempty"`

	// UnknownAgent
	RequestedName  string   `json:"requested_name,omitempty"`
	AvailableNames []string `json:"available_names,omitempty"`
}

// ToolProvider supplies the full catalog of tools a subagent's
// AllowedTools is filtered against. It mirrors how the main Runtime's
// own tool registry is populated, but the Spawner keeps its own
// filtered registries rather than sharing the parent Runtime's.
type ToolProvider func() []agent.Tool

// Spawner implements the SubagentSpawner contract.
type Spawner struct {
	provider     agent.LLMProvider
	store        sessions.Store
	tools        ToolProvider
	resolver     *policy.Resolver
	defaultModel string

	mu     sync.RWMutex
	agents map[string]SubagentInfo

	queue *toolsubagent.AnnounceQueue

	// deliver posts a background delegation's final trigger message
	// into the parent workstream. Callers (typically the gateway or
	// cmd/arawnd wiring) set this to append the message into the
	// parent session via the Runtime/sessions.Store they own.
	deliver func(ctx context.Context, parentSessionID models.SessionId, message string)
}

// New builds a Spawner. tools supplies the full tool catalog
// AllowedTools is filtered against; provider/store/defaultModel
// configure each subagent's private Runtime.
func New(provider agent.LLMProvider, store sessions.Store, tools ToolProvider, defaultModel string) *Spawner {
	return &Spawner{
		provider:     provider,
		store:        store,
		tools:        tools,
		resolver:     policy.NewResolver(),
		defaultModel: defaultModel,
		agents:       make(map[string]SubagentInfo),
		queue:        toolsubagent.NewAnnounceQueue(),
	}
}

// Register adds or replaces a subagent definition.
func (s *Spawner) Register(info SubagentInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[info.Name] = info
}

// SetDeliverFunc configures how a background delegation's result is
// posted back into its parent workstream (§4.J: "post the final
// result back into the parent workstream as a dedicated message").
func (s *Spawner) SetDeliverFunc(fn func(ctx context.Context, parentSessionID models.SessionId, message string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliver = fn
}

// ListAgents returns every registered subagent definition.
func (s *Spawner) ListAgents() []SubagentInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SubagentInfo, 0, len(s.agents))
	for _, info := range s.agents {
		out = append(out, info)
	}
	return out
}

func (s *Spawner) lookup(name string) (SubagentInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.agents[name]
	return info, ok
}

func (s *Spawner) availableNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.agents))
	for name := range s.agents {
		names = append(names, name)
	}
	return names
}

// Delegate runs name's task to completion in its own session and
// returns the composite outcome (§4.J). context is an optional
// additional preamble appended ahead of task in the subagent's first
// user message. maxTurns overrides info.DefaultMaxTurns when > 0.
func (s *Spawner) Delegate(ctx context.Context, name, task, taskContext string, maxTurns int) Outcome {
	info, ok := s.lookup(name)
	if !ok {
		return Outcome{Kind: OutcomeUnknownAgent, RequestedName: name, AvailableNames: s.availableNames()}
	}

	result, err := s.run(ctx, info, task, taskContext, maxTurns)
	if err != nil {
		return Outcome{Kind: OutcomeError, ErrorMessage: err.Error()}
	}
	return Outcome{Kind: OutcomeSuccess, Result: result}
}

// DelegateBackground starts name's task asynchronously and posts its
// result into parentSessionID's workstream once it finishes, via the
// configured deliver func. It returns immediately; the returned error
// only reflects synchronous validation (unknown agent), never the
// task's eventual outcome.
func (s *Spawner) DelegateBackground(parentSessionID models.SessionId, name, task, taskContext string) error {
	info, ok := s.lookup(name)
	if !ok {
		return fmt.Errorf("subagent: unknown agent %q", name)
	}

	go func() {
		started := time.Now()
		result, err := s.run(context.Background(), info, task, taskContext, 0)

		outcome := &toolsubagent.SubagentRunOutcome{Status: "ok"}
		reply := ""
		stats := toolsubagent.StatsLine{Runtime: toolsubagent.FormatDurationShort(time.Since(started))}
		if err != nil {
			outcome.Status = "error"
			outcome.Error = err.Error()
		} else {
			reply = result.Text
			if !result.Success {
				outcome.Status = "error"
				outcome.Error = "subagent turn did not complete successfully"
			}
		}

		message := toolsubagent.BuildTriggerMessage(toolsubagent.TriggerMessageParams{
			Label:     info.Name,
			Task:      task,
			Outcome:   outcome,
			Reply:     reply,
			StatsLine: toolsubagent.BuildStatsLine(&stats),
		})

		s.mu.RLock()
		deliver := s.deliver
		s.mu.RUnlock()
		if deliver != nil {
			deliver(context.Background(), parentSessionID, message)
		} else {
			s.queue.Enqueue(string(parentSessionID), &toolsubagent.AnnounceQueueItem{
				Prompt:      message,
				SummaryLine: reply,
				EnqueuedAt:  time.Now(),
				SessionKey:  string(parentSessionID),
			}, nil)
		}
	}()

	return nil
}

// DrainPending returns and clears any background results queued for a
// parent session because no deliver func was configured at the time
// they completed (§4.J's fallback path, exercised by tests and by
// callers that poll rather than push).
func (s *Spawner) DrainPending(parentSessionID models.SessionId) []*toolsubagent.AnnounceQueueItem {
	return s.queue.DequeueAll(string(parentSessionID))
}

func (s *Spawner) run(ctx context.Context, info SubagentInfo, task, taskContext string, maxTurns int) (*Result, error) {
	if maxTurns <= 0 {
		maxTurns = info.DefaultMaxTurns
	}
	if maxTurns <= 0 {
		maxTurns = 5
	}

	rt := agent.NewRuntime(s.provider, s.store)
	rt.SetDefaultModel(s.defaultModel)
	rt.SetMaxIterations(maxTurns)

	systemPrompt := info.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = toolsubagent.BuildSubagentSystemPrompt(toolsubagent.SubagentSystemPromptParams{
			Label: info.Name,
			Task:  task,
		})
	}
	rt.SetSystemPrompt(systemPrompt)

	for _, tool := range s.filteredTools(info) {
		rt.RegisterTool(tool)
	}

	session := models.NewSession()
	if err := s.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("subagent: create session: %w", err)
	}

	userMessage := task
	if taskContext != "" {
		userMessage = taskContext + "\n\n" + task
	}

	started := time.Now()
	chunks, err := rt.Process(ctx, session, userMessage)
	if err != nil {
		return nil, fmt.Errorf("subagent: dispatch turn: %w", err)
	}

	var text string
	var truncated bool
	collector := agent.NewStatsCollector(uuid.NewString())
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
	return &Result{
		Text:       text,
		Success:    !truncated,
		Turns:      stats.Iters,
		DurationMS: time.Since(started).Milliseconds(),
		Truncated:  truncated,
		Compacted:  false,
	}, nil
}

// filteredTools resolves info.AllowedTools against the Spawner's full
// catalog, stripping any recursion-denied tool name regardless of
// policy, and omitting the whole catalog for read-only subagents
// beyond what AllowedTools explicitly grants.
func (s *Spawner) filteredTools(info SubagentInfo) []agent.Tool {
	if s.tools == nil || len(info.AllowedTools) == 0 {
		return nil
	}

	allowed := make([]string, 0, len(info.AllowedTools))
	for _, name := range info.AllowedTools {
		if recursionDeniedTools[name] {
			continue
		}
		allowed = append(allowed, name)
	}
	if len(allowed) == 0 {
		return nil
	}

	toolPolicy := &policy.Policy{Allow: allowed}
	return agent.FilterByPolicy(s.resolver, toolPolicy, s.tools())
}
