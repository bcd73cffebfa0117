// Package agent provides the core runtime and abstractions for LLM-powered agent workflows.
//
// This package implements the agent orchestration layer of arawn, handling:
//   - LLM provider abstraction (Anthropic, OpenAI, ...)
//   - Tool registration and sequential execution (§4.A, §4.E)
//   - Session-aware, turn-oriented conversation management (§4.B)
//   - Streaming response handling (§4.D)
//
// # Architecture Overview
//
// The agent package follows a layered architecture:
//
//	┌─────────────────────────────────────────┐
//	│              Runtime                     │  Turn-loop orchestration
//	├─────────────────────────────────────────┤
//	│  ToolRegistry    │    sessions.Store    │  State management
//	├─────────────────────────────────────────┤
//	│            LLMProvider                  │  Provider abstraction
//	└─────────────────────────────────────────┘
//
// # Basic Usage
//
//	store := sessions.NewMemoryStore()
//	runtime := agent.NewRuntime(provider, store)
//	runtime.RegisterTool(websearch.New(apiKey))
//
//	session := models.NewSession()
//	_ = store.Create(ctx, session)
//
//	chunks, _ := runtime.Process(ctx, session, "search for Go tutorials")
//	for chunk := range chunks {
//	    fmt.Print(chunk.Text)
//	}
//
// # Turn loop
//
// Per §4.E, one call to Process/ProcessStream drives a session through
// exactly one user turn to completion:
//
//  1. StartTurn opens the turn on the session (rejecting a concurrent turn).
//  2. Each iteration packs context (§4.C), calls the backend, and either
//     finalizes the turn (stop reason != tool_use) or dispatches the
//     model's tool calls sequentially, in call order, and loops.
//  3. The turn is finalized, the session persisted, compaction checked,
//     and an interaction record written, regardless of which path ended it.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	agentctx "github.com/dylanbstorey/arawn-sub003/internal/agent/context"
	"github.com/dylanbstorey/arawn-sub003/internal/sessions"
	"github.com/dylanbstorey/arawn-sub003/internal/tools/policy"
	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// InteractionLogger persists one InteractionRecord per finished turn
// (§4.K). A nil logger on Runtime disables interaction logging.
type InteractionLogger interface {
	Log(ctx context.Context, record *models.InteractionRecord) error
}

// Runtime drives the turn loop described in §4.E against a
// configured LLMProvider, ToolRegistry, and session store. A Runtime
// is safe for concurrent use across sessions; SessionLeases serializes
// concurrent turns on the same session.
type Runtime struct {
	mu sync.RWMutex

	provider LLMProvider
	tools    *ToolRegistry
	store    sessions.Store

	leases     *SessionLeases
	toolExec   *ToolExecutor
	packer     *agentctx.Packer
	compaction *CompactionManager

	sink           EventSink
	interactionLog InteractionLogger

	opts RuntimeOptions

	defaultModel        string
	defaultSystemPrompt string
	defaultMaxTokens    int
	maxIterations       int
	maxWallTime         time.Duration

	resolver   *policy.Resolver
	toolPolicy *policy.Policy
}

// NewRuntime creates a runtime with sensible defaults: an empty tool
// registry, a fresh session-lease table, a default tool executor, and
// the default context packer. provider and store may be set later via
// SetProvider if unavailable at construction time.
func NewRuntime(provider LLMProvider, store sessions.Store) *Runtime {
	registry := NewToolRegistry()
	r := &Runtime{
		provider:         provider,
		tools:            registry,
		store:            store,
		leases:           NewSessionLeases(),
		packer:           agentctx.NewPacker(agentctx.DefaultPackOptions()),
		opts:             DefaultRuntimeOptions(),
		defaultMaxTokens: 4096,
		maxIterations:    5,
	}
	r.toolExec = NewToolExecutor(registry, DefaultToolExecConfig())
	return r
}

// SetProvider swaps the LLM backend the runtime calls.
func (r *Runtime) SetProvider(provider LLMProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provider = provider
}

// SetDefaultModel sets the model used when a request does not carry a
// per-call override via WithModel.
func (r *Runtime) SetDefaultModel(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultModel = model
}

// SetSystemPrompt sets the base system prompt composed with a
// session's ContextPreamble per §4.C.
func (r *Runtime) SetSystemPrompt(prompt string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultSystemPrompt = prompt
}

// SetMaxTokens sets the max_tokens sent with every completion request.
func (r *Runtime) SetMaxTokens(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > 0 {
		r.defaultMaxTokens = n
	}
}

// SetMaxIterations bounds the number of tool-use iterations per turn
// (§4.E: "exceeding max_iterations finalizes the turn as an error").
func (r *Runtime) SetMaxIterations(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > 0 {
		r.maxIterations = n
	}
}

// SetMaxWallTime bounds the wall-clock duration of a single turn
// across all of its iterations. Zero disables the limit.
func (r *Runtime) SetMaxWallTime(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxWallTime = d
}

// SetToolExecConfig reconfigures per-call tool timeout and retry
// behavior.
func (r *Runtime) SetToolExecConfig(cfg ToolExecConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolExec = NewToolExecutor(r.tools, cfg)
}

// SetPackOptions reconfigures how session history is packed into a
// request's message list.
func (r *Runtime) SetPackOptions(opts agentctx.PackOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packer = agentctx.NewPacker(opts)
}

// SetCompaction wires automatic map-reduce compaction (§4.G). summarizeProvider
// may be nil, in which case compaction checks run but never fold turns in —
// useful before an LLM-backed summarizer is available.
func (r *Runtime) SetCompaction(config *CompactionConfig, summarizeProvider agentctx.SummaryProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compaction = NewCompactionManager(config, r.packer, summarizeProvider)
}

// SetOptions merges override into the runtime's baseline RuntimeOptions.
func (r *Runtime) SetOptions(override RuntimeOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts = mergeRuntimeOptions(r.opts, override)
}

// SetEventSink adds a sink that receives every AgentEvent emitted
// while processing, in addition to the per-call chunk channel.
func (r *Runtime) SetEventSink(sink EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// SetInteractionLogger wires the append-only interaction log (§4.K).
func (r *Runtime) SetInteractionLogger(logger InteractionLogger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interactionLog = logger
}

// SetToolPolicy sets the default tool policy applied when a request's
// context carries no per-call override (see WithToolPolicy).
func (r *Runtime) SetToolPolicy(resolver *policy.Resolver, toolPolicy *policy.Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolver = resolver
	r.toolPolicy = toolPolicy
}

// RegisterTool adds a tool to the runtime's registry.
func (r *Runtime) RegisterTool(tool Tool) {
	r.tools.Register(tool)
}

// UnregisterTool removes a tool from the runtime's registry by name.
func (r *Runtime) UnregisterTool(name string) {
	r.tools.Unregister(name)
}

// Tools returns the runtime's tool registry for direct inspection or
// advanced wiring (e.g. an MCP bridge registering adapted tools).
func (r *Runtime) Tools() *ToolRegistry {
	return r.tools
}

// CompactionManager returns the runtime's compaction manager, or nil
// if SetCompaction has not been called.
func (r *Runtime) CompactionManager() *CompactionManager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.compaction
}

// snapshot captures the runtime's mutable configuration under a read
// lock so the turn loop can run lock-free afterward.
type runtimeSnapshot struct {
	provider            LLMProvider
	store               sessions.Store
	packer              *agentctx.Packer
	compaction          *CompactionManager
	toolExec            *ToolExecutor
	sink                EventSink
	interactionLog      InteractionLogger
	opts                RuntimeOptions
	defaultModel        string
	defaultSystemPrompt string
	defaultMaxTokens    int
	maxIterations       int
	maxWallTime         time.Duration
	resolver            *policy.Resolver
	toolPolicy          *policy.Policy
}

func (r *Runtime) snapshot() runtimeSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return runtimeSnapshot{
		provider:            r.provider,
		store:               r.store,
		packer:              r.packer,
		compaction:          r.compaction,
		toolExec:            r.toolExec,
		sink:                r.sink,
		interactionLog:      r.interactionLog,
		opts:                r.opts,
		defaultModel:        r.defaultModel,
		defaultSystemPrompt: r.defaultSystemPrompt,
		defaultMaxTokens:    r.defaultMaxTokens,
		maxIterations:       r.maxIterations,
		maxWallTime:         r.maxWallTime,
		resolver:            r.resolver,
		toolPolicy:          r.toolPolicy,
	}
}

// Process drives session through one user turn using a single
// non-streaming completion call per iteration. The caller must have
// already persisted session via the configured Store (Create); Process
// mutates it in place and saves it back on completion. The returned
// channel is closed once the turn finalizes.
func (r *Runtime) Process(ctx context.Context, session *models.Session, userMessage string) (<-chan *ResponseChunk, error) {
	return r.process(ctx, session, userMessage, false)
}

// ProcessStream is Process, but each iteration streams the backend
// response (§4.D) and emits model.delta events as text arrives.
func (r *Runtime) ProcessStream(ctx context.Context, session *models.Session, userMessage string) (<-chan *ResponseChunk, error) {
	return r.process(ctx, session, userMessage, true)
}

func (r *Runtime) process(ctx context.Context, session *models.Session, userMessage string, stream bool) (<-chan *ResponseChunk, error) {
	snap := r.snapshot()
	if snap.provider == nil {
		return nil, ErrNoProvider
	}
	if session == nil {
		return nil, errors.New("agent: session is required")
	}

	turn, err := session.StartTurn(userMessage)
	if err != nil {
		return nil, err
	}

	release := r.leases.Acquire(session.ID)

	runID := uuid.NewString()
	chunks := make(chan *ResponseChunk, 64)
	collector := NewStatsCollector(runID)

	sinks := []EventSink{NewCallbackSink(collector.OnEvent), NewChunkAdapterSink(chunks)}
	if snap.sink != nil {
		sinks = append(sinks, snap.sink)
	}
	emitter := NewEventEmitter(runID, NewMultiSink(sinks...))

	go func() {
		defer release()
		defer close(chunks)
		r.runTurn(ctx, snap, session, turn, emitter, collector, stream)
	}()

	return chunks, nil
}

// runTurn is the §4.E loop body: build context, call the backend,
// dispatch tools sequentially until the model stops asking for them,
// then finalize and persist.
func (r *Runtime) runTurn(ctx context.Context, snap runtimeSnapshot, session *models.Session, turn *models.Turn, emitter *EventEmitter, collector *StatsCollector, stream bool) {
	emitter.RunStarted(ctx)

	model := snap.defaultModel
	if m, ok := modelFromContext(ctx); ok {
		model = m
	}
	systemBase := snap.defaultSystemPrompt
	if sp, ok := systemPromptFromContext(ctx); ok {
		systemBase = sp
	}
	resolver, toolPolicy := snap.resolver, snap.toolPolicy
	if r2, p2, ok := toolPolicyFromContext(ctx); ok {
		resolver, toolPolicy = r2, p2
	}
	opts := snap.opts
	if override, ok := runtimeOptionsFromContext(ctx); ok {
		opts = mergeRuntimeOptions(opts, override)
	}

	maxIter := snap.maxIterations
	if maxIter <= 0 {
		maxIter = 5
	}
	started := time.Now()

	for iter := 1; ; iter++ {
		select {
		case <-ctx.Done():
			r.finalize(ctx, snap, session, turn, emitter, collector, nil, nil, ctx.Err())
			return
		default:
		}

		if iter > maxIter {
			r.finalize(ctx, snap, session, turn, emitter, collector, nil, nil, ErrMaxIterations)
			return
		}
		if snap.maxWallTime > 0 && time.Since(started) > snap.maxWallTime {
			emitter.RunTimedOut(ctx, snap.maxWallTime)
			turn.Complete(fmt.Sprintf("Error: run exceeded wall time limit of %v", snap.maxWallTime))
			r.persistAndLog(ctx, snap, session, turn, nil, nil, nil)
			emitter.RunFinished(ctx, collector.Stats())
			return
		}

		emitter.SetIter(iter)
		emitter.IterStarted(ctx)

		packed := snap.packer.PackWithDiagnostics(session)
		if packed.Diagnostics != nil {
			d := packed.Diagnostics
			emitter.ContextPacked(ctx, &models.ContextEventPayload{
				BudgetChars:    d.BudgetChars,
				BudgetMessages: maxIter,
				UsedChars:      d.UsedChars,
				Candidates:     d.TotalTurns,
				Included:       d.IncludedTurns,
				Dropped:        d.Dropped,
			})
		}

		tools := FilterByPolicy(resolver, toolPolicy, r.tools.AsLLMTools())
		toolDefs := make([]models.ToolDefinition, 0, len(tools))
		for _, t := range tools {
			toolDefs = append(toolDefs, models.ToolDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Schema(),
			})
		}

		req := &models.CompletionRequest{
			Model:     model,
			MaxTokens: snap.defaultMaxTokens,
			Messages:  packed.Messages,
			System:    agentctx.ComposeSystemPrompt(systemBase, session.ContextPreamble),
			Tools:     toolDefs,
			Stream:    stream,
		}

		var resp *models.CompletionResponse
		var err error
		if stream {
			resp, err = r.streamToResponse(ctx, snap.provider, req, emitter)
		} else {
			resp, err = snap.provider.Complete(ctx, req)
		}
		if err != nil {
			emitter.RunError(ctx, err, isRetriableError(err))
			turn.Complete(fmt.Sprintf("Error: %v", err))
			r.persistAndLog(ctx, snap, session, turn, req, nil, err)
			emitter.RunFinished(ctx, collector.Stats())
			return
		}

		emitter.ModelCompleted(ctx, snap.provider.Name(), resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)

		var text strings.Builder
		var calls []models.ToolCall
		for _, block := range resp.Content {
			switch block.Type {
			case models.ContentBlockText:
				text.WriteString(block.Text)
			case models.ContentBlockToolUse:
				calls = append(calls, models.ToolCall{ID: block.ToolUseID, Name: block.ToolUseName, Arguments: block.ToolUseInput})
			}
		}
		for _, c := range calls {
			turn.AddToolCall(c)
		}

		emitter.IterFinished(ctx)

		if resp.StopReason != models.StopReasonToolUse || len(calls) == 0 {
			turn.Complete(text.String())
			r.persistAndLog(ctx, snap, session, turn, req, resp, nil)
			emitter.RunFinished(ctx, collector.Stats())
			return
		}

		toolEmit := func(e *models.AgentEvent) {
			if e == nil {
				return
			}
			e.RunID = emitter.runID
			e.TurnIndex = iter
			e.Sequence = emitter.nextSeq()
			if e.Time.IsZero() {
				e.Time = time.Now()
			}
			emitter.emit(ctx, *e)
		}

		results := snap.toolExec.ExecuteSequentially(ctx, calls, toolEmit)
		resultModels := make([]models.ToolCallResult, len(results))
		for i, res := range results {
			resultModels[i] = res.Result
		}
		resultModels = guardToolResults(opts.ToolResultGuard, calls, resultModels, resolver)

		cancelled := false
		for i, res := range resultModels {
			if ctx.Err() != nil && !results[i].Result.Success {
				res.Content = "cancelled"
				res.Success = false
				cancelled = true
			}
			turn.AddToolResult(res)
		}

		if cancelled || ctx.Err() != nil {
			r.finalize(ctx, snap, session, turn, emitter, collector, req, resp, ctx.Err())
			return
		}
	}
}

// finalize completes a turn that ended via cancellation or iteration
// exhaustion rather than a natural model stop.
func (r *Runtime) finalize(ctx context.Context, snap runtimeSnapshot, session *models.Session, turn *models.Turn, emitter *EventEmitter, collector *StatsCollector, req *models.CompletionRequest, resp *models.CompletionResponse, cause error) {
	switch {
	case errors.Is(cause, context.Canceled):
		turn.Complete("Error: turn cancelled")
		emitter.RunCancelled(ctx)
	case errors.Is(cause, context.DeadlineExceeded):
		turn.Complete("Error: turn deadline exceeded")
		emitter.RunError(ctx, cause, true)
	case errors.Is(cause, ErrMaxIterations):
		turn.Complete(fmt.Sprintf("Error: %v", ErrMaxIterations))
		emitter.RunError(ctx, cause, false)
	case cause != nil:
		turn.Complete(fmt.Sprintf("Error: %v", cause))
		emitter.RunError(ctx, cause, isRetriableError(cause))
	default:
		turn.Complete("")
	}
	r.persistAndLog(ctx, snap, session, turn, req, resp, cause)
	emitter.RunFinished(ctx, collector.Stats())
}

// persistAndLog saves the session, runs a compaction check, and
// writes an interaction record — the bookkeeping common to every exit
// path of runTurn. Persistence uses context.Background with a short
// deadline so a caller-cancelled ctx does not also abort the save.
func (r *Runtime) persistAndLog(ctx context.Context, snap runtimeSnapshot, session *models.Session, turn *models.Turn, req *models.CompletionRequest, resp *models.CompletionResponse, callErr error) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if snap.store != nil {
		if err := snap.store.Save(saveCtx, session); err != nil && snap.opts.Logger != nil {
			snap.opts.Logger.Error("save session failed", "session_id", session.ID, "error", err)
		}
	}
	if snap.compaction != nil {
		if _, err := snap.compaction.Check(saveCtx, session); err != nil && snap.opts.Logger != nil {
			snap.opts.Logger.Warn("compaction check failed", "session_id", session.ID, "error", err)
		}
	}
	if snap.interactionLog != nil {
		record := buildInteractionRecord(session, turn, req, resp, callErr)
		if err := snap.interactionLog.Log(saveCtx, record); err != nil && snap.opts.Logger != nil {
			snap.opts.Logger.Warn("interaction log write failed", "error", err)
		}
	}
}

func buildInteractionRecord(session *models.Session, turn *models.Turn, req *models.CompletionRequest, resp *models.CompletionResponse, callErr error) *models.InteractionRecord {
	rec := &models.InteractionRecord{
		ID:        string(turn.ID),
		Timestamp: turn.StartedAt,
		SessionID: session.ID,
		TurnID:    turn.ID,
	}
	if req != nil {
		rec.RequestedModel = req.Model
		rec.MessageCount = len(req.Messages)
		rec.HasSystemPrompt = req.System != ""
		for _, t := range req.Tools {
			rec.AvailableTools = append(rec.AvailableTools, t.Name)
		}
	}
	switch {
	case resp != nil:
		rec.ServedModel = resp.Model
		rec.StopReason = resp.StopReason
		rec.Usage = resp.Usage
	case callErr != nil:
		rec.StopReason = models.StopReasonError
	}
	if !turn.CompletedAt.IsZero() {
		rec.Duration = turn.CompletedAt.Sub(turn.StartedAt).Milliseconds()
	}
	for _, tc := range turn.ToolCalls {
		summary := models.ToolCallSummary{Name: tc.Name}
		for _, tr := range turn.ToolResults {
			if tr.ToolCallID == tc.ID {
				summary.Success = tr.Success
				break
			}
		}
		rec.ToolCallSummary = append(rec.ToolCallSummary, summary)
	}
	if turn.AssistantResponse != nil {
		rec.ResponseTextLength = len(*turn.AssistantResponse)
	}
	return rec
}

// streamToResponse drains a provider's Stream channel into a single
// CompletionResponse, emitting model.delta events for text as it
// arrives (§4.D). Content blocks are reassembled in index order;
// partial tool-use JSON is parsed once its block closes.
func (r *Runtime) streamToResponse(ctx context.Context, provider LLMProvider, req *models.CompletionRequest, emitter *EventEmitter) (*models.CompletionResponse, error) {
	events, err := provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	type blockAccum struct {
		kind string
		id   models.ToolCallId
		name string
		text strings.Builder
		json strings.Builder
	}

	blocks := make(map[int]*blockAccum)
	var order []int
	resp := &models.CompletionResponse{Model: req.Model}

	for ev := range events {
		switch ev.Type {
		case models.StreamEventContentBlockStart:
			b := &blockAccum{kind: ev.ContentType, id: ev.ToolUseID, name: ev.ToolUseName}
			blocks[ev.Index] = b
			order = append(order, ev.Index)

		case models.StreamEventContentBlockDelta:
			b := blocks[ev.Index]
			if b == nil {
				continue
			}
			switch ev.DeltaKind {
			case models.DeltaTypeText:
				b.text.WriteString(ev.TextDelta)
				emitter.ModelDelta(ctx, ev.TextDelta)
			case models.DeltaTypeInputJSON:
				b.json.WriteString(ev.JSONDelta)
			}

		case models.StreamEventMessageDelta:
			if ev.StopReason != nil {
				resp.StopReason = *ev.StopReason
			}
			if ev.Usage != nil {
				resp.Usage = *ev.Usage
			}

		case models.StreamEventErr:
			return nil, fmt.Errorf("agent: stream error: %s", ev.ErrorMessage)
		}
	}

	for _, idx := range order {
		b := blocks[idx]
		switch b.kind {
		case "text":
			resp.Content = append(resp.Content, models.TextBlock(b.text.String()))
		case "tool_use":
			var input any
			if b.json.Len() > 0 {
				_ = json.Unmarshal([]byte(b.json.String()), &input)
			}
			resp.Content = append(resp.Content, models.ToolUseBlock(b.id, b.name, input))
		}
	}
	return resp, nil
}

// isRetriableError reports whether err looks like a transport-class
// failure worth retrying (§4.D: "only transport-class errors are
// retried — timeouts, connection resets, 5xx responses; 4xx client
// errors and content-policy rejections are not").
func isRetriableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{"timeout", "connection reset", "connection refused", "eof", "broken pipe", "too many requests", "rate limit", "502", "503", "504"} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}
