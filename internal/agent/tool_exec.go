package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dylanbstorey/arawn-sub003/internal/observability"
	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// ToolExecConfig configures tool execution timeouts and retries.
type ToolExecConfig struct {
	// PerToolTimeout bounds a single attempt at a single tool call.
	// Default: 30 seconds.
	PerToolTimeout time.Duration

	// MaxAttempts is the number of attempts per tool call (default 1).
	MaxAttempts int

	// RetryBackoff waits between retries of the same call.
	RetryBackoff time.Duration
}

// DefaultToolExecConfig returns the default execution configuration: a
// single attempt with a 30 second per-call timeout.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		PerToolTimeout: 30 * time.Second,
		MaxAttempts:    1,
	}
}

// ToolExecutor dispatches tool calls against a ToolRegistry. Per §4.E,
// dispatch within a turn is strictly sequential — in call order, and
// in full before the next model turn begins — so that a later call can
// observe side effects of an earlier one and the transcript stays a
// deterministic replay of what the model asked for.
type ToolExecutor struct {
	registry *ToolRegistry
	config   ToolExecConfig
}

// NewToolExecutor creates a tool executor bound to registry, applying
// defaults to any zero-valued config field.
func NewToolExecutor(registry *ToolRegistry, config ToolExecConfig) *ToolExecutor {
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &ToolExecutor{registry: registry, config: config}
}

// ToolExecResult is one completed dispatch, with timing for the
// interaction log and event stream.
type ToolExecResult struct {
	Index     int
	ToolCall  models.ToolCall
	Result    models.ToolCallResult
	StartTime time.Time
	EndTime   time.Time
	TimedOut  bool
}

// EventCallback is a non-blocking callback invoked for tool lifecycle
// AgentEvents during execution.
type EventCallback func(*models.AgentEvent)

// ExecuteSequentially runs toolCalls one at a time, in order, per
// §4.E. Results are returned in the same order as the input; a later
// call always begins after the previous call's result (success,
// error, or timeout) is known.
func (e *ToolExecutor) ExecuteSequentially(ctx context.Context, toolCalls []models.ToolCall, emit EventCallback) []ToolExecResult {
	results := make([]ToolExecResult, len(toolCalls))

	for i, tc := range toolCalls {
		results[i] = e.executeOne(ctx, i, tc, emit)
	}
	return results
}

func (e *ToolExecutor) executeOne(ctx context.Context, idx int, tc models.ToolCall, emit EventCallback) ToolExecResult {
	startTime := time.Now()
	maxAttempts := e.config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var result models.ToolCallResult
	var timedOut bool

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if emit != nil {
			emit(toolStartedEvent(tc, attempt))
		}

		toolCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
		toolCtx = observability.AddToolCallID(toolCtx, string(tc.ID))
		result, timedOut = e.executeWithTimeout(toolCtx, tc)
		cancel()

		if result.Success {
			break
		}
		if attempt >= maxAttempts {
			break
		}
		if e.config.RetryBackoff > 0 {
			select {
			case <-time.After(e.config.RetryBackoff):
			case <-ctx.Done():
				result = models.ToolCallResult{ToolCallID: tc.ID, Success: false, Content: "tool execution canceled"}
				attempt = maxAttempts
			}
		}
	}

	endTime := time.Now()
	if emit != nil {
		emit(toolFinishedEvent(tc, result, timedOut, endTime.Sub(startTime)))
	}

	return ToolExecResult{
		Index:     idx,
		ToolCall:  tc,
		Result:    result,
		StartTime: startTime,
		EndTime:   endTime,
		TimedOut:  timedOut,
	}
}

// executeWithTimeout runs one attempt of call against the registry,
// converting a deadline exceeded into a TimedOut result rather than
// leaving the turn blocked.
func (e *ToolExecutor) executeWithTimeout(ctx context.Context, call models.ToolCall) (models.ToolCallResult, bool) {
	type execResult struct {
		result *ToolResult
		err    error
	}

	params, err := marshalArguments(call.Arguments)
	if err != nil {
		return models.ToolCallResult{ToolCallID: call.ID, Success: false, Content: err.Error()}, false
	}

	resultChan := make(chan execResult, 1)
	go func() {
		result, err := e.registry.Execute(ctx, call.Name, params)
		select {
		case resultChan <- execResult{result: result, err: err}:
		default:
			slog.Warn(
				"tool execution completed after timeout, result discarded",
				"tool", call.Name,
				"tool_call_id", call.ID,
				"run_id", observability.GetRunID(ctx),
				"session_id", observability.GetSessionID(ctx),
			)
		}
	}()

	select {
	case <-ctx.Done():
		var content string
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
		if timedOut {
			content = fmt.Sprintf("tool execution timed out after %v", e.config.PerToolTimeout)
		} else {
			content = "tool execution canceled"
		}
		return models.ToolCallResult{ToolCallID: call.ID, Success: false, Content: content}, timedOut
	case res := <-resultChan:
		if res.err != nil {
			return models.ToolCallResult{ToolCallID: call.ID, Success: false, Content: res.err.Error()}, false
		}
		return models.ToolCallResult{
			ToolCallID: call.ID,
			Success:    !res.result.IsError,
			Content:    res.result.Content,
		}, false
	}
}

// ExecuteSingle executes one tool call by name with timeout and retry
// logic, outside the turn's tool-call list (used by ad-hoc callers such
// as the Delegate tool's own internal dispatch).
func (e *ToolExecutor) ExecuteSingle(ctx context.Context, name string, input json.RawMessage) (*ToolResult, error) {
	maxAttempts := e.config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		toolCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
		result, err := e.registry.Execute(toolCtx, name, input)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt < maxAttempts && e.config.RetryBackoff > 0 {
			select {
			case <-time.After(e.config.RetryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func marshalArguments(args any) (json.RawMessage, error) {
	if args == nil {
		return json.RawMessage("{}"), nil
	}
	if raw, ok := args.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(args)
}

func toolStartedEvent(tc models.ToolCall, attempt int) *models.AgentEvent {
	return &models.AgentEvent{
		Version: 1,
		Type:    models.AgentEventToolStarted,
		Time:    time.Now(),
		Tool:    &models.ToolEventPayload{CallID: string(tc.ID), Name: tc.Name},
	}
}

func toolFinishedEvent(tc models.ToolCall, result models.ToolCallResult, timedOut bool, elapsed time.Duration) *models.AgentEvent {
	eventType := models.AgentEventToolFinished
	if timedOut {
		eventType = models.AgentEventToolTimedOut
	}
	return &models.AgentEvent{
		Version: 1,
		Type:    eventType,
		Time:    time.Now(),
		Tool: &models.ToolEventPayload{
			CallID:  string(tc.ID),
			Name:    tc.Name,
			Success: result.Success,
			Chunk:   result.Content,
			Elapsed: elapsed,
		},
	}
}
