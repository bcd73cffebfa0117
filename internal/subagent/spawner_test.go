package subagent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dylanbstorey/arawn-sub003/internal/agent"
	"github.com/dylanbstorey/arawn-sub003/internal/sessions"
	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// scriptedProvider is a standalone agent.LLMProvider fake; this
// package lives outside package agent and so cannot reuse its
// unexported fakeProvider from runtime_test.go.
type scriptedProvider struct{ text string }

func (p *scriptedProvider) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	return &models.CompletionResponse{StopReason: models.StopReasonEndTurn, Content: []models.ContentBlock{models.TextBlock(p.text)}}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req *models.CompletionRequest) (<-chan models.StreamEvent, error) {
	ch := make(chan models.StreamEvent, 2)
	ch <- models.StreamEvent{Type: models.StreamEventContentBlockStart, Index: 0, ContentType: "text"}
	ch <- models.StreamEvent{Type: models.StreamEventContentBlockDelta, Index: 0, DeltaKind: models.DeltaTypeText, TextDelta: p.text}
	stopReason := models.StopReasonEndTurn
	ch <- models.StreamEvent{Type: models.StreamEventMessageDelta, StopReason: &stopReason}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string          { return "scripted" }
func (p *scriptedProvider) Models() []agent.Model { return []agent.Model{{ID: "fake-model"}} }
func (p *scriptedProvider) SupportsTools() bool    { return false }

type fakeTool struct{ name string }

func (t *fakeTool) Name() string            { return t.name }
func (t *fakeTool) Description() string     { return "fake tool" }
func (t *fakeTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "ok"}, nil
}

func newTestSpawner() *Spawner {
	provider := &scriptedProvider{text: "findings: done"}
	store := sessions.NewMemoryStore()
	tools := func() []agent.Tool {
		return []agent.Tool{&fakeTool{name: "read_file"}, &fakeTool{name: "spawn_subagent"}}
	}
	s := New(provider, store, tools, "fake-model")
	s.Register(SubagentInfo{
		Name:            "researcher",
		Description:     "reads things",
		AllowedTools:    []string{"read_file", "spawn_subagent"},
		ReadOnly:        true,
		DefaultMaxTurns: 3,
	})
	return s
}

func TestSpawner_DelegateSuccess(t *testing.T) {
	s := newTestSpawner()
	outcome := s.Delegate(context.Background(), "researcher", "find the bug", "", 0)
	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if outcome.Result.Text == "" {
		t.Fatal("expected non-empty result text")
	}
}

func TestSpawner_DelegateUnknownAgent(t *testing.T) {
	s := newTestSpawner()
	outcome := s.Delegate(context.Background(), "nope", "task", "", 0)
	if outcome.Kind != OutcomeUnknownAgent {
		t.Fatalf("expected unknown_agent, got %+v", outcome)
	}
	if outcome.RequestedName != "nope" {
		t.Fatalf("expected requested name echoed back, got %+v", outcome)
	}
}

func TestSpawner_FilteredToolsExcludesRecursiveDelegate(t *testing.T) {
	s := newTestSpawner()
	info, _ := s.lookup("researcher")
	tools := s.filteredTools(info)
	for _, tool := range tools {
		if tool.Name() == "spawn_subagent" {
			t.Fatalf("spawn_subagent must never be registered into a subagent's toolset")
		}
	}
	if len(tools) != 1 || tools[0].Name() != "read_file" {
		t.Fatalf("expected only read_file to survive filtering, got %+v", tools)
	}
}

func TestSpawner_ListAgents(t *testing.T) {
	s := newTestSpawner()
	agents := s.ListAgents()
	if len(agents) != 1 || agents[0].Name != "researcher" {
		t.Fatalf("expected one registered agent, got %+v", agents)
	}
}

func TestSpawner_DelegateBackgroundQueuesWhenNoDeliverFunc(t *testing.T) {
	s := newTestSpawner()
	parent := models.NewSessionId()
	if err := s.DelegateBackground(parent, "researcher", "find the bug", ""); err != nil {
		t.Fatalf("DelegateBackground: %v", err)
	}

	// Poll briefly for the background goroutine to enqueue its result.
	deadline := make(chan struct{})
	go func() {
		for {
			if got := s.DrainPending(parent); len(got) > 0 {
				close(deadline)
				return
			}
		}
	}()
	<-deadline
}
