package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/dylanbstorey/arawn-sub003/internal/agent"
	agentctx "github.com/dylanbstorey/arawn-sub003/internal/agent/context"
	"github.com/dylanbstorey/arawn-sub003/internal/sessions"
	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// scriptedProvider is a standalone agent.LLMProvider fake; orchestrator
// lives outside package agent and so cannot reuse its unexported
// fakeProvider from runtime_test.go.
type scriptedProvider struct{ text string }

func (p *scriptedProvider) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	return &models.CompletionResponse{
		StopReason: models.StopReasonEndTurn,
		Content:    []models.ContentBlock{models.TextBlock(p.text)},
		Usage:      models.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req *models.CompletionRequest) (<-chan models.StreamEvent, error) {
	ch := make(chan models.StreamEvent, 4)
	ch <- models.StreamEvent{Type: models.StreamEventContentBlockStart, Index: 0, ContentType: "text"}
	ch <- models.StreamEvent{Type: models.StreamEventContentBlockDelta, Index: 0, DeltaKind: models.DeltaTypeText, TextDelta: p.text}
	stopReason := models.StopReasonEndTurn
	usage := models.TokenUsage{InputTokens: 10, OutputTokens: 5}
	ch <- models.StreamEvent{Type: models.StreamEventMessageDelta, StopReason: &stopReason, Usage: &usage}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string            { return "scripted" }
func (p *scriptedProvider) Models() []agent.Model   { return []agent.Model{{ID: "fake-model"}} }
func (p *scriptedProvider) SupportsTools() bool      { return false }

func newTestOrchestrator(t *testing.T, cfg Config) (*Orchestrator, *models.Session) {
	t.Helper()
	provider := &scriptedProvider{text: "hello there"}
	store := sessions.NewMemoryStore()
	rt := agent.NewRuntime(provider, store)
	rt.SetDefaultModel("fake-model")

	session := models.NewSession()
	if err := store.Create(context.Background(), session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	packer := agentctx.NewPacker(agentctx.DefaultPackOptions())
	compactor := agent.NewCompactionManager(agent.DefaultCompactionConfig(), packer, nil)

	return New(rt, compactor, cfg), session
}

func TestOrchestrator_RunAccumulatesMetadata(t *testing.T) {
	orch, session := newTestOrchestrator(t, Config{MaxContextTokens: 1000, CompactionThreshold: 0.75, MaxCompactions: 2, MaxTurns: 5})

	result, err := orch.Run(context.Background(), session, "hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(result.Text, "hello there") {
		t.Fatalf("expected streamed text, got %q", result.Text)
	}
	if result.Truncated {
		t.Fatal("did not expect truncation")
	}
	if result.Metadata.TotalInputTokens != 10 || result.Metadata.TotalOutputTokens != 5 {
		t.Fatalf("unexpected token metadata: %+v", result.Metadata)
	}

	second, err := orch.Run(context.Background(), session, "again")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Metadata.TotalInputTokens != 20 || second.Metadata.TotalOutputTokens != 10 {
		t.Fatalf("expected cumulative totals across turns, got %+v", second.Metadata)
	}
}

func TestOrchestrator_MaxTurnsExhaustionTruncates(t *testing.T) {
	orch, session := newTestOrchestrator(t, Config{MaxContextTokens: 1000, CompactionThreshold: 0.75, MaxCompactions: 1, MaxTurns: 1})

	if _, err := orch.Run(context.Background(), session, "hi"); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	result, err := orch.Run(context.Background(), session, "once more")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !result.Truncated {
		t.Fatal("expected budget exhaustion to truncate the second turn")
	}
}

func TestOrchestrator_ResetClearsCounters(t *testing.T) {
	orch, session := newTestOrchestrator(t, Config{MaxContextTokens: 1000, CompactionThreshold: 0.75, MaxCompactions: 1, MaxTurns: 5})

	if _, err := orch.Run(context.Background(), session, "hi"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	orch.Reset(session.ID)

	result, err := orch.Run(context.Background(), session, "hi again")
	if err != nil {
		t.Fatalf("Run after reset: %v", err)
	}
	if result.Metadata.TotalInputTokens != 10 {
		t.Fatalf("expected counters to restart from zero after Reset, got %+v", result.Metadata)
	}
}
