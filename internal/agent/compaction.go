package agent

import (
	"context"
	"fmt"
	"sync"

	agentctx "github.com/dylanbstorey/arawn-sub003/internal/agent/context"
	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// CompactionConfig configures automatic compaction behavior (§4.G).
type CompactionConfig struct {
	// Enabled turns on automatic compaction monitoring.
	Enabled bool

	// ThresholdPercent is the context usage percentage (0-100) of
	// PackOptions.MaxChars that triggers compaction.
	// Default: 80.
	ThresholdPercent int

	Summarization agentctx.SummarizationConfig
}

// DefaultCompactionConfig returns sensible defaults.
func DefaultCompactionConfig() *CompactionConfig {
	return &CompactionConfig{
		Enabled:          true,
		ThresholdPercent: 80,
		Summarization:    agentctx.DefaultSummarizationConfig(),
	}
}

// CompactionManager monitors context usage per session and triggers
// map-reduce compaction (§4.G): older turns are folded into a rolling
// summary and replaced in place via Session.ReplacePrefix, while the
// most recent turns are kept verbatim for exact replay.
type CompactionManager struct {
	mu         sync.Mutex
	config     *CompactionConfig
	packer     *agentctx.Packer
	summarizer *agentctx.Summarizer
	usage      map[models.SessionId]int
}

// NewCompactionManager creates a new compaction manager. provider may
// be nil, in which case Compact always reports no-op (useful before an
// LLM-backed summarizer is wired up).
func NewCompactionManager(config *CompactionConfig, packer *agentctx.Packer, provider agentctx.SummaryProvider) *CompactionManager {
	if config == nil {
		config = DefaultCompactionConfig()
	}
	var summarizer *agentctx.Summarizer
	if provider != nil {
		summarizer = agentctx.NewSummarizer(provider, config.Summarization)
	}
	return &CompactionManager{
		config:     config,
		packer:     packer,
		summarizer: summarizer,
		usage:      make(map[models.SessionId]int),
	}
}

// Check packs the session to measure usage and compacts in place if
// usage exceeds the configured threshold. Returns true if compaction
// ran.
func (m *CompactionManager) Check(ctx context.Context, session *models.Session) (bool, error) {
	if !m.config.Enabled || m.packer == nil || m.summarizer == nil {
		return false, nil
	}

	result := m.packer.PackWithDiagnostics(session)
	usagePercent := 0
	if result.Diagnostics != nil && result.Diagnostics.BudgetChars > 0 {
		usagePercent = (result.Diagnostics.UsedChars * 100) / result.Diagnostics.BudgetChars
	}

	m.mu.Lock()
	m.usage[session.ID] = usagePercent
	m.mu.Unlock()

	if usagePercent < m.config.ThresholdPercent {
		return false, nil
	}

	return m.Compact(ctx, session)
}

// Compact forces a compaction pass regardless of measured usage.
// Returns false without error if there is nothing to fold in yet.
func (m *CompactionManager) Compact(ctx context.Context, session *models.Session) (bool, error) {
	if m.summarizer == nil {
		return false, nil
	}

	turns := session.CompletedTurns()
	if !m.summarizer.ShouldSummarize(turns) {
		return false, nil
	}

	summary, folded, err := m.summarizer.Summarize(ctx, turns, session.Summary)
	if err != nil {
		return false, fmt.Errorf("compact session %s: %w", session.ID, err)
	}
	if folded == 0 {
		return false, nil
	}

	session.ReplacePrefix(folded, summary)

	m.mu.Lock()
	m.usage[session.ID] = 0
	m.mu.Unlock()

	return true, nil
}

// Usage returns the last measured usage percentage for a session.
func (m *CompactionManager) Usage(sessionID models.SessionId) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage[sessionID]
}

// Reset clears tracked usage state for a session, e.g. after it is closed.
func (m *CompactionManager) Reset(sessionID models.SessionId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.usage, sessionID)
}

// LLMSummaryProvider adapts an LLMProvider into a context.SummaryProvider
// by issuing a single completion request against the summarization prompt.
type LLMSummaryProvider struct {
	Provider LLMProvider
	Model    string
}

// Summarize sends the prompt as a single user message to the backend
// and returns the resulting text.
func (p *LLMSummaryProvider) Summarize(ctx context.Context, prompt string, maxLength int) (string, error) {
	req := &models.CompletionRequest{
		Model: p.Model,
		Messages: []models.Message{
			{Role: models.MessageRoleUser, Content: []models.ContentBlock{models.TextBlock(prompt)}},
		},
		MaxTokens: maxLength / 3,
	}
	resp, err := p.Provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	var text string
	for _, block := range resp.Content {
		if block.Type == models.ContentBlockText {
			text += block.Text
		}
	}
	return text, nil
}
