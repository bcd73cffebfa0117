package context

import (
	"context"
	"fmt"

	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// SummarizationConfig configures the summarization behavior.
type SummarizationConfig struct {
	// MaxTurnsBeforeSummary is the threshold for triggering summarization.
	// Default: 30 turns since the last summary.
	MaxTurnsBeforeSummary int

	// KeepRecentTurns is how many recent turns to keep un-summarized.
	// Default: 10.
	KeepRecentTurns int

	// MaxSummaryLength is the target length for summaries in characters.
	// Default: 2000.
	MaxSummaryLength int
}

// DefaultSummarizationConfig returns sensible defaults.
func DefaultSummarizationConfig() SummarizationConfig {
	return SummarizationConfig{
		MaxTurnsBeforeSummary: 30,
		KeepRecentTurns:       10,
		MaxSummaryLength:      2000,
	}
}

// SummaryProvider is the interface for generating summaries. This
// allows injecting a fake provider for testing.
type SummaryProvider interface {
	// Summarize generates a summary given a prompt built from the turns
	// being folded in and the existing summary.
	Summarize(ctx context.Context, prompt string, maxLength int) (string, error)
}

// Summarizer handles conversation summarization (§4.G map-reduce
// compaction): it folds older completed turns into a rolling summary
// string while leaving the most recent turns intact for replay.
type Summarizer struct {
	provider SummaryProvider
	config   SummarizationConfig
}

// NewSummarizer creates a new summarizer with the given provider and config.
func NewSummarizer(provider SummaryProvider, config SummarizationConfig) *Summarizer {
	if config.MaxTurnsBeforeSummary <= 0 {
		config.MaxTurnsBeforeSummary = 30
	}
	if config.KeepRecentTurns <= 0 {
		config.KeepRecentTurns = 10
	}
	if config.MaxSummaryLength <= 0 {
		config.MaxSummaryLength = 2000
	}
	return &Summarizer{provider: provider, config: config}
}

// ShouldSummarize checks if summarization is needed based on turn count.
func (s *Summarizer) ShouldSummarize(turns []*models.Turn) bool {
	return NeedsSummarization(turns, s.config.MaxTurnsBeforeSummary)
}

// Summarize produces an updated rolling summary by folding the older
// turns (everything except the last KeepRecentTurns) into the existing
// summary. Returns ("", nil, nil) if no summarization is needed.
// The returned int is the count of turns folded in, for ReplacePrefix.
func (s *Summarizer) Summarize(ctx context.Context, turns []*models.Turn, existingSummary string) (string, int, error) {
	if !s.ShouldSummarize(turns) {
		return "", 0, nil
	}

	toFold := TurnsToSummarize(turns, s.config.KeepRecentTurns)
	if len(toFold) == 0 {
		return "", 0, nil
	}

	prompt := BuildSummarizationPrompt(toFold, existingSummary, s.config.MaxSummaryLength)
	summary, err := s.provider.Summarize(ctx, prompt, s.config.MaxSummaryLength)
	if err != nil {
		return "", 0, fmt.Errorf("summarize turns: %w", err)
	}
	return summary, len(toFold), nil
}
