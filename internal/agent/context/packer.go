// Package context turns a Session's turn log into the bounded message
// list a provider call actually sees (§4.C). Packing never mutates the
// session: it selects, truncates, and orders a view.
package context

import (
	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// PackOptions configures how turns are packed into context.
type PackOptions struct {
	// MaxTurns is the hard cap on number of turns to include (e.g. 60).
	MaxTurns int

	// MaxChars is the approximate character budget (cheap proxy for tokens).
	// Default: 30000 (~7500 tokens at 4 chars/token).
	MaxChars int

	// MaxToolResultChars is the max chars per tool result content.
	// Longer results are truncated. Default: 6000.
	MaxToolResultChars int
}

// DefaultPackOptions returns sensible defaults for context packing.
func DefaultPackOptions() PackOptions {
	return PackOptions{
		MaxTurns:           60,
		MaxChars:           30000,
		MaxToolResultChars: 6000,
	}
}

// ComposeSystemPrompt combines a base system prompt with a session's
// context preamble per §4.C's composition table. A non-empty preamble
// is always rendered as a "[Session Context]" block ahead of the base
// prompt; an empty base and empty preamble yields an empty string.
func ComposeSystemPrompt(basePrompt, preamble string) string {
	switch {
	case basePrompt != "" && preamble != "":
		return "[Session Context]\n" + preamble + "\n\n---\n\n" + basePrompt
	case basePrompt != "" && preamble == "":
		return basePrompt
	case basePrompt == "" && preamble != "":
		return "[Session Context]\n" + preamble
	default:
		return ""
	}
}

// PackDiagnostics reports packing decisions for observability (emitted
// as a context.packed event by the turn loop).
type PackDiagnostics struct {
	TotalTurns    int
	IncludedTurns int
	Dropped       int
	UsedChars     int
	BudgetChars   int
}

// PackResult is the packed message list plus diagnostics.
type PackResult struct {
	Messages    []models.Message
	Diagnostics *PackDiagnostics
}

// Packer selects and flattens turns into the wire-level Message shape
// a provider call consumes.
type Packer struct {
	opts PackOptions
}

// NewPacker creates a new context packer with the given options.
func NewPacker(opts PackOptions) *Packer {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 60
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = 30000
	}
	if opts.MaxToolResultChars <= 0 {
		opts.MaxToolResultChars = 6000
	}
	return &Packer{opts: opts}
}

// Pack builds the message list the provider sees for the session's
// next completion call: an optional preamble carrying the context
// preamble and rolling summary, then as many of the most recent
// completed turns as fit the budget (oldest to newest), then the
// in-progress turn (if any).
func (p *Packer) Pack(session *models.Session) *PackResult {
	return p.PackWithDiagnostics(session)
}

// PackWithDiagnostics is Pack with explicit diagnostics for the caller
// to attach to a context.packed event.
func (p *Packer) PackWithDiagnostics(session *models.Session) *PackResult {
	diag := &PackDiagnostics{BudgetChars: p.opts.MaxChars}
	if session == nil {
		return &PackResult{Diagnostics: diag}
	}

	turns := session.AllTurns()
	diag.TotalTurns = len(turns)

	var active *models.Turn
	historyTurns := turns
	if n := len(turns); n > 0 && turns[n-1].InProgress() {
		active = turns[n-1]
		historyTurns = turns[:n-1]
	}

	usedChars := 0

	selectedReverse := make([]*models.Turn, 0, len(historyTurns))
	count := 0
	for i := len(historyTurns) - 1; i >= 0; i-- {
		t := historyTurns[i]
		turnChars := p.turnChars(t)
		if count+1 > p.opts.MaxTurns {
			break
		}
		if usedChars+turnChars > p.opts.MaxChars {
			break
		}
		selectedReverse = append(selectedReverse, t)
		usedChars += turnChars
		count++
	}

	selected := make([]*models.Turn, len(selectedReverse))
	for i, t := range selectedReverse {
		selected[len(selectedReverse)-1-i] = t
	}
	diag.IncludedTurns = len(selected)
	diag.Dropped = len(historyTurns) - len(selected)
	diag.UsedChars = usedChars

	var messages []models.Message
	for _, t := range selected {
		messages = append(messages, p.turnMessages(t)...)
	}
	if active != nil {
		messages = append(messages, p.turnMessages(active)...)
	}

	return &PackResult{Messages: messages, Diagnostics: diag}
}

// turnMessages flattens one turn into its wire messages: a user
// message, an optional assistant message (tool-use blocks in call
// order followed by the final text block), and a tool-results message
// when the assistant made tool calls.
func (p *Packer) turnMessages(t *models.Turn) []models.Message {
	var out []models.Message

	out = append(out, models.Message{
		Role:    models.MessageRoleUser,
		Content: []models.ContentBlock{models.TextBlock(t.UserMessage)},
	})

	if len(t.ToolCalls) > 0 || t.AssistantResponse != nil {
		blocks := make([]models.ContentBlock, 0, len(t.ToolCalls)+1)
		for _, tc := range t.ToolCalls {
			blocks = append(blocks, models.ToolUseBlock(tc.ID, tc.Name, tc.Arguments))
		}
		if t.AssistantResponse != nil && *t.AssistantResponse != "" {
			blocks = append(blocks, models.TextBlock(*t.AssistantResponse))
		}
		if len(blocks) > 0 {
			out = append(out, models.Message{Role: models.MessageRoleAssistant, Content: blocks})
		}
	}

	if len(t.ToolResults) > 0 {
		blocks := make([]models.ContentBlock, 0, len(t.ToolResults))
		for _, tr := range t.ToolResults {
			content := tr.Content
			if len(content) > p.opts.MaxToolResultChars {
				content = content[:p.opts.MaxToolResultChars] + "\n...[truncated]"
			}
			blocks = append(blocks, models.ToolResultBlock(tr.ToolCallID, content, tr.Success))
		}
		out = append(out, models.Message{Role: models.MessageRoleToolResults, Content: blocks})
	}

	return out
}

// turnChars estimates the character footprint of a turn for budgeting.
func (p *Packer) turnChars(t *models.Turn) int {
	if t == nil {
		return 0
	}
	chars := len(t.UserMessage)
	if t.AssistantResponse != nil {
		chars += len(*t.AssistantResponse)
	}
	for _, tc := range t.ToolCalls {
		chars += len(tc.Name) + 32
	}
	for _, tr := range t.ToolResults {
		n := len(tr.Content)
		if n > p.opts.MaxToolResultChars {
			n = p.opts.MaxToolResultChars
		}
		chars += n
	}
	return chars
}
