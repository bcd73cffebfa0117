package context

import (
	"strconv"
	"strings"
	"time"

	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// ContextPruningMode controls when pruning runs.
type ContextPruningMode string

const (
	// ContextPruningOff disables pruning.
	ContextPruningOff ContextPruningMode = "off"
	// ContextPruningCacheTTL prunes when cached tool results are stale.
	ContextPruningCacheTTL ContextPruningMode = "cache-ttl"
)

// ContextPruningToolMatch controls which tool results are prunable.
type ContextPruningToolMatch struct {
	Allow []string
	Deny  []string
}

// ContextPruningSoftTrim configures soft trimming.
type ContextPruningSoftTrim struct {
	MaxChars  int
	HeadChars int
	TailChars int
}

// ContextPruningHardClear configures hard clearing.
type ContextPruningHardClear struct {
	Enabled     bool
	Placeholder string
}

// ContextPruningSettings controls in-memory tool result pruning.
type ContextPruningSettings struct {
	Mode                 ContextPruningMode
	TTL                  time.Duration
	KeepLastTurns        int
	SoftTrimRatio        float64
	HardClearRatio       float64
	MinPrunableToolChars int
	Tools                ContextPruningToolMatch
	SoftTrim             ContextPruningSoftTrim
	HardClear            ContextPruningHardClear
}

// DefaultContextPruningSettings returns sensible defaults.
func DefaultContextPruningSettings() ContextPruningSettings {
	return ContextPruningSettings{
		Mode:                 ContextPruningCacheTTL,
		TTL:                  5 * time.Minute,
		KeepLastTurns:        3,
		SoftTrimRatio:        0.3,
		HardClearRatio:       0.5,
		MinPrunableToolChars: 50000,
		Tools:                ContextPruningToolMatch{},
		SoftTrim: ContextPruningSoftTrim{
			MaxChars:  4000,
			HeadChars: 1500,
			TailChars: 1500,
		},
		HardClear: ContextPruningHardClear{
			Enabled:     true,
			Placeholder: "[Old tool result content cleared]",
		},
	}
}

// PruneTurns trims or clears old tool result content from completed
// turns, returning a new slice with copies of any modified turns. It
// never touches the most recent KeepLastTurns turns. Returns the
// original slice if no changes are required.
func PruneTurns(turns []*models.Turn, settings ContextPruningSettings, charWindow int) []*models.Turn {
	if len(turns) == 0 || charWindow <= 0 || settings.Mode == ContextPruningOff {
		return turns
	}

	cutoff := len(turns) - settings.KeepLastTurns
	if cutoff <= 0 {
		return turns
	}

	totalChars := estimateTurnsChars(turns)
	if float64(totalChars)/float64(charWindow) < settings.SoftTrimRatio {
		return turns
	}

	isToolPrunable := makeToolPrunablePredicate(settings.Tools)

	type prunableRef struct {
		turnIndex, resultIndex int
	}

	var prunable []prunableRef
	var next []*models.Turn

	for i := 0; i < cutoff; i++ {
		t := currentTurn(turns, next, i)
		if t == nil || len(t.ToolResults) == 0 {
			continue
		}
		toolNames := toolCallNames(t)
		for j := range t.ToolResults {
			tr := t.ToolResults[j]
			if !isToolPrunable(toolNames[tr.ToolCallID]) {
				continue
			}
			prunable = append(prunable, prunableRef{turnIndex: i, resultIndex: j})

			trimmed, changed := softTrimToolResult(tr.Content, settings)
			if !changed {
				continue
			}

			before := estimateTurnChars(t)
			updated := copyTurnWithToolResults(t)
			updated.ToolResults[j].Content = trimmed
			after := estimateTurnChars(updated)
			totalChars += after - before
			next = ensureTurn(next, turns, i, updated)
			t = updated
		}
	}

	output := turns
	if next != nil {
		output = next
	}

	if float64(totalChars)/float64(charWindow) < settings.HardClearRatio || !settings.HardClear.Enabled {
		return output
	}

	prunableChars := 0
	for _, ref := range prunable {
		t := currentTurn(turns, next, ref.turnIndex)
		if t == nil || ref.resultIndex >= len(t.ToolResults) {
			continue
		}
		prunableChars += len(t.ToolResults[ref.resultIndex].Content)
	}
	if prunableChars < settings.MinPrunableToolChars {
		return output
	}

	ratio := float64(totalChars) / float64(charWindow)
	for _, ref := range prunable {
		if ratio < settings.HardClearRatio {
			break
		}
		t := currentTurn(turns, next, ref.turnIndex)
		if t == nil || ref.resultIndex >= len(t.ToolResults) {
			continue
		}

		before := estimateTurnChars(t)
		updated := copyTurnWithToolResults(t)
		updated.ToolResults[ref.resultIndex].Content = settings.HardClear.Placeholder
		after := estimateTurnChars(updated)
		totalChars += after - before
		ratio = float64(totalChars) / float64(charWindow)
		next = ensureTurn(next, turns, ref.turnIndex, updated)
	}

	if next != nil {
		return next
	}
	return turns
}

func softTrimToolResult(content string, settings ContextPruningSettings) (string, bool) {
	rawLen := len(content)
	if rawLen <= settings.SoftTrim.MaxChars {
		return content, false
	}
	headChars := maxInt(settings.SoftTrim.HeadChars, 0)
	tailChars := maxInt(settings.SoftTrim.TailChars, 0)
	if headChars+tailChars >= rawLen {
		return content, false
	}
	head := content[:headChars]
	tail := content[len(content)-tailChars:]

	trimmed := head + "\n...\n" + tail
	note := "\n\n[Tool result trimmed: kept first " + strconv.Itoa(headChars) + " chars and last " + strconv.Itoa(tailChars) + " chars of " + strconv.Itoa(rawLen) + " chars.]"
	return trimmed + note, true
}

func makeToolPrunablePredicate(match ContextPruningToolMatch) func(string) bool {
	deny := normalizePatterns(match.Deny)
	allow := normalizePatterns(match.Allow)
	return func(toolName string) bool {
		normalized := strings.ToLower(strings.TrimSpace(toolName))
		if normalized == "" {
			return false
		}
		if matchesAny(normalized, deny) {
			return false
		}
		if len(allow) == 0 {
			return true
		}
		return matchesAny(normalized, allow)
	}
}

func normalizePatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		value := strings.ToLower(strings.TrimSpace(p))
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	return out
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if wildcardMatch(p, name) {
			return true
		}
	}
	return false
}

func wildcardMatch(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}
	parts := strings.Split(pattern, "*")
	idx := 0
	if parts[0] != "" {
		if !strings.HasPrefix(value, parts[0]) {
			return false
		}
		idx = len(parts[0])
	}
	for i := 1; i < len(parts)-1; i++ {
		part := parts[i]
		if part == "" {
			continue
		}
		pos := strings.Index(value[idx:], part)
		if pos < 0 {
			return false
		}
		idx += pos + len(part)
	}
	last := parts[len(parts)-1]
	if last != "" && !strings.HasSuffix(value, last) {
		return false
	}
	return true
}

func toolCallNames(t *models.Turn) map[models.ToolCallId]string {
	names := make(map[models.ToolCallId]string, len(t.ToolCalls))
	for _, tc := range t.ToolCalls {
		if tc.ID == "" || tc.Name == "" {
			continue
		}
		names[tc.ID] = tc.Name
	}
	return names
}

func estimateTurnsChars(turns []*models.Turn) int {
	total := 0
	for _, t := range turns {
		total += estimateTurnChars(t)
	}
	return total
}

func estimateTurnChars(t *models.Turn) int {
	if t == nil {
		return 0
	}
	chars := len(t.UserMessage)
	if t.AssistantResponse != nil {
		chars += len(*t.AssistantResponse)
	}
	for _, tr := range t.ToolResults {
		chars += len(tr.Content)
	}
	return chars
}

func currentTurn(turns []*models.Turn, next []*models.Turn, index int) *models.Turn {
	if next != nil {
		return next[index]
	}
	return turns[index]
}

func ensureTurn(next []*models.Turn, turns []*models.Turn, index int, updated *models.Turn) []*models.Turn {
	if next == nil {
		next = make([]*models.Turn, len(turns))
		copy(next, turns)
	}
	next[index] = updated
	return next
}

func copyTurnWithToolResults(t *models.Turn) *models.Turn {
	if t == nil {
		return nil
	}
	clone := *t
	clone.ToolResults = append([]models.ToolCallResult(nil), t.ToolResults...)
	return &clone
}

func maxInt(value, min int) int {
	if value < min {
		return min
	}
	return value
}
