package context

import (
	"fmt"
	"strings"

	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// NeedsSummarization reports whether the number of completed turns
// since the last summary exceeds the configured threshold.
func NeedsSummarization(turns []*models.Turn, maxTurnsBeforeSummary int) bool {
	return len(turns) > maxTurnsBeforeSummary
}

// TurnsToSummarize returns the older turns that should be folded into
// the rolling summary, keeping the most recent keepRecent turns intact.
func TurnsToSummarize(turns []*models.Turn, keepRecent int) []*models.Turn {
	completed := make([]*models.Turn, 0, len(turns))
	for _, t := range turns {
		if t != nil && !t.InProgress() {
			completed = append(completed, t)
		}
	}
	if len(completed) <= keepRecent {
		return nil
	}
	return completed[:len(completed)-keepRecent]
}

// BuildSummarizationPrompt renders the turns to summarize plus any
// existing summary into a prompt for an LLM-based summary provider.
func BuildSummarizationPrompt(turns []*models.Turn, existingSummary string, maxLength int) string {
	var sb strings.Builder

	sb.WriteString("Summarize the following conversation concisely. ")
	sb.WriteString(fmt.Sprintf("Keep the summary under %d characters. ", maxLength))
	sb.WriteString("Focus on:\n")
	sb.WriteString("- Key topics discussed\n")
	sb.WriteString("- Important decisions or conclusions\n")
	sb.WriteString("- Any pending tasks or questions\n")
	sb.WriteString("- Tool executions and their outcomes\n\n")

	if existingSummary != "" {
		sb.WriteString("Existing summary so far:\n")
		sb.WriteString(existingSummary)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Conversation to fold in:\n\n")
	for _, t := range turns {
		if t == nil {
			continue
		}
		sb.WriteString("[user]: ")
		sb.WriteString(t.UserMessage)
		sb.WriteString("\n")

		for _, tc := range t.ToolCalls {
			sb.WriteString(fmt.Sprintf("  [called tool: %s]\n", tc.Name))
		}
		for _, tr := range t.ToolResults {
			content := tr.Content
			if len(content) > 200 {
				content = content[:200] + "..."
			}
			status := "success"
			if !tr.Success {
				status = "error"
			}
			sb.WriteString(fmt.Sprintf("  [tool result (%s): %s]\n", status, content))
		}
		if t.AssistantResponse != nil {
			sb.WriteString("[assistant]: ")
			sb.WriteString(*t.AssistantResponse)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("---\nProvide a concise updated summary:")
	return sb.String()
}
