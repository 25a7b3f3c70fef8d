package agent

import (
	"fmt"
	"strings"

	"github.com/thebtf/roundtable/pkg/models"
)

const (
	// maxTurnChars bounds how much of each turn the coordinator sees.
	maxTurnChars = 1500
	// defaultWindow is how many recent turns the coordinator sees.
	defaultWindow = 12
)

// BuildSelectionPrompt builds the system prompt asking the coordinator to pick the next speaker.
func BuildSelectionPrompt(roles map[string]string, eligible []string) string {
	var sb strings.Builder

	sb.WriteString("You coordinate a group chat between engineering agents. The roles are:\n")
	for _, name := range eligible {
		if desc := roles[name]; desc != "" {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", name, truncate(desc, 300)))
		} else {
			sb.WriteString(fmt.Sprintf("- %s\n", name))
		}
	}
	sb.WriteString("\nRead the conversation and decide who should speak next.\n")
	sb.WriteString(fmt.Sprintf("Only one of [%s] may be selected. Reply with the name only.", strings.Join(eligible, ", ")))

	return sb.String()
}

// BuildTranscriptPrompt renders the last window turns as "Speaker: content" lines.
func BuildTranscriptPrompt(transcript []models.Turn, window int) string {
	if window <= 0 {
		window = defaultWindow
	}
	start := 0
	if len(transcript) > window {
		start = len(transcript) - window
	}

	var sb strings.Builder
	sb.WriteString("<conversation>\n")
	if start > 0 {
		sb.WriteString(fmt.Sprintf("(%d earlier turns omitted)\n", start))
	}
	for _, turn := range transcript[start:] {
		sb.WriteString(fmt.Sprintf("%s: %s\n", turn.Speaker, truncate(turn.Content, maxTurnChars)))
	}
	sb.WriteString("</conversation>\n")
	sb.WriteString("Who speaks next?")

	return sb.String()
}

// truncate truncates a string to the specified length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}
