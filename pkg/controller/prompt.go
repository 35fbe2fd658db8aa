package controller

import (
	"fmt"
	"strings"
)

// PromptData is the per-turn input of the system prompt.
type PromptData struct {
	Date      string
	Timestamp int64
	// ToolsDescription is the registry's two-section tool listing.
	ToolsDescription string
	// UserTools are the names of the user-gated tools enabled for this turn.
	UserTools []string
}

// BuildInstructions assembles the system prompt for a turn.
func BuildInstructions(d PromptData) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant with access to tools. Follow these rules and this context.\n\n")

	sb.WriteString("## Time\n")
	fmt.Fprintf(&sb, "- Date: %s\n", d.Date)
	fmt.Fprintf(&sb, "- Unix timestamp (ms): %d\n", d.Timestamp)
	sb.WriteString("- Answer every question about the current time, date or weekday from the values above only. Never estimate them.\n")
	sb.WriteString("- If the user only asks for the current time or date, reply with it directly and nothing else.\n\n")

	sb.WriteString("## Tools\n")
	sb.WriteString(d.ToolsDescription)
	sb.WriteString("\n\n### Tool policy\n")
	sb.WriteString("1. Model-autonomous tools may be used whenever they help, for example code search for programming questions.\n")
	sb.WriteString("2. User-enabled tools may only be used because the user switched them on for this message.\n")
	if len(d.UserTools) == 0 {
		sb.WriteString("   No user-enabled tools are active. If a request needs one, suggest that the user enables it.\n")
	} else {
		fmt.Fprintf(&sb, "   Active: %s.\n", strings.Join(d.UserTools, ", "))
	}

	sb.WriteString("\n## Output\n")
	sb.WriteString("- Use Markdown. Give code blocks a language tag.\n")
	sb.WriteString("- When you use a tool, say which one and why.\n")
	sb.WriteString("- Cite the source and retrieval time of information obtained through tools.\n")
	return sb.String()
}
