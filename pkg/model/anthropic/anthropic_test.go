package anthropic

import (
	"testing"

	"github.com/nstogner/chatd/pkg/domain"
	"github.com/nstogner/chatd/pkg/model"
)

func TestToMessagesExpandsToolSteps(t *testing.T) {
	msgs := toMessages([]domain.Message{
		domain.UserMessage("u1", "weather?"),
		{
			Role: domain.RoleAssistant,
			Parts: []domain.Part{
				{Type: domain.PartTypeText, Text: "Looking it up."},
				{Type: domain.PartTypeToolCall, ToolCallID: "t1", ToolName: "web_search", State: domain.ToolStateOutputAvailable, Output: "sunny"},
				{Type: domain.PartTypeToolCall, ToolCallID: "t2", ToolName: "current_time", State: domain.ToolStateOutputError, ErrorText: "down"},
				{Type: domain.PartTypeText, Text: "Sunny."},
			},
		},
	})
	// user, assistant(text+2 tool_use), user(2 tool_result), assistant(text)
	if len(msgs) != 4 {
		t.Fatalf("len(msgs) = %d, want 4", len(msgs))
	}
	if got := len(msgs[1].Content); got != 3 {
		t.Errorf("assistant blocks = %d, want 3", got)
	}
	if got := len(msgs[2].Content); got != 2 {
		t.Errorf("tool result blocks = %d, want 2", got)
	}
	if msgs[2].Content[1].OfToolResult == nil {
		t.Fatal("expected tool result block")
	}
}

func TestToToolsSchema(t *testing.T) {
	tools, err := toTools([]model.ToolSpec{{
		Name:        "web_search",
		Description: "search",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
			"required":   []string{"query"},
		},
	}})
	if err != nil {
		t.Fatalf("toTools: %v", err)
	}
	if len(tools) != 1 || tools[0].OfTool == nil {
		t.Fatalf("tools = %+v", tools)
	}
	if tools[0].OfTool.Name != "web_search" {
		t.Errorf("Name = %q", tools[0].OfTool.Name)
	}
}

func TestStopReason(t *testing.T) {
	if got := stopReason("max_tokens"); got != domain.FinishLength {
		t.Errorf("stopReason(max_tokens) = %q", got)
	}
	if got := stopReason("tool_use"); got != domain.FinishStop {
		t.Errorf("stopReason(tool_use) = %q", got)
	}
}
