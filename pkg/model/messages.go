package model

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/nstogner/chatd/pkg/domain"
)

// Segment is one model-side exchange inside an assistant message: the content
// the model generated and the resolved tool calls whose results follow it.
type Segment struct {
	Parts []domain.Part
	Calls []domain.Part
}

// Segments splits an assistant message at each point where generated content
// follows a tool call, which is where a new step began.
func Segments(m domain.Message) []Segment {
	var out []Segment
	var cur Segment
	for _, p := range m.Parts {
		switch p.Type {
		case domain.PartTypeText, domain.PartTypeReasoning:
			if len(cur.Calls) > 0 {
				out = append(out, cur)
				cur = Segment{}
			}
			cur.Parts = append(cur.Parts, p)
		case domain.PartTypeToolCall:
			if !p.State.Resolved() {
				continue
			}
			cur.Parts = append(cur.Parts, p)
			cur.Calls = append(cur.Calls, p)
		}
	}
	if len(cur.Parts) > 0 {
		out = append(out, cur)
	}
	return out
}

// ToolResultText renders a resolved tool call's result for providers that
// only accept text.
func ToolResultText(p domain.Part) string {
	if p.State == domain.ToolStateOutputError {
		return "Error: " + p.ErrorText
	}
	if s, ok := p.Output.(string); ok {
		return s
	}
	b, err := json.Marshal(p.Output)
	if err != nil {
		return "Error: unencodable tool output"
	}
	return string(b)
}

// ToolResultValue renders a resolved tool call's result as a JSON object.
func ToolResultValue(p domain.Part) map[string]any {
	if p.State == domain.ToolStateOutputError {
		return map[string]any{"error": p.ErrorText}
	}
	return map[string]any{"result": p.Output}
}

// Collect drains a stream and returns the concatenated text.
func Collect(s Stream) (string, domain.Usage, error) {
	defer s.Close()
	var sb strings.Builder
	var usage domain.Usage
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			return sb.String(), usage, nil
		}
		if err != nil {
			return sb.String(), usage, err
		}
		switch ev.Type {
		case EventTextDelta:
			sb.WriteString(ev.Text)
		case EventFinish:
			usage = ev.Usage
		}
	}
}
