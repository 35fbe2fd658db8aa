package domain

import "time"

// EventType enumerates the typed events a turn produces.
type EventType string

const (
	EventStart          EventType = "start"
	EventStartStep      EventType = "start-step"
	EventTextStart      EventType = "text-start"
	EventTextDelta      EventType = "text-delta"
	EventTextEnd        EventType = "text-end"
	EventReasoningStart EventType = "reasoning-start"
	EventReasoningDelta EventType = "reasoning-delta"
	EventReasoningEnd   EventType = "reasoning-end"
	EventSource         EventType = "source"
	EventToolCallUpdate EventType = "tool-call-update"
	EventFinishStep     EventType = "finish-step"
	EventFinish         EventType = "finish"
)

// Event is one item of the turn's output stream. Events for the same PartID
// are always emitted in start, delta, end order.
type Event struct {
	Type   EventType
	TurnID string
	PartID string
	Delta  string

	// tool-call-update
	ToolCall *Part

	// source
	Source *Part

	// start, finish
	MessageID string
	Metadata  map[string]any

	// finish-step, finish
	FinishReason FinishReason
	Usage        *Usage
	ErrorText    string
}

// StartMetadata is attached to the start event.
func StartMetadata(model string, tools []string, at time.Time) map[string]any {
	if tools == nil {
		tools = []string{}
	}
	return map[string]any{
		"createdAt":      at.UnixMilli(),
		"model":          model,
		"availableTools": tools,
	}
}
