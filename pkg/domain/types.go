package domain

import (
	"strings"
	"time"
)

// Message is one entry of a conversation. Assistant messages are built up
// part by part while a turn streams and are sealed when the turn finishes.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Parts     []Part         `json:"parts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt,omitempty"`
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartTypeText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// ToolCalls returns the tool-call parts of the message in generation order.
func (m Message) ToolCalls() []Part {
	var out []Part
	for _, p := range m.Parts {
		if p.Type == PartTypeToolCall {
			out = append(out, p)
		}
	}
	return out
}

// Part is a tagged variant. Only the fields relevant to Type are set.
type Part struct {
	Type PartType `json:"type"`
	ID   string   `json:"id,omitempty"`

	// text, reasoning
	Text string `json:"text,omitempty"`

	// tool-call
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	State      ToolCallState  `json:"state,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Output     any            `json:"output,omitempty"`
	ErrorText  string         `json:"errorText,omitempty"`

	// source
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`

	// Signature is an opaque provider signature for the model's internal
	// state. Must be round-tripped back to the model on the next request.
	Signature []byte `json:"signature,omitempty"`
}

// TextPart builds a text part.
func TextPart(id, text string) Part {
	return Part{Type: PartTypeText, ID: id, Text: text}
}

// UserMessage builds a single-text user message.
func UserMessage(id, text string) Message {
	return Message{ID: id, Role: RoleUser, Parts: []Part{TextPart(id+"-0", text)}}
}

// Usage counts tokens consumed by a turn.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Add accumulates another step's usage.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	if o.TotalTokens == 0 {
		o.TotalTokens = o.InputTokens + o.OutputTokens
	}
	u.TotalTokens += o.TotalTokens
}

// TurnResult is produced exactly once per turn attempt.
type TurnResult struct {
	FinishReason FinishReason `json:"finishReason"`
	Message      Message      `json:"message"`
	Usage        Usage        `json:"usage"`
	Steps        int          `json:"steps"`
	Err          error        `json:"-"`
}

// TurnRequest is the inbound shape of a chat turn.
type TurnRequest struct {
	ConversationID string          `json:"id"`
	Message        Message         `json:"message"`
	UserTools      map[string]bool `json:"userTools,omitempty"`
	Model          string          `json:"model,omitempty"`
	Timestamp      int64           `json:"timestamp,omitempty"`
	Date           string          `json:"date,omitempty"`
}

// Conversation groups the messages exchanged by one user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Desc      string    `json:"desc,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// DeletedAt is set once the owner deleted the conversation. Deleted
	// conversations keep their messages but accept no further turns.
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// Model represents an available LLM model.
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}
