package domain

// Role defines the sender of a message.
type Role string

const (
	// RoleUser indicates a message from the user.
	RoleUser Role = "user"
	// RoleAssistant indicates a message from the model/assistant.
	RoleAssistant Role = "assistant"
	// RoleSystem indicates a system-level message.
	RoleSystem Role = "system"
)

// PartType identifies the variant carried by a Part.
type PartType string

const (
	PartTypeText      PartType = "text"
	PartTypeToolCall  PartType = "tool-call"
	PartTypeReasoning PartType = "reasoning"
	PartTypeSource    PartType = "source"
)

// ToolCallState is the lifecycle state of a tool-call part.
type ToolCallState string

const (
	ToolStateInputStreaming  ToolCallState = "input-streaming"
	ToolStateInputAvailable  ToolCallState = "input-available"
	ToolStateOutputAvailable ToolCallState = "output-available"
	ToolStateOutputError     ToolCallState = "output-error"
)

// Resolved reports whether the tool call reached a terminal state.
func (s ToolCallState) Resolved() bool {
	return s == ToolStateOutputAvailable || s == ToolStateOutputError
}

// FinishReason explains why a turn ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolError FinishReason = "tool-error"
	FinishCancelled FinishReason = "cancelled"
	FinishError     FinishReason = "error"
)

// Authority decides who may cause a tool to be invoked.
type Authority string

const (
	// AuthorityModel tools may be called whenever the model sees fit.
	AuthorityModel Authority = "model-autonomous"
	// AuthorityUser tools exist only when the user enabled them for the turn.
	AuthorityUser Authority = "user-gated"
)

// ParseAuthority maps a configuration value onto an Authority.
func ParseAuthority(s string) (Authority, bool) {
	switch s {
	case "", "model", "ai", string(AuthorityModel):
		return AuthorityModel, true
	case "user", string(AuthorityUser):
		return AuthorityUser, true
	}
	return "", false
}
