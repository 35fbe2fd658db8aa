package model

import (
	"context"

	"github.com/nstogner/chatd/pkg/domain"
)

// Provider represents a service that provides LLMs (e.g. Gemini, OpenAI).
type Provider interface {
	// Name returns the provider's identifier (e.g. "gemini", "openai").
	Name() string

	// List returns the available models from this provider.
	List(ctx context.Context) ([]domain.Model, error)

	// Stream starts one generation and returns its event stream.
	// Cancelling ctx aborts the generation.
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Request is everything a provider needs for one generation.
type Request struct {
	// Model is the provider-local model name (e.g. "gemini-2.5-flash").
	Model string
	// Instructions is the system prompt.
	Instructions string
	// Messages is the conversation window, oldest first. Assistant messages
	// may carry resolved tool-call parts, which providers expand into the
	// call/result pairs their wire format expects.
	Messages []domain.Message
	Tools    []ToolSpec
}

// ToolSpec is the model-facing definition of a tool.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// EventType enumerates generation events.
type EventType string

const (
	EventTextDelta      EventType = "text-delta"
	EventReasoningDelta EventType = "reasoning-delta"
	// EventToolInputStart announces a tool call whose arguments are still
	// being generated.
	EventToolInputStart EventType = "tool-input-start"
	// EventToolCall carries a tool call with complete arguments.
	EventToolCall EventType = "tool-call"
	EventSource   EventType = "source"
	// EventFinish is always the last event of a successful stream.
	EventFinish EventType = "finish"
)

// Event is one generation event.
type Event struct {
	Type EventType
	Text string

	ToolCallID string
	ToolName   string
	Input      map[string]any

	URL   string
	Title string

	// Signature is opaque provider state that must be echoed back with the
	// part it arrived on.
	Signature []byte

	FinishReason domain.FinishReason
	Usage        domain.Usage
}

// Stream abstracts the stream of events from the model.
type Stream interface {
	// Next returns the next event, or io.EOF after the finish event.
	Next() (Event, error)

	// Close releases resources associated with this stream.
	Close() error
}
