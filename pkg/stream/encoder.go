// Package stream turns turn events into framed wire events.
package stream

import (
	"log/slog"
	"sync"

	"github.com/nstogner/chatd/pkg/domain"
)

// Frame is one wire event.
type Frame struct {
	Type      string `json:"type"`
	TurnID    string `json:"turnId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	// ID is the part id for text, reasoning and tool-call frames.
	ID    string `json:"id,omitempty"`
	Delta string `json:"delta,omitempty"`

	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	State      string `json:"state,omitempty"`
	Input      any    `json:"input,omitempty"`
	Output     any    `json:"output,omitempty"`
	ErrorText  string `json:"errorText,omitempty"`

	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`

	FinishReason string         `json:"finishReason,omitempty"`
	Usage        *domain.Usage  `json:"usage,omitempty"`
	Metadata     map[string]any `json:"messageMetadata,omitempty"`
}

// FrameWriter delivers frames to a client.
type FrameWriter interface {
	WriteFrame(Frame) error
}

// Encoder forwards events to a FrameWriter. The first write failure detaches
// the encoder; every later event is dropped. Failures never reach the caller.
type Encoder struct {
	w      FrameWriter
	logger *slog.Logger

	mu       sync.Mutex
	detached bool
	frames   int
}

func NewEncoder(w FrameWriter, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Encoder{w: w, logger: logger}
}

// Emit encodes and writes one event. Safe for concurrent use.
func (e *Encoder) Emit(ev domain.Event) {
	f := Encode(ev)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return
	}
	if err := e.w.WriteFrame(f); err != nil {
		e.detached = true
		e.logger.Info("Client detached, continuing turn without output", "turnID", ev.TurnID, "frames", e.frames, "error", err)
		return
	}
	e.frames++
}

// Detached reports whether a write has failed.
func (e *Encoder) Detached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.detached
}

// Encode maps an event to its frame.
func Encode(ev domain.Event) Frame {
	f := Frame{
		Type:      string(ev.Type),
		TurnID:    ev.TurnID,
		MessageID: ev.MessageID,
		ID:        ev.PartID,
		Delta:     ev.Delta,
		Metadata:  ev.Metadata,
		Usage:     ev.Usage,
		ErrorText: ev.ErrorText,
	}
	if ev.FinishReason != "" {
		f.FinishReason = string(ev.FinishReason)
	}
	if p := ev.ToolCall; p != nil {
		f.ToolCallID = p.ToolCallID
		f.ToolName = p.ToolName
		f.State = string(p.State)
		switch p.State {
		case domain.ToolStateInputAvailable:
			f.Input = p.Input
		case domain.ToolStateOutputAvailable:
			f.Input = p.Input
			f.Output = p.Output
		case domain.ToolStateOutputError:
			f.Input = p.Input
			f.ErrorText = p.ErrorText
		}
	}
	if s := ev.Source; s != nil {
		f.URL = s.URL
		f.Title = s.Title
	}
	return f
}
