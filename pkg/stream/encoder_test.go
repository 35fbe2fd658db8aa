package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nstogner/chatd/pkg/domain"
)

type recordingWriter struct {
	frames []Frame
	failAt int
	calls  int
}

func (r *recordingWriter) WriteFrame(f Frame) error {
	r.calls++
	if r.failAt > 0 && r.calls >= r.failAt {
		return errors.New("broken pipe")
	}
	r.frames = append(r.frames, f)
	return nil
}

func TestEncoderDetachesOnFirstFailure(t *testing.T) {
	w := &recordingWriter{failAt: 3}
	enc := NewEncoder(w, nil)

	for i := 0; i < 5; i++ {
		enc.Emit(domain.Event{Type: domain.EventTextDelta, PartID: "p1", Delta: "x"})
	}
	if !enc.Detached() {
		t.Fatal("encoder should be detached")
	}
	if len(w.frames) != 2 {
		t.Errorf("delivered %d frames, want 2", len(w.frames))
	}
	if w.calls != 3 {
		t.Errorf("writer called %d times, want 3", w.calls)
	}
}

func TestEncodeToolCallStates(t *testing.T) {
	part := &domain.Part{
		ToolCallID: "c1",
		ToolName:   "web_search",
		State:      domain.ToolStateOutputError,
		Input:      map[string]any{"query": "go"},
		ErrorText:  "timeout",
	}
	f := Encode(domain.Event{Type: domain.EventToolCallUpdate, PartID: "p2", ToolCall: part})
	if f.Type != "tool-call-update" || f.ID != "p2" || f.State != "output-error" {
		t.Errorf("frame = %+v", f)
	}
	if f.ErrorText != "timeout" || f.Output != nil {
		t.Errorf("error frame carries output %v / errorText %q", f.Output, f.ErrorText)
	}
}

func TestSSEWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec, 0)
	if err != nil {
		t.Fatalf("NewSSEWriter: %v", err)
	}
	enc := NewEncoder(w, nil)
	usage := &domain.Usage{TotalTokens: 9}
	enc.Emit(domain.Event{Type: domain.EventStart, TurnID: "t1", MessageID: "m1"})
	enc.Emit(domain.Event{Type: domain.EventFinish, FinishReason: domain.FinishStop, Usage: usage})
	if err := w.Done(); err != nil {
		t.Fatalf("Done: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	var frames []Frame
	sc := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	var sawDone bool
	for sc.Scan() {
		line := sc.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			sawDone = true
			continue
		}
		var f Frame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			t.Fatalf("Unmarshal %q: %v", data, err)
		}
		frames = append(frames, f)
	}
	if len(frames) != 2 || !sawDone {
		t.Fatalf("frames = %+v, done = %v", frames, sawDone)
	}
	if frames[1].FinishReason != "stop" || frames[1].Usage.TotalTokens != 9 {
		t.Errorf("finish frame = %+v", frames[1])
	}
}
