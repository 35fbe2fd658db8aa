package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nstogner/chatd/pkg/domain"
	"github.com/nstogner/chatd/pkg/model"
)

func newTestServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func drain(t *testing.T, s model.Stream) []model.Event {
	t.Helper()
	var events []model.Event
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		events = append(events, ev)
	}
}

func TestStreamTextAndToolCalls(t *testing.T) {
	srv := newTestServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"Checking"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"current_time","arguments":"{\"zo"}}]}}]}`,
		`{"id":"1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ne\":\"UTC\"}"}}]}}]}`,
		`{"id":"1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`{"id":"1","object":"chat.completion.chunk","created":1,"model":"m","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":7,"total_tokens":12}}`,
	})

	p := New(Options{Name: "deepseek", APIKey: "test", BaseURL: srv.URL + "/v1"})
	stream, err := p.Stream(context.Background(), model.Request{
		Model:    "deepseek-chat",
		Messages: []domain.Message{domain.UserMessage("u1", "time?")},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	events := drain(t, stream)
	wantTypes := []model.EventType{model.EventTextDelta, model.EventToolInputStart, model.EventToolCall, model.EventFinish}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(wantTypes), events)
	}
	for i, ev := range events {
		if ev.Type != wantTypes[i] {
			t.Errorf("events[%d].Type = %q, want %q", i, ev.Type, wantTypes[i])
		}
	}
	call := events[2]
	if call.ToolCallID != "call_1" || call.ToolName != "current_time" {
		t.Errorf("call = %+v", call)
	}
	if call.Input["zone"] != "UTC" {
		t.Errorf("Input = %v, want zone=UTC", call.Input)
	}
	if got := events[3].Usage.TotalTokens; got != 12 {
		t.Errorf("TotalTokens = %d, want 12", got)
	}
}

func TestToMessagesExpandsToolSteps(t *testing.T) {
	msgs := toMessages("be brief", []domain.Message{
		domain.UserMessage("u1", "hi"),
		{
			Role: domain.RoleAssistant,
			Parts: []domain.Part{
				{Type: domain.PartTypeToolCall, ToolCallID: "c1", ToolName: "t", State: domain.ToolStateOutputError, ErrorText: "boom"},
				{Type: domain.PartTypeText, Text: "sorry"},
			},
		},
	})
	if len(msgs) != 5 {
		t.Fatalf("len(msgs) = %d, want 5", len(msgs))
	}
	if msgs[3].Role != "tool" || msgs[3].Content != "Error: boom" {
		t.Errorf("tool message = %+v", msgs[3])
	}
	if msgs[4].Content != "sorry" {
		t.Errorf("final assistant content = %q", msgs[4].Content)
	}
}

func TestParseArgsInvalid(t *testing.T) {
	args := parseArgs("{not json")
	if _, ok := args["_raw_arguments"]; !ok {
		t.Errorf("parseArgs kept no raw arguments: %v", args)
	}
	if got := parseArgs(""); len(got) != 0 {
		t.Errorf("parseArgs(\"\") = %v, want empty", got)
	}
}
