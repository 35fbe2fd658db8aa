package controller

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/nstogner/chatd/pkg/domain"
	"github.com/nstogner/chatd/pkg/model"
)

// script is one scripted generation.
type script struct {
	events []model.Event
	// err is returned by Next after the events.
	err error
	// block makes Next wait for cancellation after the events.
	block bool
}

// scriptedProvider replays one script per Stream call. The last script is
// repeated once the others are used up.
type scriptedProvider struct {
	mu       sync.Mutex
	scripts  []script
	requests []model.Request
}

func newScripted(scripts ...script) *scriptedProvider {
	return &scriptedProvider{scripts: scripts}
}

func (p *scriptedProvider) Name() string { return "fake" }

func (p *scriptedProvider) List(ctx context.Context) ([]domain.Model, error) {
	return []domain.Model{{ID: "fake/test-model", Name: "test-model", Provider: "fake"}}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req model.Request) (model.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.scripts) == 0 {
		return nil, errors.New("no script")
	}
	s := p.scripts[0]
	if len(p.scripts) > 1 {
		p.scripts = p.scripts[1:]
	}
	return &scriptedStream{ctx: ctx, script: s}, nil
}

func (p *scriptedProvider) Requests() []model.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Request(nil), p.requests...)
}

type scriptedStream struct {
	ctx    context.Context
	script script
	i      int
}

func (s *scriptedStream) Next() (model.Event, error) {
	if s.i < len(s.script.events) {
		ev := s.script.events[s.i]
		s.i++
		return ev, nil
	}
	if s.script.err != nil {
		return model.Event{}, s.script.err
	}
	if s.script.block {
		<-s.ctx.Done()
		return model.Event{}, s.ctx.Err()
	}
	return model.Event{}, io.EOF
}

func (s *scriptedStream) Close() error { return nil }

func text(s string) model.Event {
	return model.Event{Type: model.EventTextDelta, Text: s}
}

func call(id, name string, input map[string]any) model.Event {
	return model.Event{Type: model.EventToolCall, ToolCallID: id, ToolName: name, Input: input}
}

func finish(reason domain.FinishReason, in, out int) model.Event {
	return model.Event{Type: model.EventFinish, FinishReason: reason, Usage: domain.Usage{InputTokens: in, OutputTokens: out}}
}

// fakeTools is a ToolSet backed by a function.
type fakeTools struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, name string, input map[string]any) (any, error)
}

func (f *fakeTools) Specs() []model.ToolSpec {
	return []model.ToolSpec{{Name: "time_current_time", Description: "current time"}}
}

func (f *fakeTools) Invoke(ctx context.Context, name string, input map[string]any) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	return f.fn(ctx, name, input)
}

func (f *fakeTools) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// recorder is a Sink that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
	onEmit func(ev domain.Event, n int)
}

func (r *recorder) Emit(ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	n := len(r.events)
	r.mu.Unlock()
	if r.onEmit != nil {
		r.onEmit(ev, n)
	}
}

func (r *recorder) Types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) Last() domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *recorder) Deltas() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Type == domain.EventTextDelta {
			out = append(out, ev.Delta)
		}
	}
	return out
}

func (r *recorder) Count(t domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
