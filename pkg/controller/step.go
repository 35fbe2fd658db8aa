package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nstogner/chatd/pkg/domain"
	"github.com/nstogner/chatd/pkg/model"
)

// run holds the mutable state of one turn. The assistant message is only
// ever modified under mu, and every event is emitted under mu, so parallel
// tool calls cannot interleave a part update with its event.
type run struct {
	o     *Orchestrator
	turn  *Turn
	sink  Sink
	start time.Time

	mu    sync.Mutex
	parts []domain.Part
	usage domain.Usage
	steps int

	// Index into parts of the open text or reasoning part, or -1.
	openText      int
	openReasoning int
	smoother      *smoother
}

func newRun(o *Orchestrator, turn *Turn, sink Sink) *run {
	r := &run{o: o, turn: turn, sink: sink, start: time.Now(), openText: -1, openReasoning: -1}
	if o.cfg.SmoothStreaming {
		r.smoother = &smoother{}
	}
	return r
}

// stepOutput is what one generation produced.
type stepOutput struct {
	calls  []int // indexes into parts, in generation order
	reason domain.FinishReason
	usage  domain.Usage
}

func (r *run) emit(ev domain.Event) {
	ev.TurnID = r.turn.ID
	r.sink.Emit(ev)
}

func (r *run) nextPartID() string {
	return fmt.Sprintf("%s-p%d", r.turn.MessageID, len(r.parts))
}

// snapshot returns the assistant message as built so far.
func (r *run) snapshot() domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messageLocked()
}

func (r *run) messageLocked() domain.Message {
	parts := make([]domain.Part, len(r.parts))
	copy(parts, r.parts)
	return domain.Message{
		ID:        r.turn.MessageID,
		Role:      domain.RoleAssistant,
		Parts:     parts,
		CreatedAt: r.start,
	}
}

// seal closes anything still open and returns the final message.
func (r *run) seal() domain.Message {
	r.closeOpen()
	return r.snapshot()
}

// request builds the model request for the next step from the history and
// the assistant message so far.
func (r *run) request() model.Request {
	msgs := make([]domain.Message, 0, len(r.turn.History)+1)
	msgs = append(msgs, r.turn.History...)
	if cur := r.snapshot(); len(cur.Parts) > 0 {
		msgs = append(msgs, cur)
	}
	var specs []model.ToolSpec
	if r.turn.Tools != nil {
		specs = r.turn.Tools.Specs()
	}
	return model.Request{
		Model:        r.turn.Model,
		Instructions: r.turn.Instructions,
		Messages:     window(msgs, r.o.cfg.HistoryThreshold, r.o.cfg.HistoryKeep),
		Tools:        specs,
	}
}

// generate streams one model response and mirrors it into parts and events.
func (r *run) generate(ctx context.Context) (stepOutput, error) {
	var out stepOutput
	started := time.Now()
	provider := r.turn.Provider.Name()

	stream, err := r.turn.Provider.Stream(ctx, r.request())
	if err != nil {
		r.o.metrics.ModelCall(provider, err, time.Since(started))
		return out, err
	}
	defer stream.Close()

	for {
		if err := ctx.Err(); err != nil {
			r.o.metrics.ModelCall(provider, err, time.Since(started))
			return out, err
		}
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.o.metrics.ModelCall(provider, err, time.Since(started))
			return out, err
		}
		r.apply(ev, &out)
	}

	r.o.metrics.ModelCall(provider, nil, time.Since(started))
	return out, nil
}

func (r *run) apply(ev model.Event, out *stepOutput) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case model.EventTextDelta:
		r.closeReasoningLocked()
		if r.openText < 0 {
			r.openText = len(r.parts)
			r.parts = append(r.parts, domain.Part{Type: domain.PartTypeText, ID: r.nextPartID()})
			r.emit(domain.Event{Type: domain.EventTextStart, PartID: r.parts[r.openText].ID})
		}
		if ev.Signature != nil {
			r.parts[r.openText].Signature = ev.Signature
		}
		if r.smoother == nil {
			r.textLocked(ev.Text)
			return
		}
		for _, chunk := range r.smoother.push(ev.Text) {
			r.textLocked(chunk)
		}

	case model.EventReasoningDelta:
		r.closeTextLocked()
		if r.openReasoning < 0 {
			r.openReasoning = len(r.parts)
			r.parts = append(r.parts, domain.Part{Type: domain.PartTypeReasoning, ID: r.nextPartID()})
			r.emit(domain.Event{Type: domain.EventReasoningStart, PartID: r.parts[r.openReasoning].ID})
		}
		p := &r.parts[r.openReasoning]
		if ev.Signature != nil {
			p.Signature = ev.Signature
		}
		if ev.Text == "" {
			return
		}
		p.Text += ev.Text
		r.emit(domain.Event{Type: domain.EventReasoningDelta, PartID: p.ID, Delta: ev.Text})

	case model.EventToolInputStart:
		r.closeTextLocked()
		r.closeReasoningLocked()
		if r.findCallLocked(ev.ToolCallID) >= 0 {
			return
		}
		r.parts = append(r.parts, domain.Part{
			Type:       domain.PartTypeToolCall,
			ID:         r.nextPartID(),
			ToolCallID: ev.ToolCallID,
			ToolName:   ev.ToolName,
			State:      domain.ToolStateInputStreaming,
		})
		r.emitCallLocked(len(r.parts) - 1)

	case model.EventToolCall:
		r.closeTextLocked()
		r.closeReasoningLocked()
		i := r.findCallLocked(ev.ToolCallID)
		if i < 0 {
			i = len(r.parts)
			r.parts = append(r.parts, domain.Part{
				Type:       domain.PartTypeToolCall,
				ID:         r.nextPartID(),
				ToolCallID: ev.ToolCallID,
			})
		}
		p := &r.parts[i]
		p.ToolName = ev.ToolName
		p.Input = ev.Input
		if p.Input == nil {
			p.Input = map[string]any{}
		}
		if ev.Signature != nil {
			p.Signature = ev.Signature
		}
		p.State = domain.ToolStateInputAvailable
		out.calls = append(out.calls, i)
		r.emitCallLocked(i)

	case model.EventSource:
		p := domain.Part{Type: domain.PartTypeSource, ID: r.nextPartID(), URL: ev.URL, Title: ev.Title}
		r.parts = append(r.parts, p)
		r.emit(domain.Event{Type: domain.EventSource, PartID: p.ID, Source: &p})

	case model.EventFinish:
		out.reason = ev.FinishReason
		out.usage = ev.Usage
	}
}

func (r *run) textLocked(s string) {
	if s == "" {
		return
	}
	p := &r.parts[r.openText]
	p.Text += s
	r.emit(domain.Event{Type: domain.EventTextDelta, PartID: p.ID, Delta: s})
}

func (r *run) closeTextLocked() {
	if r.openText < 0 {
		return
	}
	if r.smoother != nil {
		r.textLocked(r.smoother.flush())
	}
	r.emit(domain.Event{Type: domain.EventTextEnd, PartID: r.parts[r.openText].ID})
	r.openText = -1
}

func (r *run) closeReasoningLocked() {
	if r.openReasoning < 0 {
		return
	}
	r.emit(domain.Event{Type: domain.EventReasoningEnd, PartID: r.parts[r.openReasoning].ID})
	r.openReasoning = -1
}

// closeOpen ends any open text or reasoning part.
func (r *run) closeOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeTextLocked()
	r.closeReasoningLocked()
}

func (r *run) findCallLocked(toolCallID string) int {
	if toolCallID == "" {
		return -1
	}
	for i := range r.parts {
		if r.parts[i].Type == domain.PartTypeToolCall && r.parts[i].ToolCallID == toolCallID {
			return i
		}
	}
	return -1
}

func (r *run) emitCallLocked(i int) {
	p := r.parts[i]
	r.emit(domain.Event{Type: domain.EventToolCallUpdate, PartID: p.ID, ToolCall: &p})
}

// abandonCalls resolves every tool call the failed step left unresolved, so
// the sealed message never holds a dangling call.
func (r *run) abandonCalls(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.parts {
		p := &r.parts[i]
		if p.Type != domain.PartTypeToolCall || p.State.Resolved() {
			continue
		}
		p.State = domain.ToolStateOutputError
		p.ErrorText = fmt.Sprintf("tool call not executed: %v", cause)
		r.emitCallLocked(i)
	}
}

// dropIncompleteCalls resolves calls whose arguments started streaming but
// never completed. Calls that reached input-available are left alone.
func (r *run) dropIncompleteCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.parts {
		p := &r.parts[i]
		if p.Type != domain.PartTypeToolCall || p.State != domain.ToolStateInputStreaming {
			continue
		}
		p.State = domain.ToolStateOutputError
		p.ErrorText = "tool call not executed: arguments were never completed"
		r.emitCallLocked(i)
	}
}

func (r *run) finishStep(out stepOutput) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage.Add(out.usage)
	usage := out.usage
	reason := out.reason
	if len(out.calls) > 0 {
		reason = ""
	}
	r.emit(domain.Event{Type: domain.EventFinishStep, FinishReason: reason, Usage: &usage})
}

// executeTools runs every call of the step in parallel and returns only when
// all of them are resolved. Calls run on a context detached from the turn's
// cancellation so a disconnect never leaves a call half-applied.
func (r *run) executeTools(ctx context.Context, calls []int) {
	detached := context.WithoutCancel(ctx)

	var g errgroup.Group
	if r.o.cfg.MaxParallelTools > 0 {
		g.SetLimit(r.o.cfg.MaxParallelTools)
	}
	for _, i := range calls {
		r.mu.Lock()
		call := r.parts[i]
		r.mu.Unlock()

		g.Go(func() error {
			output, err := r.invoke(detached, call)
			r.resolve(i, output, err)
			return nil
		})
	}
	g.Wait()
}

func (r *run) invoke(ctx context.Context, call domain.Part) (output any, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.o.cfg.ToolTimeout)
	defer cancel()

	started := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s panicked: %v", domain.ErrToolInvocation, call.ToolName, p)
		}
		r.o.metrics.ToolCall(call.ToolName, err, time.Since(started))
		if err != nil {
			r.o.logger.Warn("Tool call failed", "turnID", r.turn.ID, "tool", call.ToolName, "toolCallID", call.ToolCallID, "error", err)
		}
	}()

	if r.turn.Tools == nil {
		return nil, fmt.Errorf("%w: no tools available", domain.ErrToolInvocation)
	}
	return r.turn.Tools.Invoke(ctx, call.ToolName, call.Input)
}

// resolve records a tool result. Errors become data for the model.
func (r *run) resolve(i int, output any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &r.parts[i]
	if err != nil {
		p.State = domain.ToolStateOutputError
		p.ErrorText = err.Error()
	} else {
		p.State = domain.ToolStateOutputAvailable
		p.Output = output
	}
	r.emitCallLocked(i)
}
