// Package openai adapts OpenAI-compatible chat completion APIs (OpenAI,
// DeepSeek, Zhipu and similar) to model.Provider.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/nstogner/chatd/pkg/domain"
	"github.com/nstogner/chatd/pkg/model"
)

// Provider implements model.Provider against an OpenAI-compatible endpoint.
type Provider struct {
	name   string
	client *openai.Client
	models []string
}

var _ model.Provider = (*Provider)(nil)

// Options configures an OpenAI-compatible provider.
type Options struct {
	// Name is the routing prefix, e.g. "openai" or "deepseek".
	Name    string
	APIKey  string
	BaseURL string
	// Models, when set, is returned by List instead of querying the API.
	Models []string
}

// New creates a provider.
func New(opts Options) *Provider {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	name := opts.Name
	if name == "" {
		name = "openai"
	}
	return &Provider{name: name, client: openai.NewClientWithConfig(cfg), models: opts.Models}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) List(ctx context.Context) ([]domain.Model, error) {
	ids := p.models
	if len(ids) == 0 {
		list, err := p.client.ListModels(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing models: %w", err)
		}
		for _, m := range list.Models {
			ids = append(ids, m.ID)
		}
	}
	models := make([]domain.Model, 0, len(ids))
	for _, id := range ids {
		models = append(models, domain.Model{ID: p.name + "/" + id, Name: id, Provider: p.name})
	}
	return models, nil
}

func (p *Provider) Stream(ctx context.Context, req model.Request) (model.Stream, error) {
	slog.Debug("OpenAI.Stream", "provider", p.name, "model", req.Model, "messageCount", len(req.Messages))

	chatReq := openai.ChatCompletionRequest{
		Model:         req.Model,
		Messages:      toMessages(req.Instructions, req.Messages),
		Tools:         toTools(req.Tools),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("creating stream: %w", err)
	}
	return &openaiStream{stream: stream, calls: map[int]*pendingCall{}}, nil
}

func toMessages(instructions string, messages []domain.Message) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if instructions != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: instructions})
	}
	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Text()})
		case domain.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Text()})
		case domain.RoleAssistant:
			for _, seg := range model.Segments(msg) {
				am := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
				var text strings.Builder
				for _, p := range seg.Parts {
					switch p.Type {
					case domain.PartTypeText:
						text.WriteString(p.Text)
					case domain.PartTypeToolCall:
						args, _ := json.Marshal(p.Input)
						am.ToolCalls = append(am.ToolCalls, openai.ToolCall{
							ID:   p.ToolCallID,
							Type: openai.ToolTypeFunction,
							Function: openai.FunctionCall{
								Name:      p.ToolName,
								Arguments: string(args),
							},
						})
					}
				}
				am.Content = text.String()
				if am.Content == "" && len(am.ToolCalls) == 0 {
					continue
				}
				out = append(out, am)
				for _, c := range seg.Calls {
					out = append(out, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						ToolCallID: c.ToolCallID,
						Content:    model.ToolResultText(c),
					})
				}
			}
		}
	}
	return out
}

func toTools(specs []model.ToolSpec) []openai.Tool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(specs))
	for _, s := range specs {
		params := any(s.Parameters)
		if len(s.Parameters) == 0 {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

type pendingCall struct {
	id      string
	name    string
	args    strings.Builder
	started bool
}

// openaiStream accumulates tool call fragments by index and releases them
// once the choice finishes.
type openaiStream struct {
	stream *openai.ChatCompletionStream
	calls  map[int]*pendingCall
	queue  []model.Event
	usage  domain.Usage
	reason domain.FinishReason
	done   bool
}

func (s *openaiStream) Next() (model.Event, error) {
	for len(s.queue) == 0 {
		if s.done {
			return model.Event{}, io.EOF
		}
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			s.flushCalls()
			reason := s.reason
			if reason == "" {
				reason = domain.FinishStop
			}
			s.queue = append(s.queue, model.Event{Type: model.EventFinish, FinishReason: reason, Usage: s.usage})
			continue
		}
		if err != nil {
			return model.Event{}, err
		}
		s.handle(resp)
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, nil
}

func (s *openaiStream) handle(resp openai.ChatCompletionStreamResponse) {
	if resp.Usage != nil {
		s.usage = domain.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
	}
	if len(resp.Choices) == 0 {
		return
	}
	choice := resp.Choices[0]
	delta := choice.Delta
	if delta.ReasoningContent != "" {
		s.queue = append(s.queue, model.Event{Type: model.EventReasoningDelta, Text: delta.ReasoningContent})
	}
	if delta.Content != "" {
		s.queue = append(s.queue, model.Event{Type: model.EventTextDelta, Text: delta.Content})
	}
	for _, tc := range delta.ToolCalls {
		index := 0
		if tc.Index != nil {
			index = *tc.Index
		}
		pc := s.calls[index]
		if pc == nil {
			pc = &pendingCall{}
			s.calls[index] = pc
		}
		if tc.ID != "" {
			pc.id = tc.ID
		}
		if tc.Function.Name != "" {
			pc.name = tc.Function.Name
		}
		pc.args.WriteString(tc.Function.Arguments)
		if !pc.started && pc.id != "" && pc.name != "" {
			pc.started = true
			s.queue = append(s.queue, model.Event{Type: model.EventToolInputStart, ToolCallID: pc.id, ToolName: pc.name})
		}
	}
	switch choice.FinishReason {
	case "":
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		s.flushCalls()
		s.reason = domain.FinishStop
	case openai.FinishReasonLength:
		s.reason = domain.FinishLength
	case openai.FinishReasonContentFilter:
		s.reason = domain.FinishError
	default:
		s.reason = domain.FinishStop
	}
}

func (s *openaiStream) flushCalls() {
	indexes := make([]int, 0, len(s.calls))
	for i := range s.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		pc := s.calls[i]
		if pc.id == "" || pc.name == "" {
			continue
		}
		s.queue = append(s.queue, model.Event{
			Type:       model.EventToolCall,
			ToolCallID: pc.id,
			ToolName:   pc.name,
			Input:      parseArgs(pc.args.String()),
		})
	}
	s.calls = map[int]*pendingCall{}
}

// parseArgs decodes streamed arguments. Undecodable arguments are kept raw so
// the registry's schema check reports them back to the model.
func parseArgs(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"_raw_arguments": raw}
	}
	return args
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}
