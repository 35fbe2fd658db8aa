// Package anthropic adapts the Anthropic Messages API to model.Provider.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/nstogner/chatd/pkg/domain"
	"github.com/nstogner/chatd/pkg/model"
)

const defaultMaxTokens = 4096

// Provider implements model.Provider using the Anthropic SDK.
type Provider struct {
	client    anthropic.Client
	maxTokens int64
}

var _ model.Provider = (*Provider)(nil)

// New creates a provider. baseURL may be empty.
func New(apiKey, baseURL string, maxTokens int) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Provider{client: anthropic.NewClient(opts...), maxTokens: int64(maxTokens)}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) List(ctx context.Context) ([]domain.Model, error) {
	page, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	var models []domain.Model
	for _, m := range page.Data {
		models = append(models, domain.Model{ID: "anthropic/" + m.ID, Name: m.DisplayName, Provider: "anthropic"})
	}
	return models, nil
}

func (p *Provider) Stream(ctx context.Context, req model.Request) (model.Stream, error) {
	slog.Debug("Anthropic.Stream", "model", req.Model, "messageCount", len(req.Messages))

	tools, err := toTools(req.Tools)
	if err != nil {
		return nil, err
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  toMessages(req.Messages),
		MaxTokens: p.maxTokens,
		Tools:     tools,
	}
	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.Instructions}}
	}
	return &anthropicStream{stream: p.client.Messages.NewStreaming(ctx, params)}, nil
}

func toMessages(messages []domain.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleUser, domain.RoleSystem:
			if text := msg.Text(); text != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		case domain.RoleAssistant:
			for _, seg := range model.Segments(msg) {
				var blocks []anthropic.ContentBlockParamUnion
				for _, p := range seg.Parts {
					switch p.Type {
					case domain.PartTypeText:
						if p.Text != "" {
							blocks = append(blocks, anthropic.NewTextBlock(p.Text))
						}
					case domain.PartTypeToolCall:
						input := p.Input
						if input == nil {
							input = map[string]any{}
						}
						blocks = append(blocks, anthropic.NewToolUseBlock(p.ToolCallID, input, p.ToolName))
					}
				}
				if len(blocks) == 0 {
					continue
				}
				out = append(out, anthropic.NewAssistantMessage(blocks...))
				if len(seg.Calls) == 0 {
					continue
				}
				var results []anthropic.ContentBlockParamUnion
				for _, c := range seg.Calls {
					results = append(results, anthropic.NewToolResultBlock(
						c.ToolCallID,
						model.ToolResultText(c),
						c.State == domain.ToolStateOutputError,
					))
				}
				out = append(out, anthropic.NewUserMessage(results...))
			}
		}
	}
	return out
}

func toTools(specs []model.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, s := range specs {
		var schema anthropic.ToolInputSchemaParam
		if len(s.Parameters) > 0 {
			b, err := json.Marshal(s.Parameters)
			if err != nil {
				return nil, fmt.Errorf("marshaling schema for %s: %w", s.Name, err)
			}
			if err := json.Unmarshal(b, &schema); err != nil {
				return nil, fmt.Errorf("invalid tool schema for %s: %w", s.Name, err)
			}
		}
		param := anthropic.ToolUnionParamOfTool(schema, s.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(s.Description)
		}
		out = append(out, param)
	}
	return out, nil
}

type toolUse struct {
	id    string
	name  string
	input strings.Builder
}

type anthropicStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	tool   *toolUse
	queue  []model.Event
	usage  domain.Usage
	reason domain.FinishReason
	done   bool
}

func (s *anthropicStream) Next() (model.Event, error) {
	for len(s.queue) == 0 {
		if s.done {
			return model.Event{}, io.EOF
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				return model.Event{}, err
			}
			s.finish()
			continue
		}
		s.handle(s.stream.Current())
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, nil
}

func (s *anthropicStream) finish() {
	s.done = true
	reason := s.reason
	if reason == "" {
		reason = domain.FinishStop
	}
	s.usage.TotalTokens = s.usage.InputTokens + s.usage.OutputTokens
	s.queue = append(s.queue, model.Event{Type: model.EventFinish, FinishReason: reason, Usage: s.usage})
}

func (s *anthropicStream) handle(event anthropic.MessageStreamEventUnion) {
	switch event.Type {
	case "message_start":
		s.usage.InputTokens = int(event.AsMessageStart().Message.Usage.InputTokens)
	case "content_block_start":
		block := event.AsContentBlockStart().ContentBlock
		if block.Type == "tool_use" {
			tu := block.AsToolUse()
			s.tool = &toolUse{id: tu.ID, name: tu.Name}
			s.queue = append(s.queue, model.Event{Type: model.EventToolInputStart, ToolCallID: tu.ID, ToolName: tu.Name})
		}
	case "content_block_delta":
		delta := event.AsContentBlockDelta().Delta
		switch delta.Type {
		case "text_delta":
			if delta.Text != "" {
				s.queue = append(s.queue, model.Event{Type: model.EventTextDelta, Text: delta.Text})
			}
		case "thinking_delta":
			if delta.Thinking != "" {
				s.queue = append(s.queue, model.Event{Type: model.EventReasoningDelta, Text: delta.Thinking})
			}
		case "input_json_delta":
			if s.tool != nil {
				s.tool.input.WriteString(delta.PartialJSON)
			}
		}
	case "content_block_stop":
		if s.tool != nil {
			input := map[string]any{}
			if raw := s.tool.input.String(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &input); err != nil {
					input = map[string]any{"_raw_arguments": raw}
				}
			}
			s.queue = append(s.queue, model.Event{Type: model.EventToolCall, ToolCallID: s.tool.id, ToolName: s.tool.name, Input: input})
			s.tool = nil
		}
	case "message_delta":
		md := event.AsMessageDelta()
		if md.Usage.OutputTokens > 0 {
			s.usage.OutputTokens = int(md.Usage.OutputTokens)
		}
		s.reason = stopReason(md.Delta.StopReason)
	case "message_stop":
		s.finish()
	}
}

func stopReason(r anthropic.StopReason) domain.FinishReason {
	switch r {
	case "max_tokens":
		return domain.FinishLength
	case "refusal":
		return domain.FinishError
	default:
		return domain.FinishStop
	}
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}
