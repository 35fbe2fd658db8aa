package gemini

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/nstogner/chatd/pkg/domain"
	"github.com/nstogner/chatd/pkg/model"
)

// Provider implements model.Provider using the Google Gen AI SDK.
type Provider struct {
	client *genai.Client
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates a new Gemini provider.
func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// List returns available Gemini models.
func (p *Provider) List(ctx context.Context) ([]domain.Model, error) {
	var models []domain.Model
	for m, err := range p.client.Models.All(ctx) {
		if err != nil {
			return nil, err
		}

		// Filter for models that support generateContent.
		supportsGenerate := false
		if !strings.Contains(strings.ToLower(m.Name), "gemma") {
			for _, action := range m.SupportedActions {
				if action == "generateContent" {
					supportsGenerate = true
					break
				}
			}
		}

		if supportsGenerate {
			name := strings.TrimPrefix(m.Name, "models/")
			models = append(models, domain.Model{
				ID:        "gemini/" + name,
				Name:      m.DisplayName,
				Provider:  "gemini",
				MaxTokens: int(m.InputTokenLimit),
			})
		}
	}
	return models, nil
}

// Stream sends a conversation context to the LLM and returns a stream.
func (p *Provider) Stream(ctx context.Context, req model.Request) (model.Stream, error) {
	slog.Debug("Gemini.Stream", "model", req.Model, "messageCount", len(req.Messages))

	config := &genai.GenerateContentConfig{
		Tools: toolDeclarations(req.Tools),
	}
	if req.Instructions != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.Instructions}},
		}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	seq := p.client.Models.GenerateContentStream(streamCtx, req.Model, toContents(req.Messages), config)
	next, stop := iter.Pull2(seq)

	return &geminiStream{
		next:   next,
		stop:   stop,
		cancel: cancel,
	}, nil
}

func toolDeclarations(specs []model.ToolSpec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		d := &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
		}
		if len(s.Parameters) > 0 {
			d.ParametersJsonSchema = s.Parameters
		}
		decls = append(decls, d)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// toContents converts domain messages into genai contents. Each step of an
// assistant message becomes a model content followed by a user content with
// the function responses.
func toContents(messages []domain.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleSystem:
			// System role is handled via instructions.
			continue
		case domain.RoleUser:
			var parts []*genai.Part
			for _, p := range msg.Parts {
				if p.Type == domain.PartTypeText && p.Text != "" {
					parts = append(parts, &genai.Part{Text: p.Text})
				}
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
			}
		case domain.RoleAssistant:
			for _, seg := range model.Segments(msg) {
				var parts []*genai.Part
				for _, p := range seg.Parts {
					switch p.Type {
					case domain.PartTypeText:
						parts = append(parts, &genai.Part{Text: p.Text, ThoughtSignature: p.Signature})
					case domain.PartTypeToolCall:
						parts = append(parts, &genai.Part{
							FunctionCall: &genai.FunctionCall{
								ID:   p.ToolCallID,
								Name: p.ToolName,
								Args: p.Input,
							},
							ThoughtSignature: p.Signature,
						})
					}
				}
				if len(parts) > 0 {
					contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
				}
				if len(seg.Calls) == 0 {
					continue
				}
				var responses []*genai.Part
				for _, c := range seg.Calls {
					responses = append(responses, &genai.Part{
						FunctionResponse: &genai.FunctionResponse{
							ID:       c.ToolCallID,
							Name:     c.ToolName,
							Response: model.ToolResultValue(c),
						},
					})
				}
				contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: responses})
			}
		}
	}
	return contents
}

// geminiStream adapts the Gemini streaming iterator to model.Stream.
type geminiStream struct {
	next   func() (*genai.GenerateContentResponse, error, bool)
	stop   func()
	cancel context.CancelFunc

	queue  []model.Event
	usage  domain.Usage
	reason domain.FinishReason
	done   bool
}

func (s *geminiStream) Next() (model.Event, error) {
	for len(s.queue) == 0 {
		if s.done {
			return model.Event{}, io.EOF
		}
		resp, err, ok := s.next()
		if !ok {
			s.done = true
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
		s.queue = append(s.queue, s.convert(resp)...)
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, nil
}

func (s *geminiStream) convert(resp *genai.GenerateContentResponse) []model.Event {
	if resp == nil {
		return nil
	}
	if u := resp.UsageMetadata; u != nil {
		s.usage = domain.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	var events []model.Event
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				events = append(events, convertPart(part)...)
			}
		}
		if gm := cand.GroundingMetadata; gm != nil {
			for _, chunk := range gm.GroundingChunks {
				if chunk.Web != nil && chunk.Web.URI != "" {
					events = append(events, model.Event{Type: model.EventSource, URL: chunk.Web.URI, Title: chunk.Web.Title})
				}
			}
		}
		switch cand.FinishReason {
		case "":
		case genai.FinishReasonMaxTokens:
			s.reason = domain.FinishLength
		case genai.FinishReasonMalformedFunctionCall:
			s.reason = domain.FinishToolError
		case genai.FinishReasonStop:
			s.reason = domain.FinishStop
		default:
			s.reason = domain.FinishError
		}
	}
	return events
}

func convertPart(part *genai.Part) []model.Event {
	var events []model.Event
	if part.Text != "" {
		t := model.EventTextDelta
		if part.Thought {
			t = model.EventReasoningDelta
		}
		events = append(events, model.Event{Type: t, Text: part.Text, Signature: part.ThoughtSignature})
	}
	if fc := part.FunctionCall; fc != nil {
		id := fc.ID
		if id == "" {
			id = "call-" + uuid.New().String()
		}
		events = append(events, model.Event{
			Type:       model.EventToolCall,
			ToolCallID: id,
			ToolName:   fc.Name,
			Input:      fc.Args,
			Signature:  part.ThoughtSignature,
		})
	}
	return events
}

func (s *geminiStream) Close() error {
	s.cancel()
	s.stop()
	return nil
}
