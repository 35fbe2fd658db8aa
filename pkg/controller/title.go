package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nstogner/chatd/pkg/domain"
	"github.com/nstogner/chatd/pkg/model"
)

const (
	maxTitleRunes = 18
	maxDescRunes  = 50
)

// Title is a generated conversation name and description.
type Title struct {
	Name string `json:"name"`
	Desc string `json:"desc"`
}

// GenerateTitle asks the model to name a conversation from its first two
// messages and stores the result.
func (c *Controller) GenerateTitle(ctx context.Context, conversationID, userID, modelID string) (*Title, error) {
	msgs, err := c.loader.Load(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("conversation %s has no messages: %w", conversationID, domain.ErrNotFound)
	}
	if len(msgs) > 2 {
		msgs = msgs[:2]
	}

	provider, local, err := c.models.Resolve(modelID)
	if err != nil {
		return nil, err
	}

	prompt, err := titlePrompt(msgs)
	if err != nil {
		return nil, err
	}
	stream, err := provider.Stream(ctx, model.Request{
		Model:    local,
		Messages: []domain.Message{domain.UserMessage(newMessageID(), prompt)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: generating title: %w", domain.ErrUpstreamModel, err)
	}
	text, _, err := model.Collect(stream)
	if err != nil {
		return nil, fmt.Errorf("%w: generating title: %w", domain.ErrUpstreamModel, err)
	}

	title, err := parseTitle(text)
	if err != nil {
		return nil, err
	}
	if err := c.store.UpdateConversationTitle(ctx, conversationID, userID, title.Name, title.Desc); err != nil {
		return nil, fmt.Errorf("%w: saving title: %w", domain.ErrStore, err)
	}
	c.logger.Info("Generated conversation title", "conversationID", conversationID, "name", title.Name)
	return title, nil
}

func titlePrompt(msgs []domain.Message) (string, error) {
	type line struct {
		Role    domain.Role `json:"role"`
		Content string      `json:"content"`
	}
	lines := make([]line, 0, len(msgs))
	for _, m := range msgs {
		var texts []string
		for _, p := range m.Parts {
			if p.Type == domain.PartTypeText {
				texts = append(texts, p.Text)
			}
		}
		lines = append(lines, line{Role: m.Role, Content: strings.Join(texts, ",")})
	}
	b, err := json.Marshal(lines)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`Extract the core of the following conversation and produce a title and a description.
Conversation: %s
Requirements:
- Do not use Markdown.
- The title has at most %d characters.
- The description has at most %d characters.
- Keep the language concise and in the language of the conversation.
- Reply with exactly this JSON: {"name":"","desc":""}`, b, maxTitleRunes, maxDescRunes), nil
}

// parseTitle decodes the model's reply, tolerating a surrounding code fence.
func parseTitle(text string) (*Title, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		s = s[i : j+1]
	}

	var t Title
	if err := json.Unmarshal([]byte(s), &t); err != nil {
		return nil, fmt.Errorf("%w: decoding title %q: %w", domain.ErrUpstreamModel, text, err)
	}
	t.Name = truncateRunes(strings.TrimSpace(t.Name), maxTitleRunes)
	t.Desc = truncateRunes(strings.TrimSpace(t.Desc), maxDescRunes)
	if t.Name == "" {
		return nil, fmt.Errorf("%w: empty title", domain.ErrUpstreamModel)
	}
	return &t, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
