// Package history reads prior turns of a conversation and persists new ones.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nstogner/chatd/pkg/domain"
	"github.com/nstogner/chatd/pkg/metrics"
	"github.com/nstogner/chatd/pkg/store"
)

// Loader reads the message history of a conversation on behalf of a user.
type Loader struct {
	store store.ConversationStore
}

func NewLoader(s store.ConversationStore) *Loader {
	return &Loader{store: s}
}

// Load returns the conversation's messages, oldest first. A conversation that
// does not exist yet has an empty history. A conversation owned by another
// user, or one its owner deleted, yields domain.ErrNotAuthorized.
func (l *Loader) Load(ctx context.Context, conversationID, userID string) ([]domain.Message, error) {
	conv, err := l.store.GetConversation(ctx, conversationID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading conversation: %w", domain.ErrStore, err)
	}
	if conv.UserID != userID {
		return nil, fmt.Errorf("%w: conversation %s", domain.ErrNotAuthorized, conversationID)
	}
	if conv.DeletedAt != nil {
		return nil, fmt.Errorf("%w: conversation %s was deleted", domain.ErrNotAuthorized, conversationID)
	}

	msgs, err := l.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading messages: %w", domain.ErrStore, err)
	}
	return msgs, nil
}

// Sink persists the messages of a turn. Writes are best effort: a failure is
// logged and counted, and returned as an ErrPersistence error for the caller
// to report, but never aborts the turn.
type Sink struct {
	store   store.ConversationStore
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewSink(s store.ConversationStore, m *metrics.Metrics, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{store: s, metrics: m, logger: logger.With("component", "history")}
}

// AppendUser creates the conversation if needed and stores the user message.
func (s *Sink) AppendUser(ctx context.Context, conversationID, userID string, msg domain.Message) error {
	if _, err := s.store.EnsureConversation(ctx, conversationID, userID); err != nil {
		return s.failed(conversationID, msg, fmt.Errorf("ensuring conversation: %w", err))
	}
	if err := s.store.AppendMessage(ctx, conversationID, &msg); err != nil {
		return s.failed(conversationID, msg, err)
	}
	return nil
}

// AppendAssistant stores the sealed assistant message of a turn.
func (s *Sink) AppendAssistant(ctx context.Context, conversationID string, msg domain.Message) error {
	if err := s.store.AppendMessage(ctx, conversationID, &msg); err != nil {
		return s.failed(conversationID, msg, err)
	}
	return nil
}

func (s *Sink) failed(conversationID string, msg domain.Message, err error) error {
	s.logger.Error("Persisting message failed",
		"conversationID", conversationID, "messageID", msg.ID, "role", msg.Role, "error", err)
	s.metrics.PersistFailed(string(msg.Role))
	return fmt.Errorf("%w: %s message %s: %w", domain.ErrPersistence, msg.Role, msg.ID, err)
}
