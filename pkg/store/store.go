package store

import (
	"context"

	"github.com/nstogner/chatd/pkg/domain"
)

// ConversationStore manages conversations and their append-only message log.
// Lookups of missing records return an error matching domain.ErrNotFound.
type ConversationStore interface {
	// EnsureConversation returns the conversation with the given ID, creating
	// it for userID if it does not exist yet. An existing conversation is
	// returned as-is, even when it belongs to another user; callers check
	// ownership.
	EnsureConversation(ctx context.Context, id, userID string) (*domain.Conversation, error)

	// GetConversation retrieves a conversation by ID, including soft-deleted
	// ones (DeletedAt set).
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)

	// ListConversations returns the user's conversations that are not
	// deleted, most recently updated first.
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)

	// UpdateConversationTitle sets the name and description of a conversation
	// owned by userID.
	UpdateConversationTitle(ctx context.Context, id, userID, name, desc string) error

	// DeleteConversation soft-deletes a conversation owned by userID. Its
	// messages are retained.
	DeleteConversation(ctx context.Context, id, userID string) error

	// AppendMessage adds a message to the end of the conversation and bumps
	// its UpdatedAt. The message ID must be set by the caller.
	AppendMessage(ctx context.Context, conversationID string, msg *domain.Message) error

	// ListMessages returns every message of the conversation in append order.
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)

	// Close releases the underlying resources.
	Close() error
}
