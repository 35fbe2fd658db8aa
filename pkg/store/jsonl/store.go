// Package jsonl implements store.ConversationStore on plain files: one
// index.json holding the conversations and one append-only .jsonl file of
// messages per conversation.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nstogner/chatd/pkg/domain"
	"github.com/nstogner/chatd/pkg/store"
)

var _ store.ConversationStore = (*Store)(nil)

// Store keeps the index in memory and rewrites index.json on every change.
type Store struct {
	rootDir string
	msgDir  string

	mu    sync.RWMutex
	index map[string]*domain.Conversation
}

// Index represents the index.json structure.
type Index struct {
	Conversations []domain.Conversation `json:"conversations"`
}

// New opens (or creates) a store rooted at rootDir.
func New(rootDir string) (*Store, error) {
	s := &Store{
		rootDir: rootDir,
		msgDir:  filepath.Join(rootDir, "messages"),
		index:   map[string]*domain.Conversation{},
	}
	if err := os.MkdirAll(s.msgDir, 0755); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}
	if err := s.readIndex(); err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) indexPath() string { return filepath.Join(s.rootDir, "index.json") }

func (s *Store) messagesPath(conversationID string) string {
	return filepath.Join(s.msgDir, conversationID+".jsonl")
}

func (s *Store) readIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return err
	}
	for i := range idx.Conversations {
		c := idx.Conversations[i]
		s.index[c.ID] = &c
	}
	return nil
}

// writeIndex must be called with mu held.
func (s *Store) writeIndex() error {
	idx := Index{Conversations: make([]domain.Conversation, 0, len(s.index))}
	for _, c := range s.index {
		idx.Conversations = append(idx.Conversations, *c)
	}
	sort.Slice(idx.Conversations, func(i, j int) bool {
		return idx.Conversations[i].CreatedAt.Before(idx.Conversations[j].CreatedAt)
	})
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	// Write then rename so a crash never leaves a truncated index.
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.indexPath())
}

// --- Conversations ---

func (s *Store) EnsureConversation(ctx context.Context, id, userID string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.index[id]; ok {
		cp := *c
		return &cp, nil
	}
	now := time.Now().UTC()
	c := &domain.Conversation{ID: id, UserID: userID, CreatedAt: now, UpdatedAt: now}
	s.index[id] = c
	if err := s.writeIndex(); err != nil {
		delete(s.index, id)
		return nil, err
	}
	cp := *c
	return &cp, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Conversation
	for _, c := range s.index {
		if c.UserID == userID && c.DeletedAt == nil {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) UpdateConversationTitle(ctx context.Context, id, userID, name, desc string) error {
	return s.update(id, userID, func(c *domain.Conversation) {
		c.Name = name
		c.Desc = desc
	})
}

func (s *Store) DeleteConversation(ctx context.Context, id, userID string) error {
	return s.update(id, userID, func(c *domain.Conversation) {
		now := time.Now().UTC()
		c.DeletedAt = &now
	})
}

func (s *Store) update(id, userID string, fn func(c *domain.Conversation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.index[id]
	if !ok || c.UserID != userID || c.DeletedAt != nil {
		return fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	prev := *c
	fn(c)
	c.UpdatedAt = time.Now().UTC()
	if err := s.writeIndex(); err != nil {
		*c = prev
		return err
	}
	return nil
}

// --- Messages ---

func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.index[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, domain.ErrNotFound)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	f, err := os.OpenFile(s.messagesPath(conversationID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	c.UpdatedAt = msg.CreatedAt
	return s.writeIndex()
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.messagesPath(conversationID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var msgs []domain.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var m domain.Message
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			return nil, fmt.Errorf("decoding message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, scanner.Err()
}
