package jsonl

import (
	"context"
	"errors"
	"testing"

	"github.com/nstogner/chatd/pkg/domain"
)

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.EnsureConversation(ctx, "conv-1", "alice"); err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}
	for _, m := range []domain.Message{
		domain.UserMessage("msg-1", "hello"),
		{ID: "msg-2", Role: domain.RoleAssistant, Parts: []domain.Part{domain.TextPart("msg-2-p0", "hi there")}},
	} {
		if err := s.AppendMessage(ctx, "conv-1", &m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	if err := s.UpdateConversationTitle(ctx, "conv-1", "alice", "Greeting", ""); err != nil {
		t.Fatalf("UpdateConversationTitle: %v", err)
	}

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	c, err := reopened.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if c.Name != "Greeting" {
		t.Errorf("Name = %q, want %q", c.Name, "Greeting")
	}
	msgs, err := reopened.ListMessages(ctx, "conv-1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("ListMessages len = %d, want 2", len(msgs))
	}
	if got := msgs[1].Text(); got != "hi there" {
		t.Errorf("Text = %q, want %q", got, "hi there")
	}
}

func TestStoreDeleteAndOwnership(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if _, err := s.EnsureConversation(ctx, "conv-1", "alice"); err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}
	if err := s.DeleteConversation(ctx, "conv-1", "bob"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("delete by non-owner: err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteConversation(ctx, "conv-1", "alice"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	convs, _ := s.ListConversations(ctx, "alice")
	if len(convs) != 0 {
		t.Errorf("ListConversations len = %d, want 0", len(convs))
	}
	if _, err := s.GetConversation(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetConversation missing: err = %v, want ErrNotFound", err)
	}
	msgs, err := s.ListMessages(ctx, "conv-1")
	if err != nil || msgs != nil {
		t.Errorf("ListMessages of empty conversation = %v, %v, want nil, nil", msgs, err)
	}
}
