package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nstogner/chatd/pkg/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.EnsureConversation(ctx, "conv-1", "alice")
	if err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}
	if c.UserID != "alice" {
		t.Errorf("UserID = %q, want %q", c.UserID, "alice")
	}

	// A second ensure by another user returns the existing owner.
	c2, err := s.EnsureConversation(ctx, "conv-1", "bob")
	if err != nil {
		t.Fatalf("EnsureConversation again: %v", err)
	}
	if c2.UserID != "alice" {
		t.Errorf("UserID after re-ensure = %q, want %q", c2.UserID, "alice")
	}

	if err := s.UpdateConversationTitle(ctx, "conv-1", "alice", "Trip plan", "Planning a trip"); err != nil {
		t.Fatalf("UpdateConversationTitle: %v", err)
	}
	got, err := s.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Name != "Trip plan" || got.Desc != "Planning a trip" {
		t.Errorf("title = %q/%q, want %q/%q", got.Name, got.Desc, "Trip plan", "Planning a trip")
	}

	if err := s.UpdateConversationTitle(ctx, "conv-1", "bob", "x", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("update by non-owner: err = %v, want ErrNotFound", err)
	}

	convs, err := s.ListConversations(ctx, "alice")
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("ListConversations len = %d, want 1", len(convs))
	}

	if err := s.DeleteConversation(ctx, "conv-1", "alice"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	convs, _ = s.ListConversations(ctx, "alice")
	if len(convs) != 0 {
		t.Errorf("ListConversations after delete len = %d, want 0", len(convs))
	}
	got, err = s.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation after delete: %v", err)
	}
	if got.DeletedAt == nil {
		t.Error("DeletedAt = nil, want set")
	}
	if err := s.DeleteConversation(ctx, "conv-1", "alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetConversation(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EnsureConversation(ctx, "conv-1", "alice"); err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}

	user := domain.UserMessage("msg-1", "What time is it?")
	if err := s.AppendMessage(ctx, "conv-1", &user); err != nil {
		t.Fatalf("AppendMessage user: %v", err)
	}
	assistant := domain.Message{
		ID:   "msg-2",
		Role: domain.RoleAssistant,
		Parts: []domain.Part{
			{Type: domain.PartTypeToolCall, ID: "msg-2-p0", ToolCallID: "call-1", ToolName: "time_current_time",
				State: domain.ToolStateOutputAvailable, Input: map[string]any{}, Output: map[string]any{"timestamp": float64(1)}},
			domain.TextPart("msg-2-p1", "It is noon."),
		},
		Metadata: map[string]any{"model": "gemini/gemini-2.5-flash"},
	}
	if err := s.AppendMessage(ctx, "conv-1", &assistant); err != nil {
		t.Fatalf("AppendMessage assistant: %v", err)
	}

	msgs, err := s.ListMessages(ctx, "conv-1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("ListMessages len = %d, want 2", len(msgs))
	}
	if msgs[0].ID != "msg-1" || msgs[1].ID != "msg-2" {
		t.Errorf("order = %q, %q, want msg-1, msg-2", msgs[0].ID, msgs[1].ID)
	}
	if got := msgs[1].Text(); got != "It is noon." {
		t.Errorf("Text = %q, want %q", got, "It is noon.")
	}
	calls := msgs[1].ToolCalls()
	if len(calls) != 1 || calls[0].State != domain.ToolStateOutputAvailable {
		t.Fatalf("ToolCalls = %+v, want one resolved call", calls)
	}
	if msgs[1].Metadata["model"] != "gemini/gemini-2.5-flash" {
		t.Errorf("metadata model = %v, want %q", msgs[1].Metadata["model"], "gemini/gemini-2.5-flash")
	}
}

func TestAppendMessageUnknownConversation(t *testing.T) {
	s := newTestStore(t)
	msg := domain.UserMessage("msg-1", "hi")
	if err := s.AppendMessage(context.Background(), "nope", &msg); err == nil {
		t.Fatal("expected error appending to unknown conversation")
	}
}

func TestAppendMessageBeginFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := &Store{db: db}

	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	msg := domain.UserMessage("msg-1", "hi")
	if err := s.AppendMessage(context.Background(), "conv-1", &msg); err == nil {
		t.Fatal("expected error when begin fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAppendMessageInsertFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := &Store{db: db}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(seq\), 0\) FROM messages`).
		WithArgs("conv-1").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(3))
	mock.ExpectExec(`INSERT INTO messages`).WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	msg := domain.UserMessage("msg-1", "hi")
	if err := s.AppendMessage(context.Background(), "conv-1", &msg); err == nil {
		t.Fatal("expected error when insert fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetConversationQueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := &Store{db: db}

	mock.ExpectQuery(`SELECT .* FROM conversations WHERE id = \?`).
		WithArgs("conv-1").
		WillReturnError(errors.New("connection reset"))

	_, err = s.GetConversation(context.Background(), "conv-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, should not be ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
