package gemini_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nstogner/chatd/pkg/domain"
	"github.com/nstogner/chatd/pkg/model"
	"github.com/nstogner/chatd/pkg/model/gemini"
)

func setupProvider(t *testing.T) *gemini.Provider {
	t.Helper()
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("Skipping: GEMINI_API_KEY not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	provider, err := gemini.New(ctx, apiKey)
	if err != nil {
		t.Fatalf("gemini.New: %v", err)
	}
	return provider
}

// TestIntegrationGeminiListModels verifies that List returns available models.
func TestIntegrationGeminiListModels(t *testing.T) {
	p := setupProvider(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	models, err := p.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(models) == 0 {
		t.Fatal("No models found")
	}
	for _, m := range models {
		if !strings.HasPrefix(m.ID, "gemini/") {
			t.Errorf("Model ID %q lacks provider prefix", m.ID)
		}
	}
}

// TestIntegrationGeminiStreamText verifies a plain text generation.
func TestIntegrationGeminiStreamText(t *testing.T) {
	p := setupProvider(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stream, err := p.Stream(ctx, model.Request{
		Model:        "gemini-2.5-flash",
		Instructions: "Answer with a single word.",
		Messages:     []domain.Message{domain.UserMessage("u1", "Say hello.")},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	text, _, err := model.Collect(stream)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if text == "" {
		t.Fatal("Expected non-empty text")
	}
}
