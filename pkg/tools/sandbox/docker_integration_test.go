package sandbox_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nstogner/chatd/pkg/tools/sandbox"
)

func TestIntegrationDockerRunCell(t *testing.T) {
	if os.Getenv("SANDBOX_INTEGRATION") == "" {
		t.Skip("Skipping: SANDBOX_INTEGRATION not set")
	}
	rt, err := sandbox.NewDockerRuntime("")
	if err != nil {
		t.Fatalf("NewDockerRuntime: %v", err)
	}
	p := sandbox.New(rt, "chatd-sandbox-"+uuid.New().String())
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res, err := p.RunCell(ctx, "print('Hello, World!')")
	if err != nil {
		t.Fatalf("RunCell failed: %v", err)
	}
	if res.Output == "" && res.Stdout == "" {
		t.Errorf("Expected output, got empty")
	}
}
