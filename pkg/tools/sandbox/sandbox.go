// Package sandbox provides a user-gated code execution tool backed by a
// container that lives for the duration of one turn.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/nstogner/chatd/pkg/tools"
)

const ToolNameRunPython = "run_python"

// Runtime starts and removes sandbox containers.
type Runtime interface {
	// Start ensures the named sandbox is running and healthy and returns its
	// base URL.
	Start(ctx context.Context, name string) (string, error)
	// Remove force-removes the named sandbox.
	Remove(ctx context.Context, name string) error
	// Close releases the runtime client.
	Close() error
}

// Result represents the output of a sandbox execution.
type Result struct {
	Output string `json:"output,omitempty"`
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
}

// Provider owns one sandbox. The container is started on the first
// invocation and removed on Close.
type Provider struct {
	runtime Runtime
	name    string
	client  *http.Client

	mu       sync.Mutex
	endpoint string
	closed   bool

	closeOnce sync.Once
	closeErr  error
}

var _ tools.Provider = (*Provider)(nil)

// New creates a provider for a sandbox named containerName.
func New(runtime Runtime, containerName string) *Provider {
	return &Provider{
		runtime: runtime,
		name:    containerName,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

func (p *Provider) Name() string { return "sandbox" }

func (p *Provider) Tools(ctx context.Context) ([]tools.Tool, error) {
	return []tools.Tool{&runPython{p: p}}, nil
}

func (p *Provider) ensureRunning(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", errors.New("sandbox closed")
	}
	if p.endpoint != "" {
		return p.endpoint, nil
	}
	endpoint, err := p.runtime.Start(ctx, p.name)
	if err != nil {
		return "", fmt.Errorf("starting sandbox: %w", err)
	}
	p.endpoint = endpoint
	return endpoint, nil
}

// RunCell executes code in the sandbox's IPython kernel.
func (p *Provider) RunCell(ctx context.Context, code string) (*Result, error) {
	endpoint, err := p.ensureRunning(ctx)
	if err != nil {
		return nil, err
	}
	body, _ := json.Marshal(map[string]any{
		"code":         code,
		"split_output": false,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/tools:run_ipython_cell", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("sandbox error %d: %s", resp.StatusCode, string(b))
	}
	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Close removes the container if one was started and releases the runtime.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		started := p.endpoint != ""
		p.closed = true
		p.mu.Unlock()

		var errs []error
		if started {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := p.runtime.Remove(ctx, p.name); err != nil {
				errs = append(errs, fmt.Errorf("removing sandbox %s: %w", p.name, err))
			}
		}
		if err := p.runtime.Close(); err != nil {
			errs = append(errs, err)
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}

type runPython struct {
	p *Provider
}

func (t *runPython) Name() string { return ToolNameRunPython }

func (t *runPython) Description() string {
	return "Run a cell of Python code in an IPython kernel. State persists between calls within this message. Returns the cell output."
}

func (t *runPython) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": map[string]any{
				"type":        "string",
				"description": "The code to run.",
			},
		},
		"required": []string{"code"},
	}
}

func (t *runPython) Execute(ctx context.Context, input map[string]any) (any, error) {
	code, ok := tools.StringArg(input, "code")
	if !ok {
		return nil, errors.New("code is required")
	}
	return t.p.RunCell(ctx, code)
}
