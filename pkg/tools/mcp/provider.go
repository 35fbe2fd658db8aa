// Package mcp exposes the tools of a Model Context Protocol server as a
// tools.Provider backed by one long-lived client session.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nstogner/chatd/pkg/tools"
)

// GitHubDeny filters GitHub MCP tools that mutate state or are noisy.
var GitHubDeny = []string{
	"copilot", "team", "create", "add", "delete", "update", "notification",
	"workflow", "fork", "job", "push", "pull", "dependabot", "unstar", "security",
}

// Config describes one MCP server.
type Config struct {
	Name string
	// URL selects the streamable HTTP transport.
	URL         string
	BearerToken string
	Headers     map[string]string
	// Command selects the stdio transport when URL is empty.
	Command string
	Args    []string
	Env     map[string]string

	// Deny drops tools whose name contains any of these substrings.
	Deny []string
	// Allow, when set, keeps only the named tools.
	Allow       []string
	CallTimeout time.Duration
}

// Provider is an open MCP session.
type Provider struct {
	cfg     Config
	session *mcp.ClientSession

	closeOnce sync.Once
	closeErr  error
}

var _ tools.Provider = (*Provider)(nil)

// Open connects to the configured server.
func Open(ctx context.Context, cfg Config) (*Provider, error) {
	transport, err := buildTransport(cfg)
	if err != nil {
		return nil, err
	}
	return connect(ctx, cfg, transport)
}

func connect(ctx context.Context, cfg Config, transport mcp.Transport) (*Provider, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: "chatd", Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Name, err)
	}
	return &Provider{cfg: cfg, session: session}, nil
}

func buildTransport(cfg Config) (mcp.Transport, error) {
	switch {
	case cfg.URL != "":
		return &mcp.StreamableClientTransport{
			Endpoint:   strings.TrimSpace(cfg.URL),
			HTTPClient: &http.Client{Transport: &headerTransport{headers: headers(cfg)}},
		}, nil
	case cfg.Command != "":
		cmd := exec.Command(cfg.Command, cfg.Args...)
		if len(cfg.Env) > 0 {
			env := os.Environ()
			for k, v := range cfg.Env {
				env = append(env, k+"="+v)
			}
			cmd.Env = env
		}
		return &mcp.CommandTransport{Command: cmd}, nil
	}
	return nil, fmt.Errorf("mcp server %s: url or command is required", cfg.Name)
}

func headers(cfg Config) map[string]string {
	h := map[string]string{}
	for k, v := range cfg.Headers {
		h[k] = v
	}
	if cfg.BearerToken != "" {
		h["Authorization"] = "Bearer " + cfg.BearerToken
	}
	return h
}

// headerTransport adds static headers to every request.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

func (p *Provider) Name() string { return p.cfg.Name }

// Tools lists the server's tools after allow/deny filtering.
func (p *Provider) Tools(ctx context.Context) ([]tools.Tool, error) {
	allow := map[string]bool{}
	for _, n := range p.cfg.Allow {
		allow[n] = true
	}
	var out []tools.Tool
	for mt, err := range p.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("listing tools from %s: %w", p.cfg.Name, err)
		}
		if mt == nil || mt.Name == "" {
			continue
		}
		if len(allow) > 0 && !allow[mt.Name] {
			continue
		}
		if denied(mt.Name, p.cfg.Deny) {
			continue
		}
		out = append(out, &mcpTool{
			name:        mt.Name,
			description: mt.Description,
			schema:      normalizeSchema(mt.InputSchema),
			provider:    p,
		})
	}
	return out, nil
}

func denied(name string, deny []string) bool {
	lower := strings.ToLower(name)
	for _, d := range deny {
		if d != "" && strings.Contains(lower, strings.ToLower(d)) {
			return true
		}
	}
	return false
}

// Close ends the session. It is safe to call more than once.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.session.Close()
	})
	return p.closeErr
}

func normalizeSchema(schema any) map[string]any {
	if m, ok := schema.(map[string]any); ok && len(m) > 0 {
		return m
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || len(out) == 0 {
		return map[string]any{"type": "object"}
	}
	return out
}

type mcpTool struct {
	name        string
	description string
	schema      map[string]any
	provider    *Provider
}

func (t *mcpTool) Name() string                { return t.name }
func (t *mcpTool) Description() string         { return t.description }
func (t *mcpTool) InputSchema() map[string]any { return t.schema }

func (t *mcpTool) Execute(ctx context.Context, input map[string]any) (any, error) {
	if timeout := t.provider.cfg.CallTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := t.provider.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      t.name,
		Arguments: input,
	})
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", t.name, err)
	}
	text := extractText(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return nil, errors.New(text)
	}
	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}
	return text, nil
}

func extractText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			if s := strings.TrimSpace(v.Text); s != "" {
				parts = append(parts, s)
			}
		default:
			if raw, err := json.Marshal(v); err == nil && string(raw) != "{}" {
				parts = append(parts, string(raw))
			}
		}
	}
	return strings.Join(parts, "\n")
}
