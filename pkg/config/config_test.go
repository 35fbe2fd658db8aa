package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseAppliesDefaultsAndEnv(t *testing.T) {
	t.Setenv("CHATD_TEST_SECRET", "s3cret")
	t.Setenv("CHATD_TEST_GH_TOKEN", "ghp_abc")

	cfg, err := Parse([]byte(`
server:
  addr: ":9090"
auth:
  jwt_secret: ${CHATD_TEST_SECRET}
orchestrator:
  max_steps: 4
  tool_timeout: 30s
models:
  default: deepseek/deepseek-chat
  openai_compatible:
    - name: deepseek
      base_url: https://api.deepseek.com/v1
      api_key: x
tools:
  mcp:
    - name: github
      url: https://api.githubcopilot.com/mcp/
      bearer_token: ${CHATD_TEST_GH_TOKEN}
      deny_preset: github
      enabled: true
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "s3cret")
	}
	if cfg.Orchestrator.MaxSteps != 4 {
		t.Errorf("MaxSteps = %d, want 4", cfg.Orchestrator.MaxSteps)
	}
	if cfg.Orchestrator.ToolTimeout != 30*time.Second {
		t.Errorf("ToolTimeout = %v, want 30s", cfg.Orchestrator.ToolTimeout)
	}
	// Unset values keep their defaults.
	if cfg.Orchestrator.HistoryThreshold != 10 || cfg.Orchestrator.HistoryKeep != 5 {
		t.Errorf("history = %d/%d, want 10/5", cfg.Orchestrator.HistoryThreshold, cfg.Orchestrator.HistoryKeep)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Driver = %q, want %q", cfg.Database.Driver, "sqlite")
	}
	if cfg.Models.Title != "deepseek/deepseek-chat" {
		t.Errorf("Title = %q, want the default model", cfg.Models.Title)
	}
	if len(cfg.Tools.MCP) != 1 || cfg.Tools.MCP[0].BearerToken != "ghp_abc" {
		t.Errorf("MCP = %+v, want one server with the expanded token", cfg.Tools.MCP)
	}
	if !cfg.Tools.Time.Enabled {
		t.Error("time tool should be enabled by default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no secret", `auth: {jwt_secret: ""}`, "auth.jwt_secret"},
		{"bad driver", "auth: {allow_anonymous: true}\ndatabase: {driver: postgres}", "database.driver"},
		{"bad level", "auth: {allow_anonymous: true}\nlog: {level: loud}", "log.level"},
		{"gated without toggle", "auth: {allow_anonymous: true}\ntools:\n  web_reader: {enabled: true, authority: user}", "tools.web_reader.toggle"},
		{"bad authority", "auth: {allow_anonymous: true}\ntools:\n  time: {enabled: true, authority: robot}", "tools.time.authority"},
		{"search without key", "auth: {allow_anonymous: true}\ntools:\n  web_search: {enabled: true}", "tools.web_search.api_key"},
		{"mcp without transport", "auth: {allow_anonymous: true}\ntools:\n  mcp: [{name: x, enabled: true}]", "one of url or command"},
		{"bad timezone", "auth: {allow_anonymous: true}\ntools:\n  time: {enabled: true, timezone: Mars/Olympus}", "tools.time.timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("Parse succeeded, want error mentioning %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatd.yaml")
	if err := os.WriteFile(path, []byte("auth: {allow_anonymous: true}\nlog: {level: debug}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	level, err := cfg.LogLevel()
	if err != nil {
		t.Fatalf("LogLevel: %v", err)
	}
	if level != slog.LevelDebug {
		t.Errorf("level = %v, want %v", level, slog.LevelDebug)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of a missing file succeeded")
	}
}
