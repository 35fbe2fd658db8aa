// Package config loads the chatd YAML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nstogner/chatd/pkg/domain"
)

// Config is the root configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Log          LogConfig          `yaml:"log"`
	Auth         AuthConfig         `yaml:"auth"`
	RateLimit    RateLimitConfig    `yaml:"ratelimit"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Models       ModelsConfig       `yaml:"models"`
	Tools        ToolsConfig        `yaml:"tools"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	CORSOrigin      string        `yaml:"cors_origin"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "jsonl".
	Driver string `yaml:"driver"`
	// Path is the SQLite file, or the directory of the jsonl store.
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	CookieName string `yaml:"cookie_name"`
	// AllowAnonymous lets requests without a token through as the anonymous
	// user. Intended for local use.
	AllowAnonymous bool `yaml:"allow_anonymous"`
}

type RateLimitConfig struct {
	// RPS is the sustained turns per second per user. Zero disables the limit.
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type OrchestratorConfig struct {
	MaxSteps         int           `yaml:"max_steps"`
	HistoryThreshold int           `yaml:"history_threshold"`
	HistoryKeep      int           `yaml:"history_keep"`
	ToolTimeout      time.Duration `yaml:"tool_timeout"`
	TurnTimeout      time.Duration `yaml:"turn_timeout"`
	SmoothStreaming  bool          `yaml:"smooth_streaming"`
	MaxParallelTools int           `yaml:"max_parallel_tools"`
}

type ModelsConfig struct {
	// Default is the "provider/model" used when a request names none.
	Default string `yaml:"default"`
	// Title is the model used to name conversations. Defaults to Default.
	Title            string           `yaml:"title"`
	Gemini           *GeminiConfig    `yaml:"gemini"`
	Anthropic        *AnthropicConfig `yaml:"anthropic"`
	OpenAICompatible []OpenAIConfig   `yaml:"openai_compatible"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
}

type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
}

type OpenAIConfig struct {
	// Name is the routing prefix, e.g. "deepseek".
	Name    string   `yaml:"name"`
	APIKey  string   `yaml:"api_key"`
	BaseURL string   `yaml:"base_url"`
	Models  []string `yaml:"models"`
}

type ToolsConfig struct {
	Time          TimeToolConfig    `yaml:"time"`
	WebReader     GatedToolConfig   `yaml:"web_reader"`
	WebSearch     WebSearchConfig   `yaml:"web_search"`
	InstantAnswer GatedToolConfig   `yaml:"instant_answer"`
	Sandbox       SandboxConfig     `yaml:"sandbox"`
	MCP           []MCPServerConfig `yaml:"mcp"`
}

// GatedToolConfig is shared by every tool entry. Authority is "model" or
// "user"; user-gated entries are switched on by Toggle in the request's
// userTools.
type GatedToolConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Authority string `yaml:"authority"`
	Toggle    string `yaml:"toggle"`
}

type TimeToolConfig struct {
	GatedToolConfig `yaml:",inline"`
	Timezone        string `yaml:"timezone"`
}

type WebSearchConfig struct {
	GatedToolConfig `yaml:",inline"`
	APIKey          string `yaml:"api_key"`
	Endpoint        string `yaml:"endpoint"`
	NumResults      int    `yaml:"num_results"`
}

type SandboxConfig struct {
	GatedToolConfig `yaml:",inline"`
	Image           string `yaml:"image"`
}

type MCPServerConfig struct {
	GatedToolConfig `yaml:",inline"`
	Name            string `yaml:"name"`
	// Prefix is prepended to every tool name. Defaults to Name.
	Prefix      string            `yaml:"prefix"`
	URL         string            `yaml:"url"`
	BearerToken string            `yaml:"bearer_token"`
	Headers     map[string]string `yaml:"headers"`
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args"`
	Env         map[string]string `yaml:"env"`
	Deny        []string          `yaml:"deny"`
	// DenyPreset adds a built-in deny list. Only "github" is known.
	DenyPreset  string        `yaml:"deny_preset"`
	Allow       []string      `yaml:"allow"`
	Required    bool          `yaml:"required"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// Default returns the configuration used for unset values.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Database: DatabaseConfig{Driver: "sqlite", Path: "chatd.db"},
		Log:      LogConfig{Level: "info"},
		Auth:     AuthConfig{CookieName: "chatd_token"},
		RateLimit: RateLimitConfig{
			RPS:   1,
			Burst: 5,
		},
		Orchestrator: OrchestratorConfig{
			MaxSteps:         10,
			HistoryThreshold: 10,
			HistoryKeep:      5,
			ToolTimeout:      2 * time.Minute,
			TurnTimeout:      5 * time.Minute,
			SmoothStreaming:  true,
		},
		Models: ModelsConfig{Default: "gemini/gemini-2.5-flash"},
		Tools: ToolsConfig{
			Time:      TimeToolConfig{GatedToolConfig: GatedToolConfig{Enabled: true}},
			WebReader: GatedToolConfig{Enabled: true},
			WebSearch: WebSearchConfig{
				GatedToolConfig: GatedToolConfig{Authority: "user", Toggle: "enableWebSearch"},
				NumResults:      6,
			},
			Sandbox: SandboxConfig{
				GatedToolConfig: GatedToolConfig{Authority: "user", Toggle: "enableCodeInterpreter"},
				Image:           "chatd-sandbox:latest",
			},
		},
	}
}

// Load reads the file at path, expanding ${VAR} references from the
// environment, applies it over Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document. See Load.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Models.Title == "" {
		cfg.Models.Title = cfg.Models.Default
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch c.Database.Driver {
	case "sqlite", "jsonl":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want sqlite or jsonl", c.Database.Driver))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.JWTSecret == "" && !c.Auth.AllowAnonymous {
		errs = append(errs, errors.New("auth.jwt_secret is required unless auth.allow_anonymous is set"))
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("ratelimit values must not be negative"))
	}
	if c.Models.Default == "" {
		errs = append(errs, errors.New("models.default is required"))
	}
	for i, o := range c.Models.OpenAICompatible {
		if o.Name == "" {
			errs = append(errs, fmt.Errorf("models.openai_compatible[%d].name is required", i))
		}
	}

	check := func(path string, g GatedToolConfig) {
		if !g.Enabled {
			return
		}
		a, ok := domain.ParseAuthority(g.Authority)
		if !ok {
			errs = append(errs, fmt.Errorf("%s.authority %q: want model or user", path, g.Authority))
			return
		}
		if a == domain.AuthorityUser && g.Toggle == "" {
			errs = append(errs, fmt.Errorf("%s.toggle is required for user-gated tools", path))
		}
	}
	check("tools.time", c.Tools.Time.GatedToolConfig)
	check("tools.web_reader", c.Tools.WebReader)
	check("tools.web_search", c.Tools.WebSearch.GatedToolConfig)
	check("tools.instant_answer", c.Tools.InstantAnswer)
	check("tools.sandbox", c.Tools.Sandbox.GatedToolConfig)
	if c.Tools.WebSearch.Enabled && c.Tools.WebSearch.APIKey == "" {
		errs = append(errs, errors.New("tools.web_search.api_key is required"))
	}
	if c.Tools.Time.Timezone != "" {
		if _, err := time.LoadLocation(c.Tools.Time.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("tools.time.timezone: %w", err))
		}
	}
	for i, m := range c.Tools.MCP {
		path := fmt.Sprintf("tools.mcp[%d]", i)
		check(path, m.GatedToolConfig)
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", path))
		}
		if m.URL == "" && m.Command == "" {
			errs = append(errs, fmt.Errorf("%s: one of url or command is required", path))
		}
		if m.DenyPreset != "" && m.DenyPreset != "github" {
			errs = append(errs, fmt.Errorf("%s.deny_preset %q is unknown", path, m.DenyPreset))
		}
	}
	return errors.Join(errs...)
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", c.Log.Level, err)
	}
	return l, nil
}
