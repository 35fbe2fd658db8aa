package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nstogner/chatd/pkg/config"
	"github.com/nstogner/chatd/pkg/controller"
	"github.com/nstogner/chatd/pkg/domain"
	"github.com/nstogner/chatd/pkg/model"
	"github.com/nstogner/chatd/pkg/model/anthropic"
	"github.com/nstogner/chatd/pkg/model/gemini"
	"github.com/nstogner/chatd/pkg/model/openai"
	"github.com/nstogner/chatd/pkg/store"
	"github.com/nstogner/chatd/pkg/store/jsonl"
	"github.com/nstogner/chatd/pkg/store/sqlite"
	"github.com/nstogner/chatd/pkg/tools"
	"github.com/nstogner/chatd/pkg/tools/builtin"
	"github.com/nstogner/chatd/pkg/tools/mcp"
	"github.com/nstogner/chatd/pkg/tools/sandbox"
)

func openStore(cfg config.DatabaseConfig) (store.ConversationStore, error) {
	switch cfg.Driver {
	case "jsonl":
		s, err := jsonl.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func buildRouter(ctx context.Context, cfg config.ModelsConfig) (*model.Router, error) {
	router := model.NewRouter(cfg.Default)
	if cfg.Gemini != nil {
		p, err := gemini.New(ctx, cfg.Gemini.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini provider: %w", err)
		}
		router.Add(p)
	}
	if cfg.Anthropic != nil {
		router.Add(anthropic.New(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, cfg.Anthropic.MaxTokens))
	}
	for _, o := range cfg.OpenAICompatible {
		router.Add(openai.New(openai.Options{
			Name:    o.Name,
			APIKey:  o.APIKey,
			BaseURL: o.BaseURL,
			Models:  o.Models,
		}))
	}
	if _, _, err := router.Resolve(cfg.Default); err != nil {
		return nil, fmt.Errorf("models.default: %w", err)
	}
	return router, nil
}

func orchestratorConfig(c config.OrchestratorConfig) controller.Config {
	return controller.Config{
		MaxSteps:         c.MaxSteps,
		HistoryThreshold: c.HistoryThreshold,
		HistoryKeep:      c.HistoryKeep,
		ToolTimeout:      c.ToolTimeout,
		TurnTimeout:      c.TurnTimeout,
		SmoothStreaming:  c.SmoothStreaming,
		MaxParallelTools: c.MaxParallelTools,
	}
}

// gate returns the authority and toggle of a configured tool entry.
func gate(g config.GatedToolConfig) (domain.Authority, string) {
	a, _ := domain.ParseAuthority(g.Authority)
	if a != domain.AuthorityUser {
		return a, ""
	}
	return a, g.Toggle
}

func staticEntry(name string, g config.GatedToolConfig, tool tools.Tool) tools.Entry {
	a, toggle := gate(g)
	return tools.Entry{
		Spec: tools.Spec{
			Name:      name,
			Authority: a,
			Open: func(ctx context.Context) (tools.Provider, error) {
				return tools.NewStaticProvider(name, tool), nil
			},
		},
		Toggle: toggle,
	}
}

// buildCatalog turns the tools section into catalog entries. Providers are
// opened per turn.
func buildCatalog(cfg config.ToolsConfig, logger *slog.Logger) (*tools.Catalog, error) {
	catalog := tools.NewCatalog()
	httpClient := &http.Client{Timeout: 30 * time.Second}

	if cfg.Time.Enabled {
		var loc *time.Location
		if cfg.Time.Timezone != "" {
			l, err := time.LoadLocation(cfg.Time.Timezone)
			if err != nil {
				return nil, fmt.Errorf("tools.time.timezone: %w", err)
			}
			loc = l
		}
		catalog.Add(staticEntry("time", cfg.Time.GatedToolConfig, &builtin.TimeTool{Location: loc}))
	}
	if cfg.WebReader.Enabled {
		catalog.Add(staticEntry("web_reader", cfg.WebReader, &builtin.WebReader{Client: httpClient}))
	}
	if cfg.WebSearch.Enabled {
		catalog.Add(staticEntry("web_search", cfg.WebSearch.GatedToolConfig, &builtin.WebSearch{
			APIKey:     cfg.WebSearch.APIKey,
			Endpoint:   cfg.WebSearch.Endpoint,
			NumResults: cfg.WebSearch.NumResults,
			Client:     httpClient,
		}))
	}
	if cfg.InstantAnswer.Enabled {
		catalog.Add(staticEntry("instant_answer", cfg.InstantAnswer, &builtin.InstantAnswer{Client: httpClient}))
	}

	if cfg.Sandbox.Enabled {
		a, toggle := gate(cfg.Sandbox.GatedToolConfig)
		image := cfg.Sandbox.Image
		catalog.Add(tools.Entry{
			Spec: tools.Spec{
				Name:      "sandbox",
				Authority: a,
				Open: func(ctx context.Context) (tools.Provider, error) {
					rt, err := sandbox.NewDockerRuntime(image)
					if err != nil {
						return nil, err
					}
					return sandbox.New(rt, "chatd-sandbox-"+uuid.NewString()[:8]), nil
				},
			},
			Toggle: toggle,
		})
	}

	for _, m := range cfg.MCP {
		if !m.Enabled {
			continue
		}
		mcfg, err := mcpConfig(m)
		if err != nil {
			return nil, err
		}
		a, toggle := gate(m.GatedToolConfig)
		prefix := m.Prefix
		if prefix == "" {
			prefix = m.Name
		}
		catalog.Add(tools.Entry{
			Spec: tools.Spec{
				Name:      m.Name,
				Prefix:    prefix,
				Authority: a,
				Required:  m.Required,
				Open: func(ctx context.Context) (tools.Provider, error) {
					return mcp.Open(ctx, mcfg)
				},
			},
			Toggle: toggle,
		})
		logger.Debug("Registered MCP server", "name", m.Name, "authority", a, "required", m.Required)
	}
	return catalog, nil
}

func mcpConfig(m config.MCPServerConfig) (mcp.Config, error) {
	deny := append([]string(nil), m.Deny...)
	switch strings.ToLower(m.DenyPreset) {
	case "":
	case "github":
		deny = append(deny, mcp.GitHubDeny...)
	default:
		return mcp.Config{}, errors.New("unknown deny preset " + m.DenyPreset)
	}
	return mcp.Config{
		Name:        m.Name,
		URL:         m.URL,
		BearerToken: m.BearerToken,
		Headers:     m.Headers,
		Command:     m.Command,
		Args:        m.Args,
		Env:         m.Env,
		Deny:        deny,
		Allow:       m.Allow,
		CallTimeout: m.CallTimeout,
	}, nil
}
