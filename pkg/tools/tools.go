package tools

import (
	"context"

	"github.com/nstogner/chatd/pkg/domain"
)

// Tool defines the interface that all tools must implement.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any // JSON schema of the arguments object
	Execute(ctx context.Context, input map[string]any) (any, error)
}

// Provider is a source of tools with a lifecycle. A provider may hold a
// network session or a container; Close releases it.
type Provider interface {
	Name() string
	Tools(ctx context.Context) ([]Tool, error)
	Close() error
}

// Spec describes how to open one provider for a turn.
type Spec struct {
	// Name groups the provider's tools in Describe output.
	Name string
	// Prefix is prepended as "<prefix>_" to every tool name when set.
	Prefix    string
	Authority domain.Authority
	// Required providers fail the whole build when they cannot be opened.
	Required bool
	Open     func(ctx context.Context) (Provider, error)
}

// Func adapts a plain function into a Tool.
type Func struct {
	ToolName string
	Desc     string
	Schema   map[string]any
	Fn       func(ctx context.Context, input map[string]any) (any, error)
}

func (f *Func) Name() string                { return f.ToolName }
func (f *Func) Description() string         { return f.Desc }
func (f *Func) InputSchema() map[string]any { return f.Schema }

func (f *Func) Execute(ctx context.Context, input map[string]any) (any, error) {
	return f.Fn(ctx, input)
}

// StaticProvider serves a fixed set of in-process tools.
type StaticProvider struct {
	name  string
	tools []Tool
}

// NewStaticProvider returns a provider with nothing to release on Close.
func NewStaticProvider(name string, tools ...Tool) *StaticProvider {
	return &StaticProvider{name: name, tools: tools}
}

func (p *StaticProvider) Name() string { return p.name }

func (p *StaticProvider) Tools(ctx context.Context) ([]Tool, error) {
	return p.tools, nil
}

func (p *StaticProvider) Close() error { return nil }

var _ Provider = (*StaticProvider)(nil)

// StringArg reads a required string argument.
func StringArg(input map[string]any, key string) (string, bool) {
	v, ok := input[key].(string)
	return v, ok && v != ""
}
