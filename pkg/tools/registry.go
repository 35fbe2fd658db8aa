package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nstogner/chatd/pkg/domain"
	"github.com/nstogner/chatd/pkg/model"
)

// Registry is the set of tools available to one turn. It owns the provider
// handles it opened and releases all of them exactly once on Close.
type Registry struct {
	entries map[string]*entry
	names   []string
	handles []*handle
	logger  *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

type entry struct {
	name      string
	provider  string
	authority domain.Authority
	tool      Tool
	schema    *jsonschema.Schema
}

type handle struct {
	provider Provider
	once     sync.Once
	err      error
}

func (h *handle) close() error {
	h.once.Do(func() { h.err = h.provider.Close() })
	return h.err
}

// Build opens every provider in specs. Providers that fail are skipped with a
// warning unless they are required, in which case everything opened so far is
// closed and an ErrRegistryInit error is returned.
func Build(ctx context.Context, specs []Spec, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{entries: map[string]*entry{}, logger: logger}
	for _, spec := range specs {
		if err := r.add(ctx, spec); err != nil {
			if spec.Required {
				if cerr := r.Close(); cerr != nil {
					logger.Warn("Closing partially built registry", "error", cerr)
				}
				return nil, fmt.Errorf("%w: provider %s: %w", domain.ErrRegistryInit, spec.Name, err)
			}
			logger.Warn("Skipping tool provider", "provider", spec.Name, "error", err)
		}
	}
	sort.Strings(r.names)
	return r, nil
}

func (r *Registry) add(ctx context.Context, spec Spec) error {
	p, err := spec.Open(ctx)
	if err != nil {
		return fmt.Errorf("opening: %w", err)
	}
	h := &handle{provider: p}
	list, err := p.Tools(ctx)
	if err != nil {
		if cerr := h.close(); cerr != nil {
			r.logger.Warn("Closing failed provider", "provider", spec.Name, "error", cerr)
		}
		return fmt.Errorf("listing tools: %w", err)
	}
	r.handles = append(r.handles, h)

	authority := spec.Authority
	if authority == "" {
		authority = domain.AuthorityModel
	}
	for _, t := range list {
		name := t.Name()
		if spec.Prefix != "" {
			name = spec.Prefix + "_" + name
		}
		if _, dup := r.entries[name]; dup {
			r.logger.Warn("Duplicate tool name, skipping", "tool", name, "provider", spec.Name)
			continue
		}
		schema, err := compileSchema(name, t.InputSchema())
		if err != nil {
			r.logger.Warn("Tool schema does not compile, arguments will not be validated", "tool", name, "error", err)
		}
		r.entries[name] = &entry{
			name:      name,
			provider:  spec.Name,
			authority: authority,
			tool:      t,
			schema:    schema,
		}
		r.names = append(r.names, name)
	}
	return nil
}

// Names returns the sorted names of every registered tool.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Authority reports the authority class of a registered tool.
func (r *Registry) Authority(name string) (domain.Authority, bool) {
	e, ok := r.entries[name]
	if !ok {
		return "", false
	}
	return e.authority, true
}

// Specs returns the model-facing definitions of every registered tool.
func (r *Registry) Specs() []model.ToolSpec {
	specs := make([]model.ToolSpec, 0, len(r.names))
	for _, name := range r.names {
		e := r.entries[name]
		specs = append(specs, model.ToolSpec{
			Name:        name,
			Description: e.tool.Description(),
			Parameters:  e.tool.InputSchema(),
		})
	}
	return specs
}

// Describe renders the tool inventory for the system prompt, split into the
// tools the model may use freely and the ones the user switched on.
func (r *Registry) Describe() string {
	var sb strings.Builder
	sb.WriteString("Model-autonomous tools (use whenever they help answer the user):\n")
	r.describeSection(&sb, domain.AuthorityModel)
	sb.WriteString("\nUser-enabled tools (the user switched these on for this message; use them when the request calls for it):\n")
	r.describeSection(&sb, domain.AuthorityUser)
	return sb.String()
}

func (r *Registry) describeSection(sb *strings.Builder, a domain.Authority) {
	byProvider := map[string][]string{}
	var providers []string
	for _, name := range r.names {
		e := r.entries[name]
		if e.authority != a {
			continue
		}
		if _, ok := byProvider[e.provider]; !ok {
			providers = append(providers, e.provider)
		}
		byProvider[e.provider] = append(byProvider[e.provider], name)
	}
	if len(providers) == 0 {
		sb.WriteString("- none\n")
		return
	}
	sort.Strings(providers)
	for _, p := range providers {
		fmt.Fprintf(sb, "- %s: %s\n", p, strings.Join(byProvider[p], ", "))
	}
}

// Invoke validates the arguments and executes the named tool.
func (r *Registry) Invoke(ctx context.Context, name string, input map[string]any) (any, error) {
	if r.closed.Load() {
		return nil, fmt.Errorf("%w: registry closed", domain.ErrToolInvocation)
	}
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown tool %q", domain.ErrToolInvocation, name)
	}
	if e.schema != nil {
		v, err := normalize(input)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: decoding arguments: %w", domain.ErrToolInvocation, name, err)
		}
		if err := e.schema.Validate(v); err != nil {
			return nil, fmt.Errorf("%w: %s: invalid arguments: %w", domain.ErrToolInvocation, name, err)
		}
	}
	out, err := e.tool.Execute(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrToolInvocation, name, err)
	}
	return out, nil
}

// Close releases every provider handle. Individual failures are collected
// rather than stopping the sweep. Only the first call does any work; later and
// concurrent calls wait for it and return nil.
func (r *Registry) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		var errs []error
		for _, h := range r.handles {
			if cerr := h.close(); cerr != nil {
				errs = append(errs, fmt.Errorf("closing %s: %w", h.provider.Name(), cerr))
			}
		}
		err = errors.Join(errs...)
	})
	return err
}
