package model

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nstogner/chatd/pkg/domain"
)

// Router resolves "provider/model" identifiers against the configured
// providers.
type Router struct {
	providers    map[string]Provider
	order        []string
	defaultModel string
}

// NewRouter creates a router. defaultModel is used for requests that do not
// name a model.
func NewRouter(defaultModel string, providers ...Provider) *Router {
	r := &Router{providers: map[string]Provider{}, defaultModel: defaultModel}
	for _, p := range providers {
		r.Add(p)
	}
	return r
}

// Add registers a provider under its name.
func (r *Router) Add(p Provider) {
	if _, ok := r.providers[p.Name()]; !ok {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// DefaultModel returns the identifier used when a request names none.
func (r *Router) DefaultModel() string { return r.defaultModel }

// Resolve returns the provider and provider-local model name for identifier.
// An identifier without a known provider prefix is routed to the provider of
// the default model.
func (r *Router) Resolve(identifier string) (Provider, string, error) {
	if identifier == "" {
		identifier = r.defaultModel
	}
	if name, rest, ok := strings.Cut(identifier, "/"); ok {
		if p, ok := r.providers[name]; ok {
			return p, rest, nil
		}
	}
	if def, _, ok := strings.Cut(r.defaultModel, "/"); ok {
		if p, ok := r.providers[def]; ok {
			return p, identifier, nil
		}
	}
	return nil, "", fmt.Errorf("%w: unknown model %q", domain.ErrValidation, identifier)
}

// List returns the models of every provider. Providers that fail to list are
// logged and skipped.
func (r *Router) List(ctx context.Context) ([]domain.Model, error) {
	var all []domain.Model
	var lastErr error
	for _, name := range r.order {
		models, err := r.providers[name].List(ctx)
		if err != nil {
			slog.Warn("Listing models failed", "provider", name, "error", err)
			lastErr = err
			continue
		}
		all = append(all, models...)
	}
	if len(all) == 0 && lastErr != nil {
		return nil, fmt.Errorf("listing models: %w", lastErr)
	}
	return all, nil
}
