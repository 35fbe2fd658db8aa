// Package controller runs chat turns: it prepares the history and tool
// registry of a turn, drives the model/tool step loop and persists the
// result.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nstogner/chatd/pkg/domain"
	"github.com/nstogner/chatd/pkg/history"
	"github.com/nstogner/chatd/pkg/metrics"
	"github.com/nstogner/chatd/pkg/model"
	"github.com/nstogner/chatd/pkg/store"
	"github.com/nstogner/chatd/pkg/tools"
)

// DefaultPersistTimeout bounds the writes made after a turn ends. They run
// detached from the request, so a disconnected client cannot abort them.
const DefaultPersistTimeout = 10 * time.Second

// Controller owns the turn pipeline.
type Controller struct {
	orchestrator *Orchestrator
	models       *model.Router
	catalog      *tools.Catalog
	store        store.ConversationStore
	loader       *history.Loader
	sink         *history.Sink
	metrics      *metrics.Metrics
	logger       *slog.Logger

	// PersistTimeout bounds each post-turn write.
	PersistTimeout time.Duration
	now            func() time.Time
}

// New creates a new Controller.
func New(o *Orchestrator, models *model.Router, catalog *tools.Catalog, s store.ConversationStore, m *metrics.Metrics, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog = tools.NewCatalog()
	}
	return &Controller{
		orchestrator:   o,
		models:         models,
		catalog:        catalog,
		store:          s,
		loader:         history.NewLoader(s),
		sink:           history.NewSink(s, m, logger),
		metrics:        m,
		logger:         logger.With("component", "controller"),
		PersistTimeout: DefaultPersistTimeout,
		now:            time.Now,
	}
}

// ValidateRequest checks the parts of a turn request that do not depend on
// any collaborator.
func ValidateRequest(req *domain.TurnRequest) error {
	if strings.TrimSpace(req.ConversationID) == "" {
		return fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	if req.Message.Role != domain.RoleUser {
		return fmt.Errorf("%w: message role must be %q, got %q", domain.ErrValidation, domain.RoleUser, req.Message.Role)
	}
	if len(req.Message.Parts) == 0 {
		return fmt.Errorf("%w: message has no parts", domain.ErrValidation)
	}
	if strings.TrimSpace(req.Message.Text()) == "" {
		return fmt.Errorf("%w: message has no text", domain.ErrValidation)
	}
	return nil
}

// PreparedTurn is a turn that passed every gate and owns a tool registry.
// Run or Close must be called exactly once to release the registry.
type PreparedTurn struct {
	ID        string
	MessageID string
	ModelID   string

	c        *Controller
	req      domain.TurnRequest
	userID   string
	provider model.Provider
	model    string
	history  []domain.Message
	registry *tools.Registry
}

// Prepare validates the request, resolves the model, loads the history and
// builds the tool registry. Errors returned here reject the turn before any
// generation: domain.ErrValidation, domain.ErrNotAuthorized, domain.ErrStore
// and domain.ErrRegistryInit.
func (c *Controller) Prepare(ctx context.Context, req domain.TurnRequest, userID string) (*PreparedTurn, error) {
	if err := ValidateRequest(&req); err != nil {
		c.metrics.TurnRejected("validation")
		return nil, err
	}
	if req.Message.ID == "" {
		req.Message.ID = newMessageID()
	}
	for i := range req.Message.Parts {
		if req.Message.Parts[i].ID == "" {
			req.Message.Parts[i].ID = fmt.Sprintf("%s-%d", req.Message.ID, i)
		}
	}

	modelID := req.Model
	if modelID == "" {
		modelID = c.models.DefaultModel()
	}
	provider, local, err := c.models.Resolve(modelID)
	if err != nil {
		c.metrics.TurnRejected("validation")
		return nil, err
	}

	hist, err := c.loader.Load(ctx, req.ConversationID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotAuthorized) {
			c.metrics.TurnRejected("unauthorized")
		} else {
			c.metrics.TurnRejected("store")
		}
		return nil, err
	}

	registry, err := tools.Build(ctx, c.catalog.Specs(req.UserTools), c.logger)
	if err != nil {
		c.metrics.TurnRejected("registry")
		return nil, err
	}

	return &PreparedTurn{
		ID:        uuid.NewString(),
		MessageID: newMessageID(),
		ModelID:   modelID,
		c:         c,
		req:       req,
		userID:    userID,
		provider:  provider,
		model:     local,
		history:   hist,
		registry:  registry,
	}, nil
}

// Close releases the turn's tool providers. It is safe to call more than
// once; only the first call does any work.
func (p *PreparedTurn) Close() {
	if err := p.registry.Close(); err != nil {
		p.c.logger.Warn("Closing tool providers failed", "turnID", p.ID, "error", err)
		p.c.metrics.CloseFailed()
	}
}

// Run persists the user message, runs the turn, persists the assistant
// message and emits the finish event. The registry is closed as soon as the
// step loop ends, before the assistant message is written, and again on
// return as a no-op.
func (p *PreparedTurn) Run(ctx context.Context, sink Sink) *domain.TurnResult {
	defer p.Close()

	c := p.c
	now := c.now()
	user := p.req.Message
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now.UTC()
	}

	userErr := p.persist(ctx, func(pctx context.Context) error {
		return c.sink.AppendUser(pctx, p.req.ConversationID, p.userID, user)
	})

	date := p.req.Date
	if date == "" {
		date = now.Format("2006-01-02 15:04:05 Monday")
	}
	timestamp := p.req.Timestamp
	if timestamp == 0 {
		timestamp = now.UnixMilli()
	}

	names := p.registry.Names()
	var userTools []string
	for _, name := range names {
		if a, _ := p.registry.Authority(name); a == domain.AuthorityUser {
			userTools = append(userTools, name)
		}
	}

	turn := &Turn{
		ID:        p.ID,
		MessageID: p.MessageID,
		Provider:  p.provider,
		Model:     p.model,
		Instructions: BuildInstructions(PromptData{
			Date:             date,
			Timestamp:        timestamp,
			ToolsDescription: p.registry.Describe(),
			UserTools:        userTools,
		}),
		History:       append(slices.Clip(p.history), user),
		Tools:         p.registry,
		StartMetadata: domain.StartMetadata(p.ModelID, names, now),
		Finalize: func(res *domain.TurnResult) map[string]any {
			p.Close()
			res.Message.Metadata = map[string]any{
				"createdAt":    now.UnixMilli(),
				"model":        p.ModelID,
				"totalTokens":  res.Usage.TotalTokens,
				"finishReason": string(res.FinishReason),
			}
			metadata := map[string]any{"persisted": false}
			var assistantErr error
			if len(res.Message.Parts) > 0 {
				assistantErr = p.persist(ctx, func(pctx context.Context) error {
					return c.sink.AppendAssistant(pctx, p.req.ConversationID, res.Message)
				})
				metadata["persisted"] = assistantErr == nil
			}
			if err := errors.Join(userErr, assistantErr); err != nil {
				metadata["persistError"] = err.Error()
			}
			return metadata
		},
	}

	c.logger.Info("Starting turn",
		"turnID", p.ID, "conversationID", p.req.ConversationID, "model", p.ModelID,
		"historyLen", len(p.history), "tools", len(names))
	return c.orchestrator.Run(ctx, turn, sink)
}

// persist runs fn detached from ctx's cancellation and bounded by the
// persist timeout.
func (p *PreparedTurn) persist(ctx context.Context, fn func(ctx context.Context) error) error {
	timeout := p.c.PersistTimeout
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return fn(pctx)
}

// --- Conversations ---

// Conversations lists the user's conversations.
func (c *Controller) Conversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	convs, err := c.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: listing conversations: %w", domain.ErrStore, err)
	}
	return convs, nil
}

// Messages returns the history of a conversation the user owns.
func (c *Controller) Messages(ctx context.Context, conversationID, userID string) ([]domain.Message, error) {
	return c.loader.Load(ctx, conversationID, userID)
}

// DeleteConversation soft-deletes a conversation the user owns.
func (c *Controller) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	if err := c.store.DeleteConversation(ctx, conversationID, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: deleting conversation: %w", domain.ErrStore, err)
	}
	return nil
}

// Models lists the models of every configured provider.
func (c *Controller) Models(ctx context.Context) ([]domain.Model, error) {
	return c.models.List(ctx)
}

func newMessageID() string {
	return "msg-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
