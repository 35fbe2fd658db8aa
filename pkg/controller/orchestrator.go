package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/nstogner/chatd/pkg/domain"
	"github.com/nstogner/chatd/pkg/metrics"
	"github.com/nstogner/chatd/pkg/model"
)

const (
	DefaultMaxSteps         = 10
	DefaultHistoryThreshold = 10
	DefaultHistoryKeep      = 5
	DefaultToolTimeout      = 2 * time.Minute
)

// Config bounds a turn.
type Config struct {
	// MaxSteps is the maximum number of generate/execute cycles per turn.
	MaxSteps int
	// HistoryThreshold is the message count above which the window is
	// compacted to the first message plus the last HistoryKeep.
	HistoryThreshold int
	HistoryKeep      int
	// ToolTimeout bounds one tool invocation. Tool calls are detached from
	// turn cancellation, so this is their only bound.
	ToolTimeout time.Duration
	// TurnTimeout bounds the whole turn. Expiry is handled like a cancel.
	TurnTimeout time.Duration
	// SmoothStreaming re-chunks text deltas into whole words.
	SmoothStreaming bool
	// MaxParallelTools limits concurrent tool calls within a step. Zero means
	// no limit.
	MaxParallelTools int
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.HistoryThreshold <= 0 {
		c.HistoryThreshold = DefaultHistoryThreshold
	}
	if c.HistoryKeep <= 0 {
		c.HistoryKeep = DefaultHistoryKeep
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	return c
}

// ToolSet is the per-turn tool registry as seen by the orchestrator.
type ToolSet interface {
	Specs() []model.ToolSpec
	Invoke(ctx context.Context, name string, input map[string]any) (any, error)
}

// Sink receives the turn's events in order. Emit must not block for long and
// must not fail; transports that can fail detach themselves.
type Sink interface {
	Emit(ev domain.Event)
}

// Turn is everything the orchestrator needs to run one assistant response.
type Turn struct {
	ID        string
	MessageID string

	// Provider and Model select the generation backend. Model is the
	// provider-local name.
	Provider model.Provider
	Model    string

	Instructions string
	// History is the domain history ending with the new user message.
	History []domain.Message
	Tools   ToolSet

	// StartMetadata is attached to the start event.
	StartMetadata map[string]any
	// Finalize runs after the message is sealed and before the finish event.
	// Its result is merged into the finish metadata.
	Finalize func(res *domain.TurnResult) map[string]any
}

// Orchestrator drives the step loop of a turn:
// Idle -> Generating -> {ExecutingTools -> Generating}* -> Finished | Failed | Cancelled.
type Orchestrator struct {
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewOrchestrator(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:     cfg.withDefaults(),
		metrics: m,
		logger:  logger.With("component", "orchestrator"),
	}
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Run executes the turn and returns its result. It always emits exactly one
// start and one finish event, whatever happens in between. Cancelling ctx
// ends the turn with FinishCancelled once in-flight tool calls complete.
func (o *Orchestrator) Run(ctx context.Context, turn *Turn, sink Sink) *domain.TurnResult {
	if o.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.TurnTimeout)
		defer cancel()
	}

	r := newRun(o, turn, sink)
	o.metrics.TurnStarted()
	r.emit(domain.Event{Type: domain.EventStart, MessageID: turn.MessageID, Metadata: turn.StartMetadata})

	reason, err := r.loop(ctx)

	res := &domain.TurnResult{
		FinishReason: reason,
		Message:      r.seal(),
		Usage:        r.usage,
		Steps:        r.steps,
		Err:          err,
	}

	metadata := map[string]any{"totalTokens": res.Usage.TotalTokens}
	if turn.Finalize != nil {
		maps.Copy(metadata, turn.Finalize(res))
	}

	finish := domain.Event{
		Type:         domain.EventFinish,
		MessageID:    turn.MessageID,
		FinishReason: res.FinishReason,
		Usage:        &res.Usage,
		Metadata:     metadata,
	}
	if err != nil && res.FinishReason != domain.FinishStop {
		finish.ErrorText = err.Error()
	}
	r.emit(finish)

	o.metrics.TurnFinished(string(res.FinishReason), res.Steps)
	o.metrics.TokensUsed(res.Usage.InputTokens, res.Usage.OutputTokens)
	if err != nil {
		o.logger.Warn("Turn ended abnormally", "turnID", turn.ID, "finishReason", res.FinishReason, "steps", res.Steps, "error", err)
	} else {
		o.logger.Info("Turn finished", "turnID", turn.ID, "finishReason", res.FinishReason, "steps", res.Steps, "totalTokens", res.Usage.TotalTokens)
	}
	return res
}

// loop runs steps until a terminal state is reached.
func (r *run) loop(ctx context.Context) (domain.FinishReason, error) {
	for step := 1; ; step++ {
		if err := ctx.Err(); err != nil {
			return domain.FinishCancelled, cancelErr(ctx)
		}
		if step > r.o.cfg.MaxSteps {
			return domain.FinishLength, fmt.Errorf("%w: %d steps", domain.ErrStepLimit, r.o.cfg.MaxSteps)
		}

		r.steps = step
		r.emit(domain.Event{Type: domain.EventStartStep})

		out, err := r.generate(ctx)
		if err != nil {
			r.closeOpen()
			r.abandonCalls(err)
			r.finishStep(out)
			if ctx.Err() != nil {
				return domain.FinishCancelled, cancelErr(ctx)
			}
			return domain.FinishError, fmt.Errorf("%w: %w", domain.ErrUpstreamModel, err)
		}
		r.closeOpen()
		r.dropIncompleteCalls()

		if len(out.calls) == 0 {
			r.finishStep(out)
			switch out.reason {
			case domain.FinishToolError:
				return domain.FinishToolError, fmt.Errorf("%w: model produced a malformed tool call", domain.ErrToolInvocation)
			case domain.FinishLength:
				return domain.FinishLength, nil
			case domain.FinishError:
				return domain.FinishError, fmt.Errorf("%w: generation stopped abnormally", domain.ErrUpstreamModel)
			}
			return domain.FinishStop, nil
		}

		r.executeTools(ctx, out.calls)
		r.finishStep(out)
	}
}

func cancelErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: turn timeout exceeded", domain.ErrCancelled)
	}
	return fmt.Errorf("%w: %w", domain.ErrCancelled, ctx.Err())
}
