// Package metrics holds the Prometheus collectors for chat turns.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Turns counts finished turns. Labels: finish_reason.
	Turns *prometheus.CounterVec
	// Rejected counts turns refused before generation. Labels: reason.
	Rejected *prometheus.CounterVec
	// ActiveTurns is the number of turns currently running.
	ActiveTurns prometheus.Gauge
	// Steps observes the number of steps per turn.
	Steps prometheus.Histogram
	// ModelDuration measures one generation. Labels: provider, status.
	ModelDuration *prometheus.HistogramVec
	// Tokens counts tokens. Labels: type (input|output).
	Tokens *prometheus.CounterVec
	// ToolCalls counts tool invocations. Labels: tool, status (success|error).
	ToolCalls *prometheus.CounterVec
	// ToolDuration measures tool execution time. Labels: tool.
	ToolDuration *prometheus.HistogramVec
	// PersistFailures counts failed message writes. Labels: role.
	PersistFailures *prometheus.CounterVec
	// ProviderCloseFailures counts tool providers that failed to close.
	ProviderCloseFailures prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatd_turns_total",
			Help: "Finished turns by finish reason.",
		}, []string{"finish_reason"}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatd_turns_rejected_total",
			Help: "Turns rejected before generation.",
		}, []string{"reason"}),
		ActiveTurns: f.NewGauge(prometheus.GaugeOpts{
			Name: "chatd_active_turns",
			Help: "Turns currently running.",
		}),
		Steps: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatd_turn_steps",
			Help:    "Steps per turn.",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
		}),
		ModelDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatd_model_generation_seconds",
			Help:    "Duration of one model generation.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "status"}),
		Tokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatd_tokens_total",
			Help: "Tokens consumed.",
		}, []string{"type"}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatd_tool_calls_total",
			Help: "Tool invocations.",
		}, []string{"tool", "status"}),
		ToolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatd_tool_call_seconds",
			Help:    "Tool execution time.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),
		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatd_persist_failures_total",
			Help: "Message writes that failed.",
		}, []string{"role"}),
		ProviderCloseFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "chatd_tool_provider_close_failures_total",
			Help: "Tool registries whose close reported an error.",
		}),
	}
}

func (m *Metrics) TurnStarted() {
	if m == nil {
		return
	}
	m.ActiveTurns.Inc()
}

func (m *Metrics) TurnFinished(reason string, steps int) {
	if m == nil {
		return
	}
	m.ActiveTurns.Dec()
	m.Turns.WithLabelValues(reason).Inc()
	m.Steps.Observe(float64(steps))
}

func (m *Metrics) TurnRejected(reason string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ModelCall(provider string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.ModelDuration.WithLabelValues(provider, status(err)).Observe(d.Seconds())
}

func (m *Metrics) TokensUsed(input, output int) {
	if m == nil {
		return
	}
	m.Tokens.WithLabelValues("input").Add(float64(input))
	m.Tokens.WithLabelValues("output").Add(float64(output))
}

func (m *Metrics) ToolCall(tool string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status(err)).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) PersistFailed(role string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(role).Inc()
}

func (m *Metrics) CloseFailed() {
	if m == nil {
		return
	}
	m.ProviderCloseFailures.Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
