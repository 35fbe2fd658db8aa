package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.TurnStarted()
	m.TurnFinished("stop", 1)
	m.ToolCall("x", nil, time.Second)
	m.PersistFailed("assistant")
}

func TestToolCallCounts(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ToolCall("web_search", nil, time.Millisecond)
	m.ToolCall("web_search", errors.New("boom"), time.Millisecond)
	m.ToolCall("web_search", errors.New("boom"), time.Millisecond)

	if got := testutil.ToFloat64(m.ToolCalls.WithLabelValues("web_search", "error")); got != 2 {
		t.Errorf("error count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ToolCalls.WithLabelValues("web_search", "success")); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
}

func TestActiveTurns(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.TurnStarted()
	m.TurnStarted()
	m.TurnFinished("stop", 2)
	if got := testutil.ToFloat64(m.ActiveTurns); got != 1 {
		t.Errorf("active = %v, want 1", got)
	}
}
