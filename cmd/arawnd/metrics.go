package main

import (
	"context"
	"time"

	"github.com/dylanbstorey/arawn-sub003/internal/observability"
	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

// metricsSink adapts the runtime's event stream onto
// observability.Metrics, the same counters/histograms the teacher
// exposes for scraping, fed from turn/tool events instead of message
// channel events.
type metricsSink struct {
	metrics    *observability.Metrics
	provider   string
	model      string
	toolStarts map[string]time.Time
}

func newMetricsSink(metrics *observability.Metrics, provider, model string) *metricsSink {
	return &metricsSink{metrics: metrics, provider: provider, model: model, toolStarts: make(map[string]time.Time)}
}

// Emit implements agent.EventSink.
func (s *metricsSink) Emit(ctx context.Context, e models.AgentEvent) {
	switch e.Type {
	case models.AgentEventModelCompleted:
		if e.Stream != nil {
			s.metrics.RecordLLMRequest(s.provider, s.model, "success", 0, e.Stream.InputTokens, e.Stream.OutputTokens)
		}
	case models.AgentEventToolStarted:
		if e.Tool != nil {
			s.toolStarts[e.Tool.CallID] = e.Time
		}
	case models.AgentEventToolFinished:
		if e.Tool == nil {
			return
		}
		status := "success"
		if !e.Tool.Success {
			status = "error"
		}
		duration := 0.0
		if start, ok := s.toolStarts[e.Tool.CallID]; ok {
			duration = e.Time.Sub(start).Seconds()
			delete(s.toolStarts, e.Tool.CallID)
		}
		s.metrics.RecordToolExecution(e.Tool.Name, status, duration)
	case models.AgentEventToolTimedOut:
		if e.Tool != nil {
			s.metrics.RecordToolExecution(e.Tool.Name, "timeout", 0)
		}
	}
}
