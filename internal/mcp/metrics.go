package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/Mantoine56/spec-bot/internal/llm"
	"github.com/Mantoine56/spec-bot/internal/orchestrator"
	"github.com/Mantoine56/spec-bot/internal/workflow"
)

const instrumentationName = "github.com/Mantoine56/spec-bot/internal/mcp"

// Metrics records tool calls made over MCP.
//
//   - specbot.mcp.tool.calls_total{tool,outcome}: outcome is "ok" or an error class
//   - specbot.mcp.tool.duration_seconds{tool}
//   - specbot.mcp.tool.in_flight{tool}
//   - specbot.mcp.decisions_total{action}: approval decisions taken through spec_approve
//   - specbot.mcp.redactions_total: secrets removed from document content in tool output
type Metrics struct {
	logger     *zap.Logger
	calls      metric.Int64Counter
	duration   metric.Float64Histogram
	inFlight   metric.Int64UpDownCounter
	decisions  metric.Int64Counter
	redactions metric.Int64Counter
}

// NewMetrics creates Metrics on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(instrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{logger: logger}

	var err error
	if m.calls, err = meter.Int64Counter("specbot.mcp.tool.calls_total",
		metric.WithDescription("MCP tool calls by tool and outcome"),
		metric.WithUnit("{call}"),
	); err != nil {
		m.warn("calls_total", err)
	}
	// Tools only touch memory and the queue, so buckets stay short.
	if m.duration, err = meter.Float64Histogram("specbot.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1),
	); err != nil {
		m.warn("duration_seconds", err)
	}
	if m.inFlight, err = meter.Int64UpDownCounter("specbot.mcp.tool.in_flight",
		metric.WithDescription("MCP tool calls currently executing"),
		metric.WithUnit("{call}"),
	); err != nil {
		m.warn("in_flight", err)
	}
	if m.decisions, err = meter.Int64Counter("specbot.mcp.decisions_total",
		metric.WithDescription("Approval decisions applied through MCP"),
		metric.WithUnit("{decision}"),
	); err != nil {
		m.warn("decisions_total", err)
	}
	if m.redactions, err = meter.Int64Counter("specbot.mcp.redactions_total",
		metric.WithDescription("Secrets redacted from document content returned by tools"),
		metric.WithUnit("{secret}"),
	); err != nil {
		m.warn("redactions_total", err)
	}
	return m
}

func (m *Metrics) warn(name string, err error) {
	m.logger.Warn("failed to create mcp instrument", zap.String("instrument", name), zap.Error(err))
}

// begin marks a tool call as in flight. The returned func ends it and
// records the outcome.
func (m *Metrics) begin(ctx context.Context, tool string) func(error) {
	start := time.Now()
	toolAttr := metric.WithAttributes(attribute.String("tool", tool))
	if m.inFlight != nil {
		m.inFlight.Add(ctx, 1, toolAttr)
	}
	return func(err error) {
		if m.inFlight != nil {
			m.inFlight.Add(ctx, -1, toolAttr)
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(start).Seconds(), toolAttr)
		}
		if m.calls != nil {
			m.calls.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("outcome", outcome(err)),
			))
		}
	}
}

func (m *Metrics) decision(ctx context.Context, action workflow.Action) {
	if m.decisions != nil {
		m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(action))))
	}
}

func (m *Metrics) redacted(ctx context.Context, n int) {
	if m.redactions != nil && n > 0 {
		m.redactions.Add(ctx, int64(n))
	}
}

// outcome maps an error onto a low-cardinality label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, workflow.ErrNotFound):
		return "not_found"
	case errors.Is(err, workflow.ErrTerminal):
		return "conflict"
	case errors.Is(err, workflow.ErrInvalidState),
		errors.Is(err, workflow.ErrInvalidAction),
		errors.Is(err, orchestrator.ErrInvalidRequest),
		errors.Is(err, errInvalidInput):
		return "invalid"
	case errors.Is(err, llm.ErrMissingAPIKey):
		return "no_credentials"
	case errors.Is(err, orchestrator.ErrQueueFull),
		errors.Is(err, orchestrator.ErrRunnerStopped):
		return "unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "internal"
}
