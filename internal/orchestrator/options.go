package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Mantoine56/spec-bot/internal/logging"
	"github.com/Mantoine56/spec-bot/internal/secrets"
	"github.com/Mantoine56/spec-bot/internal/workflow"
)

const instrumentationName = "github.com/Mantoine56/spec-bot/internal/orchestrator"

// settings is shared by the Driver, Gate, Runner and Sweeper. Each reads the
// fields it needs.
type settings struct {
	events     Publisher
	metrics    *Metrics
	logger     *logging.Logger
	tracer     trace.Tracer
	now        func() time.Time
	redactor   *secrets.Redactor
	maxRetries int
	defaults   Defaults
}

// Option configures orchestrator components.
type Option func(*settings)

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *settings) {
		if p != nil {
			s.events = p
		}
	}
}

// WithMetrics sets the Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *settings) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithRedactor scrubs final documents before they are written.
func WithRedactor(r *secrets.Redactor) Option {
	return func(s *settings) { s.redactor = r }
}

// WithMaxRetries sets the generation retry ceiling.
func WithMaxRetries(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithDefaults sets the provider, model and research defaults for Start.
func WithDefaults(d Defaults) Option {
	return func(s *settings) { s.defaults = d }
}

func newSettings(opts []Option) settings {
	s := settings{
		events:     nopPublisher{},
		logger:     logging.Nop(),
		tracer:     otel.Tracer(instrumentationName),
		now:        time.Now,
		maxRetries: workflow.DefaultMaxRetries,
		defaults:   Defaults{Provider: "openai", EnableResearch: true},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// emit publishes an event for rec and logs, rather than returns, failures.
func (s *settings) emit(ctx context.Context, typ EventType, rec *workflow.Record, action string) {
	e := newEvent(typ, rec, s.now())
	e.Action = action
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn(ctx, "failed to publish workflow event",
			zap.String("event", string(typ)),
			zap.Error(err))
	}
}
