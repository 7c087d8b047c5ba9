// Package generation produces one phase document per call.
//
// A Coordinator marks the record as generating, assembles the phase prompt
// from the record, invokes the model once and either arms the approval gate
// with the new content or counts the failure against the record's retry
// budget. Retrying is left to the caller, which re-decides after each call.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Mantoine56/spec-bot/internal/extraction"
	"github.com/Mantoine56/spec-bot/internal/llm"
	"github.com/Mantoine56/spec-bot/internal/logging"
	"github.com/Mantoine56/spec-bot/internal/secrets"
	"github.com/Mantoine56/spec-bot/internal/workflow"
)

const instrumentationName = "github.com/Mantoine56/spec-bot/internal/generation"

// ErrSuperseded is returned when the record left the generating state while
// the model was running. The generated content is discarded.
var ErrSuperseded = errors.New("generation superseded")

// GenerationError wraps a failed model invocation. The failure has already
// been recorded on the workflow when it is returned.
type GenerationError struct {
	WorkflowID string
	Phase      workflow.Phase
	RetryCount int
	Err        error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s for %s (retry %d): %v", e.Phase, e.WorkflowID, e.RetryCount, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// ClientProvider resolves the model client for a workflow's provider and model.
type ClientProvider interface {
	Client(provider, model string) (llm.Client, error)
}

// Coordinator runs single generation attempts against the record store.
type Coordinator struct {
	store    workflow.Store
	clients  ClientProvider
	redactor *secrets.Redactor
	opts     llm.Options
	logger   *logging.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRedactor scrubs user-authored prompt text before it reaches the model.
func WithRedactor(r *secrets.Redactor) Option {
	return func(c *Coordinator) { c.redactor = r }
}

// WithLLMOptions sets the max tokens and temperature used for every call.
func WithLLMOptions(opts llm.Options) Option {
	return func(c *Coordinator) { c.opts = opts }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithClock sets the time source used for conversation timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator.
func New(store workflow.Store, clients ClientProvider, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		clients: clients,
		logger:  logging.Nop(),
		tracer:  otel.Tracer(instrumentationName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate produces the document for phase.
//
// On success the record is returned awaiting approval of phase. A model
// failure is recorded on the workflow (RetryCount, LastError) and returned
// as a *GenerationError; the record stays in its generating state. Context
// cancellation is returned as is and is not counted as a failure.
func (c *Coordinator) Generate(ctx context.Context, id string, phase workflow.Phase) (*workflow.Record, error) {
	ctx = logging.WithPhase(logging.WithWorkflowID(ctx, id), string(phase))
	ctx, span := c.tracer.Start(ctx, "generation.generate", trace.WithAttributes(
		attribute.String("workflow.id", id),
		attribute.String("workflow.phase", string(phase)),
	))
	defer span.End()

	if _, ok := prompts[phase]; !ok {
		err := fmt.Errorf("%w: %q", workflow.ErrInvalidPhase, phase)
		fail(span, err)
		return nil, err
	}

	rec, err := c.store.Mutate(ctx, id, func(r *workflow.Record) error {
		if r.Status.IsTerminal() {
			return &workflow.StateError{ID: r.ID, Status: r.Status, Op: "generate", Err: workflow.ErrTerminal}
		}
		if r.Status.IsAwaiting() {
			return &workflow.StateError{ID: r.ID, Status: r.Status, Op: "generate", Err: workflow.ErrInvalidState}
		}
		workflow.MarkGenerating(r, phase)
		return nil
	})
	if err != nil {
		fail(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("llm.provider", rec.LLMProvider),
		attribute.String("llm.model", rec.ModelName),
		attribute.Int("workflow.retry_count", rec.RetryCount),
	)

	messages, err := Messages(rec, phase, c.redactor)
	if err != nil {
		fail(span, err)
		return nil, err
	}

	client, err := c.clients.Client(rec.LLMProvider, rec.ModelName)
	if err != nil {
		return c.recordFailure(ctx, span, rec, phase, err)
	}

	c.logger.Info(ctx, "generating document",
		zap.String("provider", client.Provider()),
		zap.String("model", client.Model()),
		zap.Int("retry_count", rec.RetryCount))

	start := time.Now()
	resp, err := client.Generate(ctx, messages, c.opts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			fail(span, ctxErr)
			return nil, ctxErr
		}
		return c.recordFailure(ctx, span, rec, phase, err)
	}

	content := resp.Content
	mode := extraction.Extract(content).Mode
	model := resp.Model
	if model == "" {
		model = rec.ModelName
	}

	span.SetAttributes(
		attribute.String("response.format", string(mode)),
		attribute.Int("llm.total_tokens", resp.Usage.TotalTokens),
	)

	updated, err := c.store.Mutate(ctx, id, func(r *workflow.Record) error {
		if r.Status != phase.GeneratingStatus() {
			return ErrSuperseded
		}
		r.Append(workflow.RoleAssistant, content, map[string]string{
			"phase":  string(phase),
			"model":  model,
			"format": string(mode),
		}, c.now())
		workflow.EnterAwaiting(r, phase, content)
		return nil
	})
	if errors.Is(err, ErrSuperseded) {
		c.logger.Warn(ctx, "discarding generated document", zap.String("reason", "workflow changed during generation"))
		current, getErr := c.store.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return current, ErrSuperseded
	}
	if err != nil {
		fail(span, err)
		return nil, err
	}

	c.logger.Info(ctx, "document generated",
		zap.String("format", string(mode)),
		zap.Int("chars", len(content)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("duration", time.Since(start)))
	span.SetStatus(codes.Ok, "")
	return updated, nil
}

// recordFailure counts cause against the record unless the record has moved on.
func (c *Coordinator) recordFailure(ctx context.Context, span trace.Span, rec *workflow.Record, phase workflow.Phase, cause error) (*workflow.Record, error) {
	fail(span, cause)

	updated, err := c.store.Mutate(ctx, rec.ID, func(r *workflow.Record) error {
		if r.Status != phase.GeneratingStatus() {
			return ErrSuperseded
		}
		workflow.RecordFailure(r, cause)
		return nil
	})
	switch {
	case errors.Is(err, ErrSuperseded):
		current, getErr := c.store.Get(ctx, rec.ID)
		if getErr != nil {
			return nil, getErr
		}
		return current, ErrSuperseded
	case err != nil:
		return nil, fmt.Errorf("recording generation failure: %w", err)
	}

	c.logger.Warn(ctx, "generation failed",
		zap.Error(cause),
		zap.Int("retry_count", updated.RetryCount))

	return updated, &GenerationError{
		WorkflowID: rec.ID,
		Phase:      phase,
		RetryCount: updated.RetryCount,
		Err:        cause,
	}
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
