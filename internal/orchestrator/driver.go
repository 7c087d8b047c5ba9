package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Mantoine56/spec-bot/internal/generation"
	"github.com/Mantoine56/spec-bot/internal/llm"
	"github.com/Mantoine56/spec-bot/internal/logging"
	"github.com/Mantoine56/spec-bot/internal/render"
	"github.com/Mantoine56/spec-bot/internal/workflow"
)

// Generator produces one phase document. *generation.Coordinator implements it.
type Generator interface {
	Generate(ctx context.Context, id string, phase workflow.Phase) (*workflow.Record, error)
}

// Renderer turns approved content into the final documents.
type Renderer interface {
	Render(in render.Input) (map[string]string, error)
}

// DocumentWriter persists the final documents and returns their paths.
type DocumentWriter interface {
	WriteSpecification(ctx context.Context, workflowID, featureName string, docs map[string]string) (map[string]string, error)
}

// Driver advances workflows until they wait for a human or terminate.
type Driver struct {
	store    workflow.Store
	gen      Generator
	renderer Renderer
	writer   DocumentWriter
	settings
}

// NewDriver creates a Driver.
func NewDriver(store workflow.Store, gen Generator, renderer Renderer, writer DocumentWriter, opts ...Option) *Driver {
	return &Driver{
		store:    store,
		gen:      gen,
		renderer: renderer,
		writer:   writer,
		settings: newSettings(opts),
	}
}

// Run loops Decide and act until the workflow waits for approval or is
// terminal, and returns the record at that point.
func (d *Driver) Run(ctx context.Context, id string) (*workflow.Record, error) {
	ctx = logging.WithWorkflowID(ctx, id)
	ctx, span := d.tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.String("workflow.id", id),
	))
	defer span.End()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := d.store.Get(ctx, id)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		decision := workflow.Decide(rec, d.maxRetries)
		d.logger.Debug(ctx, "decided next step",
			zap.Stringer("decision", decision.Kind),
			zap.String("phase", string(decision.Phase)),
			zap.String("status", string(rec.Status)))

		switch decision.Kind {
		case workflow.DecisionWait:
			span.SetAttributes(attribute.String("workflow.status", string(rec.Status)))
			return rec, nil

		case workflow.DecisionTerminate:
			if !rec.Status.IsTerminal() {
				return d.exhausted(ctx, rec)
			}
			span.SetAttributes(attribute.String("workflow.status", string(rec.Status)))
			return rec, nil

		case workflow.DecisionFinalize:
			return d.finalize(ctx, id)

		case workflow.DecisionGenerate:
			if err := d.generate(ctx, id, decision.Phase); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
		}
	}
}

// generate runs one attempt. Failures the loop can recover from by
// re-deciding return nil.
func (d *Driver) generate(ctx context.Context, id string, phase workflow.Phase) error {
	ctx = logging.WithPhase(ctx, string(phase))
	start := d.now()
	rec, err := d.gen.Generate(ctx, id, phase)
	elapsed := d.now().Sub(start).Seconds()

	var genErr *generation.GenerationError
	switch {
	case err == nil:
		d.metrics.generation(string(phase), "success", elapsed)
		d.metrics.transition(string(rec.Status))
		d.emit(ctx, EventPhaseGenerated, rec, "")
		return nil
	case errors.As(err, &genErr):
		d.metrics.generation(string(phase), "failure", elapsed)
		d.emit(ctx, EventGenerationFailed, rec, "")
		if errors.Is(err, llm.ErrAuth) || errors.Is(err, llm.ErrMissingAPIKey) {
			d.logger.Error(ctx, "generation cannot succeed without valid credentials", zap.Error(err))
		}
		return nil
	case errors.Is(err, generation.ErrSuperseded):
		d.logger.Info(ctx, "generation superseded, re-deciding")
		return nil
	default:
		return err
	}
}

// exhausted fails a workflow whose retry budget is spent.
func (d *Driver) exhausted(ctx context.Context, rec *workflow.Record) (*workflow.Record, error) {
	last := "unknown error"
	if rec.LastError != nil {
		last = *rec.LastError
	}
	reason := fmt.Sprintf("%s generation failed after %d attempts: %s", rec.Phase, rec.RetryCount, last)
	return d.fail(ctx, rec.ID, reason)
}

// fail moves the workflow to failed with reason.
func (d *Driver) fail(ctx context.Context, id, reason string) (*workflow.Record, error) {
	rec, err := d.store.Mutate(ctx, id, func(r *workflow.Record) error {
		if r.Status.IsTerminal() {
			return nil
		}
		workflow.EnterTerminal(r, workflow.StatusFailed, reason)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rec.Status == workflow.StatusFailed {
		d.metrics.transition(string(rec.Status))
		d.logger.Error(ctx, "workflow failed", zap.String("reason", reason))
		d.emit(ctx, EventFailed, rec, "")
	}
	return rec, nil
}

// finalize renders, redacts and writes the final documents, then completes
// the workflow. Failures move it to failed and are not retried.
func (d *Driver) finalize(ctx context.Context, id string) (*workflow.Record, error) {
	ctx, span := d.tracer.Start(ctx, "orchestrator.finalize")
	defer span.End()

	rec, err := d.store.Mutate(ctx, id, func(r *workflow.Record) error {
		if r.Status.IsTerminal() || !r.AllApproved() {
			return &workflow.StateError{ID: r.ID, Status: r.Status, Op: "finalize", Err: workflow.ErrInvalidState}
		}
		r.Status = workflow.StatusGeneratingFinalDocuments
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	docs, err := d.renderer.Render(render.Input{
		WorkflowID:   rec.ID,
		FeatureName:  rec.FeatureName,
		Description:  rec.InitialDescription,
		Requirements: deref(rec.RequirementsContent),
		Design:       deref(rec.DesignContent),
		Tasks:        deref(rec.TasksContent),
		GeneratedAt:  d.now(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return d.fail(ctx, id, fmt.Sprintf("render final documents: %v", err))
	}

	docs, findings := d.redactor.RedactMap(docs)
	if len(findings) > 0 {
		rules := make([]string, 0, len(findings))
		for _, f := range findings {
			rules = append(rules, f.RuleID)
		}
		d.logger.Warn(ctx, "redacted secrets from final documents",
			zap.Int("count", len(findings)),
			zap.String("rules", strings.Join(rules, ",")))
	}

	paths, err := d.writer.WriteSpecification(ctx, rec.ID, rec.FeatureName, docs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return d.fail(ctx, id, fmt.Sprintf("write final documents: %v", err))
	}

	rec, err = d.store.Mutate(ctx, id, func(r *workflow.Record) error {
		if r.Status != workflow.StatusGeneratingFinalDocuments {
			return generation.ErrSuperseded
		}
		workflow.Complete(r, docs, paths)
		return nil
	})
	if errors.Is(err, generation.ErrSuperseded) {
		d.logger.Warn(ctx, "workflow changed while writing final documents")
		return d.store.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	d.metrics.transition(string(rec.Status))
	d.logger.Info(ctx, "specification completed", zap.Int("files", len(paths)))
	d.emit(ctx, EventCompleted, rec, "")
	span.SetStatus(codes.Ok, "")
	return rec, nil
}

// Start creates a workflow in the initializing state. The caller enqueues
// its first run.
func (d *Driver) Start(ctx context.Context, req StartRequest) (*workflow.Record, error) {
	name := strings.TrimSpace(req.FeatureName)
	desc := strings.TrimSpace(req.Description)
	if name == "" {
		return nil, fmt.Errorf("%w: feature name is required", ErrInvalidRequest)
	}
	if desc == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidRequest)
	}

	provider := req.LLMProvider
	if provider == "" {
		provider = d.defaults.Provider
	}
	switch provider {
	case llm.ProviderOpenAI, llm.ProviderAnthropic, llm.ProviderOllama:
	default:
		return nil, fmt.Errorf("%w: unsupported llm provider %q", ErrInvalidRequest, provider)
	}

	model := req.ModelName
	if model == "" {
		if provider == d.defaults.Provider && d.defaults.Model != "" {
			model = d.defaults.Model
		} else {
			model = llm.DefaultModel(provider)
		}
	}

	research := d.defaults.EnableResearch
	if req.EnableResearch != nil {
		research = *req.EnableResearch
	}

	rec, err := d.store.Create(ctx, workflow.Seed{
		ID:                 uuid.NewString(),
		FeatureName:        name,
		InitialDescription: desc,
		LLMProvider:        provider,
		ModelName:          model,
		ResearchEnabled:    research,
	})
	if err != nil {
		return nil, err
	}

	ctx = logging.WithWorkflowID(ctx, rec.ID)
	d.metrics.transition(string(rec.Status))
	d.logger.Info(ctx, "workflow started",
		zap.String("feature_name", rec.FeatureName),
		zap.String("provider", provider),
		zap.String("model", model))
	d.emit(ctx, EventStarted, rec, "")
	return rec, nil
}

// Reset returns the workflow to its initial state. The caller enqueues a run.
func (d *Driver) Reset(ctx context.Context, id string) (*workflow.Record, error) {
	rec, err := d.store.Reset(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithWorkflowID(ctx, id)
	d.metrics.transition(string(rec.Status))
	d.logger.Info(ctx, "workflow reset")
	d.emit(ctx, EventReset, rec, "")
	return rec, nil
}

// Cancel moves a non-terminal workflow to cancelled. Terminal workflows
// return an error wrapping workflow.ErrTerminal.
func (d *Driver) Cancel(ctx context.Context, id string) (*workflow.Record, error) {
	rec, err := d.store.Mutate(ctx, id, workflow.Cancel)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithWorkflowID(ctx, id)
	d.metrics.transition(string(rec.Status))
	d.logger.Info(ctx, "workflow cancelled")
	d.emit(ctx, EventCancelled, rec, string(workflow.ActionCancel))
	return rec, nil
}

// Delete removes the workflow. It returns workflow.ErrNotFound for unknown ids.
func (d *Driver) Delete(ctx context.Context, id string) error {
	rec, err := d.store.Get(ctx, id)
	if err != nil {
		return err
	}
	deleted, err := d.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return workflow.ErrNotFound
	}
	ctx = logging.WithWorkflowID(ctx, id)
	d.logger.Info(ctx, "workflow deleted")
	d.emit(ctx, EventDeleted, rec, "")
	return nil
}

// Status returns the current record.
func (d *Driver) Status(ctx context.Context, id string) (*workflow.Record, error) {
	return d.store.Get(ctx, id)
}

// List returns a summary of every workflow, in store order. Workflows
// deleted while listing are skipped.
func (d *Driver) List(ctx context.Context) ([]Summary, error) {
	ids, err := d.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		rec, err := d.store.Get(ctx, id)
		if errors.Is(err, workflow.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(rec))
	}
	return out, nil
}

// MaxRetries returns the generation retry ceiling.
func (d *Driver) MaxRetries() int {
	return d.maxRetries
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
