package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Mantoine56/spec-bot/internal/logging"
	"github.com/Mantoine56/spec-bot/internal/workflow"
)

// Gate applies human decisions to workflows awaiting approval.
type Gate struct {
	store workflow.Store
	settings
}

// NewGate creates a Gate over store.
func NewGate(store workflow.Store, opts ...Option) *Gate {
	return &Gate{store: store, settings: newSettings(opts)}
}

// Handle applies action to the workflow's pending phase.
//
// It returns workflow.ErrNotFound for unknown ids and an error wrapping
// workflow.ErrNoPendingApproval when nothing is pending, so a second approve
// of the same phase fails. Feedback, when given, is recorded as a user
// message; on revise it is also kept for the regeneration prompt.
func (g *Gate) Handle(ctx context.Context, id string, action workflow.Action, feedback string) (*workflow.Record, error) {
	ctx = logging.WithWorkflowID(ctx, id)
	ctx, span := g.tracer.Start(ctx, "orchestrator.approval", trace.WithAttributes(
		attribute.String("workflow.id", id),
		attribute.String("approval.action", string(action)),
	))
	defer span.End()

	var phase workflow.Phase
	rec, err := g.store.Mutate(ctx, id, func(r *workflow.Record) error {
		if r.PendingApproval != nil {
			phase = *r.PendingApproval
		}
		return workflow.ApplyAction(r, action, feedback, g.now())
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("workflow.phase", string(phase)))
	g.metrics.approval(string(phase), string(action))
	g.metrics.transition(string(rec.Status))
	g.logger.Info(logging.WithPhase(ctx, string(phase)), "approval decision applied",
		zap.String("action", string(action)),
		zap.String("status", string(rec.Status)),
		zap.Bool("has_feedback", feedback != ""))

	g.emit(ctx, EventApproval, rec, string(action))
	if rec.Status == workflow.StatusCancelled {
		g.emit(ctx, EventCancelled, rec, string(action))
	}
	return rec, nil
}

// NeedsRun reports whether a record left by Handle has work for the Driver.
func NeedsRun(rec *workflow.Record) bool {
	return !rec.Status.IsTerminal() && !rec.Status.IsAwaiting()
}
