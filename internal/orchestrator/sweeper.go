package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Mantoine56/spec-bot/internal/logging"
	"github.com/Mantoine56/spec-bot/internal/workflow"
)

// ApprovalTimeoutReason is recorded as LastError on timed-out workflows.
const ApprovalTimeoutReason = "approval timed out"

// Sweeper cancels workflows that wait for approval longer than a timeout.
// The time spent waiting is measured from the record's UpdatedAt.
type Sweeper struct {
	store   workflow.Store
	timeout time.Duration
	settings
}

// NewSweeper creates a Sweeper.
func NewSweeper(store workflow.Store, timeout time.Duration, opts ...Option) *Sweeper {
	return &Sweeper{store: store, timeout: timeout, settings: newSettings(opts)}
}

// Sweep cancels every expired awaiting workflow and returns how many it
// cancelled.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, id := range ids {
		rec, err := s.store.Mutate(ctx, id, func(r *workflow.Record) error {
			if !s.expired(r) {
				return errNotExpired
			}
			workflow.EnterTerminal(r, workflow.StatusCancelled, ApprovalTimeoutReason)
			return nil
		})
		switch {
		case errors.Is(err, errNotExpired), errors.Is(err, workflow.ErrNotFound):
			continue
		case err != nil:
			return cancelled, err
		}

		cancelled++
		wctx := logging.WithWorkflowID(ctx, id)
		s.metrics.transition(string(rec.Status))
		s.logger.Info(wctx, "approval timed out", zap.Duration("timeout", s.timeout))
		s.emit(wctx, EventTimedOut, rec, "")
	}
	return cancelled, nil
}

var errNotExpired = errors.New("not expired")

func (s *Sweeper) expired(r *workflow.Record) bool {
	return r.Status.IsAwaiting() && s.now().Sub(r.UpdatedAt) > s.timeout
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn(ctx, "approval sweep failed", zap.Error(err))
			}
		}
	}
}
