package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Mantoine56/spec-bot/internal/logging"
	"github.com/Mantoine56/spec-bot/internal/workflow"
)

// JobKind labels why a run was requested.
type JobKind string

const (
	JobStart    JobKind = "start"
	JobContinue JobKind = "continue"
	JobReset    JobKind = "reset"
)

// Receipt acknowledges an enqueued job.
type Receipt struct {
	ID         string    `json:"receipt_id"`
	WorkflowID string    `json:"workflow_id"`
	Kind       JobKind   `json:"kind"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Runnable advances one workflow. *Driver implements it.
type Runnable interface {
	Run(ctx context.Context, id string) (*workflow.Record, error)
}

type job struct {
	receipt Receipt
}

// activeRun tracks a workflow whose loop is executing. again is set when
// another job for it arrives meanwhile.
type activeRun struct {
	again bool
}

// Runner executes Driver loops on a fixed pool of workers.
type Runner struct {
	driver Runnable
	jobs   chan job
	settings

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	active  map[string]*activeRun
}

// NewRunner starts workers goroutines consuming a queue of queueSize jobs.
func NewRunner(driver Runnable, workers, queueSize int, opts ...Option) *Runner {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		driver:   driver,
		jobs:     make(chan job, queueSize),
		settings: newSettings(opts),
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[string]*activeRun),
	}
	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.worker()
	}
	return r
}

// Enqueue schedules a Driver run for workflowID and returns immediately.
func (r *Runner) Enqueue(workflowID string, kind JobKind) (Receipt, error) {
	receipt := Receipt{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Kind:       kind,
		EnqueuedAt: r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return Receipt{}, ErrRunnerStopped
	}
	select {
	case r.jobs <- job{receipt: receipt}:
		r.metrics.queue(1)
		return receipt, nil
	default:
		r.metrics.job(string(kind), "rejected")
		return Receipt{}, ErrQueueFull
	}
}

// Stop rejects new jobs, lets queued jobs finish and waits for the workers.
// If ctx ends first, running loops are cancelled and ctx's error returned.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.jobs)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for j := range r.jobs {
		r.metrics.queue(-1)
		r.execute(j.receipt)
	}
}

// execute runs the loop for one job unless a loop for the same workflow is
// already executing, in which case that loop runs once more when done.
func (r *Runner) execute(receipt Receipt) {
	id := receipt.WorkflowID

	r.mu.Lock()
	if run, busy := r.active[id]; busy {
		run.again = true
		r.mu.Unlock()
		r.metrics.job(string(receipt.Kind), "coalesced")
		return
	}
	run := &activeRun{}
	r.active[id] = run
	r.mu.Unlock()

	for {
		r.runOnce(receipt)

		r.mu.Lock()
		if run.again {
			run.again = false
			r.mu.Unlock()
			continue
		}
		delete(r.active, id)
		r.mu.Unlock()
		return
	}
}

func (r *Runner) runOnce(receipt Receipt) {
	ctx := logging.WithWorkflowID(r.ctx, receipt.WorkflowID)
	ctx = logging.WithRequestID(ctx, receipt.ID)

	defer func() {
		if p := recover(); p != nil {
			r.metrics.job(string(receipt.Kind), "panic")
			r.logger.Error(ctx, "workflow run panicked", zap.Any("panic", p))
		}
	}()

	rec, err := r.driver.Run(ctx, receipt.WorkflowID)
	switch {
	case err == nil:
		r.metrics.job(string(receipt.Kind), "ok")
		r.logger.Debug(ctx, "workflow run finished",
			zap.String("kind", string(receipt.Kind)),
			zap.String("status", string(rec.Status)))
	case errors.Is(err, workflow.ErrNotFound):
		r.metrics.job(string(receipt.Kind), "not_found")
		r.logger.Info(ctx, "workflow run skipped", zap.Error(err))
	case errors.Is(err, context.Canceled):
		r.metrics.job(string(receipt.Kind), "cancelled")
	default:
		r.metrics.job(string(receipt.Kind), "error")
		r.logger.Error(ctx, "workflow run failed", zap.Error(err))
	}
}

// Active reports whether a loop for workflowID is executing.
func (r *Runner) Active(workflowID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[workflowID]
	return ok
}
