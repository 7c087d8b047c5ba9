package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/Mantoine56/spec-bot/internal/files"
	"github.com/Mantoine56/spec-bot/internal/generation"
	"github.com/Mantoine56/spec-bot/internal/logging"
	"github.com/Mantoine56/spec-bot/internal/render"
	"github.com/Mantoine56/spec-bot/internal/workflow"
)

// fakeGenerator stands in for the coordinator, writing through the store.
type fakeGenerator struct {
	store workflow.Store
	err   error

	mu       sync.Mutex
	calls    []workflow.Phase
	feedback []string
}

func (g *fakeGenerator) Generate(ctx context.Context, id string, phase workflow.Phase) (*workflow.Record, error) {
	g.mu.Lock()
	g.calls = append(g.calls, phase)
	g.mu.Unlock()

	if g.err != nil {
		rec, err := g.store.Mutate(ctx, id, func(r *workflow.Record) error {
			workflow.MarkGenerating(r, phase)
			workflow.RecordFailure(r, g.err)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return rec, &generation.GenerationError{WorkflowID: id, Phase: phase, RetryCount: rec.RetryCount, Err: g.err}
	}

	return g.store.Mutate(ctx, id, func(r *workflow.Record) error {
		workflow.MarkGenerating(r, phase)
		if r.UserFeedback != nil {
			g.mu.Lock()
			g.feedback = append(g.feedback, *r.UserFeedback)
			g.mu.Unlock()
		}
		workflow.EnterAwaiting(r, phase, "## "+string(phase)+" document")
		return nil
	})
}

func (g *fakeGenerator) phases() []workflow.Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]workflow.Phase(nil), g.calls...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type failingWriter struct{}

func (failingWriter) WriteSpecification(context.Context, string, string, map[string]string) (map[string]string, error) {
	return nil, errors.New("disk full")
}

type harness struct {
	store   *workflow.MemoryStore
	gen     *fakeGenerator
	events  *recordingPublisher
	metrics *Metrics
	logger  *logging.TestLogger
	outDir  string
	driver  *Driver
	gate    *Gate
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	store := workflow.NewMemoryStore()
	renderer, err := render.New()
	require.NoError(t, err)
	outDir := t.TempDir()
	writer, err := files.NewWriter(outDir, t.TempDir())
	require.NoError(t, err)

	h := &harness{
		store:   store,
		gen:     &fakeGenerator{store: store},
		events:  &recordingPublisher{},
		metrics: NewMetrics(prometheus.NewRegistry()),
		logger:  logging.NewTestLogger(),
		outDir:  outDir,
	}
	base := []Option{
		WithPublisher(h.events),
		WithMetrics(h.metrics),
		WithLogger(h.logger.Logger),
		WithDefaults(Defaults{Provider: "openai", Model: "gpt-4.1", EnableResearch: true}),
	}
	opts = append(base, opts...)
	h.driver = NewDriver(store, h.gen, renderer, writer, opts...)
	h.gate = NewGate(store, opts...)
	return h
}

func (h *harness) start(t *testing.T) *workflow.Record {
	t.Helper()
	rec, err := h.driver.Start(context.Background(), StartRequest{
		FeatureName: "User Login",
		Description: "Email and password login",
	})
	require.NoError(t, err)
	return rec
}

func TestDriver_Start(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := h.start(t)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, workflow.StatusInitializing, rec.Status)
	assert.Equal(t, workflow.PhaseRequirements, rec.Phase)
	assert.Equal(t, "openai", rec.LLMProvider)
	assert.Equal(t, "gpt-4.1", rec.ModelName)
	assert.True(t, rec.ResearchEnabled)
	assert.Equal(t, []EventType{EventStarted}, h.events.types())

	research := false
	other, err := h.driver.Start(ctx, StartRequest{
		FeatureName:    "Search",
		Description:    "Full text search",
		LLMProvider:    "anthropic",
		EnableResearch: &research,
	})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", other.ModelName)
	assert.False(t, other.ResearchEnabled)
	assert.NotEqual(t, rec.ID, other.ID)

	tests := []struct {
		name string
		req  StartRequest
	}{
		{"empty name", StartRequest{FeatureName: "  ", Description: "d"}},
		{"empty description", StartRequest{FeatureName: "n", Description: ""}},
		{"unknown provider", StartRequest{FeatureName: "n", Description: "d", LLMProvider: "cohere"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.driver.Start(ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestDriver_FullWorkflow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.start(t).ID

	rec, err := h.driver.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusAwaitingRequirementsApproval, rec.Status)

	// Running again while awaiting is a no-op.
	rec, err = h.driver.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusAwaitingRequirementsApproval, rec.Status)
	assert.Len(t, h.gen.phases(), 1)

	steps := []struct {
		want workflow.Status
	}{
		{workflow.StatusAwaitingDesignApproval},
		{workflow.StatusAwaitingTasksApproval},
		{workflow.StatusCompleted},
	}
	for _, step := range steps {
		rec, err = h.gate.Handle(ctx, id, workflow.ActionApprove, "")
		require.NoError(t, err)
		assert.True(t, NeedsRun(rec))

		rec, err = h.driver.Run(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, step.want, rec.Status)
	}

	assert.Equal(t, []workflow.Phase{workflow.PhaseRequirements, workflow.PhaseDesign, workflow.PhaseTasks}, h.gen.phases())
	assert.Equal(t, workflow.PhaseCompleted, rec.Phase)
	assert.True(t, rec.AllApproved())
	require.Len(t, rec.GeneratedFiles, 3)
	require.Len(t, rec.WrittenFilePaths, 3)

	for name, path := range rec.WrittenFilePaths {
		data, err := os.ReadFile(path)
		require.NoError(t, err, name)
		assert.Equal(t, rec.GeneratedFiles[name], string(data))
	}
	design, ok := render.ExtractPhase(rec.GeneratedFiles[render.DesignDoc], "design")
	require.True(t, ok)
	assert.Equal(t, "## design document", design)
	assert.DirExists(t, filepath.Join(h.outDir, "user_login"))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Transitions.WithLabelValues("completed")))
	for _, phase := range []string{"requirements", "design", "tasks"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Approvals.WithLabelValues(phase, "approve")), phase)
	}
	assert.Contains(t, h.events.types(), EventCompleted)

	// A completed workflow stays completed.
	again, err := h.driver.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, again.Status)
	assert.Len(t, h.gen.phases(), 3)
}

func TestDriver_ReviseRegeneratesWithFeedback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.start(t).ID

	_, err := h.driver.Run(ctx, id)
	require.NoError(t, err)

	rec, err := h.gate.Handle(ctx, id, workflow.ActionRevise, "add MFA")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusGeneratingRequirements, rec.Status)
	assert.False(t, rec.RequirementsApproved)

	rec, err = h.driver.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusAwaitingRequirementsApproval, rec.Status)
	assert.Equal(t, []string{"add MFA"}, h.gen.feedback)
	assert.Nil(t, rec.UserFeedback)
}

func TestDriver_RetryExhaustionFails(t *testing.T) {
	h := newHarness(t, WithMaxRetries(2))
	h.gen.err = errors.New("provider unavailable")
	ctx := context.Background()
	id := h.start(t).ID

	rec, err := h.driver.Run(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusFailed, rec.Status)
	assert.Len(t, h.gen.phases(), 3, "max retries 2 allows three attempts")
	require.NotNil(t, rec.LastError)
	assert.Contains(t, *rec.LastError, "requirements generation failed after 3 attempts: provider unavailable")
	assert.Zero(t, rec.RetryCount)

	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.GenerationRetries.WithLabelValues("requirements")))
	assert.Contains(t, h.events.types(), EventFailed)
	h.logger.AssertLogged(t, zapcore.ErrorLevel, "workflow failed")
}

func TestDriver_FinalizeWriteFailure(t *testing.T) {
	store := workflow.NewMemoryStore()
	gen := &fakeGenerator{store: store}
	renderer, err := render.New()
	require.NoError(t, err)
	events := &recordingPublisher{}
	driver := NewDriver(store, gen, renderer, failingWriter{}, WithPublisher(events))
	gate := NewGate(store)
	ctx := context.Background()

	rec, err := driver.Start(ctx, StartRequest{FeatureName: "x", Description: "y"})
	require.NoError(t, err)
	id := rec.ID

	_, err = driver.Run(ctx, id)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = gate.Handle(ctx, id, workflow.ActionApprove, "")
		require.NoError(t, err)
		rec, err = driver.Run(ctx, id)
		require.NoError(t, err)
	}

	assert.Equal(t, workflow.StatusFailed, rec.Status)
	require.NotNil(t, rec.LastError)
	assert.Contains(t, *rec.LastError, "write final documents: disk full")
	assert.Empty(t, rec.WrittenFilePaths)
	assert.Contains(t, events.types(), EventFailed)
}

func TestDriver_Cancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.start(t).ID

	rec, err := h.driver.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCancelled, rec.Status)
	require.NotNil(t, rec.LastUserAction)
	assert.Equal(t, workflow.ActionCancel, *rec.LastUserAction)

	_, err = h.driver.Cancel(ctx, id)
	assert.ErrorIs(t, err, workflow.ErrTerminal)

	_, err = h.driver.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, workflow.ErrNotFound)

	rec, err = h.driver.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCancelled, rec.Status)
	assert.Empty(t, h.gen.phases())
}

func TestDriver_ResetRestartsFromRequirements(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.start(t).ID

	_, err := h.driver.Run(ctx, id)
	require.NoError(t, err)
	_, err = h.gate.Handle(ctx, id, workflow.ActionApprove, "looks good")
	require.NoError(t, err)

	rec, err := h.driver.Reset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusInitializing, rec.Status)
	assert.False(t, rec.RequirementsApproved)
	assert.Nil(t, rec.RequirementsContent)
	assert.NotEmpty(t, rec.ConversationHistory, "history survives reset")

	rec, err = h.driver.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusAwaitingRequirementsApproval, rec.Status)
	assert.Contains(t, h.events.types(), EventReset)
}

func TestDriver_DeleteStatusList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.start(t)
	second := h.start(t)

	list, err := h.driver.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	ids := []string{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
	assert.Equal(t, "User Login", list[0].FeatureName)

	require.NoError(t, h.driver.Delete(ctx, first.ID))
	assert.ErrorIs(t, h.driver.Delete(ctx, first.ID), workflow.ErrNotFound)

	_, err = h.driver.Status(ctx, first.ID)
	assert.ErrorIs(t, err, workflow.ErrNotFound)

	rec, err := h.driver.Status(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, rec.ID)

	list, err = h.driver.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Contains(t, h.events.types(), EventDeleted)
}

func TestDriver_PublishFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.events.err = errors.New("nats down")

	rec := h.start(t)
	rec, err := h.driver.Run(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusAwaitingRequirementsApproval, rec.Status)
	h.logger.AssertLogged(t, zapcore.WarnLevel, "failed to publish workflow event")
}

func TestDriver_RunHonorsContext(t *testing.T) {
	h := newHarness(t)
	id := h.start(t).ID
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.driver.Run(ctx, id)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.gen.phases())
}
