package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Mantoine56/spec-bot/internal/files"
	"github.com/Mantoine56/spec-bot/internal/llm"
	"github.com/Mantoine56/spec-bot/internal/orchestrator"
	"github.com/Mantoine56/spec-bot/internal/render"
	"github.com/Mantoine56/spec-bot/internal/workflow"
)

// stubGenerator stores a canned document for every phase.
type stubGenerator struct {
	store workflow.Store
}

func (g *stubGenerator) Generate(ctx context.Context, id string, phase workflow.Phase) (*workflow.Record, error) {
	return g.store.Mutate(ctx, id, func(r *workflow.Record) error {
		workflow.MarkGenerating(r, phase)
		workflow.EnterAwaiting(r, phase, "## "+string(phase))
		return nil
	})
}

// recordingEnqueuer records jobs without running them.
type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []orchestrator.JobKind
	ids  []string
	err  error
}

func (e *recordingEnqueuer) Enqueue(id string, kind orchestrator.JobKind) (orchestrator.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return orchestrator.Receipt{}, e.err
	}
	e.jobs = append(e.jobs, kind)
	e.ids = append(e.ids, id)
	return orchestrator.Receipt{ID: "receipt-" + string(kind), WorkflowID: id, Kind: kind}, nil
}

type testEnv struct {
	server *Server
	driver *orchestrator.Driver
	runner *recordingEnqueuer
	outDir string
}

func setupTestServer(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	store := workflow.NewMemoryStore()
	renderer, err := render.New()
	require.NoError(t, err)
	outDir := t.TempDir()
	writer, err := files.NewWriter(outDir, t.TempDir())
	require.NoError(t, err)

	driver := orchestrator.NewDriver(store, &stubGenerator{store: store}, renderer, writer,
		orchestrator.WithDefaults(orchestrator.Defaults{Provider: "openai", Model: "gpt-4.1", EnableResearch: true}))
	gate := orchestrator.NewGate(store)
	runner := &recordingEnqueuer{}

	opts = append([]Option{WithGatherer(prometheus.NewRegistry())}, opts...)
	server, err := NewServer(driver, gate, runner, zap.NewNop(), nil, opts...)
	require.NoError(t, err)

	return &testEnv{server: server, driver: driver, runner: runner, outDir: outDir}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	env.server.echo.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) start(t *testing.T) string {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/spec/start", StartRequest{
		FeatureName: "User Login",
		Description: "Email and password login",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp StartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.WorkflowID
}

// generate drives the workflow to its next gate, as the runner would.
func (env *testEnv) generate(t *testing.T, id string) {
	t.Helper()
	_, err := env.driver.Run(context.Background(), id)
	require.NoError(t, err)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	store := workflow.NewMemoryStore()
	driver := orchestrator.NewDriver(store, &stubGenerator{store: store}, nil, nil)
	gate := orchestrator.NewGate(store)

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(driver, gate, &recordingEnqueuer{}, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 8000, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(driver, gate, &recordingEnqueuer{}, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when dependencies are nil", func(t *testing.T) {
		_, err := NewServer(nil, gate, &recordingEnqueuer{}, zap.NewNop(), nil)
		assert.Error(t, err)
		_, err = NewServer(driver, gate, nil, zap.NewNop(), nil)
		assert.Error(t, err)
	})
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t)

	for _, path := range []string{"/health", "/api/spec/health"} {
		rec := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
	}
}

func TestHandleStart(t *testing.T) {
	t.Run("creates workflow and queues first run", func(t *testing.T) {
		env := setupTestServer(t)

		rec := env.do(t, http.MethodPost, "/api/spec/start", StartRequest{
			FeatureName: "User Login",
			Description: "Email and password login",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)

		resp := decode[StartResponse](t, rec)
		assert.NotEmpty(t, resp.WorkflowID)
		assert.Equal(t, workflow.StatusInitializing, resp.Status)
		assert.Equal(t, "receipt-start", resp.ReceiptID)
		assert.Equal(t, "User Login", resp.FeatureName)
		assert.Equal(t, []orchestrator.JobKind{orchestrator.JobStart}, env.runner.jobs)
		assert.Equal(t, []string{resp.WorkflowID}, env.runner.ids)
	})

	tests := []struct {
		name string
		body any
	}{
		{"empty feature name", StartRequest{FeatureName: " ", Description: "d"}},
		{"empty description", StartRequest{FeatureName: "f"}},
		{"unknown provider", StartRequest{FeatureName: "f", Description: "d", LLMProvider: "cohere"}},
		{"malformed body", "not an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t)
			rec := env.do(t, http.MethodPost, "/api/spec/start", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, env.runner.jobs)
		})
	}

	t.Run("rejects provider without credentials", func(t *testing.T) {
		env := setupTestServer(t, WithCredentialCheck(func(provider string) error {
			if provider == "anthropic" {
				return llm.ErrMissingAPIKey
			}
			return nil
		}))
		rec := env.do(t, http.MethodPost, "/api/spec/start", StartRequest{
			FeatureName: "f", Description: "d", LLMProvider: "anthropic",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "api key")
	})

	t.Run("full queue removes the workflow", func(t *testing.T) {
		env := setupTestServer(t)
		env.runner.err = orchestrator.ErrQueueFull

		rec := env.do(t, http.MethodPost, "/api/spec/start", StartRequest{FeatureName: "f", Description: "d"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		list := decode[ListResponse](t, env.do(t, http.MethodGet, "/api/spec/list", nil))
		assert.Zero(t, list.Total)
	})
}

func TestHandleStatus(t *testing.T) {
	env := setupTestServer(t)
	id := env.start(t)

	rec := env.do(t, http.MethodGet, "/api/spec/status/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[StatusResponse](t, rec)
	assert.Equal(t, workflow.StatusInitializing, resp.Status)
	assert.True(t, resp.IsActive)
	assert.False(t, resp.RequirementsCompleted)
	assert.Nil(t, resp.CurrentPhaseContent)

	env.generate(t, id)
	resp = decode[StatusResponse](t, env.do(t, http.MethodGet, "/api/spec/status/"+id, nil))
	assert.Equal(t, workflow.StatusAwaitingRequirementsApproval, resp.Status)
	assert.Equal(t, workflow.PhaseRequirements, resp.CurrentPhase)
	assert.True(t, resp.RequirementsCompleted)
	require.NotNil(t, resp.CurrentPhaseContent)
	assert.Equal(t, "## requirements", *resp.CurrentPhaseContent)
	assert.Equal(t, "pending", resp.CurrentPhaseStatus)
	require.NotNil(t, resp.PendingApproval)
	assert.Equal(t, workflow.PhaseRequirements, *resp.PendingApproval)
	assert.NotNil(t, resp.RecentMessages)

	rec = env.do(t, http.MethodGet, "/api/spec/status/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleApprove(t *testing.T) {
	t.Run("approve queues continuation", func(t *testing.T) {
		env := setupTestServer(t)
		id := env.start(t)
		env.generate(t, id)

		rec := env.do(t, http.MethodPost, "/api/spec/approve", ApprovalRequest{WorkflowID: id, Action: "approve"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := decode[ApprovalResponse](t, rec)
		assert.Equal(t, workflow.ActionApprove, resp.Action)
		assert.Equal(t, workflow.StatusGeneratingDesign, resp.Status)
		assert.Equal(t, workflow.PhaseDesign, resp.CurrentPhase)
		assert.Equal(t, "receipt-continue", resp.ReceiptID)
		assert.Equal(t, []orchestrator.JobKind{orchestrator.JobStart, orchestrator.JobContinue}, env.runner.jobs)
	})

	t.Run("request_revision is an alias for revise", func(t *testing.T) {
		env := setupTestServer(t)
		id := env.start(t)
		env.generate(t, id)

		rec := env.do(t, http.MethodPost, "/api/spec/approve", ApprovalRequest{
			WorkflowID: id, Action: "request_revision", Feedback: "add error cases",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[ApprovalResponse](t, rec)
		assert.Equal(t, workflow.ActionRevise, resp.Action)
		assert.Equal(t, workflow.StatusGeneratingRequirements, resp.Status)
	})

	t.Run("reject does not queue", func(t *testing.T) {
		env := setupTestServer(t)
		id := env.start(t)
		env.generate(t, id)

		rec := env.do(t, http.MethodPost, "/api/spec/approve", ApprovalRequest{WorkflowID: id, Action: "reject"})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[ApprovalResponse](t, rec)
		assert.Equal(t, workflow.StatusCancelled, resp.Status)
		assert.Empty(t, resp.ReceiptID)
		assert.Equal(t, []orchestrator.JobKind{orchestrator.JobStart}, env.runner.jobs)
	})

	t.Run("errors", func(t *testing.T) {
		env := setupTestServer(t)
		id := env.start(t)

		tests := []struct {
			name string
			req  ApprovalRequest
			code int
		}{
			{"unknown workflow", ApprovalRequest{WorkflowID: "missing", Action: "approve"}, http.StatusNotFound},
			{"missing workflow id", ApprovalRequest{Action: "approve"}, http.StatusBadRequest},
			{"invalid action", ApprovalRequest{WorkflowID: id, Action: "escalate"}, http.StatusBadRequest},
			{"nothing pending", ApprovalRequest{WorkflowID: id, Action: "approve"}, http.StatusBadRequest},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := env.do(t, http.MethodPost, "/api/spec/approve", tt.req)
				assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			})
		}
	})

	t.Run("approving twice fails the second call", func(t *testing.T) {
		env := setupTestServer(t)
		id := env.start(t)
		env.generate(t, id)

		rec := env.do(t, http.MethodPost, "/api/spec/approve", ApprovalRequest{WorkflowID: id, Action: "approve"})
		require.Equal(t, http.StatusOK, rec.Code)
		rec = env.do(t, http.MethodPost, "/api/spec/approve", ApprovalRequest{WorkflowID: id, Action: "approve"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleResetAndCancel(t *testing.T) {
	env := setupTestServer(t)
	id := env.start(t)
	env.generate(t, id)

	rec := env.do(t, http.MethodPost, "/api/spec/reset/"+id, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[ActionResponse](t, rec)
	assert.Equal(t, workflow.StatusInitializing, resp.Status)
	assert.Equal(t, "receipt-reset", resp.ReceiptID)

	rec = env.do(t, http.MethodPost, "/api/spec/cancel/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, workflow.StatusCancelled, decode[ActionResponse](t, rec).Status)

	rec = env.do(t, http.MethodPost, "/api/spec/cancel/"+id, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "terminal workflows cannot be cancelled")

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/spec/reset/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/spec/cancel/missing", nil).Code)
}

func TestHandleListAndDelete(t *testing.T) {
	env := setupTestServer(t)
	first := env.start(t)
	second := env.start(t)

	list := decode[ListResponse](t, env.do(t, http.MethodGet, "/api/spec/list", nil))
	assert.Equal(t, 2, list.Total)
	ids := []string{list.Workflows[0].ID, list.Workflows[1].ID}
	assert.ElementsMatch(t, []string{first, second}, ids)

	rec := env.do(t, http.MethodDelete, "/api/spec/"+first, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[DeleteResponse](t, rec).Deleted)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/spec/"+first, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/spec/status/"+first, nil).Code)

	list = decode[ListResponse](t, env.do(t, http.MethodGet, "/api/spec/list", nil))
	assert.Equal(t, 1, list.Total)
}

func TestHandleFiles(t *testing.T) {
	env := setupTestServer(t)
	id := env.start(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/spec/files/"+id, nil).Code)

	for i := 0; i < 3; i++ {
		env.generate(t, id)
		rec := env.do(t, http.MethodPost, "/api/spec/approve", ApprovalRequest{WorkflowID: id, Action: "approve"})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	env.generate(t, id)

	rec := env.do(t, http.MethodGet, "/api/spec/files/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[FilesResponse](t, rec)
	assert.Len(t, resp.Files, 3)
	for name, path := range resp.Files {
		assert.True(t, strings.HasPrefix(path, env.outDir), "%s written under output dir", name)
	}

	status := decode[StatusResponse](t, env.do(t, http.MethodGet, "/api/spec/status/"+id, nil))
	assert.Equal(t, workflow.StatusCompleted, status.Status)
	assert.False(t, status.IsActive)
}

func TestHTTPErrorMapping(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		err  error
		code int
	}{
		{workflow.ErrNotFound, http.StatusNotFound},
		{&workflow.StateError{ID: "x", Op: "cancel", Err: workflow.ErrTerminal}, http.StatusConflict},
		{workflow.ErrNoPendingApproval, http.StatusBadRequest},
		{workflow.ErrInvalidAction, http.StatusBadRequest},
		{orchestrator.ErrInvalidRequest, http.StatusBadRequest},
		{orchestrator.ErrRunnerStopped, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			c := env.server.echo.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
			err := env.server.httpError(c, tt.err)

			var he *echo.HTTPError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, tt.code, he.Code)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	orchestrator.NewMetrics(reg).Transitions.WithLabelValues("completed").Inc()
	env := setupTestServer(t, WithGatherer(reg))

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "specbot_workflow_transitions_total")
}

func TestCORS(t *testing.T) {
	store := workflow.NewMemoryStore()
	driver := orchestrator.NewDriver(store, &stubGenerator{store: store}, nil, nil)
	server, err := NewServer(driver, orchestrator.NewGate(store), &recordingEnqueuer{}, zap.NewNop(), &Config{
		Host:        "localhost",
		Port:        8000,
		CORSOrigins: []string{"http://localhost:3000"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/api/spec/list", nil)
	req.Header.Set(echo.HeaderOrigin, "http://localhost:3000")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodGet)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestServerStartShutdown(t *testing.T) {
	env := setupTestServer(t)
	env.server.config.Port = 0

	errCh := make(chan error, 1)
	go func() {
		errCh <- env.server.Start()
	}()

	require.Eventually(t, func() bool {
		return env.server.echo.ListenerAddr() != nil
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, env.server.Shutdown(context.Background()))
	assert.NoError(t, <-errCh)
}
