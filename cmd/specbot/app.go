package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Mantoine56/spec-bot/internal/config"
	"github.com/Mantoine56/spec-bot/internal/files"
	"github.com/Mantoine56/spec-bot/internal/generation"
	httpapi "github.com/Mantoine56/spec-bot/internal/http"
	"github.com/Mantoine56/spec-bot/internal/llm"
	"github.com/Mantoine56/spec-bot/internal/logging"
	"github.com/Mantoine56/spec-bot/internal/orchestrator"
	"github.com/Mantoine56/spec-bot/internal/render"
	"github.com/Mantoine56/spec-bot/internal/secrets"
	"github.com/Mantoine56/spec-bot/internal/workflow"
)

// app holds the wired workflow services shared by the HTTP and MCP modes.
type app struct {
	cfg    *config.Config
	logger *logging.Logger

	store    workflow.Store
	registry *llm.Registry
	redactor *secrets.Redactor
	driver   *orchestrator.Driver
	gate     *orchestrator.Gate
	runner   *orchestrator.Runner
	sweeper  *orchestrator.Sweeper
	http     *httpapi.Server

	natsConn *nats.Conn
	cancel   context.CancelFunc
}

// newApp builds every service from cfg. Orchestrator metrics register with
// reg and /metrics serves gatherer.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*app, error) {
	redactor, err := secrets.NewFromConfig(cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret redactor: %w", err)
	}

	renderer, err := render.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load document templates: %w", err)
	}

	writer, err := files.NewFromConfig(cfg.Files, files.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare output directories: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    workflow.NewMemoryStore(),
		registry: llm.NewRegistry(llm.ConfigFrom(cfg.LLM)),
		redactor: redactor,
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(orchestrator.NewMetrics(reg)),
		orchestrator.WithRedactor(redactor),
		orchestrator.WithMaxRetries(cfg.Workflow.MaxRetries),
		orchestrator.WithDefaults(orchestrator.Defaults{
			Provider:       cfg.LLM.Provider,
			Model:          cfg.LLM.Model,
			EnableResearch: cfg.Workflow.EnableResearch,
		}),
	}

	if cfg.NATS.Enabled {
		nc, err := orchestrator.ConnectNATS(cfg.NATS)
		if err != nil {
			// Events are best effort; the workflow runs without them.
			logger.Warn(ctx, "NATS unavailable, workflow events disabled",
				zap.String("url", cfg.NATS.URL), zap.Error(err))
		} else {
			a.natsConn = nc
			opts = append(opts, orchestrator.WithPublisher(orchestrator.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix)))
			logger.Info(ctx, "connected to NATS", zap.String("url", cfg.NATS.URL))
		}
	}

	coordinator := generation.New(a.store, a.registry,
		generation.WithRedactor(redactor),
		generation.WithLLMOptions(llm.Options{
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		}),
		generation.WithLogger(logger),
	)

	a.driver = orchestrator.NewDriver(a.store, coordinator, renderer, writer, opts...)
	a.gate = orchestrator.NewGate(a.store, opts...)
	a.runner = orchestrator.NewRunner(a.driver, cfg.Workflow.Workers, cfg.Workflow.QueueSize, opts...)

	bgCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if cfg.Secrets.WatchAllowlist {
		if err := redactor.WatchAllowlist(bgCtx, cfg.Secrets.AllowlistPath, logger, nil); err != nil {
			logger.Warn(ctx, "allowlist changes will not be picked up", zap.Error(err))
		}
	}
	if cfg.Workflow.EnforceApprovalTimeout {
		a.sweeper = orchestrator.NewSweeper(a.store, cfg.Workflow.ApprovalTimeout.Duration(), opts...)
		go a.sweeper.Run(bgCtx, cfg.Workflow.SweepInterval.Duration())
		logger.Info(ctx, "approval timeout enforced",
			zap.Duration("timeout", cfg.Workflow.ApprovalTimeout.Duration()),
			zap.Duration("interval", cfg.Workflow.SweepInterval.Duration()))
	}

	a.http, err = httpapi.NewServer(a.driver, a.gate, a.runner, logger.Underlying(),
		&httpapi.Config{
			Host:        cfg.Server.Host,
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.Origins(),
		},
		httpapi.WithCredentialCheck(a.registry.CheckCredentials),
		httpapi.WithGatherer(gatherer),
		httpapi.WithHTTPMetrics(httpapi.NewHTTPMetrics(logger.Underlying())),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create HTTP server: %w", err)
	}

	logger.Info(ctx, "services initialized",
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Int("workers", cfg.Workflow.Workers),
		zap.Bool("nats_connected", a.natsConn != nil),
		zap.Bool("secret_redaction", cfg.Secrets.Enabled))

	return a, nil
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down within
// the configured timeout.
func (a *app) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.http.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	a.logger.Info(ctx, "server shutdown complete")
	return nil
}

// Close stops background work and releases connections. Queued runs get
// the shutdown timeout to finish.
func (a *app) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.runner != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := a.runner.Stop(ctx); err != nil {
			a.logger.Warn(ctx, "runner did not drain before shutdown", zap.Error(err))
		}
	}
	if a.natsConn != nil {
		a.natsConn.Close()
	}
}
