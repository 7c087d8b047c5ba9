// Package http provides the HTTP API for spec-bot.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Mantoine56/spec-bot/internal/logging"
	"github.com/Mantoine56/spec-bot/internal/orchestrator"
	"github.com/Mantoine56/spec-bot/internal/workflow"
)

// Workflows is the workflow lifecycle the API exposes.
type Workflows interface {
	Start(ctx context.Context, req orchestrator.StartRequest) (*workflow.Record, error)
	Status(ctx context.Context, id string) (*workflow.Record, error)
	List(ctx context.Context) ([]orchestrator.Summary, error)
	Reset(ctx context.Context, id string) (*workflow.Record, error)
	Cancel(ctx context.Context, id string) (*workflow.Record, error)
	Delete(ctx context.Context, id string) error
}

// Approver applies approval decisions.
type Approver interface {
	Handle(ctx context.Context, id string, action workflow.Action, feedback string) (*workflow.Record, error)
}

// Enqueuer hands workflow runs to the background runner.
type Enqueuer interface {
	Enqueue(workflowID string, kind orchestrator.JobKind) (orchestrator.Receipt, error)
}

// Server provides HTTP endpoints for spec-bot.
type Server struct {
	echo      *echo.Echo
	workflows Workflows
	approver  Approver
	runner    Enqueuer
	logger    *zap.Logger
	config    *Config

	checkCredentials func(provider string) error
	gatherer         prometheus.Gatherer
	metrics          *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigins []string
}

// Option configures a Server.
type Option func(*Server)

// WithCredentialCheck rejects start requests whose provider has no usable
// credentials.
func WithCredentialCheck(fn func(provider string) error) Option {
	return func(s *Server) {
		s.checkCredentials = fn
	}
}

// WithGatherer serves g at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithHTTPMetrics records OpenTelemetry request metrics.
func WithHTTPMetrics(m *HTTPMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer creates a new HTTP server.
func NewServer(workflows Workflows, approver Approver, runner Enqueuer, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if workflows == nil || approver == nil || runner == nil {
		return nil, fmt.Errorf("workflows, approver and runner are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8000,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		workflows: workflows,
		approver:  approver,
		runner:    runner,
		logger:    logger,
		config:    cfg,
		gatherer:  prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if len(cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     cfg.CORSOrigins,
			AllowCredentials: true,
		}))
	}
	if s.metrics != nil {
		e.Use(s.metrics.Middleware())
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			err := next(c)
			if err != nil {
				// Let echo write the response so the logged status is final.
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)

			return nil
		}
	})

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := s.echo.Group("/api/spec")
	api.GET("/health", s.handleHealth)
	api.POST("/start", s.handleStart)
	api.GET("/status/:id", s.handleStatus)
	api.POST("/approve", s.handleApprove)
	api.POST("/reset/:id", s.handleReset)
	api.POST("/cancel/:id", s.handleCancel)
	api.GET("/list", s.handleList)
	api.GET("/files/:id", s.handleFiles)
	api.DELETE("/:id", s.handleDelete)
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
