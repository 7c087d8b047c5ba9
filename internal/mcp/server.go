package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Mantoine56/spec-bot/internal/orchestrator"
	"github.com/Mantoine56/spec-bot/internal/secrets"
	"github.com/Mantoine56/spec-bot/internal/workflow"
)

// Workflows is the workflow lifecycle the tools expose.
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

// Server is an MCP server over spec generation workflows.
type Server struct {
	mcp       *mcp.Server
	workflows Workflows
	approver  Approver
	runner    Enqueuer
	redactor  *secrets.Redactor
	metrics   *Metrics
	logger    *zap.Logger

	checkCredentials func(provider string) error
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "spec-bot")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// Redactor scrubs document content in tool output. Nil disables it.
	Redactor *secrets.Redactor

	// CheckCredentials, when set, rejects spec_start for providers without
	// usable credentials.
	CheckCredentials func(provider string) error
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "spec-bot",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a new MCP server over the given workflow services.
func NewServer(cfg *Config, workflows Workflows, approver Approver, runner Enqueuer) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if workflows == nil {
		return nil, fmt.Errorf("workflow service is required")
	}
	if approver == nil {
		return nil, fmt.Errorf("approver is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:              mcpServer,
		workflows:        workflows,
		approver:         approver,
		runner:           runner,
		redactor:         cfg.Redactor,
		metrics:          NewMetrics(cfg.Logger),
		logger:           cfg.Logger,
		checkCredentials: cfg.CheckCredentials,
	}

	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
