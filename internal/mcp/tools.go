package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Mantoine56/spec-bot/internal/orchestrator"
	"github.com/Mantoine56/spec-bot/internal/workflow"
)

var errInvalidInput = errors.New("invalid input")

// toolFunc is the body of a tool: it returns the text summary shown to the
// client alongside the structured output.
type toolFunc[In, Out any] func(ctx context.Context, args In) (string, Out, error)

// instrument wraps a tool body with metrics and error logging.
func instrument[In, Out any](s *Server, name string, fn toolFunc[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		done := s.metrics.begin(ctx, name)
		text, out, err := fn(ctx, args)
		done(err)

		if err != nil {
			s.logger.Warn("tool call failed", zap.String("tool", name), zap.Error(err))
			var zero Out
			return nil, zero, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, out, nil
	}
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "spec_start",
		Description: "Start generating a requirements, design and tasks specification for a feature. Generation runs in the background; poll spec_status for progress.",
	}, instrument(s, "spec_start", s.start))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "spec_status",
		Description: "Get the status of a specification workflow, including the document awaiting approval.",
	}, instrument(s, "spec_status", s.status))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "spec_approve",
		Description: "Approve, revise or reject the document awaiting approval. Revise regenerates the document using the feedback.",
	}, instrument(s, "spec_approve", s.approve))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "spec_reset",
		Description: "Discard all generated documents and restart the workflow from requirements.",
	}, instrument(s, "spec_reset", s.reset))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "spec_cancel",
		Description: "Cancel a workflow that has not finished.",
	}, instrument(s, "spec_cancel", s.cancel))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "spec_list",
		Description: "List all specification workflows.",
	}, instrument(s, "spec_list", s.list))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "spec_delete",
		Description: "Delete a specification workflow. Written documents stay on disk.",
	}, instrument(s, "spec_delete", s.delete))
}

// ===== START =====

type startInput struct {
	FeatureName    string `json:"feature_name" jsonschema:"Short name of the feature"`
	Description    string `json:"description" jsonschema:"What the feature should do"`
	LLMProvider    string `json:"llm_provider,omitempty" jsonschema:"Model provider: openai, anthropic or ollama"`
	ModelName      string `json:"model_name,omitempty" jsonschema:"Model name; defaults per provider"`
	EnableResearch *bool  `json:"enable_research,omitempty" jsonschema:"Record that research was requested"`
}

type startOutput struct {
	WorkflowID string `json:"workflow_id" jsonschema:"Workflow ID"`
	Status     string `json:"status" jsonschema:"Workflow status"`
	ReceiptID  string `json:"receipt_id" jsonschema:"ID of the queued run"`
}

func (s *Server) start(ctx context.Context, args startInput) (string, startOutput, error) {
	if strings.TrimSpace(args.FeatureName) == "" {
		return "", startOutput{}, fmt.Errorf("%w: feature_name is required", errInvalidInput)
	}
	if strings.TrimSpace(args.Description) == "" {
		return "", startOutput{}, fmt.Errorf("%w: description is required", errInvalidInput)
	}
	if s.checkCredentials != nil {
		if err := s.checkCredentials(args.LLMProvider); err != nil {
			return "", startOutput{}, err
		}
	}

	rec, err := s.workflows.Start(ctx, orchestrator.StartRequest{
		FeatureName:    args.FeatureName,
		Description:    args.Description,
		LLMProvider:    args.LLMProvider,
		ModelName:      args.ModelName,
		EnableResearch: args.EnableResearch,
	})
	if err != nil {
		return "", startOutput{}, fmt.Errorf("start workflow: %w", err)
	}

	receipt, err := s.runner.Enqueue(rec.ID, orchestrator.JobStart)
	if err != nil {
		if derr := s.workflows.Delete(ctx, rec.ID); derr != nil {
			s.logger.Warn("failed to remove unqueued workflow",
				zap.String("workflow_id", rec.ID), zap.Error(derr))
		}
		return "", startOutput{}, fmt.Errorf("queue workflow: %w", err)
	}

	out := startOutput{WorkflowID: rec.ID, Status: string(rec.Status), ReceiptID: receipt.ID}
	return fmt.Sprintf("Workflow %s started for %q", rec.ID, rec.FeatureName), out, nil
}

// ===== STATUS =====

type workflowInput struct {
	WorkflowID string `json:"workflow_id" jsonschema:"Workflow ID"`
}

func (in workflowInput) id() (string, error) {
	id := strings.TrimSpace(in.WorkflowID)
	if id == "" {
		return "", fmt.Errorf("%w: workflow_id is required", errInvalidInput)
	}
	return id, nil
}

type statusOutput struct {
	WorkflowID      string            `json:"workflow_id" jsonschema:"Workflow ID"`
	FeatureName     string            `json:"feature_name" jsonschema:"Feature name"`
	Status          string            `json:"status" jsonschema:"Workflow status"`
	CurrentPhase    string            `json:"current_phase" jsonschema:"Current phase"`
	PendingApproval string            `json:"pending_approval,omitempty" jsonschema:"Phase awaiting a decision"`
	Content         string            `json:"content,omitempty" jsonschema:"Document of the current phase"`
	RetryCount      int               `json:"retry_count" jsonschema:"Failed attempts for the current phase"`
	LastError       string            `json:"last_error,omitempty" jsonschema:"Most recent error"`
	FilePaths       map[string]string `json:"file_paths,omitempty" jsonschema:"Written documents by file name"`
	UpdatedAt       string            `json:"updated_at" jsonschema:"Last update, RFC 3339"`
}

func (s *Server) status(ctx context.Context, args workflowInput) (string, statusOutput, error) {
	id, err := args.id()
	if err != nil {
		return "", statusOutput{}, err
	}
	rec, err := s.workflows.Status(ctx, id)
	if err != nil {
		return "", statusOutput{}, err
	}

	out := statusOutput{
		WorkflowID:   rec.ID,
		FeatureName:  rec.FeatureName,
		Status:       string(rec.Status),
		CurrentPhase: string(rec.Phase),
		RetryCount:   rec.RetryCount,
		FilePaths:    rec.WrittenFilePaths,
		UpdatedAt:    rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if rec.PendingApproval != nil {
		out.PendingApproval = string(*rec.PendingApproval)
	}
	if c := rec.Content(rec.Phase); c != nil {
		res := s.redactor.Redact(*c)
		out.Content = res.Content
		s.metrics.redacted(ctx, len(res.Findings))
	}
	if rec.LastError != nil {
		out.LastError = *rec.LastError
	}

	text := fmt.Sprintf("Workflow %s is %s (phase %s)", rec.ID, rec.Status, rec.Phase)
	if out.PendingApproval != "" {
		text += fmt.Sprintf("\n\n%s document awaiting approval:\n\n%s", out.PendingApproval, out.Content)
	}
	return text, out, nil
}

// ===== APPROVE =====

type approveInput struct {
	WorkflowID string `json:"workflow_id" jsonschema:"Workflow ID"`
	Action     string `json:"action" jsonschema:"approve, revise or reject"`
	Feedback   string `json:"feedback,omitempty" jsonschema:"Guidance for the next generation"`
}

type actionOutput struct {
	WorkflowID   string `json:"workflow_id" jsonschema:"Workflow ID"`
	Status       string `json:"status" jsonschema:"Workflow status after the action"`
	CurrentPhase string `json:"current_phase" jsonschema:"Phase after the action"`
	ReceiptID    string `json:"receipt_id,omitempty" jsonschema:"ID of the queued run, if any"`
}

func (s *Server) approve(ctx context.Context, args approveInput) (string, actionOutput, error) {
	id, err := workflowInput{WorkflowID: args.WorkflowID}.id()
	if err != nil {
		return "", actionOutput{}, err
	}
	action, err := workflow.ParseAction(args.Action)
	if err != nil {
		return "", actionOutput{}, fmt.Errorf("%w: %q", err, args.Action)
	}

	rec, err := s.approver.Handle(ctx, id, action, args.Feedback)
	if err != nil {
		return "", actionOutput{}, err
	}
	s.metrics.decision(ctx, action)

	out := actionOutput{WorkflowID: rec.ID, Status: string(rec.Status), CurrentPhase: string(rec.Phase)}
	if orchestrator.NeedsRun(rec) {
		receipt, err := s.runner.Enqueue(rec.ID, orchestrator.JobContinue)
		if err != nil {
			return "", actionOutput{}, fmt.Errorf("queue continuation: %w", err)
		}
		out.ReceiptID = receipt.ID
	}
	return fmt.Sprintf("Workflow %s: %s applied, now %s", rec.ID, action, rec.Status), out, nil
}

// ===== RESET / CANCEL =====

func (s *Server) reset(ctx context.Context, args workflowInput) (string, actionOutput, error) {
	id, err := args.id()
	if err != nil {
		return "", actionOutput{}, err
	}
	rec, err := s.workflows.Reset(ctx, id)
	if err != nil {
		return "", actionOutput{}, err
	}
	receipt, err := s.runner.Enqueue(rec.ID, orchestrator.JobReset)
	if err != nil {
		return "", actionOutput{}, fmt.Errorf("queue reset: %w", err)
	}
	out := actionOutput{
		WorkflowID:   rec.ID,
		Status:       string(rec.Status),
		CurrentPhase: string(rec.Phase),
		ReceiptID:    receipt.ID,
	}
	return fmt.Sprintf("Workflow %s reset", rec.ID), out, nil
}

func (s *Server) cancel(ctx context.Context, args workflowInput) (string, actionOutput, error) {
	id, err := args.id()
	if err != nil {
		return "", actionOutput{}, err
	}
	rec, err := s.workflows.Cancel(ctx, id)
	if err != nil {
		return "", actionOutput{}, err
	}
	out := actionOutput{WorkflowID: rec.ID, Status: string(rec.Status), CurrentPhase: string(rec.Phase)}
	return fmt.Sprintf("Workflow %s cancelled", rec.ID), out, nil
}

// ===== LIST / DELETE =====

type listInput struct{}

type summary struct {
	WorkflowID   string `json:"workflow_id" jsonschema:"Workflow ID"`
	FeatureName  string `json:"feature_name" jsonschema:"Feature name"`
	Status       string `json:"status" jsonschema:"Workflow status"`
	CurrentPhase string `json:"current_phase" jsonschema:"Current phase"`
	UpdatedAt    string `json:"updated_at" jsonschema:"Last update, RFC 3339"`
}

type listOutput struct {
	Workflows []summary `json:"workflows" jsonschema:"Workflow summaries"`
	Total     int       `json:"total" jsonschema:"Number of workflows"`
}

func (s *Server) list(ctx context.Context, _ listInput) (string, listOutput, error) {
	summaries, err := s.workflows.List(ctx)
	if err != nil {
		return "", listOutput{}, err
	}

	out := listOutput{Workflows: make([]summary, 0, len(summaries)), Total: len(summaries)}
	var b strings.Builder
	fmt.Fprintf(&b, "%d workflow(s)", len(summaries))
	for _, sm := range summaries {
		out.Workflows = append(out.Workflows, summary{
			WorkflowID:   sm.ID,
			FeatureName:  sm.FeatureName,
			Status:       string(sm.Status),
			CurrentPhase: string(sm.Phase),
			UpdatedAt:    sm.UpdatedAt.UTC().Format(time.RFC3339),
		})
		fmt.Fprintf(&b, "\n- %s %q: %s", sm.ID, sm.FeatureName, sm.Status)
	}
	return b.String(), out, nil
}

type deleteOutput struct {
	WorkflowID string `json:"workflow_id" jsonschema:"Workflow ID"`
	Deleted    bool   `json:"deleted" jsonschema:"True when the workflow was removed"`
}

func (s *Server) delete(ctx context.Context, args workflowInput) (string, deleteOutput, error) {
	id, err := args.id()
	if err != nil {
		return "", deleteOutput{}, err
	}
	if err := s.workflows.Delete(ctx, id); err != nil {
		return "", deleteOutput{}, err
	}
	return fmt.Sprintf("Workflow %s deleted", id), deleteOutput{WorkflowID: id, Deleted: true}, nil
}
