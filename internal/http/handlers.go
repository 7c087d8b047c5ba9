package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Mantoine56/spec-bot/internal/llm"
	"github.com/Mantoine56/spec-bot/internal/orchestrator"
	"github.com/Mantoine56/spec-bot/internal/workflow"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStart creates a workflow and queues its first run.
func (s *Server) handleStart(c echo.Context) error {
	var req StartRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid start request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.FeatureName) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "feature_name is required")
	}
	if strings.TrimSpace(req.Description) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "description is required")
	}
	if s.checkCredentials != nil {
		if err := s.checkCredentials(req.LLMProvider); err != nil {
			return s.httpError(c, err)
		}
	}

	ctx := c.Request().Context()
	rec, err := s.workflows.Start(ctx, orchestrator.StartRequest{
		FeatureName:    req.FeatureName,
		Description:    req.Description,
		LLMProvider:    req.LLMProvider,
		ModelName:      req.ModelName,
		EnableResearch: req.EnableResearch,
	})
	if err != nil {
		return s.httpError(c, err)
	}

	receipt, err := s.runner.Enqueue(rec.ID, orchestrator.JobStart)
	if err != nil {
		// Nothing will ever run the record, so do not leave it behind.
		if derr := s.workflows.Delete(ctx, rec.ID); derr != nil {
			s.logger.Warn("failed to remove unqueued workflow",
				zap.String("workflow_id", rec.ID), zap.Error(derr))
		}
		return s.httpError(c, err)
	}

	return c.JSON(http.StatusAccepted, StartResponse{
		WorkflowID:  rec.ID,
		Status:      rec.Status,
		ReceiptID:   receipt.ID,
		FeatureName: rec.FeatureName,
		Message:     "Workflow started successfully",
		CreatedAt:   rec.CreatedAt,
	})
}

// handleStatus returns the status view of one workflow.
func (s *Server) handleStatus(c echo.Context) error {
	rec, err := s.workflows.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, statusView(rec))
}

// handleApprove applies a decision and queues the continuation when the
// workflow has more work to do.
func (s *Server) handleApprove(c echo.Context) error {
	var req ApprovalRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid approval request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.WorkflowID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow_id is required")
	}
	action, err := workflow.ParseAction(req.Action)
	if err != nil {
		return s.httpError(c, err)
	}

	rec, err := s.approver.Handle(c.Request().Context(), req.WorkflowID, action, req.Feedback)
	if err != nil {
		return s.httpError(c, err)
	}

	resp := ApprovalResponse{
		WorkflowID:   rec.ID,
		Action:       action,
		Status:       rec.Status,
		CurrentPhase: rec.Phase,
		Message:      fmt.Sprintf("Workflow %s processed successfully", action),
		UpdatedAt:    rec.UpdatedAt,
	}
	if orchestrator.NeedsRun(rec) {
		receipt, err := s.runner.Enqueue(rec.ID, orchestrator.JobContinue)
		if err != nil {
			s.logger.Error("approval recorded but continuation not queued",
				zap.String("workflow_id", rec.ID), zap.Error(err))
			return s.httpError(c, err)
		}
		resp.ReceiptID = receipt.ID
	}
	return c.JSON(http.StatusOK, resp)
}

// handleReset restarts a workflow from requirements.
func (s *Server) handleReset(c echo.Context) error {
	rec, err := s.workflows.Reset(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	receipt, err := s.runner.Enqueue(rec.ID, orchestrator.JobReset)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, ActionResponse{
		WorkflowID:   rec.ID,
		Status:       rec.Status,
		CurrentPhase: rec.Phase,
		ReceiptID:    receipt.ID,
		Message:      "Workflow reset successfully",
	})
}

// handleCancel cancels a running workflow.
func (s *Server) handleCancel(c echo.Context) error {
	rec, err := s.workflows.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, ActionResponse{
		WorkflowID:   rec.ID,
		Status:       rec.Status,
		CurrentPhase: rec.Phase,
		Message:      "Workflow cancelled",
	})
}

// handleList returns a summary of every workflow.
func (s *Server) handleList(c echo.Context) error {
	summaries, err := s.workflows.List(c.Request().Context())
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, ListResponse{Workflows: summaries, Total: len(summaries)})
}

// handleFiles returns the paths of the final documents.
func (s *Server) handleFiles(c echo.Context) error {
	rec, err := s.workflows.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	if len(rec.WrittenFilePaths) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no generated files for this workflow")
	}
	return c.JSON(http.StatusOK, FilesResponse{
		WorkflowID:  rec.ID,
		FeatureName: rec.FeatureName,
		Files:       rec.WrittenFilePaths,
	})
}

// handleDelete removes a workflow.
func (s *Server) handleDelete(c echo.Context) error {
	id := c.Param("id")
	if err := s.workflows.Delete(c.Request().Context(), id); err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, DeleteResponse{WorkflowID: id, Deleted: true})
}

// httpError maps domain errors onto status codes. Unexpected errors are
// logged and reported without detail.
func (s *Server) httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrTerminal):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, workflow.ErrInvalidState),
		errors.Is(err, workflow.ErrInvalidAction),
		errors.Is(err, orchestrator.ErrInvalidRequest),
		errors.Is(err, llm.ErrMissingAPIKey):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrQueueFull),
		errors.Is(err, orchestrator.ErrRunnerStopped):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}

	s.logger.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
