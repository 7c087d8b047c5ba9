package http

import (
	"time"

	"github.com/Mantoine56/spec-bot/internal/orchestrator"
	"github.com/Mantoine56/spec-bot/internal/workflow"
)

// recentMessages is how many history entries the status view carries.
const recentMessages = 5

// StartRequest is the request body for POST /api/spec/start.
type StartRequest struct {
	FeatureName    string `json:"feature_name"`
	Description    string `json:"description"`
	LLMProvider    string `json:"llm_provider,omitempty"`
	ModelName      string `json:"model_name,omitempty"`
	EnableResearch *bool  `json:"enable_research,omitempty"`
}

// StartResponse is the response body for POST /api/spec/start.
type StartResponse struct {
	WorkflowID  string          `json:"workflow_id"`
	Status      workflow.Status `json:"status"`
	ReceiptID   string          `json:"receipt_id"`
	FeatureName string          `json:"feature_name"`
	Message     string          `json:"message"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ApprovalRequest is the request body for POST /api/spec/approve.
type ApprovalRequest struct {
	WorkflowID string `json:"workflow_id"`
	Action     string `json:"action"`
	Feedback   string `json:"feedback,omitempty"`
}

// ApprovalResponse is the response body for POST /api/spec/approve.
type ApprovalResponse struct {
	WorkflowID   string          `json:"workflow_id"`
	Action       workflow.Action `json:"action"`
	Status       workflow.Status `json:"status"`
	CurrentPhase workflow.Phase  `json:"current_phase"`
	ReceiptID    string          `json:"receipt_id,omitempty"`
	Message      string          `json:"message"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ActionResponse is returned by reset and cancel.
type ActionResponse struct {
	WorkflowID   string          `json:"workflow_id"`
	Status       workflow.Status `json:"status"`
	CurrentPhase workflow.Phase  `json:"current_phase"`
	ReceiptID    string          `json:"receipt_id,omitempty"`
	Message      string          `json:"message"`
}

// StatusResponse is the response body for GET /api/spec/status/:id.
type StatusResponse struct {
	WorkflowID            string             `json:"workflow_id"`
	FeatureName           string             `json:"feature_name"`
	Status                workflow.Status    `json:"status"`
	CurrentPhase          workflow.Phase     `json:"current_phase"`
	IsActive              bool               `json:"is_active"`
	LLMProvider           string             `json:"llm_provider"`
	ModelName             string             `json:"model_name"`
	RequirementsCompleted bool               `json:"requirements_completed"`
	DesignCompleted       bool               `json:"design_completed"`
	TasksCompleted        bool               `json:"tasks_completed"`
	CurrentPhaseContent   *string            `json:"current_phase_content,omitempty"`
	CurrentPhaseStatus    string             `json:"current_phase_status,omitempty"`
	PendingApproval       *workflow.Phase    `json:"pending_approval,omitempty"`
	RetryCount            int                `json:"retry_count"`
	LastError             *string            `json:"last_error,omitempty"`
	RecentMessages        []workflow.Message `json:"recent_messages"`
	FilePaths             map[string]string  `json:"file_paths,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

func statusView(rec *workflow.Record) StatusResponse {
	resp := StatusResponse{
		WorkflowID:            rec.ID,
		FeatureName:           rec.FeatureName,
		Status:                rec.Status,
		CurrentPhase:          rec.Phase,
		IsActive:              !rec.Status.IsTerminal(),
		LLMProvider:           rec.LLMProvider,
		ModelName:             rec.ModelName,
		RequirementsCompleted: rec.RequirementsContent != nil,
		DesignCompleted:       rec.DesignContent != nil,
		TasksCompleted:        rec.TasksContent != nil,
		CurrentPhaseContent:   rec.Content(rec.Phase),
		PendingApproval:       rec.PendingApproval,
		RetryCount:            rec.RetryCount,
		LastError:             rec.LastError,
		FilePaths:             rec.WrittenFilePaths,
		CreatedAt:             rec.CreatedAt,
		UpdatedAt:             rec.UpdatedAt,
	}

	switch rec.Phase {
	case workflow.PhaseRequirements, workflow.PhaseDesign, workflow.PhaseTasks:
		resp.CurrentPhaseStatus = "pending"
		if rec.Approved(rec.Phase) {
			resp.CurrentPhaseStatus = "approved"
		}
	}

	history := rec.ConversationHistory
	if len(history) > recentMessages {
		history = history[len(history)-recentMessages:]
	}
	resp.RecentMessages = append([]workflow.Message{}, history...)
	return resp
}

// ListResponse is the response body for GET /api/spec/list.
type ListResponse struct {
	Workflows []orchestrator.Summary `json:"workflows"`
	Total     int                    `json:"total"`
}

// FilesResponse is the response body for GET /api/spec/files/:id.
type FilesResponse struct {
	WorkflowID  string            `json:"workflow_id"`
	FeatureName string            `json:"feature_name"`
	Files       map[string]string `json:"files"`
}

// DeleteResponse is the response body for DELETE /api/spec/:id.
type DeleteResponse struct {
	WorkflowID string `json:"workflow_id"`
	Deleted    bool   `json:"deleted"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Message string `json:"message"`
}
