package orchestrator

import (
	"errors"
	"time"

	"github.com/Mantoine56/spec-bot/internal/workflow"
)

var (
	// ErrInvalidRequest is returned for malformed start requests.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRunnerStopped is returned by Enqueue after Stop.
	ErrRunnerStopped = errors.New("runner stopped")
	// ErrQueueFull is returned when the job queue has no free slot.
	ErrQueueFull = errors.New("job queue full")
)

// StartRequest describes a new workflow. Empty provider and model fall back
// to the driver defaults; a nil EnableResearch uses the default setting.
type StartRequest struct {
	FeatureName    string
	Description    string
	LLMProvider    string
	ModelName      string
	EnableResearch *bool
}

// Summary is the list view of a workflow.
type Summary struct {
	ID          string          `json:"workflow_id"`
	FeatureName string          `json:"feature_name"`
	Status      workflow.Status `json:"status"`
	Phase       workflow.Phase  `json:"current_phase"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func summarize(rec *workflow.Record) Summary {
	return Summary{
		ID:          rec.ID,
		FeatureName: rec.FeatureName,
		Status:      rec.Status,
		Phase:       rec.Phase,
		UpdatedAt:   rec.UpdatedAt,
	}
}

// Defaults are applied to start requests that leave settings empty.
type Defaults struct {
	Provider       string
	Model          string
	EnableResearch bool
}
