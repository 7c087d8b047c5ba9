// Package workflow holds the specification workflow record, the in-memory
// record store, and the phase state machine that decides what happens next.
package workflow

import (
	"maps"
	"slices"
	"time"
)

// Status is the execution state of a workflow.
type Status string

const (
	StatusInitializing                 Status = "initializing"
	StatusGeneratingRequirements       Status = "generating_requirements"
	StatusAwaitingRequirementsApproval Status = "awaiting_requirements_approval"
	StatusGeneratingDesign             Status = "generating_design"
	StatusAwaitingDesignApproval       Status = "awaiting_design_approval"
	StatusGeneratingTasks              Status = "generating_tasks"
	StatusAwaitingTasksApproval        Status = "awaiting_tasks_approval"
	StatusGeneratingFinalDocuments     Status = "generating_final_documents"
	StatusCompleted                    Status = "completed"
	StatusFailed                       Status = "failed"
	StatusCancelled                    Status = "cancelled"
)

// IsTerminal returns true for completed, failed and cancelled.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// AwaitingPhase returns the phase a status waits on, if it is an awaiting state.
func (s Status) AwaitingPhase() (Phase, bool) {
	switch s {
	case StatusAwaitingRequirementsApproval:
		return PhaseRequirements, true
	case StatusAwaitingDesignApproval:
		return PhaseDesign, true
	case StatusAwaitingTasksApproval:
		return PhaseTasks, true
	}
	return "", false
}

// IsAwaiting returns true for the three awaiting-approval states.
func (s Status) IsAwaiting() bool {
	_, ok := s.AwaitingPhase()
	return ok
}

// Phase is one of the document-generation stages.
type Phase string

const (
	PhaseRequirements Phase = "requirements"
	PhaseDesign       Phase = "design"
	PhaseTasks        Phase = "tasks"
	PhaseCompleted    Phase = "completed"
)

// DocumentPhases lists the generated phases in order.
var DocumentPhases = []Phase{PhaseRequirements, PhaseDesign, PhaseTasks}

// ParsePhase accepts requirements, design or tasks.
func ParsePhase(s string) (Phase, error) {
	switch p := Phase(s); p {
	case PhaseRequirements, PhaseDesign, PhaseTasks:
		return p, nil
	}
	return "", ErrInvalidPhase
}

// GeneratingStatus returns the generating state for p.
func (p Phase) GeneratingStatus() Status {
	switch p {
	case PhaseRequirements:
		return StatusGeneratingRequirements
	case PhaseDesign:
		return StatusGeneratingDesign
	case PhaseTasks:
		return StatusGeneratingTasks
	}
	return StatusGeneratingFinalDocuments
}

// AwaitingStatus returns the awaiting-approval state for p.
func (p Phase) AwaitingStatus() Status {
	switch p {
	case PhaseRequirements:
		return StatusAwaitingRequirementsApproval
	case PhaseDesign:
		return StatusAwaitingDesignApproval
	case PhaseTasks:
		return StatusAwaitingTasksApproval
	}
	return ""
}

// Action is a human decision at an approval gate, or a cancel.
type Action string

const (
	ActionApprove Action = "approve"
	ActionRevise  Action = "revise"
	ActionReject  Action = "reject"
	ActionCancel  Action = "cancel"
)

// ParseAction accepts approve, revise (or request_revision) and reject.
// Cancel is a separate operation and is not accepted here.
func ParseAction(s string) (Action, error) {
	switch s {
	case "approve":
		return ActionApprove, nil
	case "revise", "request_revision":
		return ActionRevise, nil
	case "reject":
		return ActionReject, nil
	}
	return "", ErrInvalidAction
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a workflow's conversation history.
type Message struct {
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Seed holds the creation-time fields of a workflow.
type Seed struct {
	ID                 string
	FeatureName        string
	InitialDescription string
	LLMProvider        string
	ModelName          string
	ResearchEnabled    bool
}

// Record is the complete state of one workflow.
type Record struct {
	ID                 string `json:"workflow_id"`
	FeatureName        string `json:"feature_name"`
	InitialDescription string `json:"initial_description"`
	LLMProvider        string `json:"llm_provider"`
	ModelName          string `json:"model_name"`
	ResearchEnabled    bool   `json:"research_enabled"`

	Status Status `json:"status"`
	Phase  Phase  `json:"current_phase"`

	RequirementsContent *string `json:"requirements_content,omitempty"`
	DesignContent       *string `json:"design_content,omitempty"`
	TasksContent        *string `json:"tasks_content,omitempty"`

	RequirementsApproved bool `json:"requirements_approved"`
	DesignApproved       bool `json:"design_approved"`
	TasksApproved        bool `json:"tasks_approved"`

	PendingApproval *Phase  `json:"pending_approval,omitempty"`
	UserFeedback    *string `json:"user_feedback,omitempty"`
	LastUserAction  *Action `json:"last_user_action,omitempty"`

	ConversationHistory []Message `json:"conversation_history"`

	RetryCount int     `json:"retry_count"`
	LastError  *string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	GeneratedFiles   map[string]string `json:"generated_files,omitempty"`
	WrittenFilePaths map[string]string `json:"file_paths,omitempty"`
}

// Content returns the stored content for p, or nil.
func (r *Record) Content(p Phase) *string {
	switch p {
	case PhaseRequirements:
		return r.RequirementsContent
	case PhaseDesign:
		return r.DesignContent
	case PhaseTasks:
		return r.TasksContent
	}
	return nil
}

func (r *Record) setContent(p Phase, content string) {
	switch p {
	case PhaseRequirements:
		r.RequirementsContent = &content
	case PhaseDesign:
		r.DesignContent = &content
	case PhaseTasks:
		r.TasksContent = &content
	}
}

// Approved reports whether p has been approved.
func (r *Record) Approved(p Phase) bool {
	switch p {
	case PhaseRequirements:
		return r.RequirementsApproved
	case PhaseDesign:
		return r.DesignApproved
	case PhaseTasks:
		return r.TasksApproved
	}
	return false
}

// AllApproved reports whether all three phases are approved.
func (r *Record) AllApproved() bool {
	return r.RequirementsApproved && r.DesignApproved && r.TasksApproved
}

// Append adds a message to the conversation history.
func (r *Record) Append(role Role, content string, metadata map[string]string, at time.Time) {
	r.ConversationHistory = append(r.ConversationHistory, Message{
		Role:      role,
		Content:   content,
		Timestamp: at,
		Metadata:  metadata,
	})
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.RequirementsContent = clonePtr(r.RequirementsContent)
	c.DesignContent = clonePtr(r.DesignContent)
	c.TasksContent = clonePtr(r.TasksContent)
	c.PendingApproval = clonePtr(r.PendingApproval)
	c.UserFeedback = clonePtr(r.UserFeedback)
	c.LastUserAction = clonePtr(r.LastUserAction)
	c.LastError = clonePtr(r.LastError)
	c.GeneratedFiles = maps.Clone(r.GeneratedFiles)
	c.WrittenFilePaths = maps.Clone(r.WrittenFilePaths)
	c.ConversationHistory = slices.Clone(r.ConversationHistory)
	for i, m := range c.ConversationHistory {
		c.ConversationHistory[i].Metadata = maps.Clone(m.Metadata)
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
