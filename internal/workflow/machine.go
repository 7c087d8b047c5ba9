package workflow

import (
	"fmt"
	"time"
)

// DefaultMaxRetries is the retry ceiling used when none is configured.
const DefaultMaxRetries = 3

// DecisionKind is the next action the driver should take.
type DecisionKind int

const (
	DecisionGenerate DecisionKind = iota
	DecisionWait
	DecisionFinalize
	DecisionTerminate
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionGenerate:
		return "generate"
	case DecisionWait:
		return "wait"
	case DecisionFinalize:
		return "finalize"
	case DecisionTerminate:
		return "terminate"
	}
	return fmt.Sprintf("DecisionKind(%d)", int(k))
}

// Decision is the output of Decide. Status is the state the record should be
// in while the action runs.
type Decision struct {
	Kind   DecisionKind
	Phase  Phase
	Status Status
}

// Decide maps a record to the next action. Rules are evaluated in order and
// the first match wins. Decide does not modify rec.
func Decide(rec *Record, maxRetries int) Decision {
	if rec.Status.IsTerminal() {
		return Decision{Kind: DecisionTerminate, Phase: rec.Phase, Status: rec.Status}
	}
	if rec.RetryCount > maxRetries {
		return Decision{Kind: DecisionTerminate, Phase: rec.Phase, Status: StatusFailed}
	}
	if rec.AllApproved() {
		return Decision{Kind: DecisionFinalize, Phase: rec.Phase, Status: StatusGeneratingFinalDocuments}
	}
	if phase, ok := rec.Status.AwaitingPhase(); ok {
		return Decision{Kind: DecisionWait, Phase: phase, Status: rec.Status}
	}
	return Decision{Kind: DecisionGenerate, Phase: rec.Phase, Status: rec.Phase.GeneratingStatus()}
}

// MarkGenerating moves rec into the generating state for phase.
func MarkGenerating(rec *Record, phase Phase) {
	rec.Phase = phase
	rec.Status = phase.GeneratingStatus()
}

// RecordFailure counts a failed generation attempt. Status is unchanged.
func RecordFailure(rec *Record, err error) {
	rec.RetryCount++
	msg := err.Error()
	rec.LastError = &msg
}

// EnterAwaiting stores content for phase and arms the approval gate.
func EnterAwaiting(rec *Record, phase Phase, content string) {
	rec.setContent(phase, content)
	rec.Phase = phase
	rec.Status = phase.AwaitingStatus()
	rec.PendingApproval = Ptr(phase)
	rec.UserFeedback = nil
	rec.LastUserAction = nil
	rec.RetryCount = 0
	rec.LastError = nil
}

// EnterTerminal moves rec to a terminal status. reason, when non-empty, is
// kept as LastError so failures stay explainable.
func EnterTerminal(rec *Record, status Status, reason string) {
	rec.Status = status
	rec.PendingApproval = nil
	rec.UserFeedback = nil
	rec.RetryCount = 0
	rec.LastError = nil
	if reason != "" {
		rec.LastError = &reason
	}
}

// ApplyAction applies a human decision to the pending phase.
func ApplyAction(rec *Record, action Action, feedback string, now time.Time) error {
	if rec.PendingApproval == nil {
		return stateError(rec, string(action), ErrNoPendingApproval)
	}
	phase := *rec.PendingApproval

	switch action {
	case ActionApprove, ActionRevise, ActionReject:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	if feedback != "" {
		rec.Append(RoleUser, feedback, map[string]string{
			"phase":  string(phase),
			"action": string(action),
		}, now)
	}

	switch {
	case action == ActionApprove && phase == PhaseRequirements:
		rec.RequirementsApproved = true
		advance(rec, PhaseDesign, StatusGeneratingDesign)
	case action == ActionApprove && phase == PhaseDesign:
		rec.DesignApproved = true
		advance(rec, PhaseTasks, StatusGeneratingTasks)
	case action == ActionApprove && phase == PhaseTasks:
		// Phase becomes completed only once documents are written.
		rec.TasksApproved = true
		advance(rec, PhaseTasks, StatusGeneratingFinalDocuments)
	case action == ActionRevise:
		advance(rec, phase, phase.GeneratingStatus())
		if feedback != "" {
			rec.UserFeedback = &feedback
		}
	case action == ActionReject:
		EnterTerminal(rec, StatusCancelled, "")
	default:
		return stateError(rec, string(action), fmt.Errorf("%w: pending phase %q", ErrInvalidPhase, phase))
	}

	rec.LastUserAction = Ptr(action)
	return nil
}

func advance(rec *Record, phase Phase, status Status) {
	rec.Phase = phase
	rec.Status = status
	rec.PendingApproval = nil
	rec.UserFeedback = nil
	rec.RetryCount = 0
	rec.LastError = nil
}

// Cancel moves a non-terminal record to cancelled.
func Cancel(rec *Record) error {
	if rec.Status.IsTerminal() {
		return stateError(rec, "cancel", ErrTerminal)
	}
	EnterTerminal(rec, StatusCancelled, "")
	rec.LastUserAction = Ptr(ActionCancel)
	return nil
}

// Complete stores the final documents and marks rec completed.
func Complete(rec *Record, files, paths map[string]string) {
	rec.GeneratedFiles = files
	rec.WrittenFilePaths = paths
	rec.Phase = PhaseCompleted
	EnterTerminal(rec, StatusCompleted, "")
}

// ResetRecord returns rec to its initial state. Identity, settings and the
// conversation history are kept.
func ResetRecord(rec *Record) {
	rec.Status = StatusInitializing
	rec.Phase = PhaseRequirements
	rec.RequirementsContent = nil
	rec.DesignContent = nil
	rec.TasksContent = nil
	rec.RequirementsApproved = false
	rec.DesignApproved = false
	rec.TasksApproved = false
	rec.PendingApproval = nil
	rec.UserFeedback = nil
	rec.LastUserAction = nil
	rec.RetryCount = 0
	rec.LastError = nil
	rec.GeneratedFiles = nil
	rec.WrittenFilePaths = nil
}

// Validate checks the record's structural invariants.
func (r *Record) Validate() error {
	phase, awaiting := r.Status.AwaitingPhase()
	switch {
	case awaiting && r.PendingApproval == nil:
		return fmt.Errorf("%w: status %s without pending approval", ErrInvalidState, r.Status)
	case !awaiting && r.PendingApproval != nil:
		return fmt.Errorf("%w: pending approval %s in status %s", ErrInvalidState, *r.PendingApproval, r.Status)
	case awaiting && *r.PendingApproval != phase:
		return fmt.Errorf("%w: pending approval %s does not match status %s", ErrInvalidState, *r.PendingApproval, r.Status)
	case awaiting && r.Content(phase) == nil:
		return fmt.Errorf("%w: awaiting %s approval without content", ErrInvalidState, phase)
	case r.Status == StatusCompleted && !r.AllApproved():
		return fmt.Errorf("%w: completed without all approvals", ErrInvalidState)
	}
	return nil
}
