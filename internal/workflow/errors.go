package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("workflow not found")
	ErrAlreadyExists = errors.New("workflow already exists")
	ErrClosed        = errors.New("workflow store closed")
	ErrEmptyID       = errors.New("workflow id is required")

	// ErrInvalidState is the parent of every caller-misuse state error.
	ErrInvalidState      = errors.New("invalid workflow state")
	ErrNoPendingApproval = fmt.Errorf("%w: no pending approval", ErrInvalidState)
	ErrTerminal          = fmt.Errorf("%w: workflow is terminal", ErrInvalidState)

	ErrInvalidAction = errors.New("invalid action")
	ErrInvalidPhase  = errors.New("invalid phase")
)

// StateError records which operation was refused and in which status.
type StateError struct {
	ID     string
	Status Status
	Op     string
	Err    error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %s: status %s: %v", e.Op, e.ID, e.Status, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

func stateError(rec *Record, op string, err error) error {
	return &StateError{ID: rec.ID, Status: rec.Status, Op: op, Err: err}
}
