package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/Mantoine56/spec-bot/internal/config"
	"github.com/Mantoine56/spec-bot/internal/workflow"
)

// EventType names a workflow lifecycle event.
type EventType string

const (
	EventStarted          EventType = "started"
	EventPhaseGenerated   EventType = "phase_generated"
	EventGenerationFailed EventType = "generation_failed"
	EventApproval         EventType = "approval"
	EventCompleted        EventType = "completed"
	EventFailed           EventType = "failed"
	EventCancelled        EventType = "cancelled"
	EventReset            EventType = "reset"
	EventDeleted          EventType = "deleted"
	EventTimedOut         EventType = "timed_out"
)

// Event is the payload published for each lifecycle change.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	WorkflowID string          `json:"workflow_id"`
	Status     workflow.Status `json:"status,omitempty"`
	Phase      workflow.Phase  `json:"phase,omitempty"`
	Action     string          `json:"action,omitempty"`
	RetryCount int             `json:"retry_count,omitempty"`
	Error      string          `json:"error,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

func newEvent(typ EventType, rec *workflow.Record, at time.Time) Event {
	e := Event{
		ID:         uuid.NewString(),
		Type:       typ,
		WorkflowID: rec.ID,
		Status:     rec.Status,
		Phase:      rec.Phase,
		RetryCount: rec.RetryCount,
		Timestamp:  at.UTC(),
	}
	if rec.LastError != nil {
		e.Error = *rec.LastError
	}
	return e
}

// Publisher delivers lifecycle events. Delivery is best-effort: callers log
// failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

// NATSPublisher publishes events as JSON to <prefix>.workflow.<id>.<type>.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher creates a publisher on an established connection.
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "specbot"
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(e Event) string {
	return fmt.Sprintf("%s.workflow.%s.%s", p.prefix, e.WorkflowID, e.Type)
}

// Publish marshals and publishes e.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(e), data); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Type, err)
	}
	return nil
}

// ConnectNATS opens the connection described by cfg. It retries the
// initial connect in the background so a missing server does not block
// startup.
func ConnectNATS(cfg config.NATSConfig) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("spec-bot"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, err)
	}
	return nc, nil
}
