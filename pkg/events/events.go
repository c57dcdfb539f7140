// Package events defines the lifecycle notifications the engine publishes on
// every instance transition, for collaborating modules (notifications, ERP
// sync) to act on.
package events

import (
	"time"

	"github.com/lumahr/approvalflow/pkg/models"
)

type EventType string

// Topic is the single event stream for instance lifecycle events.
const Topic = "approvalflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	InstanceCreatedEvent   EventType = "instance.created"
	DecisionRecordedEvent  EventType = "instance.decision.recorded"
	InstanceCompletedEvent EventType = "instance.completed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	InstanceID string         `json:"instance_id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// InstanceCreated is published once per created instance, including instances
// that auto-approve at creation.
type InstanceCreated struct {
	BaseEvent

	DefinitionName string                `json:"definition_name"`
	Initiator      string                `json:"initiator"`
	Status         models.InstanceStatus `json:"status"`
	CurrentStep    *int                  `json:"current_step,omitempty"`
}

func (e InstanceCreated) GetType() EventType {
	return InstanceCreatedEvent
}

// DecisionRecorded is published for every human decision applied to a step.
// Synthetic skips and auto-passes ride along in the completion/created events'
// audit trail rather than producing their own notifications.
type DecisionRecorded struct {
	BaseEvent

	StepOrder int                 `json:"step_order"`
	Kind      models.DecisionKind `json:"kind"`
	Actor     string              `json:"actor"`
	NextStep  *int                `json:"next_step,omitempty"`
}

func (e DecisionRecorded) GetType() EventType {
	return DecisionRecordedEvent
}

// InstanceCompleted is published when an instance reaches a terminal status.
type InstanceCompleted struct {
	BaseEvent

	Status   models.InstanceStatus `json:"status"`
	Duration time.Duration         `json:"duration"`
}

func (e InstanceCompleted) GetType() EventType {
	return InstanceCompletedEvent
}
