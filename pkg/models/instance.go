package models

import "time"

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusPending    InstanceStatus = "PENDING"     // Created, no human decision yet
	InstanceStatusInProgress InstanceStatus = "IN_PROGRESS" // At least one step decided, more remain
	InstanceStatusApproved   InstanceStatus = "APPROVED"
	InstanceStatusRejected   InstanceStatus = "REJECTED"
	InstanceStatusCancelled  InstanceStatus = "CANCELLED"
)

// Open reports whether the instance still accepts decisions.
func (s InstanceStatus) Open() bool {
	return s == InstanceStatusPending || s == InstanceStatusInProgress
}

// Terminal is the complement of Open.
func (s InstanceStatus) Terminal() bool {
	return !s.Open()
}

// FactSet is the immutable key/value data supplied when an instance is created.
// Step conditions are evaluated against it exactly once, at creation.
type FactSet map[string]any

// StepState is a step as snapshotted onto an instance at creation, together
// with its inclusion flag. Instances resolve step metadata by snapshot, never
// by live reference, so later definition edits do not affect in-flight
// instances.
type StepState struct {
	Step

	Included bool `json:"included"`
}

// Instance is one in-flight or completed execution of a definition against one
// concrete business entity. The current-step pointer and status are the only
// mutable state; everything else is fixed at creation. Version guards
// optimistic concurrency on transitions.
type Instance struct {
	ID             string         `json:"id"`
	DefinitionName string         `json:"definition_name"`
	EntityType     string         `json:"entity_type"`
	EntityID       string         `json:"entity_id"`
	Status         InstanceStatus `json:"status"`
	CurrentStep    *int           `json:"current_step,omitempty"` // order index, nil when terminal
	CurrentRole    string         `json:"current_role,omitempty"` // denormalized for pending-for-actor queries
	Initiator      string         `json:"initiator"`
	Facts          FactSet        `json:"facts"`
	Steps          []*StepState   `json:"steps"`
	Version        int64          `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// StepByOrder returns the snapshotted step with the given order index, or nil.
func (i *Instance) StepByOrder(order int) *StepState {
	if order < 1 || order > len(i.Steps) {
		return nil
	}

	return i.Steps[order-1]
}

// CurrentStepState returns the step the instance is waiting on, or nil when the
// instance is terminal.
func (i *Instance) CurrentStepState() *StepState {
	if i.CurrentStep == nil {
		return nil
	}

	return i.StepByOrder(*i.CurrentStep)
}
