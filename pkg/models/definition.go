// Package models defines the core domain model of the approval-workflow engine:
// definitions (ordered approval-step templates), instances (one execution of a
// definition against a business entity) and decisions (the audit trail).
package models

import (
	"errors"
	"fmt"
	"reflect"
	"time"
)

// Definition model validation errors.
var (
	ErrNoSteps              = errors.New("definition must have at least one step")
	ErrStepOrderNotDense    = errors.New("step order indices must be contiguous starting at 1")
	ErrApproverRoleRequired = errors.New("step approver role must not be empty")
	ErrConditionIncomplete  = errors.New("step condition field and expression must be set together")
)

// Definition is a named, versionable template of ordered approval steps for one
// entity type. At most one definition per entity type may be active at a time;
// the registry enforces this on activation.
type Definition struct {
	Name        string         `json:"name"                  validate:"required,min=3"`
	Description string         `json:"description"`
	EntityType  string         `json:"entity_type"           validate:"required"`
	Active      bool           `json:"active"`
	Steps       []*Step        `json:"steps"                 validate:"required,min=1,dive"`
	FactSchema  map[string]any `json:"fact_schema,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Step is one position in a definition's ordered sequence. The approver role is
// a role tag, never an individual identity. A step with RequiresApproval=false
// auto-passes without human action; an Optional step may be waved through with
// an explicit skip. The condition, when present, gates inclusion of the step at
// instance creation time.
type Step struct {
	Order               int    `json:"order"                          validate:"required,min=1"`
	Name                string `json:"name"                           validate:"required"`
	ApproverRole        string `json:"approver_role"                  validate:"required"`
	RequiresApproval    bool   `json:"requires_approval"`
	Optional            bool   `json:"optional"`
	ConditionField      string `json:"condition_field,omitempty"`
	ConditionExpression string `json:"condition_expression,omitempty"`
}

// Validate checks the structural invariants of a definition: at least one step,
// dense 1-based step ordering, non-empty approver roles and paired condition
// fields. Steps are expected in ascending order.
func (d *Definition) Validate() error {
	if len(d.Steps) == 0 {
		return ErrNoSteps
	}

	for i, step := range d.Steps {
		if step.Order != i+1 {
			return fmt.Errorf("%w: step at position %d has order %d", ErrStepOrderNotDense, i, step.Order)
		}

		if step.ApproverRole == "" {
			return fmt.Errorf("%w: step %d", ErrApproverRoleRequired, step.Order)
		}

		if (step.ConditionField == "") != (step.ConditionExpression == "") {
			return fmt.Errorf("%w: step %d", ErrConditionIncomplete, step.Order)
		}
	}

	return nil
}

// ContentEquals reports whether two definitions carry the same template content.
// Used by the registry to make re-registration idempotent: identical content is
// a no-op.
func (d *Definition) ContentEquals(other *Definition) bool {
	if other == nil {
		return false
	}

	if d.Description != other.Description || d.EntityType != other.EntityType {
		return false
	}

	if len(d.Steps) != len(other.Steps) {
		return false
	}

	for i, step := range d.Steps {
		if *step != *other.Steps[i] {
			return false
		}
	}

	return reflect.DeepEqual(d.FactSchema, other.FactSchema)
}
