// Package web provides HTTP request and response types for the approval API.
package web

import "github.com/lumahr/approvalflow/pkg/models"

// RegisterDefinitionRequest represents the request body for registering a
// workflow definition.
type RegisterDefinitionRequest struct {
	Name        string         `json:"name"                  validate:"required,min=3"`
	Description string         `json:"description"`
	EntityType  string         `json:"entity_type"           validate:"required"`
	Steps       []StepRequest  `json:"steps"                 validate:"required,min=1,dive"`
	FactSchema  map[string]any `json:"fact_schema,omitempty"`
}

// StepRequest represents one step inside a definition registration.
type StepRequest struct {
	Order               int    `json:"order"                          validate:"required,min=1"`
	Name                string `json:"name"                           validate:"required"`
	ApproverRole        string `json:"approver_role"                  validate:"required"`
	RequiresApproval    bool   `json:"requires_approval"`
	Optional            bool   `json:"optional"`
	ConditionField      string `json:"condition_field,omitempty"`
	ConditionExpression string `json:"condition_expression,omitempty"`
}

// ToModel converts the request into the domain definition.
func (r *RegisterDefinitionRequest) ToModel() *models.Definition {
	steps := make([]*models.Step, 0, len(r.Steps))
	for _, step := range r.Steps {
		steps = append(steps, &models.Step{
			Order:               step.Order,
			Name:                step.Name,
			ApproverRole:        step.ApproverRole,
			RequiresApproval:    step.RequiresApproval,
			Optional:            step.Optional,
			ConditionField:      step.ConditionField,
			ConditionExpression: step.ConditionExpression,
		})
	}

	return &models.Definition{
		Name:        r.Name,
		Description: r.Description,
		EntityType:  r.EntityType,
		Steps:       steps,
		FactSchema:  r.FactSchema,
	}
}

// CreateInstanceRequest represents the request body for starting a workflow
// instance. DefinitionName is optional; when empty the active definition for
// the entity type is used.
type CreateInstanceRequest struct {
	DefinitionName string         `json:"definition_name,omitempty"`
	EntityType     string         `json:"entity_type"               validate:"required"`
	EntityID       string         `json:"entity_id"                 validate:"required"`
	Initiator      string         `json:"initiator"                 validate:"required"`
	Facts          map[string]any `json:"facts"`
}

// DecisionRequest represents the request body for deciding the current step.
type DecisionRequest struct {
	Actor            string `json:"actor"                       validate:"required"`
	Decision         string `json:"decision"                    validate:"required,oneof=APPROVED REJECTED"`
	Comment          string `json:"comment,omitempty"`
	IdempotencyToken string `json:"idempotency_token,omitempty"`
}

// SkipRequest represents the request body for waving through an optional step.
type SkipRequest struct {
	Actor            string `json:"actor"             validate:"required"`
	Comment          string `json:"comment,omitempty"`
	IdempotencyToken string `json:"idempotency_token,omitempty"`
}

// CancelRequest represents the request body for withdrawing an instance.
type CancelRequest struct {
	Actor   string `json:"actor"             validate:"required"`
	Comment string `json:"comment,omitempty"`
}
