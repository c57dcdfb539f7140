// Package services implements the approval engine's business operations on top
// of the persistence layer.
package services

import (
	"errors"
	"fmt"

	"github.com/lumahr/approvalflow/pkg/models"
	"github.com/lumahr/approvalflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest      = errors.New("invalid request")
	ErrEntityTypeMismatch  = errors.New("definition does not apply to entity type")
	ErrInvalidFactSchema   = errors.New("fact schema is not a valid JSON schema")
	ErrFactsRejected       = errors.New("facts rejected by definition fact schema")
	ErrDefinitionNameEmpty = errors.New("definition name is required")
	ErrInitiatorRequired   = errors.New("initiator is required")
	ErrActorRequired       = errors.New("actor is required")

	// Business Logic Conflicts (409 Conflict).
	ErrInstanceTerminal    = errors.New("instance is already in a terminal status")
	ErrStepNotActionable   = errors.New("step does not accept decisions")
	ErrStepNotOptional     = errors.New("current step is not optional")
	ErrConcurrencyConflict = errors.New("instance was modified concurrently")

	// Authorization (403 Forbidden).
	ErrNotAuthorized = errors.New("actor is not authorized for this step")
)

// Not-found errors shared with the persistence layer.
var (
	ErrDefinitionNotFound       = persistence.ErrDefinitionNotFound
	ErrActiveDefinitionNotFound = persistence.ErrActiveDefinitionNotFound
	ErrInstanceNotFound         = persistence.ErrInstanceNotFound
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrEntityTypeMismatch) ||
		errors.Is(err, ErrInvalidFactSchema) ||
		errors.Is(err, ErrFactsRejected) ||
		errors.Is(err, ErrDefinitionNameEmpty) ||
		errors.Is(err, ErrInitiatorRequired) ||
		errors.Is(err, ErrActorRequired) ||
		errors.Is(err, models.ErrNoSteps) ||
		errors.Is(err, models.ErrStepOrderNotDense) ||
		errors.Is(err, models.ErrApproverRoleRequired) ||
		errors.Is(err, models.ErrConditionIncomplete) ||
		errors.Is(err, models.ErrInvalidCondition) ||
		errors.Is(err, models.ErrMissingFact)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound) ||
		errors.Is(err, ErrActiveDefinitionNotFound) ||
		errors.Is(err, ErrInstanceNotFound)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInstanceTerminal) ||
		errors.Is(err, ErrStepNotActionable) ||
		errors.Is(err, ErrStepNotOptional) ||
		errors.Is(err, ErrConcurrencyConflict)
}

// IsUnauthorizedError checks if an error should return HTTP 403.
func IsUnauthorizedError(err error) bool {
	return errors.Is(err, ErrNotAuthorized)
}
