// Package persistence provides standardized error types shared by all storage
// implementations.
package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrDefinitionNotFound indicates no definition exists with the given name.
	ErrDefinitionNotFound = errors.New("definition not found")

	// ErrActiveDefinitionNotFound indicates no active definition exists for the
	// given entity type.
	ErrActiveDefinitionNotFound = errors.New("active definition not found")

	// ErrInstanceNotFound indicates an instance was not found by the given identifier.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceAlreadyExists indicates an instance with the same identifier already exists.
	ErrInstanceAlreadyExists = errors.New("instance already exists")

	// ErrVersionConflict indicates a transition lost the optimistic-concurrency
	// race on the instance record. Safe to retry after reloading.
	ErrVersionConflict = errors.New("instance version conflict")
)

// DefinitionError wraps definition-related storage errors with operation context.
type DefinitionError struct {
	Op   string // Operation being performed (e.g. "GetByName", "SetActive")
	Name string // Definition name
	Err  error
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("%s operation failed for definition %s: %v", e.Op, e.Name, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

func (e *DefinitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewDefinitionError creates a new definition error with context.
func NewDefinitionError(op, name string, err error) *DefinitionError {
	return &DefinitionError{Op: op, Name: name, Err: err}
}

// InstanceError wraps instance-related storage errors with operation context.
type InstanceError struct {
	Op         string
	InstanceID string
	Err        error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInstanceError creates a new instance error with context.
func NewInstanceError(op, instanceID string, err error) *InstanceError {
	return &InstanceError{Op: op, InstanceID: instanceID, Err: err}
}

// IsDefinitionNotFound checks if an error indicates a missing definition.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsActiveDefinitionNotFound checks if an error indicates no active definition
// for an entity type.
func IsActiveDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrActiveDefinitionNotFound)
}

// IsInstanceNotFound checks if an error indicates a missing instance.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsVersionConflict checks if an error indicates a lost optimistic-concurrency race.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
