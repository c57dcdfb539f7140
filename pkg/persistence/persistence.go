// Package persistence provides the data storage abstraction for definitions,
// instances and their decision trails.
package persistence

import (
	"context"

	"github.com/lumahr/approvalflow/pkg/models"
)

type Persistence interface {
	Definitions() DefinitionRepository
	Instances() InstanceRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListDefinitionsOptions filters definition listings.
type ListDefinitionsOptions struct {
	EntityType string
	ActiveOnly bool
}

// DefinitionRepository stores workflow definitions keyed by unique name.
type DefinitionRepository interface {
	// Save upserts a definition by name. It never touches the Active flag of
	// other definitions; exclusivity is SetActive's job.
	Save(ctx context.Context, definition *models.Definition) error

	// GetByName returns the definition or nil when absent.
	GetByName(ctx context.Context, name string) (*models.Definition, error)

	List(ctx context.Context, opts ListDefinitionsOptions) ([]*models.Definition, error)

	// ActiveByEntityType returns the single active definition for the entity
	// type, or nil when none is active.
	ActiveByEntityType(ctx context.Context, entityType string) (*models.Definition, error)

	// SetActive atomically deactivates any other active definition of the same
	// entity type and activates the named one.
	SetActive(ctx context.Context, name string) error

	SetInactive(ctx context.Context, name string) error
}

// ListInstancesOptions filters instance listings. The (OpenOnly, CurrentRole)
// pair backs the "pending approvals for me" query.
type ListInstancesOptions struct {
	Status      *models.InstanceStatus
	OpenOnly    bool
	EntityType  string
	EntityID    string
	CurrentRole string
}

// InstanceRepository stores instances and their append-only decision trails.
// Create and CommitTransition write the instance and its decisions as one
// unit or not at all.
type InstanceRepository interface {
	// Create persists a new instance together with the decisions synthesized
	// at creation (condition skips, auto-passes).
	Create(ctx context.Context, instance *models.Instance, decisions []*models.Decision) error

	// GetByID returns the instance or nil when absent.
	GetByID(ctx context.Context, id string) (*models.Instance, error)

	List(ctx context.Context, opts ListInstancesOptions) ([]*models.Instance, error)

	// CommitTransition persists the instance's new mutable state (status,
	// pointer, completion timestamp) and appends the given decisions, guarded
	// by an optimistic check against instance.Version as loaded. A lost race
	// yields ErrVersionConflict and no change.
	CommitTransition(ctx context.Context, instance *models.Instance, decisions []*models.Decision) error

	// Decisions returns the instance's trail ordered by sequence.
	Decisions(ctx context.Context, instanceID string) ([]*models.Decision, error)
}
