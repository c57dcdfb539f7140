package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lumahr/approvalflow/pkg/models"
	"github.com/lumahr/approvalflow/pkg/persistence"
	"github.com/xeipuuv/gojsonschema"
)

// Registry manages the catalogue of workflow definitions: registration,
// versioning by name and the exclusive-active flag per entity type.
type Registry struct {
	persistence persistence.Persistence
	validator   *validator.Validate
	logger      *slog.Logger
}

// NewRegistry creates a new definition registry service.
func NewRegistry(persistence persistence.Persistence, logger *slog.Logger) *Registry {
	return &Registry{
		persistence: persistence,
		validator:   validator.New(),
		logger:      logger.With("module", "registry"),
	}
}

// Register upserts a definition by name. Registering identical content is a
// no-op; registering changed content under an existing name replaces the
// template while preserving the Active flag and creation timestamp. In-flight
// instances are unaffected either way since they act on snapshots.
func (r *Registry) Register(ctx context.Context, definition *models.Definition) (*models.Definition, error) {
	if definition == nil || definition.Name == "" {
		return nil, ErrDefinitionNameEmpty
	}

	if err := r.validator.Struct(definition); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if err := definition.Validate(); err != nil {
		return nil, err
	}

	if err := r.checkFactSchema(definition); err != nil {
		return nil, err
	}

	existing, err := r.persistence.Definitions().GetByName(ctx, definition.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition %s: %w", definition.Name, err)
	}

	now := time.Now().UTC()

	if existing != nil {
		if existing.ContentEquals(definition) {
			r.logger.DebugContext(ctx, "definition unchanged", "name", definition.Name)

			return existing, nil
		}

		definition.Active = existing.Active
		definition.CreatedAt = existing.CreatedAt
	} else {
		definition.Active = false
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	if err := r.persistence.Definitions().Save(ctx, definition); err != nil {
		return nil, fmt.Errorf("failed to save definition %s: %w", definition.Name, err)
	}

	r.logger.InfoContext(ctx, "definition registered",
		"name", definition.Name,
		"entity_type", definition.EntityType,
		"steps", len(definition.Steps))

	return definition, nil
}

// Activate marks the named definition as the active one for its entity type,
// atomically deactivating any previously active definition of that type.
func (r *Registry) Activate(ctx context.Context, name string) error {
	err := r.persistence.Definitions().SetActive(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to activate definition %s: %w", name, err)
	}

	r.logger.InfoContext(ctx, "definition activated", "name", name)

	return nil
}

// Deactivate clears the active flag, leaving the entity type without an active
// definition. Activating is idempotent per name, so is deactivating.
func (r *Registry) Deactivate(ctx context.Context, name string) error {
	err := r.persistence.Definitions().SetInactive(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to deactivate definition %s: %w", name, err)
	}

	r.logger.InfoContext(ctx, "definition deactivated", "name", name)

	return nil
}

// Get returns the named definition.
func (r *Registry) Get(ctx context.Context, name string) (*models.Definition, error) {
	definition, err := r.persistence.Definitions().GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition %s: %w", name, err)
	}

	if definition == nil {
		return nil, persistence.NewDefinitionError("get", name, ErrDefinitionNotFound)
	}

	return definition, nil
}

// ActiveFor returns the single active definition for the entity type.
func (r *Registry) ActiveFor(ctx context.Context, entityType string) (*models.Definition, error) {
	definition, err := r.persistence.Definitions().ActiveByEntityType(ctx, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to load active definition for %s: %w", entityType, err)
	}

	if definition == nil {
		return nil, persistence.NewDefinitionError("active-for", entityType, ErrActiveDefinitionNotFound)
	}

	return definition, nil
}

// List returns definitions, optionally filtered by entity type or active flag.
func (r *Registry) List(ctx context.Context, opts persistence.ListDefinitionsOptions) ([]*models.Definition, error) {
	definitions, err := r.persistence.Definitions().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	return definitions, nil
}

// checkFactSchema compiles the optional fact schema so a broken schema is
// rejected at registration instead of failing every instance creation.
func (r *Registry) checkFactSchema(definition *models.Definition) error {
	if definition.FactSchema == nil {
		return nil
	}

	loader := gojsonschema.NewGoLoader(definition.FactSchema)

	if _, err := gojsonschema.NewSchema(loader); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFactSchema, err)
	}

	return nil
}
