package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumahr/approvalflow/pkg/models"
	"github.com/lumahr/approvalflow/pkg/persistence"
)

// DefinitionRepository handles definition-related database operations.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDefinitionRepository creates a new definition repository.
func NewDefinitionRepository(db *sql.DB, logger *slog.Logger) *DefinitionRepository {
	return &DefinitionRepository{db: db, logger: logger}
}

// Save upserts a definition and replaces its step list in one transaction.
func (r *DefinitionRepository) Save(ctx context.Context, definition *models.Definition) error {
	now := time.Now().UTC()

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	var factSchemaJSON []byte

	if definition.FactSchema != nil {
		var err error

		factSchemaJSON, err = json.Marshal(definition.FactSchema)
		if err != nil {
			return fmt.Errorf("failed to marshal fact schema for definition %s: %w", definition.Name, err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	upsert := `
		INSERT INTO definitions (name, description, entity_type, active, fact_schema, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			entity_type = EXCLUDED.entity_type,
			fact_schema = EXCLUDED.fact_schema,
			updated_at = EXCLUDED.updated_at
	`

	_, err = tx.ExecContext(ctx, upsert,
		definition.Name,
		definition.Description,
		definition.EntityType,
		definition.Active,
		factSchemaJSON,
		definition.CreatedAt,
		definition.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert definition %s: %w", definition.Name, err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM definition_steps WHERE definition_name = $1", definition.Name)
	if err != nil {
		return fmt.Errorf("failed to clear steps for definition %s: %w", definition.Name, err)
	}

	insertStep := `
		INSERT INTO definition_steps
			(definition_name, step_order, name, approver_role, requires_approval, optional, condition_field, condition_expression)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, step := range definition.Steps {
		_, err = tx.ExecContext(ctx, insertStep,
			definition.Name,
			step.Order,
			step.Name,
			step.ApproverRole,
			step.RequiresApproval,
			step.Optional,
			nullableString(step.ConditionField),
			nullableString(step.ConditionExpression),
		)
		if err != nil {
			return fmt.Errorf("failed to insert step %d of definition %s: %w", step.Order, definition.Name, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit definition %s: %w", definition.Name, err)
	}

	return nil
}

// GetByName returns a definition with its ordered steps, or nil when absent.
func (r *DefinitionRepository) GetByName(ctx context.Context, name string) (*models.Definition, error) {
	query := `
		SELECT
			name
		  , description
		  , entity_type
		  , active
		  , fact_schema
		  , created_at
		  , updated_at
		FROM definitions
		WHERE name = $1
	`

	definition, err := r.scanDefinition(r.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan definition %s: %w", name, err)
	}

	if err := r.loadSteps(ctx, definition); err != nil {
		return nil, err
	}

	return definition, nil
}

// List returns definitions matching the options, sorted by name.
func (r *DefinitionRepository) List(ctx context.Context, opts persistence.ListDefinitionsOptions) ([]*models.Definition, error) {
	query := `
		SELECT
			name
		  , description
		  , entity_type
		  , active
		  , fact_schema
		  , created_at
		  , updated_at
		FROM definitions
		WHERE ($1 = '' OR entity_type = $1)
		  AND (NOT $2 OR active)
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query, opts.EntityType, opts.ActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query definitions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	definitions := make([]*models.Definition, 0)

	for rows.Next() {
		definition, err := r.scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}

		definitions = append(definitions, definition)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating definitions: %w", err)
	}

	for _, definition := range definitions {
		if err := r.loadSteps(ctx, definition); err != nil {
			return nil, err
		}
	}

	return definitions, nil
}

// ActiveByEntityType returns the active definition for the type, or nil.
func (r *DefinitionRepository) ActiveByEntityType(ctx context.Context, entityType string) (*models.Definition, error) {
	query := `
		SELECT
			name
		  , description
		  , entity_type
		  , active
		  , fact_schema
		  , created_at
		  , updated_at
		FROM definitions
		WHERE entity_type = $1 AND active
	`

	definition, err := r.scanDefinition(r.db.QueryRowContext(ctx, query, entityType))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan active definition for %s: %w", entityType, err)
	}

	if err := r.loadSteps(ctx, definition); err != nil {
		return nil, err
	}

	return definition, nil
}

// SetActive atomically swaps the active definition for the entity type.
func (r *DefinitionRepository) SetActive(ctx context.Context, name string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var entityType string

	err = tx.QueryRowContext(ctx, "SELECT entity_type FROM definitions WHERE name = $1 FOR UPDATE", name).Scan(&entityType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = persistence.NewDefinitionError("SetActive", name, persistence.ErrDefinitionNotFound)
		}

		return err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE definitions SET active = false, updated_at = NOW() WHERE entity_type = $1 AND active", entityType)
	if err != nil {
		return fmt.Errorf("failed to deactivate definitions for %s: %w", entityType, err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE definitions SET active = true, updated_at = NOW() WHERE name = $1", name)
	if err != nil {
		return fmt.Errorf("failed to activate definition %s: %w", name, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit activation of %s: %w", name, err)
	}

	return nil
}

// SetInactive marks the named definition inactive.
func (r *DefinitionRepository) SetInactive(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE definitions SET active = false, updated_at = NOW() WHERE name = $1", name)
	if err != nil {
		return fmt.Errorf("failed to deactivate definition %s: %w", name, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewDefinitionError("SetInactive", name, persistence.ErrDefinitionNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *DefinitionRepository) scanDefinition(row rowScanner) (*models.Definition, error) {
	var (
		definition     models.Definition
		factSchemaJSON []byte
	)

	err := row.Scan(
		&definition.Name,
		&definition.Description,
		&definition.EntityType,
		&definition.Active,
		&factSchemaJSON,
		&definition.CreatedAt,
		&definition.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(factSchemaJSON) > 0 {
		if err := json.Unmarshal(factSchemaJSON, &definition.FactSchema); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fact schema: %w", err)
		}
	}

	return &definition, nil
}

func (r *DefinitionRepository) loadSteps(ctx context.Context, definition *models.Definition) error {
	query := `
		SELECT
			step_order
		  , name
		  , approver_role
		  , requires_approval
		  , optional
		  , condition_field
		  , condition_expression
		FROM definition_steps
		WHERE definition_name = $1
		ORDER BY step_order
	`

	rows, err := r.db.QueryContext(ctx, query, definition.Name)
	if err != nil {
		return fmt.Errorf("failed to query steps for definition %s: %w", definition.Name, err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	definition.Steps = make([]*models.Step, 0)

	for rows.Next() {
		var (
			step                models.Step
			conditionField      sql.NullString
			conditionExpression sql.NullString
		)

		err = rows.Scan(
			&step.Order,
			&step.Name,
			&step.ApproverRole,
			&step.RequiresApproval,
			&step.Optional,
			&conditionField,
			&conditionExpression,
		)
		if err != nil {
			return fmt.Errorf("failed to scan step for definition %s: %w", definition.Name, err)
		}

		step.ConditionField = conditionField.String
		step.ConditionExpression = conditionExpression.String

		definition.Steps = append(definition.Steps, &step)
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating steps for definition %s: %w", definition.Name, err)
	}

	return nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
