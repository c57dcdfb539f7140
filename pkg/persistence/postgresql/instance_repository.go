package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lumahr/approvalflow/pkg/models"
	"github.com/lumahr/approvalflow/pkg/persistence"
)

// InstanceRepository handles instance and decision database operations. The
// step snapshot and fact set travel as JSONB on the instance row; decisions
// get their own append-only table.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

// Create inserts the instance and its creation-time decisions in one transaction.
func (r *InstanceRepository) Create(ctx context.Context, instance *models.Instance, decisions []*models.Decision) error {
	factsJSON, err := json.Marshal(instance.Facts)
	if err != nil {
		return fmt.Errorf("failed to marshal facts for instance %s: %w", instance.ID, err)
	}

	stepsJSON, err := json.Marshal(instance.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps for instance %s: %w", instance.ID, err)
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

	insert := `
		INSERT INTO instances
			(id, definition_name, entity_type, entity_id, status, current_step, current_role,
			 initiator, facts, steps, version, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = tx.ExecContext(ctx, insert,
		instance.ID,
		instance.DefinitionName,
		instance.EntityType,
		instance.EntityID,
		string(instance.Status),
		instance.CurrentStep,
		nullableString(instance.CurrentRole),
		instance.Initiator,
		factsJSON,
		stepsJSON,
		instance.Version,
		instance.CreatedAt,
		instance.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert instance %s: %w", instance.ID, err)
	}

	err = insertDecisions(ctx, tx, decisions)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit instance %s: %w", instance.ID, err)
	}

	return nil
}

// GetByID returns the instance or nil when absent.
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	query := selectInstances + " WHERE id = $1"

	instance, err := scanInstance(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan instance %s: %w", id, err)
	}

	return instance, nil
}

// List returns instances matching the options, oldest first.
func (r *InstanceRepository) List(ctx context.Context, opts persistence.ListInstancesOptions) ([]*models.Instance, error) {
	query := selectInstances + `
		WHERE ($1 = '' OR status = $1)
		  AND (NOT $2 OR status IN ('PENDING', 'IN_PROGRESS'))
		  AND ($3 = '' OR entity_type = $3)
		  AND ($4 = '' OR entity_id = $4)
		  AND ($5 = '' OR current_role = $5)
		ORDER BY created_at
	`

	status := ""
	if opts.Status != nil {
		status = string(*opts.Status)
	}

	rows, err := r.db.QueryContext(ctx, query, status, opts.OpenOnly, opts.EntityType, opts.EntityID, opts.CurrentRole)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	instances := make([]*models.Instance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

// CommitTransition updates the instance's mutable state under the optimistic
// version check and appends the decisions, all in one transaction.
func (r *InstanceRepository) CommitTransition(ctx context.Context, instance *models.Instance, decisions []*models.Decision) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	update := `
		UPDATE instances
		SET status = $1, current_step = $2, current_role = $3, completed_at = $4, version = version + 1
		WHERE id = $5 AND version = $6
	`

	result, err := tx.ExecContext(ctx, update,
		string(instance.Status),
		instance.CurrentStep,
		nullableString(instance.CurrentRole),
		instance.CompletedAt,
		instance.ID,
		instance.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance %s: %w", instance.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}

	if affected == 0 {
		var exists bool

		err = tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM instances WHERE id = $1)", instance.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check instance %s: %w", instance.ID, err)
		}

		if !exists {
			err = persistence.NewInstanceError("CommitTransition", instance.ID, persistence.ErrInstanceNotFound)

			return err
		}

		err = persistence.NewInstanceError("CommitTransition", instance.ID, persistence.ErrVersionConflict)

		return err
	}

	err = insertDecisions(ctx, tx, decisions)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transition for instance %s: %w", instance.ID, err)
	}

	instance.Version++

	return nil
}

// Decisions returns the instance's trail ordered by sequence.
func (r *InstanceRepository) Decisions(ctx context.Context, instanceID string) ([]*models.Decision, error) {
	query := `
		SELECT
			instance_id
		  , seq
		  , step_order
		  , kind
		  , actor
		  , comment
		  , idempotency_token
		  , created_at
		FROM decisions
		WHERE instance_id = $1
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions for instance %s: %w", instanceID, err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	decisions := make([]*models.Decision, 0)

	for rows.Next() {
		var (
			decision models.Decision
			kind     string
			token    sql.NullString
		)

		err = rows.Scan(
			&decision.InstanceID,
			&decision.Seq,
			&decision.StepOrder,
			&kind,
			&decision.Actor,
			&decision.Comment,
			&token,
			&decision.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}

		decision.Kind = models.DecisionKind(kind)
		decision.IdempotencyToken = token.String

		decisions = append(decisions, &decision)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}

	return decisions, nil
}

const selectInstances = `
	SELECT
		id
	  , definition_name
	  , entity_type
	  , entity_id
	  , status
	  , current_step
	  , current_role
	  , initiator
	  , facts
	  , steps
	  , version
	  , created_at
	  , completed_at
	FROM instances
`

func scanInstance(row rowScanner) (*models.Instance, error) {
	var (
		instance    models.Instance
		status      string
		currentStep sql.NullInt64
		currentRole sql.NullString
		factsJSON   []byte
		stepsJSON   []byte
		completedAt sql.NullTime
	)

	err := row.Scan(
		&instance.ID,
		&instance.DefinitionName,
		&instance.EntityType,
		&instance.EntityID,
		&status,
		&currentStep,
		&currentRole,
		&instance.Initiator,
		&factsJSON,
		&stepsJSON,
		&instance.Version,
		&instance.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	instance.Status = models.InstanceStatus(status)
	instance.CurrentRole = currentRole.String

	if currentStep.Valid {
		step := int(currentStep.Int64)
		instance.CurrentStep = &step
	}

	if completedAt.Valid {
		completed := completedAt.Time
		instance.CompletedAt = &completed
	}

	if err := json.Unmarshal(factsJSON, &instance.Facts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal facts: %w", err)
	}

	if err := json.Unmarshal(stepsJSON, &instance.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	return &instance, nil
}

func insertDecisions(ctx context.Context, tx *sql.Tx, decisions []*models.Decision) error {
	insert := `
		INSERT INTO decisions
			(instance_id, seq, step_order, kind, actor, comment, idempotency_token, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, decision := range decisions {
		_, err := tx.ExecContext(ctx, insert,
			decision.InstanceID,
			decision.Seq,
			decision.StepOrder,
			string(decision.Kind),
			decision.Actor,
			decision.Comment,
			nullableString(decision.IdempotencyToken),
			decision.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert decision %d for instance %s: %w", decision.Seq, decision.InstanceID, err)
		}
	}

	return nil
}
