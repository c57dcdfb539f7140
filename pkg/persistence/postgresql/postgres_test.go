//go:build integration
// +build integration

package postgresql

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lumahr/approvalflow/pkg/models"
	"github.com/lumahr/approvalflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func TestMain(m *testing.M) {
	code := m.Run()

	if postgresContainer != nil {
		_ = postgresContainer.Terminate(context.Background())
	}

	os.Exit(code)
}

// setupTestDB creates a test PostgreSQL database for testing.
func setupTestDB(t *testing.T) (*Persistence, context.Context) {
	t.Helper()

	ctx := context.Background()

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error
		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("approvalflow_test"),
			postgres.WithUsername("approvalflow"),
			postgres.WithPassword("approvalflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	cleanupDB(t, databaseURL)

	return p, ctx
}

func cleanupDB(t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer db.Close()

	_, err = db.ExecContext(context.Background(),
		"TRUNCATE TABLE decisions, instances, definition_steps, definitions")
	require.NoError(t, err)
}

func testDefinition(name string) *models.Definition {
	now := time.Now().UTC().Truncate(time.Microsecond)

	return &models.Definition{
		Name:        name,
		Description: "Leave request approval",
		EntityType:  "LEAVE_REQUEST",
		Steps: []*models.Step{
			{
				Order: 1, Name: "Manager", ApproverRole: "manager",
				RequiresApproval: true, ConditionField: "days", ConditionExpression: ">7",
			},
			{Order: 2, Name: "HR", ApproverRole: "hr", RequiresApproval: true},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testInstance(definition *models.Definition) *models.Instance {
	currentStep := 1

	return &models.Instance{
		ID:             uuid.NewString(),
		DefinitionName: definition.Name,
		EntityType:     definition.EntityType,
		EntityID:       "leave-1",
		Status:         models.InstanceStatusPending,
		CurrentStep:    &currentStep,
		CurrentRole:    "manager",
		Initiator:      "ivan",
		Facts:          models.FactSet{"days": float64(9)},
		Steps: []*models.StepState{
			{Step: *definition.Steps[0], Included: true},
			{Step: *definition.Steps[1], Included: true},
		},
		Version:   1,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestDefinitionRepository_SaveAndGet(t *testing.T) {
	p, ctx := setupTestDB(t)

	definition := testDefinition("leave-approval")
	require.NoError(t, p.Definitions().Save(ctx, definition))

	fetched, err := p.Definitions().GetByName(ctx, "leave-approval")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, "LEAVE_REQUEST", fetched.EntityType)
	require.Len(t, fetched.Steps, 2)
	assert.Equal(t, ">7", fetched.Steps[0].ConditionExpression)

	missing, err := p.Definitions().GetByName(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDefinitionRepository_SaveReplacesSteps(t *testing.T) {
	p, ctx := setupTestDB(t)

	definition := testDefinition("leave-approval")
	require.NoError(t, p.Definitions().Save(ctx, definition))

	definition.Steps = []*models.Step{
		{Order: 1, Name: "Director", ApproverRole: "director", RequiresApproval: true},
	}
	require.NoError(t, p.Definitions().Save(ctx, definition))

	fetched, err := p.Definitions().GetByName(ctx, "leave-approval")
	require.NoError(t, err)
	require.Len(t, fetched.Steps, 1)
	assert.Equal(t, "director", fetched.Steps[0].ApproverRole)
}

func TestDefinitionRepository_ExclusiveActivation(t *testing.T) {
	p, ctx := setupTestDB(t)

	first := testDefinition("leave-v1")
	second := testDefinition("leave-v2")
	require.NoError(t, p.Definitions().Save(ctx, first))
	require.NoError(t, p.Definitions().Save(ctx, second))

	require.NoError(t, p.Definitions().SetActive(ctx, "leave-v1"))
	require.NoError(t, p.Definitions().SetActive(ctx, "leave-v2"))

	active, err := p.Definitions().ActiveByEntityType(ctx, "LEAVE_REQUEST")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "leave-v2", active.Name)

	v1, err := p.Definitions().GetByName(ctx, "leave-v1")
	require.NoError(t, err)
	assert.False(t, v1.Active)

	err = p.Definitions().SetActive(ctx, "nope")
	require.Error(t, err)
	assert.True(t, persistence.IsDefinitionNotFound(err))
}

func TestInstanceRepository_CreateAndGet(t *testing.T) {
	p, ctx := setupTestDB(t)

	definition := testDefinition("leave-approval")
	require.NoError(t, p.Definitions().Save(ctx, definition))

	instance := testInstance(definition)
	decisions := []*models.Decision{{
		InstanceID: instance.ID,
		Seq:        1,
		StepOrder:  1,
		Kind:       models.DecisionAutoPassed,
		Actor:      models.SystemActor,
		CreatedAt:  instance.CreatedAt,
	}}

	require.NoError(t, p.Instances().Create(ctx, instance, decisions))

	fetched, err := p.Instances().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, models.InstanceStatusPending, fetched.Status)
	require.NotNil(t, fetched.CurrentStep)
	assert.Equal(t, 1, *fetched.CurrentStep)
	require.Len(t, fetched.Steps, 2)
	assert.True(t, fetched.Steps[0].Included)
	assert.Equal(t, float64(9), fetched.Facts["days"])

	trail, err := p.Instances().Decisions(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, models.DecisionAutoPassed, trail[0].Kind)
}

func TestInstanceRepository_CommitTransitionVersionConflict(t *testing.T) {
	p, ctx := setupTestDB(t)

	definition := testDefinition("leave-approval")
	require.NoError(t, p.Definitions().Save(ctx, definition))

	instance := testInstance(definition)
	require.NoError(t, p.Instances().Create(ctx, instance, nil))

	loaded, err := p.Instances().GetByID(ctx, instance.ID)
	require.NoError(t, err)

	stale, err := p.Instances().GetByID(ctx, instance.ID)
	require.NoError(t, err)

	next := 2
	loaded.Status = models.InstanceStatusInProgress
	loaded.CurrentStep = &next
	loaded.CurrentRole = "hr"

	decision := &models.Decision{
		InstanceID: instance.ID, Seq: 1, StepOrder: 1,
		Kind: models.DecisionApproved, Actor: "mallory",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, p.Instances().CommitTransition(ctx, loaded, []*models.Decision{decision}))
	assert.Equal(t, int64(2), loaded.Version)

	stale.Status = models.InstanceStatusCancelled
	err = p.Instances().CommitTransition(ctx, stale, nil)
	require.Error(t, err)
	assert.True(t, persistence.IsVersionConflict(err))
}

func TestInstanceRepository_List(t *testing.T) {
	p, ctx := setupTestDB(t)

	definition := testDefinition("leave-approval")
	require.NoError(t, p.Definitions().Save(ctx, definition))

	open := testInstance(definition)
	require.NoError(t, p.Instances().Create(ctx, open, nil))

	done := testInstance(definition)
	done.ID = uuid.NewString()
	done.EntityID = "leave-2"
	done.Status = models.InstanceStatusApproved
	done.CurrentStep = nil
	done.CurrentRole = ""
	completed := time.Now().UTC().Truncate(time.Microsecond)
	done.CompletedAt = &completed
	require.NoError(t, p.Instances().Create(ctx, done, nil))

	openOnly, err := p.Instances().List(ctx, persistence.ListInstancesOptions{OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, openOnly, 1)
	assert.Equal(t, open.ID, openOnly[0].ID)

	byRole, err := p.Instances().List(ctx, persistence.ListInstancesOptions{
		OpenOnly: true, CurrentRole: "manager",
	})
	require.NoError(t, err)
	assert.Len(t, byRole, 1)

	status := models.InstanceStatusApproved
	approved, err := p.Instances().List(ctx, persistence.ListInstancesOptions{Status: &status})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, done.ID, approved[0].ID)

	byEntity, err := p.Instances().List(ctx, persistence.ListInstancesOptions{
		EntityType: "LEAVE_REQUEST", EntityID: "leave-2",
	})
	require.NoError(t, err)
	require.Len(t, byEntity, 1)
	assert.Equal(t, done.ID, byEntity[0].ID)
}

func TestHealthCheck(t *testing.T) {
	p, ctx := setupTestDB(t)

	require.NoError(t, p.HealthCheck(ctx))
}
