package services

import (
	"log/slog"
	"testing"

	"github.com/lumahr/approvalflow/pkg/models"
	"github.com/lumahr/approvalflow/pkg/persistence"
	"github.com/lumahr/approvalflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	return NewRegistry(file.NewPersistence(t.TempDir()), slog.Default())
}

func leaveDefinition() *models.Definition {
	return &models.Definition{
		Name:        "leave-approval",
		Description: "Leave request approval",
		EntityType:  "LEAVE_REQUEST",
		Steps: []*models.Step{
			{Order: 1, Name: "Manager", ApproverRole: "manager", RequiresApproval: true},
			{Order: 2, Name: "HR", ApproverRole: "hr", RequiresApproval: true},
		},
	}
}

func TestRegistry_Register(t *testing.T) {
	registry := newTestRegistry(t)

	created, err := registry.Register(t.Context(), leaveDefinition())
	require.NoError(t, err)
	assert.False(t, created.Active)
	assert.False(t, created.CreatedAt.IsZero())

	fetched, err := registry.Get(t.Context(), "leave-approval")
	require.NoError(t, err)
	assert.Equal(t, "LEAVE_REQUEST", fetched.EntityType)
	assert.Len(t, fetched.Steps, 2)
}

func TestRegistry_RegisterIdenticalContentIsNoOp(t *testing.T) {
	registry := newTestRegistry(t)

	first, err := registry.Register(t.Context(), leaveDefinition())
	require.NoError(t, err)

	second, err := registry.Register(t.Context(), leaveDefinition())
	require.NoError(t, err)

	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
}

func TestRegistry_RegisterChangedContentPreservesActiveFlag(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.Register(t.Context(), leaveDefinition())
	require.NoError(t, err)
	require.NoError(t, registry.Activate(t.Context(), "leave-approval"))

	changed := leaveDefinition()
	changed.Steps = append(changed.Steps, &models.Step{
		Order: 3, Name: "Director", ApproverRole: "director", RequiresApproval: true,
	})

	updated, err := registry.Register(t.Context(), changed)
	require.NoError(t, err)
	assert.True(t, updated.Active)
	assert.Len(t, updated.Steps, 3)
}

func TestRegistry_RegisterRejectsInvalidDefinitions(t *testing.T) {
	registry := newTestRegistry(t)

	noSteps := leaveDefinition()
	noSteps.Steps = nil

	_, err := registry.Register(t.Context(), noSteps)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	sparse := leaveDefinition()
	sparse.Steps[1].Order = 5

	_, err = registry.Register(t.Context(), sparse)
	require.ErrorIs(t, err, models.ErrStepOrderNotDense)

	halfCondition := leaveDefinition()
	halfCondition.Steps[0].ConditionField = "days"

	_, err = registry.Register(t.Context(), halfCondition)
	require.ErrorIs(t, err, models.ErrConditionIncomplete)
}

func TestRegistry_RegisterRejectsBrokenFactSchema(t *testing.T) {
	registry := newTestRegistry(t)

	definition := leaveDefinition()
	definition.FactSchema = map[string]any{
		"type":     "object",
		"required": "days",
	}

	_, err := registry.Register(t.Context(), definition)
	require.ErrorIs(t, err, ErrInvalidFactSchema)
}

func TestRegistry_ExclusiveActivation(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.Register(t.Context(), leaveDefinition())
	require.NoError(t, err)

	other := leaveDefinition()
	other.Name = "leave-approval-v2"
	other.Description = "Second version"

	_, err = registry.Register(t.Context(), other)
	require.NoError(t, err)

	require.NoError(t, registry.Activate(t.Context(), "leave-approval"))

	active, err := registry.ActiveFor(t.Context(), "LEAVE_REQUEST")
	require.NoError(t, err)
	assert.Equal(t, "leave-approval", active.Name)

	require.NoError(t, registry.Activate(t.Context(), "leave-approval-v2"))

	active, err = registry.ActiveFor(t.Context(), "LEAVE_REQUEST")
	require.NoError(t, err)
	assert.Equal(t, "leave-approval-v2", active.Name)

	first, err := registry.Get(t.Context(), "leave-approval")
	require.NoError(t, err)
	assert.False(t, first.Active)
}

func TestRegistry_Deactivate(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.Register(t.Context(), leaveDefinition())
	require.NoError(t, err)
	require.NoError(t, registry.Activate(t.Context(), "leave-approval"))
	require.NoError(t, registry.Deactivate(t.Context(), "leave-approval"))

	_, err = registry.ActiveFor(t.Context(), "LEAVE_REQUEST")
	require.Error(t, err)
	assert.True(t, persistence.IsActiveDefinitionNotFound(err))
}

func TestRegistry_GetNotFound(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.Get(t.Context(), "nope")
	require.Error(t, err)
	assert.True(t, IsNotFoundError(err))
}

func TestRegistry_ActivateUnknownDefinition(t *testing.T) {
	registry := newTestRegistry(t)

	err := registry.Activate(t.Context(), "nope")
	require.Error(t, err)
	assert.True(t, IsNotFoundError(err))
}

func TestRegistry_List(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.Register(t.Context(), leaveDefinition())
	require.NoError(t, err)

	expense := leaveDefinition()
	expense.Name = "expense-approval"
	expense.EntityType = "EXPENSE"

	_, err = registry.Register(t.Context(), expense)
	require.NoError(t, err)

	all, err := registry.List(t.Context(), persistence.ListDefinitionsOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	leaves, err := registry.List(t.Context(), persistence.ListDefinitionsOptions{EntityType: "LEAVE_REQUEST"})
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.Equal(t, "leave-approval", leaves[0].Name)
}
