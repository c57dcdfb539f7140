package file

import (
	"context"
	"testing"
	"time"

	"github.com/lumahr/approvalflow/pkg/models"
	"github.com/lumahr/approvalflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingInstance(id string) *models.Instance {
	one := 1

	return &models.Instance{
		ID:             id,
		DefinitionName: "leave-standard",
		EntityType:     "LEAVE",
		EntityID:       "leave-42",
		Status:         models.InstanceStatusPending,
		CurrentStep:    &one,
		CurrentRole:    "manager",
		Initiator:      "emp-7",
		Facts:          models.FactSet{"days": float64(3)},
		Steps: []*models.StepState{
			{Step: models.Step{Order: 1, Name: "Manager", ApproverRole: "manager", RequiresApproval: true}, Included: true},
		},
		Version:   1,
		CreatedAt: time.Now().UTC(),
	}
}

func TestInstanceRepository_CreateAndGet(t *testing.T) {
	repo := NewInstanceRepository(t.TempDir())
	ctx := context.Background()

	instance := pendingInstance("inst-1")
	require.NoError(t, repo.Create(ctx, instance, nil))

	loaded, err := repo.GetByID(ctx, "inst-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, models.InstanceStatusPending, loaded.Status)
	require.NotNil(t, loaded.CurrentStep)
	assert.Equal(t, 1, *loaded.CurrentStep)
	assert.Equal(t, float64(3), loaded.Facts["days"])
	require.Len(t, loaded.Steps, 1)
	assert.True(t, loaded.Steps[0].Included)

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInstanceRepository_Create_Duplicate(t *testing.T) {
	repo := NewInstanceRepository(t.TempDir())
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, pendingInstance("inst-1"), nil))

	err := repo.Create(ctx, pendingInstance("inst-1"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrInstanceAlreadyExists)
}

func TestInstanceRepository_CommitTransition_VersionCheck(t *testing.T) {
	repo := NewInstanceRepository(t.TempDir())
	ctx := context.Background()

	instance := pendingInstance("inst-1")
	require.NoError(t, repo.Create(ctx, instance, nil))

	decision := &models.Decision{
		InstanceID: "inst-1",
		Seq:        1,
		StepOrder:  1,
		Kind:       models.DecisionApproved,
		Actor:      "mgr-1",
		CreatedAt:  time.Now().UTC(),
	}

	now := time.Now().UTC()
	instance.Status = models.InstanceStatusApproved
	instance.CurrentStep = nil
	instance.CurrentRole = ""
	instance.CompletedAt = &now

	require.NoError(t, repo.CommitTransition(ctx, instance, []*models.Decision{decision}))
	assert.Equal(t, int64(2), instance.Version)

	loaded, err := repo.GetByID(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusApproved, loaded.Status)
	assert.Nil(t, loaded.CurrentStep)

	// A commit carrying the stale version must conflict and change nothing.
	stale := pendingInstance("inst-1")
	stale.Version = 1

	err = repo.CommitTransition(ctx, stale, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrVersionConflict)
	assert.True(t, persistence.IsVersionConflict(err))

	reloaded, err := repo.GetByID(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusApproved, reloaded.Status)
}

func TestInstanceRepository_CommitTransition_UnknownInstance(t *testing.T) {
	repo := NewInstanceRepository(t.TempDir())

	err := repo.CommitTransition(context.Background(), pendingInstance("ghost"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrInstanceNotFound)
}

func TestInstanceRepository_Decisions_Ordering(t *testing.T) {
	repo := NewInstanceRepository(t.TempDir())
	ctx := context.Background()

	instance := pendingInstance("inst-1")
	created := []*models.Decision{
		{InstanceID: "inst-1", Seq: 1, StepOrder: 1, Kind: models.DecisionSkipped, Actor: models.SystemActor},
	}
	require.NoError(t, repo.Create(ctx, instance, created))

	more := []*models.Decision{
		{InstanceID: "inst-1", Seq: 2, StepOrder: 2, Kind: models.DecisionApproved, Actor: "mgr-1"},
		{InstanceID: "inst-1", Seq: 3, StepOrder: 3, Kind: models.DecisionAutoPassed, Actor: models.SystemActor},
	}
	require.NoError(t, repo.CommitTransition(ctx, instance, more))

	decisions, err := repo.Decisions(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, decisions, 3)

	for i, decision := range decisions {
		assert.Equal(t, i+1, decision.Seq)
	}

	assert.Equal(t, models.DecisionSkipped, decisions[0].Kind)
	assert.Equal(t, models.DecisionApproved, decisions[1].Kind)
	assert.Equal(t, models.DecisionAutoPassed, decisions[2].Kind)
}

func TestInstanceRepository_List_Filters(t *testing.T) {
	repo := NewInstanceRepository(t.TempDir())
	ctx := context.Background()

	open := pendingInstance("inst-open")
	require.NoError(t, repo.Create(ctx, open, nil))

	closed := pendingInstance("inst-closed")
	closed.Status = models.InstanceStatusRejected
	closed.CurrentStep = nil
	closed.CurrentRole = ""
	require.NoError(t, repo.Create(ctx, closed, nil))

	other := pendingInstance("inst-other")
	other.EntityType = "ADVANCE"
	other.CurrentRole = "finance"
	require.NoError(t, repo.Create(ctx, other, nil))

	openOnly, err := repo.List(ctx, persistence.ListInstancesOptions{OpenOnly: true})
	require.NoError(t, err)
	assert.Len(t, openOnly, 2)

	managers, err := repo.List(ctx, persistence.ListInstancesOptions{OpenOnly: true, CurrentRole: "manager"})
	require.NoError(t, err)
	require.Len(t, managers, 1)
	assert.Equal(t, "inst-open", managers[0].ID)

	rejected := models.InstanceStatusRejected
	terminal, err := repo.List(ctx, persistence.ListInstancesOptions{Status: &rejected})
	require.NoError(t, err)
	require.Len(t, terminal, 1)
	assert.Equal(t, "inst-closed", terminal[0].ID)

	advances, err := repo.List(ctx, persistence.ListInstancesOptions{EntityType: "ADVANCE"})
	require.NoError(t, err)
	require.Len(t, advances, 1)
	assert.Equal(t, "inst-other", advances[0].ID)
}
