package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDefinition() *Definition {
	return &Definition{
		Name:        "leave-approval",
		Description: "Standard leave approval",
		EntityType:  "LEAVE",
		Steps: []*Step{
			{Order: 1, Name: "Manager", ApproverRole: "manager", RequiresApproval: true},
			{Order: 2, Name: "HR", ApproverRole: "hr", RequiresApproval: true},
		},
	}
}

func TestDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Definition)
		wantErr error
	}{
		{
			name:    "valid definition passes",
			mutate:  func(d *Definition) {},
			wantErr: nil,
		},
		{
			name:    "no steps",
			mutate:  func(d *Definition) { d.Steps = nil },
			wantErr: ErrNoSteps,
		},
		{
			name:    "order gap",
			mutate:  func(d *Definition) { d.Steps[1].Order = 3 },
			wantErr: ErrStepOrderNotDense,
		},
		{
			name:    "order not starting at one",
			mutate:  func(d *Definition) { d.Steps[0].Order = 0 },
			wantErr: ErrStepOrderNotDense,
		},
		{
			name:    "duplicate order",
			mutate:  func(d *Definition) { d.Steps[1].Order = 1 },
			wantErr: ErrStepOrderNotDense,
		},
		{
			name:    "empty approver role",
			mutate:  func(d *Definition) { d.Steps[0].ApproverRole = "" },
			wantErr: ErrApproverRoleRequired,
		},
		{
			name:    "condition expression without field",
			mutate:  func(d *Definition) { d.Steps[0].ConditionExpression = ">7" },
			wantErr: ErrConditionIncomplete,
		},
		{
			name:    "condition field without expression",
			mutate:  func(d *Definition) { d.Steps[0].ConditionField = "days" },
			wantErr: ErrConditionIncomplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mutate(def)

			err := def.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestDefinition_ContentEquals(t *testing.T) {
	base := validDefinition()

	same := validDefinition()
	assert.True(t, base.ContentEquals(same))

	differentStep := validDefinition()
	differentStep.Steps[1].ApproverRole = "dept_head"
	assert.False(t, base.ContentEquals(differentStep))

	extraStep := validDefinition()
	extraStep.Steps = append(extraStep.Steps, &Step{Order: 3, Name: "CEO", ApproverRole: "ceo"})
	assert.False(t, base.ContentEquals(extraStep))

	differentSchema := validDefinition()
	differentSchema.FactSchema = map[string]any{"type": "object"}
	assert.False(t, base.ContentEquals(differentSchema))

	assert.False(t, base.ContentEquals(nil))
}

func TestInstance_CurrentStepState(t *testing.T) {
	two := 2
	instance := &Instance{
		Status:      InstanceStatusPending,
		CurrentStep: &two,
		Steps: []*StepState{
			{Step: Step{Order: 1, Name: "Manager", ApproverRole: "manager"}, Included: false},
			{Step: Step{Order: 2, Name: "HR", ApproverRole: "hr"}, Included: true},
		},
	}

	current := instance.CurrentStepState()
	require.NotNil(t, current)
	assert.Equal(t, 2, current.Order)
	assert.Equal(t, "hr", current.ApproverRole)

	instance.CurrentStep = nil
	assert.Nil(t, instance.CurrentStepState())

	assert.Nil(t, instance.StepByOrder(0))
	assert.Nil(t, instance.StepByOrder(3))
}

func TestInstanceStatus_OpenTerminal(t *testing.T) {
	assert.True(t, InstanceStatusPending.Open())
	assert.True(t, InstanceStatusInProgress.Open())
	assert.False(t, InstanceStatusApproved.Open())
	assert.True(t, InstanceStatusRejected.Terminal())
	assert.True(t, InstanceStatusCancelled.Terminal())
}
