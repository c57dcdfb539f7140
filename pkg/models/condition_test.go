package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStep_Included_NoCondition(t *testing.T) {
	step := &Step{Order: 1, Name: "Manager", ApproverRole: "manager"}

	included, err := step.Included(FactSet{})
	require.NoError(t, err)
	assert.True(t, included)

	included, err = step.Included(nil)
	require.NoError(t, err)
	assert.True(t, included)
}

func TestStep_Included_Comparisons(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		facts      FactSet
		want       bool
	}{
		{
			name:       "strict greater includes above threshold",
			expression: ">7",
			facts:      FactSet{"days": 8},
			want:       true,
		},
		{
			name:       "strict greater excludes at threshold",
			expression: ">7",
			facts:      FactSet{"days": 7},
			want:       false,
		},
		{
			name:       "less than",
			expression: "<3",
			facts:      FactSet{"days": float64(2)},
			want:       true,
		},
		{
			name:       "greater or equal at threshold",
			expression: ">=7",
			facts:      FactSet{"days": 7},
			want:       true,
		},
		{
			name:       "less or equal above threshold",
			expression: "<=7",
			facts:      FactSet{"days": 7.5},
			want:       false,
		},
		{
			name:       "equality",
			expression: "==0",
			facts:      FactSet{"days": 0},
			want:       true,
		},
		{
			name:       "json number fact",
			expression: ">7",
			facts:      FactSet{"days": json.Number("9")},
			want:       true,
		},
		{
			name:       "numeric string fact",
			expression: ">7",
			facts:      FactSet{"days": "10"},
			want:       true,
		},
		{
			name:       "whitespace around expression",
			expression: " > 7 ",
			facts:      FactSet{"days": 8},
			want:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := &Step{
				Order:               1,
				Name:                "Manager",
				ApproverRole:        "manager",
				ConditionField:      "days",
				ConditionExpression: tt.expression,
			}

			included, err := step.Included(tt.facts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, included)
		})
	}
}

func TestStep_Included_Errors(t *testing.T) {
	tests := []struct {
		name       string
		field      string
		expression string
		facts      FactSet
		wantErr    error
	}{
		{
			name:       "missing fact fails fast",
			field:      "days",
			expression: ">7",
			facts:      FactSet{"amount": 100},
			wantErr:    ErrMissingFact,
		},
		{
			name:       "unknown operator",
			field:      "days",
			expression: "!=7",
			facts:      FactSet{"days": 7},
			wantErr:    ErrInvalidCondition,
		},
		{
			name:       "non-numeric literal",
			field:      "days",
			expression: ">many",
			facts:      FactSet{"days": 7},
			wantErr:    ErrInvalidCondition,
		},
		{
			name:       "non-numeric fact",
			field:      "days",
			expression: ">7",
			facts:      FactSet{"days": map[string]any{}},
			wantErr:    ErrInvalidCondition,
		},
		{
			name:       "empty expression",
			field:      "days",
			expression: "",
			facts:      FactSet{"days": 7},
			wantErr:    ErrInvalidCondition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := &Step{
				Order:               2,
				Name:                "Dept Head",
				ApproverRole:        "dept_head",
				ConditionField:      tt.field,
				ConditionExpression: tt.expression,
			}

			_, err := step.Included(tt.facts)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
