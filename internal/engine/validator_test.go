package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradebook-api/internal/models"
)

func TestValidateAssignment(t *testing.T) {
	tests := []struct {
		name      string
		maxScore  float64
		weight    float64
		wantField string
	}{
		{name: "valid", maxScore: 100, weight: 0.4},
		{name: "full weight", maxScore: 50, weight: 1},
		{name: "zero max score", maxScore: 0, weight: 0.5, wantField: "max_score"},
		{name: "negative max score", maxScore: -10, weight: 0.5, wantField: "max_score"},
		{name: "zero weight", maxScore: 100, weight: 0, wantField: "weight"},
		{name: "negative weight", maxScore: 100, weight: -0.1, wantField: "weight"},
		{name: "weight above one", maxScore: 100, weight: 1.01, wantField: "weight"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAssignment(models.Assignment{ID: "a1", Title: "Quiz", MaxScore: tt.maxScore, Weight: tt.weight, Active: true})
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
		})
	}
}

func TestValidateScore(t *testing.T) {
	assert.NoError(t, ValidateScore(0, 100))
	assert.NoError(t, ValidateScore(100, 100))
	assert.NoError(t, ValidateScore(42.5, 100))

	var vErr *ValidationError
	require.ErrorAs(t, ValidateScore(-0.01, 100), &vErr)
	assert.Equal(t, "score", vErr.Field)

	require.ErrorAs(t, ValidateScore(100.01, 100), &vErr)
	assert.Equal(t, "score", vErr.Field)
	assert.Equal(t, 100.01, vErr.Value)
}
