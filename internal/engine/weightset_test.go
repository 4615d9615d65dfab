package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradebook-api/internal/models"
)

func courseWithWeights(weights ...float64) models.Course {
	course := models.Course{ID: "c1", Code: "CS101", Name: "Intro"}
	for i, w := range weights {
		course.Assignments = append(course.Assignments, models.Assignment{
			ID:       string(rune('a' + i)),
			CourseID: "c1",
			MaxScore: 100,
			Weight:   w,
			Active:   true,
		})
	}
	return course
}

func TestCheckWeightsValid(t *testing.T) {
	assert.NoError(t, CheckWeights(courseWithWeights(0.4, 0.6)))
	assert.NoError(t, CheckWeights(courseWithWeights(1.0)))
	assert.NoError(t, CheckWeights(courseWithWeights(0.25, 0.25, 0.25, 0.25)))
	// Drift inside the tolerance still passes.
	assert.NoError(t, CheckWeights(courseWithWeights(0.3, 0.3, 0.4000005)))
}

func TestCheckWeightsInvalidSumCarried(t *testing.T) {
	err := CheckWeights(courseWithWeights(0.4, 0.5))
	var wErr *WeightError
	require.ErrorAs(t, err, &wErr)
	assert.InDelta(t, 0.9, wErr.Sum, 1e-9)
	assert.Equal(t, "c1", wErr.CourseID)

	err = CheckWeights(courseWithWeights(0.7, 0.7))
	require.ErrorAs(t, err, &wErr)
	assert.InDelta(t, 1.4, wErr.Sum, 1e-9)
}

func TestCheckWeightsNoAssignmentsIsIncompleteSetup(t *testing.T) {
	err := CheckWeights(models.Course{ID: "c1"})
	var setupErr *IncompleteSetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, "c1", setupErr.CourseID)
}

func TestCheckWeightsIgnoresInactiveAssignments(t *testing.T) {
	course := courseWithWeights(0.4, 0.6)
	course.Assignments = append(course.Assignments, models.Assignment{ID: "z", CourseID: "c1", MaxScore: 100, Weight: 0.5, Active: false})
	assert.NoError(t, CheckWeights(course))
}
