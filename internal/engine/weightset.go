package engine

import (
	"math"

	"github.com/noah-isme/gradebook-api/internal/models"
)

// WeightTolerance is the permitted floating-point drift on the weight sum.
const WeightTolerance = 1e-6

// CheckWeights verifies that the active assignment weights of a course sum to
// 1.0 within WeightTolerance. A course without active assignments is reported
// as IncompleteSetupError; callers must branch on that before treating the
// course as having a broken weight partition.
func CheckWeights(course models.Course) error {
	active := course.ActiveAssignments()
	if len(active) == 0 {
		return &IncompleteSetupError{CourseID: course.ID}
	}
	sum := 0.0
	for _, a := range active {
		sum += a.Weight
	}
	if math.Abs(sum-1.0) > WeightTolerance {
		return &WeightError{CourseID: course.ID, Sum: sum}
	}
	return nil
}
