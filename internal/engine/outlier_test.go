package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradebook-api/internal/models"
)

func singleAssignmentCourse() models.Course {
	return models.Course{
		ID: "c1",
		Assignments: []models.Assignment{
			{ID: "a1", CourseID: "c1", Title: "Exam", MaxScore: 100, Weight: 1.0, Active: true},
		},
	}
}

func TestDetectOutliersStatistical(t *testing.T) {
	// Scores 50, 51, 52, 49, 50, 100: mean ~58.67, population stddev ~18.51.
	// Only 100 sits beyond two standard deviations (z ~ 2.23).
	course := singleAssignmentCourse()
	students := []string{"s1", "s2", "s3", "s4", "s5", "s6"}
	records := []models.GradeRecord{
		record("s1", "a1", score(50)),
		record("s2", "a1", score(51)),
		record("s3", "a1", score(52)),
		record("s4", "a1", score(49)),
		record("s5", "a1", score(50)),
		record("s6", "a1", score(100)),
	}

	flags := DetectOutliers(course, students, records)
	require.Len(t, flags, 1)
	assert.Equal(t, models.FlagStatistical, flags[0].Kind)
	assert.Equal(t, "s6", flags[0].StudentID)
	assert.Equal(t, "a1", flags[0].AssignmentID)
}

func TestDetectOutliersTightClusterNotFlagged(t *testing.T) {
	// Scores 50, 52, 51, 49, 100: the extreme value lands at z ~ 2.00,
	// which does not exceed the strict threshold.
	course := singleAssignmentCourse()
	students := []string{"s1", "s2", "s3", "s4", "s5"}
	records := []models.GradeRecord{
		record("s1", "a1", score(50)),
		record("s2", "a1", score(52)),
		record("s3", "a1", score(51)),
		record("s4", "a1", score(49)),
		record("s5", "a1", score(100)),
	}

	flags := DetectOutliers(course, students, records)
	assert.Empty(t, flags)
}

func TestDetectOutliersSkipsStatsBelowMinimum(t *testing.T) {
	// Two scored students: too few for the statistical check even though
	// the spread is extreme.
	course := singleAssignmentCourse()
	records := []models.GradeRecord{
		record("s1", "a1", score(0)),
		record("s2", "a1", score(100)),
	}

	flags := DetectOutliers(course, []string{"s1", "s2"}, records)
	assert.Empty(t, flags)
}

func TestDetectOutliersZeroStdDevSkipped(t *testing.T) {
	course := singleAssignmentCourse()
	records := []models.GradeRecord{
		record("s1", "a1", score(75)),
		record("s2", "a1", score(75)),
		record("s3", "a1", score(75)),
	}

	flags := DetectOutliers(course, []string{"s1", "s2", "s3"}, records)
	assert.Empty(t, flags)
}

func TestDetectOutliersMissing(t *testing.T) {
	course := singleAssignmentCourse()
	records := []models.GradeRecord{
		record("s1", "a1", score(80)),
		record("s3", "a1", nil),
	}

	flags := DetectOutliers(course, []string{"s1", "s2", "s3"}, records)
	require.Len(t, flags, 2)
	assert.Equal(t, models.FlagMissing, flags[0].Kind)
	assert.Equal(t, "s2", flags[0].StudentID)
	assert.Equal(t, models.FlagMissing, flags[1].Kind)
	assert.Equal(t, "s3", flags[1].StudentID)
}

func TestDetectOutliersOutOfRange(t *testing.T) {
	course := singleAssignmentCourse()
	records := []models.GradeRecord{
		record("s1", "a1", score(105)),
		record("s2", "a1", score(-3)),
	}

	flags := DetectOutliers(course, []string{"s1", "s2"}, records)
	require.Len(t, flags, 2)
	for _, f := range flags {
		assert.Equal(t, models.FlagOutOfRange, f.Kind)
	}
}

func TestDetectOutliersDeterministicOrder(t *testing.T) {
	course := models.Course{
		ID: "c1",
		Assignments: []models.Assignment{
			{ID: "a2", CourseID: "c1", Title: "Final", MaxScore: 100, Weight: 0.5, Active: true},
			{ID: "a1", CourseID: "c1", Title: "Midterm", MaxScore: 100, Weight: 0.5, Active: true},
		},
	}
	records := []models.GradeRecord{
		record("s3", "a2", score(70)),
		record("s1", "a1", score(60)),
	}

	first := DetectOutliers(course, []string{"s3", "s1", "s2"}, records)

	shuffledStudents := []string{"s2", "s3", "s1"}
	shuffledRecords := []models.GradeRecord{records[1], records[0]}
	second := DetectOutliers(course, shuffledStudents, shuffledRecords)

	assert.Equal(t, first, second)

	// Flags within a kind come out sorted by assignment then student.
	require.Len(t, first, 4)
	assert.Equal(t, "a1", first[0].AssignmentID)
	assert.Equal(t, "s2", first[0].StudentID)
	assert.Equal(t, "a1", first[1].AssignmentID)
	assert.Equal(t, "s3", first[1].StudentID)
	assert.Equal(t, "a2", first[2].AssignmentID)
	assert.Equal(t, "s1", first[2].StudentID)
	assert.Equal(t, "a2", first[3].AssignmentID)
	assert.Equal(t, "s2", first[3].StudentID)
}

func TestDetectOutliersIgnoresInactiveAssignments(t *testing.T) {
	course := singleAssignmentCourse()
	course.Assignments = append(course.Assignments, models.Assignment{
		ID: "a-old", CourseID: "c1", Title: "Dropped quiz", MaxScore: 10, Weight: 0.2, Active: false,
	})
	records := []models.GradeRecord{
		record("s1", "a1", score(80)),
		record("s1", "a-old", score(9)),
	}

	flags := DetectOutliers(course, []string{"s1"}, records)
	assert.Empty(t, flags)
}
