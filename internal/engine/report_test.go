package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradebook-api/internal/models"
)

func TestBuildCourseReportStatistics(t *testing.T) {
	course := singleAssignmentCourse()
	students := []string{"s5", "s3", "s1", "s4", "s2"}
	records := []models.GradeRecord{
		record("s1", "a1", score(50)),
		record("s2", "a1", score(52)),
		record("s3", "a1", score(51)),
		record("s4", "a1", score(49)),
		record("s5", "a1", score(100)),
	}

	report, err := BuildCourseReport(course, students, records)
	require.NoError(t, err)

	require.Len(t, report.Finals, 5)
	// Finals come out ordered by student ID regardless of input order.
	for i, want := range []string{"s1", "s2", "s3", "s4", "s5"} {
		assert.Equal(t, want, report.Finals[i].StudentID)
	}

	assert.Equal(t, 60.40, report.ClassMean)
	assert.Equal(t, 51.00, report.ClassMedian)
	assert.Equal(t, 19.83, report.ClassStdDev)

	assert.Equal(t, map[models.Letter]int{
		models.LetterA: 1,
		models.LetterB: 0,
		models.LetterC: 0,
		models.LetterD: 0,
		models.LetterF: 4,
	}, report.LetterCounts)

	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Flags)
}

func TestBuildCourseReportCarriesOutlierFlags(t *testing.T) {
	course := singleAssignmentCourse()
	records := []models.GradeRecord{record("s1", "a1", score(90))}

	report, err := BuildCourseReport(course, []string{"s1", "s2"}, records)
	require.NoError(t, err)

	require.Len(t, report.Flags, 1)
	assert.Equal(t, models.FlagMissing, report.Flags[0].Kind)
	assert.Equal(t, "s2", report.Flags[0].StudentID)

	// The missing student still gets a final of zero, not an error.
	require.Len(t, report.Finals, 2)
	assert.Equal(t, 0.00, report.Finals[1].NumericTotal)
	assert.Equal(t, models.LetterF, report.Finals[1].Letter)
}

func TestBuildCourseReportInvalidWeightsFatal(t *testing.T) {
	course := courseWithWeights(0.4, 0.5)

	_, err := BuildCourseReport(course, []string{"s1"}, nil)
	var wErr *WeightError
	require.ErrorAs(t, err, &wErr)
}

func TestBuildCourseReportNoStudents(t *testing.T) {
	course := courseWithWeights(1.0)

	_, err := BuildCourseReport(course, nil, nil)
	var aggErr *AggregationError
	require.ErrorAs(t, err, &aggErr)
	assert.Equal(t, AggInsufficientData, aggErr.Code)
	assert.Equal(t, "c1", aggErr.CourseID)
}

func TestMedianOf(t *testing.T) {
	assert.Equal(t, 51.0, medianOf([]float64{100, 49, 51, 50, 52}))
	assert.Equal(t, 75.0, medianOf([]float64{70, 80}))
	assert.Equal(t, 42.0, medianOf([]float64{42}))
	assert.Equal(t, 0.0, medianOf(nil))
}
