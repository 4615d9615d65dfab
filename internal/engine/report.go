package engine

import (
	"sort"

	"github.com/noah-isme/gradebook-api/internal/models"
)

// BuildCourseReport composes per-student final grades, outlier flags and
// class statistics into a single report. All numbers derive from the
// aggregator's totals; nothing is recomputed independently.
//
// A broken weight partition or missing assignments abort the whole report
// since per-student results would be meaningless. Any other per-student
// failure is collected into the report's Errors list and the remaining
// students are still processed.
func BuildCourseReport(course models.Course, studentIDs []string, records []models.GradeRecord) (models.CourseReport, error) {
	if err := CheckWeights(course); err != nil {
		return models.CourseReport{}, err
	}
	if len(studentIDs) == 0 {
		return models.CourseReport{}, &AggregationError{Code: AggInsufficientData, CourseID: course.ID, Err: errNoStudents}
	}

	students := append([]string(nil), studentIDs...)
	sort.Strings(students)

	report := models.CourseReport{
		CourseID:     course.ID,
		LetterCounts: map[models.Letter]int{models.LetterA: 0, models.LetterB: 0, models.LetterC: 0, models.LetterD: 0, models.LetterF: 0},
	}

	totals := make([]float64, 0, len(students))
	for _, sid := range students {
		final, err := ComputeFinal(sid, course, records)
		if err != nil {
			report.Errors = append(report.Errors, studentError(sid, err))
			continue
		}
		report.Finals = append(report.Finals, final)
		report.LetterCounts[final.Letter]++
		totals = append(totals, final.NumericTotal)
	}

	if len(totals) > 0 {
		mean := meanOf(totals)
		report.ClassMean = roundHalfEven(mean)
		report.ClassMedian = roundHalfEven(medianOf(totals))
		report.ClassStdDev = roundHalfEven(populationStdDev(totals, mean))
	}

	report.Flags = DetectOutliers(course, students, records)
	return report, nil
}

func studentError(studentID string, err error) models.StudentGradeError {
	code := "AGGREGATION_ERROR"
	if aggErr, ok := err.(*AggregationError); ok {
		code = string(aggErr.Code)
	}
	return models.StudentGradeError{StudentID: studentID, Code: code, Reason: err.Error()}
}

// medianOf returns the median of the values. The input is copied before
// sorting so callers keep their ordering.
func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
