package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/noah-isme/gradebook-api/internal/models"
)

// roundHalfEven rounds to two decimal places using banker's rounding.
func roundHalfEven(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}

// ComputeFinal calculates the weighted final grade for one student from the
// supplied snapshot of grade records. A missing record contributes zero and
// yields a MISSING flag instead of aborting; the partial total is still a
// valid grade. The weight partition is re-checked first, so a course with a
// broken weight sum never produces a per-student result.
func ComputeFinal(studentID string, course models.Course, records []models.GradeRecord) (models.FinalGrade, error) {
	if err := CheckWeights(course); err != nil {
		if _, ok := err.(*IncompleteSetupError); ok {
			return models.FinalGrade{}, err
		}
		return models.FinalGrade{}, &AggregationError{Code: AggInvalidWeights, CourseID: course.ID, StudentID: studentID, Err: err}
	}

	active := course.ActiveAssignments()
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	byAssignment := make(map[string]models.GradeRecord, len(records))
	for _, rec := range records {
		if rec.StudentID != studentID {
			continue
		}
		byAssignment[rec.AssignmentID] = rec
	}

	final := models.FinalGrade{StudentID: studentID, CourseID: course.ID}
	total := 0.0
	for _, a := range active {
		rec, ok := byAssignment[a.ID]
		if !ok || rec.RawScore == nil {
			final.Flags = append(final.Flags, models.OutlierFlag{
				Kind:         models.FlagMissing,
				StudentID:    studentID,
				AssignmentID: a.ID,
				Detail:       fmt.Sprintf("no score recorded for %s", a.Title),
			})
			continue
		}
		total += (*rec.RawScore / a.MaxScore) * a.Weight * 100
		final.Records = append(final.Records, rec)
	}

	final.NumericTotal = roundHalfEven(total)
	final.Letter = LetterFor(final.NumericTotal)
	return final, nil
}
