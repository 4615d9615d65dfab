package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradebook-api/internal/models"
)

func newReportFixture(weights ...float64) (*ReportService, *mockGradeStore, *mockEnrollmentStore) {
	courses, _, course := seedCourse(weights...)
	courseByAsgn := make(map[string]string)
	for _, a := range course.Assignments {
		courseByAsgn[a.ID] = course.ID
	}
	grades := &mockGradeStore{courseByAsgn: courseByAsgn}
	enrollments := &mockEnrollmentStore{}
	cache := NewCacheService(nil, nil, 0, nil, false)
	svc := NewReportService(courses, enrollments, grades, cache, nil, 0, nil)
	return svc, grades, enrollments
}

func putScore(t *testing.T, grades *mockGradeStore, studentID, assignmentID string, v float64) {
	t.Helper()
	require.NoError(t, grades.Upsert(context.Background(), &models.GradeRecord{
		StudentID:    studentID,
		AssignmentID: assignmentID,
		RawScore:     &v,
	}))
}

func TestCourseReportWeightedTotals(t *testing.T) {
	svc, grades, enrollments := newReportFixture(0.4, 0.6)
	enrollments.enroll("c1", "s1")
	putScore(t, grades, "s1", "a1", 85)
	putScore(t, grades, "s1", "a2", 90)

	report, fromCache, err := svc.CourseReport(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, report.Finals, 1)
	assert.InDelta(t, 88.00, report.Finals[0].NumericTotal, 1e-9)
	assert.Equal(t, models.LetterB, report.Finals[0].Letter)
	assert.Equal(t, 1, report.LetterCounts[models.LetterB])
	assert.False(t, report.GeneratedAt.IsZero())
	assert.False(t, fromCache)
}

func TestCourseReportMissingStudentGetsZero(t *testing.T) {
	svc, grades, enrollments := newReportFixture(0.4, 0.6)
	enrollments.enroll("c1", "s1", "s2")
	putScore(t, grades, "s1", "a1", 100)
	putScore(t, grades, "s1", "a2", 100)

	report, fromCache, err := svc.CourseReport(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, fromCache)
	require.Len(t, report.Finals, 2)
	assert.InDelta(t, 0.0, report.Finals[1].NumericTotal, 1e-9)
	assert.Equal(t, models.LetterF, report.Finals[1].Letter)

	missing := 0
	for _, flag := range report.Flags {
		if flag.Kind == models.FlagMissing && flag.StudentID == "s2" {
			missing++
		}
	}
	assert.Equal(t, 2, missing)
}

func TestCourseReportInvalidWeights(t *testing.T) {
	svc, _, enrollments := newReportFixture(0.4, 0.4)
	enrollments.enroll("c1", "s1")

	_, _, err := svc.CourseReport(context.Background(), "c1")
	assert.Equal(t, "INVALID_WEIGHTS", appCode(t, err))
}

func TestCourseReportNoActiveAssignments(t *testing.T) {
	svc, _, enrollments := newReportFixture()
	enrollments.enroll("c1", "s1")

	_, _, err := svc.CourseReport(context.Background(), "c1")
	assert.Equal(t, "INCOMPLETE_SETUP", appCode(t, err))
}

func TestCourseReportNoEnrolledStudents(t *testing.T) {
	svc, _, _ := newReportFixture(1.0)

	_, _, err := svc.CourseReport(context.Background(), "c1")
	assert.Equal(t, "INSUFFICIENT_DATA", appCode(t, err))
}

func TestCourseReportUnknownCourse(t *testing.T) {
	svc, _, _ := newReportFixture(1.0)

	_, _, err := svc.CourseReport(context.Background(), "missing")
	assert.Equal(t, "NOT_FOUND", appCode(t, err))
}

func TestStudentFinal(t *testing.T) {
	svc, grades, enrollments := newReportFixture(0.4, 0.6)
	enrollments.enroll("c1", "s1")
	putScore(t, grades, "s1", "a1", 85)
	putScore(t, grades, "s1", "a2", 90)

	final, fromCache, err := svc.StudentFinal(context.Background(), "c1", "s1")
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.InDelta(t, 88.00, final.NumericTotal, 1e-9)
	assert.Equal(t, models.LetterB, final.Letter)
	assert.False(t, final.ComputedAt.IsZero())
}

func TestStudentFinalRequiresEnrollment(t *testing.T) {
	svc, _, _ := newReportFixture(1.0)

	_, _, err := svc.StudentFinal(context.Background(), "c1", "ghost")
	assert.Equal(t, "NOT_FOUND", appCode(t, err))
}
