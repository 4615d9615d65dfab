package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradebook-api/internal/models"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
)

type mockCourseRepo struct {
	courses map[string]*models.Course
	seq     int
}

func (m *mockCourseRepo) Create(ctx context.Context, course *models.Course) error {
	if m.courses == nil {
		m.courses = make(map[string]*models.Course)
	}
	m.seq++
	course.ID = fmt.Sprintf("c%d", m.seq)
	clone := *course
	m.courses[course.ID] = &clone
	return nil
}

func (m *mockCourseRepo) Update(ctx context.Context, course *models.Course) error {
	if _, ok := m.courses[course.ID]; !ok {
		return sql.ErrNoRows
	}
	clone := *course
	m.courses[course.ID] = &clone
	return nil
}

func (m *mockCourseRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		clone := *c
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseRepo) FindByCode(ctx context.Context, code string) (*models.Course, error) {
	for _, c := range m.courses {
		if c.Code == code {
			clone := *c
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseRepo) GetWithAssignments(ctx context.Context, id string) (*models.Course, error) {
	return m.FindByID(ctx, id)
}

func (m *mockCourseRepo) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var list []models.Course
	for _, c := range m.courses {
		list = append(list, *c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, len(list), nil
}

func (m *mockCourseRepo) Delete(ctx context.Context, id string) error {
	delete(m.courses, id)
	return nil
}

type mockAssignmentRepo struct {
	courses map[string]*models.Course
	seq     int
}

func (m *mockAssignmentRepo) Create(ctx context.Context, assignment *models.Assignment) error {
	course, ok := m.courses[assignment.CourseID]
	if !ok {
		return sql.ErrNoRows
	}
	m.seq++
	assignment.ID = fmt.Sprintf("a%d", m.seq)
	course.Assignments = append(course.Assignments, *assignment)
	return nil
}

func (m *mockAssignmentRepo) Update(ctx context.Context, assignment *models.Assignment) error {
	for _, course := range m.courses {
		for i := range course.Assignments {
			if course.Assignments[i].ID == assignment.ID {
				course.Assignments[i] = *assignment
				return nil
			}
		}
	}
	return sql.ErrNoRows
}

func (m *mockAssignmentRepo) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	for _, course := range m.courses {
		for _, a := range course.Assignments {
			if a.ID == id {
				clone := a
				return &clone, nil
			}
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAssignmentRepo) FindByTitle(ctx context.Context, courseID, title string) (*models.Assignment, error) {
	course, ok := m.courses[courseID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	for _, a := range course.Assignments {
		if a.Title == title && a.Active {
			clone := a
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAssignmentRepo) ListByCourse(ctx context.Context, courseID string) ([]models.Assignment, error) {
	course, ok := m.courses[courseID]
	if !ok {
		return nil, nil
	}
	return append([]models.Assignment(nil), course.Assignments...), nil
}

func (m *mockAssignmentRepo) ReplaceWeights(ctx context.Context, courseID string, weights []models.AssignmentWeight) error {
	course, ok := m.courses[courseID]
	if !ok {
		return sql.ErrNoRows
	}
	byID := make(map[string]float64, len(weights))
	for _, w := range weights {
		byID[w.AssignmentID] = w.Weight
	}
	for i := range course.Assignments {
		if w, ok := byID[course.Assignments[i].ID]; ok {
			course.Assignments[i].Weight = w
		}
	}
	return nil
}

func (m *mockAssignmentRepo) Deactivate(ctx context.Context, id string) error {
	for _, course := range m.courses {
		for i := range course.Assignments {
			if course.Assignments[i].ID == id {
				course.Assignments[i].Active = false
				return nil
			}
		}
	}
	return sql.ErrNoRows
}

type mockInvalidator struct {
	invalidated []string
}

func (m *mockInvalidator) InvalidateCourse(ctx context.Context, courseID string) {
	m.invalidated = append(m.invalidated, courseID)
}

func seedCourse(weights ...float64) (*mockCourseRepo, *mockAssignmentRepo, *models.Course) {
	course := &models.Course{ID: "c1", Code: "CS101", Name: "Algorithms", Semester: "2026S1"}
	for i, w := range weights {
		course.Assignments = append(course.Assignments, models.Assignment{
			ID:       fmt.Sprintf("a%d", i+1),
			CourseID: course.ID,
			Title:    fmt.Sprintf("Assignment %d", i+1),
			MaxScore: 100,
			Weight:   w,
			Active:   true,
		})
	}
	courses := &mockCourseRepo{courses: map[string]*models.Course{course.ID: course}}
	assignments := &mockAssignmentRepo{courses: courses.courses, seq: len(weights)}
	return courses, assignments, course
}

func appCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	return appErrors.FromError(err).Code
}

func TestCreateCourseDuplicateCode(t *testing.T) {
	courses, assignments, _ := seedCourse()
	svc := NewCourseService(courses, assignments, nil, nil, nil)

	_, err := svc.Create(context.Background(), CreateCourseRequest{Code: "CS101", Name: "Other", Semester: "2026S1"})
	assert.Equal(t, "CONFLICT", appCode(t, err))
}

func TestCreateAssignmentRejectsInvalidShape(t *testing.T) {
	courses, assignments, course := seedCourse()
	svc := NewCourseService(courses, assignments, nil, nil, nil)

	_, err := svc.CreateAssignment(context.Background(), course.ID, CreateAssignmentRequest{
		Title:    "Broken",
		MaxScore: -10,
		Weight:   0.5,
	})
	assert.Equal(t, "VALIDATION_ERROR", appCode(t, err))
}

func TestReplaceWeightsValid(t *testing.T) {
	courses, assignments, course := seedCourse(0.5, 0.5)
	cache := &mockInvalidator{}
	svc := NewCourseService(courses, assignments, cache, nil, nil)

	err := svc.ReplaceWeights(context.Background(), course.ID, ReplaceWeightsRequest{
		Weights: []models.AssignmentWeight{
			{AssignmentID: "a1", Weight: 0.3},
			{AssignmentID: "a2", Weight: 0.7},
		},
	})
	require.NoError(t, err)

	stored, err := courses.GetWithAssignments(context.Background(), course.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, stored.Assignments[0].Weight, 1e-9)
	assert.InDelta(t, 0.7, stored.Assignments[1].Weight, 1e-9)
	assert.Contains(t, cache.invalidated, course.ID)
}

func TestReplaceWeightsRejectsBadSum(t *testing.T) {
	courses, assignments, course := seedCourse(0.5, 0.5)
	svc := NewCourseService(courses, assignments, nil, nil, nil)

	err := svc.ReplaceWeights(context.Background(), course.ID, ReplaceWeightsRequest{
		Weights: []models.AssignmentWeight{
			{AssignmentID: "a1", Weight: 0.3},
			{AssignmentID: "a2", Weight: 0.3},
		},
	})
	assert.Equal(t, "INVALID_WEIGHTS", appCode(t, err))

	stored, findErr := courses.GetWithAssignments(context.Background(), course.ID)
	require.NoError(t, findErr)
	assert.InDelta(t, 0.5, stored.Assignments[0].Weight, 1e-9)
}

func TestReplaceWeightsRejectsUncoveredAssignment(t *testing.T) {
	courses, assignments, course := seedCourse(0.5, 0.5)
	svc := NewCourseService(courses, assignments, nil, nil, nil)

	err := svc.ReplaceWeights(context.Background(), course.ID, ReplaceWeightsRequest{
		Weights: []models.AssignmentWeight{{AssignmentID: "a1", Weight: 1.0}},
	})
	assert.Equal(t, "VALIDATION_ERROR", appCode(t, err))
}

func TestReplaceWeightsRejectsForeignAssignment(t *testing.T) {
	courses, assignments, course := seedCourse(1.0)
	svc := NewCourseService(courses, assignments, nil, nil, nil)

	err := svc.ReplaceWeights(context.Background(), course.ID, ReplaceWeightsRequest{
		Weights: []models.AssignmentWeight{
			{AssignmentID: "a1", Weight: 0.5},
			{AssignmentID: "zz", Weight: 0.5},
		},
	})
	assert.Equal(t, "VALIDATION_ERROR", appCode(t, err))
}

func TestWeightStatusReportsIncompletePartition(t *testing.T) {
	courses, assignments, course := seedCourse(0.4)
	svc := NewCourseService(courses, assignments, nil, nil, nil)

	status, err := svc.WeightStatus(context.Background(), course.ID)
	require.NoError(t, err)
	assert.False(t, status.Valid)
	assert.InDelta(t, 0.4, status.Sum, 1e-9)
	assert.NotEmpty(t, status.Message)
}

func TestDeactivateAssignmentInvalidatesReports(t *testing.T) {
	courses, assignments, course := seedCourse(0.4, 0.6)
	cache := &mockInvalidator{}
	svc := NewCourseService(courses, assignments, cache, nil, nil)

	require.NoError(t, svc.DeactivateAssignment(context.Background(), "a1"))
	stored, err := assignments.FindByID(context.Background(), "a1")
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.Contains(t, cache.invalidated, course.ID)
}
