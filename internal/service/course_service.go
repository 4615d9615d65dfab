package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/gradebook-api/internal/engine"
	"github.com/noah-isme/gradebook-api/internal/models"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
)

type courseRepo interface {
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindByCode(ctx context.Context, code string) (*models.Course, error)
	GetWithAssignments(ctx context.Context, id string) (*models.Course, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	Delete(ctx context.Context, id string) error
}

type assignmentRepo interface {
	Create(ctx context.Context, assignment *models.Assignment) error
	Update(ctx context.Context, assignment *models.Assignment) error
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Assignment, error)
	ReplaceWeights(ctx context.Context, courseID string, weights []models.AssignmentWeight) error
	Deactivate(ctx context.Context, id string) error
}

type reportInvalidator interface {
	InvalidateCourse(ctx context.Context, courseID string)
}

// CreateCourseRequest carries a new course payload.
type CreateCourseRequest struct {
	Code     string `json:"code" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Semester string `json:"semester" validate:"required"`
}

// UpdateCourseRequest carries course mutations.
type UpdateCourseRequest struct {
	Name     string `json:"name" validate:"required"`
	Semester string `json:"semester" validate:"required"`
}

// CreateAssignmentRequest carries a new assignment payload.
type CreateAssignmentRequest struct {
	Title    string  `json:"title" validate:"required"`
	MaxScore float64 `json:"max_score" validate:"required"`
	Weight   float64 `json:"weight" validate:"required"`
}

// UpdateAssignmentRequest carries assignment mutations. Weight changes go
// through ReplaceWeights so the partition stays consistent.
type UpdateAssignmentRequest struct {
	Title    string  `json:"title" validate:"required"`
	MaxScore float64 `json:"max_score" validate:"required"`
}

// ReplaceWeightsRequest replaces the full weight partition of a course.
type ReplaceWeightsRequest struct {
	Weights []models.AssignmentWeight `json:"weights" validate:"required,min=1,dive"`
}

// WeightStatus reports whether a course's weight partition is complete.
type WeightStatus struct {
	CourseID string  `json:"course_id"`
	Sum      float64 `json:"sum"`
	Valid    bool    `json:"valid"`
	Message  string  `json:"message,omitempty"`
}

// CourseService orchestrates course and assignment management. Every weight
// mutation is checked against the partition rules before it lands.
type CourseService struct {
	courses     courseRepo
	assignments assignmentRepo
	reports     reportInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(courses courseRepo, assignments assignmentRepo, reports reportInvalidator, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{
		courses:     courses,
		assignments: assignments,
		reports:     reports,
		validator:   validate,
		logger:      logger,
	}
}

// Create registers a new course.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	if _, err := s.courses.FindByCode(ctx, req.Code); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("course code %s already exists", req.Code))
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course code")
	}
	course := &models.Course{Code: req.Code, Name: req.Name, Semester: req.Semester}
	if err := s.courses.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	s.logger.Info("course created", zap.String("course_id", course.ID), zap.String("code", course.Code))
	return course, nil
}

// Update mutates course metadata.
func (s *CourseService) Update(ctx context.Context, id string, req UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	course.Name = req.Name
	course.Semester = req.Semester
	if err := s.courses.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	return course, nil
}

// Get returns a course with its assignments.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.GetWithAssignments(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// List returns courses with pagination metadata.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	courses, total, err := s.courses.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return courses, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Delete removes a course and its dependent rows.
func (s *CourseService) Delete(ctx context.Context, id string) error {
	if _, err := s.courses.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if err := s.courses.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	s.invalidate(ctx, id)
	return nil
}

// CreateAssignment adds a gradable unit to a course. The shape rules are
// checked here; the weight partition is allowed to be temporarily incomplete
// until ReplaceWeights settles it.
func (s *CourseService) CreateAssignment(ctx context.Context, courseID string, req CreateAssignmentRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	assignment := &models.Assignment{
		CourseID: courseID,
		Title:    req.Title,
		MaxScore: req.MaxScore,
		Weight:   req.Weight,
		Active:   true,
	}
	if err := engine.ValidateAssignment(*assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	if err := s.assignments.Create(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assignment")
	}
	s.invalidate(ctx, courseID)
	return assignment, nil
}

// UpdateAssignment mutates assignment metadata and max score.
func (s *CourseService) UpdateAssignment(ctx context.Context, id string, req UpdateAssignmentRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	assignment, err := s.assignments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	assignment.Title = req.Title
	assignment.MaxScore = req.MaxScore
	if err := engine.ValidateAssignment(*assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	if err := s.assignments.Update(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update assignment")
	}
	s.invalidate(ctx, assignment.CourseID)
	return assignment, nil
}

// DeactivateAssignment drops an assignment from the weight partition.
func (s *CourseService) DeactivateAssignment(ctx context.Context, id string) error {
	assignment, err := s.assignments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	if err := s.assignments.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate assignment")
	}
	s.invalidate(ctx, assignment.CourseID)
	return nil
}

// ReplaceWeights atomically replaces the weight partition of a course. The
// proposed set must cover every active assignment and sum to 1.0 before any
// row is touched.
func (s *CourseService) ReplaceWeights(ctx context.Context, courseID string, req ReplaceWeightsRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid weights payload")
	}
	course, err := s.courses.GetWithAssignments(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	proposed := make(map[string]float64, len(req.Weights))
	for _, w := range req.Weights {
		if _, ok := proposed[w.AssignmentID]; ok {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate assignment %s in weights", w.AssignmentID))
		}
		proposed[w.AssignmentID] = w.Weight
	}

	preview := *course
	preview.Assignments = make([]models.Assignment, len(course.Assignments))
	copy(preview.Assignments, course.Assignments)
	known := make(map[string]bool, len(preview.Assignments))
	for i := range preview.Assignments {
		known[preview.Assignments[i].ID] = true
		if !preview.Assignments[i].Active {
			continue
		}
		w, ok := proposed[preview.Assignments[i].ID]
		if !ok {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("weight missing for assignment %s", preview.Assignments[i].ID))
		}
		preview.Assignments[i].Weight = w
		if err := engine.ValidateAssignment(preview.Assignments[i]); err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
		}
	}
	for id := range proposed {
		if !known[id] {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("assignment %s does not belong to course", id))
		}
	}
	if err := engine.CheckWeights(preview); err != nil {
		return weightCheckError(err)
	}

	if err := s.assignments.ReplaceWeights(ctx, courseID, req.Weights); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replace weights")
	}
	s.logger.Info("course weights replaced", zap.String("course_id", courseID), zap.Int("assignments", len(req.Weights)))
	s.invalidate(ctx, courseID)
	return nil
}

// WeightStatus reports the current partition sum without mutating anything.
func (s *CourseService) WeightStatus(ctx context.Context, courseID string) (*WeightStatus, error) {
	course, err := s.courses.GetWithAssignments(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	sum := 0.0
	for _, a := range course.ActiveAssignments() {
		sum += a.Weight
	}
	status := &WeightStatus{CourseID: courseID, Sum: sum, Valid: true}
	if err := engine.CheckWeights(*course); err != nil {
		status.Valid = false
		status.Message = err.Error()
	}
	return status, nil
}

func (s *CourseService) invalidate(ctx context.Context, courseID string) {
	if s.reports != nil {
		s.reports.InvalidateCourse(ctx, courseID)
	}
}

// weightCheckError maps engine weight failures onto API error codes.
func weightCheckError(err error) error {
	var wErr *engine.WeightError
	if errors.As(err, &wErr) {
		return appErrors.Wrap(err, appErrors.ErrInvalidWeights.Code, appErrors.ErrInvalidWeights.Status, wErr.Error())
	}
	var setupErr *engine.IncompleteSetupError
	if errors.As(err, &setupErr) {
		return appErrors.Wrap(err, appErrors.ErrIncompleteSetup.Code, appErrors.ErrIncompleteSetup.Status, setupErr.Error())
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "weight check failed")
}
