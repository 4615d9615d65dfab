package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/gradebook-api/internal/models"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
)

type enrollmentRepo interface {
	Enroll(ctx context.Context, enrollment *models.Enrollment) error
	Drop(ctx context.Context, studentID, courseID string) error
	ActiveStudentIDs(ctx context.Context, courseID string) ([]string, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, error)
	IsActive(ctx context.Context, studentID, courseID string) (bool, error)
}

type enrollmentStudentRepo interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type enrollmentCourseRepo interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// EnrollmentService links students to courses. Re-enrolling a dropped student
// reactivates the existing row.
type EnrollmentService struct {
	enrollments enrollmentRepo
	students    enrollmentStudentRepo
	courses     enrollmentCourseRepo
	reports     reportInvalidator
	logger      *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(enrollments enrollmentRepo, students enrollmentStudentRepo, courses enrollmentCourseRepo, reports reportInvalidator, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		enrollments: enrollments,
		students:    students,
		courses:     courses,
		reports:     reports,
		logger:      logger,
	}
}

// Enroll adds a student to a course.
func (s *EnrollmentService) Enroll(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student is deactivated")
	}
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	enrollment := &models.Enrollment{StudentID: studentID, CourseID: courseID}
	if err := s.enrollments.Enroll(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll student")
	}
	s.logger.Info("student enrolled", zap.String("student_id", studentID), zap.String("course_id", courseID))
	s.invalidate(ctx, courseID)
	return enrollment, nil
}

// Drop removes a student from a course. Grade records survive the drop.
func (s *EnrollmentService) Drop(ctx context.Context, studentID, courseID string) error {
	active, err := s.enrollments.IsActive(ctx, studentID, courseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !active {
		return appErrors.Clone(appErrors.ErrNotFound, "active enrollment not found")
	}
	if err := s.enrollments.Drop(ctx, studentID, courseID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop enrollment")
	}
	s.logger.Info("student dropped", zap.String("student_id", studentID), zap.String("course_id", courseID))
	s.invalidate(ctx, courseID)
	return nil
}

// List returns enrollment rows joined with student and course metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, error) {
	details, err := s.enrollments.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return details, nil
}

func (s *EnrollmentService) invalidate(ctx context.Context, courseID string) {
	if s.reports != nil {
		s.reports.InvalidateCourse(ctx, courseID)
	}
}
