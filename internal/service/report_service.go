package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/gradebook-api/internal/engine"
	"github.com/noah-isme/gradebook-api/internal/models"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
)

type reportCourseRepo interface {
	GetWithAssignments(ctx context.Context, id string) (*models.Course, error)
}

type reportEnrollmentRepo interface {
	ActiveStudentIDs(ctx context.Context, courseID string) ([]string, error)
	IsActive(ctx context.Context, studentID, courseID string) (bool, error)
}

type reportGradeRepo interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.GradeRecord, error)
	ListByStudentCourse(ctx context.Context, studentID, courseID string) ([]models.GradeRecord, error)
}

// ReportService computes course reports and per-student finals from the
// persisted snapshot, with a cache-aside layer in front of the computation.
type ReportService struct {
	courses     reportCourseRepo
	enrollments reportEnrollmentRepo
	grades      reportGradeRepo
	cache       *CacheService
	metrics     *MetricsService
	cacheTTL    time.Duration
	logger      *zap.Logger
}

// NewReportService constructs ReportService.
func NewReportService(courses reportCourseRepo, enrollments reportEnrollmentRepo, grades reportGradeRepo, cache *CacheService, metrics *MetricsService, cacheTTL time.Duration, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &ReportService{
		courses:     courses,
		enrollments: enrollments,
		grades:      grades,
		cache:       cache,
		metrics:     metrics,
		cacheTTL:    cacheTTL,
		logger:      logger,
	}
}

func courseReportCacheKey(courseID string) string {
	return fmt.Sprintf("report:course:%s", courseID)
}

func studentFinalCacheKey(courseID, studentID string) string {
	return fmt.Sprintf("report:student:%s:%s", courseID, studentID)
}

// CourseReport returns the full course report, computing it from the live
// snapshot on a cache miss. The bool reports whether the cache served it.
func (s *ReportService) CourseReport(ctx context.Context, courseID string) (*models.CourseReport, bool, error) {
	key := courseReportCacheKey(courseID)
	var cached models.CourseReport
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, true, nil
	}

	report, err := s.buildCourseReport(ctx, courseID)
	if err != nil {
		return nil, false, err
	}

	if err := s.cache.Set(ctx, key, report, s.cacheTTL); err != nil {
		s.logger.Warn("failed to cache course report", zap.String("course_id", courseID), zap.Error(err))
	}
	return report, false, nil
}

// StudentFinal returns the weighted final for one student in one course.
func (s *ReportService) StudentFinal(ctx context.Context, courseID, studentID string) (*models.FinalGrade, bool, error) {
	key := studentFinalCacheKey(courseID, studentID)
	var cached models.FinalGrade
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, true, nil
	}

	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, false, err
	}
	enrolled, err := s.enrollments.IsActive(ctx, studentID, courseID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, false, appErrors.Clone(appErrors.ErrNotFound, "student is not enrolled in course")
	}
	records, err := s.grades.ListByStudentCourse(ctx, studentID, courseID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade records")
	}

	start := time.Now()
	final, err := engine.ComputeFinal(studentID, *course, records)
	if err != nil {
		return nil, false, engineError(err)
	}
	s.metrics.ObserveReportBuild(time.Since(start))
	final.ComputedAt = time.Now().UTC()

	if err := s.cache.Set(ctx, key, final, s.cacheTTL); err != nil {
		s.logger.Warn("failed to cache student final", zap.String("course_id", courseID), zap.String("student_id", studentID), zap.Error(err))
	}
	return &final, false, nil
}

// InvalidateCourse drops every cached report touching the course. Called by
// the write paths so stale totals never survive a grade change.
func (s *ReportService) InvalidateCourse(ctx context.Context, courseID string) {
	if !s.cache.Enabled() {
		return
	}
	patterns := []string{
		courseReportCacheKey(courseID),
		fmt.Sprintf("report:student:%s:*", courseID),
	}
	for _, pattern := range patterns {
		if err := s.cache.Invalidate(ctx, pattern); err != nil {
			s.logger.Warn("report cache invalidation failed", zap.String("pattern", pattern), zap.Error(err))
		}
	}
}

func (s *ReportService) buildCourseReport(ctx context.Context, courseID string) (*models.CourseReport, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	studentIDs, err := s.enrollments.ActiveStudentIDs(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	records, err := s.grades.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade records")
	}

	start := time.Now()
	report, err := engine.BuildCourseReport(*course, studentIDs, records)
	if err != nil {
		return nil, engineError(err)
	}
	duration := time.Since(start)
	s.metrics.ObserveReportBuild(duration)
	report.GeneratedAt = time.Now().UTC()

	s.logger.Info("course report built",
		zap.String("course_id", courseID),
		zap.Int("students", len(studentIDs)),
		zap.Int("flags", len(report.Flags)),
		zap.Duration("duration", duration))
	return &report, nil
}

func (s *ReportService) loadCourse(ctx context.Context, courseID string) (*models.Course, error) {
	course, err := s.courses.GetWithAssignments(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// engineError maps computation failures onto API error codes.
func engineError(err error) error {
	var aggErr *engine.AggregationError
	if errors.As(err, &aggErr) {
		switch aggErr.Code {
		case engine.AggInsufficientData:
			return appErrors.Wrap(err, appErrors.ErrInsufficientData.Code, appErrors.ErrInsufficientData.Status, aggErr.Error())
		case engine.AggInvalidWeights:
			return appErrors.Wrap(err, appErrors.ErrInvalidWeights.Code, appErrors.ErrInvalidWeights.Status, aggErr.Error())
		}
	}
	var wErr *engine.WeightError
	if errors.As(err, &wErr) {
		return appErrors.Wrap(err, appErrors.ErrInvalidWeights.Code, appErrors.ErrInvalidWeights.Status, wErr.Error())
	}
	var setupErr *engine.IncompleteSetupError
	if errors.As(err, &setupErr) {
		return appErrors.Wrap(err, appErrors.ErrIncompleteSetup.Code, appErrors.ErrIncompleteSetup.Status, setupErr.Error())
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "report computation failed")
}
