package service

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/gradebook-api/internal/engine"
	"github.com/noah-isme/gradebook-api/internal/models"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
)

type gradeRepo interface {
	Find(ctx context.Context, studentID, assignmentID string) (*models.GradeRecord, error)
	Upsert(ctx context.Context, rec *models.GradeRecord) error
	BulkUpsert(ctx context.Context, records []models.GradeRecord) error
	ListByCourse(ctx context.Context, courseID string) ([]models.GradeRecord, error)
	ListByStudentCourse(ctx context.Context, studentID, courseID string) ([]models.GradeRecord, error)
	Delete(ctx context.Context, studentID, assignmentID string) error
}

type gradeAssignmentRepo interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	FindByTitle(ctx context.Context, courseID, title string) (*models.Assignment, error)
}

type gradeEnrollmentRepo interface {
	IsActive(ctx context.Context, studentID, courseID string) (bool, error)
}

type auditRepo interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// UpsertScoreRequest records one raw score. A nil Score marks the submission
// as missing without deleting the row.
type UpsertScoreRequest struct {
	StudentID    string   `json:"student_id" validate:"required"`
	AssignmentID string   `json:"assignment_id" validate:"required"`
	Score        *float64 `json:"score"`
}

// BulkScoresRequest records many scores in one call. When Atomic is set any
// invalid entry rejects the whole batch; otherwise valid entries are applied
// and failures reported per entry.
type BulkScoresRequest struct {
	Scores []UpsertScoreRequest `json:"scores" validate:"required,min=1,dive"`
	Atomic bool                 `json:"atomic"`
}

// BulkScoresResult summarises a bulk score outcome.
type BulkScoresResult struct {
	Applied int                        `json:"applied"`
	Failed  []models.StudentGradeError `json:"failed,omitempty"`
}

// GradeService manages raw score entry. Scores are validated against the
// assignment bounds before persistence, and overwrites are audit logged with
// the prior value.
type GradeService struct {
	grades      gradeRepo
	assignments gradeAssignmentRepo
	enrollments gradeEnrollmentRepo
	audits      auditRepo
	reports     reportInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewGradeService constructs GradeService.
func NewGradeService(grades gradeRepo, assignments gradeAssignmentRepo, enrollments gradeEnrollmentRepo, audits auditRepo, reports reportInvalidator, validate *validator.Validate, logger *zap.Logger) *GradeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeService{
		grades:      grades,
		assignments: assignments,
		enrollments: enrollments,
		audits:      audits,
		reports:     reports,
		validator:   validate,
		logger:      logger,
	}
}

// UpsertScore records or corrects one raw score.
func (s *GradeService) UpsertScore(ctx context.Context, actorID string, req UpsertScoreRequest) (*models.GradeRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid score payload")
	}
	assignment, err := s.resolveAssignment(ctx, req.AssignmentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkScore(ctx, assignment, req); err != nil {
		return nil, err
	}

	prior, err := s.grades.Find(ctx, req.StudentID, req.AssignmentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing score")
	}

	rec := &models.GradeRecord{
		StudentID:    req.StudentID,
		AssignmentID: req.AssignmentID,
		RawScore:     req.Score,
	}
	if err := s.grades.Upsert(ctx, rec); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save score")
	}

	if prior != nil {
		s.auditOverwrite(ctx, actorID, prior, rec)
	}
	s.invalidate(ctx, assignment.CourseID)
	return rec, nil
}

// BulkUpsertScores records many scores for one course.
func (s *GradeService) BulkUpsertScores(ctx context.Context, actorID, courseID string, req BulkScoresRequest) (*BulkScoresResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scores payload")
	}

	valid := make([]models.GradeRecord, 0, len(req.Scores))
	result := &BulkScoresResult{}
	for _, entry := range req.Scores {
		assignment, err := s.resolveAssignment(ctx, entry.AssignmentID)
		if err == nil && assignment.CourseID != courseID {
			err = appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("assignment %s does not belong to course %s", entry.AssignmentID, courseID))
		}
		if err == nil {
			err = s.checkScore(ctx, assignment, entry)
		}
		if err != nil {
			if req.Atomic {
				return nil, err
			}
			result.Failed = append(result.Failed, models.StudentGradeError{
				StudentID: entry.StudentID,
				Code:      appErrors.FromError(err).Code,
				Reason:    err.Error(),
			})
			continue
		}
		valid = append(valid, models.GradeRecord{
			StudentID:    entry.StudentID,
			AssignmentID: entry.AssignmentID,
			RawScore:     entry.Score,
		})
	}

	if len(valid) > 0 {
		if err := s.grades.BulkUpsert(ctx, valid); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save scores")
		}
		result.Applied = len(valid)
		s.invalidate(ctx, courseID)
	}
	s.logger.Info("bulk scores recorded",
		zap.String("course_id", courseID),
		zap.String("actor_id", actorID),
		zap.Int("applied", result.Applied),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

// ListByStudent returns a student's raw scores within a course.
func (s *GradeService) ListByStudent(ctx context.Context, studentID, courseID string) ([]models.GradeRecord, error) {
	enrolled, err := s.enrollments.IsActive(ctx, studentID, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student is not enrolled in course")
	}
	records, err := s.grades.ListByStudentCourse(ctx, studentID, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scores")
	}
	return records, nil
}

// DeleteScore removes a recorded score outright.
func (s *GradeService) DeleteScore(ctx context.Context, actorID, studentID, assignmentID string) error {
	assignment, err := s.resolveAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	prior, err := s.grades.Find(ctx, studentID, assignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "score not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load score")
	}
	if err := s.grades.Delete(ctx, studentID, assignmentID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete score")
	}
	s.auditOverwrite(ctx, actorID, prior, nil)
	s.invalidate(ctx, assignment.CourseID)
	return nil
}

// ImportScoresCSV ingests a grade sheet with header
// student_id,assignment_title,score. Rows that cannot be applied are skipped
// with a reason; the rest land in one batch.
func (s *GradeService) ImportScoresCSV(ctx context.Context, actorID, courseID string, r io.Reader, maxRows int) (*models.GradeImportResult, error) {
	if maxRows <= 0 {
		maxRows = 10000
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "empty or unreadable CSV")
	}
	cols, err := gradeCSVColumns(header)
	if err != nil {
		return nil, err
	}

	result := &models.GradeImportResult{}
	records := make([]models.GradeRecord, 0, 64)
	assignmentCache := make(map[string]*models.Assignment)
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			result.Skipped++
			result.Reasons = append(result.Reasons, fmt.Sprintf("line %d: malformed row", line))
			continue
		}
		if line-1 > maxRows {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("import exceeds the %d row limit", maxRows))
		}

		studentID := strings.TrimSpace(row[cols.student])
		title := strings.TrimSpace(row[cols.assignment])
		rawScore := strings.TrimSpace(row[cols.score])
		if studentID == "" || title == "" {
			result.Skipped++
			result.Reasons = append(result.Reasons, fmt.Sprintf("line %d: missing student id or assignment title", line))
			continue
		}

		assignment, ok := assignmentCache[title]
		if !ok {
			assignment, err = s.assignments.FindByTitle(ctx, courseID, title)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					result.Skipped++
					result.Reasons = append(result.Reasons, fmt.Sprintf("line %d: unknown assignment %q", line, title))
					continue
				}
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve assignment")
			}
			assignmentCache[title] = assignment
		}

		enrolled, err := s.enrollments.IsActive(ctx, studentID, courseID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}
		if !enrolled {
			result.Skipped++
			result.Reasons = append(result.Reasons, fmt.Sprintf("line %d: student %s not enrolled", line, studentID))
			continue
		}

		score, err := strconv.ParseFloat(rawScore, 64)
		if err != nil {
			result.Skipped++
			result.Reasons = append(result.Reasons, fmt.Sprintf("line %d: score %q is not a number", line, rawScore))
			continue
		}
		if err := engine.ValidateScore(score, assignment.MaxScore); err != nil {
			result.Skipped++
			result.Reasons = append(result.Reasons, fmt.Sprintf("line %d: %s", line, err.Error()))
			continue
		}

		v := score
		records = append(records, models.GradeRecord{
			StudentID:    studentID,
			AssignmentID: assignment.ID,
			RawScore:     &v,
		})
	}

	if len(records) > 0 {
		if err := s.grades.BulkUpsert(ctx, records); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save imported scores")
		}
		result.Imported = len(records)
		s.invalidate(ctx, courseID)
	}
	s.logger.Info("grade CSV imported",
		zap.String("course_id", courseID),
		zap.String("actor_id", actorID),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func (s *GradeService) resolveAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	assignment, err := s.assignments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	if !assignment.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assignment is inactive")
	}
	return assignment, nil
}

func (s *GradeService) checkScore(ctx context.Context, assignment *models.Assignment, req UpsertScoreRequest) error {
	enrolled, err := s.enrollments.IsActive(ctx, req.StudentID, assignment.CourseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("student %s is not enrolled in course %s", req.StudentID, assignment.CourseID))
	}
	if req.Score != nil {
		if err := engine.ValidateScore(*req.Score, assignment.MaxScore); err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
		}
	}
	return nil
}

// auditOverwrite records the prior value of a changed or deleted score.
func (s *GradeService) auditOverwrite(ctx context.Context, actorID string, prior, next *models.GradeRecord) {
	if s.audits == nil || prior == nil {
		return
	}
	oldValues, _ := json.Marshal(prior)
	var newValues []byte
	if next != nil {
		newValues, _ = json.Marshal(next)
	}
	var userID *string
	if actorID != "" {
		userID = &actorID
	}
	entry := &models.AuditLog{
		UserID:     userID,
		Action:     models.AuditActionGradeOverwrite,
		Resource:   "grade_record",
		ResourceID: &prior.ID,
		OldValues:  oldValues,
		NewValues:  newValues,
	}
	if err := s.audits.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write grade audit log",
			zap.String("student_id", prior.StudentID),
			zap.String("assignment_id", prior.AssignmentID),
			zap.Error(err))
	}
}

func (s *GradeService) invalidate(ctx context.Context, courseID string) {
	if s.reports != nil {
		s.reports.InvalidateCourse(ctx, courseID)
	}
}

type gradeCSVLayout struct {
	student    int
	assignment int
	score      int
}

func gradeCSVColumns(header []string) (gradeCSVLayout, error) {
	layout := gradeCSVLayout{student: -1, assignment: -1, score: -1}
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "student_id":
			layout.student = i
		case "assignment_title", "assignment":
			layout.assignment = i
		case "score", "raw_score":
			layout.score = i
		}
	}
	if layout.student < 0 || layout.assignment < 0 || layout.score < 0 {
		return layout, appErrors.Clone(appErrors.ErrValidation, "CSV header must contain student_id, assignment_title and score")
	}
	return layout, nil
}
