package service

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/gradebook-api/internal/models"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
)

type studentRepo interface {
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByEmail(ctx context.Context, email string) (*models.Student, error)
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	BulkUpsert(ctx context.Context, students []models.Student) error
	Delete(ctx context.Context, id string) error
}

// CreateStudentRequest carries a new student payload. The ID is the
// institution-issued identifier, not generated here.
type CreateStudentRequest struct {
	ID       string `json:"id" validate:"required"`
	FullName string `json:"full_name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
}

// UpdateStudentRequest carries student mutations.
type UpdateStudentRequest struct {
	FullName string `json:"full_name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
}

// StudentService manages the student roster.
type StudentService struct {
	students  studentRepo
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs StudentService.
func NewStudentService(students studentRepo, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{students: students, validator: validate, logger: logger}
}

// Create registers a new student.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	if _, err := s.students.FindByID(ctx, req.ID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("student %s already exists", req.ID))
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student id")
	}
	student := &models.Student{ID: req.ID, FullName: req.FullName, Email: req.Email, Active: true}
	if err := s.students.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	s.logger.Info("student created", zap.String("student_id", student.ID))
	return student, nil
}

// Update mutates student metadata.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	student.FullName = req.FullName
	student.Email = req.Email
	if err := s.students.Update(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	return student, nil
}

// Get returns one student.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// List returns students with pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.students.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return students, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Delete deactivates a student. Grade history is kept.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	if _, err := s.students.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if err := s.students.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	return nil
}

// ImportRosterCSV ingests a roster with header student_id,full_name,email.
// Existing students are updated in place, new ones inserted.
func (s *StudentService) ImportRosterCSV(ctx context.Context, r io.Reader, maxRows int) (*models.GradeImportResult, error) {
	if maxRows <= 0 {
		maxRows = 10000
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "empty or unreadable CSV")
	}
	cols, err := rosterCSVColumns(header)
	if err != nil {
		return nil, err
	}

	result := &models.GradeImportResult{}
	students := make([]models.Student, 0, 64)
	seen := make(map[string]bool)
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

		id := strings.TrimSpace(row[cols.student])
		name := strings.TrimSpace(row[cols.name])
		email := strings.TrimSpace(row[cols.email])
		if id == "" || name == "" || email == "" {
			result.Skipped++
			result.Reasons = append(result.Reasons, fmt.Sprintf("line %d: missing id, name or email", line))
			continue
		}
		if seen[id] {
			result.Skipped++
			result.Reasons = append(result.Reasons, fmt.Sprintf("line %d: duplicate student %s in file", line, id))
			continue
		}
		if err := s.validator.Var(email, "email"); err != nil {
			result.Skipped++
			result.Reasons = append(result.Reasons, fmt.Sprintf("line %d: invalid email %q", line, email))
			continue
		}

		seen[id] = true
		students = append(students, models.Student{ID: id, FullName: name, Email: email, Active: true})
	}

	if len(students) > 0 {
		if err := s.students.BulkUpsert(ctx, students); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save imported students")
		}
		result.Imported = len(students)
	}
	s.logger.Info("roster CSV imported", zap.Int("imported", result.Imported), zap.Int("skipped", result.Skipped))
	return result, nil
}

type rosterCSVLayout struct {
	student int
	name    int
	email   int
}

func rosterCSVColumns(header []string) (rosterCSVLayout, error) {
	layout := rosterCSVLayout{student: -1, name: -1, email: -1}
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "student_id", "id":
			layout.student = i
		case "full_name", "name":
			layout.name = i
		case "email":
			layout.email = i
		}
	}
	if layout.student < 0 || layout.name < 0 || layout.email < 0 {
		return layout, appErrors.Clone(appErrors.ErrValidation, "CSV header must contain student_id, full_name and email")
	}
	return layout, nil
}
