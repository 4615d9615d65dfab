package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/gradebook-api/internal/models"
)

// EnrollmentRepository provides database access for enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository creates a new enrollment repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Enroll registers a student to a course. Re-enrolling a dropped student
// reactivates the existing row.
func (r *EnrollmentRepository) Enroll(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.JoinedAt.IsZero() {
		enrollment.JoinedAt = time.Now().UTC()
	}
	enrollment.Status = models.EnrollmentStatusActive
	enrollment.LeftAt = nil

	const query = `INSERT INTO enrollments (id, student_id, course_id, joined_at, left_at, status)
        VALUES (:id, :student_id, :course_id, :joined_at, :left_at, :status)
        ON CONFLICT (student_id, course_id)
        DO UPDATE SET status = EXCLUDED.status, joined_at = EXCLUDED.joined_at, left_at = NULL`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("enroll student: %w", err)
	}
	return nil
}

// Drop marks an enrollment as dropped. Grade records stay in place.
func (r *EnrollmentRepository) Drop(ctx context.Context, studentID, courseID string) error {
	const query = `UPDATE enrollments SET status = $3, left_at = $4 WHERE student_id = $1 AND course_id = $2`
	if _, err := r.db.ExecContext(ctx, query, studentID, courseID, models.EnrollmentStatusDropped, time.Now().UTC()); err != nil {
		return fmt.Errorf("drop enrollment: %w", err)
	}
	return nil
}

// ActiveStudentIDs returns the IDs of actively enrolled students in a course,
// sorted ascending.
func (r *EnrollmentRepository) ActiveStudentIDs(ctx context.Context, courseID string) ([]string, error) {
	const query = `SELECT student_id FROM enrollments WHERE course_id = $1 AND status = 'ACTIVE' ORDER BY student_id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, courseID); err != nil {
		return nil, fmt.Errorf("list active student ids: %w", err)
	}
	return ids, nil
}

// List returns enrollment details matching the filter.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, error) {
	query := `SELECT e.id, e.student_id, e.course_id, e.joined_at, e.left_at, e.status,
        s.full_name AS student_name, s.email AS student_email, c.name AS course_name
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        JOIN courses c ON c.id = e.course_id
        WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY e.course_id, e.student_id"

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return enrollments, nil
}

// IsActive reports whether a student is actively enrolled in a course.
func (r *EnrollmentRepository) IsActive(ctx context.Context, studentID, courseID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE student_id = $1 AND course_id = $2 AND status = 'ACTIVE'`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID, courseID); err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return count > 0, nil
}
