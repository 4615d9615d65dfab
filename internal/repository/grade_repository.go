package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/gradebook-api/internal/models"
)

// GradeRepository handles raw score persistence.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository creates a new grade repository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

// Find returns the grade record for a (student, assignment) pair.
func (r *GradeRepository) Find(ctx context.Context, studentID, assignmentID string) (*models.GradeRecord, error) {
	const query = `SELECT id, student_id, assignment_id, raw_score, created_at, updated_at
        FROM grade_records WHERE student_id = $1 AND assignment_id = $2 LIMIT 1`
	var rec models.GradeRecord
	if err := r.db.GetContext(ctx, &rec, query, studentID, assignmentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find grade record: %w", err)
	}
	return &rec, nil
}

// Upsert inserts or overwrites a grade record. At most one record exists per
// (student, assignment) pair.
func (r *GradeRepository) Upsert(ctx context.Context, rec *models.GradeRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	const query = `INSERT INTO grade_records (id, student_id, assignment_id, raw_score, created_at, updated_at)
        VALUES (:id, :student_id, :assignment_id, :raw_score, :created_at, :updated_at)
        ON CONFLICT (student_id, assignment_id)
        DO UPDATE SET raw_score = EXCLUDED.raw_score, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("upsert grade record: %w", err)
	}
	return nil
}

// BulkUpsert inserts or overwrites multiple grade records in a transaction.
func (r *GradeRepository) BulkUpsert(ctx context.Context, records []models.GradeRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].ID == "" {
			records[i].ID = uuid.NewString()
		}
		now := time.Now().UTC()
		if records[i].CreatedAt.IsZero() {
			records[i].CreatedAt = now
		}
		records[i].UpdatedAt = now
		const query = `INSERT INTO grade_records (id, student_id, assignment_id, raw_score, created_at, updated_at)
            VALUES (:id, :student_id, :assignment_id, :raw_score, :created_at, :updated_at)
            ON CONFLICT (student_id, assignment_id)
            DO UPDATE SET raw_score = EXCLUDED.raw_score, updated_at = EXCLUDED.updated_at`
		if _, err := tx.NamedExecContext(ctx, query, records[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("bulk upsert grade record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit grade records: %w", err)
	}
	return nil
}

// ListByCourse returns every grade record attached to a course's assignments.
// This is the snapshot the grading engine consumes.
func (r *GradeRepository) ListByCourse(ctx context.Context, courseID string) ([]models.GradeRecord, error) {
	const query = `SELECT g.id, g.student_id, g.assignment_id, g.raw_score, g.created_at, g.updated_at
        FROM grade_records g
        JOIN assignments a ON a.id = g.assignment_id
        WHERE a.course_id = $1
        ORDER BY g.assignment_id, g.student_id`
	var records []models.GradeRecord
	if err := r.db.SelectContext(ctx, &records, query, courseID); err != nil {
		return nil, fmt.Errorf("list grade records by course: %w", err)
	}
	return records, nil
}

// ListByStudentCourse returns a student's grade records within a course.
func (r *GradeRepository) ListByStudentCourse(ctx context.Context, studentID, courseID string) ([]models.GradeRecord, error) {
	const query = `SELECT g.id, g.student_id, g.assignment_id, g.raw_score, g.created_at, g.updated_at
        FROM grade_records g
        JOIN assignments a ON a.id = g.assignment_id
        WHERE g.student_id = $1 AND a.course_id = $2
        ORDER BY g.assignment_id`
	var records []models.GradeRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID, courseID); err != nil {
		return nil, fmt.Errorf("list grade records by student: %w", err)
	}
	return records, nil
}

// Delete removes a grade record.
func (r *GradeRepository) Delete(ctx context.Context, studentID, assignmentID string) error {
	const query = `DELETE FROM grade_records WHERE student_id = $1 AND assignment_id = $2`
	if _, err := r.db.ExecContext(ctx, query, studentID, assignmentID); err != nil {
		return fmt.Errorf("delete grade record: %w", err)
	}
	return nil
}
