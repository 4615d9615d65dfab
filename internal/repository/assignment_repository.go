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

// AssignmentRepository provides database access for assignments.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository creates a new assignment repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Create inserts a new assignment.
func (r *AssignmentRepository) Create(ctx context.Context, assignment *models.Assignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = now
	}
	assignment.UpdatedAt = now

	const query = `INSERT INTO assignments (id, course_id, title, max_score, weight, active, created_at, updated_at)
        VALUES (:id, :course_id, :title, :max_score, :weight, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

// Update updates mutable fields of an assignment.
func (r *AssignmentRepository) Update(ctx context.Context, assignment *models.Assignment) error {
	assignment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE assignments SET title = :title, max_score = :max_score, weight = :weight, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	return nil
}

// FindByID returns an assignment by identifier.
func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	const query = `SELECT id, course_id, title, max_score, weight, active, created_at, updated_at FROM assignments WHERE id = $1 LIMIT 1`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find assignment by id: %w", err)
	}
	return &assignment, nil
}

// FindByTitle returns an assignment by its title within a course. Titles are
// unique per course; CSV imports reference assignments this way.
func (r *AssignmentRepository) FindByTitle(ctx context.Context, courseID, title string) (*models.Assignment, error) {
	const query = `SELECT id, course_id, title, max_score, weight, active, created_at, updated_at FROM assignments WHERE course_id = $1 AND title = $2 LIMIT 1`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, courseID, title); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find assignment by title: %w", err)
	}
	return &assignment, nil
}

// ListByCourse returns all assignments of a course ordered by ID.
func (r *AssignmentRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Assignment, error) {
	const query = `SELECT id, course_id, title, max_score, weight, active, created_at, updated_at FROM assignments WHERE course_id = $1 ORDER BY id`
	var assignments []models.Assignment
	if err := r.db.SelectContext(ctx, &assignments, query, courseID); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return assignments, nil
}

// ReplaceWeights updates the weights of the given assignments in a single
// transaction. Either every weight lands or none does, so concurrent readers
// never observe a half-updated partition.
func (r *AssignmentRepository) ReplaceWeights(ctx context.Context, courseID string, weights []models.AssignmentWeight) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, w := range weights {
		const query = `UPDATE assignments SET weight = $3, updated_at = $4 WHERE id = $1 AND course_id = $2`
		res, err := tx.ExecContext(ctx, query, w.AssignmentID, courseID, w.Weight, now)
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("replace weight for %s: %w", w.AssignmentID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("replace weight for %s: %w", w.AssignmentID, err)
		}
		if affected == 0 {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("replace weight for %s: %w", w.AssignmentID, sql.ErrNoRows)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit weights: %w", err)
	}
	return nil
}

// Deactivate removes an assignment from the weight partition without deleting
// its recorded scores.
func (r *AssignmentRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE assignments SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate assignment: %w", err)
	}
	return nil
}
