package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradebook-api/internal/models"
)

func TestCourseRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec("INSERT INTO courses").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	c := models.Course{Code: "CS101", Name: "Intro to CS", Semester: "2026-1"}
	require.NoError(t, repo.Create(context.Background(), &c))
	assert.NotEmpty(t, c.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryGetWithAssignments(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	courseRows := sqlmock.NewRows([]string{"id", "code", "name", "semester", "created_at", "updated_at"}).
		AddRow("c1", "CS101", "Intro to CS", "2026-1", time.Now(), time.Now())
	mock.ExpectQuery("SELECT id, code, name, semester").
		WithArgs("c1").
		WillReturnRows(courseRows)

	assignmentRows := sqlmock.NewRows([]string{"id", "course_id", "title", "max_score", "weight", "active", "created_at", "updated_at"}).
		AddRow("a1", "c1", "Midterm", 100.0, 0.4, true, time.Now(), time.Now()).
		AddRow("a2", "c1", "Final", 100.0, 0.6, true, time.Now(), time.Now())
	mock.ExpectQuery("SELECT id, course_id, title, max_score, weight, active").
		WithArgs("c1").
		WillReturnRows(assignmentRows)

	course, err := repo.GetWithAssignments(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, course.Assignments, 2)
	assert.Equal(t, 0.4, course.Assignments[0].Weight)
	assert.NoError(t, mock.ExpectationsWereMet())
}
