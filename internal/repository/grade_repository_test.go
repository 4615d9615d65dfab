package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradebook-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestGradeRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectExec("INSERT INTO grade_records").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	raw := 85.0
	rec := models.GradeRecord{StudentID: "S001", AssignmentID: "a1", RawScore: &raw}
	err := repo.Upsert(context.Background(), &rec)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryBulkUpsert(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectBegin()
	for i := 0; i < 2; i++ {
		mock.ExpectExec("INSERT INTO grade_records").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()

	s1, s2 := 85.0, 90.0
	records := []models.GradeRecord{
		{StudentID: "S001", AssignmentID: "a1", RawScore: &s1},
		{StudentID: "S001", AssignmentID: "a2", RawScore: &s2},
	}
	require.NoError(t, repo.BulkUpsert(context.Background(), records))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryListByCourse(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	raw := 72.5
	rows := sqlmock.NewRows([]string{"id", "student_id", "assignment_id", "raw_score", "created_at", "updated_at"}).
		AddRow("g1", "S001", "a1", raw, time.Now(), time.Now()).
		AddRow("g2", "S002", "a1", nil, time.Now(), time.Now())
	mock.ExpectQuery("SELECT g.id, g.student_id, g.assignment_id, g.raw_score").
		WithArgs("c1").
		WillReturnRows(rows)

	records, err := repo.ListByCourse(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.NotNil(t, records[0].RawScore)
	assert.Equal(t, 72.5, *records[0].RawScore)
	assert.Nil(t, records[1].RawScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGradeRepositoryFindNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGradeRepository(db)

	mock.ExpectQuery("SELECT id, student_id, assignment_id, raw_score").
		WithArgs("S001", "a1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Find(context.Background(), "S001", "a1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
