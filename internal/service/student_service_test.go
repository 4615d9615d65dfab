package service

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradebook-api/internal/models"
)

type mockStudentRepo struct {
	students map[string]*models.Student
}

func (m *mockStudentRepo) Create(ctx context.Context, student *models.Student) error {
	if m.students == nil {
		m.students = make(map[string]*models.Student)
	}
	clone := *student
	m.students[student.ID] = &clone
	return nil
}

func (m *mockStudentRepo) Update(ctx context.Context, student *models.Student) error {
	if _, ok := m.students[student.ID]; !ok {
		return sql.ErrNoRows
	}
	clone := *student
	m.students[student.ID] = &clone
	return nil
}

func (m *mockStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		clone := *s
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) FindByEmail(ctx context.Context, email string) (*models.Student, error) {
	for _, s := range m.students {
		if s.Email == email {
			clone := *s
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	var list []models.Student
	for _, s := range m.students {
		if s.Active {
			list = append(list, *s)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, len(list), nil
}

func (m *mockStudentRepo) BulkUpsert(ctx context.Context, students []models.Student) error {
	for i := range students {
		if err := m.Create(ctx, &students[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockStudentRepo) Delete(ctx context.Context, id string) error {
	if s, ok := m.students[id]; ok {
		s.Active = false
		return nil
	}
	return sql.ErrNoRows
}

func TestCreateStudentConflict(t *testing.T) {
	repo := &mockStudentRepo{students: map[string]*models.Student{
		"S001": {ID: "S001", FullName: "Ada", Email: "ada@example.edu", Active: true},
	}}
	svc := NewStudentService(repo, nil, nil)

	_, err := svc.Create(context.Background(), CreateStudentRequest{ID: "S001", FullName: "Ada Again", Email: "ada2@example.edu"})
	assert.Equal(t, "CONFLICT", appCode(t, err))
}

func TestCreateStudentRejectsBadEmail(t *testing.T) {
	svc := NewStudentService(&mockStudentRepo{}, nil, nil)

	_, err := svc.Create(context.Background(), CreateStudentRequest{ID: "S002", FullName: "Bob", Email: "not-an-email"})
	assert.Equal(t, "VALIDATION_ERROR", appCode(t, err))
}

func TestDeleteStudentDeactivates(t *testing.T) {
	repo := &mockStudentRepo{students: map[string]*models.Student{
		"S001": {ID: "S001", FullName: "Ada", Email: "ada@example.edu", Active: true},
	}}
	svc := NewStudentService(repo, nil, nil)

	require.NoError(t, svc.Delete(context.Background(), "S001"))
	assert.False(t, repo.students["S001"].Active)
}

func TestImportRosterCSV(t *testing.T) {
	repo := &mockStudentRepo{}
	svc := NewStudentService(repo, nil, nil)

	csvData := strings.Join([]string{
		"student_id,full_name,email",
		"S001,Ada Lovelace,ada@example.edu",
		"S002,Grace Hopper,grace@example.edu",
		"S001,Ada Duplicate,dup@example.edu",
		"S003,No Email,broken-address",
		",Missing ID,missing@example.edu",
	}, "\n")

	result, err := svc.ImportRosterCSV(context.Background(), strings.NewReader(csvData), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 3, result.Skipped)

	stored, err := repo.FindByID(context.Background(), "S002")
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", stored.FullName)
}

func TestImportRosterCSVRejectsMissingHeader(t *testing.T) {
	svc := NewStudentService(&mockStudentRepo{}, nil, nil)

	_, err := svc.ImportRosterCSV(context.Background(), strings.NewReader("a,b,c\n1,2,3\n"), 100)
	assert.Equal(t, "VALIDATION_ERROR", appCode(t, err))
}
