package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradebook-api/internal/models"
)

type mockGradeStore struct {
	records      map[string]models.GradeRecord
	courseByAsgn map[string]string
	seq          int
}

func gradeKey(studentID, assignmentID string) string {
	return studentID + "|" + assignmentID
}

func (m *mockGradeStore) Find(ctx context.Context, studentID, assignmentID string) (*models.GradeRecord, error) {
	if rec, ok := m.records[gradeKey(studentID, assignmentID)]; ok {
		clone := rec
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockGradeStore) Upsert(ctx context.Context, rec *models.GradeRecord) error {
	if m.records == nil {
		m.records = make(map[string]models.GradeRecord)
	}
	key := gradeKey(rec.StudentID, rec.AssignmentID)
	if existing, ok := m.records[key]; ok {
		rec.ID = existing.ID
	} else {
		m.seq++
		rec.ID = fmt.Sprintf("g%d", m.seq)
	}
	m.records[key] = *rec
	return nil
}

func (m *mockGradeStore) BulkUpsert(ctx context.Context, records []models.GradeRecord) error {
	for i := range records {
		if err := m.Upsert(ctx, &records[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockGradeStore) ListByCourse(ctx context.Context, courseID string) ([]models.GradeRecord, error) {
	var list []models.GradeRecord
	for _, rec := range m.records {
		if m.courseByAsgn[rec.AssignmentID] == courseID {
			list = append(list, rec)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].AssignmentID != list[j].AssignmentID {
			return list[i].AssignmentID < list[j].AssignmentID
		}
		return list[i].StudentID < list[j].StudentID
	})
	return list, nil
}

func (m *mockGradeStore) ListByStudentCourse(ctx context.Context, studentID, courseID string) ([]models.GradeRecord, error) {
	all, err := m.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	var list []models.GradeRecord
	for _, rec := range all {
		if rec.StudentID == studentID {
			list = append(list, rec)
		}
	}
	return list, nil
}

func (m *mockGradeStore) Delete(ctx context.Context, studentID, assignmentID string) error {
	key := gradeKey(studentID, assignmentID)
	if _, ok := m.records[key]; !ok {
		return sql.ErrNoRows
	}
	delete(m.records, key)
	return nil
}

type mockEnrollmentStore struct {
	active map[string]map[string]bool
}

func (m *mockEnrollmentStore) enroll(courseID string, studentIDs ...string) {
	if m.active == nil {
		m.active = make(map[string]map[string]bool)
	}
	if m.active[courseID] == nil {
		m.active[courseID] = make(map[string]bool)
	}
	for _, id := range studentIDs {
		m.active[courseID][id] = true
	}
}

func (m *mockEnrollmentStore) IsActive(ctx context.Context, studentID, courseID string) (bool, error) {
	return m.active[courseID][studentID], nil
}

func (m *mockEnrollmentStore) ActiveStudentIDs(ctx context.Context, courseID string) ([]string, error) {
	var ids []string
	for id := range m.active[courseID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type mockAuditStore struct {
	logs []models.AuditLog
}

func (m *mockAuditStore) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, *log)
	return nil
}

func newGradeFixture() (*GradeService, *mockGradeStore, *mockEnrollmentStore, *mockAuditStore, *mockInvalidator) {
	_, assignments, _ := seedCourse(0.4, 0.6)
	grades := &mockGradeStore{courseByAsgn: map[string]string{"a1": "c1", "a2": "c1"}}
	enrollments := &mockEnrollmentStore{}
	enrollments.enroll("c1", "s1", "s2")
	audits := &mockAuditStore{}
	cache := &mockInvalidator{}
	svc := NewGradeService(grades, assignments, enrollments, audits, cache, nil, nil)
	return svc, grades, enrollments, audits, cache
}

func TestUpsertScoreStoresRecord(t *testing.T) {
	svc, grades, _, audits, cache := newGradeFixture()

	v := 85.0
	rec, err := svc.UpsertScore(context.Background(), "u1", UpsertScoreRequest{
		StudentID:    "s1",
		AssignmentID: "a1",
		Score:        &v,
	})
	require.NoError(t, err)
	require.NotNil(t, rec.RawScore)
	assert.InDelta(t, 85.0, *rec.RawScore, 1e-9)

	stored, err := grades.Find(context.Background(), "s1", "a1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, stored.ID)
	assert.Empty(t, audits.logs)
	assert.Contains(t, cache.invalidated, "c1")
}

func TestUpsertScoreRejectsOutOfRange(t *testing.T) {
	svc, _, _, _, _ := newGradeFixture()

	v := 120.0
	_, err := svc.UpsertScore(context.Background(), "u1", UpsertScoreRequest{
		StudentID:    "s1",
		AssignmentID: "a1",
		Score:        &v,
	})
	assert.Equal(t, "VALIDATION_ERROR", appCode(t, err))
}

func TestUpsertScoreRejectsUnenrolledStudent(t *testing.T) {
	svc, _, _, _, _ := newGradeFixture()

	v := 50.0
	_, err := svc.UpsertScore(context.Background(), "u1", UpsertScoreRequest{
		StudentID:    "ghost",
		AssignmentID: "a1",
		Score:        &v,
	})
	assert.Equal(t, "PRECONDITION_FAILED", appCode(t, err))
}

func TestUpsertScoreOverwriteIsAudited(t *testing.T) {
	svc, _, _, audits, _ := newGradeFixture()

	first := 70.0
	_, err := svc.UpsertScore(context.Background(), "u1", UpsertScoreRequest{StudentID: "s1", AssignmentID: "a1", Score: &first})
	require.NoError(t, err)

	second := 90.0
	_, err = svc.UpsertScore(context.Background(), "u1", UpsertScoreRequest{StudentID: "s1", AssignmentID: "a1", Score: &second})
	require.NoError(t, err)

	require.Len(t, audits.logs, 1)
	entry := audits.logs[0]
	assert.Equal(t, models.AuditActionGradeOverwrite, entry.Action)
	assert.Equal(t, "grade_record", entry.Resource)
	assert.Contains(t, string(entry.OldValues), "70")
	assert.Contains(t, string(entry.NewValues), "90")
}

func TestBulkUpsertScoresPartialFailure(t *testing.T) {
	svc, grades, _, _, _ := newGradeFixture()

	good := 60.0
	bad := 999.0
	result, err := svc.BulkUpsertScores(context.Background(), "u1", "c1", BulkScoresRequest{
		Scores: []UpsertScoreRequest{
			{StudentID: "s1", AssignmentID: "a1", Score: &good},
			{StudentID: "s2", AssignmentID: "a1", Score: &bad},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "s2", result.Failed[0].StudentID)
	assert.Equal(t, "VALIDATION_ERROR", result.Failed[0].Code)

	_, findErr := grades.Find(context.Background(), "s1", "a1")
	assert.NoError(t, findErr)
}

func TestBulkUpsertScoresAtomicRejectsAll(t *testing.T) {
	svc, grades, _, _, _ := newGradeFixture()

	good := 60.0
	bad := 999.0
	_, err := svc.BulkUpsertScores(context.Background(), "u1", "c1", BulkScoresRequest{
		Scores: []UpsertScoreRequest{
			{StudentID: "s1", AssignmentID: "a1", Score: &good},
			{StudentID: "s2", AssignmentID: "a1", Score: &bad},
		},
		Atomic: true,
	})
	assert.Equal(t, "VALIDATION_ERROR", appCode(t, err))

	_, findErr := grades.Find(context.Background(), "s1", "a1")
	assert.ErrorIs(t, findErr, sql.ErrNoRows)
}

func TestDeleteScoreAudited(t *testing.T) {
	svc, grades, _, audits, _ := newGradeFixture()

	v := 42.0
	_, err := svc.UpsertScore(context.Background(), "u1", UpsertScoreRequest{StudentID: "s1", AssignmentID: "a1", Score: &v})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteScore(context.Background(), "u1", "s1", "a1"))
	_, findErr := grades.Find(context.Background(), "s1", "a1")
	assert.ErrorIs(t, findErr, sql.ErrNoRows)
	require.Len(t, audits.logs, 1)
	assert.Nil(t, audits.logs[0].NewValues)
}

func TestImportScoresCSV(t *testing.T) {
	svc, grades, _, _, _ := newGradeFixture()

	csvData := strings.Join([]string{
		"student_id,assignment_title,score",
		"s1,Assignment 1,85",
		"s2,Assignment 1,oops",
		"s1,Unknown Quiz,50",
		"ghost,Assignment 2,70",
		"s2,Assignment 2,88.5",
	}, "\n")

	result, err := svc.ImportScoresCSV(context.Background(), "u1", "c1", strings.NewReader(csvData), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 3, result.Skipped)
	require.Len(t, result.Reasons, 3)

	rec, err := grades.Find(context.Background(), "s2", "a2")
	require.NoError(t, err)
	require.NotNil(t, rec.RawScore)
	assert.InDelta(t, 88.5, *rec.RawScore, 1e-9)
}

func TestImportScoresCSVRejectsOversizedFile(t *testing.T) {
	svc, _, _, _, _ := newGradeFixture()

	var sb strings.Builder
	sb.WriteString("student_id,assignment_title,score\n")
	for i := 0; i < 5; i++ {
		sb.WriteString("s1,Assignment 1,50\n")
	}
	_, err := svc.ImportScoresCSV(context.Background(), "u1", "c1", strings.NewReader(sb.String()), 3)
	assert.Equal(t, "VALIDATION_ERROR", appCode(t, err))
}

func TestImportScoresCSVRejectsMissingHeader(t *testing.T) {
	svc, _, _, _, _ := newGradeFixture()

	_, err := svc.ImportScoresCSV(context.Background(), "u1", "c1", strings.NewReader("foo,bar\n1,2\n"), 100)
	assert.Equal(t, "VALIDATION_ERROR", appCode(t, err))
}
