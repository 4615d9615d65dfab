package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradebook-api/internal/models"
	"github.com/noah-isme/gradebook-api/internal/repository"
	"github.com/noah-isme/gradebook-api/pkg/jobs"
	"github.com/noah-isme/gradebook-api/pkg/storage"
)

func queueJob(jobID string) jobs.Job {
	return jobs.Job{ID: jobID, Type: "export", Payload: jobID}
}

type mockExportJobRepo struct {
	jobs map[string]*models.ExportJob
	seq  int
}

func (m *mockExportJobRepo) Create(ctx context.Context, job *models.ExportJob) error {
	if m.jobs == nil {
		m.jobs = make(map[string]*models.ExportJob)
	}
	if job.ID == "" {
		m.seq++
		job.ID = fmt.Sprintf("job%d", m.seq)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *mockExportJobRepo) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	if j, ok := m.jobs[id]; ok {
		clone := *j
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockExportJobRepo) Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error {
	job, ok := m.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (m *mockExportJobRepo) ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error) {
	var queued []models.ExportJob
	for _, j := range m.jobs {
		if j.Status == models.ExportStatusQueued {
			queued = append(queued, *j)
		}
	}
	return queued, nil
}

func (m *mockExportJobRepo) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error) {
	var finished []models.ExportJob
	for _, j := range m.jobs {
		if j.Status == models.ExportStatusFinished && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			finished = append(finished, *j)
		}
	}
	return finished, nil
}

func newExportFixture(t *testing.T) (*ExportJobService, *mockExportJobRepo, *mockGradeStore, *mockEnrollmentStore) {
	t.Helper()
	courses, _, course := seedCourse(0.4, 0.6)
	courseByAsgn := make(map[string]string)
	for _, a := range course.Assignments {
		courseByAsgn[a.ID] = course.ID
	}
	grades := &mockGradeStore{courseByAsgn: courseByAsgn}
	enrollments := &mockEnrollmentStore{}
	cache := NewCacheService(nil, nil, 0, nil, false)
	reports := NewReportService(courses, enrollments, grades, cache, nil, 0, nil)

	students := &mockStudentRepo{students: map[string]*models.Student{
		"s1": {ID: "s1", FullName: "Ada Lovelace", Email: "ada@example.edu", Active: true},
	}}

	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("export-test-secret", time.Hour)
	exporter := NewExportService(reports, courses, students, files, nil)
	repo := &mockExportJobRepo{}
	svc := NewExportJobService(repo, exporter, files, signer, "/api/v1", time.Hour, nil)
	return svc, repo, grades, enrollments
}

func TestCreateJobValidatesRequest(t *testing.T) {
	svc, _, _, _ := newExportFixture(t)

	_, err := svc.CreateJob(context.Background(), "u1", CreateExportRequest{
		Type:     "nonsense",
		CourseID: "c1",
		Format:   models.ReportFormatCSV,
	})
	assert.Equal(t, "VALIDATION_ERROR", appCode(t, err))

	_, err = svc.CreateJob(context.Background(), "u1", CreateExportRequest{
		Type:     models.ExportTypeStudentReport,
		CourseID: "c1",
		Format:   models.ReportFormatCSV,
	})
	assert.Equal(t, "VALIDATION_ERROR", appCode(t, err))
}

func TestHandleRendersCourseReportAndSignsURL(t *testing.T) {
	svc, repo, grades, enrollments := newExportFixture(t)
	enrollments.enroll("c1", "s1")
	putScore(t, grades, "s1", "a1", 85)
	putScore(t, grades, "s1", "a2", 90)

	job := &models.ExportJob{
		Type:   models.ExportTypeCourseReport,
		Params: models.ExportJobParams{CourseID: "c1", Format: models.ReportFormatCSV},
		Status: models.ExportStatusQueued,
	}
	require.NoError(t, repo.Create(context.Background(), job))

	require.NoError(t, svc.Handle(context.Background(), queueJob(job.ID)))

	stored, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.ResultURL)
	assert.True(t, strings.HasPrefix(*stored.ResultURL, "/api/v1/export/"))

	token := strings.TrimPrefix(*stored.ResultURL, "/api/v1/export/")
	download, err := svc.ResolveDownload(context.Background(), token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, "text/csv", download.ContentType)

	content, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Contains(t, string(content), "s1")
	assert.Contains(t, string(content), "88.00")
	assert.Contains(t, string(content), "Ada Lovelace")
}

func TestHandleMarksFailedOnBadCourse(t *testing.T) {
	svc, repo, _, _ := newExportFixture(t)

	job := &models.ExportJob{
		Type:   models.ExportTypeCourseReport,
		Params: models.ExportJobParams{CourseID: "missing", Format: models.ReportFormatCSV},
		Status: models.ExportStatusQueued,
	}
	require.NoError(t, repo.Create(context.Background(), job))

	require.NoError(t, svc.Handle(context.Background(), queueJob(job.ID)))

	stored, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
}

func TestGetJobScopedToOwner(t *testing.T) {
	svc, repo, _, _ := newExportFixture(t)

	job := &models.ExportJob{
		Type:      models.ExportTypeRoster,
		Params:    models.ExportJobParams{CourseID: "c1", Format: models.ReportFormatCSV},
		Status:    models.ExportStatusQueued,
		CreatedBy: "owner",
	}
	require.NoError(t, repo.Create(context.Background(), job))

	_, err := svc.GetJob(context.Background(), job.ID, "someone-else", false)
	assert.Equal(t, "FORBIDDEN", appCode(t, err))

	got, err := svc.GetJob(context.Background(), job.ID, "someone-else", true)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestResolveDownloadRejectsBadToken(t *testing.T) {
	svc, _, _, _ := newExportFixture(t)

	_, err := svc.ResolveDownload(context.Background(), "garbage-token")
	assert.Equal(t, "UNAUTHORIZED", appCode(t, err))
}
