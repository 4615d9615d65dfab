package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/gradebook-api/internal/models"
	"github.com/noah-isme/gradebook-api/internal/repository"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
	"github.com/noah-isme/gradebook-api/pkg/jobs"
	"github.com/noah-isme/gradebook-api/pkg/storage"
)

type exportJobRepo interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error)
}

type exportFileStore interface {
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// CreateExportRequest describes a requested export.
type CreateExportRequest struct {
	Type      models.ExportType   `json:"type" validate:"required"`
	CourseID  string              `json:"course_id" validate:"required"`
	StudentID *string             `json:"student_id,omitempty"`
	Format    models.ReportFormat `json:"format" validate:"required"`
}

// Download is a resolved export file ready to stream to the client.
type Download struct {
	File        *os.File
	Filename    string
	ContentType string
}

// ExportJobService owns the asynchronous export lifecycle: jobs are persisted
// first, then pushed through an in-memory queue where a worker renders the
// file and publishes a signed download URL.
type ExportJobService struct {
	repo      exportJobRepo
	exporter  *ExportService
	files     exportFileStore
	signer    *storage.SignedURLSigner
	queue     *jobs.Queue
	apiPrefix string
	fileTTL   time.Duration
	logger    *zap.Logger
}

// NewExportJobService constructs ExportJobService. Attach the queue with
// SetQueue once it has been built around Handle.
func NewExportJobService(repo exportJobRepo, exporter *ExportService, files exportFileStore, signer *storage.SignedURLSigner, apiPrefix string, fileTTL time.Duration, logger *zap.Logger) *ExportJobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fileTTL <= 0 {
		fileTTL = 24 * time.Hour
	}
	return &ExportJobService{
		repo:      repo,
		exporter:  exporter,
		files:     files,
		signer:    signer,
		apiPrefix: strings.TrimSuffix(apiPrefix, "/"),
		fileTTL:   fileTTL,
		logger:    logger,
	}
}

// SetQueue attaches the worker queue. Must be called before CreateJob.
func (s *ExportJobService) SetQueue(q *jobs.Queue) {
	s.queue = q
}

// CreateJob persists a new export job and enqueues it for processing.
func (s *ExportJobService) CreateJob(ctx context.Context, userID string, req CreateExportRequest) (*models.ExportJob, error) {
	switch req.Type {
	case models.ExportTypeCourseReport, models.ExportTypeStudentReport, models.ExportTypeRoster:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export type %s", req.Type))
	}
	switch req.Format {
	case models.ReportFormatCSV, models.ReportFormatPDF:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %s", req.Format))
	}
	if req.Type == models.ExportTypeStudentReport && req.StudentID == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student report export requires a student id")
	}

	job := &models.ExportJob{
		Type: req.Type,
		Params: models.ExportJobParams{
			CourseID:  req.CourseID,
			StudentID: req.StudentID,
			Format:    req.Format,
		},
		Status:    models.ExportStatusQueued,
		CreatedBy: userID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if err := s.enqueue(*job); err != nil {
		s.failJob(ctx, job.ID, "queue unavailable")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}
	s.logger.Info("export job queued", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	return job, nil
}

// GetJob returns job status. Non-admin requesters may only see their own jobs.
func (s *ExportJobService) GetJob(ctx context.Context, id, requesterID string, isAdmin bool) (*models.ExportJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if !isAdmin && job.CreatedBy != requesterID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export job belongs to another user")
	}
	return job, nil
}

// Handle processes one queued export job. It is the queue worker entrypoint.
func (s *ExportJobService) Handle(ctx context.Context, job jobs.Job) error {
	jobID, ok := job.Payload.(string)
	if !ok || jobID == "" {
		s.logger.Error("export job with invalid payload dropped", zap.String("queue_job_id", job.ID))
		return nil
	}

	record, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load export job %s: %w", jobID, err)
	}
	if record.Status == models.ExportStatusFinished || record.Status == models.ExportStatusFailed {
		return nil
	}

	s.updateStatus(ctx, jobID, models.ExportStatusProcessing, 10)

	relPath, err := s.exporter.Generate(ctx, *record)
	if err != nil {
		s.failJob(ctx, jobID, err.Error())
		return nil
	}
	s.updateStatus(ctx, jobID, models.ExportStatusProcessing, 80)

	token, _, err := s.signer.Generate(jobID, relPath)
	if err != nil {
		s.failJob(ctx, jobID, "failed to sign download URL")
		return nil
	}
	url := fmt.Sprintf("%s/export/%s", s.apiPrefix, token)

	now := time.Now().UTC()
	status := models.ExportStatusFinished
	progress := 100
	if err := s.repo.Update(ctx, jobID, repository.UpdateExportJobParams{
		Status:     &status,
		Progress:   &progress,
		ResultURL:  &url,
		FinishedAt: &now,
	}); err != nil {
		return fmt.Errorf("finish export job %s: %w", jobID, err)
	}
	s.logger.Info("export job finished", zap.String("job_id", jobID), zap.String("file", relPath))
	return nil
}

// ResolveDownload validates a signed token and opens the underlying file.
func (s *ExportJobService) ResolveDownload(ctx context.Context, token string) (*Download, error) {
	jobID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if job.Status != models.ExportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "export is not ready")
	}

	file, err := s.files.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export file no longer available")
	}
	contentType := "text/csv"
	if job.Params.Format == models.ReportFormatPDF {
		contentType = "application/pdf"
	}
	return &Download{
		File:        file,
		Filename:    path.Base(relPath),
		ContentType: contentType,
	}, nil
}

// RecoverPendingJobs requeues jobs left QUEUED by a previous process.
func (s *ExportJobService) RecoverPendingJobs(ctx context.Context) error {
	pending, err := s.repo.ListQueued(ctx, 100)
	if err != nil {
		return fmt.Errorf("list queued export jobs: %w", err)
	}
	for _, job := range pending {
		if err := s.enqueue(job); err != nil {
			s.logger.Warn("failed to requeue export job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if len(pending) > 0 {
		s.logger.Info("recovered pending export jobs", zap.Int("count", len(pending)))
	}
	return nil
}

// StartCleanup periodically removes expired export files. It blocks until the
// context is cancelled, so run it on its own goroutine.
func (s *ExportJobService) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupOnce(ctx)
		}
	}
}

func (s *ExportJobService) cleanupOnce(ctx context.Context) {
	deleted, err := s.files.CleanupOlderThan(s.fileTTL)
	if err != nil {
		s.logger.Warn("export cleanup failed", zap.Error(err))
		return
	}
	if len(deleted) > 0 {
		s.logger.Info("expired export files removed", zap.Int("count", len(deleted)))
	}

	cutoff := time.Now().Add(-s.fileTTL)
	finished, err := s.repo.ListFinishedBefore(ctx, cutoff, 100)
	if err != nil {
		s.logger.Warn("export job cleanup query failed", zap.Error(err))
		return
	}
	for _, job := range finished {
		var empty string
		if err := s.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{ResultURL: &empty}); err != nil {
			s.logger.Warn("failed to clear expired result URL", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

func (s *ExportJobService) enqueue(job models.ExportJob) error {
	if s.queue == nil {
		return errors.New("export queue not attached")
	}
	return s.queue.Enqueue(jobs.Job{
		ID:      job.ID,
		Type:    string(job.Type),
		Payload: job.ID,
	})
}

func (s *ExportJobService) updateStatus(ctx context.Context, id string, status models.ExportStatus, progress int) {
	if err := s.repo.Update(ctx, id, repository.UpdateExportJobParams{Status: &status, Progress: &progress}); err != nil {
		s.logger.Warn("failed to update export job status", zap.String("job_id", id), zap.Error(err))
	}
}

func (s *ExportJobService) failJob(ctx context.Context, id, reason string) {
	status := models.ExportStatusFailed
	now := time.Now().UTC()
	if err := s.repo.Update(ctx, id, repository.UpdateExportJobParams{
		Status:       &status,
		ErrorMessage: &reason,
		FinishedAt:   &now,
	}); err != nil {
		s.logger.Warn("failed to mark export job failed", zap.String("job_id", id), zap.Error(err))
	}
	s.logger.Warn("export job failed", zap.String("job_id", id), zap.String("reason", reason))
}
