package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/gradebook-api/internal/models"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
	"github.com/noah-isme/gradebook-api/pkg/export"
)

type exportStudentRepo interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
}

type exportStorage interface {
	Save(filename string, data []byte) (string, error)
}

// ExportService renders reports into downloadable files. It pulls the data
// through ReportService so exports always match what the API serves.
type ExportService struct {
	reports  *ReportService
	courses  reportCourseRepo
	students exportStudentRepo
	storage  exportStorage
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	logger   *zap.Logger
}

// NewExportService constructs ExportService.
func NewExportService(reports *ReportService, courses reportCourseRepo, students exportStudentRepo, storage exportStorage, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		reports:  reports,
		courses:  courses,
		students: students,
		storage:  storage,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		logger:   logger,
	}
}

// Generate renders the export described by the job and stores the file.
// It returns the relative path of the stored file.
func (s *ExportService) Generate(ctx context.Context, job models.ExportJob) (string, error) {
	var (
		data  export.Dataset
		title string
		err   error
	)
	switch job.Type {
	case models.ExportTypeCourseReport:
		data, title, err = s.courseReportDataset(ctx, job.Params.CourseID)
	case models.ExportTypeStudentReport:
		if job.Params.StudentID == nil {
			return "", appErrors.Clone(appErrors.ErrValidation, "student report export requires a student id")
		}
		data, title, err = s.studentReportDataset(ctx, job.Params.CourseID, *job.Params.StudentID)
	case models.ExportTypeRoster:
		data, title, err = s.rosterDataset(ctx, job.Params.CourseID)
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export type %s", job.Type))
	}
	if err != nil {
		return "", err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(data)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(data, title)
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %s", job.Params.Format))
	}
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	filename := buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	s.logger.Info("export rendered",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.String("file", relPath),
		zap.Int("bytes", len(payload)))
	return relPath, nil
}

func (s *ExportService) courseReportDataset(ctx context.Context, courseID string) (export.Dataset, string, error) {
	report, _, err := s.reports.CourseReport(ctx, courseID)
	if err != nil {
		return export.Dataset{}, "", err
	}

	data := export.Dataset{
		Headers: []string{"Student ID", "Student Name", "Final", "Letter", "Flags"},
		Rows:    make([]map[string]string, 0, len(report.Finals)),
	}
	flagsByStudent := make(map[string][]string)
	for _, flag := range report.Flags {
		flagsByStudent[flag.StudentID] = append(flagsByStudent[flag.StudentID], string(flag.Kind))
	}
	for _, final := range report.Finals {
		name := ""
		if student, err := s.students.FindByID(ctx, final.StudentID); err == nil {
			name = student.FullName
		}
		data.Rows = append(data.Rows, map[string]string{
			"Student ID":   final.StudentID,
			"Student Name": name,
			"Final":        formatScore(final.NumericTotal),
			"Letter":       string(final.Letter),
			"Flags":        strings.Join(flagsByStudent[final.StudentID], ";"),
		})
	}
	data.Rows = append(data.Rows, map[string]string{
		"Student ID": "CLASS MEAN",
		"Final":      formatScore(report.ClassMean),
	}, map[string]string{
		"Student ID": "CLASS MEDIAN",
		"Final":      formatScore(report.ClassMedian),
	}, map[string]string{
		"Student ID": "CLASS STDDEV",
		"Final":      formatScore(report.ClassStdDev),
	})

	title := fmt.Sprintf("Course Report %s", courseID)
	return data, title, nil
}

func (s *ExportService) studentReportDataset(ctx context.Context, courseID, studentID string) (export.Dataset, string, error) {
	course, err := s.reports.loadCourse(ctx, courseID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	final, _, err := s.reports.StudentFinal(ctx, courseID, studentID)
	if err != nil {
		return export.Dataset{}, "", err
	}

	recorded := make(map[string]*float64, len(final.Records))
	for _, rec := range final.Records {
		recorded[rec.AssignmentID] = rec.RawScore
	}

	data := export.Dataset{
		Headers: []string{"Assignment", "Raw Score", "Max Score", "Weight"},
		Rows:    make([]map[string]string, 0, len(course.Assignments)+1),
	}
	for _, assignment := range course.ActiveAssignments() {
		raw := "MISSING"
		if v, ok := recorded[assignment.ID]; ok && v != nil {
			raw = formatScore(*v)
		}
		data.Rows = append(data.Rows, map[string]string{
			"Assignment": assignment.Title,
			"Raw Score":  raw,
			"Max Score":  formatScore(assignment.MaxScore),
			"Weight":     strconv.FormatFloat(assignment.Weight, 'f', -1, 64),
		})
	}
	data.Rows = append(data.Rows, map[string]string{
		"Assignment": "FINAL",
		"Raw Score":  formatScore(final.NumericTotal),
		"Weight":     string(final.Letter),
	})

	title := fmt.Sprintf("Student Report %s %s", courseID, studentID)
	return data, title, nil
}

func (s *ExportService) rosterDataset(ctx context.Context, courseID string) (export.Dataset, string, error) {
	filter := models.StudentFilter{CourseID: courseID, PageSize: 100}
	data := export.Dataset{Headers: []string{"Student ID", "Full Name", "Email"}}
	for page := 1; ; page++ {
		filter.Page = page
		students, total, err := s.students.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
		}
		for _, student := range students {
			data.Rows = append(data.Rows, map[string]string{
				"Student ID": student.ID,
				"Full Name":  student.FullName,
				"Email":      student.Email,
			})
		}
		if len(data.Rows) >= total || len(students) == 0 {
			break
		}
	}
	title := fmt.Sprintf("Roster %s", courseID)
	return data, title, nil
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// buildFilename derives a stable storage path for an export job.
func buildFilename(job models.ExportJob) string {
	parts := []string{string(job.Type), job.Params.CourseID}
	if job.Params.StudentID != nil {
		parts = append(parts, *job.Params.StudentID)
	}
	parts = append(parts, job.CreatedAt.UTC().Format("20060102T150405"))
	base := sanitizeFilename(strings.Join(parts, "_"))
	return fmt.Sprintf("%s/%s.%s", job.CreatedAt.UTC().Format("2006/01"), base, job.Params.Format)
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
