package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/export"
	"github.com/noah-isme/lms-api/pkg/storage"
)

type reportRenderer interface {
	Render(table export.Table) ([]byte, error)
	ContentType() string
	Extension() string
}

type reportStorage interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (io.ReadCloser, os.FileInfo, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type reportSigner interface {
	Sign(reportID, path string) (string, time.Time, error)
	Verify(token string) (storage.DownloadGrant, error)
}

type progressSource interface {
	FetchAllProgress(ctx context.Context, courseID string) ([]models.ProgressRecord, error)
}

type studentDirectory interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

// ReportServiceConfig governs download links and file retention.
type ReportServiceConfig struct {
	DownloadPath    string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

// ReportDownload is an opened report file.
type ReportDownload struct {
	Reader      io.ReadCloser
	Filename    string
	ContentType string
	Size        int64
	ExpiresAt   time.Time
}

// ReportService renders course progress reports to files and hands out
// signed, expiring download links.
type ReportService struct {
	courses     courseFinder
	modules     moduleReader
	enrollments enrollmentReader
	users       studentDirectory
	progress    progressSource
	storage     reportStorage
	signer      reportSigner
	renderers   map[dto.ReportFormat]reportRenderer
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         ReportServiceConfig
	now         func() time.Time
}

// ReportServiceDeps groups the collaborators of ReportService.
type ReportServiceDeps struct {
	Courses     courseFinder
	Modules     moduleReader
	Enrollments enrollmentReader
	Users       studentDirectory
	Progress    progressSource
	Storage     reportStorage
	Signer      reportSigner
	Metrics     *MetricsService
}

// NewReportService constructs the report service with CSV and PDF renderers.
func NewReportService(deps ReportServiceDeps, validate *validator.Validate, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.DownloadPath == "" {
		cfg.DownloadPath = "/api/v1/reports/download"
	}
	return &ReportService{
		courses:     deps.Courses,
		modules:     deps.Modules,
		enrollments: deps.Enrollments,
		users:       deps.Users,
		progress:    deps.Progress,
		storage:     deps.Storage,
		signer:      deps.Signer,
		renderers: map[dto.ReportFormat]reportRenderer{
			dto.ReportFormatCSV: export.NewCSVExporter(),
			dto.ReportFormatPDF: export.NewPDFExporter(),
		},
		metrics:   deps.Metrics,
		validator: defaultValidator(validate),
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ExportCourseProgress renders one row per active student with the status of
// every published module, stores the file and returns a download link.
func (s *ReportService) ExportCourseProgress(ctx context.Context, courseID string, req dto.ReportRequest) (*dto.ReportResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "format must be csv or pdf")
	}
	renderer := s.renderers[req.Format]

	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return nil, storeError(err, "course not found", "failed to load course")
	}
	table, err := s.buildTable(ctx, course)
	if err != nil {
		return nil, err
	}
	data, err := renderer.Render(table)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}

	reportID := uuid.NewString()
	name := path.Join(courseID, fmt.Sprintf("%s.%s", reportID, renderer.Extension()))
	stored, err := s.storage.Save(name, data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store report")
	}
	token, expiresAt, err := s.signer.Sign(reportID, stored)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign report link")
	}

	s.metrics.RecordReportExport(string(req.Format))
	s.logger.Info("progress report generated", zap.String("course_id", courseID), zap.String("report_id", reportID), zap.String("format", string(req.Format)))
	return &dto.ReportResponse{
		ReportID:    reportID,
		CourseID:    courseID,
		Format:      req.Format,
		Rows:        len(table.Rows),
		DownloadURL: strings.TrimRight(s.cfg.DownloadPath, "/") + "/" + token,
		ExpiresAt:   expiresAt,
	}, nil
}

// ResolveDownload validates token and opens the stored report.
func (s *ReportService) ResolveDownload(ctx context.Context, token string) (*ReportDownload, error) {
	grant, err := s.signer.Verify(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download token")
	}
	reader, info, err := s.storage.Open(grant.Path)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
	}
	ext := strings.TrimPrefix(path.Ext(grant.Path), ".")
	contentType := "application/octet-stream"
	if r, ok := s.renderers[dto.ReportFormat(ext)]; ok {
		contentType = r.ContentType()
	}
	return &ReportDownload{
		Reader:      reader,
		Filename:    "progress-" + path.Base(grant.Path),
		ContentType: contentType,
		Size:        info.Size(),
		ExpiresAt:   grant.ExpiresAt,
	}, nil
}

// StartCleanup boots a goroutine that purges expired reports periodically.
func (s *ReportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL)
				if err != nil {
					s.logger.Warn("report cleanup failed", zap.Error(err))
					continue
				}
				if len(removed) > 0 {
					s.logger.Info("expired reports removed", zap.Int("count", len(removed)))
				}
			}
		}
	}()
}

func (s *ReportService) buildTable(ctx context.Context, course *models.Course) (export.Table, error) {
	modules, err := s.modules.ListByCourse(ctx, course.ID)
	if err != nil {
		return export.Table{}, appErrors.Transient(err, "failed to load modules")
	}
	var published []models.Module
	for _, m := range modules {
		if m.Status == models.ModulePublished {
			published = append(published, m)
		}
	}
	active, err := s.enrollments.ListByCourse(ctx, course.ID, models.EnrollmentActive)
	if err != nil {
		return export.Table{}, appErrors.Transient(err, "failed to load enrollments")
	}
	ids := make([]string, 0, len(active))
	for _, e := range active {
		ids = append(ids, e.StudentID)
	}
	var students []models.User
	if len(ids) > 0 {
		if students, err = s.users.ListByIDs(ctx, ids); err != nil {
			return export.Table{}, appErrors.Transient(err, "failed to load students")
		}
	}
	sort.Slice(students, func(i, j int) bool { return strings.ToLower(students[i].FullName) < strings.ToLower(students[j].FullName) })

	records, err := s.progress.FetchAllProgress(ctx, course.ID)
	if err != nil {
		return export.Table{}, err
	}
	byKey := make(map[models.ProgressKey]models.ProgressRecord, len(records))
	for _, r := range records {
		byKey[r.Key()] = r
	}

	table := export.Table{
		Title: fmt.Sprintf("%s progress", course.Title),
		Columns: []export.Column{
			{Key: "student", Label: "Student", Width: 2},
			{Key: "email", Label: "Email", Width: 2},
		},
	}
	for _, m := range published {
		table.Columns = append(table.Columns, export.Column{Key: m.ID, Label: m.Title, Width: 1.5})
	}
	table.Columns = append(table.Columns, export.Column{Key: "completed", Label: "Completed", Width: 1})

	regular, _ := models.SplitModules(published)
	for _, st := range students {
		row := map[string]string{"student": st.FullName, "email": st.Email}
		index := make(map[string]models.ProgressRecord, len(published))
		for _, m := range published {
			record, ok := byKey[models.ProgressKey{StudentID: st.ID, ModuleID: m.ID}]
			var ptr *models.ProgressRecord
			if ok {
				ptr = &record
				index[m.ID] = record
			}
			row[m.ID] = describeModule(ptr)
		}
		done := 0
		for _, m := range regular {
			if ModuleStatusOf(lookup(index, m.ID)) == models.StatusCompleted {
				done++
			}
		}
		row["completed"] = fmt.Sprintf("%d/%d", done, len(regular))
		table.Rows = append(table.Rows, row)
	}
	table.Footer = []string{fmt.Sprintf("Generated %s for %d students", s.now().UTC().Format(time.RFC3339), len(table.Rows))}
	return table, nil
}

func describeModule(record *models.ProgressRecord) string {
	status := ModuleStatusOf(record)
	if record == nil || record.Attempts == 0 {
		return string(status)
	}
	return fmt.Sprintf("%s (%.0f%%, %d attempts)", status, record.Score, record.Attempts)
}
