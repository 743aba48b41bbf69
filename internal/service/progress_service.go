package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type moduleReader interface {
	FindByID(ctx context.Context, id string) (*models.Module, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Module, error)
	IsAllowed(ctx context.Context, moduleID, studentID string) (bool, error)
}

type progressReader interface {
	Start(ctx context.Context, key models.ProgressKey, courseID string) error
	Find(ctx context.Context, key models.ProgressKey) (*models.ProgressRecord, error)
	ListAttempts(ctx context.Context, progressID string) ([]models.AttemptRecord, error)
	ListByStudentCourse(ctx context.Context, studentID, courseID string) ([]models.ProgressRecord, error)
	FetchAllProgress(ctx context.Context, courseID string) ([]models.ProgressRecord, error)
}

type enrollmentFinder interface {
	Find(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
}

type enrollmentReader interface {
	enrollmentFinder
	ListByCourse(ctx context.Context, courseID string, status models.EnrollmentStatus) ([]models.Enrollment, error)
}

// ProgressServiceConfig tunes caching and final assessment policy.
type ProgressServiceConfig struct {
	CacheTTL         time.Duration
	OverviewCacheTTL time.Duration
	AttemptCap       int
}

// ProgressService aggregates per-student and per-course progress.
type ProgressService struct {
	modules     moduleReader
	progress    progressReader
	enrollments enrollmentReader
	cache       *CacheService
	metrics     *MetricsService
	cfg         ProgressServiceConfig
	logger      *zap.Logger
	now         func() time.Time
}

// NewProgressService constructs the service. cache and metrics may be nil.
func NewProgressService(modules moduleReader, progress progressReader, enrollments enrollmentReader, cache *CacheService, metrics *MetricsService, cfg ProgressServiceConfig, logger *zap.Logger) *ProgressService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressService{
		modules:     modules,
		progress:    progress,
		enrollments: enrollments,
		cache:       cache,
		metrics:     metrics,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// StartModule records the first visit of a module. Visiting again is a no-op.
func (s *ProgressService) StartModule(ctx context.Context, studentID, moduleID string) error {
	module, err := s.modules.FindByID(ctx, moduleID)
	if err != nil {
		return storeError(err, "module not found", "failed to load module")
	}
	if err := requireActiveEnrollment(ctx, s.enrollments, studentID, module.CourseID); err != nil {
		return err
	}
	if module.Status != models.ModulePublished {
		return appErrors.Clone(appErrors.ErrNotFound, "module not found")
	}
	key := models.ProgressKey{StudentID: studentID, ModuleID: moduleID}
	if err := s.progress.Start(ctx, key, module.CourseID); err != nil {
		return appErrors.Transient(err, "failed to start module")
	}
	s.Invalidate(ctx, studentID, module.CourseID)
	return nil
}

// CourseProgress returns the student's aggregated progress on a course.
func (s *ProgressService) CourseProgress(ctx context.Context, studentID, courseID string) (*models.CourseProgress, error) {
	key := progressCacheKey(studentID, courseID)
	var cached models.CourseProgress
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	modules, err := s.publishedModules(ctx, courseID)
	if err != nil {
		return nil, err
	}
	records, err := s.progress.ListByStudentCourse(ctx, studentID, courseID)
	if err != nil {
		return nil, appErrors.Transient(err, "failed to load progress")
	}
	index := IndexByModule(records)
	view := AggregateCourseProgress(studentID, courseID, modules, index)

	regular, final := models.SplitModules(modules)
	if final != nil {
		allowed, err := s.modules.IsAllowed(ctx, final.ID, studentID)
		if err != nil {
			return nil, appErrors.Transient(err, "failed to check final assessment access")
		}
		view.FinalModuleID = final.ID
		view.FinalAccess = DeriveAccessState(AccessInput{
			AllCompleted: AllCompleted(regular, index),
			Allowed:      allowed,
			Record:       lookup(index, final.ID),
			AttemptCap:   s.cfg.AttemptCap,
		})
	}

	_ = s.cache.Set(ctx, key, view, s.cfg.CacheTTL)
	return &view, nil
}

// FetchAllProgress returns reconciled records of every student in a course,
// or of every student when courseID is empty.
func (s *ProgressService) FetchAllProgress(ctx context.Context, courseID string) ([]models.ProgressRecord, error) {
	start := time.Now()
	records, err := s.progress.FetchAllProgress(ctx, courseID)
	s.metrics.ObserveProgressFetch(time.Since(start))
	if err != nil {
		return nil, appErrors.Transient(err, "failed to load progress")
	}
	return ReconcileAttempts(records), nil
}

// CourseOverview counts active students per module status.
func (s *ProgressService) CourseOverview(ctx context.Context, courseID string) (*models.CourseOverview, error) {
	key := overviewCacheKey(courseID)
	var cached models.CourseOverview
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	modules, err := s.publishedModules(ctx, courseID)
	if err != nil {
		return nil, err
	}
	active, err := s.enrollments.ListByCourse(ctx, courseID, models.EnrollmentActive)
	if err != nil {
		return nil, appErrors.Transient(err, "failed to load enrollments")
	}
	records, err := s.FetchAllProgress(ctx, courseID)
	if err != nil {
		return nil, err
	}
	byKey := make(map[models.ProgressKey]models.ProgressRecord, len(records))
	for _, r := range records {
		byKey[r.Key()] = r
	}

	overview := &models.CourseOverview{
		CourseID:     courseID,
		StudentCount: len(active),
		Modules:      make([]models.ModuleOverview, 0, len(modules)),
		GeneratedAt:  s.now().UTC(),
	}
	for _, m := range modules {
		line := models.ModuleOverview{ModuleID: m.ID, Title: m.Title}
		for _, e := range active {
			var record *models.ProgressRecord
			if r, ok := byKey[models.ProgressKey{StudentID: e.StudentID, ModuleID: m.ID}]; ok {
				record = &r
				if r.QuizRequested {
					line.PendingRequests++
				}
			}
			switch ModuleStatusOf(record) {
			case models.StatusCompleted:
				line.Completed++
			case models.StatusInProgress:
				line.InProgress++
			default:
				line.NotStarted++
			}
		}
		overview.Modules = append(overview.Modules, line)
	}

	_ = s.cache.Set(ctx, key, overview, s.cfg.OverviewCacheTTL)
	return overview, nil
}

// AttemptHistory lists every graded attempt of a student on a module,
// oldest first. A module never attempted has an empty history.
func (s *ProgressService) AttemptHistory(ctx context.Context, studentID, moduleID string) ([]models.AttemptRecord, error) {
	module, err := s.modules.FindByID(ctx, moduleID)
	if err != nil {
		return nil, storeError(err, "module not found", "failed to load module")
	}
	record, err := s.progress.Find(ctx, models.ProgressKey{StudentID: studentID, ModuleID: module.ID})
	if errors.Is(err, sql.ErrNoRows) {
		return []models.AttemptRecord{}, nil
	}
	if err != nil {
		return nil, appErrors.Transient(err, "failed to load progress")
	}
	attempts, err := s.progress.ListAttempts(ctx, record.ID)
	if err != nil {
		return nil, appErrors.Transient(err, "failed to load attempts")
	}
	if attempts == nil {
		attempts = []models.AttemptRecord{}
	}
	return attempts, nil
}

// Invalidate drops cached views affected by a change to a student's progress.
func (s *ProgressService) Invalidate(ctx context.Context, studentID, courseID string) {
	if err := s.cache.Delete(ctx, progressCacheKey(studentID, courseID), overviewCacheKey(courseID)); err != nil {
		s.logger.Debug("progress cache invalidation failed", zap.String("course_id", courseID), zap.Error(err))
	}
}

func (s *ProgressService) publishedModules(ctx context.Context, courseID string) ([]models.Module, error) {
	modules, err := s.modules.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Transient(err, "failed to load modules")
	}
	out := modules[:0:0]
	for _, m := range modules {
		if m.Status == models.ModulePublished {
			out = append(out, m)
		}
	}
	return out, nil
}

// requireActiveEnrollment rejects students without an active enrollment.
func requireActiveEnrollment(ctx context.Context, enrollments enrollmentFinder, studentID, courseID string) error {
	enrollment, err := enrollments.Find(ctx, studentID, courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrForbidden, "not enrolled in this course")
	}
	if err != nil {
		return appErrors.Transient(err, "failed to load enrollment")
	}
	if !enrollment.IsActive() {
		return appErrors.Clone(appErrors.ErrForbidden, "enrollment is not active")
	}
	return nil
}
