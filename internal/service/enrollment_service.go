package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type enrollmentRepository interface {
	Find(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	Request(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	Activate(ctx context.Context, studentID, courseID string, at time.Time) error
	ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
	ListByCourse(ctx context.Context, courseID string, status models.EnrollmentStatus) ([]models.Enrollment, error)
}

type courseFinder interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// ActivateEnrollmentRequest identifies the enrollment an administrator approves.
type ActivateEnrollmentRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	CourseID  string `json:"course_id" validate:"required"`
}

// EnrollmentService orchestrates enrollment workflows.
type EnrollmentService struct {
	repo        enrollmentRepository
	courses     courseFinder
	audit       auditWriter
	invalidator progressInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, courses courseFinder, audit auditWriter, invalidator progressInvalidator, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:        repo,
		courses:     courses,
		audit:       audit,
		invalidator: invalidator,
		validator:   defaultValidator(validate),
		logger:      logger,
		now:         time.Now,
	}
}

// RequestEnrollment registers interest in a published course. Requesting
// twice returns the existing enrollment.
func (s *EnrollmentService) RequestEnrollment(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return nil, storeError(err, "course not found", "failed to load course")
	}
	if course.Status != models.CoursePublished {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}
	enrollment, err := s.repo.Request(ctx, studentID, courseID)
	if err != nil {
		return nil, appErrors.Transient(err, "failed to request enrollment")
	}
	s.logger.Info("enrollment requested", zap.String("student_id", studentID), zap.String("course_id", courseID), zap.String("status", string(enrollment.Status)))
	return enrollment, nil
}

// ActivateEnrollment approves a pending enrollment.
func (s *EnrollmentService) ActivateEnrollment(ctx context.Context, meta AuditMeta, req ActivateEnrollmentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid enrollment payload")
	}
	current, err := s.repo.Find(ctx, req.StudentID, req.CourseID)
	if err != nil {
		return nil, storeError(err, "enrollment not found", "failed to load enrollment")
	}
	if current.IsActive() {
		return current, nil
	}
	if err := s.repo.Activate(ctx, req.StudentID, req.CourseID, s.now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Transient(err, "failed to activate enrollment")
	}
	updated, err := s.repo.Find(ctx, req.StudentID, req.CourseID)
	if err != nil {
		return nil, storeError(err, "enrollment not found", "failed to load enrollment")
	}

	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionEnrollActivate, "enrollment", updated.ID,
		map[string]interface{}{"status": current.Status}, map[string]interface{}{"status": updated.Status})
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, req.StudentID, req.CourseID)
	}
	return updated, nil
}

// ListForStudent returns a student's enrollments with course titles.
func (s *EnrollmentService) ListForStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	items, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Transient(err, "failed to list enrollments")
	}
	return items, nil
}

// ListForCourse returns enrollments of a course, optionally by status.
func (s *EnrollmentService) ListForCourse(ctx context.Context, courseID string, status models.EnrollmentStatus) ([]models.Enrollment, error) {
	switch status {
	case "", models.EnrollmentPending, models.EnrollmentActive:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid enrollment status")
	}
	items, err := s.repo.ListByCourse(ctx, courseID, status)
	if err != nil {
		return nil, appErrors.Transient(err, "failed to list enrollments")
	}
	return items, nil
}
