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

type accessStore interface {
	ListByStudentCourse(ctx context.Context, studentID, courseID string) ([]models.ProgressRecord, error)
	RequestAccess(ctx context.Context, key models.ProgressKey, courseID string, at time.Time) (bool, error)
	GrantAccess(ctx context.Context, grantedBy string, key models.ProgressKey, courseID string, at time.Time) error
	ListRequests(ctx context.Context, moduleID string) ([]models.AccessRequest, error)
}

type userFinder interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type progressInvalidator interface {
	Invalidate(ctx context.Context, studentID, courseID string)
}

// Access workflow events reported to metrics.
const (
	accessEventRequest   = "request"
	accessEventGrant     = "grant"
	accessEventExhausted = "exhausted"
)

// AccessService runs the final assessment request and grant workflow.
type AccessService struct {
	modules     moduleReader
	progress    accessStore
	enrollments enrollmentFinder
	users       userFinder
	audit       auditWriter
	invalidator progressInvalidator
	metrics     *MetricsService
	attemptCap  int
	logger      *zap.Logger
	now         func() time.Time
}

// NewAccessService constructs the service. attemptCap of zero means unlimited
// final assessment attempts per grant.
func NewAccessService(modules moduleReader, progress accessStore, enrollments enrollmentFinder, users userFinder, audit auditWriter, invalidator progressInvalidator, metrics *MetricsService, attemptCap int, logger *zap.Logger) *AccessService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessService{
		modules:     modules,
		progress:    progress,
		enrollments: enrollments,
		users:       users,
		audit:       audit,
		invalidator: invalidator,
		metrics:     metrics,
		attemptCap:  attemptCap,
		logger:      logger,
		now:         time.Now,
	}
}

// AccessState returns where the student stands on a final assessment.
func (s *AccessService) AccessState(ctx context.Context, studentID, moduleID string) (models.AccessState, error) {
	module, err := s.finalModule(ctx, moduleID)
	if err != nil {
		return "", err
	}
	return s.StateFor(ctx, studentID, module)
}

// StateFor derives the state for an already loaded final module.
func (s *AccessService) StateFor(ctx context.Context, studentID string, module *models.Module) (models.AccessState, error) {
	modules, err := s.modules.ListByCourse(ctx, module.CourseID)
	if err != nil {
		return "", appErrors.Transient(err, "failed to load modules")
	}
	records, err := s.progress.ListByStudentCourse(ctx, studentID, module.CourseID)
	if err != nil {
		return "", appErrors.Transient(err, "failed to load progress")
	}
	allowed, err := s.modules.IsAllowed(ctx, module.ID, studentID)
	if err != nil {
		return "", appErrors.Transient(err, "failed to check final assessment access")
	}

	var regular []models.Module
	for _, m := range modules {
		if !m.IsFinalAssessment && m.Status == models.ModulePublished {
			regular = append(regular, m)
		}
	}
	index := IndexByModule(records)
	return DeriveAccessState(AccessInput{
		AllCompleted: AllCompleted(regular, index),
		Allowed:      allowed,
		Record:       lookup(index, module.ID),
		AttemptCap:   s.attemptCap,
	}), nil
}

// RequestAccess asks an administrator for a final assessment attempt. Calling
// it while a request is pending changes nothing.
func (s *AccessService) RequestAccess(ctx context.Context, studentID, moduleID string) (models.AccessState, error) {
	module, err := s.finalModule(ctx, moduleID)
	if err != nil {
		return "", err
	}
	if err := requireActiveEnrollment(ctx, s.enrollments, studentID, module.CourseID); err != nil {
		return "", err
	}
	state, err := s.StateFor(ctx, studentID, module)
	if err != nil {
		return "", err
	}

	switch state {
	case models.AccessLocked:
		return state, appErrors.Clone(appErrors.ErrAssessmentLocked, "complete every module before requesting the final assessment")
	case models.AccessPassed:
		return state, appErrors.Clone(appErrors.ErrConflict, "final assessment already passed")
	case models.AccessGranted, models.AccessAttempted:
		return state, appErrors.Clone(appErrors.ErrConflict, "final assessment access already granted")
	case models.AccessRequested:
		return state, nil
	}

	key := models.ProgressKey{StudentID: studentID, ModuleID: module.ID}
	changed, err := s.progress.RequestAccess(ctx, key, module.CourseID, s.now().UTC())
	if err != nil {
		return "", appErrors.Transient(err, "failed to request access")
	}
	if changed {
		s.metrics.RecordAccessEvent(accessEventRequest)
		s.logger.Info("final assessment access requested", zap.String("student_id", studentID), zap.String("module_id", module.ID))
	}
	s.invalidate(ctx, studentID, module.CourseID)
	return models.AccessRequested, nil
}

// GrantAccess authorises a student for a final assessment, resetting attempts
// and clearing any pending request in one transaction. Students who have not
// completed every regular module cannot be granted access.
func (s *AccessService) GrantAccess(ctx context.Context, meta AuditMeta, studentID, moduleID string) (models.AccessState, error) {
	module, err := s.finalModule(ctx, moduleID)
	if err != nil {
		return "", err
	}
	student, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		return "", storeError(err, "student not found", "failed to load student")
	}
	if student.Role != models.RoleStudent {
		return "", appErrors.Clone(appErrors.ErrValidation, "access can only be granted to students")
	}
	if err := requireActiveEnrollment(ctx, s.enrollments, studentID, module.CourseID); err != nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "student is not actively enrolled in this course")
	}

	before, err := s.StateFor(ctx, studentID, module)
	if err != nil {
		return "", err
	}
	switch before {
	case models.AccessPassed:
		return before, appErrors.Clone(appErrors.ErrConflict, "final assessment already passed")
	case models.AccessLocked:
		return before, appErrors.Clone(appErrors.ErrAssessmentLocked, "student has not completed every module")
	}

	key := models.ProgressKey{StudentID: studentID, ModuleID: module.ID}
	if err := s.progress.GrantAccess(ctx, meta.ActorID, key, module.CourseID, s.now().UTC()); err != nil {
		return "", appErrors.Transient(err, "failed to grant access")
	}
	s.metrics.RecordAccessEvent(accessEventGrant)
	s.invalidate(ctx, studentID, module.CourseID)

	after, err := s.StateFor(ctx, studentID, module)
	if err != nil {
		return "", err
	}
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionAccessGrant, "module", module.ID,
		map[string]interface{}{"student_id": studentID, "state": before},
		map[string]interface{}{"student_id": studentID, "state": after})
	return after, nil
}

// ListRequests returns pending requests for a final assessment.
func (s *AccessService) ListRequests(ctx context.Context, moduleID string) ([]models.AccessRequest, error) {
	if _, err := s.finalModule(ctx, moduleID); err != nil {
		return nil, err
	}
	requests, err := s.progress.ListRequests(ctx, moduleID)
	if err != nil {
		return nil, appErrors.Transient(err, "failed to list access requests")
	}
	return requests, nil
}

func (s *AccessService) finalModule(ctx context.Context, moduleID string) (*models.Module, error) {
	module, err := s.modules.FindByID(ctx, moduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "module not found")
		}
		return nil, appErrors.Transient(err, "failed to load module")
	}
	if module.Status != models.ModulePublished {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "module not found")
	}
	if !module.IsFinalAssessment {
		return nil, appErrors.Clone(appErrors.ErrValidation, "module is not a final assessment")
	}
	return module, nil
}

func (s *AccessService) invalidate(ctx context.Context, studentID, courseID string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, studentID, courseID)
	}
}
