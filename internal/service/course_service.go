package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	"github.com/noah-isme/lms-api/pkg/database"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type courseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	SetStatus(ctx context.Context, id string, status models.CourseStatus) error
	CreateTree(ctx context.Context, course *models.Course, modules []repository.ModuleTree) error
}

type moduleRepository interface {
	FindByID(ctx context.Context, id string) (*models.Module, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Module, error)
	Create(ctx context.Context, module *models.Module) error
	Update(ctx context.Context, module *models.Module) error
}

// CreateCourseRequest describes a new course.
type CreateCourseRequest struct {
	Title        string              `json:"title" validate:"required,max=200"`
	Description  string              `json:"description" validate:"max=5000"`
	Status       models.CourseStatus `json:"status" validate:"omitempty,oneof=draft published archived"`
	ThumbnailURL *string             `json:"thumbnail_url" validate:"omitempty,url"`
}

// UpdateCourseRequest patches a course. Nil fields are left unchanged.
type UpdateCourseRequest struct {
	Title        *string              `json:"title" validate:"omitempty,min=1,max=200"`
	Description  *string              `json:"description" validate:"omitempty,max=5000"`
	Status       *models.CourseStatus `json:"status" validate:"omitempty,oneof=draft published archived"`
	ThumbnailURL *string              `json:"thumbnail_url" validate:"omitempty,url"`
}

// CreateModuleRequest describes a new module. Position zero appends.
type CreateModuleRequest struct {
	Title             string              `json:"title" validate:"required,max=200"`
	Content           string              `json:"content"`
	Position          int                 `json:"position" validate:"gte=0"`
	Status            models.ModuleStatus `json:"status" validate:"omitempty,oneof=draft published"`
	IsFinalAssessment bool                `json:"is_final_assessment"`
	PassMark          *float64            `json:"pass_mark" validate:"omitempty,gte=0,lte=100"`
}

// UpdateModuleRequest patches a module. Nil fields are left unchanged.
type UpdateModuleRequest struct {
	Title             *string              `json:"title" validate:"omitempty,min=1,max=200"`
	Content           *string              `json:"content"`
	Position          *int                 `json:"position" validate:"omitempty,gte=1"`
	Status            *models.ModuleStatus `json:"status" validate:"omitempty,oneof=draft published"`
	IsFinalAssessment *bool                `json:"is_final_assessment"`
}

// CourseService manages the course catalog and module content.
type CourseService struct {
	courses     courseRepository
	modules     moduleRepository
	enrollments enrollmentFinder
	audit       auditWriter
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(courses courseRepository, modules moduleRepository, enrollments enrollmentFinder, audit auditWriter, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{courses: courses, modules: modules, enrollments: enrollments, audit: audit, validator: defaultValidator(validate), logger: logger}
}

// ListCourses returns a page of courses and the total count.
func (s *CourseService) ListCourses(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	if filter.Status != "" && !validCourseStatus(filter.Status) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid course status")
	}
	courses, total, err := s.courses.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Transient(err, "failed to list courses")
	}
	return courses, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// GetCourse returns a course with all its modules.
func (s *CourseService) GetCourse(ctx context.Context, id string) (*dto.CourseDetail, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "course not found", "failed to load course")
	}
	modules, err := s.modules.ListByCourse(ctx, id)
	if err != nil {
		return nil, appErrors.Transient(err, "failed to load modules")
	}
	return &dto.CourseDetail{Course: *course, Modules: modules}, nil
}

// CreateCourse stores a new course, draft unless stated otherwise.
func (s *CourseService) CreateCourse(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid course payload")
	}
	course := &models.Course{
		Title:        strings.TrimSpace(req.Title),
		Description:  req.Description,
		Status:       req.Status,
		ThumbnailURL: req.ThumbnailURL,
	}
	if course.Status == "" {
		course.Status = models.CourseDraft
	}
	if err := s.courses.Create(ctx, course); err != nil {
		return nil, appErrors.Transient(err, "failed to create course")
	}
	return course, nil
}

// UpdateCourse applies a partial update.
func (s *CourseService) UpdateCourse(ctx context.Context, id string, req UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid course payload")
	}
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "course not found", "failed to load course")
	}
	if req.Title != nil {
		course.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		course.Description = *req.Description
	}
	if req.Status != nil {
		course.Status = *req.Status
	}
	if req.ThumbnailURL != nil {
		course.ThumbnailURL = req.ThumbnailURL
	}
	if err := s.courses.Update(ctx, course); err != nil {
		return nil, storeError(err, "course not found", "failed to update course")
	}
	return course, nil
}

// ArchiveCourse hides a course from students. Courses are never deleted.
func (s *CourseService) ArchiveCourse(ctx context.Context, id string) error {
	if err := s.courses.SetStatus(ctx, id, models.CourseArchived); err != nil {
		return storeError(err, "course not found", "failed to archive course")
	}
	s.logger.Info("course archived", zap.String("course_id", id))
	return nil
}

// ListModules returns every module of a course ordered by position.
func (s *CourseService) ListModules(ctx context.Context, courseID string) ([]models.Module, error) {
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		return nil, storeError(err, "course not found", "failed to load course")
	}
	modules, err := s.modules.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Transient(err, "failed to load modules")
	}
	return modules, nil
}

// CreateModule adds a module to a course.
func (s *CourseService) CreateModule(ctx context.Context, courseID string, req CreateModuleRequest) (*models.Module, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid module payload")
	}
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		return nil, storeError(err, "course not found", "failed to load course")
	}
	module := &models.Module{
		CourseID:          courseID,
		Title:             strings.TrimSpace(req.Title),
		Content:           req.Content,
		Position:          req.Position,
		Status:            req.Status,
		IsFinalAssessment: req.IsFinalAssessment,
		PassMark:          req.PassMark,
	}
	if err := s.modules.Create(ctx, module); err != nil {
		return nil, moduleWriteError(err, "failed to create module")
	}
	return module, nil
}

// UpdateModule applies a partial update. The pass mark is managed through
// the quiz endpoints.
func (s *CourseService) UpdateModule(ctx context.Context, id string, req UpdateModuleRequest) (*models.Module, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid module payload")
	}
	module, err := s.modules.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "module not found", "failed to load module")
	}
	if req.Title != nil {
		module.Title = strings.TrimSpace(*req.Title)
	}
	if req.Content != nil {
		module.Content = *req.Content
	}
	if req.Position != nil {
		module.Position = *req.Position
	}
	if req.Status != nil {
		module.Status = *req.Status
	}
	if req.IsFinalAssessment != nil {
		module.IsFinalAssessment = *req.IsFinalAssessment
	}
	if err := s.modules.Update(ctx, module); err != nil {
		return nil, moduleWriteError(err, "failed to update module")
	}
	return module, nil
}

// StudentCourse returns a published course as seen by one student. A pending
// enrollment yields locked placeholders; no enrollment is forbidden.
func (s *CourseService) StudentCourse(ctx context.Context, studentID, courseID string) (*dto.StudentCourse, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return nil, storeError(err, "course not found", "failed to load course")
	}
	if course.Status != models.CoursePublished {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}
	enrollment, err := s.enrollments.Find(ctx, studentID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not enrolled in this course")
		}
		return nil, appErrors.Transient(err, "failed to load enrollment")
	}
	modules, err := s.modules.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Transient(err, "failed to load modules")
	}

	out := &dto.StudentCourse{Course: *course, EnrollmentStatus: enrollment.Status, Modules: make([]dto.StudentModule, 0, len(modules))}
	for _, m := range modules {
		if m.Status != models.ModulePublished {
			continue
		}
		view := dto.StudentModule{
			ID:                m.ID,
			Title:             m.Title,
			Position:          m.Position,
			IsFinalAssessment: m.IsFinalAssessment,
			Locked:            !enrollment.IsActive(),
		}
		if !view.Locked {
			view.Content = m.Content
			view.HasQuiz = m.HasQuiz()
			view.PassMark = m.PassMark
		}
		out.Modules = append(out.Modules, view)
	}
	return out, nil
}

// ImportCourse creates a course with its modules and quizzes from a YAML
// document in one transaction.
func (s *CourseService) ImportCourse(ctx context.Context, meta AuditMeta, r io.Reader) (*dto.ImportSummary, error) {
	course, trees, err := ParseCourseDocument(r)
	if err != nil {
		return nil, validationError(err, err.Error())
	}
	if err := s.courses.CreateTree(ctx, course, trees); err != nil {
		return nil, moduleWriteError(err, "failed to import course")
	}
	summary := &dto.ImportSummary{CourseID: course.ID, Title: course.Title, Modules: len(trees)}
	for _, t := range trees {
		summary.Questions += len(t.Questions)
	}
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionCourseImport, "course", course.ID, nil, summary)
	s.logger.Info("course imported", zap.String("course_id", course.ID), zap.Int("modules", summary.Modules), zap.Int("questions", summary.Questions))
	return summary, nil
}

func moduleWriteError(err error, message string) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "module not found")
	case database.IsCode(err, database.CodeUniqueViolation):
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status,
			"module position is taken or the course already has a final assessment")
	default:
		return appErrors.Transient(err, message)
	}
}
