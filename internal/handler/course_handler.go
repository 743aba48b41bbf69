package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

// maxImportSize bounds YAML course documents.
const maxImportSize = 2 << 20

type courseService interface {
	ListCourses(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error)
	GetCourse(ctx context.Context, id string) (*dto.CourseDetail, error)
	CreateCourse(ctx context.Context, req service.CreateCourseRequest) (*models.Course, error)
	UpdateCourse(ctx context.Context, id string, req service.UpdateCourseRequest) (*models.Course, error)
	ArchiveCourse(ctx context.Context, id string) error
	ListModules(ctx context.Context, courseID string) ([]models.Module, error)
	CreateModule(ctx context.Context, courseID string, req service.CreateModuleRequest) (*models.Module, error)
	UpdateModule(ctx context.Context, id string, req service.UpdateModuleRequest) (*models.Module, error)
	StudentCourse(ctx context.Context, studentID, courseID string) (*dto.StudentCourse, error)
	ImportCourse(ctx context.Context, meta service.AuditMeta, r io.Reader) (*dto.ImportSummary, error)
}

// CourseHandler exposes the course catalog and module authoring.
type CourseHandler struct {
	service courseService
}

// NewCourseHandler constructs the handler.
func NewCourseHandler(svc courseService) *CourseHandler {
	return &CourseHandler{service: svc}
}

// List godoc
// @Summary List courses
// @Description Students only ever see published courses.
// @Tags Courses
// @Produce json
// @Param status query string false "draft, published or archived"
// @Param search query string false "Title search"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	filter := models.CourseFilter{
		Status: models.CourseStatus(strings.TrimSpace(c.Query("status"))),
		Search: strings.TrimSpace(c.Query("search")),
	}
	filter.Page, _ = strconv.Atoi(c.Query("page"))
	filter.PageSize, _ = strconv.Atoi(c.Query("page_size"))
	if claims := claimsFromContext(c); claims == nil || claims.Role == models.RoleStudent {
		filter.Status = models.CoursePublished
	}

	courses, page, err := h.service.ListCourses(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, &response.Pagination{Page: page.Page, PageSize: page.PageSize, TotalCount: page.TotalCount})
}

// Get godoc
// @Summary Get a course with every module
// @Tags Courses
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{courseId} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "courseId")
	if !ok {
		return
	}
	course, err := h.service.GetCourse(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, course)
}

// Create godoc
// @Summary Create a course
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body service.CreateCourseRequest true "Course"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	var req service.CreateCourseRequest
	if !bindJSON(c, &req, "invalid course payload") {
		return
	}
	course, err := h.service.CreateCourse(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// Update godoc
// @Summary Update a course
// @Tags Courses
// @Accept json
// @Produce json
// @Param courseId path string true "Course ID"
// @Param payload body service.UpdateCourseRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId} [put]
func (h *CourseHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "courseId")
	if !ok {
		return
	}
	var req service.UpdateCourseRequest
	if !bindJSON(c, &req, "invalid course payload") {
		return
	}
	course, err := h.service.UpdateCourse(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, course)
}

// Archive godoc
// @Summary Archive a course
// @Description Courses are never deleted; archiving hides them from students.
// @Tags Courses
// @Param courseId path string true "Course ID"
// @Success 204
// @Router /courses/{courseId} [delete]
func (h *CourseHandler) Archive(c *gin.Context) {
	id, ok := pathID(c, "courseId")
	if !ok {
		return
	}
	if err := h.service.ArchiveCourse(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListModules godoc
// @Summary List modules of a course in order
// @Tags Modules
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/modules [get]
func (h *CourseHandler) ListModules(c *gin.Context) {
	id, ok := pathID(c, "courseId")
	if !ok {
		return
	}
	modules, err := h.service.ListModules(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, modules)
}

// CreateModule godoc
// @Summary Add a module to a course
// @Tags Modules
// @Accept json
// @Produce json
// @Param courseId path string true "Course ID"
// @Param payload body service.CreateModuleRequest true "Module"
// @Success 201 {object} response.Envelope
// @Router /courses/{courseId}/modules [post]
func (h *CourseHandler) CreateModule(c *gin.Context) {
	id, ok := pathID(c, "courseId")
	if !ok {
		return
	}
	var req service.CreateModuleRequest
	if !bindJSON(c, &req, "invalid module payload") {
		return
	}
	module, err := h.service.CreateModule(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, module)
}

// UpdateModule godoc
// @Summary Update a module
// @Tags Modules
// @Accept json
// @Produce json
// @Param moduleId path string true "Module ID"
// @Param payload body service.UpdateModuleRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Router /modules/{moduleId} [put]
func (h *CourseHandler) UpdateModule(c *gin.Context) {
	id, ok := pathID(c, "moduleId")
	if !ok {
		return
	}
	var req service.UpdateModuleRequest
	if !bindJSON(c, &req, "invalid module payload") {
		return
	}
	module, err := h.service.UpdateModule(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, module)
}

// StudentView godoc
// @Summary Course as seen by the signed-in student
// @Description Pending enrollments get locked placeholders without content.
// @Tags Courses
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /me/courses/{courseId} [get]
func (h *CourseHandler) StudentView(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	id, ok := pathID(c, "courseId")
	if !ok {
		return
	}
	course, err := h.service.StudentCourse(c.Request.Context(), claims.UserID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, course)
}

// Import godoc
// @Summary Import a course from YAML
// @Description Accepts a raw YAML body or a multipart upload in the "file" field.
// @Tags Courses
// @Accept application/x-yaml
// @Accept multipart/form-data
// @Produce json
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /courses/import [post]
func (h *CourseHandler) Import(c *gin.Context) {
	var body io.Reader = io.LimitReader(c.Request.Body, maxImportSize)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile("file")
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
			return
		}
		if header.Size > maxImportSize {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "course document too large"))
			return
		}
		file, err := header.Open()
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable upload"))
			return
		}
		defer file.Close()
		body = file
	}

	summary, err := h.service.ImportCourse(c.Request.Context(), auditMeta(c), body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, summary)
}
