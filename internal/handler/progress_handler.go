package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/response"
)

type progressService interface {
	StartModule(ctx context.Context, studentID, moduleID string) error
	CourseProgress(ctx context.Context, studentID, courseID string) (*models.CourseProgress, error)
	CourseOverview(ctx context.Context, courseID string) (*models.CourseOverview, error)
	AttemptHistory(ctx context.Context, studentID, moduleID string) ([]models.AttemptRecord, error)
}

// ProgressHandler exposes student progress and course overviews.
type ProgressHandler struct {
	service progressService
}

// NewProgressHandler constructs the handler.
func NewProgressHandler(svc progressService) *ProgressHandler {
	return &ProgressHandler{service: svc}
}

// StartModule godoc
// @Summary Mark a module as visited
// @Tags Progress
// @Param moduleId path string true "Module ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /modules/{moduleId}/start [post]
func (h *ProgressHandler) StartModule(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	moduleID, ok := pathID(c, "moduleId")
	if !ok {
		return
	}
	if err := h.service.StartModule(c.Request.Context(), claims.UserID, moduleID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Mine godoc
// @Summary Progress of the signed-in student in a course
// @Tags Progress
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /me/courses/{courseId}/progress [get]
func (h *ProgressHandler) Mine(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	h.courseProgress(c, claims.UserID)
}

// Student godoc
// @Summary Progress of one student in a course
// @Tags Progress
// @Produce json
// @Param courseId path string true "Course ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/students/{studentId}/progress [get]
func (h *ProgressHandler) Student(c *gin.Context) {
	studentID, ok := pathID(c, "studentId")
	if !ok {
		return
	}
	h.courseProgress(c, studentID)
}

func (h *ProgressHandler) courseProgress(c *gin.Context, studentID string) {
	courseID, ok := pathID(c, "courseId")
	if !ok {
		return
	}
	view, err := h.service.CourseProgress(c.Request.Context(), studentID, courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// Overview godoc
// @Summary Per-module completion counts for a course
// @Tags Progress
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/overview [get]
func (h *ProgressHandler) Overview(c *gin.Context) {
	courseID, ok := pathID(c, "courseId")
	if !ok {
		return
	}
	overview, err := h.service.CourseOverview(c.Request.Context(), courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, overview)
}

// MyAttempts godoc
// @Summary Graded attempts of the signed-in student on a module
// @Tags Progress
// @Produce json
// @Param moduleId path string true "Module ID"
// @Success 200 {object} response.Envelope
// @Router /me/modules/{moduleId}/attempts [get]
func (h *ProgressHandler) MyAttempts(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	h.attempts(c, claims.UserID)
}

// StudentAttempts godoc
// @Summary Graded attempts of one student on a module
// @Tags Progress
// @Produce json
// @Param moduleId path string true "Module ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /modules/{moduleId}/students/{studentId}/attempts [get]
func (h *ProgressHandler) StudentAttempts(c *gin.Context) {
	studentID, ok := pathID(c, "studentId")
	if !ok {
		return
	}
	h.attempts(c, studentID)
}

func (h *ProgressHandler) attempts(c *gin.Context, studentID string) {
	moduleID, ok := pathID(c, "moduleId")
	if !ok {
		return
	}
	history, err := h.service.AttemptHistory(c.Request.Context(), studentID, moduleID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, history)
}
