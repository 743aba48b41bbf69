package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/response"
)

type enrollmentService interface {
	RequestEnrollment(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	ActivateEnrollment(ctx context.Context, meta service.AuditMeta, req service.ActivateEnrollmentRequest) (*models.Enrollment, error)
	ListForStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
	ListForCourse(ctx context.Context, courseID string, status models.EnrollmentStatus) ([]models.Enrollment, error)
}

// EnrollmentHandler manages enrollment endpoints.
type EnrollmentHandler struct {
	service enrollmentService
}

// NewEnrollmentHandler constructs handler.
func NewEnrollmentHandler(svc enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc}
}

// Request godoc
// @Summary Request enrollment in a course
// @Description Idempotent; the enrollment stays pending until an administrator activates it.
// @Tags Enrollments
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{courseId}/enroll [post]
func (h *EnrollmentHandler) Request(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	courseID, ok := pathID(c, "courseId")
	if !ok {
		return
	}
	enrollment, err := h.service.RequestEnrollment(c.Request.Context(), claims.UserID, courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, enrollment)
}

// Activate godoc
// @Summary Activate a pending enrollment
// @Tags Enrollments
// @Produce json
// @Param courseId path string true "Course ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{courseId}/enrollments/{studentId}/activate [post]
func (h *EnrollmentHandler) Activate(c *gin.Context) {
	courseID, ok := pathID(c, "courseId")
	if !ok {
		return
	}
	studentID, ok := pathID(c, "studentId")
	if !ok {
		return
	}
	enrollment, err := h.service.ActivateEnrollment(c.Request.Context(), auditMeta(c), service.ActivateEnrollmentRequest{StudentID: studentID, CourseID: courseID})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, enrollment)
}

// ListForCourse godoc
// @Summary List enrollments of a course
// @Tags Enrollments
// @Produce json
// @Param courseId path string true "Course ID"
// @Param status query string false "pending or active"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/enrollments [get]
func (h *EnrollmentHandler) ListForCourse(c *gin.Context) {
	courseID, ok := pathID(c, "courseId")
	if !ok {
		return
	}
	status := models.EnrollmentStatus(strings.TrimSpace(c.Query("status")))
	enrollments, err := h.service.ListForCourse(c.Request.Context(), courseID, status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, enrollments)
}

// Mine godoc
// @Summary Enrollments of the signed-in student
// @Tags Enrollments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /me/enrollments [get]
func (h *EnrollmentHandler) Mine(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	enrollments, err := h.service.ListForStudent(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, enrollments)
}
