package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/response"
)

type accessService interface {
	AccessState(ctx context.Context, studentID, moduleID string) (models.AccessState, error)
	RequestAccess(ctx context.Context, studentID, moduleID string) (models.AccessState, error)
	GrantAccess(ctx context.Context, meta service.AuditMeta, studentID, moduleID string) (models.AccessState, error)
	ListRequests(ctx context.Context, moduleID string) ([]models.AccessRequest, error)
}

type accessView struct {
	ModuleID  string             `json:"module_id"`
	StudentID string             `json:"student_id"`
	State     models.AccessState `json:"state"`
}

// AccessHandler drives the final assessment access workflow.
type AccessHandler struct {
	service accessService
}

// NewAccessHandler constructs the handler.
func NewAccessHandler(svc accessService) *AccessHandler {
	return &AccessHandler{service: svc}
}

// State godoc
// @Summary Final assessment access state of the signed-in student
// @Tags Access
// @Produce json
// @Param moduleId path string true "Final module ID"
// @Success 200 {object} response.Envelope
// @Router /me/modules/{moduleId}/access [get]
func (h *AccessHandler) State(c *gin.Context) {
	h.studentAction(c, h.service.AccessState)
}

// Request godoc
// @Summary Ask an administrator to unlock the final assessment
// @Description Allowed once every other module is completed. Repeating the request changes nothing.
// @Tags Access
// @Produce json
// @Param moduleId path string true "Final module ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /me/modules/{moduleId}/access/request [post]
func (h *AccessHandler) Request(c *gin.Context) {
	h.studentAction(c, h.service.RequestAccess)
}

func (h *AccessHandler) studentAction(c *gin.Context, action func(ctx context.Context, studentID, moduleID string) (models.AccessState, error)) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	moduleID, ok := pathID(c, "moduleId")
	if !ok {
		return
	}
	state, err := action(c.Request.Context(), claims.UserID, moduleID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, accessView{ModuleID: moduleID, StudentID: claims.UserID, State: state})
}

// Grant godoc
// @Summary Grant a student access to the final assessment
// @Description Adds the student to the allow-list and resets attempts in one transaction.
// @Tags Access
// @Produce json
// @Param moduleId path string true "Final module ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /modules/{moduleId}/access/{studentId}/grant [post]
func (h *AccessHandler) Grant(c *gin.Context) {
	moduleID, ok := pathID(c, "moduleId")
	if !ok {
		return
	}
	studentID, ok := pathID(c, "studentId")
	if !ok {
		return
	}
	state, err := h.service.GrantAccess(c.Request.Context(), auditMeta(c), studentID, moduleID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, accessView{ModuleID: moduleID, StudentID: studentID, State: state})
}

// ListRequests godoc
// @Summary Pending access requests for a final assessment
// @Tags Access
// @Produce json
// @Param moduleId path string true "Final module ID"
// @Success 200 {object} response.Envelope
// @Router /modules/{moduleId}/access/requests [get]
func (h *AccessHandler) ListRequests(c *gin.Context) {
	moduleID, ok := pathID(c, "moduleId")
	if !ok {
		return
	}
	requests, err := h.service.ListRequests(c.Request.Context(), moduleID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, requests)
}
