package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

type reportService interface {
	ExportCourseProgress(ctx context.Context, courseID string, req dto.ReportRequest) (*dto.ReportResponse, error)
	ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error)
}

// ReportHandler exposes progress report exports.
type ReportHandler struct {
	service reportService
}

// NewReportHandler constructs handler.
func NewReportHandler(svc reportService) *ReportHandler {
	return &ReportHandler{service: svc}
}

// Export godoc
// @Summary Export course progress
// @Description Renders one row per active student and returns a signed download link.
// @Tags Reports
// @Produce json
// @Param courseId path string true "Course ID"
// @Param format query string true "csv or pdf"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /courses/{courseId}/reports/progress [post]
func (h *ReportHandler) Export(c *gin.Context) {
	courseID, ok := pathID(c, "courseId")
	if !ok {
		return
	}
	req := dto.ReportRequest{Format: dto.ReportFormat(strings.ToLower(strings.TrimSpace(c.Query("format"))))}
	report, err := h.service.ExportCourseProgress(c.Request.Context(), courseID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, report)
}

// Download godoc
// @Summary Download a generated report
// @Description The token is the signed value from the export response; no session is required.
// @Tags Reports
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reports/download/{token} [get]
func (h *ReportHandler) Download(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	download, err := h.service.ResolveDownload(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.Reader.Close()

	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, download.Size, download.ContentType, download.Reader, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, download.Filename),
	})
}
