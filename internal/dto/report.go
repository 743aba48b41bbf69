package dto

import "time"

// ReportFormat is the output encoding of a progress report.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// ReportRequest captures the export parameters.
type ReportRequest struct {
	Format ReportFormat `json:"format" form:"format" validate:"required,oneof=csv pdf"`
}

// ReportResponse describes a generated report and its download link.
type ReportResponse struct {
	ReportID    string       `json:"report_id"`
	CourseID    string       `json:"course_id"`
	Format      ReportFormat `json:"format"`
	Rows        int          `json:"rows"`
	DownloadURL string       `json:"download_url"`
	ExpiresAt   time.Time    `json:"expires_at"`
}
