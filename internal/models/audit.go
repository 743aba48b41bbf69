package models

import "time"

// Audit actions recorded by the services.
const (
	AuditActionLogin          = "LOGIN"
	AuditActionPasswordChange = "PASSWORD_CHANGE"
	AuditActionPasswordReset  = "PASSWORD_RESET"
	AuditActionAccessGrant    = "ACCESS_GRANT"
	AuditActionQuizUpdate     = "QUIZ_UPDATE"
	AuditActionCourseImport   = "COURSE_IMPORT"
	AuditActionEnrollActivate = "ENROLLMENT_ACTIVATE"
	AuditActionCourseCreate   = "COURSE_CREATE"
	AuditActionCourseUpdate   = "COURSE_UPDATE"
	AuditActionCourseArchive  = "COURSE_ARCHIVE"
	AuditActionModuleCreate   = "MODULE_CREATE"
	AuditActionModuleUpdate   = "MODULE_UPDATE"
	AuditActionUserCreate     = "USER_CREATE"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
