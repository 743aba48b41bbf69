package models

import "time"

// ProgressStatus is the stored status of a progress record.
type ProgressStatus string

const (
	ProgressInProgress ProgressStatus = "in-progress"
	ProgressCompleted  ProgressStatus = "completed"
)

// ProgressRecord is one student's state on one module. Records are unique per
// (student, module) and never deleted.
type ProgressRecord struct {
	ID            string          `db:"id" json:"id"`
	StudentID     string          `db:"student_id" json:"student_id"`
	ModuleID      string          `db:"module_id" json:"module_id"`
	CourseID      string          `db:"course_id" json:"course_id"`
	Attempts      int             `db:"attempts" json:"attempts"`
	Score         float64         `db:"score" json:"score"`
	Passed        bool            `db:"passed" json:"passed"`
	Status        ProgressStatus  `db:"status" json:"status"`
	QuizRequested bool            `db:"quiz_requested" json:"quiz_requested"`
	IsAuthorized  bool            `db:"is_authorized" json:"is_authorized"`
	RequestedAt   *time.Time      `db:"requested_at" json:"requested_at,omitempty"`
	CompletedAt   *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
	History       []AttemptRecord `db:"-" json:"attempts_history,omitempty"`
}

// ProgressKey identifies a progress record.
type ProgressKey struct {
	StudentID string
	ModuleID  string
}

// Key returns the record's identity.
func (p ProgressRecord) Key() ProgressKey {
	return ProgressKey{StudentID: p.StudentID, ModuleID: p.ModuleID}
}

// AttemptRecord is one graded submission.
type AttemptRecord struct {
	ID            string    `db:"id" json:"-"`
	ProgressID    string    `db:"progress_id" json:"-"`
	AttemptNumber int       `db:"attempt_number" json:"attempt_number"`
	Score         float64   `db:"score" json:"score"`
	Passed        bool      `db:"passed" json:"passed"`
	CompletedAt   time.Time `db:"completed_at" json:"completed_at"`
}

// ModuleProgressStatus is the derived completion status shown to students.
type ModuleProgressStatus string

const (
	StatusCompleted  ModuleProgressStatus = "completed"
	StatusInProgress ModuleProgressStatus = "in-progress"
	StatusNotStarted ModuleProgressStatus = "not-started"
)

// AccessState is a student's position in the final assessment workflow.
type AccessState string

const (
	AccessLocked     AccessState = "locked"
	AccessUnlockable AccessState = "unlockable"
	AccessRequested  AccessState = "requested"
	AccessGranted    AccessState = "granted"
	AccessAttempted  AccessState = "attempted"
	AccessPassed     AccessState = "passed"
	AccessExhausted  AccessState = "exhausted"
)

// CanSubmit reports whether a final assessment may be attempted in state s.
func (s AccessState) CanSubmit() bool {
	return s == AccessGranted || s == AccessAttempted
}

// ModuleProgress is the per-module line of a course progress view.
type ModuleProgress struct {
	ModuleID          string               `json:"module_id"`
	Title             string               `json:"title"`
	Position          int                  `json:"position"`
	IsFinalAssessment bool                 `json:"is_final_assessment"`
	Status            ModuleProgressStatus `json:"status"`
	Attempts          int                  `json:"attempts"`
	Score             float64              `json:"score"`
	Passed            bool                 `json:"passed"`
}

// CourseProgress is a student's aggregated view of one course.
type CourseProgress struct {
	StudentID      string           `json:"student_id"`
	CourseID       string           `json:"course_id"`
	Modules        []ModuleProgress `json:"modules"`
	CompletedCount int              `json:"completed_count"`
	TotalCount     int              `json:"total_count"`
	AllCompleted   bool             `json:"all_completed"`
	FinalModuleID  string           `json:"final_module_id,omitempty"`
	FinalAccess    AccessState      `json:"final_access,omitempty"`
}

// ModuleOverview counts students per status for one module.
type ModuleOverview struct {
	ModuleID        string `json:"module_id"`
	Title           string `json:"title"`
	Completed       int    `json:"completed"`
	InProgress      int    `json:"in_progress"`
	NotStarted      int    `json:"not_started"`
	PendingRequests int    `json:"pending_requests"`
}

// CourseOverview is the admin view of a course across active students.
type CourseOverview struct {
	CourseID     string           `json:"course_id"`
	StudentCount int              `json:"student_count"`
	Modules      []ModuleOverview `json:"modules"`
	GeneratedAt  time.Time        `json:"generated_at"`
}

// AccessRequest is a pending request for a final assessment.
type AccessRequest struct {
	StudentID   string     `db:"student_id" json:"student_id"`
	StudentName string     `db:"student_name" json:"student_name"`
	Email       string     `db:"email" json:"email"`
	ModuleID    string     `db:"module_id" json:"module_id"`
	Attempts    int        `db:"attempts" json:"attempts"`
	RequestedAt *time.Time `db:"requested_at" json:"requested_at,omitempty"`
}

// QuizResult is the outcome of a graded submission. Passed compares the
// unrounded Score with PassMark, inclusive; DisplayScore is Score rounded for
// presentation only, so 2 of 3 correct shows 67 and still fails a pass mark
// of 67.
type QuizResult struct {
	ModuleID     string      `json:"module_id"`
	Correct      int         `json:"correct"`
	Total        int         `json:"total"`
	Score        float64     `json:"score"`
	DisplayScore int         `json:"display_score"`
	PassMark     float64     `json:"pass_mark"`
	Passed       bool        `json:"passed"`
	Attempt      int         `json:"attempt"`
	BestScore    float64     `json:"best_score"`
	Access       AccessState `json:"access_state,omitempty"`
}
