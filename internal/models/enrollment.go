package models

import "time"

// EnrollmentStatus is the lifecycle of a student's course enrollment.
type EnrollmentStatus string

const (
	EnrollmentPending EnrollmentStatus = "pending"
	EnrollmentActive  EnrollmentStatus = "active"
)

// Enrollment links a student to a course. Only active enrollments expose
// module content and accept quiz submissions.
type Enrollment struct {
	ID          string           `db:"id" json:"id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	CourseID    string           `db:"course_id" json:"course_id"`
	Status      EnrollmentStatus `db:"status" json:"status"`
	RequestedAt time.Time        `db:"requested_at" json:"requested_at"`
	ActivatedAt *time.Time       `db:"activated_at" json:"activated_at,omitempty"`
}

// EnrollmentDetail adds the course title for student listings.
type EnrollmentDetail struct {
	Enrollment
	CourseTitle string `db:"course_title" json:"course_title"`
}

// IsActive reports whether the enrollment unlocks content.
func (e *Enrollment) IsActive() bool {
	return e != nil && e.Status == EnrollmentActive
}
