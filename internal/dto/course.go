package dto

import "github.com/noah-isme/lms-api/internal/models"

// StudentModule is a module as a student sees it. Locked placeholders carry
// no content.
type StudentModule struct {
	ID                string   `json:"id"`
	Title             string   `json:"title"`
	Position          int      `json:"position"`
	IsFinalAssessment bool     `json:"is_final_assessment"`
	Locked            bool     `json:"locked"`
	Content           string   `json:"content,omitempty"`
	HasQuiz           bool     `json:"has_quiz"`
	PassMark          *float64 `json:"pass_mark,omitempty"`
}

// StudentCourse is a published course with the modules visible to a student.
type StudentCourse struct {
	Course           models.Course           `json:"course"`
	EnrollmentStatus models.EnrollmentStatus `json:"enrollment_status"`
	Modules          []StudentModule         `json:"modules"`
}

// CourseDetail is a course with every module, for editors.
type CourseDetail struct {
	models.Course
	Modules []models.Module `json:"modules"`
}

// ImportSummary reports what a course import created.
type ImportSummary struct {
	CourseID  string `json:"course_id"`
	Title     string `json:"title"`
	Modules   int    `json:"modules"`
	Questions int    `json:"questions"`
}
