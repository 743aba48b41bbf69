package models

import "time"

// CourseStatus is the publication state of a course.
type CourseStatus string

const (
	CourseDraft     CourseStatus = "draft"
	CoursePublished CourseStatus = "published"
	CourseArchived  CourseStatus = "archived"
)

// Course is a catalog entry. Courses are archived, never deleted.
type Course struct {
	ID           string       `db:"id" json:"id"`
	Title        string       `db:"title" json:"title"`
	Description  string       `db:"description" json:"description"`
	Status       CourseStatus `db:"status" json:"status"`
	ThumbnailURL *string      `db:"thumbnail_url" json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

// CourseFilter narrows course listings.
type CourseFilter struct {
	Status   CourseStatus
	Search   string
	Page     int
	PageSize int
}

// ModuleStatus is the publication state of a module.
type ModuleStatus string

const (
	ModuleDraft     ModuleStatus = "draft"
	ModulePublished ModuleStatus = "published"
)

// Module is an ordered unit of course content. At most one module per course
// is the final assessment, which is gated behind the access workflow.
type Module struct {
	ID                string       `db:"id" json:"id"`
	CourseID          string       `db:"course_id" json:"course_id"`
	Title             string       `db:"title" json:"title"`
	Content           string       `db:"content" json:"content,omitempty"`
	Position          int          `db:"position" json:"position"`
	Status            ModuleStatus `db:"status" json:"status"`
	IsFinalAssessment bool         `db:"is_final_assessment" json:"is_final_assessment"`
	PassMark          *float64     `db:"pass_mark" json:"pass_mark,omitempty"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at" json:"updated_at"`
}

// HasQuiz reports whether a pass mark has been configured.
func (m *Module) HasQuiz() bool {
	return m.PassMark != nil
}

// EffectivePassMark returns the configured pass mark or 100 when none is set.
func (m *Module) EffectivePassMark() float64 {
	if m.PassMark == nil {
		return 100
	}
	return *m.PassMark
}

// SplitModules separates regular modules from the final assessment while
// keeping the input order.
func SplitModules(modules []Module) (regular []Module, final *Module) {
	for i := range modules {
		if modules[i].IsFinalAssessment {
			if final == nil {
				m := modules[i]
				final = &m
			}
			continue
		}
		regular = append(regular, modules[i])
	}
	return regular, final
}
