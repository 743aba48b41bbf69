package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
)

// CourseDocument is the YAML shape accepted by ImportCourse.
type CourseDocument struct {
	Title        string           `yaml:"title"`
	Description  string           `yaml:"description"`
	Status       string           `yaml:"status"`
	ThumbnailURL string           `yaml:"thumbnail_url"`
	Modules      []ModuleDocument `yaml:"modules"`
}

// ModuleDocument is one module of a CourseDocument. Questions use the same
// fields as the JSON API.
type ModuleDocument struct {
	Title           string                   `yaml:"title"`
	Content         string                   `yaml:"content"`
	Status          string                   `yaml:"status"`
	FinalAssessment bool                     `yaml:"final_assessment"`
	PassMark        *float64                 `yaml:"pass_mark"`
	Questions       []map[string]interface{} `yaml:"questions"`
}

// ParseCourseDocument decodes and validates a course import document and
// converts it into rows ready for CourseRepository.CreateTree.
func ParseCourseDocument(r io.Reader) (*models.Course, []repository.ModuleTree, error) {
	var doc CourseDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("decode course document: %w", err)
	}

	if strings.TrimSpace(doc.Title) == "" {
		return nil, nil, fmt.Errorf("course title is required")
	}
	course := &models.Course{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(doc.Title),
		Description: doc.Description,
		Status:      models.CourseDraft,
	}
	if doc.Status != "" {
		course.Status = models.CourseStatus(doc.Status)
	}
	if !validCourseStatus(course.Status) {
		return nil, nil, fmt.Errorf("unknown course status %q", doc.Status)
	}
	if doc.ThumbnailURL != "" {
		thumb := doc.ThumbnailURL
		course.ThumbnailURL = &thumb
	}

	finals := 0
	trees := make([]repository.ModuleTree, 0, len(doc.Modules))
	for i, md := range doc.Modules {
		if strings.TrimSpace(md.Title) == "" {
			return nil, nil, fmt.Errorf("module %d: title is required", i+1)
		}
		if md.PassMark != nil && (*md.PassMark < 0 || *md.PassMark > 100) {
			return nil, nil, fmt.Errorf("module %d: pass_mark must be between 0 and 100", i+1)
		}
		if md.FinalAssessment {
			finals++
		}
		status := models.ModulePublished
		if md.Status != "" {
			status = models.ModuleStatus(md.Status)
		}
		if status != models.ModuleDraft && status != models.ModulePublished {
			return nil, nil, fmt.Errorf("module %d: unknown status %q", i+1, md.Status)
		}

		tree := repository.ModuleTree{Module: models.Module{
			ID:                uuid.NewString(),
			Title:             strings.TrimSpace(md.Title),
			Content:           md.Content,
			Position:          i + 1,
			Status:            status,
			IsFinalAssessment: md.FinalAssessment,
			PassMark:          md.PassMark,
		}}
		for j, raw := range md.Questions {
			row, err := questionFromDocument(tree.Module.ID, raw)
			if err != nil {
				return nil, nil, fmt.Errorf("module %d question %d: %w", i+1, j+1, err)
			}
			tree.Questions = append(tree.Questions, row)
		}
		trees = append(trees, tree)
	}
	if finals > 1 {
		return nil, nil, fmt.Errorf("a course can have at most one final assessment, found %d", finals)
	}
	return course, trees, nil
}

// questionFromDocument re-encodes a YAML mapping as JSON so the question goes
// through the same decoder as API payloads.
func questionFromDocument(moduleID string, raw map[string]interface{}) (models.QuestionRow, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(raw); err != nil {
		return models.QuestionRow{}, err
	}
	q, err := models.DecodeQuestion(buf.Bytes())
	if err != nil {
		return models.QuestionRow{}, err
	}
	q.Base().ID = uuid.NewString()
	return toRow(moduleID, q)
}

func validCourseStatus(s models.CourseStatus) bool {
	switch s {
	case models.CourseDraft, models.CoursePublished, models.CourseArchived:
		return true
	}
	return false
}
