package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
)

const courseColumns = `id, title, description, status, thumbnail_url, created_at, updated_at`

// CourseRepository persists courses.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindByID returns a course or sql.ErrNoRows.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course: %w", err)
	}
	return &course, nil
}

// List returns courses matching filter plus the total count.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(title) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM courses%s ORDER BY created_at DESC LIMIT %d OFFSET %d`, courseColumns, clause, size, offset)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM courses`+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// Create inserts a course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	return createCourse(ctx, r.db, course)
}

func createCourse(ctx context.Context, ext sqlx.ExtContext, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now
	if course.Status == "" {
		course.Status = models.CourseDraft
	}
	const query = `INSERT INTO courses (id, title, description, status, thumbnail_url, created_at, updated_at)
        VALUES (:id, :title, :description, :status, :thumbnail_url, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update stores the mutable fields of a course.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET title = :title, description = :description, status = :status,
        thumbnail_url = :thumbnail_url, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, course)
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return expectAffected(res)
}

// SetStatus changes the publication state. Archiving is the only removal.
func (r *CourseRepository) SetStatus(ctx context.Context, id string, status models.CourseStatus) error {
	const query = `UPDATE courses SET status = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set course status: %w", err)
	}
	return expectAffected(res)
}

// ModuleTree is a module together with its quiz questions.
type ModuleTree struct {
	Module    models.Module
	Questions []models.QuestionRow
}

// CreateTree inserts a course with its modules and questions in one transaction.
func (r *CourseRepository) CreateTree(ctx context.Context, course *models.Course, modules []ModuleTree) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := createCourse(ctx, tx, course); err != nil {
			return err
		}
		for i := range modules {
			m := &modules[i].Module
			m.CourseID = course.ID
			if m.Position == 0 {
				m.Position = i + 1
			}
			if err := createModule(ctx, tx, m); err != nil {
				return err
			}
			for j := range modules[i].Questions {
				modules[i].Questions[j].ModuleID = m.ID
				modules[i].Questions[j].Position = j + 1
			}
			if err := insertQuestions(ctx, tx, modules[i].Questions); err != nil {
				return err
			}
		}
		return nil
	})
}

// expectAffected maps an update that touched nothing to sql.ErrNoRows.
func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
