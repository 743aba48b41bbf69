package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
)

const moduleColumns = `id, course_id, title, content, position, status, is_final_assessment, pass_mark, created_at, updated_at`

// ModuleRepository persists modules and the final assessment allow-list.
type ModuleRepository struct {
	db *sqlx.DB
}

// NewModuleRepository constructs the repository.
func NewModuleRepository(db *sqlx.DB) *ModuleRepository {
	return &ModuleRepository{db: db}
}

// FindByID returns a module or sql.ErrNoRows.
func (r *ModuleRepository) FindByID(ctx context.Context, id string) (*models.Module, error) {
	query := `SELECT ` + moduleColumns + ` FROM modules WHERE id = $1`
	var module models.Module
	if err := r.db.GetContext(ctx, &module, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find module: %w", err)
	}
	return &module, nil
}

// ListByCourse returns a course's modules ordered by position.
func (r *ModuleRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Module, error) {
	query := `SELECT ` + moduleColumns + ` FROM modules WHERE course_id = $1 ORDER BY position ASC`
	var modules []models.Module
	if err := r.db.SelectContext(ctx, &modules, query, courseID); err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	return modules, nil
}

// Create inserts a module, appending it after the last position when none is given.
func (r *ModuleRepository) Create(ctx context.Context, module *models.Module) error {
	if module.Position == 0 {
		const next = `SELECT COALESCE(MAX(position), 0) + 1 FROM modules WHERE course_id = $1`
		if err := r.db.GetContext(ctx, &module.Position, next, module.CourseID); err != nil {
			return fmt.Errorf("next module position: %w", err)
		}
	}
	return createModule(ctx, r.db, module)
}

func createModule(ctx context.Context, ext sqlx.ExtContext, module *models.Module) error {
	if module.ID == "" {
		module.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	module.CreatedAt = now
	module.UpdatedAt = now
	if module.Status == "" {
		module.Status = models.ModuleDraft
	}
	const query = `INSERT INTO modules (id, course_id, title, content, position, status, is_final_assessment, pass_mark, created_at, updated_at)
        VALUES (:id, :course_id, :title, :content, :position, :status, :is_final_assessment, :pass_mark, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, module); err != nil {
		return fmt.Errorf("create module: %w", err)
	}
	return nil
}

// Update stores the mutable fields of a module.
func (r *ModuleRepository) Update(ctx context.Context, module *models.Module) error {
	module.UpdatedAt = time.Now().UTC()
	const query = `UPDATE modules SET title = :title, content = :content, position = :position, status = :status,
        is_final_assessment = :is_final_assessment, pass_mark = :pass_mark, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, module)
	if err != nil {
		return fmt.Errorf("update module: %w", err)
	}
	return expectAffected(res)
}

// SetPassMark sets or clears the quiz pass mark.
func (r *ModuleRepository) SetPassMark(ctx context.Context, id string, passMark *float64) error {
	const query = `UPDATE modules SET pass_mark = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, passMark, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set pass mark: %w", err)
	}
	return expectAffected(res)
}

// IsAllowed reports whether studentID is on the module's allow-list.
func (r *ModuleRepository) IsAllowed(ctx context.Context, moduleID, studentID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM module_allowed_students WHERE module_id = $1 AND student_id = $2)`
	var allowed bool
	if err := r.db.GetContext(ctx, &allowed, query, moduleID, studentID); err != nil {
		return false, fmt.Errorf("check allow-list: %w", err)
	}
	return allowed, nil
}
