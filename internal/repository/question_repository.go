package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
)

// QuestionRepository persists quiz questions, one row per question keyed by a
// stable id so edits never depend on array positions.
type QuestionRepository struct {
	db *sqlx.DB
}

// NewQuestionRepository constructs the repository.
func NewQuestionRepository(db *sqlx.DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// ListByModule returns a module's questions in quiz order.
func (r *QuestionRepository) ListByModule(ctx context.Context, moduleID string) ([]models.QuestionRow, error) {
	const query = `SELECT id, module_id, position, type, payload FROM quiz_questions WHERE module_id = $1 ORDER BY position ASC`
	var rows []models.QuestionRow
	if err := r.db.SelectContext(ctx, &rows, query, moduleID); err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return rows, nil
}

// FindByID returns a question or sql.ErrNoRows.
func (r *QuestionRepository) FindByID(ctx context.Context, id string) (*models.QuestionRow, error) {
	const query = `SELECT id, module_id, position, type, payload FROM quiz_questions WHERE id = $1`
	var row models.QuestionRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find question: %w", err)
	}
	return &row, nil
}

// Append inserts a question after the module's last one.
func (r *QuestionRepository) Append(ctx context.Context, row *models.QuestionRow) error {
	const query = `INSERT INTO quiz_questions (id, module_id, position, type, payload, created_at, updated_at)
        VALUES ($1, $2, (SELECT COALESCE(MAX(position), 0) + 1 FROM quiz_questions WHERE module_id = $2), $3, $4, $5, $5)
        RETURNING position`
	if err := r.db.GetContext(ctx, &row.Position, query, row.ID, row.ModuleID, row.Type, string(row.Payload), time.Now().UTC()); err != nil {
		return fmt.Errorf("append question: %w", err)
	}
	return nil
}

// Update replaces the payload of one question.
func (r *QuestionRepository) Update(ctx context.Context, row *models.QuestionRow) error {
	const query = `UPDATE quiz_questions SET type = $2, payload = $3, updated_at = $4 WHERE id = $1 AND module_id = $5`
	res, err := r.db.ExecContext(ctx, query, row.ID, row.Type, string(row.Payload), time.Now().UTC(), row.ModuleID)
	if err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	return expectAffected(res)
}

// Delete removes one question and closes the gap in positions.
func (r *QuestionRepository) Delete(ctx context.Context, moduleID, id string) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var position int
		const del = `DELETE FROM quiz_questions WHERE id = $1 AND module_id = $2 RETURNING position`
		if err := tx.GetContext(ctx, &position, del, id, moduleID); err != nil {
			if err == sql.ErrNoRows {
				return err
			}
			return fmt.Errorf("delete question: %w", err)
		}
		const shift = `UPDATE quiz_questions SET position = position - 1 WHERE module_id = $1 AND position > $2`
		if _, err := tx.ExecContext(ctx, shift, moduleID, position); err != nil {
			return fmt.Errorf("reorder questions: %w", err)
		}
		return nil
	})
}

// ReplaceAll swaps the whole quiz of a module in one transaction.
func (r *QuestionRepository) ReplaceAll(ctx context.Context, moduleID string, rows []models.QuestionRow) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM quiz_questions WHERE module_id = $1`, moduleID); err != nil {
			return fmt.Errorf("clear questions: %w", err)
		}
		for i := range rows {
			rows[i].ModuleID = moduleID
			rows[i].Position = i + 1
		}
		return insertQuestions(ctx, tx, rows)
	})
}

// payloads are sent as text; lib/pq would encode []byte as bytea
func insertQuestions(ctx context.Context, ext sqlx.ExtContext, rows []models.QuestionRow) error {
	const query = `INSERT INTO quiz_questions (id, module_id, position, type, payload, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $6)`
	now := time.Now().UTC()
	for _, row := range rows {
		if _, err := ext.ExecContext(ctx, query, row.ID, row.ModuleID, row.Position, row.Type, string(row.Payload), now); err != nil {
			return fmt.Errorf("insert question %s: %w", row.ID, err)
		}
	}
	return nil
}
