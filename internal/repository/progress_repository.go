package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
)

const progressColumns = `id, student_id, module_id, course_id, attempts, score, passed, status, quiz_requested,
        is_authorized, requested_at, completed_at, created_at, updated_at`

// ensureProgress creates an empty record for the key unless one exists.
const ensureProgress = `INSERT INTO progress (id, student_id, module_id, course_id, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, 'in-progress', $5, $5)
        ON CONFLICT (student_id, module_id) DO NOTHING`

// ProgressRepository persists per-student module progress, attempt history
// and the final assessment grant.
type ProgressRepository struct {
	db         *sqlx.DB
	logger     *zap.Logger
	groupQuery bool
}

// NewProgressRepository constructs the repository. When groupQuery is false
// FetchAllProgress always reads student by student.
func NewProgressRepository(db *sqlx.DB, logger *zap.Logger, groupQuery bool) *ProgressRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressRepository{db: db, logger: logger, groupQuery: groupQuery}
}

// Find returns the record for key or sql.ErrNoRows.
func (r *ProgressRepository) Find(ctx context.Context, key models.ProgressKey) (*models.ProgressRecord, error) {
	query := `SELECT ` + progressColumns + ` FROM progress WHERE student_id = $1 AND module_id = $2`
	var record models.ProgressRecord
	if err := r.db.GetContext(ctx, &record, query, key.StudentID, key.ModuleID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find progress: %w", err)
	}
	return &record, nil
}

// ListByStudentCourse returns every record of one student in one course.
func (r *ProgressRepository) ListByStudentCourse(ctx context.Context, studentID, courseID string) ([]models.ProgressRecord, error) {
	query := `SELECT ` + progressColumns + ` FROM progress WHERE student_id = $1 AND course_id = $2`
	var records []models.ProgressRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID, courseID); err != nil {
		return nil, fmt.Errorf("list student progress: %w", err)
	}
	return records, nil
}

// ListAttempts returns the attempt history of a record, oldest first.
func (r *ProgressRepository) ListAttempts(ctx context.Context, progressID string) ([]models.AttemptRecord, error) {
	const query = `SELECT id, progress_id, attempt_number, score, passed, completed_at
        FROM progress_attempts WHERE progress_id = $1 ORDER BY completed_at ASC, attempt_number ASC`
	var attempts []models.AttemptRecord
	if err := r.db.SelectContext(ctx, &attempts, query, progressID); err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

// Start marks a module as visited. Existing records are left untouched.
func (r *ProgressRepository) Start(ctx context.Context, key models.ProgressKey, courseID string) error {
	if _, err := r.db.ExecContext(ctx, ensureProgress, uuid.NewString(), key.StudentID, key.ModuleID, courseID, time.Now().UTC()); err != nil {
		return fmt.Errorf("start progress: %w", err)
	}
	return nil
}

// AttemptFunc applies a graded attempt to the locked record and returns the
// history entry to append.
type AttemptFunc func(current *models.ProgressRecord) (models.AttemptRecord, error)

// RecordAttempt locks the record for key (creating it when missing), lets
// apply mutate it, then stores the record and the new history entry in the
// same transaction. Concurrent submissions for one key are serialised.
func (r *ProgressRepository) RecordAttempt(ctx context.Context, key models.ProgressKey, courseID string, apply AttemptFunc) (*models.ProgressRecord, error) {
	var out models.ProgressRecord
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, ensureProgress, uuid.NewString(), key.StudentID, key.ModuleID, courseID, now); err != nil {
			return fmt.Errorf("ensure progress: %w", err)
		}

		lock := `SELECT ` + progressColumns + ` FROM progress WHERE student_id = $1 AND module_id = $2 FOR UPDATE`
		var record models.ProgressRecord
		if err := tx.GetContext(ctx, &record, lock, key.StudentID, key.ModuleID); err != nil {
			return fmt.Errorf("lock progress: %w", err)
		}

		attempt, err := apply(&record)
		if err != nil {
			return err
		}
		record.UpdatedAt = now

		const update = `UPDATE progress SET attempts = :attempts, score = :score, passed = :passed, status = :status,
            quiz_requested = :quiz_requested, is_authorized = :is_authorized, completed_at = :completed_at,
            updated_at = :updated_at WHERE id = :id`
		if _, err := tx.NamedExecContext(ctx, update, &record); err != nil {
			return fmt.Errorf("update progress: %w", err)
		}

		if attempt.ID == "" {
			attempt.ID = uuid.NewString()
		}
		attempt.ProgressID = record.ID
		if attempt.CompletedAt.IsZero() {
			attempt.CompletedAt = now
		}
		const insert = `INSERT INTO progress_attempts (id, progress_id, attempt_number, score, passed, completed_at)
            VALUES (:id, :progress_id, :attempt_number, :score, :passed, :completed_at)`
		if _, err := tx.NamedExecContext(ctx, insert, &attempt); err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}

		out = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestAccess sets quiz_requested for key. It reports false when the
// request was already pending, so repeated calls change nothing.
func (r *ProgressRepository) RequestAccess(ctx context.Context, key models.ProgressKey, courseID string, at time.Time) (bool, error) {
	const query = `INSERT INTO progress (id, student_id, module_id, course_id, status, quiz_requested, requested_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, 'in-progress', TRUE, $5, $5, $5)
        ON CONFLICT (student_id, module_id) DO UPDATE
        SET quiz_requested = TRUE, requested_at = EXCLUDED.requested_at, updated_at = EXCLUDED.updated_at
        WHERE progress.quiz_requested = FALSE`
	res, err := r.db.ExecContext(ctx, query, uuid.NewString(), key.StudentID, key.ModuleID, courseID, at)
	if err != nil {
		return false, fmt.Errorf("request access: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("request access: %w", err)
	}
	return n > 0, nil
}

// GrantAccess authorises a student for a final assessment. The allow-list
// insert and the progress reset (quiz_requested cleared, attempts zeroed,
// is_authorized set) commit together or not at all. An empty grantedBy is
// stored as NULL.
func (r *ProgressRepository) GrantAccess(ctx context.Context, grantedBy string, key models.ProgressKey, courseID string, at time.Time) error {
	var grantor interface{}
	if grantedBy != "" {
		grantor = grantedBy
	}
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const allow = `INSERT INTO module_allowed_students (module_id, student_id, granted_by, granted_at)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT (module_id, student_id) DO NOTHING`
		if _, err := tx.ExecContext(ctx, allow, key.ModuleID, key.StudentID, grantor, at); err != nil {
			return fmt.Errorf("add to allow-list: %w", err)
		}

		const reset = `INSERT INTO progress (id, student_id, module_id, course_id, status, attempts, quiz_requested, is_authorized, created_at, updated_at)
            VALUES ($1, $2, $3, $4, 'in-progress', 0, FALSE, TRUE, $5, $5)
            ON CONFLICT (student_id, module_id) DO UPDATE
            SET attempts = 0, quiz_requested = FALSE, is_authorized = TRUE, updated_at = EXCLUDED.updated_at`
		if _, err := tx.ExecContext(ctx, reset, uuid.NewString(), key.StudentID, key.ModuleID, courseID, at); err != nil {
			return fmt.Errorf("reset progress for grant: %w", err)
		}
		return nil
	})
}

// ListRequests returns pending access requests for a module, oldest first.
func (r *ProgressRepository) ListRequests(ctx context.Context, moduleID string) ([]models.AccessRequest, error) {
	const query = `SELECT p.student_id, u.full_name AS student_name, u.email, p.module_id, p.attempts, p.requested_at
        FROM progress p
        JOIN users u ON u.id = p.student_id
        WHERE p.module_id = $1 AND p.quiz_requested = TRUE
        ORDER BY p.requested_at ASC NULLS LAST`
	var requests []models.AccessRequest
	if err := r.db.SelectContext(ctx, &requests, query, moduleID); err != nil {
		return nil, fmt.Errorf("list access requests: %w", err)
	}
	return requests, nil
}

// FetchAllProgress returns progress records of every student in a course, or
// of every student when courseID is empty. It reads the all_progress view in
// one query and falls back to per-student reads when that query is denied or
// comes back empty. Callers must reconcile the result; the two paths can
// overlap in mixed deployments.
func (r *ProgressRepository) FetchAllProgress(ctx context.Context, courseID string) ([]models.ProgressRecord, error) {
	if r.groupQuery {
		records, err := r.fetchGroup(ctx, courseID)
		switch {
		case err == nil && len(records) > 0:
			return records, nil
		case err == nil:
			r.logger.Debug("group progress query empty, falling back", zap.String("course_id", courseID))
		case database.IsCode(err, database.CodeInsufficientPrivilege):
			r.logger.Warn("group progress query denied, falling back", zap.String("course_id", courseID), zap.Error(err))
		default:
			return nil, err
		}
	}
	return r.fetchPerStudent(ctx, courseID)
}

func (r *ProgressRepository) fetchGroup(ctx context.Context, courseID string) ([]models.ProgressRecord, error) {
	query := `SELECT ` + progressColumns + ` FROM all_progress`
	var args []interface{}
	if courseID != "" {
		query += ` WHERE course_id = $1`
		args = append(args, courseID)
	}
	var records []models.ProgressRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("fetch group progress: %w", err)
	}
	return records, nil
}

func (r *ProgressRepository) fetchPerStudent(ctx context.Context, courseID string) ([]models.ProgressRecord, error) {
	var students []string
	var err error
	if courseID != "" {
		err = r.db.SelectContext(ctx, &students, `SELECT student_id FROM enrollments WHERE course_id = $1 ORDER BY student_id`, courseID)
	} else {
		err = r.db.SelectContext(ctx, &students, `SELECT id FROM users WHERE role = $1 ORDER BY id`, models.RoleStudent)
	}
	if err != nil {
		return nil, fmt.Errorf("list progress owners: %w", err)
	}

	var all []models.ProgressRecord
	for _, studentID := range students {
		query := `SELECT ` + progressColumns + ` FROM progress WHERE student_id = $1`
		args := []interface{}{studentID}
		if courseID != "" {
			query += ` AND course_id = $2`
			args = append(args, courseID)
		}
		var records []models.ProgressRecord
		if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
			return nil, fmt.Errorf("fetch progress for %s: %w", studentID, err)
		}
		all = append(all, records...)
	}
	return all, nil
}
