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

const enrollmentColumns = `id, student_id, course_id, status, requested_at, activated_at`

// EnrollmentRepository handles persistence of course enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Find returns the enrollment of a student in a course or sql.ErrNoRows.
func (r *EnrollmentRepository) Find(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE student_id = $1 AND course_id = $2`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	return &enrollment, nil
}

// Request creates a pending enrollment. An existing enrollment is kept as is
// and returned instead.
func (r *EnrollmentRepository) Request(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	const insert = `INSERT INTO enrollments (id, student_id, course_id, status, requested_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (student_id, course_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, insert, uuid.NewString(), studentID, courseID, models.EnrollmentPending, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("request enrollment: %w", err)
	}
	return r.Find(ctx, studentID, courseID)
}

// Activate moves an enrollment to active.
func (r *EnrollmentRepository) Activate(ctx context.Context, studentID, courseID string, at time.Time) error {
	const query = `UPDATE enrollments SET status = $3, activated_at = COALESCE(activated_at, $4)
        WHERE student_id = $1 AND course_id = $2`
	res, err := r.db.ExecContext(ctx, query, studentID, courseID, models.EnrollmentActive, at)
	if err != nil {
		return fmt.Errorf("activate enrollment: %w", err)
	}
	return expectAffected(res)
}

// ListByStudent returns a student's enrollments with course titles.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.student_id, e.course_id, e.status, e.requested_at, e.activated_at, c.title AS course_title
        FROM enrollments e
        JOIN courses c ON c.id = e.course_id
        WHERE e.student_id = $1
        ORDER BY e.requested_at DESC`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return enrollments, nil
}

// ListByCourse returns enrollments of a course, optionally filtered by status.
func (r *EnrollmentRepository) ListByCourse(ctx context.Context, courseID string, status models.EnrollmentStatus) ([]models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE course_id = $1`
	args := []interface{}{courseID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY requested_at ASC`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, fmt.Errorf("list course enrollments: %w", err)
	}
	return enrollments, nil
}
