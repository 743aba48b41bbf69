package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
)

func TestEnrollmentRepositoryRequestIsIdempotent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (student_id, course_id) DO NOTHING")).
		WithArgs(sqlmock.AnyArg(), "stu-1", "course-1", models.EnrollmentPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE student_id = $1 AND course_id = $2")).
		WithArgs("stu-1", "course-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "course_id", "status", "requested_at", "activated_at"}).
			AddRow("enr-1", "stu-1", "course-1", "active", now, now))

	enrollment, err := repo.Request(context.Background(), "stu-1", "course-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentActive, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryActivateMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $3")).
		WithArgs("stu-1", "course-1", models.EnrollmentActive, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Activate(context.Background(), "stu-1", "course-1", time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
