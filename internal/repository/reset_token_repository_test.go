package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
)

func TestResetTokenConsumeUpdatesPasswordInSameTx(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewResetTokenRepository(db)
	at := time.Now().UTC()
	token := &models.PasswordResetToken{TokenHash: "hash", UserID: "u1"}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE password_reset_tokens SET used_at = $2 WHERE token_hash = $1 AND used_at IS NULL")).
		WithArgs("hash", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash = $2")).
		WithArgs("u1", "new-hash", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Consume(context.Background(), token, "new-hash", at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetTokenConsumeRace(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewResetTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE password_reset_tokens")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Consume(context.Background(), &models.PasswordResetToken{TokenHash: "hash", UserID: "u1"}, "h", time.Now())
	assert.ErrorIs(t, err, ErrResetTokenUsed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetTokenCreateRetiresOlderTokens(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewResetTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("WHERE user_id = $1 AND used_at IS NULL")).
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO password_reset_tokens")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Create(context.Background(), &models.PasswordResetToken{TokenHash: "hash", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
