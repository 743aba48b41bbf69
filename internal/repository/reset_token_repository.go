package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
)

// ErrResetTokenUsed is returned when a token was consumed concurrently.
var ErrResetTokenUsed = errors.New("reset token already used")

// ResetTokenRepository stores password reset tokens by hash.
type ResetTokenRepository struct {
	db *sqlx.DB
}

// NewResetTokenRepository constructs the repository.
func NewResetTokenRepository(db *sqlx.DB) *ResetTokenRepository {
	return &ResetTokenRepository{db: db}
}

// Create stores a token. Older unused tokens of the same user are retired.
func (r *ResetTokenRepository) Create(ctx context.Context, token *models.PasswordResetToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const retire = `UPDATE password_reset_tokens SET used_at = $2 WHERE user_id = $1 AND used_at IS NULL`
		if _, err := tx.ExecContext(ctx, retire, token.UserID, token.CreatedAt); err != nil {
			return fmt.Errorf("retire reset tokens: %w", err)
		}
		const insert = `INSERT INTO password_reset_tokens (token_hash, user_id, expires_at, used_at, created_at)
            VALUES (:token_hash, :user_id, :expires_at, :used_at, :created_at)`
		if _, err := tx.NamedExecContext(ctx, insert, token); err != nil {
			return fmt.Errorf("create reset token: %w", err)
		}
		return nil
	})
}

// Find returns the token with the given hash or sql.ErrNoRows.
func (r *ResetTokenRepository) Find(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	const query = `SELECT token_hash, user_id, expires_at, used_at, created_at FROM password_reset_tokens WHERE token_hash = $1`
	var token models.PasswordResetToken
	if err := r.db.GetContext(ctx, &token, query, tokenHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find reset token: %w", err)
	}
	return &token, nil
}

// Consume marks the token used and stores the new password hash in one
// transaction. It returns ErrResetTokenUsed when another request won the race.
func (r *ResetTokenRepository) Consume(ctx context.Context, token *models.PasswordResetToken, passwordHash string, at time.Time) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const consume = `UPDATE password_reset_tokens SET used_at = $2 WHERE token_hash = $1 AND used_at IS NULL`
		res, err := tx.ExecContext(ctx, consume, token.TokenHash, at)
		if err != nil {
			return fmt.Errorf("consume reset token: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("consume reset token: %w", err)
		}
		if n == 0 {
			return ErrResetTokenUsed
		}
		return updatePassword(ctx, tx, token.UserID, passwordHash, at)
	})
}
