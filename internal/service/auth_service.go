package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/mail"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
}

type resetTokenRepository interface {
	Create(ctx context.Context, token *models.PasswordResetToken) error
	Find(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error)
	Consume(ctx context.Context, token *models.PasswordResetToken, passwordHash string, at time.Time) error
}

type mailDispatcher interface {
	Dispatch(ctx context.Context, msg mail.Message) (string, error)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret string
	AccessTokenExpiry time.Duration
	Issuer            string
	ResetTokenTTL     time.Duration
	FrontendBaseURL   string
	AppName           string
}

// CreateUserRequest provisions an account.
type CreateUserRequest struct {
	Email    string          `json:"email" validate:"required,email"`
	Password string          `json:"password" validate:"required,min=8"`
	FullName string          `json:"full_name" validate:"required,max=200"`
	Role     models.UserRole `json:"role" validate:"required,oneof=ADMIN INSTRUCTOR STUDENT CEO"`
}

// AuthService provides authentication use cases.
type AuthService struct {
	repo      authUserRepository
	resets    resetTokenRepository
	mailer    mailDispatcher
	audit     auditWriter
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, resets resetTokenRepository, mailer mailDispatcher, audit auditWriter, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ResetTokenTTL <= 0 {
		config.ResetTokenTTL = time.Hour
	}
	if config.AppName == "" {
		config.AppName = "LMS"
	}
	return &AuthService{
		repo:      repo,
		resets:    resets,
		mailer:    mailer,
		audit:     audit,
		validator: defaultValidator(validate),
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// Login authenticates a user and returns an access token.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid login payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Transient(err, "failed to fetch user")
	}

	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	accessToken, issuedAt, err := s.generateAccessToken(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	if err := s.repo.UpdateLastLogin(ctx, user.ID, issuedAt); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	recordAudit(ctx, s.audit, s.logger, AuditMeta{ActorID: user.ID, IP: req.IP, UserAgent: req.UserAgent},
		models.AuditActionLogin, "auth", user.ID, nil, map[string]string{"status": "success"})

	return &models.LoginResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:    issuedAt,
		User: models.UserInfo{
			ID:       user.ID,
			Email:    user.Email,
			FullName: user.FullName,
			Role:     user.Role,
		},
	}, nil
}

// CreateUser provisions an account with a bcrypt password hash.
func (s *AuthService) CreateUser(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid user payload")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	user := &models.User{
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(req.FullName),
		Role:         req.Role,
		Active:       true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, userWriteError(err)
	}
	return user, nil
}

// ChangePassword changes the password for the given user ID.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid change password payload")
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return storeError(err, "user not found", "failed to load user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	if err := s.repo.UpdatePassword(ctx, userID, string(newHash), s.now().UTC()); err != nil {
		return appErrors.Transient(err, "failed to update password")
	}

	recordAudit(ctx, s.audit, s.logger, AuditMeta{ActorID: userID}, models.AuditActionPasswordChange, "auth", userID,
		nil, map[string]string{"status": "changed"})
	return nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// ForgotPassword emails a single-use reset link. Unknown or inactive
// accounts are ignored without telling the caller.
func (s *AuthService) ForgotPassword(ctx context.Context, req models.ForgotPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid forgot password payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Info("password reset requested for unknown email")
			return nil
		}
		return appErrors.Transient(err, "failed to fetch user")
	}
	if !user.Active {
		s.logger.Info("password reset requested for inactive account", zap.String("user_id", user.ID))
		return nil
	}

	raw, err := generateOpaqueToken()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create reset token")
	}
	now := s.now().UTC()
	token := &models.PasswordResetToken{
		TokenHash: hashToken(raw),
		UserID:    user.ID,
		ExpiresAt: now.Add(s.config.ResetTokenTTL),
		CreatedAt: now,
	}
	if err := s.resets.Create(ctx, token); err != nil {
		return appErrors.Transient(err, "failed to store reset token")
	}

	jobID, err := s.mailer.Dispatch(ctx, s.resetMessage(user, raw))
	if err != nil {
		s.logger.Error("failed to queue password reset email", zap.String("user_id", user.ID), zap.Error(err))
		return nil
	}
	s.logger.Info("password reset email queued", zap.String("user_id", user.ID), zap.String("job_id", jobID))
	return nil
}

// ResetPassword consumes a reset token and sets a new password.
func (s *AuthService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid reset password payload")
	}

	token, err := s.resets.Find(ctx, hashToken(req.Token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "invalid reset token")
		}
		return appErrors.Transient(err, "failed to load reset token")
	}
	now := s.now().UTC()
	if token.UsedAt != nil {
		return appErrors.Clone(appErrors.ErrValidation, "reset token already used")
	}
	if !now.Before(token.ExpiresAt) {
		return appErrors.Clone(appErrors.ErrValidation, "reset token expired")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.resets.Consume(ctx, token, string(hash), now); err != nil {
		if errors.Is(err, repository.ErrResetTokenUsed) {
			return appErrors.Clone(appErrors.ErrValidation, "reset token already used")
		}
		return appErrors.Transient(err, "failed to reset password")
	}

	recordAudit(ctx, s.audit, s.logger, AuditMeta{ActorID: token.UserID}, models.AuditActionPasswordReset, "auth", token.UserID,
		nil, map[string]string{"status": "reset"})
	return nil
}

func (s *AuthService) resetMessage(user *models.User, raw string) mail.Message {
	link := fmt.Sprintf("%s/reset-password?token=%s", strings.TrimRight(s.config.FrontendBaseURL, "/"), url.QueryEscape(raw))
	minutes := int(s.config.ResetTokenTTL.Minutes())
	return mail.Message{
		To:      []mail.Address{{Name: user.FullName, Email: user.Email}},
		Subject: fmt.Sprintf("Reset your %s password", s.config.AppName),
		Text: fmt.Sprintf("Hi %s,\n\nUse the link below to choose a new password. It expires in %d minutes and works once.\n\n%s\n\nIf you did not ask for this, ignore this email.\n",
			user.FullName, minutes, link),
		HTML: fmt.Sprintf(`<p>Hi %s,</p><p>Use the link below to choose a new password. It expires in %d minutes and works once.</p><p><a href="%s">Reset password</a></p><p>If you did not ask for this, ignore this email.</p>`,
			html.EscapeString(user.FullName), minutes, link),
	}
}

func (s *AuthService) generateAccessToken(user *models.User) (string, time.Time, error) {
	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	claims := &models.JWTClaims{
		UserID:   user.ID,
		Role:     user.Role,
		Email:    user.Email,
		FullName: user.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, issuedAt, nil
}

func generateOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func userWriteError(err error) error {
	if isUniqueViolation(err) {
		return appErrors.Clone(appErrors.ErrConflict, "email already registered")
	}
	return appErrors.Transient(err, "failed to create user")
}
