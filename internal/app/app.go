// Package app assembles repositories and services from configuration. Both
// the HTTP server and the admin CLI build on it.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/repository"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/migrations"
	"github.com/noah-isme/lms-api/pkg/cache"
	"github.com/noah-isme/lms-api/pkg/config"
	"github.com/noah-isme/lms-api/pkg/database"
	"github.com/noah-isme/lms-api/pkg/jobs"
	"github.com/noah-isme/lms-api/pkg/mail"
	"github.com/noah-isme/lms-api/pkg/storage"
)

// App holds every long-lived dependency of the process.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *sqlx.DB
	Redis  *redis.Client

	Metrics    *service.MetricsService
	CacheStore *repository.CacheRepository
	Cache      *service.CacheService
	Mail       *service.MailDispatcher
	Audit      *repository.AuditRepository

	Auth        *service.AuthService
	Courses     *service.CourseService
	Enrollments *service.EnrollmentService
	Progress    *service.ProgressService
	Quizzes     *service.QuizService
	Access      *service.AccessService
	Reports     *service.ReportService
}

// New connects to PostgreSQL and Redis and wires the services. Redis is
// optional: when it is disabled or unreachable the cache degrades to misses.
// The mail dispatcher is created stopped; call Start.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.Database.AutoMigrate {
		applied, err := database.RunMigrations(ctx, db, migrations.FS, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("migrations applied", zap.Int("count", applied))
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, progress cache disabled", zap.Error(err))
		redisClient = nil
	}

	mailer, err := mail.New(cfg.Mail, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure mailer: %w", err)
	}
	reportStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare report storage: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, DB: db, Redis: redisClient}
	a.wire(mailer, reportStore)
	return a, nil
}

func (a *App) wire(mailer mail.Mailer, reportStore *storage.LocalStorage) {
	cfg, logger := a.Config, a.Logger
	validate := validator.New()

	users := repository.NewUserRepository(a.DB)
	resets := repository.NewResetTokenRepository(a.DB)
	courses := repository.NewCourseRepository(a.DB)
	modules := repository.NewModuleRepository(a.DB)
	questions := repository.NewQuestionRepository(a.DB)
	enrollments := repository.NewEnrollmentRepository(a.DB)
	progress := repository.NewProgressRepository(a.DB, logger, cfg.Progress.GroupQueryEnabled)
	a.Audit = repository.NewAuditRepository(a.DB)

	a.Metrics = service.NewMetricsService()
	a.CacheStore = repository.NewCacheRepository(a.Redis)
	a.Cache = service.NewCacheService(a.CacheStore, a.Metrics, cfg.Progress.CacheTTL, logger, a.Redis != nil)
	a.Mail = service.NewMailDispatcher(mailer, jobs.QueueConfig{
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Jobs.MaxRetries,
		RetryDelay: cfg.Jobs.RetryDelay,
	}, a.Metrics, logger)

	a.Progress = service.NewProgressService(modules, progress, enrollments, a.Cache, a.Metrics, service.ProgressServiceConfig{
		CacheTTL:         cfg.Progress.CacheTTL,
		OverviewCacheTTL: cfg.Progress.OverviewCacheTTL,
		AttemptCap:       cfg.Quiz.FinalAttemptCap,
	}, logger)
	a.Auth = service.NewAuthService(users, resets, a.Mail, a.Audit, validate, logger, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
		ResetTokenTTL:     cfg.Mail.ResetTokenTTL,
		FrontendBaseURL:   cfg.Mail.FrontendBaseURL,
		AppName:           cfg.Mail.FromName,
	})
	a.Courses = service.NewCourseService(courses, modules, enrollments, a.Audit, validate, logger)
	a.Enrollments = service.NewEnrollmentService(enrollments, courses, a.Audit, a.Progress, validate, logger)
	a.Access = service.NewAccessService(modules, progress, enrollments, users, a.Audit, a.Progress, a.Metrics, cfg.Quiz.FinalAttemptCap, logger)
	a.Quizzes = service.NewQuizService(service.QuizServiceDeps{
		Modules:     modules,
		Questions:   questions,
		Enrollments: enrollments,
		Progress:    progress,
		Access:      a.Access,
		Invalidator: a.Progress,
		Audit:       a.Audit,
		Metrics:     a.Metrics,
		AttemptCap:  cfg.Quiz.FinalAttemptCap,
	}, validate, logger)
	a.Reports = service.NewReportService(service.ReportServiceDeps{
		Courses:     courses,
		Modules:     modules,
		Enrollments: enrollments,
		Users:       users,
		Progress:    a.Progress,
		Storage:     reportStore,
		Signer:      storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL),
		Metrics:     a.Metrics,
	}, validate, logger, service.ReportServiceConfig{
		DownloadPath:    strings.TrimRight(cfg.APIPrefix, "/") + "/reports/download",
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.SignedURLTTL,
	})
}

// Close releases database and cache connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("close redis", zap.Error(err))
		}
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn("close postgres", zap.Error(err))
	}
}
