package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/app"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/migrations"
	"github.com/noah-isme/lms-api/pkg/config"
	"github.com/noah-isme/lms-api/pkg/database"
	"github.com/noah-isme/lms-api/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "lms-admin",
		Short:        "Operational tasks for the LMS API",
		SilenceUsage: true,
	}
	root.AddCommand(migrateCmd(), addUserCmd(), importCourseCmd(), grantCmd(), cacheCmd(), auditCmd())
	return root
}

// env loads configuration and a logger shared by every subcommand.
func env() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logr, nil
}

// withApp runs fn against a fully wired application. Migrations are left to
// the migrate command.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, logr, err := env()
	if err != nil {
		return err
	}
	defer logr.Sync() //nolint:errcheck
	cfg.Database.AutoMigrate = false

	a, err := app.New(cmd.Context(), cfg, logr)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logr, err := env()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck

			db, err := database.NewPostgres(cfg.Database)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer db.Close()

			applied, err := database.RunMigrations(cmd.Context(), db, migrations.FS, logr)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d migrations applied\n", applied)
			return nil
		},
	}
}

func addUserCmd() *cobra.Command {
	var req service.CreateUserRequest
	var role string
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.Role = models.UserRole(role)
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				user, err := a.Auth.CreateUser(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", user.Role, user.Email, user.ID)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Email, "email", "", "Login email (required)")
	f.StringVar(&req.Password, "password", "", "Initial password, at least 8 characters (required)")
	f.StringVar(&req.FullName, "name", "", "Full name (required)")
	f.StringVar(&role, "role", string(models.RoleStudent), "ADMIN, INSTRUCTOR, STUDENT or CEO")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func importCourseCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "import-course FILE",
		Short: "Import a course with its modules and quizzes from a YAML or JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				summary, err := a.Courses.ImportCourse(ctx, service.AuditMeta{ActorID: actor, UserAgent: "lms-admin"}, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %q as %s: %d modules, %d questions\n",
					summary.Title, summary.CourseID, summary.Modules, summary.Questions)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "Admin user id recorded in the audit trail")
	return cmd
}

func grantCmd() *cobra.Command {
	var actor, student, module string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a student another attempt window on a final assessment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := uuid.Parse(actor); err != nil {
				return fmt.Errorf("--actor must be a user id: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				state, err := a.Access.GrantAccess(ctx, service.AuditMeta{ActorID: actor, UserAgent: "lms-admin"}, student, module)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "student %s on module %s is now %s\n", student, module, state)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&student, "student", "", "Student user id (required)")
	f.StringVar(&module, "module", "", "Final assessment module id (required)")
	f.StringVar(&actor, "actor", "", "Admin user id recorded as the grantor (required)")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("student")
	_ = cmd.MarkFlagRequired("module")
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the Redis progress cache",
	}
	var patterns []string
	flush := &cobra.Command{
		Use:   "flush",
		Short: "Remove cached entries matching a key pattern",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if !a.Cache.Enabled() {
					fmt.Fprintln(cmd.OutOrStdout(), "cache disabled, nothing to flush")
					return nil
				}
				for _, pattern := range patterns {
					if err := a.Cache.Invalidate(ctx, pattern); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "flushed %s\n", pattern)
				}
				return nil
			})
		},
	}
	flush.Flags().StringSliceVar(&patterns, "pattern", []string{"progress:*", "overview:*"}, "Redis key patterns (repeatable)")
	cmd.AddCommand(flush)
	return cmd
}

func auditCmd() *cobra.Command {
	var resource, id string
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print recent audit entries for a resource as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				entries, err := a.Audit.ListByResource(ctx, resource, id, limit)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, e := range entries {
					if err := enc.Encode(e); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&resource, "resource", "", "Resource name, e.g. course or module (required)")
	f.StringVar(&id, "id", "", "Resource id (required)")
	f.IntVar(&limit, "limit", 50, "Maximum entries")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
