package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/middleware"
	"github.com/noah-isme/lms-api/internal/models"
)

// Handlers bundles every HTTP handler mounted by RegisterRoutes.
type Handlers struct {
	Auth       *AuthHandler
	Course     *CourseHandler
	Enrollment *EnrollmentHandler
	Progress   *ProgressHandler
	Quiz       *QuizHandler
	Access     *AccessHandler
	Report     *ReportHandler
}

// RouteDeps are the collaborators the route middleware needs.
type RouteDeps struct {
	Tokens middleware.TokenValidator
	Audit  middleware.AuditRecorder
	Logger *zap.Logger
}

// RegisterRoutes mounts the API under api.
func RegisterRoutes(api *gin.RouterGroup, h Handlers, deps RouteDeps) {
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor)
	viewers := middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor, models.RoleCEO)
	admin := middleware.RequireRoles(models.RoleAdmin)
	student := middleware.RequireRoles(models.RoleStudent)
	audit := func(action, resource, idParam string) gin.HandlerFunc {
		return middleware.Audit(deps.Audit, deps.Logger, action, resource, idParam)
	}

	auth := api.Group("/auth")
	auth.POST("/login", h.Auth.Login)
	auth.POST("/forgot-password", h.Auth.ForgotPassword)
	auth.POST("/reset-password", h.Auth.ResetPassword)

	api.GET("/reports/download/:token", h.Report.Download)
	api.GET("/courses", middleware.OptionalJWT(deps.Tokens), h.Course.List)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.Tokens))

	secured.GET("/auth/me", h.Auth.Me)
	secured.POST("/auth/change-password", h.Auth.ChangePassword)
	secured.POST("/users", admin, audit(models.AuditActionUserCreate, "user", ""), h.Auth.CreateUser)

	courses := secured.Group("/courses")
	courses.POST("", staff, audit(models.AuditActionCourseCreate, "course", ""), h.Course.Create)
	courses.POST("/import", admin, h.Course.Import)
	courses.GET("/:courseId", viewers, h.Course.Get)
	courses.PUT("/:courseId", staff, audit(models.AuditActionCourseUpdate, "course", "courseId"), h.Course.Update)
	courses.DELETE("/:courseId", admin, audit(models.AuditActionCourseArchive, "course", "courseId"), h.Course.Archive)
	courses.GET("/:courseId/modules", viewers, h.Course.ListModules)
	courses.POST("/:courseId/modules", staff, audit(models.AuditActionModuleCreate, "course", "courseId"), h.Course.CreateModule)
	courses.POST("/:courseId/enroll", student, h.Enrollment.Request)
	courses.GET("/:courseId/enrollments", staff, h.Enrollment.ListForCourse)
	courses.POST("/:courseId/enrollments/:studentId/activate", admin, h.Enrollment.Activate)
	courses.GET("/:courseId/overview", viewers, h.Progress.Overview)
	courses.GET("/:courseId/students/:studentId/progress",
		middleware.RBAC(string(models.RoleAdmin), string(models.RoleInstructor), string(models.RoleCEO), middleware.SelfParam),
		h.Progress.Student)
	courses.POST("/:courseId/reports/progress", viewers, h.Report.Export)

	modules := secured.Group("/modules/:moduleId")
	modules.PUT("", staff, audit(models.AuditActionModuleUpdate, "module", "moduleId"), h.Course.UpdateModule)
	modules.POST("/start", student, h.Progress.StartModule)
	modules.GET("/quiz", staff, h.Quiz.Get)
	modules.PUT("/quiz/pass-mark", staff, h.Quiz.SetPassMark)
	modules.POST("/quiz/questions", staff, h.Quiz.AddQuestion)
	modules.PUT("/quiz/questions", staff, h.Quiz.ReplaceQuestions)
	modules.PUT("/quiz/questions/:questionId", staff, h.Quiz.UpdateQuestion)
	modules.DELETE("/quiz/questions/:questionId", staff, h.Quiz.RemoveQuestion)
	modules.GET("/students/:studentId/attempts", viewers, h.Progress.StudentAttempts)
	modules.GET("/access/requests", admin, h.Access.ListRequests)
	modules.POST("/access/:studentId/grant", admin, h.Access.Grant)

	me := secured.Group("/me", student)
	me.GET("/enrollments", h.Enrollment.Mine)
	me.GET("/courses/:courseId", h.Course.StudentView)
	me.GET("/courses/:courseId/progress", h.Progress.Mine)
	me.GET("/modules/:moduleId/quiz", h.Quiz.Take)
	me.GET("/modules/:moduleId/attempts", h.Progress.MyAttempts)
	me.POST("/modules/:moduleId/quiz/submit", h.Quiz.Submit)
	me.GET("/modules/:moduleId/access", h.Access.State)
	me.POST("/modules/:moduleId/access/request", h.Access.Request)
}
