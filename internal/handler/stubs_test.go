package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

const (
	adminID   = "6f1c7a3e-0c55-4a4b-9d6f-2f0d5d7c1a01"
	studentID = "0b9e2d44-81a6-4f0e-9a39-5d1a3c6f7b02"
	otherID   = "9d3f8c11-2b7e-4c5a-8e90-1a2b3c4d5e03"
	courseID  = "2c5e7a90-3d1f-4b8e-a6c2-7e9f0a1b2c04"
	moduleID  = "7a8b9c0d-1e2f-4a3b-8c4d-5e6f7a8b9c05"
	qID       = "c1d2e3f4-a5b6-4c7d-8e9f-0a1b2c3d4e06"
)

var testTokens = tokenStub{
	"admin":   {UserID: adminID, Role: models.RoleAdmin, Email: "ada@example.com", FullName: "Ada Admin"},
	"student": {UserID: studentID, Role: models.RoleStudent, Email: "ana@example.com", FullName: "Ana Barista"},
	"ceo":     {UserID: otherID, Role: models.RoleCEO},
}

type tokenStub map[string]*models.JWTClaims

func (t tokenStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := t[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

type auditStub struct{ entries []*models.AuditLog }

func (a *auditStub) Create(_ context.Context, log *models.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

type authStub struct {
	forgot   []string
	changed  string
	loginErr error
}

func (a *authStub) Login(_ context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if a.loginErr != nil {
		return nil, a.loginErr
	}
	return &models.LoginResponse{AccessToken: "jwt", TokenType: "Bearer", User: models.UserInfo{Email: req.Email}}, nil
}

func (a *authStub) CreateUser(_ context.Context, req service.CreateUserRequest) (*models.User, error) {
	return &models.User{ID: otherID, Email: req.Email, FullName: req.FullName, Role: req.Role, PasswordHash: "secret-hash"}, nil
}

func (a *authStub) ChangePassword(_ context.Context, userID string, _ models.ChangePasswordRequest) error {
	a.changed = userID
	return nil
}

func (a *authStub) ForgotPassword(_ context.Context, req models.ForgotPasswordRequest) error {
	a.forgot = append(a.forgot, req.Email)
	return nil
}

func (a *authStub) ResetPassword(context.Context, models.ResetPasswordRequest) error {
	return appErrors.Clone(appErrors.ErrValidation, "reset token expired")
}

type courseStub struct {
	lastFilter models.CourseFilter
	imported   string
	importMeta service.AuditMeta
}

func (s *courseStub) ListCourses(_ context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	s.lastFilter = filter
	return []models.Course{{ID: courseID, Title: "Bean to Brew", Status: models.CoursePublished}}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, nil
}

func (s *courseStub) GetCourse(_ context.Context, id string) (*dto.CourseDetail, error) {
	return &dto.CourseDetail{Course: models.Course{ID: id}}, nil
}

func (s *courseStub) CreateCourse(_ context.Context, req service.CreateCourseRequest) (*models.Course, error) {
	return &models.Course{ID: courseID, Title: req.Title}, nil
}

func (s *courseStub) UpdateCourse(_ context.Context, id string, _ service.UpdateCourseRequest) (*models.Course, error) {
	return &models.Course{ID: id}, nil
}

func (s *courseStub) ArchiveCourse(context.Context, string) error { return nil }

func (s *courseStub) ListModules(context.Context, string) ([]models.Module, error) {
	return []models.Module{}, nil
}

func (s *courseStub) CreateModule(_ context.Context, courseID string, req service.CreateModuleRequest) (*models.Module, error) {
	return &models.Module{ID: moduleID, CourseID: courseID, Title: req.Title}, nil
}

func (s *courseStub) UpdateModule(_ context.Context, id string, _ service.UpdateModuleRequest) (*models.Module, error) {
	return &models.Module{ID: id}, nil
}

func (s *courseStub) StudentCourse(_ context.Context, student, course string) (*dto.StudentCourse, error) {
	if student != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not enrolled in this course")
	}
	return &dto.StudentCourse{Course: models.Course{ID: course}, EnrollmentStatus: models.EnrollmentPending}, nil
}

func (s *courseStub) ImportCourse(_ context.Context, meta service.AuditMeta, r io.Reader) (*dto.ImportSummary, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	s.imported = string(data)
	s.importMeta = meta
	return &dto.ImportSummary{CourseID: courseID, Title: "Bean to Brew", Modules: 3}, nil
}

type enrollmentStub struct{ activated service.ActivateEnrollmentRequest }

func (s *enrollmentStub) RequestEnrollment(_ context.Context, student, course string) (*models.Enrollment, error) {
	return &models.Enrollment{StudentID: student, CourseID: course, Status: models.EnrollmentPending}, nil
}

func (s *enrollmentStub) ActivateEnrollment(_ context.Context, _ service.AuditMeta, req service.ActivateEnrollmentRequest) (*models.Enrollment, error) {
	s.activated = req
	return &models.Enrollment{StudentID: req.StudentID, CourseID: req.CourseID, Status: models.EnrollmentActive}, nil
}

func (s *enrollmentStub) ListForStudent(context.Context, string) ([]models.EnrollmentDetail, error) {
	return []models.EnrollmentDetail{}, nil
}

func (s *enrollmentStub) ListForCourse(_ context.Context, _ string, status models.EnrollmentStatus) ([]models.Enrollment, error) {
	if status != "" && status != models.EnrollmentPending && status != models.EnrollmentActive {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid enrollment status")
	}
	return []models.Enrollment{}, nil
}

type progressStub struct{ started []string }

func (s *progressStub) StartModule(_ context.Context, student, module string) error {
	s.started = append(s.started, student+"/"+module)
	return nil
}

func (s *progressStub) CourseProgress(_ context.Context, student, course string) (*models.CourseProgress, error) {
	return &models.CourseProgress{StudentID: student, CourseID: course}, nil
}

func (s *progressStub) AttemptHistory(_ context.Context, student, _ string) ([]models.AttemptRecord, error) {
	if student != studentID {
		return []models.AttemptRecord{}, nil
	}
	return []models.AttemptRecord{{AttemptNumber: 1, Score: 50}, {AttemptNumber: 2, Score: 100, Passed: true}}, nil
}

func (s *progressStub) CourseOverview(_ context.Context, course string) (*models.CourseOverview, error) {
	return &models.CourseOverview{CourseID: course}, nil
}

type quizStub struct {
	submitted  service.SubmitQuizRequest
	submitErr  error
	replaced   json.RawMessage
	passMark   service.SetPassMarkRequest
	passMarkBy service.AuditMeta
}

func (s *quizStub) GetQuiz(_ context.Context, module string) (*models.Quiz, error) {
	return &models.Quiz{ModuleID: module, PassMark: 80}, nil
}

func (s *quizStub) StudentQuiz(_ context.Context, _, module string) (*models.StudentQuiz, error) {
	return &models.StudentQuiz{ModuleID: module}, nil
}

func (s *quizStub) SetPassMark(_ context.Context, meta service.AuditMeta, module string, req service.SetPassMarkRequest) (*models.Module, error) {
	s.passMark = req
	s.passMarkBy = meta
	return &models.Module{ID: module, PassMark: req.PassMark}, nil
}

func (s *quizStub) AddQuestion(_ context.Context, _ service.AuditMeta, _ string, payload json.RawMessage) (models.Question, error) {
	return models.DecodeQuestion(payload)
}

func (s *quizStub) UpdateQuestion(_ context.Context, _ service.AuditMeta, _, _ string, payload json.RawMessage) (models.Question, error) {
	return models.DecodeQuestion(payload)
}

func (s *quizStub) RemoveQuestion(_ context.Context, _ service.AuditMeta, _, question string) error {
	if question != qID {
		return appErrors.Clone(appErrors.ErrNotFound, "question not found")
	}
	return nil
}

func (s *quizStub) ReplaceQuestions(_ context.Context, _ service.AuditMeta, _ string, payload json.RawMessage) (models.QuestionList, error) {
	s.replaced = payload
	return models.QuestionList{}, nil
}

func (s *quizStub) Submit(_ context.Context, _, module string, req service.SubmitQuizRequest) (*models.QuizResult, error) {
	s.submitted = req
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return &models.QuizResult{ModuleID: module, Correct: 2, Total: 2, Score: 100, DisplayScore: 100, PassMark: 80, Passed: true, Attempt: 1}, nil
}

type accessStub struct {
	granted   []string
	grantMeta service.AuditMeta
}

func (s *accessStub) AccessState(context.Context, string, string) (models.AccessState, error) {
	return models.AccessUnlockable, nil
}

func (s *accessStub) RequestAccess(context.Context, string, string) (models.AccessState, error) {
	return models.AccessRequested, nil
}

func (s *accessStub) GrantAccess(_ context.Context, meta service.AuditMeta, student, module string) (models.AccessState, error) {
	s.granted = append(s.granted, student+"/"+module)
	s.grantMeta = meta
	return models.AccessGranted, nil
}

func (s *accessStub) ListRequests(context.Context, string) ([]models.AccessRequest, error) {
	return []models.AccessRequest{{StudentID: studentID, StudentName: "Ana Barista", ModuleID: moduleID}}, nil
}

type reportStub struct {
	format dto.ReportFormat
}

func (s *reportStub) ExportCourseProgress(_ context.Context, course string, req dto.ReportRequest) (*dto.ReportResponse, error) {
	if req.Format != dto.ReportFormatCSV && req.Format != dto.ReportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	s.format = req.Format
	return &dto.ReportResponse{ReportID: "r-1", CourseID: course, Format: req.Format, DownloadURL: "/api/v1/reports/download/tok"}, nil
}

func (s *reportStub) ResolveDownload(_ context.Context, token string) (*service.ReportDownload, error) {
	if token != "tok" {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download token")
	}
	body := "student,email\nAna Barista,ana@example.com\n"
	return &service.ReportDownload{
		Reader:      io.NopCloser(strings.NewReader(body)),
		Filename:    "progress-r-1.csv",
		ContentType: "text/csv",
		Size:        int64(len(body)),
	}, nil
}

type testAPI struct {
	engine     *gin.Engine
	auth       *authStub
	course     *courseStub
	enrollment *enrollmentStub
	progress   *progressStub
	quiz       *quizStub
	access     *accessStub
	report     *reportStub
	audit      *auditStub
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	api := &testAPI{
		engine:     gin.New(),
		auth:       &authStub{},
		course:     &courseStub{},
		enrollment: &enrollmentStub{},
		progress:   &progressStub{},
		quiz:       &quizStub{},
		access:     &accessStub{},
		report:     &reportStub{},
		audit:      &auditStub{},
	}
	RegisterRoutes(api.engine.Group("/api/v1"), Handlers{
		Auth:       NewAuthHandler(api.auth),
		Course:     NewCourseHandler(api.course),
		Enrollment: NewEnrollmentHandler(api.enrollment),
		Progress:   NewProgressHandler(api.progress),
		Quiz:       NewQuizHandler(api.quiz),
		Access:     NewAccessHandler(api.access),
		Report:     NewReportHandler(api.report),
	}, RouteDeps{Tokens: testTokens, Audit: api.audit})
	return api
}

func (a *testAPI) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, "/api/v1"+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Data       json.RawMessage    `json:"data"`
	Error      *appErrors.Error   `json:"error"`
	Pagination map[string]float64 `json:"pagination"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	env := decode(t, w)
	require.NoError(t, json.Unmarshal(env.Data, dest))
}

