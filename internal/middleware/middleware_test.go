package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubValidator struct {
	claims map[string]*models.JWTClaims
}

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s.claims[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

var tokens = stubValidator{claims: map[string]*models.JWTClaims{
	"admin-token":   {UserID: "admin-1", Role: models.RoleAdmin},
	"student-token": {UserID: "stu-1", Role: models.RoleStudent},
}}

func serve(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTRejectsMissingAndMalformedTokens(t *testing.T) {
	r := gin.New()
	r.GET("/me", JWT(tokens), func(c *gin.Context) {
		claims, ok := CurrentUser(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.UserID)
	})

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", "forged").Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Basic abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid authorization header")

	w = serve(r, http.MethodGet, "/me", "student-token")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stu-1", w.Body.String())
}

func TestOptionalJWTNeverBlocks(t *testing.T) {
	r := gin.New()
	r.GET("/catalog", OptionalJWT(tokens), func(c *gin.Context) {
		_, ok := CurrentUser(c)
		if ok {
			c.String(http.StatusOK, "member")
			return
		}
		c.String(http.StatusOK, "guest")
	})

	assert.Equal(t, "guest", serve(r, http.MethodGet, "/catalog", "").Body.String())
	assert.Equal(t, "guest", serve(r, http.MethodGet, "/catalog", "forged").Body.String())
	assert.Equal(t, "member", serve(r, http.MethodGet, "/catalog", "admin-token").Body.String())
}

func TestRBACAllowsRolesAndSelf(t *testing.T) {
	r := gin.New()
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/admin", JWT(tokens), RequireRoles(models.RoleAdmin), ok)
	r.GET("/students/:studentId/progress", JWT(tokens), RBAC(string(models.RoleAdmin), SelfParam), ok)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/admin", "admin-token").Code)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/admin", "student-token").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/students/stu-1/progress", "student-token").Code)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/students/stu-2/progress", "student-token").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/students/stu-2/progress", "admin-token").Code)
}

func TestRBACWithoutClaimsIsUnauthorized(t *testing.T) {
	r := gin.New()
	r.GET("/admin", RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/admin", "").Code)
}

type observed struct {
	method, path string
	status       int
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []observed
}

func (r *recordingObserver) ObserveHTTPRequest(method, path string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, observed{method, path, status})
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	observer := &recordingObserver{}
	r := gin.New()
	r.Use(Metrics(observer))
	r.GET("/courses/:courseId", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, http.MethodGet, "/courses/abc", "")
	serve(r, http.MethodGet, "/nowhere", "")

	require.Len(t, observer.calls, 2)
	assert.Equal(t, observed{http.MethodGet, "/courses/:courseId", http.StatusOK}, observer.calls[0])
	assert.Equal(t, "unmatched", observer.calls[1].path)
	assert.Equal(t, http.StatusNotFound, observer.calls[1].status)
}

type recordingAudit struct {
	entries []*models.AuditLog
	err     error
}

func (r *recordingAudit) Create(_ context.Context, log *models.AuditLog) error {
	r.entries = append(r.entries, log)
	return r.err
}

func TestAuditRecordsSuccessfulWritesOnly(t *testing.T) {
	repo := &recordingAudit{}
	r := gin.New()
	r.PUT("/courses/:courseId", JWT(tokens), Audit(repo, nil, models.AuditActionCourseUpdate, "course", "courseId"), func(c *gin.Context) {
		if c.Query("fail") != "" {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	})

	serve(r, http.MethodPut, "/courses/c-1?fail=1", "admin-token")
	require.Empty(t, repo.entries)

	serve(r, http.MethodPut, "/courses/c-1", "admin-token")
	require.Len(t, repo.entries, 1)
	entry := repo.entries[0]
	assert.Equal(t, models.AuditActionCourseUpdate, entry.Action)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "admin-1", *entry.UserID)
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, "c-1", *entry.ResourceID)
	assert.Contains(t, string(entry.NewValues), `"path":"/courses/:courseId"`)
}

func TestAuditWriteFailureDoesNotChangeResponse(t *testing.T) {
	repo := &recordingAudit{err: errors.New("db down")}
	r := gin.New()
	r.POST("/courses", Audit(repo, nil, models.AuditActionCourseCreate, "course", ""), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	w := serve(r, http.MethodPost, "/courses", "")
	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, repo.entries, 1)
	assert.Nil(t, repo.entries[0].ResourceID)
	assert.Nil(t, repo.entries[0].UserID)
}
