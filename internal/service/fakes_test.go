package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

// fakeWorld is an in-memory LMS database shared by the fake repositories.
type fakeWorld struct {
	mu          sync.Mutex
	courses     map[string]models.Course
	modules     map[string]models.Module
	allowed     map[string]map[string]bool
	questions   map[string][]models.QuestionRow
	enrollments map[string]models.Enrollment
	progress    map[models.ProgressKey]models.ProgressRecord
	history     map[models.ProgressKey][]models.AttemptRecord
	users       map[string]models.User
	audits      []models.AuditLog
	grantErr    error
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		courses:     map[string]models.Course{},
		modules:     map[string]models.Module{},
		allowed:     map[string]map[string]bool{},
		questions:   map[string][]models.QuestionRow{},
		enrollments: map[string]models.Enrollment{},
		progress:    map[models.ProgressKey]models.ProgressRecord{},
		history:     map[models.ProgressKey][]models.AttemptRecord{},
		users:       map[string]models.User{},
	}
}

func enrollmentKey(studentID, courseID string) string { return studentID + "|" + courseID }

func (w *fakeWorld) addCourse(id, title string, status models.CourseStatus) {
	w.courses[id] = models.Course{ID: id, Title: title, Status: status}
}

func (w *fakeWorld) addModule(courseID, id string, position int, final bool, passMark *float64) {
	w.modules[id] = models.Module{ID: id, CourseID: courseID, Title: "Module " + id, Content: "content of " + id,
		Position: position, Status: models.ModulePublished, IsFinalAssessment: final, PassMark: passMark}
}

func (w *fakeWorld) addStudent(id, name string) {
	w.users[id] = models.User{ID: id, Email: id + "@example.com", FullName: name, Role: models.RoleStudent, Active: true}
}

func (w *fakeWorld) enroll(studentID, courseID string, status models.EnrollmentStatus) {
	w.enrollments[enrollmentKey(studentID, courseID)] = models.Enrollment{
		ID: uuid.NewString(), StudentID: studentID, CourseID: courseID, Status: status, RequestedAt: time.Now(),
	}
}

func (w *fakeWorld) setQuestions(moduleID string, questions ...models.Question) {
	rows := make([]models.QuestionRow, 0, len(questions))
	for i, q := range questions {
		if q.Base().ID == "" {
			q.Base().ID = uuid.NewString()
		}
		data, err := models.EncodeQuestion(q)
		if err != nil {
			panic(err)
		}
		rows = append(rows, models.QuestionRow{ID: q.Base().ID, ModuleID: moduleID, Position: i + 1, Type: q.Type(), Payload: data})
	}
	w.questions[moduleID] = rows
}

func (w *fakeWorld) record(studentID, moduleID string) (models.ProgressRecord, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.progress[models.ProgressKey{StudentID: studentID, ModuleID: moduleID}]
	return r, ok
}

// fakeCourses implements the course repository.
type fakeCourses struct{ w *fakeWorld }

func (f fakeCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	c, ok := f.w.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (f fakeCourses) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var out []models.Course
	for _, c := range f.w.courses {
		if filter.Status == "" || c.Status == filter.Status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (f fakeCourses) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	f.w.courses[course.ID] = *course
	return nil
}

func (f fakeCourses) Update(ctx context.Context, course *models.Course) error {
	if _, ok := f.w.courses[course.ID]; !ok {
		return sql.ErrNoRows
	}
	f.w.courses[course.ID] = *course
	return nil
}

func (f fakeCourses) SetStatus(ctx context.Context, id string, status models.CourseStatus) error {
	c, ok := f.w.courses[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.Status = status
	f.w.courses[id] = c
	return nil
}

func (f fakeCourses) CreateTree(ctx context.Context, course *models.Course, modules []repository.ModuleTree) error {
	f.w.courses[course.ID] = *course
	for _, t := range modules {
		m := t.Module
		m.CourseID = course.ID
		f.w.modules[m.ID] = m
		f.w.questions[m.ID] = t.Questions
	}
	return nil
}

// fakeModules implements the module repository and allow-list reads.
type fakeModules struct{ w *fakeWorld }

func (f fakeModules) FindByID(ctx context.Context, id string) (*models.Module, error) {
	m, ok := f.w.modules[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &m, nil
}

func (f fakeModules) ListByCourse(ctx context.Context, courseID string) ([]models.Module, error) {
	var out []models.Module
	for _, m := range f.w.modules {
		if m.CourseID == courseID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f fakeModules) Create(ctx context.Context, module *models.Module) error {
	if module.ID == "" {
		module.ID = uuid.NewString()
	}
	f.w.modules[module.ID] = *module
	return nil
}

func (f fakeModules) Update(ctx context.Context, module *models.Module) error {
	if _, ok := f.w.modules[module.ID]; !ok {
		return sql.ErrNoRows
	}
	f.w.modules[module.ID] = *module
	return nil
}

func (f fakeModules) SetPassMark(ctx context.Context, id string, passMark *float64) error {
	m, ok := f.w.modules[id]
	if !ok {
		return sql.ErrNoRows
	}
	m.PassMark = passMark
	f.w.modules[id] = m
	return nil
}

func (f fakeModules) IsAllowed(ctx context.Context, moduleID, studentID string) (bool, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return f.w.allowed[moduleID][studentID], nil
}

// fakeQuestions implements the question repository.
type fakeQuestions struct{ w *fakeWorld }

func (f fakeQuestions) ListByModule(ctx context.Context, moduleID string) ([]models.QuestionRow, error) {
	return append([]models.QuestionRow(nil), f.w.questions[moduleID]...), nil
}

func (f fakeQuestions) FindByID(ctx context.Context, id string) (*models.QuestionRow, error) {
	for _, rows := range f.w.questions {
		for _, r := range rows {
			if r.ID == id {
				return &r, nil
			}
		}
	}
	return nil, sql.ErrNoRows
}

func (f fakeQuestions) Append(ctx context.Context, row *models.QuestionRow) error {
	row.Position = len(f.w.questions[row.ModuleID]) + 1
	f.w.questions[row.ModuleID] = append(f.w.questions[row.ModuleID], *row)
	return nil
}

func (f fakeQuestions) Update(ctx context.Context, row *models.QuestionRow) error {
	rows := f.w.questions[row.ModuleID]
	for i := range rows {
		if rows[i].ID == row.ID {
			row.Position = rows[i].Position
			rows[i] = *row
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f fakeQuestions) Delete(ctx context.Context, moduleID, id string) error {
	rows := f.w.questions[moduleID]
	for i := range rows {
		if rows[i].ID == id {
			f.w.questions[moduleID] = append(rows[:i:i], rows[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f fakeQuestions) ReplaceAll(ctx context.Context, moduleID string, rows []models.QuestionRow) error {
	for i := range rows {
		rows[i].ModuleID = moduleID
		rows[i].Position = i + 1
	}
	f.w.questions[moduleID] = rows
	return nil
}

// fakeEnrollments implements the enrollment repository.
type fakeEnrollments struct{ w *fakeWorld }

func (f fakeEnrollments) Find(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	e, ok := f.w.enrollments[enrollmentKey(studentID, courseID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

func (f fakeEnrollments) Request(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	if _, ok := f.w.enrollments[enrollmentKey(studentID, courseID)]; !ok {
		f.w.enroll(studentID, courseID, models.EnrollmentPending)
	}
	return f.Find(ctx, studentID, courseID)
}

func (f fakeEnrollments) Activate(ctx context.Context, studentID, courseID string, at time.Time) error {
	e, ok := f.w.enrollments[enrollmentKey(studentID, courseID)]
	if !ok {
		return sql.ErrNoRows
	}
	e.Status = models.EnrollmentActive
	if e.ActivatedAt == nil {
		e.ActivatedAt = &at
	}
	f.w.enrollments[enrollmentKey(studentID, courseID)] = e
	return nil
}

func (f fakeEnrollments) ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	var out []models.EnrollmentDetail
	for _, e := range f.w.enrollments {
		if e.StudentID == studentID {
			out = append(out, models.EnrollmentDetail{Enrollment: e, CourseTitle: f.w.courses[e.CourseID].Title})
		}
	}
	return out, nil
}

func (f fakeEnrollments) ListByCourse(ctx context.Context, courseID string, status models.EnrollmentStatus) ([]models.Enrollment, error) {
	var out []models.Enrollment
	for _, e := range f.w.enrollments {
		if e.CourseID == courseID && (status == "" || e.Status == status) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

// fakeProgress implements the progress repository with the same
// transactional semantics, serialised by the world mutex.
type fakeProgress struct{ w *fakeWorld }

func (f fakeProgress) ensure(key models.ProgressKey, courseID string) models.ProgressRecord {
	r, ok := f.w.progress[key]
	if !ok {
		now := time.Now().UTC()
		r = models.ProgressRecord{ID: uuid.NewString(), StudentID: key.StudentID, ModuleID: key.ModuleID, CourseID: courseID,
			Status: models.ProgressInProgress, CreatedAt: now, UpdatedAt: now}
	}
	return r
}

func (f fakeProgress) Start(ctx context.Context, key models.ProgressKey, courseID string) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if _, ok := f.w.progress[key]; !ok {
		f.w.progress[key] = f.ensure(key, courseID)
	}
	return nil
}

func (f fakeProgress) Find(ctx context.Context, key models.ProgressKey) (*models.ProgressRecord, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	r, ok := f.w.progress[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &r, nil
}

func (f fakeProgress) ListAttempts(ctx context.Context, progressID string) ([]models.AttemptRecord, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	for key, r := range f.w.progress {
		if r.ID == progressID {
			return append([]models.AttemptRecord(nil), f.w.history[key]...), nil
		}
	}
	return nil, nil
}

func (f fakeProgress) ListByStudentCourse(ctx context.Context, studentID, courseID string) ([]models.ProgressRecord, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	var out []models.ProgressRecord
	for _, r := range f.w.progress {
		if r.StudentID == studentID && r.CourseID == courseID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f fakeProgress) FetchAllProgress(ctx context.Context, courseID string) ([]models.ProgressRecord, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	var out []models.ProgressRecord
	for _, r := range f.w.progress {
		if courseID == "" || r.CourseID == courseID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID+out[i].ModuleID < out[j].StudentID+out[j].ModuleID })
	return out, nil
}

func (f fakeProgress) RecordAttempt(ctx context.Context, key models.ProgressKey, courseID string, apply repository.AttemptFunc) (*models.ProgressRecord, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	record := f.ensure(key, courseID)
	attempt, err := apply(&record)
	if err != nil {
		return nil, err
	}
	record.UpdatedAt = time.Now().UTC()
	f.w.progress[key] = record
	f.w.history[key] = append(f.w.history[key], attempt)
	return &record, nil
}

func (f fakeProgress) RequestAccess(ctx context.Context, key models.ProgressKey, courseID string, at time.Time) (bool, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	record := f.ensure(key, courseID)
	if record.QuizRequested {
		return false, nil
	}
	record.QuizRequested = true
	record.RequestedAt = &at
	record.UpdatedAt = at
	f.w.progress[key] = record
	return true, nil
}

func (f fakeProgress) GrantAccess(ctx context.Context, grantedBy string, key models.ProgressKey, courseID string, at time.Time) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if f.w.grantErr != nil {
		return f.w.grantErr
	}
	if f.w.allowed[key.ModuleID] == nil {
		f.w.allowed[key.ModuleID] = map[string]bool{}
	}
	f.w.allowed[key.ModuleID][key.StudentID] = true
	record := f.ensure(key, courseID)
	record.Attempts = 0
	record.QuizRequested = false
	record.IsAuthorized = true
	record.UpdatedAt = at
	f.w.progress[key] = record
	return nil
}

func (f fakeProgress) ListRequests(ctx context.Context, moduleID string) ([]models.AccessRequest, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	var out []models.AccessRequest
	for _, r := range f.w.progress {
		if r.ModuleID == moduleID && r.QuizRequested {
			u := f.w.users[r.StudentID]
			out = append(out, models.AccessRequest{StudentID: r.StudentID, StudentName: u.FullName, Email: u.Email,
				ModuleID: moduleID, Attempts: r.Attempts, RequestedAt: r.RequestedAt})
		}
	}
	return out, nil
}

// fakeUsers implements user lookups.
type fakeUsers struct{ w *fakeWorld }

func (f fakeUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := f.w.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

func (f fakeUsers) ListByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	var out []models.User
	for _, id := range ids {
		if u, ok := f.w.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// fakeAudit records audit entries.
type fakeAudit struct{ w *fakeWorld }

func (f fakeAudit) Create(ctx context.Context, log *models.AuditLog) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	f.w.audits = append(f.w.audits, *log)
	return nil
}

// fakeCacheRepo stores JSON in a map.
type fakeCacheRepo struct {
	mu      sync.Mutex
	data    map[string][]byte
	deleted []string
}

func newFakeCacheRepo() *fakeCacheRepo { return &fakeCacheRepo{data: map[string][]byte{}} }

func (c *fakeCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *fakeCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = raw
	return nil
}

func (c *fakeCacheRepo) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
		c.deleted = append(c.deleted, k)
	}
	return nil
}

func (c *fakeCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
		}
	}
	return nil
}

// lmsServices wires every domain service over one fake world.
type lmsServices struct {
	world    *fakeWorld
	cache    *fakeCacheRepo
	progress *ProgressService
	access   *AccessService
	quiz     *QuizService
	courses  *CourseService
	enroll   *EnrollmentService
}

func newLMSServices(w *fakeWorld, attemptCap int) *lmsServices {
	cacheRepo := newFakeCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	validate := validator.New()

	progress := NewProgressService(fakeModules{w}, fakeProgress{w}, fakeEnrollments{w}, cache, nil,
		ProgressServiceConfig{CacheTTL: time.Minute, OverviewCacheTTL: time.Minute, AttemptCap: attemptCap}, zap.NewNop())
	access := NewAccessService(fakeModules{w}, fakeProgress{w}, fakeEnrollments{w}, fakeUsers{w}, fakeAudit{w}, progress, nil, attemptCap, zap.NewNop())
	quiz := NewQuizService(QuizServiceDeps{
		Modules:     fakeModules{w},
		Questions:   fakeQuestions{w},
		Enrollments: fakeEnrollments{w},
		Progress:    fakeProgress{w},
		Access:      access,
		Invalidator: progress,
		Audit:       fakeAudit{w},
		AttemptCap:  attemptCap,
	}, validate, zap.NewNop())
	courses := NewCourseService(fakeCourses{w}, fakeModules{w}, fakeEnrollments{w}, fakeAudit{w}, validate, zap.NewNop())
	enroll := NewEnrollmentService(fakeEnrollments{w}, fakeCourses{w}, fakeAudit{w}, progress, validate, zap.NewNop())

	return &lmsServices{world: w, cache: cacheRepo, progress: progress, access: access, quiz: quiz, courses: courses, enroll: enroll}
}

func answers(values ...interface{}) SubmitQuizRequest {
	out := make([]json.RawMessage, len(values))
	for i, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			panic(err)
		}
		out[i] = raw
	}
	return SubmitQuizRequest{Answers: out}
}

func mark(v float64) *float64 { return &v }
