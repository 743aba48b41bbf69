package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type quizModuleStore interface {
	FindByID(ctx context.Context, id string) (*models.Module, error)
	SetPassMark(ctx context.Context, id string, passMark *float64) error
}

type questionStore interface {
	ListByModule(ctx context.Context, moduleID string) ([]models.QuestionRow, error)
	FindByID(ctx context.Context, id string) (*models.QuestionRow, error)
	Append(ctx context.Context, row *models.QuestionRow) error
	Update(ctx context.Context, row *models.QuestionRow) error
	Delete(ctx context.Context, moduleID, id string) error
	ReplaceAll(ctx context.Context, moduleID string, rows []models.QuestionRow) error
}

type attemptRecorder interface {
	RecordAttempt(ctx context.Context, key models.ProgressKey, courseID string, apply repository.AttemptFunc) (*models.ProgressRecord, error)
}

type accessEvaluator interface {
	StateFor(ctx context.Context, studentID string, module *models.Module) (models.AccessState, error)
}

// SetPassMarkRequest configures the quiz threshold of a module. A nil
// PassMark removes the quiz requirement.
type SetPassMarkRequest struct {
	PassMark *float64 `json:"pass_mark" validate:"omitempty,gte=0,lte=100"`
}

// SubmitQuizRequest carries one answer per question, in quiz order.
type SubmitQuizRequest struct {
	Answers []json.RawMessage `json:"answers" validate:"required"`
}

// QuizService manages quiz content and grades submissions.
type QuizService struct {
	modules     quizModuleStore
	questions   questionStore
	enrollments enrollmentFinder
	progress    attemptRecorder
	access      accessEvaluator
	invalidator progressInvalidator
	audit       auditWriter
	metrics     *MetricsService
	attemptCap  int
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// QuizServiceDeps groups the collaborators of QuizService.
type QuizServiceDeps struct {
	Modules     quizModuleStore
	Questions   questionStore
	Enrollments enrollmentFinder
	Progress    attemptRecorder
	Access      accessEvaluator
	Invalidator progressInvalidator
	Audit       auditWriter
	Metrics     *MetricsService
	AttemptCap  int
}

// NewQuizService constructs the service.
func NewQuizService(deps QuizServiceDeps, validate *validator.Validate, logger *zap.Logger) *QuizService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuizService{
		modules:     deps.Modules,
		questions:   deps.Questions,
		enrollments: deps.Enrollments,
		progress:    deps.Progress,
		access:      deps.Access,
		invalidator: deps.Invalidator,
		audit:       deps.Audit,
		metrics:     deps.Metrics,
		attemptCap:  deps.AttemptCap,
		validator:   defaultValidator(validate),
		logger:      logger,
		now:         time.Now,
	}
}

// GetQuiz returns the full quiz, answers included, for editors.
func (s *QuizService) GetQuiz(ctx context.Context, moduleID string) (*models.Quiz, error) {
	module, err := s.module(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	questions, err := s.loadQuestions(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	return &models.Quiz{ModuleID: module.ID, PassMark: module.EffectivePassMark(), Questions: questions}, nil
}

// StudentQuiz returns the quiz without correctness fields. The student must
// be actively enrolled; a final assessment must be granted.
func (s *QuizService) StudentQuiz(ctx context.Context, studentID, moduleID string) (*models.StudentQuiz, error) {
	module, err := s.module(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if err := requireActiveEnrollment(ctx, s.enrollments, studentID, module.CourseID); err != nil {
		return nil, err
	}
	if module.IsFinalAssessment {
		if _, err := s.requireSubmittable(ctx, studentID, module); err != nil {
			return nil, err
		}
	}
	questions, err := s.loadQuestions(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	out := &models.StudentQuiz{ModuleID: module.ID, PassMark: module.EffectivePassMark(), Questions: make([]models.StudentQuestion, 0, len(questions))}
	for _, q := range questions {
		out.Questions = append(out.Questions, models.StudentView(q))
	}
	return out, nil
}

// SetPassMark sets or clears the pass mark of a module.
func (s *QuizService) SetPassMark(ctx context.Context, meta AuditMeta, moduleID string, req SetPassMarkRequest) (*models.Module, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "pass mark must be between 0 and 100")
	}
	module, err := s.module(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if err := s.modules.SetPassMark(ctx, moduleID, req.PassMark); err != nil {
		return nil, storeError(err, "module not found", "failed to set pass mark")
	}
	old := module.PassMark
	module.PassMark = req.PassMark
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionQuizUpdate, "module", moduleID,
		map[string]interface{}{"pass_mark": old}, map[string]interface{}{"pass_mark": req.PassMark})
	return module, nil
}

// AddQuestion validates and appends a question, assigning a fresh id.
func (s *QuizService) AddQuestion(ctx context.Context, meta AuditMeta, moduleID string, payload json.RawMessage) (models.Question, error) {
	if _, err := s.module(ctx, moduleID); err != nil {
		return nil, err
	}
	q, err := decodeForSave(payload)
	if err != nil {
		return nil, err
	}
	q.Base().ID = uuid.NewString()
	row, err := toRow(moduleID, q)
	if err != nil {
		return nil, err
	}
	if err := s.questions.Append(ctx, &row); err != nil {
		return nil, appErrors.Transient(err, "failed to add question")
	}
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionQuizUpdate, "question", row.ID, nil, json.RawMessage(row.Payload))
	return q, nil
}

// UpdateQuestion replaces one question, keeping its id and position.
func (s *QuizService) UpdateQuestion(ctx context.Context, meta AuditMeta, moduleID, questionID string, payload json.RawMessage) (models.Question, error) {
	existing, err := s.questions.FindByID(ctx, questionID)
	if err != nil {
		return nil, storeError(err, "question not found", "failed to load question")
	}
	if existing.ModuleID != moduleID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "question not found")
	}
	q, err := decodeForSave(payload)
	if err != nil {
		return nil, err
	}
	q.Base().ID = questionID
	row, err := toRow(moduleID, q)
	if err != nil {
		return nil, err
	}
	if err := s.questions.Update(ctx, &row); err != nil {
		return nil, storeError(err, "question not found", "failed to update question")
	}
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionQuizUpdate, "question", questionID,
		json.RawMessage(existing.Payload), json.RawMessage(row.Payload))
	return q, nil
}

// RemoveQuestion deletes one question.
func (s *QuizService) RemoveQuestion(ctx context.Context, meta AuditMeta, moduleID, questionID string) error {
	if err := s.questions.Delete(ctx, moduleID, questionID); err != nil {
		return storeError(err, "question not found", "failed to remove question")
	}
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionQuizUpdate, "question", questionID, map[string]string{"module_id": moduleID}, nil)
	return nil
}

// ReplaceQuestions swaps the whole quiz. Questions that carry an id keep it;
// the others get a new one.
func (s *QuizService) ReplaceQuestions(ctx context.Context, meta AuditMeta, moduleID string, payload json.RawMessage) (models.QuestionList, error) {
	if _, err := s.module(ctx, moduleID); err != nil {
		return nil, err
	}
	var list models.QuestionList
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, validationError(err, "invalid quiz payload")
	}
	seen := make(map[string]struct{}, len(list))
	rows := make([]models.QuestionRow, 0, len(list))
	for _, q := range list {
		base := q.Base()
		if _, dup := seen[base.ID]; dup || !isUUID(base.ID) {
			base.ID = uuid.NewString()
		}
		seen[base.ID] = struct{}{}
		row, err := toRow(moduleID, q)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if err := s.questions.ReplaceAll(ctx, moduleID, rows); err != nil {
		return nil, appErrors.Transient(err, "failed to replace questions")
	}
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionQuizUpdate, "module", moduleID, nil,
		map[string]int{"questions": len(rows)})
	return list, nil
}

// Submit grades a submission and records the attempt. Best score wins, passed
// never reverts and attempts only increase. A failed final attempt that
// reaches the cap revokes authorisation until an administrator grants again.
func (s *QuizService) Submit(ctx context.Context, studentID, moduleID string, req SubmitQuizRequest) (*models.QuizResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid submission payload")
	}
	module, err := s.module(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if err := requireActiveEnrollment(ctx, s.enrollments, studentID, module.CourseID); err != nil {
		return nil, err
	}
	if module.IsFinalAssessment {
		if _, err := s.requireSubmittable(ctx, studentID, module); err != nil {
			return nil, err
		}
	}

	questions, err := s.loadQuestions(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	passMark := module.EffectivePassMark()
	graded, err := GradeQuiz(questions, req.Answers, passMark)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	exhausted := false
	key := models.ProgressKey{StudentID: studentID, ModuleID: moduleID}
	record, err := s.progress.RecordAttempt(ctx, key, module.CourseID, func(current *models.ProgressRecord) (models.AttemptRecord, error) {
		if module.IsFinalAssessment {
			if current.Passed {
				return models.AttemptRecord{}, appErrors.Clone(appErrors.ErrConflict, "final assessment already passed")
			}
			if !current.IsAuthorized {
				return models.AttemptRecord{}, appErrors.Clone(appErrors.ErrAssessmentLocked, "final assessment access has not been granted")
			}
			if s.attemptCap > 0 && current.Attempts >= s.attemptCap {
				return models.AttemptRecord{}, appErrors.Clone(appErrors.ErrAttemptsExhausted, "")
			}
		}
		current.Attempts++
		if graded.Score > current.Score {
			current.Score = graded.Score
		}
		current.CompletedAt = &now
		if graded.Passed {
			current.Passed = true
		}
		if current.Passed {
			current.Status = models.ProgressCompleted
		} else {
			current.Status = models.ProgressInProgress
		}
		if module.IsFinalAssessment && !current.Passed && s.attemptCap > 0 && current.Attempts >= s.attemptCap {
			current.IsAuthorized = false
			exhausted = true
		}
		return models.AttemptRecord{AttemptNumber: current.Attempts, Score: graded.Score, Passed: graded.Passed, CompletedAt: now}, nil
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Transient(err, "failed to record attempt")
	}

	s.metrics.RecordQuizSubmission(module.IsFinalAssessment, graded.Passed)
	if exhausted {
		s.metrics.RecordAccessEvent(accessEventExhausted)
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, studentID, module.CourseID)
	}

	result := &models.QuizResult{
		ModuleID:     moduleID,
		Correct:      graded.Correct,
		Total:        graded.Total,
		Score:        graded.Score,
		DisplayScore: graded.DisplayScore,
		PassMark:     passMark,
		Passed:       graded.Passed,
		Attempt:      record.Attempts,
		BestScore:    record.Score,
	}
	if module.IsFinalAssessment {
		switch {
		case record.Passed:
			result.Access = models.AccessPassed
		case exhausted:
			result.Access = models.AccessExhausted
		default:
			result.Access = models.AccessAttempted
		}
	}
	s.logger.Info("quiz submitted",
		zap.String("student_id", studentID),
		zap.String("module_id", moduleID),
		zap.Float64("score", graded.Score),
		zap.Bool("passed", graded.Passed),
		zap.Int("attempt", record.Attempts),
	)
	return result, nil
}

func (s *QuizService) requireSubmittable(ctx context.Context, studentID string, module *models.Module) (models.AccessState, error) {
	state, err := s.access.StateFor(ctx, studentID, module)
	if err != nil {
		return "", err
	}
	switch {
	case state.CanSubmit():
		return state, nil
	case state == models.AccessPassed:
		return state, appErrors.Clone(appErrors.ErrConflict, "final assessment already passed")
	case state == models.AccessExhausted:
		return state, appErrors.Clone(appErrors.ErrAttemptsExhausted, "")
	default:
		return state, appErrors.Clone(appErrors.ErrAssessmentLocked, "")
	}
}

func (s *QuizService) module(ctx context.Context, moduleID string) (*models.Module, error) {
	module, err := s.modules.FindByID(ctx, moduleID)
	if err != nil {
		return nil, storeError(err, "module not found", "failed to load module")
	}
	return module, nil
}

func (s *QuizService) loadQuestions(ctx context.Context, moduleID string) (models.QuestionList, error) {
	rows, err := s.questions.ListByModule(ctx, moduleID)
	if err != nil {
		return nil, appErrors.Transient(err, "failed to load questions")
	}
	out := make(models.QuestionList, 0, len(rows))
	for _, row := range rows {
		q, err := row.Question()
		if err != nil {
			s.logger.Error("stored question is invalid", zap.String("question_id", row.ID), zap.Error(err))
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stored quiz is invalid")
		}
		out = append(out, q)
	}
	return out, nil
}

func decodeForSave(payload json.RawMessage) (models.Question, error) {
	q, err := models.DecodeQuestion(payload)
	if err != nil {
		return nil, validationError(err, err.Error())
	}
	return q, nil
}

func toRow(moduleID string, q models.Question) (models.QuestionRow, error) {
	data, err := models.EncodeQuestion(q)
	if err != nil {
		return models.QuestionRow{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode question")
	}
	return models.QuestionRow{ID: q.Base().ID, ModuleID: moduleID, Type: q.Type(), Payload: data}, nil
}
