package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

const maxQuizPayload = 1 << 20

type quizService interface {
	GetQuiz(ctx context.Context, moduleID string) (*models.Quiz, error)
	StudentQuiz(ctx context.Context, studentID, moduleID string) (*models.StudentQuiz, error)
	SetPassMark(ctx context.Context, meta service.AuditMeta, moduleID string, req service.SetPassMarkRequest) (*models.Module, error)
	AddQuestion(ctx context.Context, meta service.AuditMeta, moduleID string, payload json.RawMessage) (models.Question, error)
	UpdateQuestion(ctx context.Context, meta service.AuditMeta, moduleID, questionID string, payload json.RawMessage) (models.Question, error)
	RemoveQuestion(ctx context.Context, meta service.AuditMeta, moduleID, questionID string) error
	ReplaceQuestions(ctx context.Context, meta service.AuditMeta, moduleID string, payload json.RawMessage) (models.QuestionList, error)
	Submit(ctx context.Context, studentID, moduleID string, req service.SubmitQuizRequest) (*models.QuizResult, error)
}

// QuizHandler exposes quiz authoring, delivery and grading.
type QuizHandler struct {
	service quizService
}

// NewQuizHandler constructs the handler.
func NewQuizHandler(svc quizService) *QuizHandler {
	return &QuizHandler{service: svc}
}

// Get godoc
// @Summary Full quiz with answers, for editors
// @Tags Quizzes
// @Produce json
// @Param moduleId path string true "Module ID"
// @Success 200 {object} response.Envelope
// @Router /modules/{moduleId}/quiz [get]
func (h *QuizHandler) Get(c *gin.Context) {
	moduleID, ok := pathID(c, "moduleId")
	if !ok {
		return
	}
	quiz, err := h.service.GetQuiz(c.Request.Context(), moduleID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, quiz)
}

// Take godoc
// @Summary Quiz for the signed-in student, answers removed
// @Tags Quizzes
// @Produce json
// @Param moduleId path string true "Module ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /me/modules/{moduleId}/quiz [get]
func (h *QuizHandler) Take(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	moduleID, ok := pathID(c, "moduleId")
	if !ok {
		return
	}
	quiz, err := h.service.StudentQuiz(c.Request.Context(), claims.UserID, moduleID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, quiz)
}

// SetPassMark godoc
// @Summary Set or clear the pass mark of a module
// @Tags Quizzes
// @Accept json
// @Produce json
// @Param moduleId path string true "Module ID"
// @Param payload body service.SetPassMarkRequest true "Pass mark"
// @Success 200 {object} response.Envelope
// @Router /modules/{moduleId}/quiz/pass-mark [put]
func (h *QuizHandler) SetPassMark(c *gin.Context) {
	moduleID, ok := pathID(c, "moduleId")
	if !ok {
		return
	}
	var req service.SetPassMarkRequest
	if !bindJSON(c, &req, "invalid pass mark payload") {
		return
	}
	module, err := h.service.SetPassMark(c.Request.Context(), auditMeta(c), moduleID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, module)
}

// AddQuestion godoc
// @Summary Append a question
// @Description The body is one question object tagged by its "type" field.
// @Tags Quizzes
// @Accept json
// @Produce json
// @Param moduleId path string true "Module ID"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /modules/{moduleId}/quiz/questions [post]
func (h *QuizHandler) AddQuestion(c *gin.Context) {
	moduleID, ok := pathID(c, "moduleId")
	if !ok {
		return
	}
	payload, ok := rawBody(c)
	if !ok {
		return
	}
	question, err := h.service.AddQuestion(c.Request.Context(), auditMeta(c), moduleID, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeQuestion(c, http.StatusCreated, question)
}

// UpdateQuestion godoc
// @Summary Replace one question, keeping its id
// @Tags Quizzes
// @Accept json
// @Produce json
// @Param moduleId path string true "Module ID"
// @Param questionId path string true "Question ID"
// @Success 200 {object} response.Envelope
// @Router /modules/{moduleId}/quiz/questions/{questionId} [put]
func (h *QuizHandler) UpdateQuestion(c *gin.Context) {
	moduleID, ok := pathID(c, "moduleId")
	if !ok {
		return
	}
	questionID, ok := pathID(c, "questionId")
	if !ok {
		return
	}
	payload, ok := rawBody(c)
	if !ok {
		return
	}
	question, err := h.service.UpdateQuestion(c.Request.Context(), auditMeta(c), moduleID, questionID, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeQuestion(c, http.StatusOK, question)
}

// RemoveQuestion godoc
// @Summary Delete one question
// @Tags Quizzes
// @Param moduleId path string true "Module ID"
// @Param questionId path string true "Question ID"
// @Success 204
// @Router /modules/{moduleId}/quiz/questions/{questionId} [delete]
func (h *QuizHandler) RemoveQuestion(c *gin.Context) {
	moduleID, ok := pathID(c, "moduleId")
	if !ok {
		return
	}
	questionID, ok := pathID(c, "questionId")
	if !ok {
		return
	}
	if err := h.service.RemoveQuestion(c.Request.Context(), auditMeta(c), moduleID, questionID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ReplaceQuestions godoc
// @Summary Replace the whole question list
// @Description The body is a JSON array of questions. Valid existing ids are kept.
// @Tags Quizzes
// @Accept json
// @Produce json
// @Param moduleId path string true "Module ID"
// @Success 200 {object} response.Envelope
// @Router /modules/{moduleId}/quiz/questions [put]
func (h *QuizHandler) ReplaceQuestions(c *gin.Context) {
	moduleID, ok := pathID(c, "moduleId")
	if !ok {
		return
	}
	payload, ok := rawBody(c)
	if !ok {
		return
	}
	questions, err := h.service.ReplaceQuestions(c.Request.Context(), auditMeta(c), moduleID, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, questions)
}

// Submit godoc
// @Summary Submit answers for grading
// @Description One answer per question in quiz order. Only the best score is kept.
// @Tags Quizzes
// @Accept json
// @Produce json
// @Param moduleId path string true "Module ID"
// @Param payload body service.SubmitQuizRequest true "Answers"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /me/modules/{moduleId}/quiz/submit [post]
func (h *QuizHandler) Submit(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	moduleID, ok := pathID(c, "moduleId")
	if !ok {
		return
	}
	var req service.SubmitQuizRequest
	if !bindJSON(c, &req, "invalid submission payload") {
		return
	}
	result, err := h.service.Submit(c.Request.Context(), claims.UserID, moduleID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

func rawBody(c *gin.Context) (json.RawMessage, bool) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxQuizPayload))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable body"))
		return nil, false
	}
	if len(data) == 0 || !json.Valid(data) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "body must be valid JSON"))
		return nil, false
	}
	return json.RawMessage(data), true
}

// writeQuestion encodes a single question through the tagged wire form.
func writeQuestion(c *gin.Context, status int, q models.Question) {
	data, err := models.EncodeQuestion(q)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode question"))
		return
	}
	response.JSON(c, status, json.RawMessage(data), nil)
}
