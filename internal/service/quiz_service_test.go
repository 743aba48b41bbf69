package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

func TestSubmitKeepsBestScoreAndPassedFlag(t *testing.T) {
	ctx := context.Background()
	s := beanToBrew(t, 0)

	first, err := s.quiz.Submit(ctx, barista, beanModule1, answers(true))
	require.NoError(t, err)
	assert.True(t, first.Passed)

	second, err := s.quiz.Submit(ctx, barista, beanModule1, answers(false))
	require.NoError(t, err)
	assert.False(t, second.Passed)
	assert.Equal(t, 0.0, second.Score)
	assert.Equal(t, 100.0, second.BestScore)
	assert.Equal(t, 2, second.Attempt)
	assert.Empty(t, second.Access, "regular modules have no access state")

	record, _ := s.world.record(barista, beanModule1)
	assert.True(t, record.Passed)
	assert.Equal(t, models.ProgressCompleted, record.Status)
	assert.Len(t, s.world.history[record.Key()], 2)
}

func TestSubmitRejectsMalformedSubmissions(t *testing.T) {
	ctx := context.Background()
	s := beanToBrew(t, 0)

	_, err := s.quiz.Submit(ctx, barista, beanModule1, SubmitQuizRequest{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = s.quiz.Submit(ctx, barista, beanModule1, answers(true, false))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	s.world.setQuestions(beanModule2)
	_, err = s.quiz.Submit(ctx, barista, beanModule2, answers(1))
	assert.ErrorIs(t, err, appErrors.ErrValidation, "a module without questions cannot be graded")

	_, err = s.quiz.Submit(ctx, barista, "missing", answers(true))
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, ok := s.world.record(barista, beanModule1)
	assert.False(t, ok, "rejected submissions record nothing")
}

func TestSubmitUsesFullMarksWithoutPassMark(t *testing.T) {
	ctx := context.Background()
	s := beanToBrew(t, 0)
	s.world.setQuestions(beanModule1,
		&models.TrueFalse{QuestionBase: models.QuestionBase{Prompt: "a"}, CorrectAnswer: true},
		&models.TrueFalse{QuestionBase: models.QuestionBase{Prompt: "b"}, CorrectAnswer: false},
	)
	_, err := s.quiz.SetPassMark(ctx, adminMeta, beanModule1, SetPassMarkRequest{})
	require.NoError(t, err)

	result, err := s.quiz.Submit(ctx, barista, beanModule1, answers(true, true))
	require.NoError(t, err)
	assert.Equal(t, 100.0, result.PassMark)
	assert.False(t, result.Passed)
}

func TestStudentQuizHidesAnswers(t *testing.T) {
	ctx := context.Background()
	s := beanToBrew(t, 0)

	quiz, err := s.quiz.StudentQuiz(ctx, barista, beanModule2)
	require.NoError(t, err)
	require.Len(t, quiz.Questions, 1)
	assert.Len(t, quiz.Questions[0].Options, 4)

	data, err := json.Marshal(quiz)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "correct_option")

	_, err = s.quiz.StudentQuiz(ctx, barista, beanFinal)
	assert.ErrorIs(t, err, appErrors.ErrAssessmentLocked)
}

func TestSetPassMarkValidatesRange(t *testing.T) {
	ctx := context.Background()
	s := beanToBrew(t, 0)

	_, err := s.quiz.SetPassMark(ctx, adminMeta, beanModule1, SetPassMarkRequest{PassMark: mark(101)})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	module, err := s.quiz.SetPassMark(ctx, adminMeta, beanModule1, SetPassMarkRequest{PassMark: mark(65)})
	require.NoError(t, err)
	assert.Equal(t, 65.0, *module.PassMark)
	assert.Equal(t, 65.0, *s.world.modules[beanModule1].PassMark)
	require.Len(t, s.world.audits, 1)
	assert.Equal(t, models.AuditActionQuizUpdate, s.world.audits[0].Action)
}

func TestQuestionAuthoring(t *testing.T) {
	ctx := context.Background()
	s := beanToBrew(t, 0)

	added, err := s.quiz.AddQuestion(ctx, adminMeta, beanModule1,
		json.RawMessage(`{"type":"fill_in","prompt":"Origin of Geisha","correct_answer":"Panama"}`))
	require.NoError(t, err)
	assert.True(t, isUUID(added.Base().ID))

	quiz, err := s.quiz.GetQuiz(ctx, beanModule1)
	require.NoError(t, err)
	require.Len(t, quiz.Questions, 2)
	assert.Equal(t, "Panama", quiz.Questions[1].(*models.FillIn).CorrectAnswer)

	_, err = s.quiz.AddQuestion(ctx, adminMeta, beanModule1, json.RawMessage(`{"type":"essay","prompt":"x"}`))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	updated, err := s.quiz.UpdateQuestion(ctx, adminMeta, beanModule1, added.Base().ID,
		json.RawMessage(`{"type":"fill_in","prompt":"Origin of Geisha","correct_answer":"Ethiopia"}`))
	require.NoError(t, err)
	assert.Equal(t, added.Base().ID, updated.Base().ID)

	_, err = s.quiz.UpdateQuestion(ctx, adminMeta, beanModule2, added.Base().ID,
		json.RawMessage(`{"type":"true_false","prompt":"x","correct_answer":true}`))
	assert.ErrorIs(t, err, appErrors.ErrNotFound, "question belongs to another module")

	require.NoError(t, s.quiz.RemoveQuestion(ctx, adminMeta, beanModule1, added.Base().ID))
	err = s.quiz.RemoveQuestion(ctx, adminMeta, beanModule1, added.Base().ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestReplaceQuestionsAssignsIDs(t *testing.T) {
	ctx := context.Background()
	s := beanToBrew(t, 0)
	keep := "6f1c2b7e-3a7d-4a43-9c57-0d3f8f0f4b21"

	payload := json.RawMessage(`[
		{"id":"` + keep + `","type":"true_false","prompt":"a","correct_answer":true},
		{"id":"` + keep + `","type":"true_false","prompt":"b","correct_answer":false},
		{"id":"q-3","type":"matching","prompt":"c","pairs":[{"key":"k","value":"v"}]}
	]`)
	list, err := s.quiz.ReplaceQuestions(ctx, adminMeta, beanModule1, payload)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, keep, list[0].Base().ID)
	assert.NotEqual(t, keep, list[1].Base().ID)
	assert.True(t, isUUID(list[2].Base().ID))
	assert.Len(t, s.world.questions[beanModule1], 3)

	_, err = s.quiz.ReplaceQuestions(ctx, adminMeta, beanModule1, json.RawMessage(`[{"type":"true_false","prompt":"a"}]`))
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Len(t, s.world.questions[beanModule1], 3, "invalid payload leaves the quiz untouched")
}
