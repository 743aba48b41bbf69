package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

// GradeResult is the outcome of grading one submission.
type GradeResult struct {
	Correct      int
	Total        int
	Score        float64
	DisplayScore int
	Passed       bool
	PerQuestion  []bool
}

// GradeQuiz grades answers positionally against questions. The raw score is
// 100*correct/total; DisplayScore is that value rounded and the pass decision
// uses the raw score, inclusive of passMark. An answer of the wrong JSON type
// counts as incorrect rather than failing the submission.
func GradeQuiz(questions []models.Question, answers []json.RawMessage, passMark float64) (GradeResult, error) {
	if len(questions) == 0 {
		return GradeResult{}, appErrors.Clone(appErrors.ErrValidation, "quiz has no questions")
	}
	if len(answers) != len(questions) {
		return GradeResult{}, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("expected %d answers, got %d", len(questions), len(answers)))
	}

	result := GradeResult{Total: len(questions), PerQuestion: make([]bool, len(questions))}
	for i, q := range questions {
		ok := gradeAnswer(q, answers[i])
		result.PerQuestion[i] = ok
		if ok {
			result.Correct++
		}
	}
	result.Score = 100 * float64(result.Correct) / float64(result.Total)
	result.DisplayScore = int(math.Round(result.Score))
	result.Passed = result.Score >= passMark
	return result, nil
}

func gradeAnswer(q models.Question, answer json.RawMessage) bool {
	switch v := q.(type) {
	case *models.MultipleChoice:
		var choice int
		return json.Unmarshal(answer, &choice) == nil && choice == v.CorrectOption
	case *models.TrueFalse:
		var value bool
		return json.Unmarshal(answer, &value) == nil && value == v.CorrectAnswer
	case *models.FillIn:
		var text string
		if json.Unmarshal(answer, &text) != nil {
			return false
		}
		return strings.EqualFold(strings.TrimSpace(text), strings.TrimSpace(v.CorrectAnswer))
	case *models.Matching:
		submitted, ok := decodeMatching(answer)
		if !ok || len(submitted) != len(v.Pairs) {
			return false
		}
		for _, pair := range v.Pairs {
			if got, found := submitted[pair.Key]; !found || got != pair.Value {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// decodeMatching accepts {"key":"value"} or [{"key":..,"value":..}]. A list
// that assigns one key twice is rejected.
func decodeMatching(answer json.RawMessage) (map[string]string, bool) {
	var asMap map[string]string
	if err := json.Unmarshal(answer, &asMap); err == nil && asMap != nil {
		return asMap, true
	}
	var asList []models.MatchPair
	if err := json.Unmarshal(answer, &asList); err != nil {
		return nil, false
	}
	out := make(map[string]string, len(asList))
	for _, p := range asList {
		if _, dup := out[p.Key]; dup {
			return nil, false
		}
		out[p.Key] = p.Value
	}
	return out, true
}
