package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// QuestionType is the discriminant of the Question union.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionFillIn         QuestionType = "fill_in"
	QuestionMatching       QuestionType = "matching"
)

// MultipleChoiceOptions is the fixed option count of a multiple choice question.
const MultipleChoiceOptions = 4

// ErrInvalidQuestion is wrapped by every question decoding or validation failure.
var ErrInvalidQuestion = errors.New("invalid question")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuestion, fmt.Sprintf(format, args...))
}

// Question is one of MultipleChoice, TrueFalse, FillIn or Matching.
type Question interface {
	Base() *QuestionBase
	Type() QuestionType
	Validate() error
	sealed()
}

// QuestionBase holds the fields shared by every variant. Duration is in seconds.
type QuestionBase struct {
	ID       string `json:"id"`
	Prompt   string `json:"prompt"`
	Duration int    `json:"duration"`
}

// Base returns the shared fields.
func (b *QuestionBase) Base() *QuestionBase { return b }

func (b *QuestionBase) validate() error {
	if strings.TrimSpace(b.Prompt) == "" {
		return invalidf("prompt is required")
	}
	if b.Duration < 0 {
		return invalidf("duration must not be negative")
	}
	return nil
}

// MultipleChoice has exactly four options and one correct index.
type MultipleChoice struct {
	QuestionBase
	Options       []string
	CorrectOption int
}

// TrueFalse is answered with a boolean.
type TrueFalse struct {
	QuestionBase
	CorrectAnswer bool
}

// FillIn is answered with free text compared case-insensitively after trimming.
type FillIn struct {
	QuestionBase
	CorrectAnswer string
}

// MatchPair is one key/value association of a matching question.
type MatchPair struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Matching is answered by reproducing every pair.
type Matching struct {
	QuestionBase
	Pairs []MatchPair
}

func (*MultipleChoice) Type() QuestionType { return QuestionMultipleChoice }
func (*TrueFalse) Type() QuestionType      { return QuestionTrueFalse }
func (*FillIn) Type() QuestionType         { return QuestionFillIn }
func (*Matching) Type() QuestionType       { return QuestionMatching }

func (*MultipleChoice) sealed() {}
func (*TrueFalse) sealed()      {}
func (*FillIn) sealed()         {}
func (*Matching) sealed()       {}

// Validate checks option count and the correct index.
func (q *MultipleChoice) Validate() error {
	if err := q.validate(); err != nil {
		return err
	}
	if len(q.Options) != MultipleChoiceOptions {
		return invalidf("multiple_choice needs exactly %d options, got %d", MultipleChoiceOptions, len(q.Options))
	}
	for i, opt := range q.Options {
		if strings.TrimSpace(opt) == "" {
			return invalidf("option %d is empty", i)
		}
	}
	if q.CorrectOption < 0 || q.CorrectOption >= len(q.Options) {
		return invalidf("correct_option %d out of range", q.CorrectOption)
	}
	return nil
}

// Validate checks the shared fields. The correct answer is enforced at decode time.
func (q *TrueFalse) Validate() error {
	return q.validate()
}

// Validate requires a non-blank answer.
func (q *FillIn) Validate() error {
	if err := q.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(q.CorrectAnswer) == "" {
		return invalidf("fill_in correct_answer is required")
	}
	return nil
}

// Validate requires at least one pair and unique, non-empty keys.
func (q *Matching) Validate() error {
	if err := q.validate(); err != nil {
		return err
	}
	if len(q.Pairs) == 0 {
		return invalidf("matching needs at least one pair")
	}
	seen := make(map[string]struct{}, len(q.Pairs))
	for _, p := range q.Pairs {
		key := strings.TrimSpace(p.Key)
		if key == "" || strings.TrimSpace(p.Value) == "" {
			return invalidf("matching pairs need a key and a value")
		}
		if _, dup := seen[key]; dup {
			return invalidf("duplicate matching key %q", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// questionWire is the JSON shape shared by the API and the payload column.
type questionWire struct {
	ID            string          `json:"id,omitempty"`
	Type          QuestionType    `json:"type"`
	Prompt        string          `json:"prompt"`
	Duration      int             `json:"duration"`
	Options       []string        `json:"options,omitempty"`
	CorrectOption *int            `json:"correct_option,omitempty"`
	CorrectAnswer json.RawMessage `json:"correct_answer,omitempty"`
	Pairs         []MatchPair     `json:"pairs,omitempty"`
}

// DecodeQuestion parses one question. It rejects unknown types, a missing
// correctness field for the declared type and fields that belong to another
// variant. The returned question is also validated.
func DecodeQuestion(data []byte) (Question, error) {
	var w questionWire
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return nil, invalidf("%v", err)
	}
	q, err := w.toQuestion()
	if err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

func (w questionWire) toQuestion() (Question, error) {
	base := QuestionBase{ID: w.ID, Prompt: w.Prompt, Duration: w.Duration}
	hasAnswer := len(w.CorrectAnswer) > 0 && !bytes.Equal(w.CorrectAnswer, []byte("null"))

	switch w.Type {
	case QuestionMultipleChoice:
		if w.CorrectOption == nil {
			return nil, invalidf("multiple_choice requires correct_option")
		}
		if hasAnswer || len(w.Pairs) > 0 {
			return nil, invalidf("multiple_choice only accepts options and correct_option")
		}
		return &MultipleChoice{QuestionBase: base, Options: w.Options, CorrectOption: *w.CorrectOption}, nil
	case QuestionTrueFalse:
		if !hasAnswer {
			return nil, invalidf("true_false requires correct_answer")
		}
		if w.CorrectOption != nil || len(w.Options) > 0 || len(w.Pairs) > 0 {
			return nil, invalidf("true_false only accepts correct_answer")
		}
		var answer bool
		if err := json.Unmarshal(w.CorrectAnswer, &answer); err != nil {
			return nil, invalidf("true_false correct_answer must be a boolean")
		}
		return &TrueFalse{QuestionBase: base, CorrectAnswer: answer}, nil
	case QuestionFillIn:
		if !hasAnswer {
			return nil, invalidf("fill_in requires correct_answer")
		}
		if w.CorrectOption != nil || len(w.Options) > 0 || len(w.Pairs) > 0 {
			return nil, invalidf("fill_in only accepts correct_answer")
		}
		var answer string
		if err := json.Unmarshal(w.CorrectAnswer, &answer); err != nil {
			return nil, invalidf("fill_in correct_answer must be a string")
		}
		return &FillIn{QuestionBase: base, CorrectAnswer: answer}, nil
	case QuestionMatching:
		if w.CorrectOption != nil || len(w.Options) > 0 || hasAnswer {
			return nil, invalidf("matching only accepts pairs")
		}
		return &Matching{QuestionBase: base, Pairs: w.Pairs}, nil
	case "":
		return nil, invalidf("type is required")
	default:
		return nil, invalidf("unknown question type %q", w.Type)
	}
}

// EncodeQuestion renders q in the wire shape, answers included.
func EncodeQuestion(q Question) ([]byte, error) {
	b := q.Base()
	w := questionWire{ID: b.ID, Type: q.Type(), Prompt: b.Prompt, Duration: b.Duration}
	switch v := q.(type) {
	case *MultipleChoice:
		idx := v.CorrectOption
		w.Options = v.Options
		w.CorrectOption = &idx
	case *TrueFalse:
		w.CorrectAnswer, _ = json.Marshal(v.CorrectAnswer)
	case *FillIn:
		w.CorrectAnswer, _ = json.Marshal(v.CorrectAnswer)
	case *Matching:
		w.Pairs = v.Pairs
	default:
		return nil, fmt.Errorf("encode question: unsupported type %T", q)
	}
	return json.Marshal(w)
}

// QuestionList is an ordered quiz that round-trips through JSON.
type QuestionList []Question

// MarshalJSON encodes every question with its answer fields.
func (l QuestionList) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, len(l))
	for i, q := range l {
		data, err := EncodeQuestion(q)
		if err != nil {
			return nil, err
		}
		raw[i] = data
	}
	return json.Marshal(raw)
}

// UnmarshalJSON decodes and validates every question.
func (l *QuestionList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return invalidf("questions must be an array")
	}
	out := make(QuestionList, len(raw))
	for i, item := range raw {
		q, err := DecodeQuestion(item)
		if err != nil {
			return fmt.Errorf("question %d: %w", i, err)
		}
		out[i] = q
	}
	*l = out
	return nil
}

// QuestionRow is the persisted form of a question.
type QuestionRow struct {
	ID       string       `db:"id"`
	ModuleID string       `db:"module_id"`
	Position int          `db:"position"`
	Type     QuestionType `db:"type"`
	Payload  []byte       `db:"payload"`
}

// Question decodes the row payload, keeping the row id authoritative.
func (r QuestionRow) Question() (Question, error) {
	q, err := DecodeQuestion(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("question %s: %w", r.ID, err)
	}
	q.Base().ID = r.ID
	return q, nil
}

// Quiz is the assessment attached to a module.
type Quiz struct {
	ModuleID  string       `json:"module_id"`
	PassMark  float64      `json:"pass_mark"`
	Questions QuestionList `json:"questions"`
}

// StudentQuestion is a question with its answers removed. Matching keys and
// values are listed separately in sorted order so the pairing is not revealed.
type StudentQuestion struct {
	ID       string       `json:"id"`
	Type     QuestionType `json:"type"`
	Prompt   string       `json:"prompt"`
	Duration int          `json:"duration"`
	Options  []string     `json:"options,omitempty"`
	Keys     []string     `json:"keys,omitempty"`
	Values   []string     `json:"values,omitempty"`
}

// StudentView strips the correctness fields from q.
func StudentView(q Question) StudentQuestion {
	b := q.Base()
	out := StudentQuestion{ID: b.ID, Type: q.Type(), Prompt: b.Prompt, Duration: b.Duration}
	switch v := q.(type) {
	case *MultipleChoice:
		out.Options = append([]string(nil), v.Options...)
	case *Matching:
		for _, p := range v.Pairs {
			out.Keys = append(out.Keys, p.Key)
			out.Values = append(out.Values, p.Value)
		}
		sort.Strings(out.Keys)
		sort.Strings(out.Values)
	}
	return out
}

// StudentQuiz is the quiz as served to a student.
type StudentQuiz struct {
	ModuleID  string            `json:"module_id"`
	PassMark  float64           `json:"pass_mark"`
	Questions []StudentQuestion `json:"questions"`
}
