package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mentara/examengine/internal/apperr"
	"github.com/mentara/examengine/internal/dto"
	"github.com/mentara/examengine/internal/model"
)

// AnswerPayload is the canonical stored answer shape: Answers for choice
// types, Answer for fill-in-blank and structured questions.
type AnswerPayload struct {
	Answers []interface{} `json:"answers,omitempty"`
	Answer  interface{}   `json:"answer,omitempty"`
}

func (p AnswerPayload) Encode() (json.RawMessage, error) {
	return json.Marshal(p)
}

// NormalizePayload coerces either client shape into the canonical payload:
// an explicit answer_payload object is taken as-is, the flatter
// {answer, time_spent, flagged} shape is wrapped per question type.
func NormalizePayload(q *model.Question, r dto.SubmittedResponseDTO) (AnswerPayload, error) {
	if len(r.AnswerPayload) > 0 && string(r.AnswerPayload) != "null" {
		var p AnswerPayload
		if err := json.Unmarshal(r.AnswerPayload, &p); err != nil {
			return AnswerPayload{}, apperr.Validation("malformed answer_payload for question %d", q.ID)
		}
		return p, nil
	}

	switch q.Type {
	case model.QuestionMCQ, model.QuestionMulti:
		if r.Answer == nil {
			return AnswerPayload{Answers: []interface{}{}}, nil
		}
		if list, ok := r.Answer.([]interface{}); ok {
			return AnswerPayload{Answers: list}, nil
		}
		return AnswerPayload{Answers: []interface{}{r.Answer}}, nil
	default:
		return AnswerPayload{Answer: r.Answer}, nil
	}
}

// Grade auto-grades one payload against a question. It is pure: no clock,
// no storage. The result is nil for structured questions, which only carry
// a correctness verdict once a teacher marks them.
func Grade(q *model.Question, p AnswerPayload) *bool {
	switch q.Type {
	case model.QuestionMCQ, model.QuestionMulti:
		correct := setEqual(tokenSet(p.Answers), normalizedKeySet(q.CorrectAnswerList(), false))
		return &correct
	case model.QuestionFIB:
		submitted := strings.ToLower(strings.TrimSpace(token(p.Answer)))
		key := normalizedKeySet(q.CorrectAnswerList(), true)
		_, ok := key[submitted]
		return &ok
	default:
		return nil
	}
}

// token renders any submitted scalar as a comparable string.
func token(v interface{}) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; render integers without a dot.
		if t == math.Trunc(t) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func tokenSet(values []interface{}) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.TrimSpace(token(v))] = struct{}{}
	}
	return set
}

func normalizedKeySet(keys []string, fold bool) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if fold {
			k = strings.ToLower(k)
		}
		set[k] = struct{}{}
	}
	return set
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// round2 implements the two-decimal percentage rounding used everywhere a
// percentage is stored or reported.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// questionMarks is what a question is worth within an exam: the exam's
// per-question override when one is set, else the question's own marks.
func questionMarks(q *model.Question, overrides map[uint]float64) float64 {
	if m, ok := overrides[q.ID]; ok {
		return m
	}
	return q.Marks
}
