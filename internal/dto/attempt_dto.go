package dto

import (
	"encoding/json"
	"time"
)

// QuestionViewDTO is the learner-facing question projection. The correct
// answer set is never included.
type QuestionViewDTO struct {
	ID        uint              `json:"id"`
	Type      string            `json:"type"` // mcq/multi/fib/structured
	Statement string            `json:"statement"`
	Choices   map[string]string `json:"choices"`
	TimeEst   int               `json:"time_est"`
	Marks     float64           `json:"marks"`
	Image     *string           `json:"image,omitempty"`
}

type StartExamRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

type StartExamResponse struct {
	AttemptID uint              `json:"attempt_id"`
	ExpiresAt time.Time         `json:"expires_at"`
	Questions []QuestionViewDTO `json:"questions"`
}

// SubmittedResponseDTO accepts both the canonical payload shape and the
// flatter autosave shape; the submission processor normalizes them.
type SubmittedResponseDTO struct {
	QuestionID    uint            `json:"question_id" binding:"required"`
	AnswerPayload json.RawMessage `json:"answer_payload,omitempty"`
	// Flat shape fields.
	Answer           interface{} `json:"answer,omitempty"`
	TimeSpentSeconds *int        `json:"time_spent_seconds,omitempty"`
	TimeSpent        *int        `json:"time_spent,omitempty"`
	FlaggedForReview *bool       `json:"flagged_for_review,omitempty"`
	Flagged          *bool       `json:"flagged,omitempty"`
}

type SubmitExamRequest struct {
	AttemptID uint                   `json:"attempt_id" binding:"required"`
	UserID    uint                   `json:"user_id" binding:"required"`
	Responses []SubmittedResponseDTO `json:"responses"`
}

type SubmitExamResponse struct {
	AttemptID  uint    `json:"attempt_id"`
	Score      float64 `json:"score"`
	Total      float64 `json:"total"`
	Percentage float64 `json:"percentage"`
	Status     string  `json:"status"`
	Rank       *int    `json:"rank,omitempty"`
}

type SaveDraftRequest struct {
	UserID     uint        `json:"user_id" binding:"required"`
	QuestionID uint        `json:"question_id" binding:"required"`
	Answer     interface{} `json:"answer"`
	TimeSpent  int         `json:"time_spent"`
	Flagged    bool        `json:"flagged"`
}

// ResumeAttemptResponse restores client state after a refresh. Maps are
// keyed by question id in decimal string form.
type ResumeAttemptResponse struct {
	AttemptID uint                       `json:"attempt_id"`
	Answers   map[string]json.RawMessage `json:"answers"`
	Times     map[string]int             `json:"times"`
	Flagged   map[string]bool            `json:"flagged"`
}

type AttemptSummaryDTO struct {
	ID              uint       `json:"id"`
	ExamID          uint       `json:"exam_id"`
	ExamTitle       string     `json:"exam_title"`
	Status          string     `json:"status"`
	Score           float64    `json:"score"`
	Percentage      float64    `json:"percentage"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
}
