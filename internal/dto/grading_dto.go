package dto

import (
	"encoding/json"
	"time"
)

// GradeResponseRequest carries a teacher's mark for one response.
// TeacherMark semantics: absent leaves the stored mark unchanged, explicit
// "" clears it back to ungraded, anything else must parse as a number in
// [0, question marks].
type GradeResponseRequest struct {
	TeacherMark *string `json:"teacher_mark,omitempty"`
	Remarks     *string `json:"remarks,omitempty"`
}

type GradeResponseResult struct {
	Status      string   `json:"status"`
	TeacherMark *float64 `json:"teacher_mark,omitempty"`
}

type FinalizeGradingResult struct {
	Status string `json:"status"`
	Rank   int    `json:"rank"`
}

type ResponseReviewDTO struct {
	ResponseID    uint            `json:"response_id"`
	QuestionID    uint            `json:"question_id"`
	Statement     string          `json:"statement"`
	Answer        json.RawMessage `json:"answer"`
	Correct       *bool           `json:"correct,omitempty"`
	TimeSpent     int             `json:"time_spent"`
	MarksObtained float64         `json:"marks_obtained"`
	TotalMarks    float64         `json:"total_marks"`
	TeacherMark   *float64        `json:"teacher_mark,omitempty"`
	Remarks       string          `json:"remarks,omitempty"`
}

type AttemptReviewDTO struct {
	AttemptID        uint                `json:"attempt_id"`
	Responses        []ResponseReviewDTO `json:"responses"`
	Score            float64             `json:"score"`
	Total            float64             `json:"total"`
	Percentage       float64             `json:"percentage"`
	ExamTitle        string              `json:"exam_title"`
	DurationSeconds  int                 `json:"duration_seconds"`
	GradingFinalized bool                `json:"grading_finalized"`
}

type UploadEvaluatedResult struct {
	Status string `json:"status"`
	Path   string `json:"path"`
}

type ExamAnalyticsRowDTO struct {
	ExamID             uint       `json:"exam_id"`
	ExamTitle          string     `json:"exam_title"`
	AttemptsTotal      int        `json:"attempts_total"`
	AttemptsSubmitted  int        `json:"attempts_submitted"`
	AttemptsInProgress int        `json:"attempts_inprogress"`
	AttemptsTimedOut   int        `json:"attempts_timedout"`
	UniqueStudents     int        `json:"unique_students"`
	LastAttemptAt      *time.Time `json:"last_attempt_at,omitempty"`
	AvgPercentage      float64    `json:"avg_percentage"`
}
