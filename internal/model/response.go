package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Response is one answer per (attempt, question), upserted idempotently by
// the submission processor. Correct is nil for structured questions, which
// only a teacher can grade.
type Response struct {
	ID         uint     `gorm:"primarykey" json:"id"`
	AttemptID  uint     `json:"attempt_id" gorm:"not null;uniqueIndex:idx_responses_attempt_question"`
	QuestionID uint     `json:"question_id" gorm:"not null;uniqueIndex:idx_responses_attempt_question"`
	Question   Question `json:"question,omitempty" gorm:"foreignKey:QuestionID"`
	// AnswerPayload shape depends on the question type:
	// {"answers":[...]} for MCQ/MULTI, {"answer":...} for FIB/STRUCT.
	AnswerPayload    datatypes.JSON `json:"answer_payload"`
	Correct          *bool          `json:"correct,omitempty"`
	TimeSpentSeconds int            `json:"time_spent_seconds" gorm:"default:0"`
	TeacherMark      *float64       `json:"teacher_mark,omitempty"`
	TeacherFeedback  string         `json:"teacher_feedback,omitempty" gorm:"type:text"`
	FlaggedForReview bool           `json:"flagged_for_review" gorm:"default:false"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

// MarksObtained applies the teacher-mark override: a stored teacher mark
// wins, else full question marks when auto-graded correct, else zero.
func (r *Response) MarksObtained(questionMarks float64) float64 {
	if r.TeacherMark != nil {
		return *r.TeacherMark
	}
	if r.Correct != nil && *r.Correct {
		return questionMarks
	}
	return 0
}
