package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	AttemptInProgress = "inprogress"
	AttemptSubmitted  = "submitted"
	AttemptTimedOut   = "timedout"
)

// Attempt is the central mutable entity of the engine. One in-progress
// attempt per (user, exam) is an invariant enforced under a row lock by the
// attempt service; status only moves forward from inprogress to a terminal
// state and never reverts.
type Attempt struct {
	ID              uint       `gorm:"primarykey" json:"id"`
	UserID          uint       `json:"user_id" gorm:"not null;index:idx_attempts_user_exam"`
	ExamID          uint       `json:"exam_id" gorm:"not null;index:idx_attempts_user_exam"`
	Exam            Exam       `json:"exam,omitempty" gorm:"foreignKey:ExamID"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds" gorm:"default:0"`
	Status          string     `json:"status" gorm:"default:'inprogress';index"`
	TotalScore      float64    `json:"total_score" gorm:"default:0"`
	Percentage      float64    `json:"percentage" gorm:"default:0"`
	Rank            *int       `json:"rank,omitempty"`
	Percentile      *float64   `json:"percentile,omitempty"`
	// Metadata is the structured side-channel: question order, exam
	// snapshot, flags, remarks, finalize audit. See AttemptMeta.
	Metadata  datatypes.JSON `json:"metadata,omitempty"`
	Responses []Response     `json:"responses,omitempty" gorm:"foreignKey:AttemptID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// AttemptMeta is the versioned schema of the metadata column. Keeping it a
// single explicit struct (rather than an open map) preserves forward
// compatibility without losing type safety.
type AttemptMeta struct {
	Version int `json:"version"`
	// QuestionOrder is frozen at first Start and reused verbatim on resume.
	QuestionOrder []uint `json:"question_order,omitempty"`
	// Snapshot captures catalog labels at Start so historical attempts
	// display correctly even after catalog edits.
	Snapshot *ExamSnapshot `json:"exam_snapshot,omitempty"`
	// Flagged and TeacherRemarks are keyed by question id in decimal string
	// form (JSON object keys must be strings).
	Flagged        map[string]bool   `json:"flagged,omitempty"`
	TeacherRemarks map[string]string `json:"teacher_remarks,omitempty"`
	Finalized      *FinalizeAudit    `json:"grading_finalized,omitempty"`
	EvaluatedPDF   string            `json:"evaluated_pdf,omitempty"`
}

const attemptMetaVersion = 1

type ExamSnapshot struct {
	Title       string `json:"title"`
	Level       string `json:"level,omitempty"`
	PaperNumber *int   `json:"paper_number,omitempty"`
	Topic       string `json:"topic,omitempty"`
	Curriculum  string `json:"curriculum,omitempty"`
}

type FinalizeAudit struct {
	GraderID    uint      `json:"grader_id"`
	FinalizedAt time.Time `json:"finalized_at"`
}

// Meta decodes the metadata column. A missing or corrupt column decodes to
// an empty value so callers can always mutate and re-save.
func (a *Attempt) Meta() AttemptMeta {
	var m AttemptMeta
	if len(a.Metadata) > 0 {
		_ = json.Unmarshal(a.Metadata, &m)
	}
	if m.Version == 0 {
		m.Version = attemptMetaVersion
	}
	return m
}

// SetMeta re-encodes the metadata column.
func (a *Attempt) SetMeta(m AttemptMeta) error {
	if m.Version == 0 {
		m.Version = attemptMetaVersion
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	a.Metadata = datatypes.JSON(raw)
	return nil
}

// Completed reports whether the attempt reached a terminal state. Both
// submitted and timed-out count as completed for ranking and analytics.
func (a *Attempt) Completed() bool {
	return a.Status == AttemptSubmitted || a.Status == AttemptTimedOut
}

// ExpiresAt is the authoritative deadline: stored start plus exam duration.
func (a *Attempt) ExpiresAt(durationSeconds int) time.Time {
	return a.StartedAt.Add(time.Duration(durationSeconds) * time.Second)
}
