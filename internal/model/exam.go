package model

import (
	"time"

	"gorm.io/gorm"
)

type Exam struct {
	ID               uint           `gorm:"primarykey" json:"id"`
	Title            string         `json:"title" gorm:"not null"`
	Description      string         `json:"description,omitempty"`
	TopicID          uint           `json:"topic_id" gorm:"not null;index"`
	Topic            Topic          `json:"topic,omitempty" gorm:"foreignKey:TopicID"`
	Level            string         `json:"level,omitempty"`        // HL/SL or blank
	PaperNumber      *int           `json:"paper_number,omitempty"` // 1/2/3 or null
	DurationSeconds  int            `json:"duration_seconds" gorm:"default:3600"`
	TotalMarks       float64        `json:"total_marks" gorm:"default:0"`
	PassingMarks     float64        `json:"passing_marks" gorm:"default:40"`
	ShuffleQuestions bool           `json:"shuffle_questions" gorm:"default:true"`
	Visibility       string         `json:"visibility" gorm:"default:'PUBLIC'"`
	Instructions     string         `json:"instructions,omitempty"`
	CreatedBy        *uint          `json:"created_by,omitempty"`
	IsActive         bool           `json:"is_active" gorm:"default:true"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

// ExamQuestion pins a question into an exam with an explicit position.
// Exams without ExamQuestion rows draw all active questions of their topic.
type ExamQuestion struct {
	ID            uint     `gorm:"primarykey" json:"id"`
	ExamID        uint     `json:"exam_id" gorm:"not null;uniqueIndex:idx_exam_question"`
	QuestionID    uint     `json:"question_id" gorm:"not null;uniqueIndex:idx_exam_question"`
	Question      Question `json:"question,omitempty" gorm:"foreignKey:QuestionID"`
	Order         int      `json:"order" gorm:"default:0"`
	MarksOverride *float64 `json:"marks_override,omitempty"`
}
