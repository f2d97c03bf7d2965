package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	QuestionMCQ    = "MCQ"    // single choice
	QuestionMulti  = "MULTI"  // multi select
	QuestionFIB    = "FIB"    // fill in blank
	QuestionStruct = "STRUCT" // structured / free response, teacher graded
)

type Question struct {
	ID        uint   `gorm:"primarykey" json:"id"`
	TopicID   uint   `json:"topic_id" gorm:"not null;index:idx_questions_topic_active"`
	Topic     Topic  `json:"topic,omitempty" gorm:"foreignKey:TopicID"`
	Type      string `json:"type" gorm:"not null"`
	Statement string `json:"statement" gorm:"type:text;not null"`
	// Choices is a letter->label map for choice types, e.g. {"A":"9.8","B":"10"}.
	Choices datatypes.JSON `json:"choices,omitempty"`
	// CorrectAnswers is a JSON list; its meaning depends on Type. Never
	// serialized to clients.
	CorrectAnswers datatypes.JSON `json:"-"`
	Difficulty     string         `json:"difficulty,omitempty"`
	Marks          float64        `json:"marks" gorm:"default:1"`
	EstimatedTime  int            `json:"estimated_time" gorm:"default:60"` // seconds
	Tags           datatypes.JSON `json:"tags,omitempty"`
	ImageURL       *string        `json:"image_url,omitempty"`
	IsActive       bool           `json:"is_active" gorm:"default:true;index:idx_questions_topic_active"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// AutoGradable reports whether the scoring engine can grade this question
// without a teacher.
func (q *Question) AutoGradable() bool {
	return q.Type != QuestionStruct
}

// CorrectAnswerList decodes the stored answer key. An empty or absent key
// decodes to an empty list, never an error.
func (q *Question) CorrectAnswerList() []string {
	if len(q.CorrectAnswers) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(q.CorrectAnswers, &out); err != nil {
		// Tolerate a scalar key written by older tooling.
		var single string
		if err2 := json.Unmarshal(q.CorrectAnswers, &single); err2 == nil && single != "" {
			return []string{single}
		}
		return nil
	}
	return out
}

// ChoiceMap decodes the stored choice set for choice-type questions.
func (q *Question) ChoiceMap() map[string]string {
	out := map[string]string{}
	if len(q.Choices) == 0 {
		return out
	}
	_ = json.Unmarshal(q.Choices, &out)
	return out
}
