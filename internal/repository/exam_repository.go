package repository

import (
	"github.com/mentara/examengine/internal/model"
	"gorm.io/gorm"
)

// ExamRepository is the read side of the exam catalog. Exam CRUD belongs to
// the external catalog service; the engine only consumes it.
type ExamRepository interface {
	FindActiveByID(id uint) (*model.Exam, error)
	// QuestionIDs returns the exam's pinned question ids in catalog order,
	// or an empty slice when the exam has no pinned set.
	QuestionIDs(examID uint) ([]uint, error)
	// MarksOverrides returns the exam's per-question mark overrides keyed
	// by question id. Questions without an override are absent.
	MarksOverrides(examID uint) (map[uint]float64, error)
}

type examRepository struct {
	db *gorm.DB
}

func NewExamRepository(db *gorm.DB) ExamRepository {
	return &examRepository{db: db}
}

func (r *examRepository) FindActiveByID(id uint) (*model.Exam, error) {
	var exam model.Exam
	err := r.db.
		Preload("Topic").
		Preload("Topic.Curriculum").
		Where("is_active = ?", true).
		First(&exam, id).Error
	if err != nil {
		return nil, err
	}
	return &exam, nil
}

func (r *examRepository) QuestionIDs(examID uint) ([]uint, error) {
	var eqs []model.ExamQuestion
	if err := r.db.Where("exam_id = ?", examID).Order(`"order" ASC`).Find(&eqs).Error; err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(eqs))
	for _, eq := range eqs {
		ids = append(ids, eq.QuestionID)
	}
	return ids, nil
}

func (r *examRepository) MarksOverrides(examID uint) (map[uint]float64, error) {
	var eqs []model.ExamQuestion
	err := r.db.
		Where("exam_id = ? AND marks_override IS NOT NULL", examID).
		Find(&eqs).Error
	if err != nil {
		return nil, err
	}
	overrides := make(map[uint]float64, len(eqs))
	for _, eq := range eqs {
		if eq.MarksOverride != nil {
			overrides[eq.QuestionID] = *eq.MarksOverride
		}
	}
	return overrides, nil
}
