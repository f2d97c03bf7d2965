package repository

import (
	"github.com/mentara/examengine/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ResponseRepository interface {
	// Upsert writes a response keyed by (attempt, question), overwriting
	// payload, correctness, time spent and flag on conflict. Runs in tx so
	// the submission processor can batch it with the attempt transition.
	Upsert(tx *gorm.DB, response *model.Response) error
	FindByAttempt(attemptID uint) ([]model.Response, error)
	// FindByAttemptTx reads through tx so uncommitted upserts from the same
	// transaction are visible.
	FindByAttemptTx(tx *gorm.DB, attemptID uint) ([]model.Response, error)
	FindByIDWithQuestion(id uint) (*model.Response, error)
	CountUngradedStructured(attemptID uint) (int64, error)
	// UngradedStructuredAttemptIDs returns ids of attempts that still have
	// a structured response without a teacher mark; a nil examID spans all
	// exams.
	UngradedStructuredAttemptIDs(examID *uint) (map[uint]struct{}, error)
	Save(response *model.Response) error
}

type responseRepository struct {
	db *gorm.DB
}

func NewResponseRepository(db *gorm.DB) ResponseRepository {
	return &responseRepository{db: db}
}

func (r *responseRepository) Upsert(tx *gorm.DB, response *model.Response) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "attempt_id"}, {Name: "question_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"answer_payload", "correct", "time_spent_seconds", "flagged_for_review", "updated_at",
		}),
	}).Create(response).Error
}

func (r *responseRepository) FindByAttempt(attemptID uint) ([]model.Response, error) {
	var responses []model.Response
	err := r.db.
		Preload("Question").
		Where("attempt_id = ?", attemptID).
		Order("id ASC").
		Find(&responses).Error
	return responses, err
}

func (r *responseRepository) FindByAttemptTx(tx *gorm.DB, attemptID uint) ([]model.Response, error) {
	var responses []model.Response
	err := tx.
		Preload("Question").
		Where("attempt_id = ?", attemptID).
		Order("id ASC").
		Find(&responses).Error
	return responses, err
}

func (r *responseRepository) FindByIDWithQuestion(id uint) (*model.Response, error) {
	var response model.Response
	if err := r.db.Preload("Question").First(&response, id).Error; err != nil {
		return nil, err
	}
	return &response, nil
}

func (r *responseRepository) CountUngradedStructured(attemptID uint) (int64, error) {
	var count int64
	err := r.db.Model(&model.Response{}).
		Joins("JOIN questions ON questions.id = responses.question_id").
		Where("responses.attempt_id = ? AND questions.type = ? AND responses.teacher_mark IS NULL",
			attemptID, model.QuestionStruct).
		Count(&count).Error
	return count, err
}

func (r *responseRepository) UngradedStructuredAttemptIDs(examID *uint) (map[uint]struct{}, error) {
	query := r.db.Model(&model.Response{}).
		Distinct("responses.attempt_id").
		Joins("JOIN questions ON questions.id = responses.question_id").
		Where("questions.type = ? AND responses.teacher_mark IS NULL", model.QuestionStruct)
	if examID != nil {
		query = query.
			Joins("JOIN attempts ON attempts.id = responses.attempt_id").
			Where("attempts.exam_id = ?", *examID)
	}

	var ids []uint
	if err := query.Pluck("responses.attempt_id", &ids).Error; err != nil {
		return nil, err
	}
	set := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func (r *responseRepository) Save(response *model.Response) error {
	return r.db.Save(response).Error
}
