package repository

import (
	"errors"
	"time"

	"github.com/mentara/examengine/internal/model"
	"gorm.io/gorm"
)

// ExamAnalyticsRow is the per-exam aggregate scanned straight from SQL.
type ExamAnalyticsRow struct {
	ExamID             uint
	ExamTitle          string
	AttemptsTotal      int
	AttemptsSubmitted  int
	AttemptsInProgress int
	AttemptsTimedOut   int
	UniqueStudents     int
	LastAttemptAt      *time.Time
	AvgPercentage      *float64
}

type AttemptRepository interface {
	Create(attempt *model.Attempt) error
	Save(attempt *model.Attempt) error
	FindByID(id uint) (*model.Attempt, error)
	FindByIDWithExam(id uint) (*model.Attempt, error)
	// FindByIDForUpdate locks one attempt row within tx.
	FindByIDForUpdate(tx *gorm.DB, id uint) (*model.Attempt, error)
	// FindInProgressForUpdate locks all in-progress attempt rows for
	// (user, exam) within tx, earliest start first. Must run inside a
	// transaction.
	FindInProgressForUpdate(tx *gorm.DB, userID, examID uint) ([]model.Attempt, error)
	// FindTerminalByUserAndExamTx returns the earliest completed attempt
	// for (user, exam) through tx, or nil when none exists.
	FindTerminalByUserAndExamTx(tx *gorm.DB, userID, examID uint) (*model.Attempt, error)
	FindCompletedByExam(examID uint) ([]model.Attempt, error)
	// FindCompletedSince returns completed attempts with finished_at at or
	// after cutoff; a nil cutoff means all-time.
	FindCompletedSince(cutoff *time.Time) ([]model.Attempt, error)
	FindByUser(userID uint) ([]model.Attempt, error)
	AnalyticsByExam(examID *uint) ([]ExamAnalyticsRow, error)
}

type attemptRepository struct {
	db *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) AttemptRepository {
	return &attemptRepository{db: db}
}

func (r *attemptRepository) Create(attempt *model.Attempt) error {
	return r.db.Create(attempt).Error
}

func (r *attemptRepository) Save(attempt *model.Attempt) error {
	return r.db.Save(attempt).Error
}

func (r *attemptRepository) FindByID(id uint) (*model.Attempt, error) {
	var attempt model.Attempt
	if err := r.db.First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *attemptRepository) FindByIDWithExam(id uint) (*model.Attempt, error) {
	var attempt model.Attempt
	if err := r.db.Preload("Exam").First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *attemptRepository) FindByIDForUpdate(tx *gorm.DB, id uint) (*model.Attempt, error) {
	var attempt model.Attempt
	if err := ForUpdate(tx).First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *attemptRepository) FindInProgressForUpdate(tx *gorm.DB, userID, examID uint) ([]model.Attempt, error) {
	var attempts []model.Attempt
	err := ForUpdate(tx).
		Where("user_id = ? AND exam_id = ? AND status = ?", userID, examID, model.AttemptInProgress).
		Order("started_at ASC, id ASC").
		Find(&attempts).Error
	return attempts, err
}

func (r *attemptRepository) FindTerminalByUserAndExamTx(tx *gorm.DB, userID, examID uint) (*model.Attempt, error) {
	var attempt model.Attempt
	err := tx.
		Where("user_id = ? AND exam_id = ? AND status IN ?", userID, examID,
			[]string{model.AttemptSubmitted, model.AttemptTimedOut}).
		Order("started_at ASC, id ASC").
		First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

func (r *attemptRepository) FindCompletedByExam(examID uint) ([]model.Attempt, error) {
	var attempts []model.Attempt
	err := r.db.
		Where("exam_id = ? AND status IN ?", examID,
			[]string{model.AttemptSubmitted, model.AttemptTimedOut}).
		Find(&attempts).Error
	return attempts, err
}

func (r *attemptRepository) FindCompletedSince(cutoff *time.Time) ([]model.Attempt, error) {
	var attempts []model.Attempt
	query := r.db.Where("status IN ?", []string{model.AttemptSubmitted, model.AttemptTimedOut})
	if cutoff != nil {
		query = query.Where("finished_at >= ?", *cutoff)
	}
	err := query.Find(&attempts).Error
	return attempts, err
}

func (r *attemptRepository) FindByUser(userID uint) ([]model.Attempt, error) {
	var attempts []model.Attempt
	err := r.db.
		Preload("Exam").
		Where("user_id = ?", userID).
		Order("started_at DESC, id DESC").
		Find(&attempts).Error
	return attempts, err
}

func (r *attemptRepository) AnalyticsByExam(examID *uint) ([]ExamAnalyticsRow, error) {
	query := r.db.Model(&model.Attempt{}).
		Select(`attempts.exam_id AS exam_id,
			exams.title AS exam_title,
			COUNT(*) AS attempts_total,
			SUM(CASE WHEN attempts.status = 'submitted' THEN 1 ELSE 0 END) AS attempts_submitted,
			SUM(CASE WHEN attempts.status = 'inprogress' THEN 1 ELSE 0 END) AS attempts_in_progress,
			SUM(CASE WHEN attempts.status = 'timedout' THEN 1 ELSE 0 END) AS attempts_timed_out,
			COUNT(DISTINCT attempts.user_id) AS unique_students,
			MAX(attempts.started_at) AS last_attempt_at,
			AVG(CASE WHEN attempts.status IN ('submitted','timedout') THEN attempts.percentage END) AS avg_percentage`).
		Joins("JOIN exams ON exams.id = attempts.exam_id").
		Group("attempts.exam_id, exams.title").
		Order("last_attempt_at DESC")
	if examID != nil {
		query = query.Where("attempts.exam_id = ?", *examID)
	}

	var rows []ExamAnalyticsRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
