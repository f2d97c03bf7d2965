package repository

import (
	"errors"

	"github.com/mentara/examengine/internal/model"
	"gorm.io/gorm"
)

type LeaderboardRepository interface {
	// AddScore additively bumps the cached aggregate for (user, period),
	// creating the row on first submission. Runs in tx alongside Submit.
	AddScore(tx *gorm.DB, userID uint, period string, delta float64) error
	FindByUserAndPeriod(userID uint, period string) (*model.LeaderboardEntry, error)
}

type leaderboardRepository struct {
	db *gorm.DB
}

func NewLeaderboardRepository(db *gorm.DB) LeaderboardRepository {
	return &leaderboardRepository{db: db}
}

func (r *leaderboardRepository) AddScore(tx *gorm.DB, userID uint, period string, delta float64) error {
	var entry model.LeaderboardEntry
	err := ForUpdate(tx).
		Where("user_id = ? AND time_period = ?", userID, period).
		First(&entry).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		entry = model.LeaderboardEntry{UserID: userID, TimePeriod: period}
	}
	entry.ScoreMetric += delta
	return tx.Save(&entry).Error
}

func (r *leaderboardRepository) FindByUserAndPeriod(userID uint, period string) (*model.LeaderboardEntry, error) {
	var entry model.LeaderboardEntry
	if err := r.db.Where("user_id = ? AND time_period = ?", userID, period).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}
