package model

import (
	"time"

	"gorm.io/gorm"
)

const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodAllTime = "alltime"
)

// LeaderboardEntry is the cached additive aggregate bumped on each
// submission. The windowed leaderboard view is computed on demand from
// completed attempts instead; this row exists for cheap "total points"
// style display.
type LeaderboardEntry struct {
	ID          uint           `gorm:"primarykey" json:"id"`
	UserID      uint           `json:"user_id" gorm:"not null;uniqueIndex:idx_leaderboard_user_period"`
	TimePeriod  string         `json:"time_period" gorm:"default:'weekly';uniqueIndex:idx_leaderboard_user_period"`
	ScoreMetric float64        `json:"score_metric" gorm:"default:0"`
	Rank        int            `json:"rank" gorm:"default:0"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}
