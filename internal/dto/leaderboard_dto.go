package dto

type LeaderboardRowDTO struct {
	UserID         uint    `json:"user_id"`
	Rank           int     `json:"rank"`
	TestsCompleted int     `json:"tests_completed"`
	AvgPercentage  float64 `json:"avg_percentage"`
	TotalScore     float64 `json:"total_score"`
}

type LeaderboardDTO struct {
	Period  string              `json:"period"`
	Leaders []LeaderboardRowDTO `json:"leaders"`
	// Me is the requesting user's row even when outside the top window;
	// absent if the user has no qualifying attempts.
	Me *LeaderboardRowDTO `json:"me,omitempty"`
}
