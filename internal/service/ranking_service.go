package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/mentara/examengine/internal/apperr"
	"github.com/mentara/examengine/internal/clock"
	"github.com/mentara/examengine/internal/dto"
	"github.com/mentara/examengine/internal/model"
	"github.com/mentara/examengine/internal/repository"
)

const leaderboardLimit = 100

// RankingService computes per-exam ranks, percentiles and the windowed
// leaderboard views. All computations are over completed attempts;
// per-exam rank and the leaderboard additionally require every structured
// response of the candidate attempts to carry a teacher mark.
type RankingService interface {
	// ComputeRank ranks attempt among fully graded completed attempts of
	// its exam using the attempt's in-memory score.
	ComputeRank(attempt *model.Attempt) (int, error)
	ComputePercentile(attempt *model.Attempt) (float64, error)
	// RefreshRank recomputes and persists the rank, clearing it when the
	// attempt is not yet eligible.
	RefreshRank(attemptID uint) error
	RefreshPercentile(attemptID uint) error
	Leaderboard(period string, requesterID uint) (*dto.LeaderboardDTO, error)
}

type rankingService struct {
	attemptRepo  repository.AttemptRepository
	responseRepo repository.ResponseRepository
	clk          clock.Clock
}

func NewRankingService(
	attemptRepo repository.AttemptRepository,
	responseRepo repository.ResponseRepository,
	clk clock.Clock,
) RankingService {
	return &rankingService{
		attemptRepo:  attemptRepo,
		responseRepo: responseRepo,
		clk:          clk,
	}
}

// betterThan is the total order used for per-exam rank: higher score wins,
// then shorter duration, then earlier start, then lower id. The id tiebreak
// keeps the order deterministic.
func betterThan(a, b *model.Attempt) bool {
	if a.TotalScore != b.TotalScore {
		return a.TotalScore > b.TotalScore
	}
	if a.DurationSeconds != b.DurationSeconds {
		return a.DurationSeconds < b.DurationSeconds
	}
	if !a.StartedAt.Equal(b.StartedAt) {
		return a.StartedAt.Before(b.StartedAt)
	}
	return a.ID < b.ID
}

func (s *rankingService) ComputeRank(attempt *model.Attempt) (int, error) {
	peers, err := s.gradedPeers(attempt.ExamID)
	if err != nil {
		return 0, err
	}

	rank := 1
	for i := range peers {
		p := &peers[i]
		if p.ID == attempt.ID {
			continue
		}
		if betterThan(p, attempt) {
			rank++
		}
	}
	return rank, nil
}

// ComputePercentile is the share of completed attempts of the same exam
// with a strictly lower percentage, regardless of grading state.
func (s *rankingService) ComputePercentile(attempt *model.Attempt) (float64, error) {
	peers, err := s.attemptRepo.FindCompletedByExam(attempt.ExamID)
	if err != nil {
		return 0, fmt.Errorf("loading completed attempts: %w", err)
	}

	others, lower := 0, 0
	for i := range peers {
		if peers[i].ID == attempt.ID {
			continue
		}
		others++
		if peers[i].Percentage < attempt.Percentage {
			lower++
		}
	}
	if others == 0 {
		return 100, nil
	}
	return round2(float64(lower) / float64(others) * 100), nil
}

// gradedPeers returns the completed attempts of an exam that have no
// ungraded structured response.
func (s *rankingService) gradedPeers(examID uint) ([]model.Attempt, error) {
	completed, err := s.attemptRepo.FindCompletedByExam(examID)
	if err != nil {
		return nil, fmt.Errorf("loading completed attempts: %w", err)
	}
	ungraded, err := s.responseRepo.UngradedStructuredAttemptIDs(&examID)
	if err != nil {
		return nil, fmt.Errorf("loading ungraded attempt ids: %w", err)
	}

	peers := completed[:0]
	for _, a := range completed {
		if _, pending := ungraded[a.ID]; !pending {
			peers = append(peers, a)
		}
	}
	return peers, nil
}

func (s *rankingService) RefreshRank(attemptID uint) error {
	attempt, err := s.attemptRepo.FindByID(attemptID)
	if err != nil {
		return fmt.Errorf("loading attempt %d: %w", attemptID, err)
	}
	if !attempt.Completed() {
		return nil
	}

	ungraded, err := s.responseRepo.CountUngradedStructured(attemptID)
	if err != nil {
		return fmt.Errorf("counting ungraded responses: %w", err)
	}
	if ungraded > 0 {
		// Not rankable yet; rank stays unset until grading finishes.
		if attempt.Rank != nil {
			attempt.Rank = nil
			return s.attemptRepo.Save(attempt)
		}
		return nil
	}

	rank, err := s.ComputeRank(attempt)
	if err != nil {
		return err
	}
	attempt.Rank = &rank
	return s.attemptRepo.Save(attempt)
}

func (s *rankingService) RefreshPercentile(attemptID uint) error {
	attempt, err := s.attemptRepo.FindByID(attemptID)
	if err != nil {
		return fmt.Errorf("loading attempt %d: %w", attemptID, err)
	}
	if !attempt.Completed() {
		return nil
	}

	pct, err := s.ComputePercentile(attempt)
	if err != nil {
		return err
	}
	attempt.Percentile = &pct
	return s.attemptRepo.Save(attempt)
}

type leaderboardAgg struct {
	userID     uint
	count      int
	sumPct     float64
	totalScore float64
}

func (s *rankingService) Leaderboard(period string, requesterID uint) (*dto.LeaderboardDTO, error) {
	var cutoff *time.Time
	now := s.clk.Now()
	switch period {
	case model.PeriodDaily:
		t := now.Add(-24 * time.Hour)
		cutoff = &t
	case model.PeriodWeekly:
		t := now.Add(-7 * 24 * time.Hour)
		cutoff = &t
	case model.PeriodAllTime:
	default:
		return nil, apperr.Validation("unknown leaderboard period %q", period)
	}

	attempts, err := s.attemptRepo.FindCompletedSince(cutoff)
	if err != nil {
		return nil, fmt.Errorf("loading completed attempts: %w", err)
	}
	ungraded, err := s.responseRepo.UngradedStructuredAttemptIDs(nil)
	if err != nil {
		return nil, fmt.Errorf("loading ungraded attempt ids: %w", err)
	}

	byUser := map[uint]*leaderboardAgg{}
	for _, a := range attempts {
		// Attempts awaiting structured grading carry a provisional
		// percentage; they join the board once marking finishes.
		if _, pending := ungraded[a.ID]; pending {
			continue
		}
		agg, ok := byUser[a.UserID]
		if !ok {
			agg = &leaderboardAgg{userID: a.UserID}
			byUser[a.UserID] = agg
		}
		agg.count++
		agg.sumPct += a.Percentage
		agg.totalScore += a.TotalScore
	}

	aggs := make([]leaderboardAgg, 0, len(byUser))
	for _, agg := range byUser {
		aggs = append(aggs, *agg)
	}
	sort.Slice(aggs, func(i, j int) bool {
		ai, aj := aggs[i], aggs[j]
		avgI, avgJ := ai.sumPct/float64(ai.count), aj.sumPct/float64(aj.count)
		if avgI != avgJ {
			return avgI > avgJ
		}
		if ai.count != aj.count {
			return ai.count > aj.count
		}
		if ai.totalScore != aj.totalScore {
			return ai.totalScore > aj.totalScore
		}
		return ai.userID < aj.userID
	})

	result := &dto.LeaderboardDTO{Period: period, Leaders: []dto.LeaderboardRowDTO{}}
	for i, agg := range aggs {
		row := dto.LeaderboardRowDTO{
			UserID:         agg.userID,
			Rank:           i + 1,
			TestsCompleted: agg.count,
			AvgPercentage:  round2(agg.sumPct / float64(agg.count)),
			TotalScore:     agg.totalScore,
		}
		if i < leaderboardLimit {
			result.Leaders = append(result.Leaders, row)
		}
		if agg.userID == requesterID {
			me := row
			result.Me = &me
		}
	}
	return result, nil
}
