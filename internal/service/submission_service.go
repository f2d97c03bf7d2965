package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mentara/examengine/internal/apperr"
	"github.com/mentara/examengine/internal/clock"
	"github.com/mentara/examengine/internal/dto"
	"github.com/mentara/examengine/internal/model"
	"github.com/mentara/examengine/internal/repository"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// submitGraceSeconds is how far past the deadline a final Submit is still
// processed. The attempt is recorded as timed out either way; drafts get no
// grace at all.
const submitGraceSeconds = 10

type SubmissionService interface {
	Submit(actor Actor, req dto.SubmitExamRequest) (*dto.SubmitExamResponse, error)
	SaveDraft(actor Actor, attemptID uint, req dto.SaveDraftRequest) error
}

type submissionService struct {
	examRepo        repository.ExamRepository
	attemptRepo     repository.AttemptRepository
	questionRepo    repository.QuestionRepository
	responseRepo    repository.ResponseRepository
	leaderboardRepo repository.LeaderboardRepository
	ranking         RankingService
	notifier        NotificationSink
	authz           AuthzService
	clk             clock.Clock
	db              *gorm.DB
}

func NewSubmissionService(
	examRepo repository.ExamRepository,
	attemptRepo repository.AttemptRepository,
	questionRepo repository.QuestionRepository,
	responseRepo repository.ResponseRepository,
	leaderboardRepo repository.LeaderboardRepository,
	ranking RankingService,
	notifier NotificationSink,
	authz AuthzService,
	clk clock.Clock,
	db *gorm.DB,
) SubmissionService {
	return &submissionService{
		examRepo:        examRepo,
		attemptRepo:     attemptRepo,
		questionRepo:    questionRepo,
		responseRepo:    responseRepo,
		leaderboardRepo: leaderboardRepo,
		ranking:         ranking,
		notifier:        notifier,
		authz:           authz,
		clk:             clk,
		db:              db,
	}
}

func (s *submissionService) Submit(actor Actor, req dto.SubmitExamRequest) (*dto.SubmitExamResponse, error) {
	attempt, err := s.attemptRepo.FindByIDWithExam(req.AttemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("attempt %d not found", req.AttemptID)
		}
		return nil, fmt.Errorf("loading attempt %d: %w", req.AttemptID, err)
	}
	if err := s.authz.Authorize(actor, ActionSubmitAttempt, Resource{OwnerID: &attempt.UserID}); err != nil {
		return nil, err
	}

	// Replaying a submit against a completed attempt returns the stored
	// outcome unchanged.
	if attempt.Completed() {
		return s.storedOutcome(attempt)
	}

	now := s.clk.Now()
	exam := attempt.Exam
	expiresAt := attempt.ExpiresAt(exam.DurationSeconds)
	pastGrace := now.After(expiresAt.Add(submitGraceSeconds * time.Second))

	var result *dto.SubmitExamResponse
	err = s.db.Transaction(func(tx *gorm.DB) error {
		locked, err := s.attemptRepo.FindByIDForUpdate(tx, attempt.ID)
		if err != nil {
			return fmt.Errorf("locking attempt %d: %w", attempt.ID, err)
		}
		if locked.Completed() {
			// Lost a race with another Submit; report that outcome.
			result, err = s.storedOutcome(locked)
			return err
		}

		meta := locked.Meta()
		orderSet := make(map[uint]struct{}, len(meta.QuestionOrder))
		for _, qid := range meta.QuestionOrder {
			orderSet[qid] = struct{}{}
		}

		if !pastGrace {
			if err := s.upsertSubmitted(tx, locked, &meta, orderSet, req.Responses); err != nil {
				return err
			}
		}

		score, total, err := s.scoreAttempt(tx, locked, meta.QuestionOrder)
		if err != nil {
			return err
		}

		finished := now
		status := model.AttemptSubmitted
		if !now.Before(expiresAt) {
			finished = expiresAt
			status = model.AttemptTimedOut
		}
		locked.Status = status
		locked.FinishedAt = &finished
		locked.DurationSeconds = clampDuration(int(finished.Sub(locked.StartedAt).Seconds()), exam.DurationSeconds)
		locked.TotalScore = score
		if total > 0 {
			locked.Percentage = round2(score / total * 100)
		}
		if err := locked.SetMeta(meta); err != nil {
			return fmt.Errorf("encoding attempt metadata: %w", err)
		}
		if err := tx.Save(locked).Error; err != nil {
			return fmt.Errorf("persisting attempt %d: %w", locked.ID, err)
		}
		if err := s.leaderboardRepo.AddScore(tx, locked.UserID, model.PeriodWeekly, score); err != nil {
			return fmt.Errorf("bumping leaderboard for user %d: %w", locked.UserID, err)
		}

		result = &dto.SubmitExamResponse{
			AttemptID:  locked.ID,
			Score:      score,
			Total:      total,
			Percentage: locked.Percentage,
			Status:     locked.Status,
		}
		*attempt = *locked
		return nil
	})
	if err != nil {
		log.Error().Err(err).Uint("attemptID", req.AttemptID).Msg("Submit failed")
		return nil, err
	}

	// Rank and percentile are best-effort refreshes; a failure here never
	// undoes the committed submission.
	if err := s.ranking.RefreshPercentile(attempt.ID); err != nil {
		log.Warn().Err(err).Uint("attemptID", attempt.ID).Msg("percentile refresh failed")
	}
	if err := s.ranking.RefreshRank(attempt.ID); err != nil {
		log.Warn().Err(err).Uint("attemptID", attempt.ID).Msg("rank refresh failed")
	} else if refreshed, err := s.attemptRepo.FindByID(attempt.ID); err == nil {
		result.Rank = refreshed.Rank
	}
	s.notifier.AttemptCompleted(attempt.UserID, attempt.ID, exam.Title, result.Percentage)

	if pastGrace {
		return nil, apperr.Expired("attempt %d deadline passed", attempt.ID).
			WithMeta("attempt_id", attempt.ID).
			WithMeta("expires_at", expiresAt)
	}
	return result, nil
}

// upsertSubmitted normalizes, grades and stores the submitted responses.
func (s *submissionService) upsertSubmitted(
	tx *gorm.DB,
	attempt *model.Attempt,
	meta *model.AttemptMeta,
	orderSet map[uint]struct{},
	submitted []dto.SubmittedResponseDTO,
) error {
	if len(submitted) == 0 {
		return nil
	}

	ids := make([]uint, 0, len(submitted))
	for _, r := range submitted {
		if _, ok := orderSet[r.QuestionID]; !ok {
			return apperr.Validation("question %d is not part of attempt %d", r.QuestionID, attempt.ID)
		}
		ids = append(ids, r.QuestionID)
	}
	questions, err := s.questionRepo.FindByIDs(ids)
	if err != nil {
		return fmt.Errorf("loading questions: %w", err)
	}
	byID := make(map[uint]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	for _, r := range submitted {
		q, ok := byID[r.QuestionID]
		if !ok {
			return apperr.Validation("question %d no longer exists", r.QuestionID)
		}
		payload, err := NormalizePayload(&q, r)
		if err != nil {
			return err
		}
		raw, err := payload.Encode()
		if err != nil {
			return fmt.Errorf("encoding payload for question %d: %w", q.ID, err)
		}

		resp := model.Response{
			AttemptID:        attempt.ID,
			QuestionID:       q.ID,
			AnswerPayload:    datatypes.JSON(raw),
			Correct:          Grade(&q, payload),
			TimeSpentSeconds: firstInt(r.TimeSpentSeconds, r.TimeSpent),
			FlaggedForReview: firstBool(r.FlaggedForReview, r.Flagged),
		}
		if err := s.responseRepo.Upsert(tx, &resp); err != nil {
			return fmt.Errorf("storing response for question %d: %w", q.ID, err)
		}

		if resp.FlaggedForReview {
			if meta.Flagged == nil {
				meta.Flagged = map[string]bool{}
			}
			meta.Flagged[strconv.FormatUint(uint64(q.ID), 10)] = true
		}
	}
	return nil
}

// scoreAttempt grades any still-ungraded auto-gradable stored responses
// (drafts the client never re-sent) and totals the attempt. Total marks
// cover every question in the frozen order, answered or not.
func (s *submissionService) scoreAttempt(tx *gorm.DB, attempt *model.Attempt, order []uint) (score, total float64, err error) {
	questions, err := s.questionRepo.FindByIDs(order)
	if err != nil {
		return 0, 0, fmt.Errorf("loading attempt questions: %w", err)
	}
	overrides, err := s.examRepo.MarksOverrides(attempt.ExamID)
	if err != nil {
		return 0, 0, fmt.Errorf("loading mark overrides: %w", err)
	}
	for i := range questions {
		total += questionMarks(&questions[i], overrides)
	}

	responses, err := s.responseRepo.FindByAttemptTx(tx, attempt.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("loading responses: %w", err)
	}
	for i := range responses {
		r := &responses[i]
		if r.Correct == nil && r.Question.AutoGradable() {
			var payload AnswerPayload
			if len(r.AnswerPayload) > 0 {
				_ = json.Unmarshal(r.AnswerPayload, &payload)
			}
			r.Correct = Grade(&r.Question, payload)
			if err := tx.Omit("Question").Save(r).Error; err != nil {
				return 0, 0, fmt.Errorf("grading draft response %d: %w", r.ID, err)
			}
		}
		score += r.MarksObtained(questionMarks(&r.Question, overrides))
	}
	return score, total, nil
}

// storedOutcome rebuilds the response for an already completed attempt.
// The total is recomputed from the frozen question order so a replayed
// Submit reports the same numbers as the original call.
func (s *submissionService) storedOutcome(attempt *model.Attempt) (*dto.SubmitExamResponse, error) {
	questions, err := s.questionRepo.FindByIDs(attempt.Meta().QuestionOrder)
	if err != nil {
		return nil, fmt.Errorf("loading attempt questions: %w", err)
	}
	overrides, err := s.examRepo.MarksOverrides(attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("loading mark overrides: %w", err)
	}
	var total float64
	for i := range questions {
		total += questionMarks(&questions[i], overrides)
	}
	return &dto.SubmitExamResponse{
		AttemptID:  attempt.ID,
		Score:      attempt.TotalScore,
		Total:      total,
		Percentage: attempt.Percentage,
		Status:     attempt.Status,
		Rank:       attempt.Rank,
	}, nil
}

func (s *submissionService) SaveDraft(actor Actor, attemptID uint, req dto.SaveDraftRequest) error {
	attempt, err := s.attemptRepo.FindByIDWithExam(attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("attempt %d not found", attemptID)
		}
		return fmt.Errorf("loading attempt %d: %w", attemptID, err)
	}
	if err := s.authz.Authorize(actor, ActionSaveDraft, Resource{OwnerID: &attempt.UserID}); err != nil {
		return err
	}
	if attempt.Completed() {
		return apperr.Locked("attempt %d is already %s", attempt.ID, attempt.Status)
	}

	now := s.clk.Now()
	expiresAt := attempt.ExpiresAt(attempt.Exam.DurationSeconds)
	if !now.Before(expiresAt) {
		return apperr.Expired("attempt %d deadline passed", attempt.ID).
			WithMeta("attempt_id", attempt.ID).
			WithMeta("expires_at", expiresAt)
	}

	meta := attempt.Meta()
	inOrder := false
	for _, qid := range meta.QuestionOrder {
		if qid == req.QuestionID {
			inOrder = true
			break
		}
	}
	if !inOrder {
		return apperr.Validation("question %d is not part of attempt %d", req.QuestionID, attempt.ID)
	}

	question, err := s.questionRepo.FindByID(req.QuestionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("question %d not found", req.QuestionID)
		}
		return fmt.Errorf("loading question %d: %w", req.QuestionID, err)
	}

	payload, err := NormalizePayload(question, dto.SubmittedResponseDTO{
		QuestionID: req.QuestionID,
		Answer:     req.Answer,
	})
	if err != nil {
		return err
	}
	raw, err := payload.Encode()
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.saveDraftTx(tx, attempt.ID, raw, req)
	})
}

// saveDraftTx stores the draft against a freshly locked attempt row. The
// status re-check under the lock keeps a draft that raced a committing
// Submit from writing a stale in-progress snapshot over the terminal row.
func (s *submissionService) saveDraftTx(tx *gorm.DB, attemptID uint, raw []byte, req dto.SaveDraftRequest) error {
	locked, err := s.attemptRepo.FindByIDForUpdate(tx, attemptID)
	if err != nil {
		return fmt.Errorf("locking attempt %d: %w", attemptID, err)
	}
	if locked.Completed() {
		return apperr.Locked("attempt %d is already %s", locked.ID, locked.Status)
	}

	// Drafts are stored ungraded; correctness is settled at Submit.
	resp := model.Response{
		AttemptID:        locked.ID,
		QuestionID:       req.QuestionID,
		AnswerPayload:    datatypes.JSON(raw),
		TimeSpentSeconds: req.TimeSpent,
		FlaggedForReview: req.Flagged,
	}
	if err := s.responseRepo.Upsert(tx, &resp); err != nil {
		return fmt.Errorf("storing draft for question %d: %w", req.QuestionID, err)
	}

	meta := locked.Meta()
	if meta.Flagged == nil {
		meta.Flagged = map[string]bool{}
	}
	key := strconv.FormatUint(uint64(req.QuestionID), 10)
	if req.Flagged {
		meta.Flagged[key] = true
	} else {
		delete(meta.Flagged, key)
	}
	if err := locked.SetMeta(meta); err != nil {
		return fmt.Errorf("encoding attempt metadata: %w", err)
	}
	return tx.Omit("Exam", "Responses").Save(locked).Error
}

func firstInt(values ...*int) int {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return 0
}

func firstBool(values ...*bool) bool {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return false
}
