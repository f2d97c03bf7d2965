package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"

	"github.com/mentara/examengine/internal/apperr"
	"github.com/mentara/examengine/internal/clock"
	"github.com/mentara/examengine/internal/dto"
	"github.com/mentara/examengine/internal/model"
	"github.com/mentara/examengine/internal/repository"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// AttemptService is the attempt state machine: it owns creation, resumption
// and deadline transitions. Start and the timeout check run under a row
// lock so concurrent calls for the same (user, exam) can never produce two
// in-progress attempts.
type AttemptService interface {
	StartExam(userID, examID uint) (*dto.StartExamResponse, error)
	ResumeAttempt(actor Actor, attemptID uint) (*dto.ResumeAttemptResponse, error)
	MyAttempts(userID uint) ([]dto.AttemptSummaryDTO, error)
}

type attemptService struct {
	examRepo     repository.ExamRepository
	questionRepo repository.QuestionRepository
	attemptRepo  repository.AttemptRepository
	responseRepo repository.ResponseRepository
	authz        AuthzService
	clk          clock.Clock
	db           *gorm.DB
}

func NewAttemptService(
	examRepo repository.ExamRepository,
	questionRepo repository.QuestionRepository,
	attemptRepo repository.AttemptRepository,
	responseRepo repository.ResponseRepository,
	authz AuthzService,
	clk clock.Clock,
	db *gorm.DB,
) AttemptService {
	return &attemptService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		attemptRepo:  attemptRepo,
		responseRepo: responseRepo,
		authz:        authz,
		clk:          clk,
		db:           db,
	}
}

func (s *attemptService) StartExam(userID, examID uint) (*dto.StartExamResponse, error) {
	exam, err := s.examRepo.FindActiveByID(examID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("exam %d not found or inactive", examID)
		}
		return nil, fmt.Errorf("loading exam %d: %w", examID, err)
	}

	now := s.clk.Now()
	var attempt *model.Attempt
	timedOut := false

	err = s.db.Transaction(func(tx *gorm.DB) error {
		inProgress, err := s.attemptRepo.FindInProgressForUpdate(tx, userID, examID)
		if err != nil {
			return fmt.Errorf("locking in-progress attempts: %w", err)
		}

		if len(inProgress) == 0 {
			// Single-attempt policy, checked under the same lock a Submit
			// holds while completing: a completed attempt blocks any restart.
			prior, err := s.attemptRepo.FindTerminalByUserAndExamTx(tx, userID, examID)
			if err != nil {
				return fmt.Errorf("checking prior attempts: %w", err)
			}
			if prior != nil {
				return apperr.AlreadyAttempted("exam %d already attempted", examID).
					WithMeta("attempt_id", prior.ID).
					WithMeta("status", prior.Status)
			}

			a := model.Attempt{
				UserID:    userID,
				ExamID:    examID,
				StartedAt: now,
				Status:    model.AttemptInProgress,
			}
			if err := tx.Create(&a).Error; err != nil {
				return fmt.Errorf("creating attempt: %w", err)
			}
			attempt = &a
		} else {
			// Idempotent resume: reuse the earliest attempt, close any
			// duplicates left behind by past races.
			attempt = &inProgress[0]
			for i := 1; i < len(inProgress); i++ {
				dup := inProgress[i]
				fin := now
				dup.Status = model.AttemptTimedOut
				dup.FinishedAt = &fin
				dup.DurationSeconds = clampDuration(int(now.Sub(dup.StartedAt).Seconds()), exam.DurationSeconds)
				if err := tx.Save(&dup).Error; err != nil {
					return fmt.Errorf("closing duplicate attempt %d: %w", dup.ID, err)
				}
				log.Warn().Uint("attemptID", dup.ID).Uint("userID", userID).Uint("examID", examID).
					Msg("StartExam: closed duplicate in-progress attempt")
			}
		}

		// Deadline is evaluated against the stored start; a late Start
		// never restarts the timer.
		expiresAt := attempt.ExpiresAt(exam.DurationSeconds)
		if !now.Before(expiresAt) {
			if attempt.Status == model.AttemptInProgress {
				fin := expiresAt
				attempt.Status = model.AttemptTimedOut
				attempt.FinishedAt = &fin
				attempt.DurationSeconds = exam.DurationSeconds
				if err := tx.Save(attempt).Error; err != nil {
					return fmt.Errorf("timing out attempt %d: %w", attempt.ID, err)
				}
			}
			timedOut = true
			return nil
		}

		meta := attempt.Meta()
		changed := false
		if len(meta.QuestionOrder) == 0 {
			order, err := s.pickQuestionIDs(exam)
			if err != nil {
				return err
			}
			meta.QuestionOrder = order
			changed = true
		}
		if meta.Snapshot == nil {
			meta.Snapshot = snapshotOf(exam)
			changed = true
		}
		if changed {
			if err := attempt.SetMeta(meta); err != nil {
				return fmt.Errorf("encoding attempt metadata: %w", err)
			}
			if err := tx.Save(attempt).Error; err != nil {
				return fmt.Errorf("persisting attempt metadata: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Uint("userID", userID).Uint("examID", examID).Msg("StartExam failed")
		return nil, err
	}

	expiresAt := attempt.ExpiresAt(exam.DurationSeconds)
	if timedOut {
		return nil, apperr.Expired("attempt %d timed out", attempt.ID).
			WithMeta("attempt_id", attempt.ID).
			WithMeta("expires_at", expiresAt)
	}

	questions, err := s.questionViews(attempt.Meta().QuestionOrder)
	if err != nil {
		return nil, err
	}

	return &dto.StartExamResponse{
		AttemptID: attempt.ID,
		ExpiresAt: expiresAt,
		Questions: questions,
	}, nil
}

// pickQuestionIDs resolves the frozen order source: the exam's pinned set
// in catalog order, else all active questions of its topic. Shuffled once
// here when the exam asks for it; the persisted order is reused verbatim
// on every later Start.
func (s *attemptService) pickQuestionIDs(exam *model.Exam) ([]uint, error) {
	ids, err := s.examRepo.QuestionIDs(exam.ID)
	if err != nil {
		return nil, fmt.Errorf("loading exam question set: %w", err)
	}
	if len(ids) == 0 {
		questions, err := s.questionRepo.FindActiveByTopic(exam.TopicID)
		if err != nil {
			return nil, fmt.Errorf("loading topic questions: %w", err)
		}
		for _, q := range questions {
			ids = append(ids, q.ID)
		}
	}
	if exam.ShuffleQuestions {
		rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	}
	return ids, nil
}

func snapshotOf(exam *model.Exam) *model.ExamSnapshot {
	snap := &model.ExamSnapshot{
		Title:       exam.Title,
		Level:       exam.Level,
		PaperNumber: exam.PaperNumber,
		Topic:       exam.Topic.Name,
	}
	if exam.Topic.Curriculum != nil {
		snap.Curriculum = exam.Topic.Curriculum.Name
	}
	return snap
}

func (s *attemptService) questionViews(order []uint) ([]dto.QuestionViewDTO, error) {
	questions, err := s.questionRepo.FindByIDs(order)
	if err != nil {
		return nil, fmt.Errorf("loading questions: %w", err)
	}
	byID := make(map[uint]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	views := make([]dto.QuestionViewDTO, 0, len(order))
	for _, qid := range order {
		q, ok := byID[qid]
		if !ok {
			// Question deleted from the catalog after the order froze.
			log.Warn().Uint("questionID", qid).Msg("StartExam: frozen order references missing question")
			continue
		}
		views = append(views, dto.QuestionViewDTO{
			ID:        q.ID,
			Type:      clientQuestionType(q.Type),
			Statement: q.Statement,
			Choices:   q.ChoiceMap(),
			TimeEst:   q.EstimatedTime,
			Marks:     q.Marks,
			Image:     q.ImageURL,
		})
	}
	return views, nil
}

func clientQuestionType(t string) string {
	switch t {
	case model.QuestionMCQ:
		return "mcq"
	case model.QuestionMulti:
		return "multi"
	case model.QuestionFIB:
		return "fib"
	case model.QuestionStruct:
		return "structured"
	default:
		return "mcq"
	}
}

func (s *attemptService) ResumeAttempt(actor Actor, attemptID uint) (*dto.ResumeAttemptResponse, error) {
	attempt, err := s.attemptRepo.FindByID(attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("attempt %d not found", attemptID)
		}
		return nil, fmt.Errorf("loading attempt %d: %w", attemptID, err)
	}
	if err := s.authz.Authorize(actor, ActionResumeAttempt, Resource{OwnerID: &attempt.UserID}); err != nil {
		return nil, err
	}

	responses, err := s.responseRepo.FindByAttempt(attemptID)
	if err != nil {
		return nil, fmt.Errorf("loading responses for attempt %d: %w", attemptID, err)
	}

	resp := &dto.ResumeAttemptResponse{
		AttemptID: attempt.ID,
		Answers:   map[string]json.RawMessage{},
		Times:     map[string]int{},
		Flagged:   attempt.Meta().Flagged,
	}
	if resp.Flagged == nil {
		resp.Flagged = map[string]bool{}
	}
	for _, r := range responses {
		key := strconv.FormatUint(uint64(r.QuestionID), 10)
		resp.Answers[key] = json.RawMessage(r.AnswerPayload)
		resp.Times[key] = r.TimeSpentSeconds
	}
	return resp, nil
}

func (s *attemptService) MyAttempts(userID uint) ([]dto.AttemptSummaryDTO, error) {
	attempts, err := s.attemptRepo.FindByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("loading attempts for user %d: %w", userID, err)
	}

	summaries := make([]dto.AttemptSummaryDTO, 0, len(attempts))
	for _, a := range attempts {
		title := a.Exam.Title
		if snap := a.Meta().Snapshot; snap != nil && snap.Title != "" {
			title = snap.Title
		}
		summaries = append(summaries, dto.AttemptSummaryDTO{
			ID:              a.ID,
			ExamID:          a.ExamID,
			ExamTitle:       title,
			Status:          a.Status,
			Score:           a.TotalScore,
			Percentage:      a.Percentage,
			StartedAt:       a.StartedAt,
			FinishedAt:      a.FinishedAt,
			DurationSeconds: a.DurationSeconds,
		})
	}
	return summaries, nil
}

func clampDuration(seconds, max int) int {
	if seconds < 0 {
		return 0
	}
	if seconds > max {
		return max
	}
	return seconds
}
