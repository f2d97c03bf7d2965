package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jinzhu/copier"
	"github.com/mentara/examengine/internal/apperr"
	"github.com/mentara/examengine/internal/clock"
	"github.com/mentara/examengine/internal/dto"
	"github.com/mentara/examengine/internal/model"
	"github.com/mentara/examengine/internal/repository"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// GradingService covers the teacher-side workflow: marking structured
// responses, finalizing an attempt, attaching the evaluated paper and
// reviewing results.
type GradingService interface {
	GradeResponse(actor Actor, responseID uint, req dto.GradeResponseRequest) (*dto.GradeResponseResult, error)
	FinalizeGrading(actor Actor, attemptID uint) (*dto.FinalizeGradingResult, error)
	ReviewAttempt(actor Actor, attemptID uint) (*dto.AttemptReviewDTO, error)
	AttachEvaluatedPDF(actor Actor, attemptID uint, filename string, src io.Reader) (*dto.UploadEvaluatedResult, error)
	ExamAnalytics(actor Actor, examID *uint) ([]dto.ExamAnalyticsRowDTO, error)
}

type gradingService struct {
	examRepo     repository.ExamRepository
	attemptRepo  repository.AttemptRepository
	questionRepo repository.QuestionRepository
	responseRepo repository.ResponseRepository
	ranking      RankingService
	uploads      UploadSink
	notifier     NotificationSink
	authz        AuthzService
	clk          clock.Clock
	db           *gorm.DB
}

func NewGradingService(
	examRepo repository.ExamRepository,
	attemptRepo repository.AttemptRepository,
	questionRepo repository.QuestionRepository,
	responseRepo repository.ResponseRepository,
	ranking RankingService,
	uploads UploadSink,
	notifier NotificationSink,
	authz AuthzService,
	clk clock.Clock,
	db *gorm.DB,
) GradingService {
	return &gradingService{
		examRepo:     examRepo,
		attemptRepo:  attemptRepo,
		questionRepo: questionRepo,
		responseRepo: responseRepo,
		ranking:      ranking,
		uploads:      uploads,
		notifier:     notifier,
		authz:        authz,
		clk:          clk,
		db:           db,
	}
}

func (s *gradingService) GradeResponse(actor Actor, responseID uint, req dto.GradeResponseRequest) (*dto.GradeResponseResult, error) {
	response, err := s.responseRepo.FindByIDWithQuestion(responseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("response %d not found", responseID)
		}
		return nil, fmt.Errorf("loading response %d: %w", responseID, err)
	}
	attempt, err := s.attemptRepo.FindByID(response.AttemptID)
	if err != nil {
		return nil, fmt.Errorf("loading attempt %d: %w", response.AttemptID, err)
	}
	if err := s.authz.Authorize(actor, ActionGradeResponse, Resource{OwnerID: &attempt.UserID}); err != nil {
		return nil, err
	}

	meta := attempt.Meta()
	if meta.Finalized != nil {
		return nil, apperr.Locked("grading for attempt %d is finalized", attempt.ID).
			WithMeta("finalized_at", meta.Finalized.FinalizedAt)
	}

	// TeacherMark: absent keeps the stored mark, "" clears it, anything
	// else must parse within [0, question marks]. The bound honors the
	// exam's per-question mark override.
	if req.TeacherMark != nil {
		raw := strings.TrimSpace(*req.TeacherMark)
		if raw == "" {
			response.TeacherMark = nil
		} else {
			mark, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, apperr.Validation("teacher mark %q is not a number", raw)
			}
			overrides, err := s.examRepo.MarksOverrides(attempt.ExamID)
			if err != nil {
				return nil, fmt.Errorf("loading mark overrides: %w", err)
			}
			maxMark := questionMarks(&response.Question, overrides)
			if mark < 0 || mark > maxMark {
				return nil, apperr.Validation("teacher mark must be between 0 and %g", maxMark)
			}
			response.TeacherMark = &mark
		}
	}

	key := strconv.FormatUint(uint64(response.QuestionID), 10)
	if req.Remarks != nil {
		response.TeacherFeedback = *req.Remarks
		if meta.TeacherRemarks == nil {
			meta.TeacherRemarks = map[string]string{}
		}
		if *req.Remarks == "" {
			delete(meta.TeacherRemarks, key)
		} else {
			meta.TeacherRemarks[key] = *req.Remarks
		}
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Question").Save(response).Error; err != nil {
			return fmt.Errorf("persisting response %d: %w", response.ID, err)
		}
		if err := s.recomputeScore(tx, attempt, &meta); err != nil {
			return err
		}
		// Any re-mark invalidates a previously computed rank until the next
		// finalize.
		attempt.Rank = nil
		if err := attempt.SetMeta(meta); err != nil {
			return fmt.Errorf("encoding attempt metadata: %w", err)
		}
		return tx.Omit("Exam", "Responses").Save(attempt).Error
	})
	if err != nil {
		log.Error().Err(err).Uint("responseID", responseID).Msg("GradeResponse failed")
		return nil, err
	}

	if err := s.ranking.RefreshPercentile(attempt.ID); err != nil {
		log.Warn().Err(err).Uint("attemptID", attempt.ID).Msg("percentile refresh failed")
	}

	return &dto.GradeResponseResult{
		Status:      "updated",
		TeacherMark: response.TeacherMark,
	}, nil
}

func (s *gradingService) FinalizeGrading(actor Actor, attemptID uint) (*dto.FinalizeGradingResult, error) {
	attempt, err := s.attemptRepo.FindByIDWithExam(attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("attempt %d not found", attemptID)
		}
		return nil, fmt.Errorf("loading attempt %d: %w", attemptID, err)
	}
	if err := s.authz.Authorize(actor, ActionFinalizeGrading, Resource{OwnerID: &attempt.UserID}); err != nil {
		return nil, err
	}
	if !attempt.Completed() {
		return nil, apperr.Validation("attempt %d is still in progress", attemptID)
	}

	meta := attempt.Meta()
	if meta.Finalized != nil {
		return nil, apperr.AlreadyFinalized("grading for attempt %d is already finalized", attemptID).
			WithMeta("finalized_at", meta.Finalized.FinalizedAt).
			WithMeta("grader_id", meta.Finalized.GraderID)
	}

	ungraded, err := s.responseRepo.CountUngradedStructured(attemptID)
	if err != nil {
		return nil, fmt.Errorf("counting ungraded responses: %w", err)
	}
	if ungraded > 0 {
		return nil, apperr.IncompleteGrading("%d structured responses are still ungraded", ungraded).
			WithMeta("ungraded", ungraded)
	}

	exam := attempt.Exam
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.recomputeScore(tx, attempt, &meta); err != nil {
			return err
		}
		rank, err := s.ranking.ComputeRank(attempt)
		if err != nil {
			return fmt.Errorf("computing rank: %w", err)
		}
		attempt.Rank = &rank
		if pct, err := s.ranking.ComputePercentile(attempt); err == nil {
			attempt.Percentile = &pct
		}

		meta.Finalized = &model.FinalizeAudit{
			GraderID:    actor.ID,
			FinalizedAt: s.clk.Now(),
		}
		if err := attempt.SetMeta(meta); err != nil {
			return fmt.Errorf("encoding attempt metadata: %w", err)
		}
		return tx.Omit("Exam", "Responses").Save(attempt).Error
	})
	if err != nil {
		log.Error().Err(err).Uint("attemptID", attemptID).Msg("FinalizeGrading failed")
		return nil, err
	}

	s.notifier.GradingFinalized(attempt.UserID, attempt.ID, exam.Title, attempt.Percentage)

	return &dto.FinalizeGradingResult{
		Status: "finalized",
		Rank:   *attempt.Rank,
	}, nil
}

// recomputeScore re-totals the attempt from its stored responses, applying
// teacher-mark overrides. The caller saves the attempt.
func (s *gradingService) recomputeScore(tx *gorm.DB, attempt *model.Attempt, meta *model.AttemptMeta) error {
	responses, err := s.responseRepo.FindByAttemptTx(tx, attempt.ID)
	if err != nil {
		return fmt.Errorf("loading responses: %w", err)
	}
	questions, err := s.questionRepo.FindByIDs(meta.QuestionOrder)
	if err != nil {
		return fmt.Errorf("loading attempt questions: %w", err)
	}
	overrides, err := s.examRepo.MarksOverrides(attempt.ExamID)
	if err != nil {
		return fmt.Errorf("loading mark overrides: %w", err)
	}

	var score, total float64
	for i := range questions {
		total += questionMarks(&questions[i], overrides)
	}
	for i := range responses {
		score += responses[i].MarksObtained(questionMarks(&responses[i].Question, overrides))
	}
	attempt.TotalScore = score
	if total > 0 {
		attempt.Percentage = round2(score / total * 100)
	}
	return nil
}

func (s *gradingService) ReviewAttempt(actor Actor, attemptID uint) (*dto.AttemptReviewDTO, error) {
	attempt, err := s.attemptRepo.FindByIDWithExam(attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("attempt %d not found", attemptID)
		}
		return nil, fmt.Errorf("loading attempt %d: %w", attemptID, err)
	}
	if err := s.authz.Authorize(actor, ActionReviewAttempt, Resource{OwnerID: &attempt.UserID}); err != nil {
		return nil, err
	}

	responses, err := s.responseRepo.FindByAttempt(attemptID)
	if err != nil {
		return nil, fmt.Errorf("loading responses: %w", err)
	}

	meta := attempt.Meta()
	questions, err := s.questionRepo.FindByIDs(meta.QuestionOrder)
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

	byQuestion := make(map[uint]model.Response, len(responses))
	for _, r := range responses {
		byQuestion[r.QuestionID] = r
	}

	// Responses are presented in the frozen attempt order; unanswered
	// questions are skipped.
	rows := make([]dto.ResponseReviewDTO, 0, len(responses))
	for _, qid := range meta.QuestionOrder {
		r, ok := byQuestion[qid]
		if !ok {
			continue
		}
		marks := questionMarks(&r.Question, overrides)
		rows = append(rows, dto.ResponseReviewDTO{
			ResponseID:    r.ID,
			QuestionID:    r.QuestionID,
			Statement:     r.Question.Statement,
			Answer:        json.RawMessage(r.AnswerPayload),
			Correct:       r.Correct,
			TimeSpent:     r.TimeSpentSeconds,
			MarksObtained: r.MarksObtained(marks),
			TotalMarks:    marks,
			TeacherMark:   r.TeacherMark,
			Remarks:       meta.TeacherRemarks[strconv.FormatUint(uint64(r.QuestionID), 10)],
		})
	}

	title := attempt.Exam.Title
	if meta.Snapshot != nil && meta.Snapshot.Title != "" {
		title = meta.Snapshot.Title
	}

	return &dto.AttemptReviewDTO{
		AttemptID:        attempt.ID,
		Responses:        rows,
		Score:            attempt.TotalScore,
		Total:            total,
		Percentage:       attempt.Percentage,
		ExamTitle:        title,
		DurationSeconds:  attempt.DurationSeconds,
		GradingFinalized: meta.Finalized != nil,
	}, nil
}

func (s *gradingService) AttachEvaluatedPDF(actor Actor, attemptID uint, filename string, src io.Reader) (*dto.UploadEvaluatedResult, error) {
	attempt, err := s.attemptRepo.FindByID(attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("attempt %d not found", attemptID)
		}
		return nil, fmt.Errorf("loading attempt %d: %w", attemptID, err)
	}
	if err := s.authz.Authorize(actor, ActionUploadEvaluated, Resource{OwnerID: &attempt.UserID}); err != nil {
		return nil, err
	}

	path, err := s.uploads.StoreEvaluatedPDF(attempt.UserID, attempt.ID, filename, src)
	if err != nil {
		return nil, fmt.Errorf("storing evaluated pdf: %w", err)
	}

	meta := attempt.Meta()
	meta.EvaluatedPDF = path
	if err := attempt.SetMeta(meta); err != nil {
		return nil, fmt.Errorf("encoding attempt metadata: %w", err)
	}
	if err := s.attemptRepo.Save(attempt); err != nil {
		return nil, fmt.Errorf("persisting attempt %d: %w", attempt.ID, err)
	}

	return &dto.UploadEvaluatedResult{Status: "uploaded", Path: path}, nil
}

func (s *gradingService) ExamAnalytics(actor Actor, examID *uint) ([]dto.ExamAnalyticsRowDTO, error) {
	if err := s.authz.Authorize(actor, ActionViewAnalytics, Resource{}); err != nil {
		return nil, err
	}

	rows, err := s.attemptRepo.AnalyticsByExam(examID)
	if err != nil {
		return nil, fmt.Errorf("loading exam analytics: %w", err)
	}

	out := make([]dto.ExamAnalyticsRowDTO, 0, len(rows))
	for _, row := range rows {
		var d dto.ExamAnalyticsRowDTO
		if err := copier.Copy(&d, &row); err != nil {
			return nil, fmt.Errorf("mapping analytics row: %w", err)
		}
		if row.AvgPercentage != nil {
			d.AvgPercentage = round2(*row.AvgPercentage)
		}
		out = append(out, d)
	}
	return out, nil
}
