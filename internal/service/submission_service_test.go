package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mentara/examengine/internal/apperr"
	"github.com/mentara/examengine/internal/dto"
	"github.com/mentara/examengine/internal/model"
)

func TestSubmitHappyPath(t *testing.T) {
	env := newTestEnv(t)
	exam, q := env.seedMCQExam(t, 600)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)

	env.clk.Advance(100 * time.Second)
	result, err := env.submissions.Submit(student(7), dto.SubmitExamRequest{
		AttemptID: started.AttemptID,
		UserID:    7,
		Responses: []dto.SubmittedResponseDTO{mcqResponse(q.ID, "A")},
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, result.Score)
	assert.Equal(t, 1.0, result.Total)
	assert.Equal(t, 100.0, result.Percentage)
	assert.Equal(t, model.AttemptSubmitted, result.Status)

	attempt := env.loadAttempt(t, started.AttemptID)
	assert.Equal(t, 100, attempt.DurationSeconds)
	require.NotNil(t, attempt.FinishedAt)
	assert.True(t, attempt.FinishedAt.Equal(env.clk.Now()))
}

func TestSubmitIdempotent(t *testing.T) {
	env := newTestEnv(t)
	exam, q := env.seedMCQExam(t, 600)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)

	first, err := env.submissions.Submit(student(7), dto.SubmitExamRequest{
		AttemptID: started.AttemptID,
		UserID:    7,
		Responses: []dto.SubmittedResponseDTO{mcqResponse(q.ID, "A")},
	})
	require.NoError(t, err)

	// The replay carries different answers; they must not be applied.
	second, err := env.submissions.Submit(student(7), dto.SubmitExamRequest{
		AttemptID: started.AttemptID,
		UserID:    7,
		Responses: []dto.SubmittedResponseDTO{mcqResponse(q.ID, "B")},
	})
	require.NoError(t, err)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Percentage, second.Percentage)
	assert.Equal(t, first.Status, second.Status)

	responses, err := env.responseRepo.FindByAttempt(started.AttemptID)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.JSONEq(t, `{"answers":["A"]}`, string(responses[0].AnswerPayload))
}

func TestSubmitAtDeadlineIsTimedOutButScored(t *testing.T) {
	env := newTestEnv(t)
	exam, q := env.seedMCQExam(t, 600)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)

	env.clk.Advance(600 * time.Second)
	result, err := env.submissions.Submit(student(7), dto.SubmitExamRequest{
		AttemptID: started.AttemptID,
		UserID:    7,
		Responses: []dto.SubmittedResponseDTO{mcqResponse(q.ID, "A")},
	})
	require.NoError(t, err)

	assert.Equal(t, model.AttemptTimedOut, result.Status)
	assert.Equal(t, 1.0, result.Score)

	attempt := env.loadAttempt(t, started.AttemptID)
	require.NotNil(t, attempt.FinishedAt)
	assert.True(t, attempt.FinishedAt.Equal(started.ExpiresAt))
	assert.Equal(t, 600, attempt.DurationSeconds)
}

func TestSubmitWithinGraceIsProcessed(t *testing.T) {
	env := newTestEnv(t)
	exam, q := env.seedMCQExam(t, 600)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)

	env.clk.Advance(610 * time.Second)
	result, err := env.submissions.Submit(student(7), dto.SubmitExamRequest{
		AttemptID: started.AttemptID,
		UserID:    7,
		Responses: []dto.SubmittedResponseDTO{mcqResponse(q.ID, "A")},
	})
	require.NoError(t, err)

	assert.Equal(t, model.AttemptTimedOut, result.Status)
	assert.Equal(t, 1.0, result.Score)
}

func TestSubmitPastGraceExpires(t *testing.T) {
	env := newTestEnv(t)
	exam, q := env.seedMCQExam(t, 600)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)

	env.clk.Advance(611 * time.Second)
	_, err = env.submissions.Submit(student(7), dto.SubmitExamRequest{
		AttemptID: started.AttemptID,
		UserID:    7,
		Responses: []dto.SubmittedResponseDTO{mcqResponse(q.ID, "A")},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindExpired, apperr.KindOf(err))

	// The attempt completed as timed out, but the late answers were dropped.
	attempt := env.loadAttempt(t, started.AttemptID)
	assert.Equal(t, model.AttemptTimedOut, attempt.Status)
	responses, err := env.responseRepo.FindByAttempt(started.AttemptID)
	require.NoError(t, err)
	assert.Len(t, responses, 0)
}

func TestSubmitGradesUnsentDrafts(t *testing.T) {
	env := newTestEnv(t)
	exam, q := env.seedMCQExam(t, 600)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)

	err = env.submissions.SaveDraft(student(7), started.AttemptID, dto.SaveDraftRequest{
		UserID:     7,
		QuestionID: q.ID,
		Answer:     "A",
	})
	require.NoError(t, err)

	// The client crashed and submits without re-sending the draft.
	result, err := env.submissions.Submit(student(7), dto.SubmitExamRequest{
		AttemptID: started.AttemptID,
		UserID:    7,
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.Score)
	assert.Equal(t, 100.0, result.Percentage)
}

func TestSubmitUnansweredQuestionsCountInTotal(t *testing.T) {
	env := newTestEnv(t)
	topic := env.seedTopic(t)
	q1 := env.seedQuestion(t, topic.ID, model.QuestionMCQ, 1, []string{"A"}, nil)
	q2 := env.seedQuestion(t, topic.ID, model.QuestionFIB, 3, []string{"osmosis"}, nil)
	exam := env.seedExam(t, topic.ID, 600, false, q1.ID, q2.ID)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)

	result, err := env.submissions.Submit(student(7), dto.SubmitExamRequest{
		AttemptID: started.AttemptID,
		UserID:    7,
		Responses: []dto.SubmittedResponseDTO{mcqResponse(q1.ID, "A")},
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, result.Score)
	assert.Equal(t, 4.0, result.Total)
	assert.Equal(t, 25.0, result.Percentage)
}

func TestSubmitRejectsForeignQuestion(t *testing.T) {
	env := newTestEnv(t)
	exam, _ := env.seedMCQExam(t, 600)
	topic := env.seedTopic(t)
	stray := env.seedQuestion(t, topic.ID, model.QuestionMCQ, 1, []string{"A"}, nil)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)

	_, err = env.submissions.Submit(student(7), dto.SubmitExamRequest{
		AttemptID: started.AttemptID,
		UserID:    7,
		Responses: []dto.SubmittedResponseDTO{mcqResponse(stray.ID, "A")},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	// The rejected submit must not complete the attempt.
	attempt := env.loadAttempt(t, started.AttemptID)
	assert.Equal(t, model.AttemptInProgress, attempt.Status)
}

func TestSubmitForbiddenForOtherStudent(t *testing.T) {
	env := newTestEnv(t)
	exam, q := env.seedMCQExam(t, 600)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)

	_, err = env.submissions.Submit(student(8), dto.SubmitExamRequest{
		AttemptID: started.AttemptID,
		UserID:    8,
		Responses: []dto.SubmittedResponseDTO{mcqResponse(q.ID, "A")},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestSubmitBumpsWeeklyLeaderboard(t *testing.T) {
	env := newTestEnv(t)
	exam, q := env.seedMCQExam(t, 600)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)
	_, err = env.submissions.Submit(student(7), dto.SubmitExamRequest{
		AttemptID: started.AttemptID,
		UserID:    7,
		Responses: []dto.SubmittedResponseDTO{mcqResponse(q.ID, "A")},
	})
	require.NoError(t, err)

	entry, err := env.leaderboardRepo.FindByUserAndPeriod(7, model.PeriodWeekly)
	require.NoError(t, err)
	assert.Equal(t, 1.0, entry.ScoreMetric)
}

func TestSubmitFlatAnswerShape(t *testing.T) {
	env := newTestEnv(t)
	exam, q := env.seedMCQExam(t, 600)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)

	ts := 42
	flagged := true
	result, err := env.submissions.Submit(student(7), dto.SubmitExamRequest{
		AttemptID: started.AttemptID,
		UserID:    7,
		Responses: []dto.SubmittedResponseDTO{{
			QuestionID: q.ID,
			Answer:     "A",
			TimeSpent:  &ts,
			Flagged:    &flagged,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.Score)

	responses, err := env.responseRepo.FindByAttempt(started.AttemptID)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, 42, responses[0].TimeSpentSeconds)
	assert.True(t, responses[0].FlaggedForReview)
}

func TestSaveDraftAfterCompletionIsLocked(t *testing.T) {
	env := newTestEnv(t)
	exam, q := env.seedMCQExam(t, 600)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)
	_, err = env.submissions.Submit(student(7), dto.SubmitExamRequest{
		AttemptID: started.AttemptID,
		UserID:    7,
		Responses: []dto.SubmittedResponseDTO{mcqResponse(q.ID, "A")},
	})
	require.NoError(t, err)

	err = env.submissions.SaveDraft(student(7), started.AttemptID, dto.SaveDraftRequest{
		UserID:     7,
		QuestionID: q.ID,
		Answer:     "B",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindLocked, apperr.KindOf(err))
}

func TestSaveDraftHasNoGrace(t *testing.T) {
	env := newTestEnv(t)
	exam, q := env.seedMCQExam(t, 600)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)

	env.clk.Advance(600 * time.Second)
	err = env.submissions.SaveDraft(student(7), started.AttemptID, dto.SaveDraftRequest{
		UserID:     7,
		QuestionID: q.ID,
		Answer:     "A",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindExpired, apperr.KindOf(err))
}

func TestSubmitReplayKeepsTotalStable(t *testing.T) {
	env := newTestEnv(t)
	topic := env.seedTopic(t)
	q1 := env.seedQuestion(t, topic.ID, model.QuestionMCQ, 1, []string{"A"}, nil)
	q2 := env.seedQuestion(t, topic.ID, model.QuestionFIB, 3, []string{"osmosis"}, nil)
	exam := env.seedExam(t, topic.ID, 600, false, q1.ID, q2.ID)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)

	// Only the MCQ is answered; the unanswered FIB still counts in total.
	first, err := env.submissions.Submit(student(7), dto.SubmitExamRequest{
		AttemptID: started.AttemptID,
		UserID:    7,
		Responses: []dto.SubmittedResponseDTO{mcqResponse(q1.ID, "A")},
	})
	require.NoError(t, err)
	assert.Equal(t, 4.0, first.Total)

	replay, err := env.submissions.Submit(student(7), dto.SubmitExamRequest{
		AttemptID: started.AttemptID,
		UserID:    7,
		Responses: []dto.SubmittedResponseDTO{mcqResponse(q1.ID, "A")},
	})
	require.NoError(t, err)
	assert.Equal(t, first.Total, replay.Total)
	assert.Equal(t, first.Score, replay.Score)
	assert.Equal(t, first.Percentage, replay.Percentage)
}

func TestSaveDraftRechecksStatusUnderLock(t *testing.T) {
	env := newTestEnv(t)
	exam, q := env.seedMCQExam(t, 600)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)
	_, err = env.submissions.Submit(student(7), dto.SubmitExamRequest{
		AttemptID: started.AttemptID,
		UserID:    7,
		Responses: []dto.SubmittedResponseDTO{mcqResponse(q.ID, "A")},
	})
	require.NoError(t, err)

	// A drafter that read the attempt before the submit committed arrives
	// here with a stale in-progress view; the locked re-read must reject
	// it instead of writing that view back.
	svc := env.submissions.(*submissionService)
	err = env.db.Transaction(func(tx *gorm.DB) error {
		return svc.saveDraftTx(tx, started.AttemptID, []byte(`{"answers":["B"]}`), dto.SaveDraftRequest{
			UserID:     7,
			QuestionID: q.ID,
		})
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindLocked, apperr.KindOf(err))

	attempt := env.loadAttempt(t, started.AttemptID)
	assert.Equal(t, model.AttemptSubmitted, attempt.Status)
	assert.Equal(t, 1.0, attempt.TotalScore)

	var stored model.Response
	require.NoError(t, env.db.Where("attempt_id = ? AND question_id = ?", started.AttemptID, q.ID).First(&stored).Error)
	assert.JSONEq(t, `{"answers":["A"]}`, string(stored.AnswerPayload))
}

func TestSubmitAppliesExamMarkOverride(t *testing.T) {
	env := newTestEnv(t)
	exam, q := env.seedMCQExam(t, 600)
	require.NoError(t, env.db.Model(&model.ExamQuestion{}).
		Where("exam_id = ? AND question_id = ?", exam.ID, q.ID).
		Update("marks_override", 5).Error)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)

	result, err := env.submissions.Submit(student(7), dto.SubmitExamRequest{
		AttemptID: started.AttemptID,
		UserID:    7,
		Responses: []dto.SubmittedResponseDTO{mcqResponse(q.ID, "A")},
	})
	require.NoError(t, err)
	assert.Equal(t, 5.0, result.Score)
	assert.Equal(t, 5.0, result.Total)
	assert.Equal(t, 100.0, result.Percentage)
}
