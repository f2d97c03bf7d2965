package service

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentara/examengine/internal/apperr"
	"github.com/mentara/examengine/internal/dto"
	"github.com/mentara/examengine/internal/model"
)

func TestStartExamCreatesAttempt(t *testing.T) {
	env := newTestEnv(t)
	topic := env.seedTopic(t)
	q1 := env.seedQuestion(t, topic.ID, model.QuestionMCQ, 1, []string{"A"}, map[string]string{"A": "yes", "B": "no"})
	q2 := env.seedQuestion(t, topic.ID, model.QuestionFIB, 2, []string{"osmosis"}, nil)
	exam := env.seedExam(t, topic.ID, 600, false, q1.ID, q2.ID)

	resp, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)

	assert.Equal(t, env.clk.Now().Add(600*time.Second), resp.ExpiresAt)
	require.Len(t, resp.Questions, 2)
	assert.Equal(t, q1.ID, resp.Questions[0].ID)
	assert.Equal(t, q2.ID, resp.Questions[1].ID)
	assert.Equal(t, "mcq", resp.Questions[0].Type)
	assert.Equal(t, "fib", resp.Questions[1].Type)
	assert.Equal(t, "yes", resp.Questions[0].Choices["A"])

	attempt := env.loadAttempt(t, resp.AttemptID)
	assert.Equal(t, model.AttemptInProgress, attempt.Status)
	assert.Equal(t, []uint{q1.ID, q2.ID}, attempt.Meta().QuestionOrder)
	require.NotNil(t, attempt.Meta().Snapshot)
	assert.Equal(t, "Paper 1", attempt.Meta().Snapshot.Title)
}

func TestStartExamNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.attempts.StartExam(7, 999)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestStartExamInactiveExam(t *testing.T) {
	env := newTestEnv(t)
	topic := env.seedTopic(t)
	exam := env.seedExam(t, topic.ID, 600, false)
	require.NoError(t, env.db.Model(&model.Exam{}).Where("id = ?", exam.ID).Update("is_active", false).Error)

	_, err := env.attempts.StartExam(7, exam.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestStartExamIdempotent(t *testing.T) {
	env := newTestEnv(t)
	topic := env.seedTopic(t)
	var ids []uint
	for i := 0; i < 6; i++ {
		q := env.seedQuestion(t, topic.ID, model.QuestionMCQ, 1, []string{"A"}, nil)
		ids = append(ids, q.ID)
	}
	exam := env.seedExam(t, topic.ID, 600, true, ids...)

	first, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)

	env.clk.Advance(30 * time.Second)
	second, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)

	assert.Equal(t, first.AttemptID, second.AttemptID)
	// The deadline is anchored to the original start, not the second call.
	assert.True(t, second.ExpiresAt.Equal(first.ExpiresAt))

	// The shuffled order froze at first Start.
	firstOrder := make([]uint, 0, len(first.Questions))
	for _, q := range first.Questions {
		firstOrder = append(firstOrder, q.ID)
	}
	secondOrder := make([]uint, 0, len(second.Questions))
	for _, q := range second.Questions {
		secondOrder = append(secondOrder, q.ID)
	}
	assert.Equal(t, firstOrder, secondOrder)
}

func TestStartExamAfterCompletionConflicts(t *testing.T) {
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

	_, err = env.attempts.StartExam(7, exam.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindAlreadyAttempted, apperr.KindOf(err))
	meta := apperr.MetaOf(err)
	assert.Equal(t, started.AttemptID, meta["attempt_id"])
	assert.Equal(t, model.AttemptSubmitted, meta["status"])
}

func TestStartExamExpiredTransitionsAttempt(t *testing.T) {
	env := newTestEnv(t)
	exam, _ := env.seedMCQExam(t, 600)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)

	env.clk.Advance(601 * time.Second)
	_, err = env.attempts.StartExam(7, exam.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindExpired, apperr.KindOf(err))

	// The late Start itself persisted the timeout.
	attempt := env.loadAttempt(t, started.AttemptID)
	assert.Equal(t, model.AttemptTimedOut, attempt.Status)
	require.NotNil(t, attempt.FinishedAt)
	assert.True(t, attempt.FinishedAt.Equal(started.ExpiresAt))
	assert.Equal(t, 600, attempt.DurationSeconds)
}

func TestStartExamClosesDuplicateInProgress(t *testing.T) {
	env := newTestEnv(t)
	exam, _ := env.seedMCQExam(t, 600)

	earlier := model.Attempt{UserID: 7, ExamID: exam.ID, StartedAt: env.clk.Now(), Status: model.AttemptInProgress}
	require.NoError(t, env.db.Create(&earlier).Error)
	later := model.Attempt{UserID: 7, ExamID: exam.ID, StartedAt: env.clk.Now().Add(time.Minute), Status: model.AttemptInProgress}
	require.NoError(t, env.db.Create(&later).Error)

	resp, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)
	assert.Equal(t, earlier.ID, resp.AttemptID)

	closed := env.loadAttempt(t, later.ID)
	assert.Equal(t, model.AttemptTimedOut, closed.Status)
	require.NotNil(t, closed.FinishedAt)
}

func TestResumeAttempt(t *testing.T) {
	env := newTestEnv(t)
	exam, q := env.seedMCQExam(t, 600)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)

	err = env.submissions.SaveDraft(student(7), started.AttemptID, dto.SaveDraftRequest{
		UserID:     7,
		QuestionID: q.ID,
		Answer:     "A",
		TimeSpent:  45,
		Flagged:    true,
	})
	require.NoError(t, err)

	resumed, err := env.attempts.ResumeAttempt(student(7), started.AttemptID)
	require.NoError(t, err)

	key := strconv.FormatUint(uint64(q.ID), 10)
	assert.JSONEq(t, `{"answers":["A"]}`, string(resumed.Answers[key]))
	assert.Equal(t, 45, resumed.Times[key])
	assert.True(t, resumed.Flagged[key])
}

func TestResumeAttemptForbiddenForOtherStudent(t *testing.T) {
	env := newTestEnv(t)
	exam, _ := env.seedMCQExam(t, 600)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)

	_, err = env.attempts.ResumeAttempt(student(8), started.AttemptID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestMyAttempts(t *testing.T) {
	env := newTestEnv(t)
	exam, q := env.seedMCQExam(t, 600)

	started, err := env.attempts.StartExam(7, exam.ID)
	require.NoError(t, err)
	env.clk.Advance(100 * time.Second)
	_, err = env.submissions.Submit(student(7), dto.SubmitExamRequest{
		AttemptID: started.AttemptID,
		UserID:    7,
		Responses: []dto.SubmittedResponseDTO{mcqResponse(q.ID, "A")},
	})
	require.NoError(t, err)

	summaries, err := env.attempts.MyAttempts(7)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Paper 1", summaries[0].ExamTitle)
	assert.Equal(t, model.AttemptSubmitted, summaries[0].Status)
	assert.Equal(t, 1.0, summaries[0].Score)
	assert.Equal(t, 100.0, summaries[0].Percentage)
}
