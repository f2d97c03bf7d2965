package service

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mentara/examengine/internal/dto"
	"github.com/mentara/examengine/internal/model"
	"github.com/mentara/examengine/internal/repository"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// testEnv wires the whole service layer against an in-memory database.
type testEnv struct {
	db  *gorm.DB
	clk *fakeClock

	examRepo        repository.ExamRepository
	questionRepo    repository.QuestionRepository
	attemptRepo     repository.AttemptRepository
	responseRepo    repository.ResponseRepository
	leaderboardRepo repository.LeaderboardRepository

	attempts    AttemptService
	submissions SubmissionService
	grading     GradingService
	ranking     RankingService

	uploadDir string
	seq       int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.Curriculum{},
		&model.Topic{},
		&model.Question{},
		&model.Exam{},
		&model.ExamQuestion{},
		&model.Attempt{},
		&model.Response{},
		&model.LeaderboardEntry{},
	))

	clk := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}

	env := &testEnv{
		db:              db,
		clk:             clk,
		examRepo:        repository.NewExamRepository(db),
		questionRepo:    repository.NewQuestionRepository(db),
		attemptRepo:     repository.NewAttemptRepository(db),
		responseRepo:    repository.NewResponseRepository(db),
		leaderboardRepo: repository.NewLeaderboardRepository(db),
	}

	authz := NewAuthzService()
	notifier := NewLogNotificationSink()
	env.uploadDir = t.TempDir()
	uploads := &localUploadSink{baseDir: env.uploadDir}

	env.ranking = NewRankingService(env.attemptRepo, env.responseRepo, clk)
	env.attempts = NewAttemptService(env.examRepo, env.questionRepo, env.attemptRepo, env.responseRepo, authz, clk, db)
	env.submissions = NewSubmissionService(env.examRepo, env.attemptRepo, env.questionRepo, env.responseRepo, env.leaderboardRepo, env.ranking, notifier, authz, clk, db)
	env.grading = NewGradingService(env.examRepo, env.attemptRepo, env.questionRepo, env.responseRepo, env.ranking, uploads, notifier, authz, clk, db)

	return env
}

func student(id uint) Actor { return Actor{ID: id, Role: RoleStudent} }
func teacher(id uint) Actor { return Actor{ID: id, Role: RoleTeacher} }

func (e *testEnv) seedTopic(t *testing.T) model.Topic {
	t.Helper()
	e.seq++
	curriculum := model.Curriculum{Name: fmt.Sprintf("IB %s %d", t.Name(), e.seq), IsActive: true}
	require.NoError(t, e.db.Create(&curriculum).Error)
	topic := model.Topic{Name: fmt.Sprintf("Mechanics %d", e.seq), CurriculumID: &curriculum.ID, IsActive: true}
	require.NoError(t, e.db.Create(&topic).Error)
	return topic
}

func (e *testEnv) seedQuestion(t *testing.T, topicID uint, qtype string, marks float64, correct []string, choices map[string]string) model.Question {
	t.Helper()
	q := model.Question{
		TopicID:   topicID,
		Type:      qtype,
		Statement: fmt.Sprintf("%s question", qtype),
		Marks:     marks,
		IsActive:  true,
	}
	if correct != nil {
		raw, err := json.Marshal(correct)
		require.NoError(t, err)
		q.CorrectAnswers = datatypes.JSON(raw)
	}
	if choices != nil {
		raw, err := json.Marshal(choices)
		require.NoError(t, err)
		q.Choices = datatypes.JSON(raw)
	}
	require.NoError(t, e.db.Create(&q).Error)
	return q
}

func (e *testEnv) seedExam(t *testing.T, topicID uint, durationSeconds int, shuffle bool, questionIDs ...uint) model.Exam {
	t.Helper()
	exam := model.Exam{
		Title:            "Paper 1",
		TopicID:          topicID,
		DurationSeconds:  durationSeconds,
		ShuffleQuestions: shuffle,
		IsActive:         true,
	}
	require.NoError(t, e.db.Create(&exam).Error)
	for i, qid := range questionIDs {
		require.NoError(t, e.db.Create(&model.ExamQuestion{
			ExamID:     exam.ID,
			QuestionID: qid,
			Order:      i + 1,
		}).Error)
	}
	return exam
}

// seedMCQExam is the common fixture: one exam with a single 1-mark MCQ
// whose correct answer is "A".
func (e *testEnv) seedMCQExam(t *testing.T, durationSeconds int) (model.Exam, model.Question) {
	t.Helper()
	topic := e.seedTopic(t)
	q := e.seedQuestion(t, topic.ID, model.QuestionMCQ, 1, []string{"A"},
		map[string]string{"A": "9.8 m/s2", "B": "10 m/s2"})
	exam := e.seedExam(t, topic.ID, durationSeconds, false, q.ID)
	return exam, q
}

func (e *testEnv) loadAttempt(t *testing.T, id uint) *model.Attempt {
	t.Helper()
	attempt, err := e.attemptRepo.FindByID(id)
	require.NoError(t, err)
	return attempt
}

func mcqResponse(qid uint, choices ...string) dto.SubmittedResponseDTO {
	raw, _ := json.Marshal(map[string]interface{}{"answers": choices})
	return dto.SubmittedResponseDTO{QuestionID: qid, AnswerPayload: raw}
}
