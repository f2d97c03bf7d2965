package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mentara/examengine/internal/apperr"
	"github.com/mentara/examengine/internal/dto"
	"github.com/mentara/examengine/internal/service"
)

type Controller struct {
	attemptSvc    service.AttemptService
	submissionSvc service.SubmissionService
	gradingSvc    service.GradingService
	rankingSvc    service.RankingService
}

func NewController(
	attemptSvc service.AttemptService,
	submissionSvc service.SubmissionService,
	gradingSvc service.GradingService,
	rankingSvc service.RankingService,
) *Controller {
	return &Controller{
		attemptSvc:    attemptSvc,
		submissionSvc: submissionSvc,
		gradingSvc:    gradingSvc,
		rankingSvc:    rankingSvc,
	}
}

func (ctrl *Controller) RegisterRoutes(router *gin.Engine) {
	apiV1 := router.Group("/api/v1")
	{
		exams := apiV1.Group("/exams")
		exams.POST("/:id/start", ctrl.StartExamHandler)

		attempts := apiV1.Group("/attempts")
		attempts.POST("/:id/submit", ctrl.SubmitExamHandler)
		attempts.POST("/:id/draft", ctrl.SaveDraftHandler)
		attempts.GET("/:id/resume", ctrl.ResumeAttemptHandler)
		attempts.GET("/:id/review", ctrl.ReviewAttemptHandler)
		attempts.POST("/:id/finalize", ctrl.FinalizeGradingHandler)
		attempts.POST("/:id/evaluated-pdf", ctrl.UploadEvaluatedHandler)

		responses := apiV1.Group("/responses")
		responses.PATCH("/:id/grade", ctrl.GradeResponseHandler)

		users := apiV1.Group("/users")
		users.GET("/:user_id/attempts", ctrl.MyAttemptsHandler)

		apiV1.GET("/leaderboard", ctrl.LeaderboardHandler)
		apiV1.GET("/analytics/exams", ctrl.ExamAnalyticsHandler)
	}
}

// actorFrom builds the caller identity from the verified-identity headers
// the gateway injects. The role header defaults to the least privileged.
func actorFrom(c *gin.Context, userID uint) service.Actor {
	return service.Actor{
		ID:   userID,
		Role: service.ParseRole(c.GetHeader("X-User-Role")),
	}
}

func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Message: "invalid " + name + " format"})
		return 0, false
	}
	return uint(id), true
}

func queryUserID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Query("user_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Message: "user_id query parameter is required"})
		return 0, false
	}
	return uint(id), true
}

func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(status, dto.ErrorResponse{Message: "internal server error"})
		return
	}
	c.JSON(status, dto.ErrorResponse{Message: err.Error(), Meta: apperr.MetaOf(err)})
}
