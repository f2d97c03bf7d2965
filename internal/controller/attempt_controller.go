package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mentara/examengine/internal/dto"
)

// StartExamHandler godoc
// @Summary Start or resume an exam attempt
// @Description Creates an in-progress attempt for the user, or returns the existing one with its frozen question order
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path int true "Exam ID"
// @Param body body dto.StartExamRequest true "Starting user"
// @Success 200 {object} dto.StartExamResponse
// @Failure 404 {object} dto.ErrorResponse "Exam not found"
// @Failure 409 {object} dto.ErrorResponse "Exam already attempted"
// @Failure 410 {object} dto.ErrorResponse "Attempt deadline passed"
// @Router /exams/{id}/start [post]
func (ctrl *Controller) StartExamHandler(c *gin.Context) {
	examID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.StartExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("Failed to bind StartExamRequest")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Message: err.Error()})
		return
	}

	resp, err := ctrl.attemptSvc.StartExam(req.UserID, examID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SubmitExamHandler godoc
// @Summary Submit an attempt
// @Description Grades the submitted responses and moves the attempt to a terminal state. Replaying against a completed attempt returns the stored outcome.
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path int true "Attempt ID"
// @Param body body dto.SubmitExamRequest true "Responses"
// @Success 200 {object} dto.SubmitExamResponse
// @Failure 404 {object} dto.ErrorResponse "Attempt not found"
// @Failure 410 {object} dto.ErrorResponse "Deadline passed beyond grace"
// @Router /attempts/{id}/submit [post]
func (ctrl *Controller) SubmitExamHandler(c *gin.Context) {
	attemptID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.SubmitExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("Failed to bind SubmitExamRequest")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Message: err.Error()})
		return
	}
	// The path id wins over whatever the body claims.
	req.AttemptID = attemptID

	resp, err := ctrl.submissionSvc.Submit(actorFrom(c, req.UserID), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SaveDraftHandler godoc
// @Summary Autosave a draft answer
// @Description Stores one answer for an in-progress attempt without grading it
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path int true "Attempt ID"
// @Param body body dto.SaveDraftRequest true "Draft answer"
// @Success 200 {object} map[string]string
// @Failure 404 {object} dto.ErrorResponse "Attempt not found"
// @Failure 410 {object} dto.ErrorResponse "Deadline passed"
// @Failure 423 {object} dto.ErrorResponse "Attempt already completed"
// @Router /attempts/{id}/draft [post]
func (ctrl *Controller) SaveDraftHandler(c *gin.Context) {
	attemptID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.SaveDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("Failed to bind SaveDraftRequest")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Message: err.Error()})
		return
	}

	if err := ctrl.submissionSvc.SaveDraft(actorFrom(c, req.UserID), attemptID, req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

// ResumeAttemptHandler godoc
// @Summary Resume an in-progress attempt
// @Description Returns the saved answers, per-question times and flags so the client can restore its state
// @Tags attempts
// @Produce json
// @Param id path int true "Attempt ID"
// @Param user_id query int true "Requesting user"
// @Success 200 {object} dto.ResumeAttemptResponse
// @Failure 403 {object} dto.ErrorResponse "Not the attempt owner"
// @Failure 404 {object} dto.ErrorResponse "Attempt not found"
// @Router /attempts/{id}/resume [get]
func (ctrl *Controller) ResumeAttemptHandler(c *gin.Context) {
	attemptID, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	resp, err := ctrl.attemptSvc.ResumeAttempt(actorFrom(c, userID), attemptID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// MyAttemptsHandler godoc
// @Summary List a user's attempts
// @Description Returns the user's attempt history, newest first
// @Tags attempts
// @Produce json
// @Param user_id path int true "User ID"
// @Success 200 {array} dto.AttemptSummaryDTO
// @Router /users/{user_id}/attempts [get]
func (ctrl *Controller) MyAttemptsHandler(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}

	summaries, err := ctrl.attemptSvc.MyAttempts(userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summaries)
}

// LeaderboardHandler godoc
// @Summary Windowed leaderboard
// @Description Top users by average percentage over the requested window, with the requester's own row included
// @Tags leaderboard
// @Produce json
// @Param period query string false "daily, weekly or alltime" default(weekly)
// @Param user_id query int false "Requesting user for the me row"
// @Success 200 {object} dto.LeaderboardDTO
// @Failure 400 {object} dto.ErrorResponse "Unknown period"
// @Router /leaderboard [get]
func (ctrl *Controller) LeaderboardHandler(c *gin.Context) {
	period := c.DefaultQuery("period", "weekly")
	var requesterID uint
	if raw := c.Query("user_id"); raw != "" {
		id, ok := queryUserID(c)
		if !ok {
			return
		}
		requesterID = id
	}

	board, err := ctrl.rankingSvc.Leaderboard(period, requesterID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}
