package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mentara/examengine/internal/dto"
)

// GradeResponseHandler godoc
// @Summary Grade one response
// @Description Sets or clears a teacher mark and remarks on a structured response and re-totals the attempt
// @Tags grading
// @Accept json
// @Produce json
// @Param id path int true "Response ID"
// @Param user_id query int true "Grading teacher"
// @Param body body dto.GradeResponseRequest true "Mark and remarks"
// @Success 200 {object} dto.GradeResponseResult
// @Failure 400 {object} dto.ErrorResponse "Mark out of range or not a number"
// @Failure 403 {object} dto.ErrorResponse "Caller is not a teacher"
// @Failure 423 {object} dto.ErrorResponse "Grading already finalized"
// @Router /responses/{id}/grade [patch]
func (ctrl *Controller) GradeResponseHandler(c *gin.Context) {
	responseID, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	var req dto.GradeResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("Failed to bind GradeResponseRequest")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Message: err.Error()})
		return
	}

	result, err := ctrl.gradingSvc.GradeResponse(actorFrom(c, userID), responseID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// FinalizeGradingHandler godoc
// @Summary Finalize grading of an attempt
// @Description Locks grading, recomputes the score and assigns the per-exam rank. Fails while structured responses remain ungraded.
// @Tags grading
// @Produce json
// @Param id path int true "Attempt ID"
// @Param user_id query int true "Grading teacher"
// @Success 200 {object} dto.FinalizeGradingResult
// @Failure 403 {object} dto.ErrorResponse "Caller is not a teacher"
// @Failure 409 {object} dto.ErrorResponse "Structured responses still ungraded"
// @Failure 423 {object} dto.ErrorResponse "Already finalized"
// @Router /attempts/{id}/finalize [post]
func (ctrl *Controller) FinalizeGradingHandler(c *gin.Context) {
	attemptID, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	result, err := ctrl.gradingSvc.FinalizeGrading(actorFrom(c, userID), attemptID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ReviewAttemptHandler godoc
// @Summary Review a completed attempt
// @Description Returns every answered question with correctness, marks and teacher remarks in the attempt's question order
// @Tags grading
// @Produce json
// @Param id path int true "Attempt ID"
// @Param user_id query int true "Requesting user"
// @Success 200 {object} dto.AttemptReviewDTO
// @Failure 403 {object} dto.ErrorResponse "Neither owner nor teacher"
// @Failure 404 {object} dto.ErrorResponse "Attempt not found"
// @Router /attempts/{id}/review [get]
func (ctrl *Controller) ReviewAttemptHandler(c *gin.Context) {
	attemptID, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	review, err := ctrl.gradingSvc.ReviewAttempt(actorFrom(c, userID), attemptID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, review)
}

// UploadEvaluatedHandler godoc
// @Summary Attach an evaluated paper
// @Description Stores the teacher's marked-up PDF for an attempt
// @Tags grading
// @Accept multipart/form-data
// @Produce json
// @Param id path int true "Attempt ID"
// @Param user_id query int true "Grading teacher"
// @Param file formData file true "Evaluated PDF"
// @Success 200 {object} dto.UploadEvaluatedResult
// @Failure 400 {object} dto.ErrorResponse "Missing file"
// @Failure 403 {object} dto.ErrorResponse "Caller is not a teacher"
// @Router /attempts/{id}/evaluated-pdf [post]
func (ctrl *Controller) UploadEvaluatedHandler(c *gin.Context) {
	attemptID, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Message: "file form field is required"})
		return
	}
	src, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Message: "could not read uploaded file"})
		return
	}
	defer src.Close()

	result, err := ctrl.gradingSvc.AttachEvaluatedPDF(actorFrom(c, userID), attemptID, header.Filename, src)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ExamAnalyticsHandler godoc
// @Summary Per-exam attempt analytics
// @Description Attempt counts, unique students and average percentage per exam; exam_id narrows to one exam
// @Tags analytics
// @Produce json
// @Param user_id query int true "Requesting teacher"
// @Param exam_id query int false "Restrict to one exam"
// @Success 200 {array} dto.ExamAnalyticsRowDTO
// @Failure 403 {object} dto.ErrorResponse "Caller is not a teacher"
// @Router /analytics/exams [get]
func (ctrl *Controller) ExamAnalyticsHandler(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}

	var examID *uint
	if raw := c.Query("exam_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Message: "invalid exam_id format"})
			return
		}
		v := uint(id)
		examID = &v
	}

	rows, err := ctrl.gradingSvc.ExamAnalytics(actorFrom(c, userID), examID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}
