package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exam-gateway/internal/middleware"
	"github.com/stemsi/exam-gateway/internal/model"
	"github.com/stemsi/exam-gateway/internal/response"
	"github.com/stemsi/exam-gateway/internal/service"
)

// HistoryHandler serves the applicant's past attempts.
type HistoryHandler struct {
	historyService *service.HistoryService
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(historyService *service.HistoryService) *HistoryHandler {
	return &HistoryHandler{historyService: historyService}
}

// ListHistory godoc
// GET /api/v1/applicant/history
// Returns attempts with completed/passed/failed totals and the average score.
// ?status=completed|in_progress|not_started narrows the items, not the summary.
// If the admissions API is down, the last loaded list is returned with
// metadata.warning set.
func (h *HistoryHandler) ListHistory(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	status := model.AttemptStatus(c.Query("status"))
	switch status {
	case "", model.AttemptStatusCompleted, model.AttemptStatusInProgress, model.AttemptStatusNotStarted:
	default:
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
			"status": "status must be one of completed, in_progress, not_started",
		})
		return
	}

	list, err := h.historyService.List(upstreamContext(c), claims.UserID, status)
	if err != nil {
		response.FailErr(c, err)
		return
	}
	if list.Stale != nil {
		response.SuccessStale(c, http.StatusOK, list, list.Stale)
		return
	}
	response.Success(c, http.StatusOK, list)
}

// GetHistoryDetail godoc
// GET /api/v1/applicant/history/:uuid
func (h *HistoryHandler) GetHistoryDetail(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	detail, err := h.historyService.Detail(upstreamContext(c), claims.UserID, attemptID.String())
	if err != nil {
		response.FailErr(c, err)
		return
	}
	if detail.Stale != nil {
		response.SuccessStale(c, http.StatusOK, gin.H{"attempt": detail.Item}, detail.Stale)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": detail.Item})
}
