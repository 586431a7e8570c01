package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exam-gateway/internal/middleware"
	"github.com/stemsi/exam-gateway/internal/model"
	"github.com/stemsi/exam-gateway/internal/response"
	"github.com/stemsi/exam-gateway/internal/service"
	"github.com/stemsi/exam-gateway/internal/session"
	"github.com/stemsi/exam-gateway/internal/transport"
	"github.com/stemsi/exam-gateway/internal/validator"
)

// ApplicantExamHandler handles the exam-taking endpoints.
type ApplicantExamHandler struct {
	sessionService *service.ExamSessionService
}

// NewApplicantExamHandler creates a new ApplicantExamHandler.
func NewApplicantExamHandler(sessionService *service.ExamSessionService) *ApplicantExamHandler {
	return &ApplicantExamHandler{sessionService: sessionService}
}

// navigationResponse reports whether the cursor moved along with the session.
type navigationResponse struct {
	Moved   bool         `json:"moved"`
	Session session.View `json:"session"`
}

// OpenSession godoc
// POST /api/v1/applicant/exams/:exam_id/session
// Starts or resumes the attempt and restores any autosaved answers.
func (h *ApplicantExamHandler) OpenSession(c *gin.Context) {
	claims, examID, ok := sessionParams(c)
	if !ok {
		return
	}

	view, err := h.sessionService.Open(upstreamContext(c), claims.UserID, examID)
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": view})
}

// GetSession godoc
// GET /api/v1/applicant/exams/:exam_id/session
func (h *ApplicantExamHandler) GetSession(c *gin.Context) {
	claims, examID, ok := sessionParams(c)
	if !ok {
		return
	}

	view, err := h.sessionService.View(claims.UserID, examID)
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": view})
}

// CloseSession godoc
// DELETE /api/v1/applicant/exams/:exam_id/session
// Leaves the exam. Staged answers that were not submitted are discarded.
func (h *ApplicantExamHandler) CloseSession(c *gin.Context) {
	claims, examID, ok := sessionParams(c)
	if !ok {
		return
	}

	if err := h.sessionService.Close(c.Request.Context(), claims.UserID, examID); err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"closed": true})
}

// SelectAnswer godoc
// PUT /api/v1/applicant/exams/:exam_id/session/answers
func (h *ApplicantExamHandler) SelectAnswer(c *gin.Context) {
	claims, examID, ok := sessionParams(c)
	if !ok {
		return
	}

	var req model.SelectAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.sessionService.SelectAnswer(c.Request.Context(), claims.UserID, examID, req.QuestionID, req.ChoiceID)
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": view})
}

// SubmitAnswer godoc
// POST /api/v1/applicant/exams/:exam_id/session/submit
// Sends the staged answer of the current question with the pending tab-switch count.
func (h *ApplicantExamHandler) SubmitAnswer(c *gin.Context) {
	claims, examID, ok := sessionParams(c)
	if !ok {
		return
	}

	resp, view, err := h.sessionService.SubmitAnswer(upstreamContext(c), claims.UserID, examID)
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"submission": resp, "session": view})
}

// NextQuestion godoc
// POST /api/v1/applicant/exams/:exam_id/session/next
func (h *ApplicantExamHandler) NextQuestion(c *gin.Context) {
	h.navigate(c, h.sessionService.Next)
}

// PreviousQuestion godoc
// POST /api/v1/applicant/exams/:exam_id/session/previous
func (h *ApplicantExamHandler) PreviousQuestion(c *gin.Context) {
	h.navigate(c, h.sessionService.Previous)
}

// GoToQuestion godoc
// POST /api/v1/applicant/exams/:exam_id/session/goto
func (h *ApplicantExamHandler) GoToQuestion(c *gin.Context) {
	var req model.GoToQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	h.navigate(c, func(ctx context.Context, userID int, examID string) (session.View, bool, error) {
		return h.sessionService.GoTo(ctx, userID, examID, *req.Index)
	})
}

func (h *ApplicantExamHandler) navigate(c *gin.Context, move func(context.Context, int, string) (session.View, bool, error)) {
	claims, examID, ok := sessionParams(c)
	if !ok {
		return
	}

	view, moved, err := move(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, navigationResponse{Moved: moved, Session: view})
}

// RecordTabSwitch godoc
// POST /api/v1/applicant/exams/:exam_id/session/tab-switch
// Fallback for clients without a signal stream.
func (h *ApplicantExamHandler) RecordTabSwitch(c *gin.Context) {
	claims, examID, ok := sessionParams(c)
	if !ok {
		return
	}

	count, err := h.sessionService.TabSwitch(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"tab_switch_count": count})
}

// SyncProgress godoc
// POST /api/v1/applicant/exams/:exam_id/session/sync
func (h *ApplicantExamHandler) SyncProgress(c *gin.Context) {
	claims, examID, ok := sessionParams(c)
	if !ok {
		return
	}

	view, err := h.sessionService.Sync(upstreamContext(c), claims.UserID, examID)
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": view})
}

// CompleteExam godoc
// POST /api/v1/applicant/exams/:exam_id/session/complete
func (h *ApplicantExamHandler) CompleteExam(c *gin.Context) {
	claims, examID, ok := sessionParams(c)
	if !ok {
		return
	}

	result, err := h.sessionService.Complete(upstreamContext(c), claims.UserID, examID)
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// GetResult godoc
// GET /api/v1/applicant/results/:uuid
// Reads the result of a finished attempt from exam history.
func (h *ApplicantExamHandler) GetResult(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("uuid"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.sessionService.FetchResult(upstreamContext(c), attemptID.String())
	if err != nil {
		response.FailErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// sessionParams reads the caller and the exam id, writing the error response
// itself when either is missing.
func sessionParams(c *gin.Context) (*service.Claims, string, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, "", false
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, "", false
	}
	return claims, examID.String(), true
}

// upstreamContext carries the caller's bearer token to the admissions API.
func upstreamContext(c *gin.Context) context.Context {
	return transport.WithToken(c.Request.Context(), middleware.GetToken(c))
}
