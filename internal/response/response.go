package response

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exam-gateway/internal/examerr"
	"github.com/stemsi/exam-gateway/internal/service"
	"github.com/stemsi/exam-gateway/internal/session"
)

// Response is the standardized API response envelope.
type Response struct {
	Data     interface{} `json:"data"`
	Error    *ErrorBody  `json:"error,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

// ErrorBody represents a structured error response.
type ErrorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Metadata includes request tracing and timing.
type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
	// Warning is set when data was served from a cache because the
	// admissions API failed.
	Warning *ErrorBody `json:"warning,omitempty"`
}

// ────────────────────────────────────────────────────────────────────────────
// Helper builders
// ────────────────────────────────────────────────────────────────────────────

// Success sends a successful JSON response with the given status code and data.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Data:     data,
		Metadata: buildMetadata(c),
	})
}

// SuccessStale sends cached data together with the upstream error that
// prevented a refresh.
func SuccessStale(c *gin.Context, statusCode int, data interface{}, upstreamErr error) {
	meta := buildMetadata(c)
	meta.Warning = &ErrorBody{Code: ErrUpstream, Message: examerr.MessageOf(upstreamErr)}
	c.JSON(statusCode, Response{
		Data:     data,
		Metadata: meta,
	})
}

// Fail sends an error response with an error code and no field-level details.
func Fail(c *gin.Context, statusCode int, code ErrCode) {
	FailWithMessage(c, statusCode, code, GetMessage(code))
}

// FailWithMessage sends an error response carrying a specific message, such
// as one relayed from the admissions API.
func FailWithMessage(c *gin.Context, statusCode int, code ErrCode, message string) {
	c.JSON(statusCode, Response{
		Data:     nil,
		Error:    &ErrorBody{Code: code, Message: message},
		Metadata: buildMetadata(c),
	})
}

// FailWithFields sends an error response with field-level validation details.
func FailWithFields(c *gin.Context, statusCode int, code ErrCode, fields map[string]string) {
	c.JSON(statusCode, Response{
		Data:     nil,
		Error:    &ErrorBody{Code: code, Message: GetMessage(code), Fields: fields},
		Metadata: buildMetadata(c),
	})
}

// FailErr maps an exam error onto its HTTP status and code.
//
//	ValidationError  → 400
//	NotFound         → 404
//	AlreadyCompleted → 409
//	NetworkError     → 502
func FailErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrStreamAttached):
		Fail(c, http.StatusConflict, ErrStreamAttached)
		return
	case errors.Is(err, session.ErrSuperseded):
		Fail(c, http.StatusConflict, ErrSessionSuperseded)
		return
	}

	msg := examerr.MessageOf(err)
	switch examerr.KindOf(err) {
	case examerr.KindValidation:
		FailWithMessage(c, http.StatusBadRequest, ErrValidation, msg)
	case examerr.KindNotFound:
		FailWithMessage(c, http.StatusNotFound, ErrNotFound, msg)
	case examerr.KindAlreadyCompleted:
		FailWithMessage(c, http.StatusConflict, ErrAlreadyCompleted, msg)
	case examerr.KindNetwork:
		FailWithMessage(c, http.StatusBadGateway, ErrUpstream, msg)
	default:
		Fail(c, http.StatusInternalServerError, ErrInternal)
	}
}

// AbortFail aborts the middleware chain and sends an error response.
func AbortFail(c *gin.Context, statusCode int, code ErrCode) {
	c.AbortWithStatusJSON(statusCode, Response{
		Data:     nil,
		Error:    &ErrorBody{Code: code, Message: GetMessage(code)},
		Metadata: buildMetadata(c),
	})
}

// ────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ────────────────────────────────────────────────────────────────────────────

func buildMetadata(c *gin.Context) Metadata {
	reqID, _ := c.Get(ContextKeyRequestID)
	id, ok := reqID.(string)
	if !ok || id == "" {
		id = uuid.New().String() // Fallback if middleware not applied
	}
	return Metadata{
		RequestID: id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
