package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exam-gateway/internal/examerr"
	"github.com/stemsi/exam-gateway/internal/service"
	"github.com/stemsi/exam-gateway/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func failWith(t *testing.T, err error) (int, Response) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set(ContextKeyRequestID, "req-1")

	FailErr(c, err)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestFailErrMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   ErrCode
		msg    string
	}{
		{examerr.New(examerr.KindValidation, "submit answer", "please select an answer"), http.StatusBadRequest, ErrValidation, "please select an answer"},
		{examerr.New(examerr.KindNotFound, "load exam", "Not found."), http.StatusNotFound, ErrNotFound, "Not found."},
		{examerr.New(examerr.KindAlreadyCompleted, "complete exam", "Exam already completed"), http.StatusConflict, ErrAlreadyCompleted, "Exam already completed"},
		{examerr.New(examerr.KindNetwork, "load exam", "upstream returned 503"), http.StatusBadGateway, ErrUpstream, "upstream returned 503"},
		{service.ErrStreamAttached, http.StatusConflict, ErrStreamAttached, GetMessage(ErrStreamAttached)},
		{session.ErrSuperseded, http.StatusConflict, ErrSessionSuperseded, GetMessage(ErrSessionSuperseded)},
		{errors.New("boom"), http.StatusInternalServerError, ErrInternal, GetMessage(ErrInternal)},
	}

	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			status, body := failWith(t, tc.err)
			assert.Equal(t, tc.status, status)
			require.NotNil(t, body.Error)
			assert.Equal(t, tc.code, body.Error.Code)
			assert.Equal(t, tc.msg, body.Error.Message)
			assert.Equal(t, "req-1", body.Metadata.RequestID)
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { Success(c, http.StatusOK, gin.H{"ok": true}) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	r.ServeHTTP(w, req)

	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))
	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "abc", body.Metadata.RequestID)
	assert.Nil(t, body.Error)
}

func TestRequestIDMiddlewareReplacesOversizedID(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 65))
	r.ServeHTTP(w, req)

	got := w.Header().Get("X-Request-ID")
	assert.Len(t, got, 36)
	assert.NotContains(t, got, "xxx")
}
