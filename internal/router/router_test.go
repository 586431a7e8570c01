package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/config"
	"github.com/stemsi/exam-gateway/internal/handler"
	"github.com/stemsi/exam-gateway/internal/middleware"
	"github.com/stemsi/exam-gateway/internal/service"
	"github.com/stemsi/exam-gateway/internal/snapshot"
	"github.com/stemsi/exam-gateway/internal/transport"
	"github.com/stemsi/exam-gateway/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "router-secret"
	examID     = "0b7f6f0e-3c1a-4a59-9d0e-6f3f1b2c4d5e"
	attemptID  = "7d1e2f3a-4b5c-4d6e-8f70-8192a3b4c5d6"
)

type fakeUpstream struct {
	submits   atomic.Int32
	completed atomic.Bool
	lastAuth  atomic.Value
	// historyDown makes the history endpoints answer 503.
	historyDown atomic.Bool
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.lastAuth.Store(r.Header.Get("Authorization"))
	w.Header().Set("Content-Type", "application/json")
	write := func(status int, body string) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}

	if f.historyDown.Load() && strings.HasPrefix(r.URL.Path, "/exam-history/") {
		write(http.StatusServiceUnavailable, `{"detail": "Service unavailable."}`)
		return
	}

	switch r.URL.Path {
	case "/take-exam/" + examID + "/":
		started := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
		write(http.StatusOK, `{
			"uuid": "`+attemptID+`",
			"exam_details": {"uuid": "`+examID+`", "title": "Entrance", "duration_minutes": 20, "total_questions": 2},
			"questions": [
				{"uuid": "q1", "text": "A?", "question_type": "mcq", "choices": [{"uuid": "c1"}, {"uuid": "c2"}]},
				{"uuid": "q2", "text": "B?", "question_type": "mcq", "choices": [{"uuid": "c3"}]}
			],
			"started_at": "`+started+`",
			"status": "in_progress",
			"total_questions": 2,
			"attempted_questions": 0
		}`)
	case "/take-exam/" + attemptID + "/submit_answer/":
		n := f.submits.Add(1)
		write(http.StatusOK, `{"message": "Answer submitted", "is_correct": true, "attempted_questions": `+strconv.Itoa(int(n))+`, "total_questions": 2}`)
	case "/take-exam/" + attemptID + "/complete/":
		if f.completed.Swap(true) {
			write(http.StatusBadRequest, `{"error": "Exam already completed"}`)
			return
		}
		write(http.StatusOK, `{"message": "Exam completed", "score": "50.00", "correct_answers": 1, "total_questions": 2, "recommended_course": "Nursing"}`)
	case "/take-exam/" + attemptID + "/progress/":
		write(http.StatusOK, `{"attempted_questions": 1, "total_questions": 2, "duration_minutes": 20}`)
	case "/exam-history/":
		write(http.StatusOK, `[{"uuid": "`+attemptID+`", "status": "completed", "score": "80.00"}]`)
	case "/exam-history/" + attemptID + "/":
		write(http.StatusOK, `{"uuid": "`+attemptID+`", "status": "completed", "recommendation_score": "80.00", "correct_answers": 8, "total_questions": 10, "recommended_course": {"code": "CS", "name": "Computer Science"}}`)
	default:
		write(http.StatusNotFound, `{"detail": "Not found."}`)
	}
}

type gateway struct {
	server   *httptest.Server
	upstream *fakeUpstream
	redis    *miniredis.Miniredis
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.Setup()

	up := &fakeUpstream{}
	upSrv := httptest.NewServer(up)
	t.Cleanup(upSrv.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := zerolog.Nop()
	cfg := &config.Config{GinMode: gin.TestMode}
	tr := transport.NewHTTPTransport(transport.Config{BaseURL: upSrv.URL, Timeout: 2 * time.Second}, log)
	store := snapshot.NewStore(rdb, time.Hour, log)
	sessions := service.NewExamSessionService(tr, store, store, log)
	histories := service.NewHistoryService(tr, log)
	auth, err := service.NewAuthService(testSecret)
	require.NoError(t, err)

	r := SetupRouter(auth, middleware.NewRateLimiter(rdb, 100, time.Minute, log), &Handlers{
		ApplicantExam: handler.NewApplicantExamHandler(sessions),
		History:       handler.NewHistoryHandler(histories),
		WS:            handler.NewWSHandler(sessions, log, nil),
		System:        handler.NewSystemHandler(rdb, sessions, log),
	}, cfg)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &gateway{server: srv, upstream: up, redis: mr}
}

func bearer(t *testing.T, userID int, role service.Role) string {
	t.Helper()
	claims := service.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           userID,
		Role:             role,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Data  map[string]json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Metadata struct {
		Warning *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"warning"`
	} `json:"metadata"`
}

func (g *gateway) call(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, g.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	return res.StatusCode, env
}

func field(t *testing.T, env envelope, key string, out interface{}) {
	t.Helper()
	raw, ok := env.Data[key]
	require.True(t, ok, "missing data.%s", key)
	require.NoError(t, json.Unmarshal(raw, out))
}

type sessionJSON struct {
	State          string            `json:"state"`
	CurrentIndex   int               `json:"current_index"`
	StagedAnswers  map[string]string `json:"staged_answers"`
	AttemptedCount int               `json:"attempted_count"`
	TabSwitchCount int               `json:"tab_switch_count"`
	TimeRemaining  int               `json:"time_remaining_seconds"`
}

func TestExamFlowOverHTTP(t *testing.T) {
	g := newGateway(t)
	tok := bearer(t, 11, service.RoleApplicant)
	base := "/api/v1/applicant/exams/" + examID + "/session"

	status, env := g.call(t, http.MethodPost, base, tok, nil)
	require.Equal(t, http.StatusOK, status)
	var s sessionJSON
	field(t, env, "session", &s)
	assert.Equal(t, "LOADED", s.State)
	assert.InDelta(t, 19*60, s.TimeRemaining, 5)
	assert.Equal(t, "Bearer "+tok, g.upstream.lastAuth.Load())

	status, env = g.call(t, http.MethodPost, base+"/submit", tok, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	status, env = g.call(t, http.MethodPut, base+"/answers", tok, map[string]string{"question_id": "q1"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = g.call(t, http.MethodPut, base+"/answers", tok, map[string]string{"question_id": "q1", "choice_id": "c2"})
	require.Equal(t, http.StatusOK, status)
	status, env = g.call(t, http.MethodPost, base+"/tab-switch", tok, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = g.call(t, http.MethodPost, base+"/submit", tok, nil)
	require.Equal(t, http.StatusOK, status)
	field(t, env, "session", &s)
	assert.Equal(t, 1, s.AttemptedCount)
	assert.Equal(t, 0, s.TabSwitchCount)
	assert.Equal(t, 0, s.CurrentIndex)

	status, env = g.call(t, http.MethodPost, base+"/next", tok, nil)
	require.Equal(t, http.StatusOK, status)
	var moved bool
	field(t, env, "moved", &moved)
	assert.True(t, moved)

	status, env = g.call(t, http.MethodPost, base+"/goto", tok, map[string]int{"index": 5})
	require.Equal(t, http.StatusOK, status)
	field(t, env, "moved", &moved)
	assert.False(t, moved)

	assert.True(t, g.redis.Exists("applicant:11:exam:"+examID+":state"))

	status, env = g.call(t, http.MethodPost, base+"/complete", tok, nil)
	require.Equal(t, http.StatusOK, status)
	var result struct {
		Score             float64 `json:"score"`
		RecommendedCourse string  `json:"recommended_course"`
	}
	field(t, env, "result", &result)
	assert.Equal(t, 50.0, result.Score)
	assert.Equal(t, "Nursing", result.RecommendedCourse)
	assert.False(t, g.redis.Exists("applicant:11:exam:"+examID+":state"))

	status, env = g.call(t, http.MethodPut, base+"/answers", tok, map[string]string{"question_id": "q2", "choice_id": "c3"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ALREADY_COMPLETED", env.Error.Code)

	status, _ = g.call(t, http.MethodDelete, base, tok, nil)
	assert.Equal(t, http.StatusOK, status)
	status, env = g.call(t, http.MethodGet, base, tok, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestResumeAfterReload(t *testing.T) {
	g := newGateway(t)
	tok := bearer(t, 12, service.RoleApplicant)
	base := "/api/v1/applicant/exams/" + examID + "/session"

	status, _ := g.call(t, http.MethodPost, base, tok, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = g.call(t, http.MethodPut, base+"/answers", tok, map[string]string{"question_id": "q2", "choice_id": "c3"})
	require.Equal(t, http.StatusOK, status)
	status, _ = g.call(t, http.MethodPost, base+"/goto", tok, map[string]int{"index": 1})
	require.Equal(t, http.StatusOK, status)

	status, env := g.call(t, http.MethodPost, base, tok, nil)
	require.Equal(t, http.StatusOK, status)
	var s sessionJSON
	field(t, env, "session", &s)
	assert.Equal(t, 1, s.CurrentIndex)
	assert.Equal(t, map[string]string{"q2": "c3"}, s.StagedAnswers)
}

func TestAuthAndRoles(t *testing.T) {
	g := newGateway(t)
	base := "/api/v1/applicant/exams/" + examID + "/session"

	status, env := g.call(t, http.MethodPost, base, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "TOKEN_REQUIRED", env.Error.Code)

	status, env = g.call(t, http.MethodPost, base, bearer(t, 1, service.RoleAdmin), nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "APPLICANT_ACCESS_ONLY", env.Error.Code)

	status, env = g.call(t, http.MethodPost, "/api/v1/applicant/exams/not-a-uuid/session", bearer(t, 1, service.RoleApplicant), nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_ID", env.Error.Code)
}

func TestForeignKeyTokenCannotReachSession(t *testing.T) {
	g := newGateway(t)
	base := "/api/v1/applicant/exams/" + examID + "/session"
	owner := bearer(t, 7, service.RoleApplicant)

	status, _ := g.call(t, http.MethodPost, base, owner, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = g.call(t, http.MethodPut, base+"/answers", owner, map[string]string{"question_id": "q1", "choice_id": "c2"})
	require.Equal(t, http.StatusOK, status)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, service.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           7,
		Role:             service.RoleApplicant,
	}).SignedString([]byte("attacker-key"))
	require.NoError(t, err)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		status, env := g.call(t, method, base, forged, nil)
		assert.Equal(t, http.StatusUnauthorized, status, method)
		assert.Equal(t, "TOKEN_INVALID", env.Error.Code, method)
	}

	status, env := g.call(t, http.MethodGet, base, owner, nil)
	require.Equal(t, http.StatusOK, status)
	var s sessionJSON
	field(t, env, "session", &s)
	assert.Equal(t, map[string]string{"q1": "c2"}, s.StagedAnswers)
}

func TestUnknownExamIsNotFound(t *testing.T) {
	g := newGateway(t)

	status, env := g.call(t, http.MethodPost, "/api/v1/applicant/exams/11111111-2222-4333-8444-555555555555/session", bearer(t, 1, service.RoleApplicant), nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Not found.", env.Error.Message)
}

func TestHistoryAndResult(t *testing.T) {
	g := newGateway(t)
	tok := bearer(t, 13, service.RoleApplicant)

	status, env := g.call(t, http.MethodGet, "/api/v1/applicant/history", tok, nil)
	require.Equal(t, http.StatusOK, status)
	var summary struct {
		Total        int `json:"total"`
		AverageScore int `json:"average_score"`
		Passed       int `json:"passed"`
	}
	field(t, env, "summary", &summary)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 80, summary.AverageScore)
	assert.Equal(t, 1, summary.Passed)

	status, env = g.call(t, http.MethodGet, "/api/v1/applicant/history/"+attemptID, tok, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = g.call(t, http.MethodGet, "/api/v1/applicant/results/"+attemptID, tok, nil)
	require.Equal(t, http.StatusOK, status)
	var result struct {
		Score             float64 `json:"score"`
		RecommendedCourse string  `json:"recommended_course"`
		Message           string  `json:"message"`
	}
	field(t, env, "result", &result)
	assert.Equal(t, 80.0, result.Score)
	assert.Equal(t, "Computer Science", result.RecommendedCourse)
	assert.Equal(t, "Exam completed successfully", result.Message)
}

func TestHistoryServedFromCacheWhenUpstreamDown(t *testing.T) {
	g := newGateway(t)
	tok := bearer(t, 14, service.RoleApplicant)

	status, env := g.call(t, http.MethodGet, "/api/v1/applicant/history", tok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, env.Metadata.Warning)
	status, _ = g.call(t, http.MethodGet, "/api/v1/applicant/history/"+attemptID, tok, nil)
	require.Equal(t, http.StatusOK, status)

	g.upstream.historyDown.Store(true)

	status, env = g.call(t, http.MethodGet, "/api/v1/applicant/history?status=completed", tok, nil)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, env.Metadata.Warning)
	assert.Equal(t, "UPSTREAM_ERROR", env.Metadata.Warning.Code)
	var items []struct {
		UUID string `json:"uuid"`
	}
	field(t, env, "items", &items)
	require.Len(t, items, 1)
	assert.Equal(t, attemptID, items[0].UUID)

	status, env = g.call(t, http.MethodGet, "/api/v1/applicant/history/"+attemptID, tok, nil)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, env.Metadata.Warning)

	// No cache for another applicant.
	status, env = g.call(t, http.MethodGet, "/api/v1/applicant/history", bearer(t, 15, service.RoleApplicant), nil)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "UPSTREAM_ERROR", env.Error.Code)

	status, env = g.call(t, http.MethodGet, "/api/v1/applicant/history?status=archived", tok, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestHealth(t *testing.T) {
	g := newGateway(t)

	status, env := g.call(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	var s string
	field(t, env, "status", &s)
	assert.Equal(t, "ok", s)

	g.redis.Close()
	_, env = g.call(t, http.MethodGet, "/health", "", nil)
	field(t, env, "status", &s)
	assert.Equal(t, "degraded", s)
}

func dialStream(t *testing.T, g *gateway, tok string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws/v1/applicant/exams/" + examID + "/stream?token=" + tok
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestSignalStream(t *testing.T) {
	g := newGateway(t)
	tok := bearer(t, 21, service.RoleApplicant)

	_, res, err := dialStream(t, g, tok)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	status, _ := g.call(t, http.MethodPost, "/api/v1/applicant/exams/"+examID+"/session", tok, nil)
	require.Equal(t, http.StatusOK, status)

	conn, _, err := dialStream(t, g, tok)
	require.NoError(t, err)
	defer conn.Close()

	_, res, err = dialStream(t, g, tok)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var tick struct {
		Event     string `json:"event"`
		Remaining int    `json:"remaining"`
	}
	require.NoError(t, conn.ReadJSON(&tick))
	assert.Equal(t, "tick", tick.Event)
	assert.Greater(t, tick.Remaining, 0)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "visibility", "hidden": true}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "ping"}))

	seen := map[string]bool{}
	var tabCount int
	for !(seen["tab_switch"] && seen["pong"]) {
		var ev struct {
			Event string `json:"event"`
			Count int    `json:"count"`
		}
		require.NoError(t, conn.ReadJSON(&ev))
		seen[ev.Event] = true
		if ev.Event == "tab_switch" {
			tabCount = ev.Count
		}
	}
	assert.Equal(t, 1, tabCount)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "complete"}))
	for {
		var ev struct {
			Event  string `json:"event"`
			Result struct {
				Score float64 `json:"score"`
			} `json:"result"`
		}
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Event == "completed" {
			assert.Equal(t, 50.0, ev.Result.Score)
			break
		}
	}
}
