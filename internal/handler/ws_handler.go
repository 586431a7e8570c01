package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/examerr"
	"github.com/stemsi/exam-gateway/internal/middleware"
	"github.com/stemsi/exam-gateway/internal/response"
	"github.com/stemsi/exam-gateway/internal/service"
	ws "github.com/stemsi/exam-gateway/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler drives an open session from the browser: it delivers the
// one-second tick and receives page-visibility changes.
type WSHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
	tickInterval   time.Duration
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.ExamSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
		tickInterval:   time.Second,
	}
}

// ExamSignalStream godoc
// WS /ws/v1/applicant/exams/:exam_id/stream
// Streams timer ticks to the client and records tab switches. The session
// must be opened over HTTP first; one stream per session.
func (h *WSHandler) ExamSignalStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	parsed, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	examID := parsed.String()
	userID := claims.UserID

	// Admission happens before the upgrade so a refusal is a plain HTTP error.
	stream, err := h.sessionService.AttachStream(userID, examID)
	if err != nil {
		response.FailErr(c, err)
		return
	}
	defer stream.Detach()

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Int("user_id", userID).
		Str("exam_id", examID).
		Logger()
	wsLog.Info().Msg("Applicant connected")

	streamCtx, stop := context.WithCancel(upstreamContext(c))
	defer stop()

	go h.tickLoop(streamCtx, conn, wsLog, stream)

	for {
		var msg ws.RequestPayload
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionVisibility:
			h.handleVisibility(streamCtx, conn, stream, msg.Hidden)
		case ws.ActionComplete:
			h.handleComplete(streamCtx, conn, wsLog, stream)
		case ws.ActionPing:
			conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			conn.WriteError(string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}
	}
}

// tickLoop decrements the session timer once per interval. time_up is sent
// once at the zero crossing; completing the exam is left to the client.
func (h *WSHandler) tickLoop(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, stream *service.Stream) {
	ticker := time.NewTicker(h.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remaining, expired, err := stream.Tick()
			if err != nil {
				// Session closed or reopened over HTTP; end the stream.
				conn.WriteError(string(response.ErrNotFound), examerr.MessageOf(err))
				conn.CloseWith(websocket.CloseNormalClosure, "session closed")
				return
			}
			if err := conn.WriteTyped(ws.TickResponse{Event: ws.EventTick, Remaining: remaining}); err != nil {
				wsLog.Debug().Err(err).Msg("Tick write failed")
				conn.Close()
				return
			}
			if expired {
				wsLog.Info().Msg("Exam time is up")
				conn.WriteTyped(ws.TimeUpResponse{Event: ws.EventTimeUp})
			}
		}
	}
}

func (h *WSHandler) handleVisibility(ctx context.Context, conn *ws.Conn, stream *service.Stream, hidden bool) {
	if !hidden {
		return
	}
	count, err := stream.TabSwitch(ctx)
	if err != nil {
		conn.WriteError(string(errorCode(err)), examerr.MessageOf(err))
		return
	}
	conn.WriteTyped(ws.TabSwitchResponse{Event: ws.EventTabSwitch, Count: count})
}

func (h *WSHandler) handleComplete(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, stream *service.Stream) {
	result, err := stream.Complete(ctx)
	if err != nil {
		wsLog.Warn().Err(err).Msg("Complete over stream failed")
		conn.WriteError(string(errorCode(err)), examerr.MessageOf(err))
		return
	}
	conn.WriteTyped(ws.CompletedResponse{Event: ws.EventCompleted, Result: result})
}

// errorCode picks the API error code for a stream error event.
func errorCode(err error) response.ErrCode {
	if errors.Is(err, service.ErrStreamAttached) {
		return response.ErrStreamAttached
	}
	switch examerr.KindOf(err) {
	case examerr.KindValidation:
		return response.ErrValidation
	case examerr.KindNotFound:
		return response.ErrNotFound
	case examerr.KindAlreadyCompleted:
		return response.ErrAlreadyCompleted
	case examerr.KindNetwork:
		return response.ErrUpstream
	}
	return response.ErrInternal
}
