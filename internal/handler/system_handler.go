package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/response"
	"github.com/stemsi/exam-gateway/internal/service"
)

// SystemHandler reports gateway health.
type SystemHandler struct {
	rdb            *redis.Client
	sessionService *service.ExamSessionService
	startTime      time.Time
	log            zerolog.Logger
}

func NewSystemHandler(rdb *redis.Client, sessionService *service.ExamSessionService, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:            rdb,
		sessionService: sessionService,
		startTime:      time.Now(),
		log:            log.With().Str("component", "system_handler").Logger(),
	}
}

type healthStatus struct {
	Status         string `json:"status"`
	Redis          string `json:"redis"`
	ActiveSessions int    `json:"active_sessions"`
	Goroutines     int    `json:"goroutines"`
	Uptime         string `json:"uptime"`
}

// Health godoc
// GET /health
// Redis being down degrades autosave only, so the gateway still answers 200.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := healthStatus{
		Status:         "ok",
		Redis:          "ok",
		ActiveSessions: h.sessionService.Active(),
		Goroutines:     runtime.NumGoroutine(),
		Uptime:         time.Since(h.startTime).Round(time.Second).String(),
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		h.log.Warn().Err(err).Msg("Redis ping failed")
		status.Status = "degraded"
		status.Redis = "unavailable"
	}

	response.Success(c, http.StatusOK, status)
}
