package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exam-gateway/internal/config"
	"github.com/stemsi/exam-gateway/internal/handler"
	"github.com/stemsi/exam-gateway/internal/middleware"
	"github.com/stemsi/exam-gateway/internal/response"
	"github.com/stemsi/exam-gateway/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	ApplicantExam *handler.ApplicantExamHandler
	History       *handler.HistoryHandler
	WS            *handler.WSHandler
	System        *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	submitLimiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", handlers.System.Health)

	// ─── 1. Applicant Group (JWT + Role) ───────────────────────────────
	applicantAPI := router.Group("/api/v1/applicant")
	applicantAPI.Use(
		middleware.RequireJWT(authService),
		middleware.RequireRole(service.RoleApplicant),
	)
	{
		exam := applicantAPI.Group("/exams/:exam_id/session")
		{
			exam.POST("", handlers.ApplicantExam.OpenSession)
			exam.GET("", handlers.ApplicantExam.GetSession)
			exam.DELETE("", handlers.ApplicantExam.CloseSession)
			exam.PUT("/answers", handlers.ApplicantExam.SelectAnswer)
			exam.POST("/submit", submitLimiter.Middleware(), handlers.ApplicantExam.SubmitAnswer)
			exam.POST("/next", handlers.ApplicantExam.NextQuestion)
			exam.POST("/previous", handlers.ApplicantExam.PreviousQuestion)
			exam.POST("/goto", handlers.ApplicantExam.GoToQuestion)
			exam.POST("/tab-switch", handlers.ApplicantExam.RecordTabSwitch)
			exam.POST("/sync", handlers.ApplicantExam.SyncProgress)
			exam.POST("/complete", handlers.ApplicantExam.CompleteExam)
		}

		applicantAPI.GET("/results/:uuid", handlers.ApplicantExam.GetResult)
		applicantAPI.GET("/history", handlers.History.ListHistory)
		applicantAPI.GET("/history/:uuid", handlers.History.GetHistoryDetail)
	}

	// ─── 2. WebSocket Group (Query Token Auth) ─────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireWSAuth(authService),
		middleware.RequireRole(service.RoleApplicant),
	)
	{
		ws.GET("/applicant/exams/:exam_id/stream", handlers.WS.ExamSignalStream)
	}

	return router
}
