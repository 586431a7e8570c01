package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/config"
	"github.com/stemsi/exam-gateway/internal/database"
	"github.com/stemsi/exam-gateway/internal/handler"
	"github.com/stemsi/exam-gateway/internal/logger"
	"github.com/stemsi/exam-gateway/internal/middleware"
	"github.com/stemsi/exam-gateway/internal/router"
	"github.com/stemsi/exam-gateway/internal/service"
	"github.com/stemsi/exam-gateway/internal/snapshot"
	"github.com/stemsi/exam-gateway/internal/transport"
	"github.com/stemsi/exam-gateway/internal/validator"
	"github.com/stemsi/exam-gateway/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("upstream", cfg.UpstreamURL).
		Msg("Starting Exam Gateway")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Upstream Transport & Snapshots ────────────────────────────────
	examTransport := transport.NewHTTPTransport(transport.Config{
		BaseURL: cfg.UpstreamURL,
		Timeout: cfg.UpstreamTimeout,
	}, log)
	snapshotStore := snapshot.NewStore(rdb, cfg.SnapshotTTL, log)
	autosaveWorker := worker.NewAutosaveWorker(snapshotStore, log)

	// ─── Initialize Services ──────────────────────────────────────────
	authService, err := service.NewAuthService(cfg.JWTSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("JWT_SECRET must be set")
	}
	sessionService := service.NewExamSessionService(examTransport, snapshotStore, autosaveWorker, log)
	historyService := service.NewHistoryService(examTransport, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		ApplicantExam: handler.NewApplicantExamHandler(sessionService),
		History:       handler.NewHistoryHandler(historyService),
		WS:            handler.NewWSHandler(sessionService, log, cfg.AllowedOrigins),
		System:        handler.NewSystemHandler(rdb, sessionService, log),
	}
	submitLimiter := middleware.NewRateLimiter(rdb, cfg.SubmitRatePerMinute, time.Minute, log)

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	workers.Add(2)
	go func() {
		defer workers.Done()
		autosaveWorker.Start(workerCtx)
	}()
	go func() {
		defer workers.Done()
		evictIdle(workerCtx, sessionService, historyService, cfg.SnapshotTTL)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, submitLimiter, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers; the autosave worker drains pending snapshots.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// evictIdle drops sessions and history caches nobody touched for maxIdle.
// Session snapshots stay in Redis until the same TTL expires them.
func evictIdle(ctx context.Context, sessions *service.ExamSessionService, histories *service.HistoryService, maxIdle time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.EvictIdle(maxIdle)
			histories.EvictIdle(maxIdle)
		}
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
