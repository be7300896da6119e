package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/router"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
	"github.com/stemsi/exstem-engine/internal/worker"
)

// Attempt creation and offline submissions allowed per student per minute.
const attemptRateLimit = 10

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Engine")

	proctoring, err := cfg.Proctoring()
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.PolicyFile).Msg("Invalid proctoring policy")
	}
	log.Info().
		Int("max_strikes", proctoring.MaxStrikes).
		Dur("violation_cooldown", proctoring.ViolationCooldown).
		Dur("submit_timeout", proctoring.SubmitTimeout).
		Msg("Proctoring policy loaded")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	testRepo := repository.NewTestRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	testService := service.NewTestService(testRepo, rdb, cfg.TestCacheTTL, log)
	sink := service.NewEventSink(rdb, log)
	submitter := service.NewQueueSubmitter(rdb)
	attemptService := service.NewAttemptService(
		testService,
		attemptRepo,
		sink,
		submitter,
		engine.Policy{
			MaxStrikes:       proctoring.MaxStrikes,
			Cooldown:         proctoring.ViolationCooldown,
			BlockClipboard:   proctoring.BlockClipboard,
			BlockContextMenu: proctoring.BlockContextMenu,
			SubmitTimeout:    proctoring.SubmitTimeout,
		},
		cfg.AttemptIdleTTL,
		log,
	)
	offlineService := service.NewOfflineSubmissionService(
		testService, attemptRepo, submitter, service.NewRedisDigestClaims(rdb), attemptService, log,
	)
	monitorService := service.NewMonitorService(monitorRepo)
	resultService := service.NewResultService(testService, attemptRepo)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService, log),
		Attempt: handler.NewAttemptHandler(testService, attemptService, offlineService, log),
		Test:    handler.NewTestHandler(testService, resultService, log),
		WS:      handler.NewWSHandler(attemptService, log, cfg.AllowedOrigins),
		Monitor: handler.NewMonitorHandler(rdb, testService, monitorService, log),
		System:  handler.NewSystemHandler(pool, rdb, attemptService, sink, log),
		Image:   handler.NewImageHandler(service.NewImageService(cfg.UploadDir, cfg.MaxUploadBytes, log), log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	runWorker := func(start func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			start(workerCtx)
		}()
	}

	limiter := middleware.NewRateLimiter(attemptRateLimit, time.Minute)

	runWorker(sink.Run)
	runWorker(attemptService.RunSweeper)
	runWorker(limiter.RunCleanup)
	runWorker(worker.NewViolationWorker(pool, rdb, log).Start)
	runWorker(worker.NewAnswerWorker(pool, rdb, log).Start)
	runWorker(worker.NewSubmissionWorker(pool, rdb, log).Start)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all published tests before accepting traffic.
	if err := testService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, limiter, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
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

	// 2. Stop attempt loops so their last events reach the sink.
	if err := attemptService.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Attempt sessions did not stop in time")
	}

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(worker.ShutdownTimeout + time.Second):
		log.Warn().Msg("Workers did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}
