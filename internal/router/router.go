package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/handler"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

// definitionMaxAge is how long clients may reuse a fetched test definition.
const definitionMaxAge = 60

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Attempt *handler.AttemptHandler
	Test    *handler.TestHandler
	WS      *handler.WSHandler
	Monitor *handler.MonitorHandler
	System  *handler.SystemHandler
	Image   *handler.ImageHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// attemptLimiter throttles attempt creation and offline submissions per student.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	attemptLimiter *middleware.RateLimiter,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{
		"Origin", "Content-Type", "Authorization", "X-Request-ID",
		"Idempotency-Key", "X-Submit-Reason",
	}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)
	router.Static("/uploads", cfg.UploadDir)

	// ─── 1. Auth Group ─────────────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.GET("/me", middleware.RequireAnyJWT(authService), handlers.Auth.Me)
		auth.POST("/student/logout", middleware.RequireStudentJWT(authService), handlers.Auth.StudentLogout)
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		studentAPI.GET("/tests/:test_id",
			middleware.PrivateCache(definitionMaxAge),
			handlers.Attempt.GetTestDefinition,
		)
		studentAPI.POST("/tests/:test_id/attempts",
			attemptLimiter.Middleware(),
			handlers.Attempt.CreateAttempt,
		)
		studentAPI.PATCH("/tests/:test_id/submit",
			attemptLimiter.Middleware(),
			handlers.Attempt.SubmitOffline,
		)
		studentAPI.GET("/attempts/:attempt_id", handlers.Attempt.GetAttempt)
		studentAPI.POST("/attempts/:attempt_id/submission/retry", handlers.Attempt.RetrySubmission)
	}

	// ─── 3. WebSocket Group (token via query) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		ws.GET("/student/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	// ─── 4. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		// Tests
		adminAPI.GET("/tests",
			middleware.RequirePermission(model.PermissionTestsRead),
			handlers.Test.ListTests,
		)
		adminAPI.POST("/tests",
			middleware.RequirePermission(model.PermissionTestsPublish),
			handlers.Test.ImportTest,
		)
		adminAPI.GET("/tests/:test_id",
			middleware.RequirePermission(model.PermissionTestsRead),
			handlers.Test.GetTest,
		)
		adminAPI.POST("/tests/:test_id/publish",
			middleware.RequirePermission(model.PermissionTestsPublish),
			handlers.Test.PublishTest,
		)
		adminAPI.POST("/images",
			middleware.RequirePermission(model.PermissionTestsPublish),
			handlers.Image.UploadImage,
		)
		adminAPI.POST("/tests/:test_id/cache/refresh",
			middleware.RequirePermission(model.PermissionTestsPublish),
			handlers.Test.RefreshCache,
		)
		adminAPI.GET("/tests/:test_id/monitor",
			middleware.RequirePermission(model.PermissionTestsMonitor),
			handlers.Monitor.MonitorTestSSE,
		)

		// Results
		adminAPI.GET("/tests/:test_id/attempts",
			middleware.RequireAnyPermission(model.PermissionTestsRead, model.PermissionAttemptsRead),
			handlers.Test.ListResults,
		)
		adminAPI.GET("/attempts/:attempt_id/review",
			middleware.RequirePermission(model.PermissionAttemptsRead),
			handlers.Test.ReviewAttempt,
		)

		// Student sessions
		adminAPI.POST("/students/:student_id/token",
			middleware.RequirePermission(model.PermissionSessionsManage),
			handlers.Auth.IssueStudentToken,
		)
		adminAPI.DELETE("/students/:student_id/session",
			middleware.RequirePermission(model.PermissionSessionsManage),
			handlers.Auth.ResetStudentSession,
		)

		// System monitoring, open to all admins
		adminAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
