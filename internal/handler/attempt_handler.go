package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

// maxSubmissionBody bounds offline submission bodies.
const maxSubmissionBody = 1 << 20

// AttemptHandler handles the student attempt endpoints.
type AttemptHandler struct {
	tests    *service.TestService
	attempts *service.AttemptService
	offline  *service.OfflineSubmissionService
	log      zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(
	tests *service.TestService,
	attempts *service.AttemptService,
	offline *service.OfflineSubmissionService,
	log zerolog.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		tests:    tests,
		attempts: attempts,
		offline:  offline,
		log:      log.With().Str("component", "attempt_handler").Logger(),
	}
}

// CreateAttemptResponse is returned when an attempt is opened or resumed.
type CreateAttemptResponse struct {
	AttemptID uuid.UUID   `json:"attempt_id"`
	Created   bool        `json:"created"`
	View      engine.View `json:"view"`
}

// GetTestDefinition godoc
// GET /api/v1/student/tests/:test_id
// Returns the published definition without its answer key.
func (h *AttemptHandler) GetTestDefinition(c *gin.Context) {
	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	test, err := h.tests.Engine(c.Request.Context(), testID)
	if err != nil {
		failWith(c, h.log, err, "Load test error")
		return
	}
	response.Success(c, http.StatusOK, test.Definition())
}

// CreateAttempt godoc
// POST /api/v1/student/tests/:test_id/attempts
// Opens an attempt, or returns the one already running for this student.
func (h *AttemptHandler) CreateAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ctx := c.Request.Context()
	la, created, err := h.attempts.Create(ctx, testID, claims.UserID)
	if err != nil {
		failWith(c, h.log, err, "Create attempt error")
		return
	}

	view, err := la.View(ctx)
	if err != nil {
		failWith(c, h.log, err, "Attempt view error")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, CreateAttemptResponse{
		AttemptID: la.Meta.AttemptID,
		Created:   created,
		View:      view,
	})
}

// GetAttempt godoc
// GET /api/v1/student/attempts/:attempt_id
// Returns the live view, or the stored attempt once it is no longer running.
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ctx := c.Request.Context()
	la, err := h.attempts.Get(attemptID, claims.UserID)
	if err == nil {
		view, verr := la.View(ctx)
		if verr == nil {
			response.Success(c, http.StatusOK, gin.H{"view": view})
			return
		}
		if !errors.Is(verr, engine.ErrActorStopped) {
			failWith(c, h.log, verr, "Attempt view error")
			return
		}
	} else if !errors.Is(err, service.ErrAttemptNotFound) {
		failWith(c, h.log, err, "Resolve attempt error")
		return
	}

	stored, err := h.attempts.GetPersisted(ctx, attemptID, claims.UserID)
	if err != nil {
		failWith(c, h.log, err, "Get attempt error")
		return
	}
	stored.Payload = nil
	response.Success(c, http.StatusOK, gin.H{"attempt": stored})
}

// RetrySubmission godoc
// POST /api/v1/student/attempts/:attempt_id/submission/retry
// Re-sends the stored payload of a failed delivery.
func (h *AttemptHandler) RetrySubmission(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	status, err := h.attempts.Retry(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failWith(c, h.log, err, "Retry submission error")
		return
	}

	response.Success(c, http.StatusOK, model.RetrySubmissionResponse{
		AttemptID: attemptID,
		Delivery:  string(status),
	})
}

// SubmitOffline godoc
// PATCH /api/v1/student/tests/:test_id/submit
// Accepts a payload assembled by an offline client. The Idempotency-Key
// header carries the payload digest; resending the same body is a no-op.
func (h *AttemptHandler) SubmitOffline(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSubmissionBody+1))
	if err != nil || len(body) == 0 || len(body) > maxSubmissionBody {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	attemptID, duplicate, err := h.offline.Accept(
		c.Request.Context(),
		testID,
		claims.UserID,
		body,
		c.GetHeader("Idempotency-Key"),
		c.GetHeader("X-Submit-Reason"),
	)
	if err != nil {
		failWith(c, h.log, err, "Offline submission error")
		return
	}

	if duplicate {
		response.Success(c, http.StatusOK, gin.H{"duplicate": true, "digest": engine.Digest(body)})
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{
		"attempt_id": attemptID,
		"duplicate":  false,
		"digest":     engine.Digest(body),
	})
}
