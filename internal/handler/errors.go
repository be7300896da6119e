package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

// errorStatus maps a service error to its HTTP status and API code.
// Unknown errors map to 500.
func errorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrAttemptNotFound),
		errors.Is(err, repository.ErrTestNotFound),
		errors.Is(err, repository.ErrAttemptNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrAttemptForbidden):
		return http.StatusForbidden, response.ErrForbidden
	case errors.Is(err, service.ErrTestNotPublished):
		return http.StatusConflict, response.ErrTestNotPublished
	case errors.Is(err, service.ErrTestNotDraft):
		return http.StatusConflict, response.ErrTestNotDraft
	case errors.Is(err, service.ErrAnswerKeyMismatch):
		return http.StatusUnprocessableEntity, response.ErrAnswerKeyMismatch
	case errors.Is(err, service.ErrAttemptNotSubmitted):
		return http.StatusConflict, response.ErrAttemptNotSubmitted
	case errors.Is(err, service.ErrAttemptRunning):
		return http.StatusConflict, response.ErrAttemptRunning
	case errors.Is(err, service.ErrIdempotencyKeyMismatch):
		return http.StatusBadRequest, response.ErrIdempotencyKey
	case errors.Is(err, engine.ErrInvalidTest):
		return http.StatusUnprocessableEntity, response.ErrInvalidTest
	case errors.Is(err, engine.ErrInvalidPayload):
		return http.StatusUnprocessableEntity, response.ErrInvalidPayload
	case errors.Is(err, engine.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrAttemptSubmitted
	case errors.Is(err, engine.ErrNothingToRetry):
		return http.StatusConflict, response.ErrNothingToRetry
	case errors.Is(err, engine.ErrActorStopped):
		return http.StatusGone, response.ErrAttemptClosed
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failWith writes the error response for err, logging unexpected ones.
func failWith(c *gin.Context, log zerolog.Logger, err error, msg string) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", response.RequestID(c)).Msg(msg)
	}
	response.Fail(c, status, code)
}
