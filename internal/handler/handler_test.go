package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
	ws "github.com/stemsi/exstem-engine/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{service.ErrAttemptNotFound, http.StatusNotFound, response.ErrNotFound},
		{fmt.Errorf("get: %w", repository.ErrTestNotFound), http.StatusNotFound, response.ErrNotFound},
		{service.ErrAttemptForbidden, http.StatusForbidden, response.ErrForbidden},
		{service.ErrTestNotPublished, http.StatusConflict, response.ErrTestNotPublished},
		{service.ErrAnswerKeyMismatch, http.StatusUnprocessableEntity, response.ErrAnswerKeyMismatch},
		{service.ErrIdempotencyKeyMismatch, http.StatusBadRequest, response.ErrIdempotencyKey},
		{service.ErrAttemptRunning, http.StatusConflict, response.ErrAttemptRunning},
		{fmt.Errorf("%w: empty", engine.ErrInvalidTest), http.StatusUnprocessableEntity, response.ErrInvalidTest},
		{fmt.Errorf("%w: option", engine.ErrInvalidPayload), http.StatusUnprocessableEntity, response.ErrInvalidPayload},
		{engine.ErrAlreadySubmitted, http.StatusConflict, response.ErrAttemptSubmitted},
		{engine.ErrNothingToRetry, http.StatusConflict, response.ErrNothingToRetry},
		{engine.ErrActorStopped, http.StatusGone, response.ErrAttemptClosed},
		{errors.New("boom"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tc := range cases {
		status, code := errorStatus(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestEventMessage(t *testing.T) {
	notice := eventMessage(engine.Event{Type: engine.EventNotice, Message: "Fullscreen required"})
	assert.Equal(t, ws.NoticeResponse{Event: ws.EventNotice, Message: "Fullscreen required"}, notice)

	submitted := eventMessage(engine.Event{
		Type:   engine.EventSubmitted,
		Reason: engine.ReasonTimeout,
		Submission: &engine.Submission{
			Digest:  "abc",
			Payload: &model.SubmitTestPayload{TimeTaken: 600},
		},
	})
	assert.Equal(t, ws.SubmittedResponse{
		Event: ws.EventSubmitted, Reason: engine.ReasonTimeout, TimeTaken: 600, Digest: "abc",
	}, submitted)

	assert.Nil(t, eventMessage(engine.Event{Type: engine.EventAnswer}))
	assert.Nil(t, eventMessage(engine.Event{Type: engine.EventViolation}))
}

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestTestHandler_RejectsBadInputBeforeServices(t *testing.T) {
	h := NewTestHandler(nil, nil, zerolog.Nop())
	r := gin.New()
	r.GET("/tests", h.ListTests)
	r.POST("/tests", h.ImportTest)
	r.POST("/tests/:test_id/publish", h.PublishTest)
	r.GET("/attempts/:attempt_id/review", h.ReviewAttempt)

	rec := serve(r, http.MethodGet, "/tests?status=deleted", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(response.ErrValidation))

	rec = serve(r, http.MethodPost, "/tests", `{"testName":"Tryout","sections":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sections"`)
	assert.Contains(t, rec.Body.String(), `"answerKey"`)

	rec = serve(r, http.MethodPost, "/tests/not-a-uuid/publish", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(response.ErrInvalidID))

	rec = serve(r, http.MethodGet, "/attempts/42/review", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttemptHandler_RequiresClaims(t *testing.T) {
	h := NewAttemptHandler(nil, nil, nil, zerolog.Nop())
	r := gin.New()
	r.POST("/tests/:test_id/attempts", h.CreateAttempt)
	r.PATCH("/tests/:test_id/submit", h.SubmitOffline)
	r.GET("/attempts/:attempt_id", h.GetAttempt)

	for _, c := range []struct{ method, path string }{
		{http.MethodPost, "/tests/x/attempts"},
		{http.MethodPatch, "/tests/x/submit"},
		{http.MethodGet, "/attempts/x"},
	} {
		rec := serve(r, c.method, c.path, "{}")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, c.path)
		assert.Contains(t, rec.Body.String(), string(response.ErrTokenRequired))
	}
}

func TestAttemptHandler_SubmitOfflineValidatesRequest(t *testing.T) {
	h := NewAttemptHandler(nil, nil, nil, zerolog.Nop())
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{TokenType: service.TokenTypeStudent, UserID: 7})
	})
	r.PATCH("/tests/:test_id/submit", h.SubmitOffline)

	rec := serve(r, http.MethodPatch, "/tests/nope/submit", "{}")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(response.ErrInvalidID))

	rec = serve(r, http.MethodPatch, "/tests/5d2c2a10-1f6b-4d0c-9c0f-2a3d4e5f6a02/submit", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(response.ErrInvalidPayload))
}

func TestParseStudentID(t *testing.T) {
	r := gin.New()
	r.GET("/students/:student_id", func(c *gin.Context) {
		id, ok := parseStudentID(c)
		if ok {
			c.String(http.StatusOK, "%d", id)
		}
	})

	rec := serve(r, http.MethodGet, "/students/12", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12", rec.Body.String())

	for _, bad := range []string{"0", "-3", "abc"} {
		rec = serve(r, http.MethodGet, "/students/"+bad, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0m 5s", formatDuration(5e9))
	assert.Equal(t, "1h 1m 1s", formatDuration(3661e9))
	assert.Equal(t, "2d 0h 0m 0s", formatDuration(48*3600e9))
}
