package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
)

// TestHandler handles admin test management and result endpoints.
type TestHandler struct {
	tests   *service.TestService
	results *service.ResultService
	log     zerolog.Logger
}

// NewTestHandler creates a new TestHandler.
func NewTestHandler(tests *service.TestService, results *service.ResultService, log zerolog.Logger) *TestHandler {
	return &TestHandler{
		tests:   tests,
		results: results,
		log:     log.With().Str("component", "test_handler").Logger(),
	}
}

// ListTests godoc
// GET /api/v1/admin/tests?status=PUBLISHED&page=1&per_page=10
func (h *TestHandler) ListTests(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	status := model.TestStatus(strings.ToUpper(c.Query("status")))
	switch status {
	case "", model.TestStatusDraft, model.TestStatusPublished, model.TestStatusArchived:
	default:
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
			map[string]string{"status": "status must be one of DRAFT PUBLISHED ARCHIVED"})
		return
	}

	tests, pagination, err := h.tests.List(c.Request.Context(), status, page, perPage)
	if err != nil {
		failWith(c, h.log, err, "List tests error")
		return
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"tests": tests}, pagination)
}

// ImportTest godoc
// POST /api/v1/admin/tests
// Stores an authored definition with its answer key, as draft unless
// publish is set.
func (h *TestHandler) ImportTest(c *gin.Context) {
	var req model.TestImport
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	created, err := h.tests.Import(c.Request.Context(), &req)
	if err != nil {
		failWith(c, h.log, err, "Import test error")
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"test": created})
}

// GetTest godoc
// GET /api/v1/admin/tests/:test_id
func (h *TestHandler) GetTest(c *gin.Context) {
	testID, ok := parseTestID(c)
	if !ok {
		return
	}

	test, err := h.tests.GetByID(c.Request.Context(), testID)
	if err != nil {
		failWith(c, h.log, err, "Get test error")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"test": test})
}

// PublishTest godoc
// POST /api/v1/admin/tests/:test_id/publish
func (h *TestHandler) PublishTest(c *gin.Context) {
	testID, ok := parseTestID(c)
	if !ok {
		return
	}

	if err := h.tests.Publish(c.Request.Context(), testID); err != nil {
		failWith(c, h.log, err, "Publish test error")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "test published successfully"})
}

// RefreshCache godoc
// POST /api/v1/admin/tests/:test_id/cache/refresh
// Rebuilds the cached definition and answer key from Postgres.
func (h *TestHandler) RefreshCache(c *gin.Context) {
	testID, ok := parseTestID(c)
	if !ok {
		return
	}

	if err := h.tests.RefreshCache(c.Request.Context(), testID); err != nil {
		failWith(c, h.log, err, "Refresh cache error")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "test cache refreshed"})
}

// ListResults godoc
// GET /api/v1/admin/tests/:test_id/attempts?page=1&per_page=10
func (h *TestHandler) ListResults(c *gin.Context) {
	testID, ok := parseTestID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	results, pagination, err := h.results.ListByTest(c.Request.Context(), testID, page, perPage)
	if err != nil {
		failWith(c, h.log, err, "List results error")
		return
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"attempts": results}, pagination)
}

// ReviewAttempt godoc
// GET /api/v1/admin/attempts/:attempt_id/review
// Classifies each stored answer as correct, incorrect or skipped.
func (h *TestHandler) ReviewAttempt(c *gin.Context) {
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	review, err := h.results.Review(c.Request.Context(), attemptID)
	if err != nil {
		failWith(c, h.log, err, "Review attempt error")
		return
	}
	response.Success(c, http.StatusOK, review)
}

func parseTestID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
