package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

// AuthHandler handles token and session endpoints. Student identities are
// owned by the school system; proctors issue tokens per student ID.
type AuthHandler struct {
	authService *service.AuthService
	log         zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		log:         log.With().Str("component", "auth_handler").Logger(),
	}
}

// Me godoc
// GET /api/v1/auth/me
// Returns the identity carried by the current token.
func (h *AuthHandler) Me(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user_id":     claims.UserID,
		"token_type":  claims.TokenType,
		"permissions": claims.Permissions,
		"expires_at":  claims.ExpiresAt,
	})
}

// StudentLogout godoc
// POST /api/v1/auth/student/logout
// Ends the student's single-device session.
func (h *AuthHandler) StudentLogout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.authService.ResetStudentSession(c.Request.Context(), claims.UserID); err != nil {
		h.log.Error().Err(err).Int("student_id", claims.UserID).Msg("Logout error")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// IssueStudentToken godoc
// POST /api/v1/admin/students/:student_id/token
// Issues a student token. Rejected while the student holds a session.
func (h *AuthHandler) IssueStudentToken(c *gin.Context) {
	studentID, ok := parseStudentID(c)
	if !ok {
		return
	}

	token, err := h.authService.GenerateStudentToken(c.Request.Context(), studentID)
	if err != nil {
		if errors.Is(err, service.ErrSessionAlreadyActive) {
			response.Fail(c, http.StatusConflict, response.ErrSessionActive)
			return
		}
		h.log.Error().Err(err).Int("student_id", studentID).Msg("Issue token error")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"token": token, "student_id": studentID})
}

// ResetStudentSession godoc
// DELETE /api/v1/admin/students/:student_id/session
// Invalidates the student's token so a new device can sign in.
func (h *AuthHandler) ResetStudentSession(c *gin.Context) {
	studentID, ok := parseStudentID(c)
	if !ok {
		return
	}

	if err := h.authService.ResetStudentSession(c.Request.Context(), studentID); err != nil {
		h.log.Error().Err(err).Int("student_id", studentID).Msg("Reset session error")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	h.log.Info().Int("student_id", studentID).Msg("Student session reset")
	response.Success(c, http.StatusOK, gin.H{"message": "session reset"})
}

func parseStudentID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("student_id"))
	if err != nil || id <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, false
	}
	return id, true
}
