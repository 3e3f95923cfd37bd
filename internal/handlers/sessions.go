package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/idbridge/internal/services"
	"github.com/charlesng35/idbridge/pkg/response"
)

// SessionHandler exposes the synchronous session lifecycle API.
type SessionHandler struct {
	service *services.VerificationService
}

type createSessionRequest struct {
	UserReference    string `json:"user_reference" validate:"omitempty,max=128"`
	VerificationType string `json:"verification_type" validate:"omitempty,max=64"`
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(service *services.VerificationService) (*SessionHandler, error) {
	if service == nil {
		return nil, errors.New("session handler: verification service is required")
	}
	return &SessionHandler{service: service}, nil
}

// POST /create-session
func (h *SessionHandler) Create(c *gin.Context) {
	var body createSessionRequest
	if !bindAndValidate(c, &body) {
		return
	}

	created, err := h.service.CreateSession(c.Request.Context(),
		strings.TrimSpace(body.UserReference), body.VerificationType)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, created)
}

// GET /verification-status/:sessionId
func (h *SessionHandler) Status(c *gin.Context) {
	sessionID := c.Param("sessionId")
	resync := !strings.EqualFold(c.DefaultQuery("resync", "true"), "false")

	session, err := h.service.GetStatus(c.Request.Context(), sessionID, resync)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session_id":  session.SessionID,
		"status":      session.Status,
		"created_at":  session.CreatedAt,
		"updated_at":  session.UpdatedAt,
		"verified_at": session.VerifiedAt,
	})
}

// DELETE /user-data/:userReference
func (h *SessionHandler) DeleteUserData(c *gin.Context) {
	userReference := c.Param("userReference")

	deleted, err := h.service.DeleteUserData(c.Request.Context(), userReference)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":          fmt.Sprintf("deleted data for %d session(s)", deleted),
		"sessions_deleted": deleted,
	})
}

// GET /stats
func (h *SessionHandler) Stats(c *gin.Context) {
	stats, err := h.service.GetStatistics(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, stats)
}
