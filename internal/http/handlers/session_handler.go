// Package handlers – session lifecycle
//
// PUT /session establishes the active user; DELETE /session clears it.
// Both wipe the affected user's response cache so sessions never inherit
// another session's residual entries.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-contact-sync/internal/http/middleware"
	"github.com/tbourn/go-contact-sync/internal/services"
)

// sessionRequest is the body of PUT /session.
type sessionRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// SessionHandler exposes login/logout for the engine.
type SessionHandler struct {
	Sessions *services.SessionService
}

// Login handles PUT /session.
func (h *SessionHandler) Login(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := h.Sessions.Login(c.Request.Context(), req.UserID); err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("login failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "login failed")
		return
	}
	ok(c, http.StatusOK, gin.H{"user_id": req.UserID})
}

// Logout handles DELETE /session.
func (h *SessionHandler) Logout(c *gin.Context) {
	if err := h.Sessions.Logout(c.Request.Context()); err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("logout failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "logout failed")
		return
	}
	noContent(c)
}
