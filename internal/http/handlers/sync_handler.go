// Package handlers – manual sync trigger
//
// POST /sync runs one drain cycle for the acting user and reports the
// outcome. A drain already in flight maps to 409; absent connectivity maps
// to 503 so UI clients can distinguish "busy" from "offline".
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-contact-sync/internal/http/middleware"
	"github.com/tbourn/go-contact-sync/internal/services"
)

// SyncHandler exposes the user-triggered drain.
type SyncHandler struct {
	Sync     *services.SyncService
	Sessions *services.SessionService
}

// Trigger handles POST /sync.
func (h *SyncHandler) Trigger(c *gin.Context) {
	userID, err := resolveUser(c, h.Sessions)
	if err != nil {
		fail(c, http.StatusUnauthorized, ErrCodeNoSession, "no active session")
		return
	}

	report, err := h.Sync.Drain(c.Request.Context(), userID)
	switch {
	case errors.Is(err, services.ErrDrainInProgress):
		fail(c, http.StatusConflict, ErrCodeSyncInProgress, "a sync is already running")
		return
	case errors.Is(err, services.ErrOffline):
		fail(c, http.StatusServiceUnavailable, ErrCodeOffline, "remote API unreachable")
		return
	case err != nil:
		middleware.LoggerFrom(c).Error().Err(err).Msg("manual drain failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "sync failed")
		return
	}

	ok(c, http.StatusOK, report)
}
