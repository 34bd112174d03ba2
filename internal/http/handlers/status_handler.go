// Package handlers – status endpoint
//
// Serves the pending-count indicator: queue length broken down by kind plus
// whether a drain is currently running. The handler recomputes from the
// durable store on every call rather than trusting an in-memory mirror, so
// any number of UI clients observe a consistent view.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-contact-sync/internal/domain"
	"github.com/tbourn/go-contact-sync/internal/queue"
	"github.com/tbourn/go-contact-sync/internal/services"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Pending domain.PendingCounts `json:"pending"`
	Total   int                  `json:"total"`
	Syncing bool                 `json:"syncing"`
	Online  bool                 `json:"online"`
}

// StatusHandler reports queue backlog and drain state.
type StatusHandler struct {
	Queue    *queue.Queue
	Sync     *services.SyncService
	Sessions *services.SessionService
	Online   func() bool
}

// Get handles GET /status.
func (h *StatusHandler) Get(c *gin.Context) {
	userID, err := resolveUser(c, h.Sessions)
	if err != nil {
		fail(c, http.StatusUnauthorized, ErrCodeNoSession, "no active session")
		return
	}

	counts, err := h.Queue.PendingCounts(c.Request.Context(), userID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "read queue failed")
		return
	}

	online := false
	if h.Online != nil {
		online = h.Online()
	}
	ok(c, http.StatusOK, StatusResponse{
		Pending: counts,
		Total:   counts.Total(),
		Syncing: h.Sync.Syncing(c.Request.Context()),
		Online:  online,
	})
}

// resolveUser picks the acting user: an explicit X-User-ID header wins,
// otherwise the active session. services.ErrNoSession when neither exists.
func resolveUser(c *gin.Context, sessions *services.SessionService) (string, error) {
	if uid := c.GetHeader("X-User-ID"); uid != "" {
		c.Set("userID", uid)
		return uid, nil
	}
	uid, err := sessions.Current(c.Request.Context())
	if err != nil {
		return "", err
	}
	c.Set("userID", uid)
	return uid, nil
}
