// Package handlers – cached reads
//
// GET /read/*path proxies a read through the scoped response cache with the
// stale-while-revalidate policy: hits return instantly (possibly stale) and
// revalidate in the background, misses go live and refresh the cache.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-contact-sync/internal/services"
)

// ReadHandler exposes cache-backed reads of the remote API.
type ReadHandler struct {
	Reads    *services.ReadService
	Sessions *services.SessionService
}

// Get handles GET /read/*path.
func (h *ReadHandler) Get(c *gin.Context) {
	userID, err := resolveUser(c, h.Sessions)
	if err != nil {
		fail(c, http.StatusUnauthorized, ErrCodeNoSession, "no active session")
		return
	}

	path := c.Param("path")
	if path == "" || path == "/" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing endpoint path")
		return
	}

	data, err := h.Reads.Fetch(c.Request.Context(), userID, path)
	if err != nil {
		fail(c, http.StatusBadGateway, ErrCodeInternal, "remote read failed")
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}
