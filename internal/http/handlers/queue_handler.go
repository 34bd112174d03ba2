// Package handlers – offline mutation intake
//
// POST /queue records a mutation for later sync; the save is deliberately
// optimistic from the UI's point of view, but a persistence failure is
// surfaced as an error rather than silently dropped. GET /queue lists the
// pending items; DELETE /queue/:id removes one (idempotent).
package handlers

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-contact-sync/internal/domain"
	"github.com/tbourn/go-contact-sync/internal/queue"
	"github.com/tbourn/go-contact-sync/internal/services"
)

// enqueueRequest is the body of POST /queue.
type enqueueRequest struct {
	Kind     domain.Kind        `json:"kind" binding:"required"`
	Op       domain.Operation   `json:"op" binding:"required"`
	TargetID string             `json:"target_id"`
	Fields   map[string]any     `json:"fields"`
	Media    []enqueueMediaItem `json:"media"`
}

// enqueueMediaItem carries one binary attachment, base64 over the wire.
type enqueueMediaItem struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// QueueHandler exposes the persistent operation queue.
type QueueHandler struct {
	Queue    *queue.Queue
	Sessions *services.SessionService
}

// Enqueue handles POST /queue.
func (h *QueueHandler) Enqueue(c *gin.Context) {
	userID, err := resolveUser(c, h.Sessions)
	if err != nil {
		fail(c, http.StatusUnauthorized, ErrCodeNoSession, "no active session")
		return
	}

	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid body: "+err.Error())
		return
	}
	if !domain.ValidOperation(req.Kind, req.Op) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "operation not valid for kind")
		return
	}

	attachments := make([]queue.RawAttachment, 0, len(req.Media))
	for _, m := range req.Media {
		data, err := base64.StdEncoding.DecodeString(m.Data)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid media encoding")
			return
		}
		attachments = append(attachments, queue.RawAttachment{Name: m.Name, MIMEType: m.MIMEType, Data: data})
	}

	item, err := h.Queue.Enqueue(c.Request.Context(), userID, req.Kind, req.Op,
		domain.Payload{Fields: req.Fields}, req.TargetID, attachments...)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeEnqueueFailed, "offline save could not be recorded")
		return
	}
	ok(c, http.StatusCreated, item)
}

// List handles GET /queue.
func (h *QueueHandler) List(c *gin.Context) {
	userID, err := resolveUser(c, h.Sessions)
	if err != nil {
		fail(c, http.StatusUnauthorized, ErrCodeNoSession, "no active session")
		return
	}
	items, err := h.Queue.List(c.Request.Context(), userID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "read queue failed")
		return
	}
	if items == nil {
		items = []domain.QueueItem{}
	}
	ok(c, http.StatusOK, gin.H{"items": items})
}

// Remove handles DELETE /queue/:id. Removal is idempotent; deleting an
// absent id still returns 204.
func (h *QueueHandler) Remove(c *gin.Context) {
	userID, err := resolveUser(c, h.Sessions)
	if err != nil {
		fail(c, http.StatusUnauthorized, ErrCodeNoSession, "no active session")
		return
	}
	if err := h.Queue.Remove(c.Request.Context(), userID, c.Param("id")); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "remove failed")
		return
	}
	noContent(c)
}
