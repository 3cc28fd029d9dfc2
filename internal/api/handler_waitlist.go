package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type joinWaitlistRequest struct {
	ResourceID   uuid.UUID `json:"resource_id" binding:"required"`
	DesiredStart time.Time `json:"desired_start" binding:"required"`
	DesiredEnd   time.Time `json:"desired_end" binding:"required"`
	FlexibleTime bool      `json:"flexible_time"`
}

// JoinWaitlist handles POST /api/waitlist.
func (h *Handler) JoinWaitlist(c *gin.Context) {
	userID, _, ok := h.identity(c)
	if !ok {
		return
	}

	var req joinWaitlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.waitlist.Join(c.Request.Context(), userID, req.ResourceID, req.DesiredStart, req.DesiredEnd, req.FlexibleTime)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// AcceptWaitlistOffer handles POST /api/waitlist/:entry_id/accept.
func (h *Handler) AcceptWaitlistOffer(c *gin.Context) {
	userID, _, ok := h.identity(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("entry_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry id"})
		return
	}

	r, err := h.waitlist.AcceptOffer(c.Request.Context(), userID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.purgeAvailability(r.ResourceID)
	c.JSON(http.StatusCreated, r)
}

// LeaveWaitlist handles DELETE /api/waitlist/:entry_id.
func (h *Handler) LeaveWaitlist(c *gin.Context) {
	userID, _, ok := h.identity(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("entry_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry id"})
		return
	}

	if err := h.waitlist.Leave(c.Request.Context(), userID, id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
