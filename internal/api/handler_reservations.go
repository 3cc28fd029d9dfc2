package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"reservation-backend/internal/mw"
)

type createReservationRequest struct {
	ResourceID uuid.UUID `json:"resource_id" binding:"required"`
	StartTime  time.Time `json:"start_time" binding:"required"`
	EndTime    time.Time `json:"end_time" binding:"required"`
}

// CreateReservation handles POST /api/reservations.
func (h *Handler) CreateReservation(c *gin.Context) {
	userID, admin, ok := h.identity(c)
	if !ok {
		return
	}

	var req createReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := h.booking.CreateReservation(c.Request.Context(), userID, admin, req.ResourceID, req.StartTime, req.EndTime)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.purgeAvailability(req.ResourceID)
	c.JSON(http.StatusCreated, r)
}

type cancelReservationRequest struct {
	Reason string `json:"reason"`
}

// CancelReservation handles DELETE /api/reservations/:reservation_id.
func (h *Handler) CancelReservation(c *gin.Context) {
	userID, admin, ok := h.identity(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("reservation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation id"})
		return
	}

	var req cancelReservationRequest
	// Body is optional on cancellation.
	_ = c.ShouldBindJSON(&req)

	cancelled, err := h.booking.CancelReservation(c.Request.Context(), userID, admin, id, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.purgeAvailability(cancelled.ResourceID)
	c.JSON(http.StatusOK, gin.H{
		"id":           cancelled.ID,
		"status":       cancelled.Status,
		"cancelled_at": cancelled.CancelledAt,
	})
}

// ListMyReservations handles GET /api/reservations.
func (h *Handler) ListMyReservations(c *gin.Context) {
	userID, _, ok := h.identity(c)
	if !ok {
		return
	}

	includeCancelled := c.Query("include_cancelled") == "true"
	reservations, err := h.booking.ListUserReservations(c.Request.Context(), userID, includeCancelled)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservations)
}

// GetHistory handles GET /api/reservations/:reservation_id/history.
func (h *Handler) GetHistory(c *gin.Context) {
	if _, _, ok := h.identity(c); !ok {
		return
	}

	id, err := uuid.Parse(c.Param("reservation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation id"})
		return
	}

	entries, err := h.booking.GetHistory(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// purgeAvailability evicts cached availability responses for a resource
// after its ledger changed.
func (h *Handler) purgeAvailability(resourceID uuid.UUID) {
	mw.PurgePrefix(h.cache, "/api/resources/"+resourceID.String())
}
