package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GetAvailability handles GET /api/resources/:resource_id/availability.
// horizon_days defaults to 7; 0 returns the current-instant status only.
func (h *Handler) GetAvailability(c *gin.Context) {
	id, err := uuid.Parse(c.Param("resource_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid resource id"})
		return
	}

	horizonDays := 7
	if raw := c.Query("horizon_days"); raw != "" {
		horizonDays, err = strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid horizon_days"})
			return
		}
	}

	availability, err := h.booking.GetAvailability(c.Request.Context(), id, horizonDays)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, availability)
}
