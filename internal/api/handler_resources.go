package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"reservation-backend/internal/model"
	"reservation-backend/internal/mw"
)

type createResourceRequest struct {
	Name          string   `json:"name" binding:"required"`
	Tags          []string `json:"tags"`
	BaseAvailable *bool    `json:"base_available"`
}

// CreateResource handles POST /api/resources. Admin only.
func (h *Handler) CreateResource(c *gin.Context) {
	_, admin, ok := h.identity(c)
	if !ok {
		return
	}
	if !admin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return
	}

	var req createResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tags, err := json.Marshal(req.Tags)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tags"})
		return
	}

	res := &model.Resource{
		Name:          req.Name,
		Tags:          datatypes.JSON(tags),
		BaseAvailable: true,
		Status:        model.ResourceAvailable,
	}
	if req.BaseAvailable != nil {
		res.BaseAvailable = *req.BaseAvailable
		if !res.BaseAvailable {
			res.Status = model.ResourceUnavailable
		}
	}

	if err := h.store.CreateResource(c.Request.Context(), res); err != nil {
		h.writeError(c, err)
		return
	}

	mw.PurgePrefix(h.cache, "/api/resources")
	c.JSON(http.StatusCreated, res)
}

// ListResources handles GET /api/resources.
func (h *Handler) ListResources(c *gin.Context) {
	resources, err := h.store.ListResources(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resources)
}

// GetResource handles GET /api/resources/:resource_id, refreshing the
// derived status field on the way out.
func (h *Handler) GetResource(c *gin.Context) {
	id, err := uuid.Parse(c.Param("resource_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid resource id"})
		return
	}

	res, err := h.store.RefreshResourceStatus(c.Request.Context(), id, time.Now().UTC())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type updateResourceStatusRequest struct {
	BaseAvailable    *bool      `json:"base_available"`
	UnavailableSince *time.Time `json:"unavailable_since"`
	AutoResetHours   *int       `json:"auto_reset_hours"`
	ClearWindow      bool       `json:"clear_window"`
}

// UpdateResourceStatus handles PATCH /api/resources/:resource_id/status.
// Admin only: flips the base switch or sets a maintenance window.
func (h *Handler) UpdateResourceStatus(c *gin.Context) {
	_, admin, ok := h.identity(c)
	if !ok {
		return
	}
	if !admin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return
	}

	id, err := uuid.Parse(c.Param("resource_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid resource id"})
		return
	}

	var req updateResourceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	res, err := h.store.GetResource(ctx, id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if req.BaseAvailable != nil {
		res.BaseAvailable = *req.BaseAvailable
	}
	if req.ClearWindow {
		res.UnavailableSince = nil
		res.AutoResetHours = nil
	}
	if req.UnavailableSince != nil {
		res.UnavailableSince = req.UnavailableSince
	}
	if req.AutoResetHours != nil {
		res.AutoResetHours = req.AutoResetHours
	}

	if err := h.store.SaveResource(ctx, res); err != nil {
		h.writeError(c, err)
		return
	}

	res, err = h.store.RefreshResourceStatus(ctx, id, time.Now().UTC())
	if err != nil {
		h.writeError(c, err)
		return
	}

	mw.PurgePrefix(h.cache, "/api/resources")
	c.JSON(http.StatusOK, res)
}
