package api

import (
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"reservation-backend/internal/booking"
	"reservation-backend/internal/model"
	"reservation-backend/internal/store"
	"reservation-backend/internal/waitlist"
)

// Identity headers. Authentication itself is an upstream concern; the
// gateway in front of this service injects the verified identity.
const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
	roleAdmin      = "admin"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	booking  *booking.Service
	waitlist *waitlist.Promoter
	webpush  *webpush.Options
	cache    *cache.Cache
	logger   *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, b *booking.Service, w *waitlist.Promoter, webpushOptions *webpush.Options, cacheStore *cache.Cache, logger *zap.Logger) *Handler {
	return &Handler{
		store:    s,
		booking:  b,
		waitlist: w,
		webpush:  webpushOptions,
		cache:    cacheStore,
		logger:   logger,
	}
}

// identity extracts the caller from the gateway headers. Aborts with 401
// when no user id is present.
func (h *Handler) identity(c *gin.Context) (string, bool, bool) {
	userID := c.GetHeader(headerUserID)
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + headerUserID + " header"})
		return "", false, false
	}
	return userID, c.GetHeader(headerUserRole) == roleAdmin, true
}

// writeError maps domain errors onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidRange),
		errors.Is(err, model.ErrStartInPast),
		errors.Is(err, model.ErrHorizonTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrReservationConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrOfferExpired):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrInvalidState),
		errors.Is(err, model.ErrResourceUnavailable),
		errors.Is(err, model.ErrOfferNotPending):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrServiceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": model.ErrServiceUnavailable.Error()})
	default:
		h.logger.Error("internal error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
