package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"reservation-backend/config"
	"reservation-backend/internal/booking"
	"reservation-backend/internal/mw"
	"reservation-backend/internal/store"
	"reservation-backend/internal/waitlist"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.ServerConfig, s store.Store, b *booking.Service, w *waitlist.Promoter, webpushOptions *webpush.Options, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)

	handler := NewHandler(s, b, w, webpushOptions, cacheStore, logger)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.POST("/resources", handler.CreateResource)
		api.GET("/resources", caching, handler.ListResources)
		api.GET("/resources/:resource_id", handler.GetResource)
		api.PATCH("/resources/:resource_id/status", handler.UpdateResourceStatus)
		api.GET("/resources/:resource_id/availability", caching, handler.GetAvailability)

		api.POST("/reservations", handler.CreateReservation)
		api.GET("/reservations", handler.ListMyReservations)
		api.DELETE("/reservations/:reservation_id", handler.CancelReservation)
		api.GET("/reservations/:reservation_id/history", handler.GetHistory)

		api.POST("/waitlist", handler.JoinWaitlist)
		api.POST("/waitlist/:entry_id/accept", handler.AcceptWaitlistOffer)
		api.DELETE("/waitlist/:entry_id", handler.LeaveWaitlist)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
