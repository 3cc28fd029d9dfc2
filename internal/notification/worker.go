package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"reservation-backend/internal/model"
)

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real Sender implementation using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool fans domain events out to the push subscriptions watching the
// affected resource. Delivery is best-effort: a full queue drops the event
// rather than blocking a reservation operation.
type WorkerPool struct {
	size    int
	jobs    chan Event
	db      *gorm.DB
	webpush *webpush.Options
	sender  Sender
	logger  *zap.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, logger *zap.Logger) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Event, size*16),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		logger:  logger,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.logger.Debug("notification worker started", zap.Int("worker", id))
	for {
		select {
		case evt := <-wp.jobs:
			wp.deliver(ctx, evt)
		case <-ctx.Done():
			wp.logger.Debug("notification worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Publish enqueues an event for fan-out without blocking the caller.
func (wp *WorkerPool) Publish(evt Event) {
	select {
	case wp.jobs <- evt:
	default:
		wp.logger.Warn("notification queue full, dropping event",
			zap.String("type", string(evt.Type)),
			zap.String("resource_id", evt.ResourceID.String()))
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Event {
	return wp.jobs
}

func (wp *WorkerPool) deliver(ctx context.Context, evt Event) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN subscription_resource_mapping srm ON srm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("srm.resource_id = ?", evt.ResourceID).
		Find(&subscriptions).Error
	if err != nil {
		wp.logger.Error("failed to fetch subscriptions",
			zap.String("resource_id", evt.ResourceID.String()), zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	var res model.Resource
	label := evt.ResourceID.String()
	if err := wp.db.WithContext(ctx).Select("name").First(&res, "id = ?", evt.ResourceID).Error; err == nil && res.Name != "" {
		label = res.Name
	}

	payload, err := json.Marshal(map[string]string{
		"type":     string(evt.Type),
		"resource": label,
		"message":  messageFor(evt.Type, label),
	})
	if err != nil {
		return
	}

	wp.logger.Info("sending notifications",
		zap.String("type", string(evt.Type)),
		zap.String("resource", label),
		zap.Int("subscribers", len(subscriptions)))

	for _, sub := range subscriptions {
		wp.send(ctx, sub, payload)
	}
}

func messageFor(t EventType, resource string) string {
	switch t {
	case EventReservationCancelled, EventReservationExpired:
		return fmt.Sprintf("A slot on %s just freed up", resource)
	case EventWaitlistOffered:
		return fmt.Sprintf("Your waitlisted slot on %s is ready to claim", resource)
	case EventWaitlistFulfilled:
		return fmt.Sprintf("Your waitlist booking on %s is confirmed", resource)
	default:
		return fmt.Sprintf("%s was booked", resource)
	}
}

// send pushes one notification and drops subscriptions the push service
// reports as gone.
func (wp *WorkerPool) send(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.logger.Error("failed to send notification",
			zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		wp.logger.Info("deleting expired subscription", zap.String("endpoint", sub.Endpoint))
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			wp.logger.Error("failed to delete expired subscription",
				zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}
