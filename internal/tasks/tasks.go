package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"reservation-backend/config"
	"reservation-backend/internal/schedule"
)

// TypeWaitlistPromote is the queue task emitted whenever a reservation
// window frees up. The queue is redis-backed so promotions survive a
// process restart — cancellation must never lose the freed slot.
const TypeWaitlistPromote = "waitlist:promote"

// PromotePayload carries the freed window to the queue worker.
type PromotePayload struct {
	ResourceID uuid.UUID `json:"resource_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// NewPromoteTask builds the promotion task for a freed window.
func NewPromoteTask(resourceID uuid.UUID, start, end time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(PromotePayload{ResourceID: resourceID, Start: start, End: end})
	if err != nil {
		return nil, fmt.Errorf("marshal promote payload: %w", err)
	}
	return asynq.NewTask(TypeWaitlistPromote, payload,
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	), nil
}

func redisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// Ping verifies redis connectivity before the queue is relied upon.
func Ping(ctx context.Context, cfg *config.RedisConfig) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Client enqueues promotion tasks. Implements booking.PromotionEnqueuer.
type Client struct {
	inner *asynq.Client
}

// NewClient creates the queue client.
func NewClient(cfg *config.RedisConfig) *Client {
	return &Client{inner: asynq.NewClient(redisOpt(cfg))}
}

// EnqueuePromotion durably enqueues a promotion for the freed window.
func (c *Client) EnqueuePromotion(ctx context.Context, resourceID uuid.UUID, start, end time.Time) error {
	task, err := NewPromoteTask(resourceID, start, end)
	if err != nil {
		return err
	}
	if _, err := c.inner.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue promotion: %w", err)
	}
	return nil
}

// Close releases the queue client.
func (c *Client) Close() error {
	return c.inner.Close()
}

// promoter is the slice of the waitlist promoter the worker invokes.
type promoter interface {
	PromoteFreedWindow(ctx context.Context, resourceID uuid.UUID, freed schedule.Interval) error
}

// Worker consumes promotion tasks from the queue.
type Worker struct {
	srv    *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewWorker creates the queue worker bound to the promoter.
func NewWorker(cfg *config.RedisConfig, p promoter, logger *zap.Logger) *Worker {
	srv := asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency: cfg.Concurrency,
	})

	h := &handler{promoter: p, logger: logger}
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeWaitlistPromote, h.handlePromote)

	return &Worker{srv: srv, mux: mux, logger: logger}
}

// Start launches the worker loop.
func (w *Worker) Start() error {
	return w.srv.Start(w.mux)
}

// Shutdown stops the worker, waiting for in-flight tasks.
func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}

type handler struct {
	promoter promoter
	logger   *zap.Logger
}

// handlePromote unpacks a freed window and runs promotion. Errors are
// returned so asynq retries the task.
func (h *handler) handlePromote(ctx context.Context, t *asynq.Task) error {
	var payload PromotePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal promote payload: %w: %v", asynq.SkipRetry, err)
	}

	freed := schedule.Interval{Start: payload.Start, End: payload.End}
	if err := h.promoter.PromoteFreedWindow(ctx, payload.ResourceID, freed); err != nil {
		h.logger.Error("waitlist promotion failed",
			zap.String("resource_id", payload.ResourceID.String()), zap.Error(err))
		return err
	}
	return nil
}
