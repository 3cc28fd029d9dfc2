package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reservation-backend/config"
	"reservation-backend/internal/model"
	"reservation-backend/internal/notification"
	"reservation-backend/internal/schedule"
	"reservation-backend/internal/store"
)

// PromotionEnqueuer enqueues a waitlist promotion for a freed window. The
// queue must be durable: a promotion survives a process restart.
type PromotionEnqueuer interface {
	EnqueuePromotion(ctx context.Context, resourceID uuid.UUID, start, end time.Time) error
}

// EventPublisher receives domain events for fan-out. Best-effort.
type EventPublisher interface {
	Publish(evt notification.Event)
}

// Service is the reservation lifecycle manager. It owns the booking
// policy, serializes mutations per resource, and delegates the atomic
// ledger writes to the store.
type Service struct {
	store    store.Store
	cfg      *config.BookingConfig
	enqueuer PromotionEnqueuer
	events   EventPublisher
	logger   *zap.Logger
	locks    *resourceLocks

	// now is swappable in tests.
	now func() time.Time
}

// NewService creates the lifecycle manager.
func NewService(s store.Store, cfg *config.BookingConfig, enqueuer PromotionEnqueuer, events EventPublisher, logger *zap.Logger) *Service {
	return &Service{
		store:    s,
		cfg:      cfg,
		enqueuer: enqueuer,
		events:   events,
		logger:   logger,
		locks:    newResourceLocks(),
		now:      time.Now,
	}
}

// WithClock replaces the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateReservation validates the request and atomically claims the
// window. Two concurrent requests for overlapping windows on the same
// resource cannot both succeed: the per-resource lock plus the store's
// transactional conflict check serialize them.
func (s *Service) CreateReservation(ctx context.Context, actorID string, admin bool, resourceID uuid.UUID, start, end time.Time) (*model.Reservation, error) {
	if err := schedule.Validate(start, end); err != nil {
		return nil, err
	}
	now := s.now()
	if !start.After(now) {
		backdatable := admin && s.cfg.AllowBackdatedAdmin
		if !backdatable {
			return nil, model.ErrStartInPast
		}
	}

	unlock := s.locks.acquire(resourceID)
	defer unlock()

	r := &model.Reservation{
		UserID:     actorID,
		ResourceID: resourceID,
		StartTime:  start.UTC(),
		EndTime:    end.UTC(),
	}
	err := s.retryTransient(ctx, func() error {
		// Fresh model on retry: a failed attempt may have assigned an id.
		r.ID = uuid.Nil
		return s.store.CreateReservation(ctx, r, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("reservation created",
		zap.String("reservation_id", r.ID.String()),
		zap.String("resource_id", resourceID.String()),
		zap.String("user_id", actorID),
		zap.Time("start", r.StartTime),
		zap.Time("end", r.EndTime))
	s.publish(notification.EventReservationCreated, resourceID, r.ID)
	return r, nil
}

// CreateFromOffer claims an offered waitlist window for its user. Unlike
// CreateReservation it admits a start time already underway: the freed
// window may have begun before the offer was accepted.
func (s *Service) CreateFromOffer(ctx context.Context, userID string, resourceID uuid.UUID, start, end time.Time) (*model.Reservation, error) {
	if err := schedule.Validate(start, end); err != nil {
		return nil, err
	}

	unlock := s.locks.acquire(resourceID)
	defer unlock()

	r := &model.Reservation{
		UserID:     userID,
		ResourceID: resourceID,
		StartTime:  start.UTC(),
		EndTime:    end.UTC(),
	}
	err := s.retryTransient(ctx, func() error {
		r.ID = uuid.Nil
		return s.store.CreateReservation(ctx, r, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("reservation created from waitlist offer",
		zap.String("reservation_id", r.ID.String()),
		zap.String("resource_id", resourceID.String()),
		zap.String("user_id", userID))
	s.publish(notification.EventReservationCreated, resourceID, r.ID)
	return r, nil
}

// CancelReservation transitions an active reservation to cancelled and
// durably enqueues a waitlist promotion for the freed window.
func (s *Service) CancelReservation(ctx context.Context, actorID string, admin bool, reservationID uuid.UUID, reason string) (*model.Reservation, error) {
	existing, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.acquire(existing.ResourceID)
	defer unlock()

	var cancelled *model.Reservation
	err = s.retryTransient(ctx, func() error {
		var err error
		cancelled, err = s.store.CancelReservation(ctx, reservationID, actorID, admin, reason, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("reservation cancelled",
		zap.String("reservation_id", cancelled.ID.String()),
		zap.String("resource_id", cancelled.ResourceID.String()),
		zap.String("actor_id", actorID))
	s.publish(notification.EventReservationCancelled, cancelled.ResourceID, cancelled.ID)
	s.enqueueFreedWindow(ctx, cancelled)
	return cancelled, nil
}

// ExpireDueReservations sweeps past-due active reservations into the
// expired state. Idempotent; safe to run from concurrent sweepers.
func (s *Service) ExpireDueReservations(ctx context.Context, batchLimit int) ([]model.Reservation, error) {
	expired, err := s.store.ExpireDueReservations(ctx, s.now(), batchLimit)
	if err != nil {
		return nil, err
	}
	for i := range expired {
		r := &expired[i]
		s.logger.Info("reservation expired",
			zap.String("reservation_id", r.ID.String()),
			zap.String("resource_id", r.ResourceID.String()))
		s.publish(notification.EventReservationExpired, r.ResourceID, r.ID)
		s.enqueueFreedWindow(ctx, r)
	}
	return expired, nil
}

// Availability is the free/busy report for a resource.
type Availability struct {
	ResourceID           uuid.UUID              `json:"resource_id"`
	BaseAvailable        bool                   `json:"base_available"`
	IsCurrentlyAvailable bool                   `json:"is_currently_available"`
	Schedule             []schedule.DaySchedule `json:"schedule"`
	Reservations         []model.Reservation    `json:"reservations"`
}

// GetAvailability overlays the base availability flag, the administrative
// unavailability window, and the active reservations into a free/busy
// grid over the requested horizon. A pure read.
func (s *Service) GetAvailability(ctx context.Context, resourceID uuid.UUID, horizonDays int) (*Availability, error) {
	if horizonDays > s.cfg.HorizonCapDays {
		return nil, model.ErrHorizonTooLarge
	}

	res, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	horizonEnd := now.Add(time.Nanosecond)
	if horizonDays > 0 {
		horizonEnd = now.Add(time.Duration(horizonDays) * 24 * time.Hour)
	}
	window := schedule.Interval{Start: now, End: horizonEnd}

	reservations, err := s.store.ListActiveReservations(ctx, resourceID, window)
	if err != nil {
		return nil, err
	}

	busy := make([]schedule.Interval, 0, len(reservations)+2)
	if !res.BaseAvailable {
		busy = append(busy, window)
	}
	if win, ok := schedule.AdminWindow(res, now, horizonEnd); ok {
		busy = append(busy, win)
	}
	for _, r := range reservations {
		busy = append(busy, schedule.Interval{Start: r.StartTime, End: r.EndTime})
	}

	grid, err := schedule.Build(now, horizonDays, s.cfg.Slot, s.cfg.HorizonCapDays, busy)
	if err != nil {
		return nil, err
	}

	return &Availability{
		ResourceID:           res.ID,
		BaseAvailable:        res.BaseAvailable,
		IsCurrentlyAvailable: res.BaseAvailable && schedule.FreeAt(now, busy),
		Schedule:             grid,
		Reservations:         reservations,
	}, nil
}

// ListUserReservations returns the caller's reservations.
func (s *Service) ListUserReservations(ctx context.Context, userID string, includeCancelled bool) ([]model.Reservation, error) {
	return s.store.ListUserReservations(ctx, userID, includeCancelled)
}

// GetHistory returns the ordered audit trail of a reservation.
func (s *Service) GetHistory(ctx context.Context, reservationID uuid.UUID) ([]model.ReservationHistory, error) {
	return s.store.GetHistory(ctx, reservationID)
}

func (s *Service) publish(t notification.EventType, resourceID, entityID uuid.UUID) {
	if s.events == nil {
		return
	}
	s.events.Publish(notification.Event{
		Type:       t,
		ResourceID: resourceID,
		EntityID:   entityID,
		OccurredAt: s.now().UTC(),
	})
}

func (s *Service) enqueueFreedWindow(ctx context.Context, r *model.Reservation) {
	if s.enqueuer == nil {
		return
	}
	if err := s.enqueuer.EnqueuePromotion(ctx, r.ResourceID, r.StartTime, r.EndTime); err != nil {
		// The queue is durable; a failed enqueue is worth an error log but
		// must not undo the cancellation itself.
		s.logger.Error("failed to enqueue waitlist promotion",
			zap.String("resource_id", r.ResourceID.String()), zap.Error(err))
	}
}

// retryTransient runs op, retrying once with a short backoff on
// infrastructure failures (serialization conflicts, lock timeouts).
// Domain outcomes are returned as-is; a second infrastructure failure is
// surfaced as ErrServiceUnavailable.
func (s *Service) retryTransient(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || isDomainOutcome(err) {
		return err
	}

	s.logger.Warn("transient store failure, retrying once", zap.Error(err))
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}

	err = op()
	if err == nil || isDomainOutcome(err) {
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrServiceUnavailable, err)
}

func isDomainOutcome(err error) bool {
	return errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, model.ErrForbidden) ||
		errors.Is(err, model.ErrInvalidState) ||
		errors.Is(err, model.ErrInvalidRange) ||
		errors.Is(err, model.ErrStartInPast) ||
		errors.Is(err, model.ErrResourceUnavailable) ||
		errors.Is(err, model.ErrReservationConflict)
}
