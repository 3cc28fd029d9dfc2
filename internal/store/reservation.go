package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"reservation-backend/internal/model"
	"reservation-backend/internal/schedule"
)

// activeOverlapQuery builds the half-open overlap predicate for active
// reservations: existing.start < end AND start < existing.end. Touching
// boundaries are not a conflict.
func activeOverlapQuery(tx *gorm.DB, resourceID uuid.UUID, start, end time.Time, exclude *uuid.UUID) *gorm.DB {
	q := tx.Model(&model.Reservation{}).
		Where("resource_id = ? AND status = ? AND start_time < ? AND ? < end_time",
			resourceID, model.ReservationActive, end, start)
	if exclude != nil {
		q = q.Where("id <> ?", *exclude)
	}
	return q
}

// HasConflict reports whether any active reservation for the resource
// overlaps [start, end). Callers that intend to write afterwards must use
// CreateReservation instead, which evaluates the same predicate inside the
// write transaction.
func (s *gormStore) HasConflict(ctx context.Context, resourceID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (bool, error) {
	var count int64
	if err := activeOverlapQuery(s.db.WithContext(ctx), resourceID, start, end, exclude).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("conflict check: %w", err)
	}
	return count > 0, nil
}

// CreateReservation atomically re-validates the resource, checks for
// conflicts, and inserts the reservation together with its history row.
// The resource row is locked for the duration of the transaction so no
// other creation or cancellation for the same resource can interleave
// between the check and the insert.
func (s *gormStore) CreateReservation(ctx context.Context, r *model.Reservation, now time.Time) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var res model.Resource
		if err := s.locked(tx).First(&res, "id = ?", r.ResourceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.ErrNotFound
			}
			return err
		}
		if !res.BaseAvailable {
			return model.ErrResourceUnavailable
		}
		if win, ok := schedule.AdminWindow(&res, now, r.EndTime); ok {
			if schedule.Overlaps(win, schedule.Interval{Start: r.StartTime, End: r.EndTime}) {
				return model.ErrResourceUnavailable
			}
		}

		var count int64
		if err := activeOverlapQuery(tx, r.ResourceID, r.StartTime, r.EndTime, nil).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return model.ErrReservationConflict
		}

		r.Status = model.ReservationActive
		if err := tx.Create(r).Error; err != nil {
			return err
		}
		return tx.Create(&model.ReservationHistory{
			ReservationID: r.ID,
			Action:        model.HistoryCreated,
			ActorID:       r.UserID,
			Details:       fmt.Sprintf("reserved %s to %s", r.StartTime.Format(time.RFC3339), r.EndTime.Format(time.RFC3339)),
		}).Error
	})
	if err != nil {
		if isDomainErr(err) {
			return err
		}
		return fmt.Errorf("create reservation: %w", err)
	}
	return nil
}

// CancelReservation transitions an active reservation to cancelled.
// Ownership, state and the before-start business rule are checked against
// the row under lock; the update and the history row commit together.
func (s *gormStore) CancelReservation(ctx context.Context, id uuid.UUID, actorID string, admin bool, reason string, now time.Time) (*model.Reservation, error) {
	var out *model.Reservation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r model.Reservation
		if err := s.locked(tx).First(&r, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.ErrNotFound
			}
			return err
		}
		if r.UserID != actorID && !admin {
			return model.ErrForbidden
		}
		if r.Status != model.ReservationActive {
			return model.ErrInvalidState
		}
		// Users may only cancel upcoming reservations; admins anytime.
		if !admin && !now.Before(r.StartTime) {
			return model.ErrInvalidState
		}

		r.Status = model.ReservationCancelled
		r.CancelledAt = &now
		if reason != "" {
			r.CancelReason = &reason
		}
		if err := tx.Save(&r).Error; err != nil {
			return err
		}
		if err := tx.Create(&model.ReservationHistory{
			ReservationID: r.ID,
			Action:        model.HistoryCancelled,
			ActorID:       actorID,
			Details:       reason,
		}).Error; err != nil {
			return err
		}
		out = &r
		return nil
	})
	if err != nil {
		if isDomainErr(err) {
			return nil, err
		}
		return nil, fmt.Errorf("cancel reservation: %w", err)
	}
	return out, nil
}

// ExpireDueReservations transitions up to limit past-due active
// reservations to expired, one history row each. Candidates are claimed
// with SKIP LOCKED on Postgres so concurrent sweepers never double-process;
// each row then transitions in its own transaction so a failing row is
// logged and skipped without rolling back the rest of the batch.
func (s *gormStore) ExpireDueReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	var due []model.Reservation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.claimLocked(tx).
			Where("status = ? AND end_time < ?", model.ReservationActive, now).
			Order("end_time").
			Limit(limit).
			Find(&due).Error
	})
	if err != nil {
		return nil, fmt.Errorf("expire due reservations: %w", err)
	}

	var expired []model.Reservation
	for _, r := range due {
		claimed, err := s.expireReservation(ctx, r.ID)
		if err != nil {
			s.logger.Error("skipping reservation that failed to expire",
				zap.String("reservation_id", r.ID.String()), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		r.Status = model.ReservationExpired
		expired = append(expired, r)
	}
	return expired, nil
}

// expireReservation transitions a single reservation with its history row.
// The guarded update keeps the sweep idempotent: a row another sweeper got
// to first reports claimed=false instead of writing a duplicate history.
func (s *gormStore) expireReservation(ctx context.Context, id uuid.UUID) (bool, error) {
	claimed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Reservation{}).
			Where("id = ? AND status = ?", id, model.ReservationActive).
			Update("status", model.ReservationExpired)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		claimed = true
		return tx.Create(&model.ReservationHistory{
			ReservationID: id,
			Action:        model.HistoryExpired,
			ActorID:       "system",
			Details:       "end time passed",
		}).Error
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// GetReservation loads a reservation by id.
func (s *gormStore) GetReservation(ctx context.Context, id uuid.UUID) (*model.Reservation, error) {
	var r model.Reservation
	err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return &r, nil
}

// ListUserReservations returns a user's reservations, newest first.
func (s *gormStore) ListUserReservations(ctx context.Context, userID string, includeCancelled bool) ([]model.Reservation, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if !includeCancelled {
		q = q.Where("status <> ?", model.ReservationCancelled)
	}
	var reservations []model.Reservation
	if err := q.Order("start_time DESC").Find(&reservations).Error; err != nil {
		return nil, fmt.Errorf("list user reservations: %w", err)
	}
	return reservations, nil
}

// ListActiveReservations returns the active reservations for a resource
// overlapping the given window, ordered by start time.
func (s *gormStore) ListActiveReservations(ctx context.Context, resourceID uuid.UUID, window schedule.Interval) ([]model.Reservation, error) {
	var reservations []model.Reservation
	err := s.db.WithContext(ctx).
		Where("resource_id = ? AND status = ? AND start_time < ? AND ? < end_time",
			resourceID, model.ReservationActive, window.End, window.Start).
		Order("start_time").
		Find(&reservations).Error
	if err != nil {
		return nil, fmt.Errorf("list active reservations: %w", err)
	}
	return reservations, nil
}

// GetHistory returns the audit trail of a reservation in write order.
func (s *gormStore) GetHistory(ctx context.Context, reservationID uuid.UUID) ([]model.ReservationHistory, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Reservation{}).
		Where("id = ?", reservationID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	if count == 0 {
		return nil, model.ErrNotFound
	}

	var entries []model.ReservationHistory
	if err := s.db.WithContext(ctx).
		Where("reservation_id = ?", reservationID).
		Order("created_at").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return entries, nil
}

// isDomainErr distinguishes expected business outcomes from
// infrastructure failures so the latter can be wrapped and retried.
func isDomainErr(err error) bool {
	return errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, model.ErrForbidden) ||
		errors.Is(err, model.ErrInvalidState) ||
		errors.Is(err, model.ErrResourceUnavailable) ||
		errors.Is(err, model.ErrReservationConflict) ||
		errors.Is(err, model.ErrOfferExpired) ||
		errors.Is(err, model.ErrOfferNotPending)
}
