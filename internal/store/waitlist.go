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

// nextPosition assigns FIFO ranks: one past the highest position ever
// handed out for the resource, so requeued entries land at the back.
func nextPosition(tx *gorm.DB, resourceID uuid.UUID) (int, error) {
	var max int
	err := tx.Model(&model.WaitlistEntry{}).
		Where("resource_id = ?", resourceID).
		Select("COALESCE(MAX(position), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// EnqueueWaitlist appends a new entry at the back of the resource queue.
func (s *gormStore) EnqueueWaitlist(ctx context.Context, e *model.WaitlistEntry) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pos, err := nextPosition(tx, e.ResourceID)
		if err != nil {
			return err
		}
		e.Position = pos
		e.Status = model.WaitlistWaiting
		return tx.Create(e).Error
	})
	if err != nil {
		return fmt.Errorf("enqueue waitlist entry: %w", err)
	}
	return nil
}

// GetWaitlistEntry loads an entry by id.
func (s *gormStore) GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*model.WaitlistEntry, error) {
	var e model.WaitlistEntry
	err := s.db.WithContext(ctx).First(&e, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get waitlist entry: %w", err)
	}
	return &e, nil
}

// ListWaiting returns the waiting entries for a resource in FIFO order.
func (s *gormStore) ListWaiting(ctx context.Context, resourceID uuid.UUID) ([]model.WaitlistEntry, error) {
	var entries []model.WaitlistEntry
	err := s.db.WithContext(ctx).
		Where("resource_id = ? AND status = ?", resourceID, model.WaitlistWaiting).
		Order("position").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list waiting entries: %w", err)
	}
	return entries, nil
}

// HasOpenOffer reports whether an unexpired offer overlapping the window
// is already outstanding for the resource. At most one offer per freed
// slot may be open at a time.
func (s *gormStore) HasOpenOffer(ctx context.Context, resourceID uuid.UUID, window schedule.Interval, now time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.WaitlistEntry{}).
		Where("resource_id = ? AND status = ? AND offer_expires_at > ?", resourceID, model.WaitlistOffered, now).
		Where("offer_start < ? AND ? < offer_end", window.End, window.Start).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check open offers: %w", err)
	}
	return count > 0, nil
}

// OfferEntry promotes a waiting entry to offered with the concrete window
// and deadline. The transition is guarded so a concurrent promoter cannot
// offer the same entry twice.
func (s *gormStore) OfferEntry(ctx context.Context, id uuid.UUID, offer schedule.Interval, expiresAt time.Time) (*model.WaitlistEntry, error) {
	var out *model.WaitlistEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var e model.WaitlistEntry
		if err := s.locked(tx).First(&e, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.ErrNotFound
			}
			return err
		}
		if e.Status != model.WaitlistWaiting {
			return model.ErrInvalidState
		}
		e.Status = model.WaitlistOffered
		e.OfferStart = &offer.Start
		e.OfferEnd = &offer.End
		e.OfferExpiresAt = &expiresAt
		if err := tx.Save(&e).Error; err != nil {
			return err
		}
		out = &e
		return nil
	})
	if err != nil {
		if isDomainErr(err) {
			return nil, err
		}
		return nil, fmt.Errorf("offer waitlist entry: %w", err)
	}
	return out, nil
}

// FulfillEntry marks an offered entry as fulfilled after its reservation
// was created.
func (s *gormStore) FulfillEntry(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&model.WaitlistEntry{}).
		Where("id = ? AND status = ?", id, model.WaitlistOffered).
		Update("status", model.WaitlistFulfilled)
	if res.Error != nil {
		return fmt.Errorf("fulfill waitlist entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ErrInvalidState
	}
	return nil
}

// RequeueEntry sends an offered entry back to waiting at the back of the
// queue, clearing its outstanding offer. Used both when an offer lapses and
// when acceptance loses the race for the slot. Only the offered state may
// requeue: fulfilled and cancelled are terminal, so a late requeue after a
// racing acceptance cannot resurrect an entry whose reservation exists.
func (s *gormStore) RequeueEntry(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var e model.WaitlistEntry
		if err := s.locked(tx).First(&e, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.ErrNotFound
			}
			return err
		}
		if e.Status != model.WaitlistOffered {
			return model.ErrInvalidState
		}
		pos, err := nextPosition(tx, e.ResourceID)
		if err != nil {
			return err
		}
		res := tx.Model(&model.WaitlistEntry{}).
			Where("id = ? AND status = ?", e.ID, model.WaitlistOffered).
			Updates(map[string]any{
				"status":           model.WaitlistWaiting,
				"position":         pos,
				"offer_start":      nil,
				"offer_end":        nil,
				"offer_expires_at": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return model.ErrInvalidState
		}
		return nil
	})
	if err != nil {
		if isDomainErr(err) {
			return err
		}
		return fmt.Errorf("requeue waitlist entry: %w", err)
	}
	return nil
}

// CancelWaitlistEntry removes a user's own entry from the queue.
func (s *gormStore) CancelWaitlistEntry(ctx context.Context, id uuid.UUID, userID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var e model.WaitlistEntry
		if err := s.locked(tx).First(&e, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.ErrNotFound
			}
			return err
		}
		if e.UserID != userID {
			return model.ErrForbidden
		}
		if e.Status != model.WaitlistWaiting && e.Status != model.WaitlistOffered {
			return model.ErrInvalidState
		}
		return tx.Model(&model.WaitlistEntry{}).Where("id = ?", e.ID).
			Update("status", model.WaitlistCancelled).Error
	})
	if err != nil {
		if isDomainErr(err) {
			return err
		}
		return fmt.Errorf("cancel waitlist entry: %w", err)
	}
	return nil
}

// ExpireDueOffers reverts up to limit offers whose deadline passed without
// acceptance back to waiting, requeued at the back so an unresponsive user
// cannot block the queue. Candidates are claimed with SKIP LOCKED on
// Postgres; each entry then requeues in its own transaction so a failing
// row is logged and skipped without rolling back the rest of the batch.
// Returns the affected entries with their freed offer windows still
// populated so the promoter can re-promote them.
func (s *gormStore) ExpireDueOffers(ctx context.Context, now time.Time, limit int) ([]model.WaitlistEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var due []model.WaitlistEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.claimLocked(tx).
			Where("status = ? AND offer_expires_at <= ?", model.WaitlistOffered, now).
			Order("offer_expires_at").
			Limit(limit).
			Find(&due).Error
	})
	if err != nil {
		return nil, fmt.Errorf("expire due offers: %w", err)
	}

	var lapsed []model.WaitlistEntry
	for _, e := range due {
		claimed, err := s.lapseOffer(ctx, e)
		if err != nil {
			s.logger.Error("skipping waitlist offer that failed to lapse",
				zap.String("entry_id", e.ID.String()), zap.Error(err))
			continue
		}
		if claimed {
			lapsed = append(lapsed, e)
		}
	}
	return lapsed, nil
}

// lapseOffer requeues a single lapsed offer. The guarded update reports
// claimed=false when the entry was accepted or cancelled in the meantime.
func (s *gormStore) lapseOffer(ctx context.Context, e model.WaitlistEntry) (bool, error) {
	claimed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pos, err := nextPosition(tx, e.ResourceID)
		if err != nil {
			return err
		}
		res := tx.Model(&model.WaitlistEntry{}).
			Where("id = ? AND status = ?", e.ID, model.WaitlistOffered).
			Updates(map[string]any{
				"status":           model.WaitlistWaiting,
				"position":         pos,
				"offer_start":      nil,
				"offer_end":        nil,
				"offer_expires_at": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		claimed = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}
