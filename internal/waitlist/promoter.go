package waitlist

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reservation-backend/config"
	"reservation-backend/internal/booking"
	"reservation-backend/internal/model"
	"reservation-backend/internal/notification"
	"reservation-backend/internal/schedule"
	"reservation-backend/internal/store"
)

// reservationCreator is the slice of the lifecycle manager the promoter
// needs to convert an accepted offer into a reservation.
type reservationCreator interface {
	CreateFromOffer(ctx context.Context, userID string, resourceID uuid.UUID, start, end time.Time) (*model.Reservation, error)
}

// Promoter hands freed windows to queued waitlist entries in FIFO order.
type Promoter struct {
	store    store.Store
	booking  reservationCreator
	cfg      *config.WaitlistConfig
	enqueuer booking.PromotionEnqueuer
	events   booking.EventPublisher
	logger   *zap.Logger

	now func() time.Time
}

// NewPromoter creates the waitlist promoter.
func NewPromoter(s store.Store, b reservationCreator, cfg *config.WaitlistConfig, enqueuer booking.PromotionEnqueuer, events booking.EventPublisher, logger *zap.Logger) *Promoter {
	return &Promoter{
		store:    s,
		booking:  b,
		cfg:      cfg,
		enqueuer: enqueuer,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the promoter clock. Test hook.
func (p *Promoter) WithClock(now func() time.Time) *Promoter {
	p.now = now
	return p
}

// Join queues a user for a resource. FIFO position is assigned by the
// store; no eligibility check happens here — the user may queue even
// while the resource currently has free slots.
func (p *Promoter) Join(ctx context.Context, userID string, resourceID uuid.UUID, desiredStart, desiredEnd time.Time, flexible bool) (*model.WaitlistEntry, error) {
	if err := schedule.Validate(desiredStart, desiredEnd); err != nil {
		return nil, err
	}
	if _, err := p.store.GetResource(ctx, resourceID); err != nil {
		return nil, err
	}

	entry := &model.WaitlistEntry{
		ResourceID:   resourceID,
		UserID:       userID,
		DesiredStart: desiredStart.UTC(),
		DesiredEnd:   desiredEnd.UTC(),
		FlexibleTime: flexible,
	}
	if err := p.store.EnqueueWaitlist(ctx, entry); err != nil {
		return nil, err
	}

	p.logger.Info("waitlist entry created",
		zap.String("entry_id", entry.ID.String()),
		zap.String("resource_id", resourceID.String()),
		zap.Int("position", entry.Position))
	return entry, nil
}

// PromoteFreedWindow offers a freed window to the first waiting entry it
// fits, in position order. At most one offer per freed slot is
// outstanding at a time; re-promotion happens when that offer lapses.
func (p *Promoter) PromoteFreedWindow(ctx context.Context, resourceID uuid.UUID, freed schedule.Interval) error {
	now := p.now().UTC()

	open, err := p.store.HasOpenOffer(ctx, resourceID, freed, now)
	if err != nil {
		return err
	}
	if open {
		p.logger.Debug("offer already outstanding for freed window",
			zap.String("resource_id", resourceID.String()))
		return nil
	}

	waiting, err := p.store.ListWaiting(ctx, resourceID)
	if err != nil {
		return err
	}

	for _, e := range waiting {
		offer, ok := schedule.FitWindow(freed, e.DesiredStart, e.DesiredEnd, e.FlexibleTime, now)
		if !ok {
			continue
		}
		// The freed span may have been partially rebooked since the
		// cancellation; skip candidates whose fit is already taken.
		conflict, err := p.store.HasConflict(ctx, resourceID, offer.Start, offer.End, nil)
		if err != nil {
			return err
		}
		if conflict {
			continue
		}

		expiresAt := now.Add(p.cfg.OfferWindow)
		offered, err := p.store.OfferEntry(ctx, e.ID, offer, expiresAt)
		if err != nil {
			if errors.Is(err, model.ErrInvalidState) {
				// Raced with another promoter; the entry moved on.
				continue
			}
			return err
		}

		p.logger.Info("waitlist offer made",
			zap.String("entry_id", offered.ID.String()),
			zap.String("resource_id", resourceID.String()),
			zap.Time("offer_start", offer.Start),
			zap.Time("offer_end", offer.End),
			zap.Time("expires_at", expiresAt))
		p.publish(notification.EventWaitlistOffered, resourceID, offered.ID)
		return nil
	}
	return nil
}

// AcceptOffer converts an outstanding offer into a reservation. If the
// slot was reclaimed in the meantime the entry reverts to waiting at the
// back of the queue and the conflict is reported to the caller.
func (p *Promoter) AcceptOffer(ctx context.Context, userID string, entryID uuid.UUID) (*model.Reservation, error) {
	entry, err := p.store.GetWaitlistEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.UserID != userID {
		return nil, model.ErrForbidden
	}
	if entry.Status != model.WaitlistOffered || entry.OfferStart == nil || entry.OfferEnd == nil {
		return nil, model.ErrOfferNotPending
	}
	if entry.OfferExpiresAt != nil && !p.now().Before(*entry.OfferExpiresAt) {
		return nil, model.ErrOfferExpired
	}

	r, err := p.booking.CreateFromOffer(ctx, userID, entry.ResourceID, *entry.OfferStart, *entry.OfferEnd)
	if err != nil {
		if errors.Is(err, model.ErrReservationConflict) {
			// A direct booking beat the acceptance; back to the queue.
			if reqErr := p.store.RequeueEntry(ctx, entry.ID); reqErr != nil {
				p.logger.Error("failed to requeue entry after lost race",
					zap.String("entry_id", entry.ID.String()), zap.Error(reqErr))
			}
		}
		return nil, err
	}

	if err := p.store.FulfillEntry(ctx, entry.ID); err != nil {
		p.logger.Error("offer accepted but entry not marked fulfilled",
			zap.String("entry_id", entry.ID.String()), zap.Error(err))
	}

	p.logger.Info("waitlist offer fulfilled",
		zap.String("entry_id", entry.ID.String()),
		zap.String("reservation_id", r.ID.String()))
	p.publish(notification.EventWaitlistFulfilled, entry.ResourceID, entry.ID)
	return r, nil
}

// Leave removes the caller's entry from the queue.
func (p *Promoter) Leave(ctx context.Context, userID string, entryID uuid.UUID) error {
	return p.store.CancelWaitlistEntry(ctx, entryID, userID)
}

// ExpireDueOffers requeues up to batchLimit offers whose deadline lapsed,
// then re-promotes each freed window so the next candidate in line gets
// its turn.
func (p *Promoter) ExpireDueOffers(ctx context.Context, batchLimit int) error {
	lapsed, err := p.store.ExpireDueOffers(ctx, p.now().UTC(), batchLimit)
	if err != nil {
		return err
	}

	for _, e := range lapsed {
		p.logger.Info("waitlist offer lapsed, requeued at back",
			zap.String("entry_id", e.ID.String()),
			zap.String("resource_id", e.ResourceID.String()))
		if e.OfferStart == nil || e.OfferEnd == nil || p.enqueuer == nil {
			continue
		}
		if err := p.enqueuer.EnqueuePromotion(ctx, e.ResourceID, *e.OfferStart, *e.OfferEnd); err != nil {
			p.logger.Error("failed to re-enqueue promotion for lapsed offer",
				zap.String("entry_id", e.ID.String()), zap.Error(err))
		}
	}
	return nil
}

func (p *Promoter) publish(t notification.EventType, resourceID, entityID uuid.UUID) {
	if p.events == nil {
		return
	}
	p.events.Publish(notification.Event{
		Type:       t,
		ResourceID: resourceID,
		EntityID:   entityID,
		OccurredAt: p.now().UTC(),
	})
}
