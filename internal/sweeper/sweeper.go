package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"reservation-backend/config"
	"reservation-backend/internal/model"
)

// reservationExpirer is the slice of the lifecycle manager the sweeper drives.
type reservationExpirer interface {
	ExpireDueReservations(ctx context.Context, batchLimit int) ([]model.Reservation, error)
}

// offerExpirer is the slice of the waitlist promoter the sweeper drives.
type offerExpirer interface {
	ExpireDueOffers(ctx context.Context, batchLimit int) error
}

// Sweeper performs the time-driven state transitions no user request
// triggers: expiring past-due reservations and lapsed waitlist offers.
// Every check is a comparison against persisted state, so a missed tick
// only delays a transition, never corrupts one.
type Sweeper struct {
	cfg      *config.SweeperConfig
	booking  reservationExpirer
	waitlist offerExpirer
	logger   *zap.Logger
}

// New creates the sweeper.
func New(cfg *config.SweeperConfig, booking reservationExpirer, waitlist offerExpirer, logger *zap.Logger) *Sweeper {
	return &Sweeper{cfg: cfg, booking: booking, waitlist: waitlist, logger: logger}
}

// Run starts the sweep loop. It performs one pass immediately, then one
// per interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("sweeper is disabled, not starting")
		return
	}
	s.logger.Info("sweeper started", zap.Duration("interval", s.cfg.Interval))

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper shutting down")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// SweepOnce runs a single bounded pass. A failure in one phase is logged
// and never aborts the other.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	expired, err := s.booking.ExpireDueReservations(ctx, s.cfg.BatchLimit)
	if err != nil {
		s.logger.Error("failed to expire due reservations", zap.Error(err))
	} else if len(expired) > 0 {
		s.logger.Info("expired past-due reservations", zap.Int("count", len(expired)))
	}

	if err := s.waitlist.ExpireDueOffers(ctx, s.cfg.BatchLimit); err != nil {
		s.logger.Error("failed to expire due waitlist offers", zap.Error(err))
	}
}
