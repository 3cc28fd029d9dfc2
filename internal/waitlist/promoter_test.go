package waitlist

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"reservation-backend/config"
	"reservation-backend/internal/booking"
	"reservation-backend/internal/db"
	"reservation-backend/internal/model"
	"reservation-backend/internal/notification"
	"reservation-backend/internal/schedule"
	"reservation-backend/internal/store"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(h int) time.Time {
	return base.Add(time.Duration(h) * time.Hour)
}

type fakeEnqueuer struct {
	windows []schedule.Interval
}

func (f *fakeEnqueuer) EnqueuePromotion(ctx context.Context, resourceID uuid.UUID, start, end time.Time) error {
	f.windows = append(f.windows, schedule.Interval{Start: start, End: end})
	return nil
}

type fakePublisher struct {
	events []notification.Event
}

func (f *fakePublisher) Publish(evt notification.Event) {
	f.events = append(f.events, evt)
}

func newTestPromoter(t *testing.T) (*Promoter, *booking.Service, store.Store, *fakeEnqueuer) {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gormDB))

	s := store.NewGormStore(gormDB, zap.NewNop())
	enqueuer := &fakeEnqueuer{}
	events := &fakePublisher{}
	logger := zap.NewNop()

	bookingCfg := &config.BookingConfig{HorizonCapDays: 90, SlotMinutes: 60, Slot: time.Hour}
	svc := booking.NewService(s, bookingCfg, enqueuer, events, logger).
		WithClock(func() time.Time { return base })

	waitlistCfg := &config.WaitlistConfig{OfferWindowMinutes: 15, OfferWindow: 15 * time.Minute}
	p := NewPromoter(s, svc, waitlistCfg, enqueuer, events, logger).
		WithClock(func() time.Time { return base })
	return p, svc, s, enqueuer
}

func newResource(t *testing.T, s store.Store) *model.Resource {
	t.Helper()
	res := &model.Resource{Name: "room-" + uuid.NewString(), BaseAvailable: true, Status: model.ResourceAvailable}
	require.NoError(t, s.CreateResource(context.Background(), res))
	return res
}

func TestPromoter_Join(t *testing.T) {
	ctx := context.Background()
	p, _, s, _ := newTestPromoter(t)
	res := newResource(t, s)

	e, err := p.Join(ctx, "alice", res.ID, at(1), at(2), false)
	require.NoError(t, err)
	assert.Equal(t, model.WaitlistWaiting, e.Status)
	assert.Equal(t, 1, e.Position)

	_, err = p.Join(ctx, "alice", res.ID, at(2), at(2), false)
	assert.ErrorIs(t, err, model.ErrInvalidRange)

	_, err = p.Join(ctx, "alice", uuid.New(), at(1), at(2), false)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPromoter_PromoteFreedWindow_FIFO(t *testing.T) {
	ctx := context.Background()
	p, _, s, _ := newTestPromoter(t)
	res := newResource(t, s)

	e1, err := p.Join(ctx, "alice", res.ID, at(1), at(2), false)
	require.NoError(t, err)
	e2, err := p.Join(ctx, "bob", res.ID, at(1), at(2), false)
	require.NoError(t, err)

	freed := schedule.Interval{Start: at(1), End: at(2)}
	require.NoError(t, p.PromoteFreedWindow(ctx, res.ID, freed))

	first, err := s.GetWaitlistEntry(ctx, e1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WaitlistOffered, first.Status, "lowest position gets the offer")
	require.NotNil(t, first.OfferStart)
	assert.Equal(t, at(1), *first.OfferStart)
	require.NotNil(t, first.OfferExpiresAt)
	assert.Equal(t, base.Add(15*time.Minute), *first.OfferExpiresAt)

	second, err := s.GetWaitlistEntry(ctx, e2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WaitlistWaiting, second.Status, "one offer per freed window")

	// Re-promoting while the offer is open is a no-op.
	require.NoError(t, p.PromoteFreedWindow(ctx, res.ID, freed))
	second, err = s.GetWaitlistEntry(ctx, e2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WaitlistWaiting, second.Status)
}

func TestPromoter_PromoteFreedWindow_SkipsNonFitting(t *testing.T) {
	ctx := context.Background()
	p, _, s, _ := newTestPromoter(t)
	res := newResource(t, s)

	// First in line wants a window the freed span cannot hold; second is
	// flexible and fits anywhere.
	e1, err := p.Join(ctx, "alice", res.ID, at(5), at(9), false)
	require.NoError(t, err)
	e2, err := p.Join(ctx, "bob", res.ID, at(5), at(6), true)
	require.NoError(t, err)

	freed := schedule.Interval{Start: at(1), End: at(3)}
	require.NoError(t, p.PromoteFreedWindow(ctx, res.ID, freed))

	first, err := s.GetWaitlistEntry(ctx, e1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WaitlistWaiting, first.Status)

	second, err := s.GetWaitlistEntry(ctx, e2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WaitlistOffered, second.Status)
	require.NotNil(t, second.OfferStart)
	assert.Equal(t, at(1), *second.OfferStart, "flexible entry slides to the earliest slot")
	assert.Equal(t, at(2), *second.OfferEnd)
}

func TestPromoter_PromoteFreedWindow_SkipsRebookedSpan(t *testing.T) {
	ctx := context.Background()
	p, svc, s, _ := newTestPromoter(t)
	res := newResource(t, s)

	e, err := p.Join(ctx, "alice", res.ID, at(1), at(2), false)
	require.NoError(t, err)

	// The freed span was rebooked directly before promotion ran.
	_, err = svc.CreateReservation(ctx, "carol", false, res.ID, at(1), at(2))
	require.NoError(t, err)

	require.NoError(t, p.PromoteFreedWindow(ctx, res.ID, schedule.Interval{Start: at(1), End: at(2)}))

	got, err := s.GetWaitlistEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WaitlistWaiting, got.Status, "no offer for an already-taken window")
}

func TestPromoter_AcceptOffer(t *testing.T) {
	ctx := context.Background()
	p, _, s, _ := newTestPromoter(t)
	res := newResource(t, s)

	e, err := p.Join(ctx, "alice", res.ID, at(1), at(2), false)
	require.NoError(t, err)
	require.NoError(t, p.PromoteFreedWindow(ctx, res.ID, schedule.Interval{Start: at(1), End: at(2)}))

	t.Run("only the offer holder may accept", func(t *testing.T) {
		_, err := p.AcceptOffer(ctx, "bob", e.ID)
		assert.ErrorIs(t, err, model.ErrForbidden)
	})

	t.Run("acceptance creates the reservation and fulfills the entry", func(t *testing.T) {
		r, err := p.AcceptOffer(ctx, "alice", e.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ReservationActive, r.Status)
		assert.Equal(t, at(1), r.StartTime)
		assert.Equal(t, at(2), r.EndTime)

		got, err := s.GetWaitlistEntry(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, model.WaitlistFulfilled, got.Status)
	})

	t.Run("accepting a fulfilled entry is not pending", func(t *testing.T) {
		_, err := p.AcceptOffer(ctx, "alice", e.ID)
		assert.ErrorIs(t, err, model.ErrOfferNotPending)
	})

	t.Run("unknown entry", func(t *testing.T) {
		_, err := p.AcceptOffer(ctx, "alice", uuid.New())
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestPromoter_AcceptOffer_Expired(t *testing.T) {
	ctx := context.Background()
	p, _, s, _ := newTestPromoter(t)
	res := newResource(t, s)

	e, err := p.Join(ctx, "alice", res.ID, at(1), at(2), false)
	require.NoError(t, err)
	require.NoError(t, p.PromoteFreedWindow(ctx, res.ID, schedule.Interval{Start: at(1), End: at(2)}))

	p.WithClock(func() time.Time { return base.Add(20 * time.Minute) })
	_, err = p.AcceptOffer(ctx, "alice", e.ID)
	assert.ErrorIs(t, err, model.ErrOfferExpired)
}

func TestPromoter_AcceptOffer_LostRaceRequeues(t *testing.T) {
	ctx := context.Background()
	p, svc, s, _ := newTestPromoter(t)
	res := newResource(t, s)

	e1, err := p.Join(ctx, "alice", res.ID, at(1), at(2), false)
	require.NoError(t, err)
	_, err = p.Join(ctx, "bob", res.ID, at(1), at(2), false)
	require.NoError(t, err)
	require.NoError(t, p.PromoteFreedWindow(ctx, res.ID, schedule.Interval{Start: at(1), End: at(2)}))

	// A direct booking takes the slot between offer and acceptance.
	_, err = svc.CreateReservation(ctx, "carol", false, res.ID, at(1), at(2))
	require.NoError(t, err)

	_, err = p.AcceptOffer(ctx, "alice", e1.ID)
	assert.ErrorIs(t, err, model.ErrReservationConflict)

	got, err := s.GetWaitlistEntry(ctx, e1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WaitlistWaiting, got.Status)
	assert.Equal(t, 3, got.Position, "loser rejoins behind bob")
	assert.Nil(t, got.OfferStart)
}

func TestPromoter_ExpireDueOffers(t *testing.T) {
	ctx := context.Background()
	p, _, s, enqueuer := newTestPromoter(t)
	res := newResource(t, s)

	e1, err := p.Join(ctx, "alice", res.ID, at(1), at(2), false)
	require.NoError(t, err)
	e2, err := p.Join(ctx, "bob", res.ID, at(1), at(2), false)
	require.NoError(t, err)
	require.NoError(t, p.PromoteFreedWindow(ctx, res.ID, schedule.Interval{Start: at(1), End: at(2)}))

	p.WithClock(func() time.Time { return base.Add(time.Hour) })
	require.NoError(t, p.ExpireDueOffers(ctx, 100))

	got, err := s.GetWaitlistEntry(ctx, e1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WaitlistWaiting, got.Status)
	assert.Equal(t, 3, got.Position, "unanswered offer costs the spot")

	require.Len(t, enqueuer.windows, 1, "the freed window goes back on the queue")
	assert.Equal(t, at(1), enqueuer.windows[0].Start)
	assert.Equal(t, at(2), enqueuer.windows[0].End)

	// The queued promotion now lands on bob.
	require.NoError(t, p.PromoteFreedWindow(ctx, res.ID, enqueuer.windows[0]))
	next, err := s.GetWaitlistEntry(ctx, e2.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WaitlistOffered, next.Status)
}

func TestPromoter_Leave(t *testing.T) {
	ctx := context.Background()
	p, _, s, _ := newTestPromoter(t)
	res := newResource(t, s)

	e, err := p.Join(ctx, "alice", res.ID, at(1), at(2), false)
	require.NoError(t, err)

	assert.ErrorIs(t, p.Leave(ctx, "bob", e.ID), model.ErrForbidden)
	require.NoError(t, p.Leave(ctx, "alice", e.ID))

	got, err := s.GetWaitlistEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WaitlistCancelled, got.Status)
}
