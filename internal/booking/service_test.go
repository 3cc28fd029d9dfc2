package booking

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
	"reservation-backend/internal/db"
	"reservation-backend/internal/model"
	"reservation-backend/internal/notification"
	"reservation-backend/internal/store"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(h int) time.Time {
	return base.Add(time.Duration(h) * time.Hour)
}

type fakeEnqueuer struct {
	windows []struct {
		ResourceID uuid.UUID
		Start, End time.Time
	}
}

func (f *fakeEnqueuer) EnqueuePromotion(ctx context.Context, resourceID uuid.UUID, start, end time.Time) error {
	f.windows = append(f.windows, struct {
		ResourceID uuid.UUID
		Start, End time.Time
	}{resourceID, start, end})
	return nil
}

type fakePublisher struct {
	events []notification.Event
}

func (f *fakePublisher) Publish(evt notification.Event) {
	f.events = append(f.events, evt)
}

func newTestService(t *testing.T) (*Service, store.Store, *fakeEnqueuer, *fakePublisher) {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gormDB))

	s := store.NewGormStore(gormDB, zap.NewNop())
	cfg := &config.BookingConfig{HorizonCapDays: 90, SlotMinutes: 60, Slot: time.Hour}
	enqueuer := &fakeEnqueuer{}
	events := &fakePublisher{}
	svc := NewService(s, cfg, enqueuer, events, zap.NewNop()).
		WithClock(func() time.Time { return base })
	return svc, s, enqueuer, events
}

func newResource(t *testing.T, s store.Store) *model.Resource {
	t.Helper()
	res := &model.Resource{Name: "room-" + uuid.NewString(), BaseAvailable: true, Status: model.ResourceAvailable}
	require.NoError(t, s.CreateResource(context.Background(), res))
	return res
}

func TestService_CreateReservation(t *testing.T) {
	ctx := context.Background()
	svc, s, _, events := newTestService(t)
	res := newResource(t, s)

	t.Run("happy path writes ledger and history", func(t *testing.T) {
		r, err := svc.CreateReservation(ctx, "alice", false, res.ID, at(1), at(2))
		require.NoError(t, err)
		assert.Equal(t, model.ReservationActive, r.Status)
		assert.NotEqual(t, uuid.Nil, r.ID)

		history, err := svc.GetHistory(ctx, r.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, model.HistoryCreated, history[0].Action)
		assert.Equal(t, "alice", history[0].ActorID)

		require.NotEmpty(t, events.events)
		assert.Equal(t, notification.EventReservationCreated, events.events[len(events.events)-1].Type)
	})

	t.Run("overlap is a conflict", func(t *testing.T) {
		_, err := svc.CreateReservation(ctx, "bob", false, res.ID, at(1).Add(30*time.Minute), at(3))
		assert.ErrorIs(t, err, model.ErrReservationConflict)
	})

	t.Run("touching boundary succeeds", func(t *testing.T) {
		_, err := svc.CreateReservation(ctx, "bob", false, res.ID, at(2), at(3))
		assert.NoError(t, err)
	})

	t.Run("invalid range", func(t *testing.T) {
		_, err := svc.CreateReservation(ctx, "alice", false, res.ID, at(2), at(2))
		assert.ErrorIs(t, err, model.ErrInvalidRange)
	})

	t.Run("start in the past", func(t *testing.T) {
		_, err := svc.CreateReservation(ctx, "alice", false, res.ID, at(-1), at(1))
		assert.ErrorIs(t, err, model.ErrStartInPast)
	})

	t.Run("admin backdating requires the config flag", func(t *testing.T) {
		_, err := svc.CreateReservation(ctx, "admin-1", true, res.ID, at(-2), at(-1))
		assert.ErrorIs(t, err, model.ErrStartInPast)

		svc.cfg.AllowBackdatedAdmin = true
		defer func() { svc.cfg.AllowBackdatedAdmin = false }()
		_, err = svc.CreateReservation(ctx, "admin-1", true, res.ID, at(-2), at(-1))
		assert.NoError(t, err)
	})

	t.Run("unknown resource", func(t *testing.T) {
		_, err := svc.CreateReservation(ctx, "alice", false, uuid.New(), at(5), at(6))
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestService_CancelReservation(t *testing.T) {
	ctx := context.Background()
	svc, s, enqueuer, events := newTestService(t)
	res := newResource(t, s)

	r, err := svc.CreateReservation(ctx, "alice", false, res.ID, at(1), at(2))
	require.NoError(t, err)

	t.Run("non-owner is forbidden", func(t *testing.T) {
		_, err := svc.CancelReservation(ctx, "bob", false, r.ID, "")
		assert.ErrorIs(t, err, model.ErrForbidden)
	})

	t.Run("owner cancel frees the window for promotion", func(t *testing.T) {
		cancelled, err := svc.CancelReservation(ctx, "alice", false, r.ID, "plans changed")
		require.NoError(t, err)
		assert.Equal(t, model.ReservationCancelled, cancelled.Status)

		require.Len(t, enqueuer.windows, 1)
		assert.Equal(t, res.ID, enqueuer.windows[0].ResourceID)
		assert.Equal(t, at(1), enqueuer.windows[0].Start)
		assert.Equal(t, at(2), enqueuer.windows[0].End)

		last := events.events[len(events.events)-1]
		assert.Equal(t, notification.EventReservationCancelled, last.Type)
	})

	t.Run("double cancel is invalid state", func(t *testing.T) {
		_, err := svc.CancelReservation(ctx, "alice", false, r.ID, "")
		assert.ErrorIs(t, err, model.ErrInvalidState)
	})

	t.Run("unknown reservation", func(t *testing.T) {
		_, err := svc.CancelReservation(ctx, "alice", false, uuid.New(), "")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestService_ExpireDueReservations(t *testing.T) {
	ctx := context.Background()
	svc, s, enqueuer, _ := newTestService(t)
	res := newResource(t, s)

	_, err := svc.CreateReservation(ctx, "alice", false, res.ID, at(1), at(2))
	require.NoError(t, err)
	_, err = svc.CreateReservation(ctx, "bob", false, res.ID, at(5), at(6))
	require.NoError(t, err)

	svc.WithClock(func() time.Time { return at(3) })

	expired, err := svc.ExpireDueReservations(ctx, 100)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "alice", expired[0].UserID)
	require.Len(t, enqueuer.windows, 1, "expiry frees the window for the waitlist")

	expired, err = svc.ExpireDueReservations(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, expired, "expiry is idempotent")
}

func TestService_GetAvailability(t *testing.T) {
	ctx := context.Background()
	svc, s, _, _ := newTestService(t)
	res := newResource(t, s)

	_, err := svc.CreateReservation(ctx, "alice", false, res.ID, at(2), at(4))
	require.NoError(t, err)

	t.Run("grid marks booked slots busy", func(t *testing.T) {
		av, err := svc.GetAvailability(ctx, res.ID, 1)
		require.NoError(t, err)
		assert.True(t, av.BaseAvailable)
		assert.True(t, av.IsCurrentlyAvailable)
		assert.Len(t, av.Reservations, 1)

		var busyStarts []time.Time
		for _, d := range av.Schedule {
			for _, slot := range d.Slots {
				if !slot.Available {
					busyStarts = append(busyStarts, slot.Start)
				}
			}
		}
		assert.Equal(t, []time.Time{at(2), at(3)}, busyStarts)
	})

	t.Run("zero horizon reports instant status only", func(t *testing.T) {
		av, err := svc.GetAvailability(ctx, res.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, av.Schedule)
		assert.True(t, av.IsCurrentlyAvailable)
	})

	t.Run("instant status false while a reservation is underway", func(t *testing.T) {
		svc.WithClock(func() time.Time { return at(2).Add(30 * time.Minute) })
		defer svc.WithClock(func() time.Time { return base })

		av, err := svc.GetAvailability(ctx, res.ID, 0)
		require.NoError(t, err)
		assert.False(t, av.IsCurrentlyAvailable)
	})

	t.Run("horizon beyond cap is rejected", func(t *testing.T) {
		_, err := svc.GetAvailability(ctx, res.ID, 91)
		assert.ErrorIs(t, err, model.ErrHorizonTooLarge)
	})

	t.Run("base-unavailable resource is busy everywhere", func(t *testing.T) {
		closed := &model.Resource{Name: "closed-" + uuid.NewString(), BaseAvailable: false, Status: model.ResourceUnavailable}
		require.NoError(t, s.CreateResource(ctx, closed))

		av, err := svc.GetAvailability(ctx, closed.ID, 1)
		require.NoError(t, err)
		assert.False(t, av.IsCurrentlyAvailable)
		for _, d := range av.Schedule {
			for _, slot := range d.Slots {
				assert.False(t, slot.Available)
			}
		}
	})

	t.Run("administrative window shows as busy", func(t *testing.T) {
		maint := newResource(t, s)
		since := at(6)
		hours := 2
		maint.UnavailableSince = &since
		maint.AutoResetHours = &hours
		require.NoError(t, s.SaveResource(ctx, maint))

		av, err := svc.GetAvailability(ctx, maint.ID, 1)
		require.NoError(t, err)
		for _, d := range av.Schedule {
			for _, slot := range d.Slots {
				if slot.Start.Equal(at(6)) || slot.Start.Equal(at(7)) {
					assert.False(t, slot.Available)
				}
			}
		}
	})

	t.Run("unknown resource", func(t *testing.T) {
		_, err := svc.GetAvailability(ctx, uuid.New(), 1)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestService_CreateFromOffer_AllowsUnderwayStart(t *testing.T) {
	ctx := context.Background()
	svc, s, _, _ := newTestService(t)
	res := newResource(t, s)

	// The freed window began an hour ago; a regular create would refuse it.
	r, err := svc.CreateFromOffer(ctx, "alice", res.ID, at(-1), at(1))
	require.NoError(t, err)
	assert.Equal(t, model.ReservationActive, r.Status)
}

func TestService_ConcurrentCreates_OneWins(t *testing.T) {
	ctx := context.Background()
	svc, s, _, _ := newTestService(t)
	res := newResource(t, s)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		user := []string{"alice", "bob"}[i]
		go func(u string) {
			_, err := svc.CreateReservation(ctx, u, false, res.ID, at(1), at(2))
			results <- err
		}(user)
	}

	var failures int
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			assert.ErrorIs(t, err, model.ErrReservationConflict)
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one of two racing requests wins the window")
}
