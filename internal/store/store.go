package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"reservation-backend/internal/model"
	"reservation-backend/internal/schedule"
)

// Store defines the interface for all database operations. The mutating
// reservation operations are atomic: the conflict check, the ledger write
// and the history write happen inside one transaction under a resource
// row lock.
type Store interface {
	DB() *gorm.DB

	// Resource registry
	CreateResource(ctx context.Context, res *model.Resource) error
	GetResource(ctx context.Context, id uuid.UUID) (*model.Resource, error)
	ListResources(ctx context.Context) ([]model.Resource, error)
	SaveResource(ctx context.Context, res *model.Resource) error
	RefreshResourceStatus(ctx context.Context, id uuid.UUID, now time.Time) (*model.Resource, error)

	// Reservation ledger
	CreateReservation(ctx context.Context, r *model.Reservation, now time.Time) error
	CancelReservation(ctx context.Context, id uuid.UUID, actorID string, admin bool, reason string, now time.Time) (*model.Reservation, error)
	ExpireDueReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)
	HasConflict(ctx context.Context, resourceID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (bool, error)
	GetReservation(ctx context.Context, id uuid.UUID) (*model.Reservation, error)
	ListUserReservations(ctx context.Context, userID string, includeCancelled bool) ([]model.Reservation, error)
	ListActiveReservations(ctx context.Context, resourceID uuid.UUID, window schedule.Interval) ([]model.Reservation, error)
	GetHistory(ctx context.Context, reservationID uuid.UUID) ([]model.ReservationHistory, error)

	// Waitlist
	EnqueueWaitlist(ctx context.Context, e *model.WaitlistEntry) error
	GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*model.WaitlistEntry, error)
	ListWaiting(ctx context.Context, resourceID uuid.UUID) ([]model.WaitlistEntry, error)
	HasOpenOffer(ctx context.Context, resourceID uuid.UUID, window schedule.Interval, now time.Time) (bool, error)
	OfferEntry(ctx context.Context, id uuid.UUID, offer schedule.Interval, expiresAt time.Time) (*model.WaitlistEntry, error)
	FulfillEntry(ctx context.Context, id uuid.UUID) error
	RequeueEntry(ctx context.Context, id uuid.UUID) error
	CancelWaitlistEntry(ctx context.Context, id uuid.UUID, userID string) error
	ExpireDueOffers(ctx context.Context, now time.Time, limit int) ([]model.WaitlistEntry, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db     *gorm.DB
	logger *zap.Logger

	// Row-level locks (FOR UPDATE / SKIP LOCKED) are only emitted on
	// dialects that support them; SQLite test databases fall back to the
	// service-level per-resource mutex.
	rowLocks bool
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB, logger *zap.Logger) Store {
	return &gormStore{
		db:       db,
		logger:   logger,
		rowLocks: db.Dialector.Name() == "postgres",
	}
}

// DB exposes the underlying handle for read-only queries in handlers.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) locked(tx *gorm.DB) *gorm.DB {
	if s.rowLocks {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func (s *gormStore) claimLocked(tx *gorm.DB) *gorm.DB {
	if s.rowLocks {
		return tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	return tx
}
