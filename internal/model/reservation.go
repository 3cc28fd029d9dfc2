package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReservationStatus is the lifecycle state of a reservation.
// Cancelled and expired are terminal.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// Reservation is a time-bounded ownership claim on a resource.
// Active reservations for the same resource are pairwise non-overlapping
// on the half-open interval [StartTime, EndTime).
type Reservation struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     string            `gorm:"size:128;not null;index" json:"user_id"`
	ResourceID uuid.UUID         `gorm:"type:uuid;not null;index" json:"resource_id"`
	StartTime  time.Time         `gorm:"not null;index" json:"start_time"`
	EndTime    time.Time         `gorm:"not null;index" json:"end_time"`
	Status     ReservationStatus `gorm:"size:32;not null;default:'active';index" json:"status"`

	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelReason *string    `gorm:"type:text" json:"cancel_reason,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`

	// Associations
	Resource Resource `gorm:"foreignKey:ResourceID" json:"-"`
}

func (r *Reservation) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
