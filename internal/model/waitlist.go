package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WaitlistStatus is the lifecycle state of a waitlist entry.
type WaitlistStatus string

const (
	WaitlistWaiting   WaitlistStatus = "waiting"
	WaitlistOffered   WaitlistStatus = "offered"
	WaitlistFulfilled WaitlistStatus = "fulfilled"
	WaitlistExpired   WaitlistStatus = "expired"
	WaitlistCancelled WaitlistStatus = "cancelled"
)

// WaitlistEntry queues a user for a fully-booked resource. Position is a
// FIFO rank; an unanswered offer is requeued at the back of the queue.
type WaitlistEntry struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ResourceID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"resource_id"`
	UserID       string         `gorm:"size:128;not null;index" json:"user_id"`
	DesiredStart time.Time      `gorm:"not null" json:"desired_start"`
	DesiredEnd   time.Time      `gorm:"not null" json:"desired_end"`
	FlexibleTime bool           `gorm:"not null;default:false" json:"flexible_time"`
	Status       WaitlistStatus `gorm:"size:32;not null;default:'waiting';index" json:"status"`
	Position     int            `gorm:"not null;index" json:"position"`

	// The concrete window offered when Status is offered. May differ from the
	// desired window for flexible entries.
	OfferStart     *time.Time `json:"offer_start,omitempty"`
	OfferEnd       *time.Time `json:"offer_end,omitempty"`
	OfferExpiresAt *time.Time `gorm:"index" json:"offer_expires_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (w *WaitlistEntry) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
