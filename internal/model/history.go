package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HistoryAction identifies a reservation state transition.
type HistoryAction string

const (
	HistoryCreated   HistoryAction = "created"
	HistoryCancelled HistoryAction = "cancelled"
	HistoryModified  HistoryAction = "modified"
	HistoryExpired   HistoryAction = "expired"
)

// ReservationHistory is an append-only audit record. One row per state
// transition, written in the same transaction as the transition itself.
type ReservationHistory struct {
	ID            uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	ReservationID uuid.UUID     `gorm:"type:uuid;not null;index" json:"reservation_id"`
	Action        HistoryAction `gorm:"size:32;not null" json:"action"`
	ActorID       string        `gorm:"size:128;not null" json:"actor_id"`
	Details       string        `gorm:"type:text" json:"details"`
	CreatedAt     time.Time     `gorm:"not null;index" json:"created_at"`
}

func (h *ReservationHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}
