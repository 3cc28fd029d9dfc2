package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ResourceStatus is the derived state of a reservable resource.
type ResourceStatus string

const (
	ResourceAvailable   ResourceStatus = "available"
	ResourceInUse       ResourceStatus = "in_use"
	ResourceUnavailable ResourceStatus = "unavailable"
)

// Resource represents a reservable resource (room, equipment, ...).
type Resource struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name          string         `gorm:"uniqueIndex;size:256;not null" json:"name"`
	Tags          datatypes.JSON `json:"tags"`
	BaseAvailable bool           `gorm:"not null;default:true" json:"base_available"`
	Status        ResourceStatus `gorm:"size:32;not null;default:'available'" json:"status"`

	// Administrative maintenance window: unavailable from UnavailableSince,
	// automatically reset after AutoResetHours (if set).
	UnavailableSince *time.Time `json:"unavailable_since,omitempty"`
	AutoResetHours   *int       `json:"auto_reset_hours,omitempty"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Associations
	Reservations []Reservation `gorm:"foreignKey:ResourceID" json:"-"`
}

func (r *Resource) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
