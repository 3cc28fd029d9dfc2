package notification

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a core domain event.
type EventType string

const (
	EventReservationCreated   EventType = "reservation.created"
	EventReservationCancelled EventType = "reservation.cancelled"
	EventReservationExpired   EventType = "reservation.expired"
	EventWaitlistOffered      EventType = "waitlist.offered"
	EventWaitlistFulfilled    EventType = "waitlist.fulfilled"
)

// Event is emitted by the lifecycle manager and the waitlist promoter on
// every state transition. It carries the affected entity and its resource;
// delivery guarantees are the consumer's concern.
type Event struct {
	Type       EventType `json:"type"`
	ResourceID uuid.UUID `json:"resource_id"`
	EntityID   uuid.UUID `json:"entity_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
