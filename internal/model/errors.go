package model

import "errors"

// Validation errors: malformed input, rejected before touching the ledger.
var (
	ErrInvalidRange    = errors.New("end time must be strictly after start time")
	ErrStartInPast     = errors.New("start time must be in the future")
	ErrHorizonTooLarge = errors.New("availability horizon exceeds the maximum")
)

// State errors: the entity or transition does not exist or is not permitted.
var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("not permitted for this user")
	ErrInvalidState        = errors.New("invalid state for this transition")
	ErrResourceUnavailable = errors.New("resource is not available for booking")
)

// Conflict errors: expected contention outcomes, cheap to detect, never
// retried with silently adjusted parameters.
var (
	ErrReservationConflict = errors.New("time window conflicts with an existing reservation")
	ErrOfferExpired        = errors.New("waitlist offer has expired")
	ErrOfferNotPending     = errors.New("waitlist entry has no pending offer")
)

// Transient infrastructure failure that persisted through one internal retry.
var ErrServiceUnavailable = errors.New("service temporarily unavailable")
