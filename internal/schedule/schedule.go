package schedule

import (
	"time"

	"reservation-backend/internal/model"
)

// Interval is a half-open time range [Start, End). End is exclusive, so
// back-to-back intervals do not overlap.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the length of the interval.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Contains reports whether t falls inside [Start, End).
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Overlaps reports whether two half-open intervals intersect. Touching
// boundaries (a ends exactly where b starts) are not an overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Validate rejects windows whose end is not strictly after their start.
func Validate(start, end time.Time) error {
	if !end.After(start) {
		return model.ErrInvalidRange
	}
	return nil
}

// AdminWindow returns the busy interval implied by a resource's
// administrative unavailability, clipped to horizonEnd. A window whose
// auto-reset has already elapsed yields no interval; a window without an
// auto-reset is open-ended and treated as busy through the horizon.
func AdminWindow(res *model.Resource, now, horizonEnd time.Time) (Interval, bool) {
	if res.UnavailableSince == nil {
		return Interval{}, false
	}
	start := *res.UnavailableSince
	end := horizonEnd
	if res.AutoResetHours != nil {
		end = start.Add(time.Duration(*res.AutoResetHours) * time.Hour)
		if !end.After(now) {
			// Maintenance window already elapsed.
			return Interval{}, false
		}
	}
	if !end.After(start) {
		return Interval{}, false
	}
	return Interval{Start: start, End: end}, true
}

// FitWindow finds the window to offer a waitlist entry inside a freed span.
// An exact entry must have its whole desired window inside the freed span.
// A flexible entry accepts any sub-window of its desired duration, earliest
// first; windows never start before now.
func FitWindow(freed Interval, desiredStart, desiredEnd time.Time, flexible bool, now time.Time) (Interval, bool) {
	usable := freed
	if usable.Start.Before(now) {
		usable.Start = now
	}
	if !usable.End.After(usable.Start) {
		return Interval{}, false
	}

	desired := Interval{Start: desiredStart, End: desiredEnd}
	if !usable.Start.After(desired.Start) && !desired.End.After(usable.End) {
		return desired, true
	}
	if !flexible {
		return Interval{}, false
	}

	want := desired.Duration()
	if usable.Duration() < want {
		return Interval{}, false
	}
	// Prefer a window overlapping the desired start, fall back to the
	// earliest slot in the span.
	start := usable.Start
	if desired.Start.After(start) && !desired.Start.Add(want).After(usable.End) {
		start = desired.Start
	}
	return Interval{Start: start, End: start.Add(want)}, true
}
