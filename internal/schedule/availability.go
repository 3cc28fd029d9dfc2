package schedule

import (
	"time"

	"reservation-backend/internal/model"
)

// DefaultHorizonCapDays bounds the availability horizon so one request
// cannot produce an unbounded grid.
const DefaultHorizonCapDays = 90

// DefaultSlot is the default free/busy grid granularity.
const DefaultSlot = time.Hour

// Slot is one cell of the free/busy grid.
type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

// DaySchedule groups the slots of a single calendar day.
type DaySchedule struct {
	Date  string `json:"date"`
	Slots []Slot `json:"slots"`
}

// Build computes the free/busy grid from now through now + horizonDays,
// marking a slot busy when it overlaps any busy interval. horizonDays <= 0
// yields an empty grid (current-instant status only). horizonDays beyond
// capDays is rejected with ErrHorizonTooLarge.
func Build(now time.Time, horizonDays int, slot time.Duration, capDays int, busy []Interval) ([]DaySchedule, error) {
	if capDays <= 0 {
		capDays = DefaultHorizonCapDays
	}
	if horizonDays > capDays {
		return nil, model.ErrHorizonTooLarge
	}
	if horizonDays <= 0 {
		return nil, nil
	}
	if slot <= 0 {
		slot = DefaultSlot
	}

	horizonEnd := now.Add(time.Duration(horizonDays) * 24 * time.Hour)
	cursor := now.Truncate(slot)

	var days []DaySchedule
	for cursor.Before(horizonEnd) {
		cell := Interval{Start: cursor, End: cursor.Add(slot)}
		free := true
		for _, b := range busy {
			if Overlaps(cell, b) {
				free = false
				break
			}
		}

		date := cursor.Format("2006-01-02")
		if len(days) == 0 || days[len(days)-1].Date != date {
			days = append(days, DaySchedule{Date: date})
		}
		day := &days[len(days)-1]
		day.Slots = append(day.Slots, Slot{Start: cell.Start, End: cell.End, Available: free})

		cursor = cell.End
	}
	return days, nil
}

// FreeAt reports whether no busy interval covers the instant t.
func FreeAt(t time.Time, busy []Interval) bool {
	for _, b := range busy {
		if b.Contains(t) {
			return false
		}
	}
	return true
}
