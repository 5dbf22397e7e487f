package provider

import (
	"fmt"
	"sort"
	"time"

	"github.com/stoik/aide/internal/models"
)

// CheckSlotRequest rejects slot searches that cannot yield a non-empty slot.
func CheckSlotRequest(durationMinutes, days int) error {
	if durationMinutes <= 0 {
		return fmt.Errorf("%w: slot duration must be positive, got %d minutes", ErrInvalidRequest, durationMinutes)
	}
	if days <= 0 {
		return fmt.Errorf("%w: search window must be at least one day, got %d", ErrInvalidRequest, days)
	}
	return nil
}

// FreeGaps returns the gaps of at least minDur between busy intervals within [from, to].
// Busy intervals may overlap and arrive in any order.
func FreeGaps(busy []models.TimeSlot, from, to time.Time, minDur time.Duration) []models.TimeSlot {
	if !from.Before(to) || minDur <= 0 {
		return nil
	}
	sorted := append([]models.TimeSlot(nil), busy...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var free []models.TimeSlot
	cursor := from
	for _, b := range sorted {
		if !b.End.After(cursor) {
			continue
		}
		if b.Start.After(to) {
			break
		}
		if b.Start.Sub(cursor) >= minDur && b.Start.After(cursor) {
			free = append(free, models.TimeSlot{Start: cursor, End: b.Start})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if to.Sub(cursor) >= minDur && to.After(cursor) {
		free = append(free, models.TimeSlot{Start: cursor, End: to})
	}
	return free
}

// BusinessHours describes the candidate window for providers that model working hours.
type BusinessHours struct {
	StartHour int
	EndHour   int
	Location  *time.Location
	Limit     int
}

// DefaultBusinessHours is 09:00-17:00 local time, first 20 slots.
var DefaultBusinessHours = BusinessHours{StartHour: 9, EndHour: 17, Location: time.Local, Limit: 20}

// Slots enumerates hourly candidate slots of length dur on weekdays within
// [now, now+days), dropping slots that already ended or overlap any busy interval.
func (bh BusinessHours) Slots(now time.Time, days int, dur time.Duration, busy []models.TimeSlot) []models.TimeSlot {
	if dur <= 0 {
		return nil
	}
	loc := bh.Location
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	horizon := now.Add(time.Duration(days) * 24 * time.Hour)

	var out []models.TimeSlot
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	for ; day.Before(horizon); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		for hour := bh.StartHour; hour < bh.EndHour; hour++ {
			start := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, loc)
			if !start.Before(horizon) {
				break
			}
			slot := models.TimeSlot{Start: start, End: start.Add(dur)}
			if !slot.End.After(now) {
				continue
			}
			if overlapsAny(slot, busy) {
				continue
			}
			out = append(out, slot)
			if bh.Limit > 0 && len(out) >= bh.Limit {
				return out
			}
		}
	}
	return out
}

func overlapsAny(slot models.TimeSlot, busy []models.TimeSlot) bool {
	for _, b := range busy {
		if slot.Overlaps(b) {
			return true
		}
	}
	return false
}
