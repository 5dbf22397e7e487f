package provider

import (
	"errors"
	"testing"
	"time"

	"github.com/stoik/aide/internal/models"
)

func slot(start, end time.Time) models.TimeSlot { return models.TimeSlot{Start: start, End: end} }

func TestFreeGaps(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	h := func(n float64) time.Time { return base.Add(time.Duration(n * float64(time.Hour))) }

	busy := []models.TimeSlot{
		slot(h(3), h(4)),
		slot(h(1), h(2)),
		slot(h(1.5), h(2.25)), // overlaps previous
		slot(h(2.5), h(2.75)), // gap before it is too short
	}
	got := FreeGaps(busy, h(0), h(6), 30*time.Minute)
	// The 15 minute gaps around the 2.5h meeting are too short.
	want := []models.TimeSlot{
		slot(h(0), h(1)),
		slot(h(4), h(6)),
	}

	if len(got) != len(want) {
		t.Fatalf("got %d gaps %v, want %v", len(got), got, want)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i].Start) || !got[i].End.Equal(want[i].End) {
			t.Fatalf("gap %d = %v, want %v", i, got[i], want[i])
		}
	}
	for _, g := range got {
		for _, b := range busy {
			if g.Overlaps(b) {
				t.Fatalf("gap %v intersects busy %v", g, b)
			}
		}
	}
}

func TestBusinessHoursSlots(t *testing.T) {
	loc := time.UTC
	// Friday 10:30; the horizon covers the weekend and Monday.
	now := time.Date(2026, 3, 6, 10, 30, 0, 0, loc)
	busy := []models.TimeSlot{
		slot(time.Date(2026, 3, 6, 13, 30, 0, 0, loc), time.Date(2026, 3, 6, 14, 30, 0, 0, loc)),
	}
	bh := BusinessHours{StartHour: 9, EndHour: 17, Location: loc, Limit: 100}
	got := bh.Slots(now, 4, time.Hour, busy)

	for _, s := range got {
		if !s.End.After(now) {
			t.Fatalf("slot %v ended before now", s)
		}
		if wd := s.Start.Weekday(); wd == time.Saturday || wd == time.Sunday {
			t.Fatalf("weekend slot %v", s)
		}
		if s.Start.Hour() < 9 || s.Start.Hour() >= 17 {
			t.Fatalf("slot outside business hours %v", s)
		}
		for _, b := range busy {
			if s.Overlaps(b) {
				t.Fatalf("slot %v intersects busy %v", s, b)
			}
		}
	}

	// Friday: 10, 11, 12, 15, 16. Monday: 9 through 16. Tuesday: 9 and 10, before the horizon.
	if len(got) != 15 {
		t.Fatalf("got %d slots, want 15: %v", len(got), got)
	}
}

func TestBusinessHoursLimit(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	bh := BusinessHours{StartHour: 9, EndHour: 17, Location: time.UTC, Limit: 20}
	if got := bh.Slots(now, 14, 30*time.Minute, nil); len(got) != 20 {
		t.Fatalf("got %d slots, want 20", len(got))
	}
}

func TestNonPositiveDurationYieldsNoSlots(t *testing.T) {
	from := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	if got := FreeGaps(nil, from, from.Add(8*time.Hour), 0); got != nil {
		t.Fatalf("FreeGaps with zero duration = %v", got)
	}
	if got := DefaultBusinessHours.Slots(from, 3, -time.Minute, nil); got != nil {
		t.Fatalf("Slots with negative duration = %v", got)
	}
}

func TestCheckSlotRequest(t *testing.T) {
	tests := []struct {
		name     string
		minutes  int
		days     int
		rejected bool
	}{
		{"valid", 30, 7, false},
		{"zero duration", 0, 7, true},
		{"negative duration", -15, 7, true},
		{"zero days", 30, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSlotRequest(tt.minutes, tt.days)
			if got := errors.Is(err, ErrInvalidRequest); got != tt.rejected {
				t.Fatalf("err = %v, rejected = %v", err, tt.rejected)
			}
		})
	}
}
