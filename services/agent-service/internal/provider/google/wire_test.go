package google

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventEndRepaired(t *testing.T) {
	start := time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		raw  string
		end  time.Time
	}{
		{"missing end", `{"id":"e1","start":{"dateTime":"2026-10-20T10:00:00Z"},"end":{}}`, start.Add(time.Hour)},
		{"end before start", `{"id":"e2","start":{"dateTime":"2026-10-20T10:00:00Z"},"end":{"dateTime":"2026-10-20T09:00:00Z"}}`, start.Add(time.Hour)},
		{"valid end", `{"id":"e3","start":{"dateTime":"2026-10-20T10:00:00Z"},"end":{"dateTime":"2026-10-20T10:30:00Z"}}`, start.Add(30 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ev calendarEvent
			if err := json.Unmarshal([]byte(tt.raw), &ev); err != nil {
				t.Fatal(err)
			}
			m := ev.model(time.UTC)
			if !m.Start.Equal(start) || !m.End.Equal(tt.end) {
				t.Fatalf("start=%v end=%v, want end %v", m.Start, m.End, tt.end)
			}
		})
	}
}

func TestAllDayEventUsesLocation(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	var ev calendarEvent
	if err := json.Unmarshal([]byte(`{"id":"d","start":{"date":"2026-10-21"},"end":{"date":"2026-10-22"}}`), &ev); err != nil {
		t.Fatal(err)
	}
	m := ev.model(loc)
	if m.End.Sub(m.Start) != 24*time.Hour || m.Start.Location() != loc {
		t.Fatalf("all-day = %v .. %v", m.Start, m.End)
	}
}
