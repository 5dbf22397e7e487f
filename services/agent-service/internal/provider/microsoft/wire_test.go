package microsoft

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventEndRepaired(t *testing.T) {
	var ev event
	raw := `{"id":"m1","subject":"","start":{"dateTime":"2026-10-20T10:00:00.0000000","timeZone":"UTC"},"end":{}}`
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatal(err)
	}
	m := ev.model()
	want := time.Date(2026, 10, 20, 11, 0, 0, 0, time.UTC)
	if !m.End.Equal(want) {
		t.Fatalf("end = %v, want %v", m.End, want)
	}
	if m.Subject != "(No Subject)" {
		t.Fatalf("subject = %q", m.Subject)
	}
}
