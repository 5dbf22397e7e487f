package models

import "time"

type AttendeeType string

const (
	AttendeeRequired AttendeeType = "required"
	AttendeeOptional AttendeeType = "optional"
	AttendeeResource AttendeeType = "resource"
)

type ResponseStatus string

const (
	ResponseNone      ResponseStatus = "none"
	ResponseAccepted  ResponseStatus = "accepted"
	ResponseDeclined  ResponseStatus = "declined"
	ResponseTentative ResponseStatus = "tentative"
)

type Attendee struct {
	EmailAddress EmailAddress   `json:"email_address"`
	Type         AttendeeType   `json:"type"`
	Status       ResponseStatus `json:"status"`
}

// Meeting is a calendar event. Start is always before End.
type Meeting struct {
	ID               string         `json:"id"`
	Subject          string         `json:"subject"`
	Start            time.Time      `json:"start"`
	End              time.Time      `json:"end"`
	Location         string         `json:"location,omitempty"`
	Organizer        EmailAddress   `json:"organizer"`
	Attendees        []Attendee     `json:"attendees"`
	Body             string         `json:"body"`
	IsOnlineMeeting  bool           `json:"is_online_meeting"`
	OnlineMeetingURL string         `json:"online_meeting_url,omitempty"`
	ProviderType     ProviderType   `json:"provider_type"`
	AccountID        string         `json:"account_id"`
	AccountEmail     string         `json:"account_email"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// DefaultMeetingLength is assumed when an event has no usable end.
const DefaultMeetingLength = time.Hour

// RepairEnd sets a missing or non-positive end to Start plus DefaultMeetingLength.
func (m *Meeting) RepairEnd() {
	if !m.End.After(m.Start) {
		m.End = m.Start.Add(DefaultMeetingLength)
	}
}

// TimeSlot is a half-open interval [Start, End).
type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether the open intervals of s and o intersect.
func (s TimeSlot) Overlaps(o TimeSlot) bool {
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

func (s TimeSlot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}
