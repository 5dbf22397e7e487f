package models

import "time"

type InsightType string

const (
	InsightFollowUp   InsightType = "follow_up"
	InsightDeadline   InsightType = "deadline"
	InsightPattern    InsightType = "pattern"
	InsightSuggestion InsightType = "suggestion"
)

// RelatedItem points at the email, note or meeting an insight is about.
type RelatedItem struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Title string `json:"title"`
}

type Insight struct {
	ID           string        `json:"id"`
	Type         InsightType   `json:"type"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Priority     Priority      `json:"priority"`
	Actionable   bool          `json:"actionable"`
	RelatedItems []RelatedItem `json:"related_items"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Briefing is a pre-meeting summary. It is recomputed on every request.
type Briefing struct {
	Meeting         Meeting           `json:"meeting"`
	AttendeeNotes   map[string][]Note `json:"attendee_notes"`
	RecentEmails    []Message         `json:"recent_emails"`
	SuggestedTopics []string          `json:"suggested_topics"`
	GeneratedAt     time.Time         `json:"generated_at"`
}
