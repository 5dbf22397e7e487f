package models

import "time"

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank orders priorities: high > medium > low. Unknown values rank lowest.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// ParsePriority accepts exactly low, medium or high.
func ParsePriority(s string) (Priority, bool) {
	switch p := Priority(s); p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, true
	}
	return "", false
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

type EntityType string

const (
	EntityPerson   EntityType = "person"
	EntityCompany  EntityType = "company"
	EntityProject  EntityType = "project"
	EntityLocation EntityType = "location"
	EntityDate     EntityType = "date"
)

type Entity struct {
	Text       string     `json:"text"`
	Type       EntityType `json:"type"`
	Confidence float64    `json:"confidence"`
}

type ActionItem struct {
	Description string     `json:"description"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Priority    Priority   `json:"priority"`
	Completed   bool       `json:"completed"`
}

// EmailAnalysis is the derived analysis of a single message.
// It is replaced wholesale on re-analysis, never patched.
type EmailAnalysis struct {
	EmailID           string       `json:"email_id"`
	PriorityLevel     Priority     `json:"priority_level"`
	PriorityReason    string       `json:"priority_reason"`
	Entities          []Entity     `json:"entities"`
	ActionItems       []ActionItem `json:"action_items"`
	Sentiment         Sentiment    `json:"sentiment"`
	Summary           string       `json:"summary"`
	SuggestedResponse string       `json:"suggested_response,omitempty"`
	RelatedNoteIDs    []string     `json:"related_note_ids"`
	Deadline          *time.Time   `json:"deadline,omitempty"`
	AnalyzedAt        time.Time    `json:"analyzed_at"`
}
