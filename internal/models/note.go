package models

import "time"

type Note struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Content        string         `json:"content"`
	CreatedAt      time.Time      `json:"created_at"`
	LastModifiedAt time.Time      `json:"last_modified_at"`
	SectionID      string         `json:"section_id"`
	NotebookID     string         `json:"notebook_id"`
	Tags           []string       `json:"tags"`
	ProviderType   ProviderType   `json:"provider_type"`
	AccountID      string         `json:"account_id"`
	AccountEmail   string         `json:"account_email"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type Section struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Notebook groups sections. Google Drive folders map to notebooks with no sections.
type Notebook struct {
	ID           string       `json:"id"`
	DisplayName  string       `json:"display_name"`
	Sections     []Section    `json:"sections"`
	ProviderType ProviderType `json:"provider_type"`
	AccountID    string       `json:"account_id"`
}

type NoteImage struct {
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

// NoteContent is the full body of a note.
type NoteContent struct {
	HTML      string      `json:"html"`
	PlainText string      `json:"plain_text"`
	Images    []NoteImage `json:"images"`
}
