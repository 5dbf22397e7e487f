package models

import (
	"strings"
	"time"
)

type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceNormal Importance = "normal"
	ImportanceHigh   Importance = "high"
)

// EmailAddress is a display name plus mailbox address.
type EmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// DisplayOrAddress returns the display name, or the address when no name is set.
func (e EmailAddress) DisplayOrAddress() string {
	if strings.TrimSpace(e.Name) != "" {
		return e.Name
	}
	return e.Address
}

// Message represents an email from any provider (Google, Microsoft).
// ID is only unique within (ProviderType, AccountID); use Key for cross-provider identity.
type Message struct {
	ID             string         `json:"id"`
	Subject        string         `json:"subject"`
	From           EmailAddress   `json:"from"`
	To             []EmailAddress `json:"to"`
	Cc             []EmailAddress `json:"cc,omitempty"`
	Body           string         `json:"body"`
	ReceivedAt     time.Time      `json:"received_at"`
	HasAttachments bool           `json:"has_attachments"`
	Importance     Importance     `json:"importance"`
	IsRead         bool           `json:"is_read"`
	ConversationID string         `json:"conversation_id"`
	ProviderType   ProviderType   `json:"provider_type"`
	AccountID      string         `json:"account_id"`
	AccountEmail   string         `json:"account_email"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Key is the composite identity of a message across providers and accounts.
type Key struct {
	ProviderType ProviderType `json:"provider_type"`
	AccountID    string       `json:"account_id"`
	ID           string       `json:"id"`
}

func (k Key) String() string {
	return string(k.ProviderType) + "/" + k.AccountID + "/" + k.ID
}

func (m Message) Key() Key {
	return Key{ProviderType: m.ProviderType, AccountID: m.AccountID, ID: m.ID}
}

// Involves reports whether any of the given lowercase addresses sent or received m.
func (m Message) Involves(addresses map[string]bool) bool {
	if addresses[strings.ToLower(m.From.Address)] {
		return true
	}
	for _, to := range m.To {
		if addresses[strings.ToLower(to.Address)] {
			return true
		}
	}
	return false
}
