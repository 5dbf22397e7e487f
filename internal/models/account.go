package models

// ProviderType identifies the vendor behind an account.
type ProviderType string

const (
	ProviderMicrosoft ProviderType = "microsoft"
	ProviderGoogle    ProviderType = "google"
)

// Valid reports whether p is one of the supported vendors.
func (p ProviderType) Valid() bool {
	return p == ProviderMicrosoft || p == ProviderGoogle
}

// Account is one authenticated identity at one provider.
type Account struct {
	ID           string       `json:"id"`
	ProviderType ProviderType `json:"provider_type"`
	Email        string       `json:"email"`
	DisplayName  string       `json:"display_name"`
	AvatarURL    string       `json:"avatar_url,omitempty"`
}
