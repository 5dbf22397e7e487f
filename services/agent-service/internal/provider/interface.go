package provider

import (
	"context"
	"errors"

	"github.com/stoik/aide/internal/models"
)

// ErrNotAuthenticated is returned by AccountInfo before a successful login.
var ErrNotAuthenticated = errors.New("provider: not authenticated")

// AuthResult is the outcome of Login. Redirect-based flows return Pending with
// an AuthURL and State; the flow completes in CodeExchanger.HandleAuthCode.
type AuthResult struct {
	Success bool           `json:"success"`
	Pending bool           `json:"pending,omitempty"`
	AuthURL string         `json:"auth_url,omitempty"`
	State   string         `json:"state,omitempty"`
	Account models.Account `json:"account,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// AuthProvider manages token acquisition, refresh and persistence for one account.
type AuthProvider interface {
	Initialize(ctx context.Context) error
	Login(ctx context.Context) (AuthResult, error)
	Logout(ctx context.Context) error
	AccessToken(ctx context.Context, scopes []string) (string, error)
	RefreshToken(ctx context.Context) error
	IsAuthenticated() bool
	AccountInfo() (models.Account, error)
	ProviderType() models.ProviderType
	AccountID() string
}

// CodeExchanger completes the second phase of a redirect login.
type CodeExchanger interface {
	HandleAuthCode(ctx context.Context, code, state string) (AuthResult, error)
}

// ChangeCallback receives each newly observed message exactly once.
type ChangeCallback func(ctx context.Context, msg models.Message)

type EmailProvider interface {
	StartMonitoring(ctx context.Context) error
	StopMonitoring(ctx context.Context) error
	RecentEmails(ctx context.Context, count int) ([]models.Message, error)
	EmailByID(ctx context.Context, id string) (models.Message, error)
	SearchEmails(ctx context.Context, query string) ([]models.Message, error)
	SubscribeToChanges(cb ChangeCallback)
	ClearCache()
	AccountID() string
}

type CalendarProvider interface {
	UpcomingMeetings(ctx context.Context, days int) ([]models.Meeting, error)
	MeetingByID(ctx context.Context, id string) (models.Meeting, error)
	FindAvailableSlots(ctx context.Context, durationMinutes, days int) ([]models.TimeSlot, error)
	MeetingAttendees(ctx context.Context, id string) ([]models.Attendee, error)
	ClearCache()
	AccountID() string
}

type NotesProvider interface {
	Notebooks(ctx context.Context) ([]models.Notebook, error)
	SearchNotes(ctx context.Context, query string) ([]models.Note, error)
	NoteContent(ctx context.Context, id string) (models.NoteContent, error)
	FindNotesByEntity(ctx context.Context, name string, entityType models.EntityType) ([]models.Note, error)
	ClearCache()
	AccountID() string
}

// Stamp identifies the account every record from an adapter is attributed to.
type Stamp struct {
	Provider     models.ProviderType
	AccountID    string
	AccountEmail string
}

func (s Stamp) Message(m *models.Message) {
	m.ProviderType, m.AccountID, m.AccountEmail = s.Provider, s.AccountID, s.AccountEmail
}

func (s Stamp) Meeting(m *models.Meeting) {
	m.ProviderType, m.AccountID, m.AccountEmail = s.Provider, s.AccountID, s.AccountEmail
}

func (s Stamp) Note(n *models.Note) {
	n.ProviderType, n.AccountID, n.AccountEmail = s.Provider, s.AccountID, s.AccountEmail
}

// Identity is the part of an AuthProvider that adapters need to stamp records.
type Identity interface {
	AccountID() string
	AccountInfo() (models.Account, error)
}

// StampOf builds the stamp for records fetched on behalf of id.
func StampOf(vendor models.ProviderType, id Identity) Stamp {
	s := Stamp{Provider: vendor, AccountID: id.AccountID()}
	if acct, err := id.AccountInfo(); err == nil {
		s.AccountEmail = acct.Email
	}
	return s
}
