// Package fake provides in-memory providers for tests of the layers above the adapters.
package fake

import (
	"context"
	"strings"
	"sync"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/provider"
)

// Auth is an always-authenticated account unless LoggedOut is set.
type Auth struct {
	Acct      models.Account
	LoggedOut bool
}

var _ provider.AuthProvider = (*Auth)(nil)

func (a *Auth) Initialize(ctx context.Context) error { return nil }
func (a *Auth) Login(ctx context.Context) (provider.AuthResult, error) {
	a.LoggedOut = false
	return provider.AuthResult{Success: true, Account: a.Acct}, nil
}
func (a *Auth) Logout(ctx context.Context) error { a.LoggedOut = true; return nil }
func (a *Auth) AccessToken(ctx context.Context, scopes []string) (string, error) {
	if a.LoggedOut {
		return "", provider.ErrAuthenticationFailed
	}
	return "fake-token", nil
}
func (a *Auth) RefreshToken(ctx context.Context) error { return nil }
func (a *Auth) IsAuthenticated() bool                  { return !a.LoggedOut }
func (a *Auth) AccountInfo() (models.Account, error) {
	if a.LoggedOut {
		return models.Account{}, provider.ErrNotAuthenticated
	}
	return a.Acct, nil
}
func (a *Auth) ProviderType() models.ProviderType { return a.Acct.ProviderType }
func (a *Auth) AccountID() string                 { return a.Acct.ID }

// Mail serves Messages. Err, when set, fails every read.
type Mail struct {
	ID       string
	Messages []models.Message
	Err      error

	mu       sync.Mutex
	subs     []provider.ChangeCallback
	running  bool
	StartErr error
}

var _ provider.EmailProvider = (*Mail)(nil)

func (m *Mail) StartMonitoring(ctx context.Context) error {
	if m.StartErr != nil {
		return m.StartErr
	}
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
	return nil
}

func (m *Mail) StopMonitoring(ctx context.Context) error {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	return nil
}

func (m *Mail) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Mail) RecentEmails(ctx context.Context, count int) ([]models.Message, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	out := append([]models.Message(nil), m.Messages...)
	if len(out) > count {
		out = out[:count]
	}
	return out, nil
}

func (m *Mail) EmailByID(ctx context.Context, id string) (models.Message, error) {
	if m.Err != nil {
		return models.Message{}, m.Err
	}
	for _, msg := range m.Messages {
		if msg.ID == id {
			return msg, nil
		}
	}
	return models.Message{}, provider.ErrResourceNotFound
}

func (m *Mail) SearchEmails(ctx context.Context, query string) ([]models.Message, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var out []models.Message
	q := strings.ToLower(query)
	for _, msg := range m.Messages {
		if strings.Contains(strings.ToLower(msg.Subject+" "+msg.Body), q) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *Mail) SubscribeToChanges(cb provider.ChangeCallback) {
	m.mu.Lock()
	m.subs = append(m.subs, cb)
	m.mu.Unlock()
}

// Deliver hands msg to every subscriber, as a monitor would.
func (m *Mail) Deliver(ctx context.Context, msg models.Message) {
	m.mu.Lock()
	subs := append([]provider.ChangeCallback(nil), m.subs...)
	m.mu.Unlock()
	for _, cb := range subs {
		cb(ctx, msg)
	}
}

func (m *Mail) ClearCache()       {}
func (m *Mail) AccountID() string { return m.ID }

type Calendar struct {
	ID       string
	Meetings []models.Meeting
	Slots    []models.TimeSlot
	Err      error
}

var _ provider.CalendarProvider = (*Calendar)(nil)

func (c *Calendar) UpcomingMeetings(ctx context.Context, days int) ([]models.Meeting, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return append([]models.Meeting(nil), c.Meetings...), nil
}

func (c *Calendar) MeetingByID(ctx context.Context, id string) (models.Meeting, error) {
	if c.Err != nil {
		return models.Meeting{}, c.Err
	}
	for _, m := range c.Meetings {
		if m.ID == id {
			return m, nil
		}
	}
	return models.Meeting{}, provider.NewError(models.ProviderMicrosoft, provider.KindResourceNotFound, "meeting not found", nil)
}

func (c *Calendar) FindAvailableSlots(ctx context.Context, durationMinutes, days int) ([]models.TimeSlot, error) {
	return c.Slots, c.Err
}

func (c *Calendar) MeetingAttendees(ctx context.Context, id string) ([]models.Attendee, error) {
	m, err := c.MeetingByID(ctx, id)
	return m.Attendees, err
}

func (c *Calendar) ClearCache()       {}
func (c *Calendar) AccountID() string { return c.ID }

// Notes matches queries against title and content, case-insensitively.
type Notes struct {
	ID    string
	Items []models.Note
	Books []models.Notebook
	Err   error
}

var _ provider.NotesProvider = (*Notes)(nil)

func (n *Notes) Notebooks(ctx context.Context) ([]models.Notebook, error) {
	return n.Books, n.Err
}

func (n *Notes) SearchNotes(ctx context.Context, query string) ([]models.Note, error) {
	if n.Err != nil {
		return nil, n.Err
	}
	q := strings.ToLower(query)
	var out []models.Note
	for _, note := range n.Items {
		if strings.Contains(strings.ToLower(note.Title+" "+note.Content), q) {
			out = append(out, note)
		}
	}
	return out, nil
}

func (n *Notes) NoteContent(ctx context.Context, id string) (models.NoteContent, error) {
	for _, note := range n.Items {
		if note.ID == id {
			return models.NoteContent{PlainText: note.Content}, nil
		}
	}
	return models.NoteContent{}, provider.ErrResourceNotFound
}

func (n *Notes) FindNotesByEntity(ctx context.Context, name string, entityType models.EntityType) ([]models.Note, error) {
	return n.SearchNotes(ctx, name)
}

func (n *Notes) ClearCache()       {}
func (n *Notes) AccountID() string { return n.ID }
