// Package manager keeps the per-account provider registries and fans
// operations out across every registered account.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/obs"
	"github.com/stoik/aide/services/agent-service/internal/provider"
)

// Manager references providers by account id. It does not own their lifecycle.
type Manager struct {
	log *slog.Logger

	mu       sync.RWMutex
	order    []string
	auth     map[string]provider.AuthProvider
	email    map[string]provider.EmailProvider
	calendar map[string]provider.CalendarProvider
	notes    map[string]provider.NotesProvider
	subs     []provider.ChangeCallback
}

func New(log *slog.Logger) *Manager {
	if log == nil {
		log = obs.Discard()
	}
	return &Manager{
		log:      log,
		auth:     make(map[string]provider.AuthProvider),
		email:    make(map[string]provider.EmailProvider),
		calendar: make(map[string]provider.CalendarProvider),
		notes:    make(map[string]provider.NotesProvider),
	}
}

// track must be called with mu held.
func (m *Manager) track(accountID string) {
	for _, id := range m.order {
		if id == accountID {
			return
		}
	}
	m.order = append(m.order, accountID)
}

func (m *Manager) RegisterAuth(p provider.AuthProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track(p.AccountID())
	m.auth[p.AccountID()] = p
}

// RegisterEmail also subscribes every callback added through OnNewEmail.
func (m *Manager) RegisterEmail(p provider.EmailProvider) {
	m.mu.Lock()
	m.track(p.AccountID())
	m.email[p.AccountID()] = p
	subs := append([]provider.ChangeCallback(nil), m.subs...)
	m.mu.Unlock()

	for _, cb := range subs {
		p.SubscribeToChanges(cb)
	}
}

func (m *Manager) RegisterCalendar(p provider.CalendarProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track(p.AccountID())
	m.calendar[p.AccountID()] = p
}

func (m *Manager) RegisterNotes(p provider.NotesProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track(p.AccountID())
	m.notes[p.AccountID()] = p
}

// OnNewEmail subscribes cb to every current and future email provider.
func (m *Manager) OnNewEmail(cb provider.ChangeCallback) {
	m.mu.Lock()
	m.subs = append(m.subs, cb)
	providers := make([]provider.EmailProvider, 0, len(m.email))
	for _, id := range m.order {
		if p, ok := m.email[id]; ok {
			providers = append(providers, p)
		}
	}
	m.mu.Unlock()

	for _, p := range providers {
		p.SubscribeToChanges(cb)
	}
}

// RemoveAccount stops monitoring for the account and drops it from every registry.
func (m *Manager) RemoveAccount(ctx context.Context, accountID string) {
	m.mu.Lock()
	email := m.email[accountID]
	delete(m.auth, accountID)
	delete(m.email, accountID)
	delete(m.calendar, accountID)
	delete(m.notes, accountID)
	for i, id := range m.order {
		if id == accountID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if email != nil {
		if err := email.StopMonitoring(ctx); err != nil {
			m.log.Warn("stop monitoring failed", "account", accountID, "error", err)
		}
	}
}

func (m *Manager) Auth(accountID string) (provider.AuthProvider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.auth[accountID]
	return p, ok
}

func (m *Manager) Email(accountID string) (provider.EmailProvider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.email[accountID]
	return p, ok
}

func (m *Manager) Calendar(accountID string) (provider.CalendarProvider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.calendar[accountID]
	return p, ok
}

func (m *Manager) Notes(accountID string) (provider.NotesProvider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.notes[accountID]
	return p, ok
}

// AuthProviders lists auth providers in registration order.
func (m *Manager) AuthProviders() []provider.AuthProvider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]provider.AuthProvider, 0, len(m.auth))
	for _, id := range m.order {
		if p, ok := m.auth[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Accounts returns the authenticated accounts in registration order.
func (m *Manager) Accounts() []models.Account {
	var out []models.Account
	for _, p := range m.AuthProviders() {
		if !p.IsAuthenticated() {
			continue
		}
		if acct, err := p.AccountInfo(); err == nil {
			out = append(out, acct)
		}
	}
	return out
}

func (m *Manager) AccountsByProvider(vendor models.ProviderType) []models.Account {
	var out []models.Account
	for _, a := range m.Accounts() {
		if a.ProviderType == vendor {
			out = append(out, a)
		}
	}
	return out
}

// PrimaryAccount is the first authenticated account that was registered.
func (m *Manager) PrimaryAccount() (models.Account, bool) {
	accts := m.Accounts()
	if len(accts) == 0 {
		return models.Account{}, false
	}
	return accts[0], true
}

func (m *Manager) HasAuthenticatedProvider() bool {
	for _, p := range m.AuthProviders() {
		if p.IsAuthenticated() {
			return true
		}
	}
	return false
}

type Stats struct {
	Accounts          int                         `json:"accounts"`
	Authenticated     int                         `json:"authenticated"`
	EmailProviders    int                         `json:"email_providers"`
	CalendarProviders int                         `json:"calendar_providers"`
	NotesProviders    int                         `json:"notes_providers"`
	ByProvider        map[models.ProviderType]int `json:"by_provider"`
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	s := Stats{
		Accounts:          len(m.auth),
		EmailProviders:    len(m.email),
		CalendarProviders: len(m.calendar),
		NotesProviders:    len(m.notes),
		ByProvider:        make(map[models.ProviderType]int),
	}
	m.mu.RUnlock()

	for _, a := range m.Accounts() {
		s.Authenticated++
		s.ByProvider[a.ProviderType]++
	}
	return s
}

// vendorOf labels metrics and logs for an account.
func (m *Manager) vendorOf(accountID string) string {
	if p, ok := m.Auth(accountID); ok {
		return string(p.ProviderType())
	}
	return "unknown"
}

// StartAllMonitoring starts every email provider. A failing provider does not
// stop the others; all failures are returned joined.
func (m *Manager) StartAllMonitoring(ctx context.Context) error {
	var errs []error
	for _, e := range entries(m, m.email) {
		if err := e.p.StartMonitoring(ctx); err != nil {
			m.log.Error("start monitoring failed", "account", e.id, "provider", m.vendorOf(e.id), "error", err)
			errs = append(errs, fmt.Errorf("account %s: %w", e.id, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) StopAllMonitoring(ctx context.Context) error {
	var errs []error
	for _, e := range entries(m, m.email) {
		if err := e.p.StopMonitoring(ctx); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", e.id, err))
		}
	}
	return errors.Join(errs...)
}

type entry[P any] struct {
	id string
	p  P
}

// entries snapshots a registry in registration order.
func entries[P any](m *Manager, registry map[string]P) []entry[P] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entry[P], 0, len(registry))
	for _, id := range m.order {
		if p, ok := registry[id]; ok {
			out = append(out, entry[P]{id: id, p: p})
		}
	}
	return out
}

// fanOut calls op on every provider concurrently and waits for all of them.
// Failing providers are logged and left out of the result.
func fanOut[P, T any](ctx context.Context, m *Manager, operation string, registry map[string]P, op func(context.Context, P) ([]T, error)) []T {
	targets := entries(m, registry)
	results := make([][]T, len(targets))

	var wg sync.WaitGroup
	for i, e := range targets {
		wg.Add(1)
		go func(i int, e entry[P]) {
			defer wg.Done()
			items, err := guarded(ctx, e.p, op)
			if err != nil {
				vendor := m.vendorOf(e.id)
				obs.FanOutFailures.WithLabelValues(vendor, operation).Inc()
				m.log.Warn("provider omitted from results", "operation", operation, "account", e.id, "provider", vendor, "error", err)
				return
			}
			results[i] = items
		}(i, e)
	}
	wg.Wait()

	var merged []T
	for _, r := range results {
		merged = append(merged, r...)
	}
	return merged
}

// guarded turns a panic in op into an error.
func guarded[P, T any](ctx context.Context, p P, op func(context.Context, P) ([]T, error)) (items []T, err error) {
	defer func() {
		if r := recover(); r != nil {
			items, err = nil, fmt.Errorf("provider panic: %v", r)
		}
	}()
	return op(ctx, p)
}

func sortEmails(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].ReceivedAt.After(msgs[j].ReceivedAt) })
}

func sortNotes(notes []models.Note) {
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].LastModifiedAt.After(notes[j].LastModifiedAt) })
}

// AllRecentEmails returns the count most recent messages across all accounts.
// Each provider is asked for count items; truncation happens after the merge.
func (m *Manager) AllRecentEmails(ctx context.Context, count int) []models.Message {
	msgs := fanOut(ctx, m, "recent_emails", m.email, func(ctx context.Context, p provider.EmailProvider) ([]models.Message, error) {
		return p.RecentEmails(ctx, count)
	})
	sortEmails(msgs)
	if count >= 0 && len(msgs) > count {
		msgs = msgs[:count]
	}
	return nonNil(msgs)
}

// AllUpcomingMeetings returns meetings of every account, soonest first.
func (m *Manager) AllUpcomingMeetings(ctx context.Context, days int) []models.Meeting {
	meetings := fanOut(ctx, m, "upcoming_meetings", m.calendar, func(ctx context.Context, p provider.CalendarProvider) ([]models.Meeting, error) {
		return p.UpcomingMeetings(ctx, days)
	})
	sort.SliceStable(meetings, func(i, j int) bool { return meetings[i].Start.Before(meetings[j].Start) })
	return nonNil(meetings)
}

func (m *Manager) SearchAllEmails(ctx context.Context, query string) []models.Message {
	msgs := fanOut(ctx, m, "search_emails", m.email, func(ctx context.Context, p provider.EmailProvider) ([]models.Message, error) {
		return p.SearchEmails(ctx, query)
	})
	sortEmails(msgs)
	return nonNil(msgs)
}

func (m *Manager) SearchAllNotes(ctx context.Context, query string) []models.Note {
	notes := fanOut(ctx, m, "search_notes", m.notes, func(ctx context.Context, p provider.NotesProvider) ([]models.Note, error) {
		return p.SearchNotes(ctx, query)
	})
	sortNotes(notes)
	return nonNil(notes)
}

// FindAllNotesByEntity runs entity lookup on every notes provider.
func (m *Manager) FindAllNotesByEntity(ctx context.Context, name string, typ models.EntityType) []models.Note {
	notes := fanOut(ctx, m, "notes_by_entity", m.notes, func(ctx context.Context, p provider.NotesProvider) ([]models.Note, error) {
		return p.FindNotesByEntity(ctx, name, typ)
	})
	sortNotes(notes)
	return nonNil(notes)
}

// AllNotebooks lists notebooks of every account.
func (m *Manager) AllNotebooks(ctx context.Context) []models.Notebook {
	return nonNil(fanOut(ctx, m, "notebooks", m.notes, func(ctx context.Context, p provider.NotesProvider) ([]models.Notebook, error) {
		return p.Notebooks(ctx)
	}))
}

// AccountSlots is the free time of one calendar.
type AccountSlots struct {
	AccountID    string            `json:"account_id"`
	ProviderType string            `json:"provider_type"`
	Slots        []models.TimeSlot `json:"slots"`
}

// AllAvailableSlots asks every calendar for free slots of durationMinutes
// within the next days. Calendars are listed in registration order.
func (m *Manager) AllAvailableSlots(ctx context.Context, durationMinutes, days int) ([]AccountSlots, error) {
	if err := provider.CheckSlotRequest(durationMinutes, days); err != nil {
		return nil, err
	}
	sets := fanOut(ctx, m, "available_slots", m.calendar, func(ctx context.Context, p provider.CalendarProvider) ([]AccountSlots, error) {
		slots, err := p.FindAvailableSlots(ctx, durationMinutes, days)
		if err != nil {
			return nil, err
		}
		return []AccountSlots{{AccountID: p.AccountID(), ProviderType: m.vendorOf(p.AccountID()), Slots: nonNil(slots)}}, nil
	})
	return nonNil(sets), nil
}

// NoteContent reads the full body of one note from the given account.
func (m *Manager) NoteContent(ctx context.Context, accountID, id string) (models.NoteContent, error) {
	p, ok := m.Notes(accountID)
	if !ok {
		return models.NoteContent{}, fmt.Errorf("account %s: %w", accountID, ErrUnknownAccount)
	}
	return p.NoteContent(ctx, id)
}

// MeetingByID asks each calendar in registration order and returns the first hit.
func (m *Manager) MeetingByID(ctx context.Context, id string) (models.Meeting, error) {
	var lastErr error
	for _, e := range entries(m, m.calendar) {
		meeting, err := e.p.MeetingByID(ctx, id)
		if err == nil {
			return meeting, nil
		}
		lastErr = err
	}
	if lastErr == nil || errors.Is(lastErr, provider.ErrResourceNotFound) {
		return models.Meeting{}, fmt.Errorf("meeting %s: %w", id, provider.ErrResourceNotFound)
	}
	return models.Meeting{}, fmt.Errorf("meeting %s: %w", id, lastErr)
}

// EmailByID reads one message from the given account.
func (m *Manager) EmailByID(ctx context.Context, accountID, id string) (models.Message, error) {
	p, ok := m.Email(accountID)
	if !ok {
		return models.Message{}, fmt.Errorf("account %s: %w", accountID, ErrUnknownAccount)
	}
	return p.EmailByID(ctx, id)
}

// ClearCaches drops every adapter cache.
func (m *Manager) ClearCaches() {
	for _, e := range entries(m, m.email) {
		e.p.ClearCache()
	}
	for _, e := range entries(m, m.calendar) {
		e.p.ClearCache()
	}
	for _, e := range entries(m, m.notes) {
		e.p.ClearCache()
	}
}

// ErrUnknownAccount is returned for account ids with no registered provider.
var ErrUnknownAccount = errors.New("manager: unknown account")

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
