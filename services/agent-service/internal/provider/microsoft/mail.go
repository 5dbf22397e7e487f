package microsoft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/obs"
	"github.com/stoik/aide/services/agent-service/internal/provider"
)

const (
	deltaPageSize  = 50
	searchPageSize = 50
)

// Mail reads an Outlook mailbox through Graph and polls /me/messages/delta for changes.
type Mail struct {
	rest    *provider.RESTClient
	id      provider.Identity
	monitor *provider.Monitor
	log     *slog.Logger

	mu        sync.Mutex
	deltaLink string
	cache     map[string]models.Message
}

func NewMail(auth *Auth, retry *provider.Retrier, log *slog.Logger, opts ...provider.MonitorOption) *Mail {
	if log == nil {
		log = obs.Discard()
	}
	m := &Mail{
		rest:  auth.Client(retry),
		id:    auth,
		log:   log,
		cache: make(map[string]models.Message),
	}
	m.monitor = provider.NewMonitor(models.ProviderMicrosoft, auth.AccountID(), m.pollDelta, log, opts...)
	return m
}

func (m *Mail) AccountID() string { return m.id.AccountID() }

func (m *Mail) stamp(msg models.Message) models.Message {
	provider.StampOf(models.ProviderMicrosoft, m.id).Message(&msg)
	return msg
}

// StartMonitoring takes a delta snapshot of the mailbox, so only mail that
// arrives afterwards is reported, then starts the poll loop.
func (m *Mail) StartMonitoring(ctx context.Context) error {
	if m.monitor.Running() {
		return nil
	}
	m.mu.Lock()
	primed := m.deltaLink != ""
	m.mu.Unlock()
	if !primed {
		existing, err := m.pollDelta(ctx)
		if err != nil {
			return fmt.Errorf("initial delta: %w", err)
		}
		ids := make([]string, 0, len(existing))
		for _, msg := range existing {
			ids = append(ids, msg.ID)
		}
		m.monitor.MarkSeen(ids...)
	}
	m.monitor.Start(ctx)
	return nil
}

func (m *Mail) StopMonitoring(ctx context.Context) error {
	m.monitor.Stop()
	return nil
}

func (m *Mail) SubscribeToChanges(cb provider.ChangeCallback) {
	m.monitor.Subscribe(cb)
}

// pollDelta follows nextLinks until a deltaLink is returned and keeps it as the cursor.
func (m *Mail) pollDelta(ctx context.Context) ([]models.Message, error) {
	m.mu.Lock()
	link := m.deltaLink
	m.mu.Unlock()

	var query url.Values
	if link == "" {
		link = "/me/messages/delta"
		query = url.Values{"$top": {strconv.Itoa(deltaPageSize)}}
	}

	var out []models.Message
	for link != "" {
		var p page[message]
		if err := m.rest.GetJSON(ctx, link, query, &p); err != nil {
			// An expired delta token restarts the sync from scratch on the next poll.
			var perr *provider.Error
			if errors.As(err, &perr) && (perr.StatusCode == http.StatusGone || perr.Kind == provider.KindResourceNotFound) {
				m.resetDelta()
			}
			return nil, err
		}
		query = nil
		for _, raw := range p.Value {
			if raw.Removed != nil {
				continue
			}
			msg := m.stamp(raw.model())
			m.remember(msg)
			out = append(out, msg)
		}
		if p.DeltaLink != "" {
			m.mu.Lock()
			m.deltaLink = p.DeltaLink
			m.mu.Unlock()
			break
		}
		link = p.NextLink
	}
	return out, nil
}

func (m *Mail) resetDelta() {
	m.mu.Lock()
	m.deltaLink = ""
	m.mu.Unlock()
}

func (m *Mail) remember(msg models.Message) {
	m.mu.Lock()
	m.cache[msg.ID] = msg
	m.mu.Unlock()
}

// list follows nextLinks until limit messages are collected.
func (m *Mail) list(ctx context.Context, query url.Values, limit int) ([]models.Message, error) {
	link := "/me/messages"
	out := make([]models.Message, 0, limit)
	for link != "" && len(out) < limit {
		var p page[message]
		if err := m.rest.GetJSON(ctx, link, query, &p); err != nil {
			return nil, err
		}
		query = nil
		for _, raw := range p.Value {
			if len(out) == limit {
				break
			}
			out = append(out, m.stamp(raw.model()))
		}
		link = p.NextLink
	}
	return out, nil
}

func (m *Mail) RecentEmails(ctx context.Context, count int) ([]models.Message, error) {
	if count <= 0 {
		return []models.Message{}, nil
	}
	return m.list(ctx, url.Values{
		"$top":     {strconv.Itoa(count)},
		"$orderby": {"receivedDateTime DESC"},
	}, count)
}

func (m *Mail) EmailByID(ctx context.Context, id string) (models.Message, error) {
	m.mu.Lock()
	msg, ok := m.cache[id]
	m.mu.Unlock()
	if ok {
		return msg, nil
	}

	var raw message
	if err := m.rest.GetJSON(ctx, "/me/messages/"+url.PathEscape(id), nil, &raw); err != nil {
		return models.Message{}, err
	}
	msg = m.stamp(raw.model())
	m.remember(msg)
	return msg, nil
}

func (m *Mail) SearchEmails(ctx context.Context, query string) ([]models.Message, error) {
	q := odataString(query)
	return m.list(ctx, url.Values{
		"$filter":  {fmt.Sprintf("contains(subject,'%s') or contains(body/content,'%s')", q, q)},
		"$top":     {strconv.Itoa(searchPageSize)},
		"$orderby": {"receivedDateTime DESC"},
	}, searchPageSize)
}

func (m *Mail) ClearCache() {
	m.mu.Lock()
	m.cache = make(map[string]models.Message)
	m.mu.Unlock()
}

// odataString escapes a value for use inside an OData string literal.
func odataString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
