package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/obs"
	"github.com/stoik/aide/services/agent-service/internal/provider"
)

const (
	searchLimit = 50
	// fetchWorkers bounds concurrent message fetches after a list call.
	fetchWorkers = 5
)

type messageList struct {
	Messages []struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

type historyList struct {
	History []struct {
		MessagesAdded []struct {
			Message struct {
				ID string `json:"id"`
			} `json:"message"`
		} `json:"messagesAdded"`
	} `json:"history"`
	HistoryID string `json:"historyId"`
}

// Mail reads Gmail and polls the history API for new messages.
type Mail struct {
	rest    *provider.RESTClient
	id      provider.Identity
	monitor *provider.Monitor
	log     *slog.Logger

	mu        sync.Mutex
	historyID string
	cache     map[string]models.Message
}

func NewMail(auth *Auth, retry *provider.Retrier, log *slog.Logger, opts ...provider.MonitorOption) *Mail {
	if log == nil {
		log = obs.Discard()
	}
	m := &Mail{
		rest:  auth.Client("gmail", retry),
		id:    auth,
		log:   log,
		cache: make(map[string]models.Message),
	}
	m.monitor = provider.NewMonitor(models.ProviderGoogle, auth.AccountID(), m.pollHistory, log, opts...)
	return m
}

func (m *Mail) AccountID() string { return m.id.AccountID() }

// StartMonitoring anchors the history cursor at the mailbox's current historyId.
func (m *Mail) StartMonitoring(ctx context.Context) error {
	if m.monitor.Running() {
		return nil
	}
	if err := m.resetCursor(ctx); err != nil {
		return fmt.Errorf("read profile: %w", err)
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

func (m *Mail) resetCursor(ctx context.Context) error {
	var profile struct {
		EmailAddress string `json:"emailAddress"`
		HistoryID    string `json:"historyId"`
	}
	if err := m.rest.GetJSON(ctx, "/users/me/profile", nil, &profile); err != nil {
		return err
	}
	m.mu.Lock()
	m.historyID = profile.HistoryID
	m.mu.Unlock()
	return nil
}

func (m *Mail) pollHistory(ctx context.Context) ([]models.Message, error) {
	m.mu.Lock()
	start := m.historyID
	m.mu.Unlock()
	if start == "" {
		return nil, m.resetCursor(ctx)
	}

	var ids []string
	next := ""
	latest := start
	for {
		query := url.Values{"startHistoryId": {start}, "historyTypes": {"messageAdded"}}
		if next != "" {
			query.Set("pageToken", next)
		}
		var page struct {
			historyList
			NextPageToken string `json:"nextPageToken"`
		}
		if err := m.rest.GetJSON(ctx, "/users/me/history", query, &page); err != nil {
			// Gmail forgets old history ids; start over from the current one.
			if errors.Is(err, provider.ErrResourceNotFound) {
				m.log.Warn("history cursor expired", "account", m.AccountID())
				return nil, m.resetCursor(ctx)
			}
			return nil, err
		}
		for _, h := range page.History {
			for _, added := range h.MessagesAdded {
				ids = append(ids, added.Message.ID)
			}
		}
		if page.HistoryID != "" {
			latest = page.HistoryID
		}
		if page.NextPageToken == "" {
			break
		}
		next = page.NextPageToken
	}

	msgs, err := m.fetchAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.historyID = latest
	m.mu.Unlock()
	return msgs, nil
}

// fetchAll loads full messages in order with a small worker pool.
func (m *Mail) fetchAll(ctx context.Context, ids []string) ([]models.Message, error) {
	out := make([]models.Message, len(ids))
	errs := make([]error, len(ids))

	sem := make(chan struct{}, fetchWorkers)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			out[i], errs[i] = m.EmailByID(ctx, id)
		}(i, id)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// list collects up to limit message ids, following page tokens, and fetches them.
func (m *Mail) list(ctx context.Context, query url.Values, limit int) ([]models.Message, error) {
	var ids []string
	for len(ids) < limit {
		var page messageList
		if err := m.rest.GetJSON(ctx, "/users/me/messages", query, &page); err != nil {
			return nil, err
		}
		for _, ref := range page.Messages {
			if len(ids) == limit {
				break
			}
			ids = append(ids, ref.ID)
		}
		if page.NextPageToken == "" {
			break
		}
		query.Set("pageToken", page.NextPageToken)
	}
	return m.fetchAll(ctx, ids)
}

func (m *Mail) RecentEmails(ctx context.Context, count int) ([]models.Message, error) {
	if count <= 0 {
		return []models.Message{}, nil
	}
	return m.list(ctx, url.Values{
		"maxResults": {strconv.Itoa(count)},
		"labelIds":   {"INBOX"},
	}, count)
}

func (m *Mail) EmailByID(ctx context.Context, id string) (models.Message, error) {
	m.mu.Lock()
	msg, ok := m.cache[id]
	m.mu.Unlock()
	if ok {
		return msg, nil
	}

	var raw gmailMessage
	if err := m.rest.GetJSON(ctx, "/users/me/messages/"+url.PathEscape(id), url.Values{"format": {"full"}}, &raw); err != nil {
		return models.Message{}, err
	}
	msg = raw.model()
	provider.StampOf(models.ProviderGoogle, m.id).Message(&msg)

	m.mu.Lock()
	m.cache[id] = msg
	m.mu.Unlock()
	return msg, nil
}

// SearchEmails passes query to Gmail's search syntax unchanged.
func (m *Mail) SearchEmails(ctx context.Context, query string) ([]models.Message, error) {
	return m.list(ctx, url.Values{
		"q":          {query},
		"maxResults": {strconv.Itoa(searchLimit)},
	}, searchLimit)
}

func (m *Mail) ClearCache() {
	m.mu.Lock()
	m.cache = make(map[string]models.Message)
	m.mu.Unlock()
}
