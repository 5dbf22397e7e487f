package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/correlation"
	"github.com/stoik/aide/services/agent-service/internal/manager"
	"github.com/stoik/aide/services/agent-service/internal/store"
)

const statsWindow = 100

type EmailStats struct {
	Unread      int       `json:"unread"`
	Priority    int       `json:"priority"`
	LastChecked time.Time `json:"last_checked"`
}

// EmailStats counts unread messages among the most recent ones and the
// high priority messages among those already analyzed.
func (a *Agent) EmailStats(ctx context.Context) EmailStats {
	unread := 0
	for _, m := range a.manager.AllRecentEmails(ctx, statsWindow) {
		if !m.IsRead {
			unread++
		}
	}
	return EmailStats{
		Unread:      unread,
		Priority:    len(a.PriorityEmails(ctx)),
		LastChecked: time.Now(),
	}
}

// RelatedNotes ranks the notes related to one message. Entities come from the
// stored analysis; a message that was never analyzed matches on subject and sender only.
func (a *Agent) RelatedNotes(ctx context.Context, accountID, id string) ([]correlation.RankedNote, error) {
	msg, err := a.message(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	var entities []models.Entity
	an, err := a.store.Analysis(ctx, msg.Key())
	switch {
	case err == nil:
		entities = an.Entities
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("load analysis: %w", err)
	}
	return a.correlation.Rank(ctx, msg, entities), nil
}

// message prefers the stored copy and falls back to the account.
func (a *Agent) message(ctx context.Context, accountID, id string) (models.Message, error) {
	if _, ok := a.manager.Email(accountID); !ok {
		return models.Message{}, fmt.Errorf("account %s: %w", accountID, manager.ErrUnknownAccount)
	}
	auth, ok := a.manager.Auth(accountID)
	if ok {
		key := models.Key{ProviderType: auth.ProviderType(), AccountID: accountID, ID: id}
		if msg, err := a.store.Message(ctx, key); err == nil {
			return msg, nil
		}
	}
	return a.manager.EmailByID(ctx, accountID, id)
}

// AttendeeContext summarizes what is known about one meeting attendee.
type AttendeeContext struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	RecentEmails int    `json:"recent_emails"`
	Notes        int    `json:"notes"`
}

type MeetingContext struct {
	Meeting   models.Meeting    `json:"meeting"`
	Attendees []AttendeeContext `json:"attendees"`
}

// MeetingContext counts the messages and person notes for each attendee.
func (a *Agent) MeetingContext(ctx context.Context, meetingID string) (MeetingContext, error) {
	meeting, err := a.manager.MeetingByID(ctx, meetingID)
	if err != nil {
		return MeetingContext{}, err
	}
	out := MeetingContext{Meeting: meeting, Attendees: make([]AttendeeContext, len(meeting.Attendees))}

	var wg sync.WaitGroup
	for i, att := range meeting.Attendees {
		wg.Add(1)
		go func(i int, addr models.EmailAddress) {
			defer wg.Done()
			c := AttendeeContext{Name: addr.Name, Email: addr.Address}
			if addr.Address != "" {
				c.RecentEmails = len(a.manager.SearchAllEmails(ctx, addr.Address))
			}
			if addr.Name != "" {
				c.Notes = len(a.manager.FindAllNotesByEntity(ctx, addr.Name, models.EntityPerson))
			}
			out.Attendees[i] = c
		}(i, att.EmailAddress)
	}
	wg.Wait()
	return out, nil
}
