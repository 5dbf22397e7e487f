package microsoft

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/provider"
)

const calendarPageSize = 100

// Calendar reads the default Outlook calendar.
type Calendar struct {
	rest *provider.RESTClient
	id   provider.Identity
	now  func() time.Time

	mu    sync.Mutex
	cache map[string]models.Meeting
}

func NewCalendar(auth *Auth, retry *provider.Retrier) *Calendar {
	return &Calendar{
		rest:  auth.Client(retry),
		id:    auth,
		now:   time.Now,
		cache: make(map[string]models.Meeting),
	}
}

func (c *Calendar) AccountID() string { return c.id.AccountID() }

// view returns every event overlapping [from, to], following nextLinks.
func (c *Calendar) view(ctx context.Context, from, to time.Time) ([]models.Meeting, error) {
	link := "/me/calendar/calendarView"
	query := url.Values{
		"startDateTime": {from.UTC().Format(time.RFC3339)},
		"endDateTime":   {to.UTC().Format(time.RFC3339)},
		"$top":          {"100"},
		"$orderby":      {"start/dateTime"},
	}
	stamp := provider.StampOf(models.ProviderMicrosoft, c.id)

	out := make([]models.Meeting, 0, calendarPageSize)
	for link != "" {
		var p page[event]
		if err := c.rest.GetJSON(ctx, link, query, &p); err != nil {
			return nil, err
		}
		query = nil
		for _, raw := range p.Value {
			m := raw.model()
			stamp.Meeting(&m)
			out = append(out, m)
		}
		link = p.NextLink
	}
	return out, nil
}

func (c *Calendar) UpcomingMeetings(ctx context.Context, days int) ([]models.Meeting, error) {
	now := c.now()
	meetings, err := c.view(ctx, now, now.AddDate(0, 0, days))
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	for _, m := range meetings {
		c.cache[m.ID] = m
	}
	c.mu.Unlock()
	return meetings, nil
}

func (c *Calendar) MeetingByID(ctx context.Context, id string) (models.Meeting, error) {
	c.mu.Lock()
	m, ok := c.cache[id]
	c.mu.Unlock()
	if ok {
		return m, nil
	}

	var raw event
	if err := c.rest.GetJSON(ctx, "/me/events/"+url.PathEscape(id), nil, &raw); err != nil {
		return models.Meeting{}, err
	}
	m = raw.model()
	provider.StampOf(models.ProviderMicrosoft, c.id).Meeting(&m)

	c.mu.Lock()
	c.cache[id] = m
	c.mu.Unlock()
	return m, nil
}

// FindAvailableSlots returns the gaps between events over the whole day range;
// Outlook has no working-hours restriction here.
func (c *Calendar) FindAvailableSlots(ctx context.Context, durationMinutes, days int) ([]models.TimeSlot, error) {
	if err := provider.CheckSlotRequest(durationMinutes, days); err != nil {
		return nil, err
	}
	now := c.now()
	end := now.AddDate(0, 0, days)
	events, err := c.view(ctx, now, end)
	if err != nil {
		return nil, err
	}
	busy := make([]models.TimeSlot, 0, len(events))
	for _, e := range events {
		busy = append(busy, models.TimeSlot{Start: e.Start, End: e.End})
	}
	return provider.FreeGaps(busy, now, end, time.Duration(durationMinutes)*time.Minute), nil
}

func (c *Calendar) MeetingAttendees(ctx context.Context, id string) ([]models.Attendee, error) {
	m, err := c.MeetingByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.Attendees, nil
}

func (c *Calendar) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]models.Meeting)
	c.mu.Unlock()
}
