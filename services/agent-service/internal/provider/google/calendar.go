package google

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/provider"
)

const upcomingLimit = 50

type Calendar struct {
	rest  *provider.RESTClient
	id    provider.Identity
	hours provider.BusinessHours
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]models.Meeting
}

// NewCalendar reads the primary calendar. Free slots are offered within hours.
func NewCalendar(auth *Auth, retry *provider.Retrier, hours provider.BusinessHours) *Calendar {
	if hours.EndHour <= hours.StartHour {
		hours = provider.DefaultBusinessHours
	}
	return &Calendar{
		rest:  auth.Client("calendar", retry),
		id:    auth,
		hours: hours,
		now:   time.Now,
		cache: make(map[string]models.Meeting),
	}
}

func (c *Calendar) AccountID() string { return c.id.AccountID() }

func (c *Calendar) location() *time.Location {
	if c.hours.Location != nil {
		return c.hours.Location
	}
	return time.Local
}

func (c *Calendar) UpcomingMeetings(ctx context.Context, days int) ([]models.Meeting, error) {
	now := c.now()
	var resp struct {
		Items []calendarEvent `json:"items"`
	}
	err := c.rest.GetJSON(ctx, "/calendars/primary/events", url.Values{
		"timeMin":      {now.UTC().Format(time.RFC3339)},
		"timeMax":      {now.AddDate(0, 0, days).UTC().Format(time.RFC3339)},
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
		"maxResults":   {strconv.Itoa(upcomingLimit)},
	}, &resp)
	if err != nil {
		return nil, err
	}

	stamp := provider.StampOf(models.ProviderGoogle, c.id)
	out := make([]models.Meeting, 0, len(resp.Items))
	c.mu.Lock()
	for _, raw := range resp.Items {
		m := raw.model(c.location())
		stamp.Meeting(&m)
		c.cache[m.ID] = m
		out = append(out, m)
	}
	c.mu.Unlock()
	return out, nil
}

func (c *Calendar) MeetingByID(ctx context.Context, id string) (models.Meeting, error) {
	c.mu.Lock()
	m, ok := c.cache[id]
	c.mu.Unlock()
	if ok {
		return m, nil
	}

	var raw calendarEvent
	if err := c.rest.GetJSON(ctx, "/calendars/primary/events/"+url.PathEscape(id), nil, &raw); err != nil {
		return models.Meeting{}, err
	}
	m = raw.model(c.location())
	provider.StampOf(models.ProviderGoogle, c.id).Meeting(&m)

	c.mu.Lock()
	c.cache[id] = m
	c.mu.Unlock()
	return m, nil
}

// FindAvailableSlots intersects hourly business-hour candidates with the
// account's freeBusy response.
func (c *Calendar) FindAvailableSlots(ctx context.Context, durationMinutes, days int) ([]models.TimeSlot, error) {
	if err := provider.CheckSlotRequest(durationMinutes, days); err != nil {
		return nil, err
	}
	now := c.now()
	req := map[string]any{
		"timeMin": now.UTC().Format(time.RFC3339),
		"timeMax": now.AddDate(0, 0, days).UTC().Format(time.RFC3339),
		"items":   []map[string]string{{"id": "primary"}},
	}
	var resp struct {
		Calendars map[string]struct {
			Busy []struct {
				Start time.Time `json:"start"`
				End   time.Time `json:"end"`
			} `json:"busy"`
		} `json:"calendars"`
	}
	if err := c.rest.PostJSON(ctx, "/freeBusy", req, &resp); err != nil {
		return nil, err
	}

	var busy []models.TimeSlot
	for _, b := range resp.Calendars["primary"].Busy {
		busy = append(busy, models.TimeSlot{Start: b.Start, End: b.End})
	}
	return c.hours.Slots(now, days, time.Duration(durationMinutes)*time.Minute, busy), nil
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
