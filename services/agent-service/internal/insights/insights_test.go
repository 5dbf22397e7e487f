package insights

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/store"
)

var now = time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

type source struct {
	emails   []models.Message
	meetings []models.Meeting
}

func (s source) AllRecentEmails(ctx context.Context, count int) []models.Message {
	if len(s.emails) > count {
		return s.emails[:count]
	}
	return s.emails
}

func (s source) AllUpcomingMeetings(ctx context.Context, days int) []models.Meeting {
	return s.meetings
}

func message(id string, age time.Duration) models.Message {
	return models.Message{
		ID: id, Subject: "subject " + id, ProviderType: models.ProviderGoogle, AccountID: "acc",
		From: models.EmailAddress{Name: "Dana", Address: "dana@acme.com"}, ReceivedAt: now.Add(-age),
	}
}

func newGenerator(t *testing.T, src source, analyses map[string]models.EmailAnalysis) *Generator {
	t.Helper()
	st := store.New(store.NewMemory())
	for _, m := range src.emails {
		if a, ok := analyses[m.ID]; ok {
			if err := st.SaveAnalysis(context.Background(), m.Key(), a); err != nil {
				t.Fatal(err)
			}
		}
	}
	g := New(src, st, nil)
	g.now = func() time.Time { return now }
	return g
}

func byID(list []models.Insight) map[string]models.Insight {
	out := make(map[string]models.Insight, len(list))
	for _, in := range list {
		out[in.ID] = in
	}
	return out
}

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func TestDeadlinePriorities(t *testing.T) {
	src := source{emails: []models.Message{message("soon", time.Hour), message("later", time.Hour), message("far", time.Hour), message("past", time.Hour)}}
	g := newGenerator(t, src, map[string]models.EmailAnalysis{
		"soon":  {Deadline: at(2 * day)},
		"later": {Deadline: at(5 * day)},
		"far":   {Deadline: at(10 * day)},
		"past":  {Deadline: at(-day)},
	})

	got := byID(g.Generate(context.Background()))
	if got["deadline-soon"].Priority != models.PriorityHigh {
		t.Fatalf("2 days should be high, got %+v", got["deadline-soon"])
	}
	if got["deadline-soon"].Description != "Deadline in 2 days: subject soon" {
		t.Fatalf("description = %q", got["deadline-soon"].Description)
	}
	if got["deadline-later"].Priority != models.PriorityMedium {
		t.Fatalf("5 days should be medium, got %+v", got["deadline-later"])
	}
	for _, id := range []string{"deadline-far", "deadline-past"} {
		if _, ok := got[id]; ok {
			t.Fatalf("unexpected insight %s", id)
		}
	}
}

func TestFollowUps(t *testing.T) {
	old := message("old", 4*day)
	read := message("read", 4*day)
	read.IsRead = true
	fresh := message("fresh", day)
	noItems := message("noitems", 5*day)
	items := []models.ActionItem{{Description: "reply"}}

	src := source{emails: []models.Message{fresh, old, read, noItems}}
	g := newGenerator(t, src, map[string]models.EmailAnalysis{
		"old": {ActionItems: items}, "read": {ActionItems: items}, "fresh": {ActionItems: items}, "noitems": {},
	})
	got := byID(g.followUps(context.Background(), now))
	if len(got) != 1 {
		t.Fatalf("got %v, want only follow-up-old", got)
	}
	in := got["follow-up-old"]
	if in.Priority != models.PriorityMedium || in.Description != "Email from Dana has 1 pending action items" {
		t.Fatalf("unexpected insight %+v", in)
	}
}

func TestPatterns(t *testing.T) {
	var emails []models.Message
	for i := 0; i < 3; i++ {
		emails = append(emails, message(fmt.Sprint("q", i), time.Duration(15+i)*day))
	}
	active := message("active", day)
	active.From.Address = "busy@acme.com"
	emails = append(emails, active, active, active)

	g := newGenerator(t, source{emails: emails}, nil)
	got := g.patterns(context.Background(), now)
	if len(got) != 1 || got[0].ID != "pattern-dana@acme.com" || got[0].Priority != models.PriorityLow {
		t.Fatalf("got %+v", got)
	}
	if got[0].Description != "No communication with Dana in 15 days" || got[0].RelatedItems[0].ID != "q0" {
		t.Fatalf("unexpected insight %+v", got[0])
	}
}

func TestSuggestionsAndOrdering(t *testing.T) {
	meetings := []models.Meeting{
		{ID: "b", Subject: "Review", Start: now.Add(90 * time.Minute), End: now.Add(2 * time.Hour)},
		{ID: "a", Subject: "Standup", Start: now.Add(time.Hour), End: now.Add(100 * time.Minute)},
		{ID: "c", Subject: "Offsite", Start: now.Add(3 * day), End: now.Add(3*day + time.Hour)},
	}
	src := source{
		emails:   []models.Message{message("d", time.Hour)},
		meetings: meetings,
	}
	g := newGenerator(t, src, map[string]models.EmailAnalysis{"d": {Deadline: at(5 * day)}})

	list := g.Generate(context.Background())
	got := byID(list)
	if c, ok := got["conflict-a-b"]; !ok || c.Priority != models.PriorityHigh {
		t.Fatalf("missing conflict insight: %+v", list)
	}
	for _, id := range []string{"prep-a", "prep-b"} {
		if got[id].Priority != models.PriorityMedium {
			t.Fatalf("missing %s", id)
		}
	}
	if _, ok := got["prep-c"]; ok {
		t.Fatal("meeting three days out should not get a prepare nudge")
	}
	if list[0].ID != "conflict-a-b" {
		t.Fatalf("high priority insight should sort first, got %s", list[0].ID)
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Priority.Rank() < list[i].Priority.Rank() {
			t.Fatalf("insights not sorted by priority: %v", list)
		}
	}
}
