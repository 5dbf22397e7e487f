package mockapi

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

var (
	firstNames = []string{"John", "Jane", "Bob", "Alice", "Charlie", "Diana", "Eve", "Frank"}
	lastNames  = []string{"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis"}
	domains    = []string{"example.com", "company.com", "business.org", "enterprise.net"}
	subjects   = []string{
		"Meeting tomorrow",
		"Project update",
		"Budget review",
		"Team lunch",
		"Quarterly report",
		"Client feedback",
		"Urgent: Action required",
		"Follow up",
	}
	bodies = []string{
		"Can you send me the revised numbers by Friday?",
		"Please review the attached proposal and share feedback.",
		"Thanks for the update, looks good to me.",
		"We need to finalize the contract before the deadline on March 15, 2026.",
		"Let's sync on the roadmap during our next meeting.",
		"FYI, the client asked about the delivery schedule.",
	}
	meetingTitles = []string{"Weekly sync", "Design review", "Client call", "Sprint planning", "1:1"}
)

// Generator fills a Server with plausible random content. It is not safe
// for concurrent use.
type Generator struct {
	s   *Server
	rng *rand.Rand
}

// NewGenerator seeds a generator; equal seeds produce equal content.
func NewGenerator(s *Server, seed int64) *Generator {
	return &Generator{s: s, rng: rand.New(rand.NewSource(seed))}
}

func (g *Generator) person(i int) Person {
	first := firstNames[i%len(firstNames)]
	last := lastNames[(i/len(firstNames))%len(lastNames)]
	return Person{
		Name:    first + " " + last,
		Address: fmt.Sprintf("%s.%s@%s", strings.ToLower(first), strings.ToLower(last), domains[i%len(domains)]),
	}
}

// Mail adds one random message received at the given time.
func (g *Generator) Mail(vendor string, at time.Time) Mail {
	g.s.mu.RLock()
	me := g.s.me[vendor]
	g.s.mu.RUnlock()

	subject := subjects[g.rng.Intn(len(subjects))]
	importance := "normal"
	if g.rng.Intn(5) == 0 {
		importance = "high"
	}
	return g.s.AddMail(vendor, Mail{
		Subject:    subject,
		From:       g.person(g.rng.Intn(32)),
		To:         []Person{me},
		Body:       fmt.Sprintf("Hi %s,\n\n%s\n\nBest regards", me.Name, bodies[g.rng.Intn(len(bodies))]),
		ReceivedAt: at,
		Importance: importance,
		IsRead:     g.rng.Intn(2) == 0,
	})
}

// Seed adds mails spread over the last day, a few meetings in the coming
// days and a handful of notes.
func (g *Generator) Seed(vendor string, mails, meetings, notes int) {
	now := g.s.now()
	for i := 0; i < mails; i++ {
		g.Mail(vendor, now.Add(-time.Duration(g.rng.Intn(24*60))*time.Minute))
	}

	g.s.mu.RLock()
	me := g.s.me[vendor]
	g.s.mu.RUnlock()
	day := now.Truncate(24 * time.Hour)
	for i := 0; i < meetings; i++ {
		start := day.Add(time.Duration(1+i/3) * 24 * time.Hour).Add(time.Duration(9+g.rng.Intn(8)) * time.Hour)
		attendees := []Attendee{{Person: me, Type: "required", Response: "accepted"}}
		for j := 0; j < 1+g.rng.Intn(3); j++ {
			attendees = append(attendees, Attendee{Person: g.person(g.rng.Intn(32)), Type: "required", Response: "none"})
		}
		g.s.AddEvent(vendor, Event{
			Subject:   meetingTitles[g.rng.Intn(len(meetingTitles))],
			Start:     start,
			End:       start.Add(time.Duration(30*(1+g.rng.Intn(2))) * time.Minute),
			Location:  "Conference Room " + string(rune('A'+g.rng.Intn(4))),
			Organizer: me,
			Attendees: attendees,
		})
	}

	for i := 0; i < notes; i++ {
		p := g.person(g.rng.Intn(32))
		g.s.AddNote(vendor, Note{
			Title:        "Notes on " + p.Name,
			HTML:         fmt.Sprintf("<html><body><h1>%s</h1><p>%s</p></body></html>", p.Name, bodies[g.rng.Intn(len(bodies))]),
			SectionID:    "section-1",
			SectionName:  "Quick Notes",
			NotebookID:   "notebook-1",
			NotebookName: "Work",
		})
	}
}

// Run adds 0-3 mails per vendor on every tick until ctx is done.
func (g *Generator) Run(ctx context.Context, interval time.Duration, vendors ...string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := g.s.now()
			for _, v := range vendors {
				for i := g.rng.Intn(4); i > 0; i-- {
					g.Mail(v, now.Add(-time.Duration(g.rng.Intn(int(interval/time.Second)+1))*time.Second))
				}
			}
		}
	}
}
