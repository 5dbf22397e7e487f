// Package briefing assembles pre-meeting briefings from notes, recent mail and the model.
package briefing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/llm"
	"github.com/stoik/aide/services/agent-service/internal/obs"
)

const (
	notesPerAttendee = 5
	maxEmails        = 10
	scanWindow       = 100
	emailsInPrompt   = 5
	maxTopics        = 5

	topicsPrompt = "You are a meeting preparation assistant. Based on meeting details, attendee notes, and recent emails, suggest 3-5 relevant discussion topics.\nReturn a JSON array of topic strings."
)

// FallbackTopics are used whenever the model cannot produce topics.
var FallbackTopics = []string{"Review meeting agenda", "Discuss action items", "Q&A"}

// Source is the aggregated view the generator reads from. The manager satisfies it.
type Source interface {
	MeetingByID(ctx context.Context, id string) (models.Meeting, error)
	AllUpcomingMeetings(ctx context.Context, days int) []models.Meeting
	AllRecentEmails(ctx context.Context, count int) []models.Message
	FindAllNotesByEntity(ctx context.Context, name string, typ models.EntityType) []models.Note
}

type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResponse, error)
}

type Generator struct {
	src Source
	llm Chatter
	now func() time.Time
	log *slog.Logger
}

func New(src Source, chat Chatter, log *slog.Logger) *Generator {
	if log == nil {
		log = obs.Discard()
	}
	return &Generator{src: src, llm: chat, now: time.Now, log: log}
}

// Generate builds the briefing for a meeting. Only a missing meeting is an error;
// every other step degrades to an empty or default value.
func (g *Generator) Generate(ctx context.Context, meetingID string) (models.Briefing, error) {
	meeting, err := g.src.MeetingByID(ctx, meetingID)
	if err != nil {
		return models.Briefing{}, fmt.Errorf("load meeting: %w", err)
	}

	notes := g.attendeeNotes(ctx, meeting)
	emails := g.attendeeEmails(ctx, meeting)
	return models.Briefing{
		Meeting:         meeting,
		AttendeeNotes:   notes,
		RecentEmails:    emails,
		SuggestedTopics: g.topics(ctx, meeting, notes, emails),
		GeneratedAt:     g.now(),
	}, nil
}

func attendeeLabel(a models.Attendee) string {
	return a.EmailAddress.DisplayOrAddress()
}

func (g *Generator) attendeeNotes(ctx context.Context, meeting models.Meeting) map[string][]models.Note {
	out := make(map[string][]models.Note)
	for _, a := range meeting.Attendees {
		name := attendeeLabel(a)
		if strings.TrimSpace(name) == "" {
			continue
		}
		notes := g.src.FindAllNotesByEntity(ctx, name, models.EntityPerson)
		if len(notes) == 0 {
			continue
		}
		if len(notes) > notesPerAttendee {
			notes = notes[:notesPerAttendee]
		}
		out[name] = notes
	}
	return out
}

// attendeeEmails scans the most recent messages in order and keeps the first
// ten sent by or to an attendee.
func (g *Generator) attendeeEmails(ctx context.Context, meeting models.Meeting) []models.Message {
	addresses := make(map[string]bool, len(meeting.Attendees))
	for _, a := range meeting.Attendees {
		if addr := strings.ToLower(a.EmailAddress.Address); addr != "" {
			addresses[addr] = true
		}
	}

	out := []models.Message{}
	if len(addresses) == 0 {
		return out
	}
	for _, m := range g.src.AllRecentEmails(ctx, scanWindow) {
		if m.Involves(addresses) {
			out = append(out, m)
			if len(out) >= maxEmails {
				break
			}
		}
	}
	return out
}

func (g *Generator) topics(ctx context.Context, meeting models.Meeting, notes map[string][]models.Note, emails []models.Message) []string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Meeting: %s\n", meeting.Subject)

	names := make([]string, 0, len(meeting.Attendees))
	for _, a := range meeting.Attendees {
		names = append(names, a.EmailAddress.Name)
	}
	fmt.Fprintf(&sb, "Attendees: %s\n\nRecent Notes:\n", strings.Join(names, ", "))

	for _, a := range meeting.Attendees {
		label := attendeeLabel(a)
		ns, ok := notes[label]
		if !ok {
			continue
		}
		titles := make([]string, len(ns))
		for i, n := range ns {
			titles[i] = n.Title
		}
		fmt.Fprintf(&sb, "%s: %s\n", label, strings.Join(titles, ", "))
	}

	sb.WriteString("\nRecent Email Subjects:\n")
	for i, m := range emails {
		if i == emailsInPrompt {
			break
		}
		fmt.Fprintf(&sb, "- %s\n", m.Subject)
	}
	sb.WriteString("\nSuggest relevant topics for this meeting.")

	resp, err := g.llm.Chat(ctx, []llm.Message{llm.System(topicsPrompt), llm.User(sb.String())}, llm.ChatOptions{})
	if err != nil {
		g.log.Warn("topic generation failed", "meeting", meeting.ID, "error", err)
		return fallback()
	}
	topics, ok := llm.ExtractStrings(resp.Content)
	if !ok || len(topics) == 0 {
		g.log.Debug("topic reply unusable", "meeting", meeting.ID)
		return fallback()
	}
	if len(topics) > maxTopics {
		topics = topics[:maxTopics]
	}
	return topics
}

func fallback() []string {
	return append([]string(nil), FallbackTopics...)
}

// UpcomingWithin24h lists meetings that start between now and 24 hours from now.
func (g *Generator) UpcomingWithin24h(ctx context.Context) []models.Meeting {
	now := g.now()
	limit := now.Add(24 * time.Hour)
	out := []models.Meeting{}
	for _, m := range g.src.AllUpcomingMeetings(ctx, 1) {
		if !m.Start.Before(now) && !m.Start.After(limit) {
			out = append(out, m)
		}
	}
	return out
}
