// Package insights derives follow-up, deadline, pattern and scheduling insights
// from recent mail, stored analyses and upcoming meetings.
package insights

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/obs"
)

const (
	analysisWindow = 50
	patternWindow  = 100
	meetingDays    = 7

	day = 24 * time.Hour
)

type Source interface {
	AllRecentEmails(ctx context.Context, count int) []models.Message
	AllUpcomingMeetings(ctx context.Context, days int) []models.Meeting
}

// Analyses reads stored analyses. *store.Store satisfies it.
type Analyses interface {
	Analysis(ctx context.Context, key models.Key) (models.EmailAnalysis, error)
}

type Generator struct {
	src      Source
	analyses Analyses
	now      func() time.Time
	log      *slog.Logger
}

func New(src Source, analyses Analyses, log *slog.Logger) *Generator {
	if log == nil {
		log = obs.Discard()
	}
	return &Generator{src: src, analyses: analyses, now: time.Now, log: log}
}

type category struct {
	name string
	fn   func(ctx context.Context, now time.Time) []models.Insight
}

// Generate computes every category concurrently and sorts the combined result
// by priority, then newest first. A failing category contributes nothing.
func (g *Generator) Generate(ctx context.Context) []models.Insight {
	now := g.now()
	categories := []category{
		{"follow_up", g.followUps},
		{"deadline", g.deadlines},
		{"pattern", g.patterns},
		{"suggestion", g.suggestions},
	}

	results := make([][]models.Insight, len(categories))
	var wg sync.WaitGroup
	for i, c := range categories {
		wg.Add(1)
		go func(i int, c category) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					g.log.Error("insight category panicked", "category", c.name, "panic", r)
				}
			}()
			results[i] = c.fn(ctx, now)
		}(i, c)
	}
	wg.Wait()

	out := []models.Insight{}
	for _, r := range results {
		out = append(out, r...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Priority.Rank(), out[j].Priority.Rank()
		if pi != pj {
			return pi > pj
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

type analyzed struct {
	msg      models.Message
	analysis models.EmailAnalysis
}

// withAnalyses pairs recent messages with their stored analysis, skipping
// messages that have none.
func (g *Generator) withAnalyses(ctx context.Context) []analyzed {
	var out []analyzed
	for _, m := range g.src.AllRecentEmails(ctx, analysisWindow) {
		a, err := g.analyses.Analysis(ctx, m.Key())
		if err != nil {
			continue
		}
		out = append(out, analyzed{msg: m, analysis: a})
	}
	return out
}

func emailItem(m models.Message, title string) models.RelatedItem {
	return models.RelatedItem{Type: "email", ID: m.ID, Title: title}
}

func meetingItem(m models.Meeting) models.RelatedItem {
	return models.RelatedItem{Type: "meeting", ID: m.ID, Title: m.Subject}
}

// followUps flags unread messages older than three days with pending action items.
func (g *Generator) followUps(ctx context.Context, now time.Time) []models.Insight {
	var out []models.Insight
	for _, a := range g.withAnalyses(ctx) {
		if len(a.analysis.ActionItems) == 0 || a.msg.IsRead || now.Sub(a.msg.ReceivedAt) <= 3*day {
			continue
		}
		out = append(out, models.Insight{
			ID:           "follow-up-" + a.msg.ID,
			Type:         models.InsightFollowUp,
			Title:        "Follow-up needed",
			Description:  fmt.Sprintf("Email from %s has %d pending action items", a.msg.From.DisplayOrAddress(), len(a.analysis.ActionItems)),
			Priority:     models.PriorityMedium,
			Actionable:   true,
			RelatedItems: []models.RelatedItem{emailItem(a.msg, a.msg.Subject)},
			CreatedAt:    now,
		})
	}
	return out
}

// deadlines flags analyses whose deadline falls within the next seven days.
func (g *Generator) deadlines(ctx context.Context, now time.Time) []models.Insight {
	var out []models.Insight
	for _, a := range g.withAnalyses(ctx) {
		if a.analysis.Deadline == nil {
			continue
		}
		days := a.analysis.Deadline.Sub(now).Hours() / 24
		if days <= 0 || days > 7 {
			continue
		}
		priority := models.PriorityMedium
		if days <= 2 {
			priority = models.PriorityHigh
		}
		out = append(out, models.Insight{
			ID:           "deadline-" + a.msg.ID,
			Type:         models.InsightDeadline,
			Title:        "Upcoming deadline",
			Description:  fmt.Sprintf("Deadline in %d days: %s", int(math.Ceil(days)), a.msg.Subject),
			Priority:     priority,
			Actionable:   true,
			RelatedItems: []models.RelatedItem{emailItem(a.msg, a.msg.Subject)},
			CreatedAt:    now,
		})
	}
	return out
}

// patterns flags frequent senders (three or more recent messages) who have been
// silent for more than two weeks.
func (g *Generator) patterns(ctx context.Context, now time.Time) []models.Insight {
	type sender struct {
		count int
		last  models.Message
	}
	bySender := make(map[string]*sender)
	var order []string
	for _, m := range g.src.AllRecentEmails(ctx, patternWindow) {
		addr := strings.ToLower(m.From.Address)
		if addr == "" {
			continue
		}
		s, ok := bySender[addr]
		if !ok {
			s = &sender{last: m}
			bySender[addr] = s
			order = append(order, addr)
		}
		s.count++
		if m.ReceivedAt.After(s.last.ReceivedAt) {
			s.last = m
		}
	}

	var out []models.Insight
	for _, addr := range order {
		s := bySender[addr]
		if s.count < 3 {
			continue
		}
		silent := now.Sub(s.last.ReceivedAt)
		if silent <= 14*day {
			continue
		}
		out = append(out, models.Insight{
			ID:           "pattern-" + addr,
			Type:         models.InsightPattern,
			Title:        "Client not contacted recently",
			Description:  fmt.Sprintf("No communication with %s in %d days", s.last.From.DisplayOrAddress(), int(silent/day)),
			Priority:     models.PriorityLow,
			Actionable:   true,
			RelatedItems: []models.RelatedItem{emailItem(s.last, "Last email: "+s.last.Subject)},
			CreatedAt:    now,
		})
	}
	return out
}

// suggestions flags overlaps between consecutive meetings and nudges
// preparation for meetings starting within a day.
func (g *Generator) suggestions(ctx context.Context, now time.Time) []models.Insight {
	meetings := g.src.AllUpcomingMeetings(ctx, meetingDays)
	sort.SliceStable(meetings, func(i, j int) bool { return meetings[i].Start.Before(meetings[j].Start) })

	var out []models.Insight
	for i := 0; i+1 < len(meetings); i++ {
		cur, next := meetings[i], meetings[i+1]
		if !cur.End.After(next.Start) {
			continue
		}
		out = append(out, models.Insight{
			ID:           "conflict-" + cur.ID + "-" + next.ID,
			Type:         models.InsightSuggestion,
			Title:        "Scheduling conflict detected",
			Description:  fmt.Sprintf("%q overlaps with %q", cur.Subject, next.Subject),
			Priority:     models.PriorityHigh,
			Actionable:   true,
			RelatedItems: []models.RelatedItem{meetingItem(cur), meetingItem(next)},
			CreatedAt:    now,
		})
	}

	for _, m := range meetings {
		until := m.Start.Sub(now)
		if until <= 0 || until > day {
			continue
		}
		out = append(out, models.Insight{
			ID:           "prep-" + m.ID,
			Type:         models.InsightSuggestion,
			Title:        "Prepare for upcoming meeting",
			Description:  fmt.Sprintf("Meeting %q starts soon. Review briefing and notes.", m.Subject),
			Priority:     models.PriorityMedium,
			Actionable:   true,
			RelatedItems: []models.RelatedItem{meetingItem(m)},
			CreatedAt:    now,
		})
	}
	return out
}
