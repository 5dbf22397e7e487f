// Package analysis turns one message into an EmailAnalysis: priority, entities,
// action items, sentiment, summary and a locally detected deadline.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/llm"
	"github.com/stoik/aide/services/agent-service/internal/obs"
)

// DefaultUrgentKeywords are matched as lowercase substrings of subject and body.
var DefaultUrgentKeywords = []string{"urgent", "asap", "deadline", "due by", "critical", "important"}

const (
	shortExcerpt = 500
	longExcerpt  = 1000

	summaryFallback = "Unable to generate summary"
)

const (
	priorityPrompt  = "You are an email priority classifier. Classify emails as low, medium, or high priority. Respond with only one word: low, medium, or high."
	entityPrompt    = "You are an entity extraction assistant. Extract people, companies, projects, locations, and dates from text.\nReturn a JSON array of entities with format: [{\"text\": \"entity name\", \"type\": \"person|company|project|location|date\", \"confidence\": 0.0-1.0}]"
	actionPrompt    = "You are an action item extractor. Identify tasks, requests, and action items from text.\nReturn a JSON array with format: [{\"description\": \"action description\", \"dueDate\": \"ISO date or null\", \"priority\": \"low|medium|high\"}]"
	sentimentPrompt = "You are a sentiment analyzer. Classify the sentiment as positive, neutral, or negative. Respond with only one word."
	summaryPrompt   = "You are an email summarizer. Create a concise 1-2 sentence summary of the email content."
)

// Chatter is the part of llm.Service the pipeline needs.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResponse, error)
}

type Options struct {
	VIPSenders     []string
	UrgentKeywords []string
}

type Pipeline struct {
	llm      Chatter
	vips     map[string]bool
	keywords []string
	now      func() time.Time
	log      *slog.Logger
}

func New(chat Chatter, opts Options, log *slog.Logger) *Pipeline {
	if log == nil {
		log = obs.Discard()
	}
	vips := make(map[string]bool, len(opts.VIPSenders))
	for _, v := range opts.VIPSenders {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			vips[v] = true
		}
	}
	keywords := opts.UrgentKeywords
	if len(keywords) == 0 {
		keywords = DefaultUrgentKeywords
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	return &Pipeline{llm: chat, vips: vips, keywords: lowered, now: time.Now, log: log}
}

// AnalyzeEmail runs the five analyses concurrently and waits for all of them.
// Every branch degrades to its default on failure, so the result is always usable.
func (p *Pipeline) AnalyzeEmail(ctx context.Context, msg models.Message) models.EmailAnalysis {
	var (
		priority  = models.PriorityMedium
		entities  = []models.Entity{}
		actions   = []models.ActionItem{}
		sentiment = models.SentimentNeutral
		summary   = summaryFallback
	)
	var wg sync.WaitGroup
	wg.Add(5)
	go branch(p, &wg, "priority", &priority, func() models.Priority { return p.ClassifyPriority(ctx, msg) })
	go branch(p, &wg, "entities", &entities, func() []models.Entity { return p.ExtractEntities(ctx, msg.Body) })
	go branch(p, &wg, "action_items", &actions, func() []models.ActionItem { return p.ExtractActionItems(ctx, msg.Body) })
	go branch(p, &wg, "sentiment", &sentiment, func() models.Sentiment { return p.AnalyzeSentiment(ctx, msg.Body) })
	go branch(p, &wg, "summary", &summary, func() string { return p.Summarize(ctx, msg.Body) })
	wg.Wait()

	return models.EmailAnalysis{
		EmailID:        msg.ID,
		PriorityLevel:  priority,
		PriorityReason: p.priorityReason(msg, priority),
		Entities:       entities,
		ActionItems:    actions,
		Sentiment:      sentiment,
		Summary:        summary,
		RelatedNoteIDs: []string{},
		Deadline:       ExtractDeadline(msg.Body, p.now()),
		AnalyzedAt:     p.now(),
	}
}

// branch stores fn's result in dst. A panic leaves the default in dst.
func branch[T any](p *Pipeline, wg *sync.WaitGroup, name string, dst *T, fn func() T) {
	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("analysis branch panicked", "branch", name, "panic", r)
		}
	}()
	*dst = fn()
}

func (p *Pipeline) isVIP(msg models.Message) bool {
	return p.vips[strings.ToLower(msg.From.Address)]
}

func (p *Pipeline) urgentKeyword(msg models.Message) string {
	content := strings.ToLower(msg.Subject + " " + msg.Body)
	for _, k := range p.keywords {
		if strings.Contains(content, k) {
			return k
		}
	}
	return ""
}

// ClassifyPriority applies the VIP, keyword and importance short-circuits
// before asking the model. Unparseable answers and failures give medium.
func (p *Pipeline) ClassifyPriority(ctx context.Context, msg models.Message) models.Priority {
	if p.isVIP(msg) || p.urgentKeyword(msg) != "" || msg.Importance == models.ImportanceHigh {
		return models.PriorityHigh
	}

	reply, err := p.ask(ctx, priorityPrompt,
		fmt.Sprintf("Subject: %s\n\nFrom: %s\n\nBody: %s", msg.Subject, msg.From.Name, excerpt(msg.Body, shortExcerpt)))
	if err != nil {
		p.log.Warn("priority classification failed", "email", msg.ID, "error", err)
		return models.PriorityMedium
	}
	if pr, ok := models.ParsePriority(strings.ToLower(strings.TrimSpace(reply))); ok {
		return pr
	}
	return models.PriorityMedium
}

func (p *Pipeline) priorityReason(msg models.Message, priority models.Priority) string {
	switch {
	case p.isVIP(msg):
		return "Email from VIP sender"
	case p.urgentKeyword(msg) != "":
		return fmt.Sprintf("Contains urgent keyword: %q", p.urgentKeyword(msg))
	case msg.Importance == models.ImportanceHigh:
		return "Marked as high importance by sender"
	case priority == models.PriorityHigh:
		return "AI classified as high priority based on content"
	}
	return "Standard priority email"
}

func (p *Pipeline) ExtractEntities(ctx context.Context, text string) []models.Entity {
	entities := []models.Entity{}
	reply, err := p.ask(ctx, entityPrompt, excerpt(text, longExcerpt))
	if err != nil {
		p.log.Warn("entity extraction failed", "error", err)
		return entities
	}
	arr, ok := llm.ExtractJSONArray(reply)
	if !ok {
		p.log.Debug("entity reply is not a json array")
		return entities
	}
	arr.ForEach(func(_, v gjson.Result) bool {
		name := strings.TrimSpace(v.Get("text").String())
		typ := models.EntityType(strings.ToLower(v.Get("type").String()))
		if name == "" || !validEntityType(typ) {
			return true
		}
		conf := v.Get("confidence").Float()
		if !v.Get("confidence").Exists() {
			conf = 0.5
		}
		entities = append(entities, models.Entity{Text: name, Type: typ, Confidence: clamp01(conf)})
		return true
	})
	return entities
}

func validEntityType(t models.EntityType) bool {
	switch t {
	case models.EntityPerson, models.EntityCompany, models.EntityProject, models.EntityLocation, models.EntityDate:
		return true
	}
	return false
}

func (p *Pipeline) ExtractActionItems(ctx context.Context, text string) []models.ActionItem {
	items := []models.ActionItem{}
	reply, err := p.ask(ctx, actionPrompt, excerpt(text, longExcerpt))
	if err != nil {
		p.log.Warn("action item extraction failed", "error", err)
		return items
	}
	arr, ok := llm.ExtractJSONArray(reply)
	if !ok {
		return items
	}
	arr.ForEach(func(_, v gjson.Result) bool {
		desc := strings.TrimSpace(v.Get("description").String())
		if desc == "" {
			return true
		}
		item := models.ActionItem{Description: desc, Priority: models.PriorityMedium}
		if pr, ok := models.ParsePriority(strings.ToLower(v.Get("priority").String())); ok {
			item.Priority = pr
		}
		due := v.Get("dueDate")
		if !due.Exists() {
			due = v.Get("due_date")
		}
		if t, ok := parseISODate(due.String()); ok {
			item.DueDate = &t
		}
		item.Completed = v.Get("completed").Bool()
		items = append(items, item)
		return true
	})
	return items
}

func parseISODate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (p *Pipeline) AnalyzeSentiment(ctx context.Context, text string) models.Sentiment {
	reply, err := p.ask(ctx, sentimentPrompt, excerpt(text, shortExcerpt))
	if err != nil {
		p.log.Warn("sentiment analysis failed", "error", err)
		return models.SentimentNeutral
	}
	switch s := models.Sentiment(strings.ToLower(strings.TrimSpace(reply))); s {
	case models.SentimentPositive, models.SentimentNeutral, models.SentimentNegative:
		return s
	}
	return models.SentimentNeutral
}

func (p *Pipeline) Summarize(ctx context.Context, text string) string {
	reply, err := p.ask(ctx, summaryPrompt, excerpt(text, longExcerpt))
	if err != nil {
		p.log.Warn("summary failed", "error", err)
		return summaryFallback
	}
	return strings.TrimSpace(reply)
}

func (p *Pipeline) ask(ctx context.Context, system, user string) (string, error) {
	resp, err := p.llm.Chat(ctx, []llm.Message{llm.System(system), llm.User(user)}, llm.ChatOptions{})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// excerpt keeps the first n runes of s.
func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
