// Package correlation ranks notes against a message by entity, subject and sender matches.
package correlation

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/obs"
)

const (
	subjectWeight = 0.5
	senderWeight  = 0.7
	maxRelated    = 10
)

// NotesSource searches notes across every account. The manager satisfies it.
type NotesSource interface {
	SearchAllNotes(ctx context.Context, query string) []models.Note
	FindAllNotesByEntity(ctx context.Context, name string, typ models.EntityType) []models.Note
}

// SemanticScorer adds an embedding similarity score for a note. Optional.
type SemanticScorer interface {
	Score(ctx context.Context, msg models.Message, note models.Note) (float64, error)
}

// RankedNote is a candidate with its accumulated score and the first reason it matched.
type RankedNote struct {
	Note   models.Note `json:"note"`
	Score  float64     `json:"score"`
	Reason string      `json:"reason"`
}

type Engine struct {
	notes    NotesSource
	semantic SemanticScorer
	log      *slog.Logger
}

func New(notes NotesSource, log *slog.Logger) *Engine {
	if log == nil {
		log = obs.Discard()
	}
	return &Engine{notes: notes, log: log}
}

// WithSemantic installs a scorer consulted for every candidate note.
func (e *Engine) WithSemantic(s SemanticScorer) *Engine {
	e.semantic = s
	return e
}

type ranking struct {
	byKey map[models.Key]*RankedNote
	order []*RankedNote
}

func (r *ranking) add(note models.Note, score float64, reason string) {
	key := models.Key{ProviderType: note.ProviderType, AccountID: note.AccountID, ID: note.ID}
	if rn, ok := r.byKey[key]; ok {
		rn.Score += score
		return
	}
	rn := &RankedNote{Note: note, Score: score, Reason: reason}
	r.byKey[key] = rn
	r.order = append(r.order, rn)
}

// Rank scores candidate notes: each person, company or project entity adds its
// confidence, a subject match adds 0.5, a sender name match adds 0.7. Results are
// ordered by score, then by last modification, and capped at ten.
func (e *Engine) Rank(ctx context.Context, msg models.Message, entities []models.Entity) []RankedNote {
	r := &ranking{byKey: make(map[models.Key]*RankedNote)}

	for _, ent := range entities {
		switch ent.Type {
		case models.EntityPerson, models.EntityCompany, models.EntityProject:
		default:
			continue
		}
		for _, n := range e.notes.FindAllNotesByEntity(ctx, ent.Text, ent.Type) {
			r.add(n, ent.Confidence, "Mentions "+string(ent.Type)+": "+ent.Text)
		}
	}

	if subject := strings.TrimSpace(msg.Subject); subject != "" {
		for _, n := range e.notes.SearchAllNotes(ctx, subject) {
			r.add(n, subjectWeight, "Related to email subject")
		}
	}

	if sender := strings.TrimSpace(msg.From.Name); sender != "" {
		for _, n := range e.notes.SearchAllNotes(ctx, sender) {
			r.add(n, senderWeight, "Related to sender: "+sender)
		}
	}

	if e.semantic != nil {
		for _, rn := range r.order {
			s, err := e.semantic.Score(ctx, msg, rn.Note)
			if err != nil {
				e.log.Debug("semantic score unavailable", "note", rn.Note.ID, "error", err)
				continue
			}
			rn.Score += s
		}
	}

	sort.SliceStable(r.order, func(i, j int) bool {
		a, b := r.order[i], r.order[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Note.LastModifiedAt.After(b.Note.LastModifiedAt)
	})

	n := len(r.order)
	if n > maxRelated {
		n = maxRelated
	}
	out := make([]RankedNote, n)
	for i := range out {
		out[i] = *r.order[i]
	}
	return out
}

// FindRelatedNotes returns the ranked notes without scores.
func (e *Engine) FindRelatedNotes(ctx context.Context, msg models.Message, entities []models.Entity) []models.Note {
	ranked := e.Rank(ctx, msg, entities)
	notes := make([]models.Note, len(ranked))
	for i, rn := range ranked {
		notes[i] = rn.Note
	}
	return notes
}

// CorrelateEmailWithNotes returns the ranked note ids for storing on the analysis.
func (e *Engine) CorrelateEmailWithNotes(ctx context.Context, msg models.Message, entities []models.Entity) []string {
	ranked := e.Rank(ctx, msg, entities)
	ids := make([]string, len(ranked))
	for i, rn := range ranked {
		ids[i] = rn.Note.ID
	}
	return ids
}

// Similarity is the Jaccard index of the lowercase word sets of a and b.
func Similarity(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)
	union := len(wa)
	inter := 0
	for w := range wb {
		if wa[w] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}
