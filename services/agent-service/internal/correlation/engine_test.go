package correlation

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stoik/aide/internal/models"
)

type notesByQuery struct {
	search map[string][]models.Note
	entity map[string][]models.Note
}

func (n notesByQuery) SearchAllNotes(ctx context.Context, q string) []models.Note {
	return n.search[q]
}

func (n notesByQuery) FindAllNotesByEntity(ctx context.Context, name string, typ models.EntityType) []models.Note {
	return n.entity[name]
}

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func note(id string, modified time.Time) models.Note {
	return models.Note{ID: id, Title: id, LastModifiedAt: modified, ProviderType: models.ProviderMicrosoft, AccountID: "acc-1", AccountEmail: "me@contoso.com"}
}

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRankSumsScores(t *testing.T) {
	a := note("A", t0)
	b := note("B", t0)
	src := notesByQuery{
		entity: map[string][]models.Note{"Acme": {a}},
		search: map[string][]models.Note{"Acme renewal": {a}, "Dana Reyes": {b}},
	}
	e := New(src, nil)
	msg := models.Message{Subject: "Acme renewal", From: models.EmailAddress{Name: "Dana Reyes"}}
	ents := []models.Entity{
		{Text: "Acme", Type: models.EntityCompany, Confidence: 0.9},
		{Text: "Paris", Type: models.EntityLocation, Confidence: 1},
	}

	got := e.Rank(context.Background(), msg, ents)
	if len(got) != 2 {
		t.Fatalf("got %d notes, want 2", len(got))
	}
	if got[0].Note.ID != "A" || !almost(got[0].Score, 1.4) {
		t.Fatalf("first = %s %.2f, want A 1.4", got[0].Note.ID, got[0].Score)
	}
	if got[1].Note.ID != "B" || !almost(got[1].Score, 0.7) {
		t.Fatalf("second = %s %.2f, want B 0.7", got[1].Note.ID, got[1].Score)
	}
	if got[0].Reason != "Mentions company: Acme" {
		t.Fatalf("reason = %q", got[0].Reason)
	}
	// Stamps survive the round trip through correlation.
	for _, rn := range got {
		if rn.Note.ProviderType != models.ProviderMicrosoft || rn.Note.AccountID != "acc-1" {
			t.Fatalf("stamp lost on %+v", rn.Note)
		}
	}
}

func TestRankTiesBreakByRecencyAndCapAtTen(t *testing.T) {
	var subjectHits []models.Note
	for i := 0; i < 12; i++ {
		subjectHits = append(subjectHits, note(string(rune('a'+i)), t0.Add(time.Duration(i)*time.Hour)))
	}
	e := New(notesByQuery{search: map[string][]models.Note{"Weekly": subjectHits}}, nil)

	ids := e.CorrelateEmailWithNotes(context.Background(), models.Message{Subject: "Weekly"}, nil)
	if len(ids) != 10 {
		t.Fatalf("got %d ids, want 10", len(ids))
	}
	if ids[0] != "l" || ids[9] != "c" {
		t.Fatalf("expected newest first, got %v", ids)
	}
}

func TestSameIDDifferentAccountsAreDistinct(t *testing.T) {
	a1 := note("n1", t0)
	a2 := note("n1", t0)
	a2.AccountID = "acc-2"
	e := New(notesByQuery{search: map[string][]models.Note{"x": {a1, a2}}}, nil)
	if got := e.FindRelatedNotes(context.Background(), models.Message{Subject: "x"}, nil); len(got) != 2 {
		t.Fatalf("got %d notes, want 2", len(got))
	}
}

type fixedScorer map[string]float64

func (f fixedScorer) Score(ctx context.Context, msg models.Message, n models.Note) (float64, error) {
	s, ok := f[n.ID]
	if !ok {
		return 0, errors.New("no embedding")
	}
	return s, nil
}

func TestSemanticScorerReorders(t *testing.T) {
	src := notesByQuery{search: map[string][]models.Note{"Plan": {note("low", t0), note("boosted", t0.Add(-time.Hour))}}}
	e := New(src, nil).WithSemantic(fixedScorer{"boosted": 0.3})
	got := e.Rank(context.Background(), models.Message{Subject: "Plan"}, nil)
	if got[0].Note.ID != "boosted" || !almost(got[0].Score, 0.8) {
		t.Fatalf("unexpected ranking %+v", got)
	}
}

func TestSimilarity(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"budget review", "Budget Review", 1},
		{"budget review", "budget plan", 1.0 / 3},
		{"alpha", "beta", 0},
		{"", "", 0},
	}
	for _, tc := range cases {
		if got := Similarity(tc.a, tc.b); !almost(got, tc.want) {
			t.Errorf("Similarity(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
