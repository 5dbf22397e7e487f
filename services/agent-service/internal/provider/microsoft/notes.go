package microsoft

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/provider"
)

const notesPageSize = 50

// Notes reads OneNote notebooks and pages.
type Notes struct {
	rest *provider.RESTClient
	id   provider.Identity

	mu        sync.Mutex
	notebooks map[string]models.Notebook
	notes     map[string]models.Note
}

func NewNotes(auth *Auth, retry *provider.Retrier) *Notes {
	return &Notes{
		rest:      auth.Client(retry),
		id:        auth,
		notebooks: make(map[string]models.Notebook),
		notes:     make(map[string]models.Note),
	}
}

func (n *Notes) AccountID() string { return n.id.AccountID() }

func (n *Notes) Notebooks(ctx context.Context) ([]models.Notebook, error) {
	var books page[ref]
	if err := n.rest.GetJSON(ctx, "/me/onenote/notebooks", nil, &books); err != nil {
		return nil, err
	}

	out := make([]models.Notebook, 0, len(books.Value))
	for _, b := range books.Value {
		var sections page[ref]
		if err := n.rest.GetJSON(ctx, "/me/onenote/notebooks/"+url.PathEscape(b.ID)+"/sections", nil, &sections); err != nil {
			return nil, fmt.Errorf("sections of notebook %s: %w", b.ID, err)
		}
		nb := models.Notebook{
			ID:           b.ID,
			DisplayName:  b.DisplayName,
			Sections:     make([]models.Section, 0, len(sections.Value)),
			ProviderType: models.ProviderMicrosoft,
			AccountID:    n.id.AccountID(),
		}
		for _, s := range sections.Value {
			nb.Sections = append(nb.Sections, models.Section{ID: s.ID, DisplayName: s.DisplayName})
		}
		out = append(out, nb)
	}

	n.mu.Lock()
	for _, nb := range out {
		n.notebooks[nb.ID] = nb
	}
	n.mu.Unlock()
	return out, nil
}

// SearchNotes matches page titles. Pages are expanded with their notebook so
// no per-page section lookup is needed.
func (n *Notes) SearchNotes(ctx context.Context, query string) ([]models.Note, error) {
	var p page[notePage]
	err := n.rest.GetJSON(ctx, "/me/onenote/pages", url.Values{
		"$filter": {fmt.Sprintf("contains(title,'%s')", odataString(query))},
		"$top":    {fmt.Sprint(notesPageSize)},
		"$expand": {"parentSection,parentNotebook"},
	}, &p)
	if err != nil {
		return nil, err
	}

	stamp := provider.StampOf(models.ProviderMicrosoft, n.id)
	out := make([]models.Note, 0, len(p.Value))
	n.mu.Lock()
	for _, raw := range p.Value {
		note := raw.model()
		stamp.Note(&note)
		n.notes[note.ID] = note
		out = append(out, note)
	}
	n.mu.Unlock()
	return out, nil
}

func (n *Notes) NoteContent(ctx context.Context, id string) (models.NoteContent, error) {
	raw, err := n.rest.GetRaw(ctx, "/me/onenote/pages/"+url.PathEscape(id)+"/content")
	if err != nil {
		return models.NoteContent{}, err
	}
	return ParseNoteHTML(string(raw))
}

// FindNotesByEntity degrades to a title search on the entity name.
func (n *Notes) FindNotesByEntity(ctx context.Context, name string, _ models.EntityType) ([]models.Note, error) {
	return n.SearchNotes(ctx, name)
}

func (n *Notes) ClearCache() {
	n.mu.Lock()
	n.notebooks = make(map[string]models.Notebook)
	n.notes = make(map[string]models.Note)
	n.mu.Unlock()
}

// ParseNoteHTML extracts the visible text and the images of a OneNote page.
func ParseNoteHTML(html string) (models.NoteContent, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.NoteContent{}, fmt.Errorf("parse page html: %w", err)
	}
	doc.Find("script, style, head").Remove()

	content := models.NoteContent{HTML: html, Images: []models.NoteImage{}}
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || src == "" {
			return
		}
		content.Images = append(content.Images, models.NoteImage{Src: src, Alt: img.AttrOr("alt", "")})
	})

	var parts []string
	textNodes(doc.Find("body"), &parts)
	content.PlainText = strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	return content, nil
}

// textNodes collects text in document order, keeping block boundaries as spaces.
func textNodes(sel *goquery.Selection, parts *[]string) {
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			*parts = append(*parts, c.Text())
			return
		}
		textNodes(c, parts)
	})
}
