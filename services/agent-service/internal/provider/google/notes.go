package google

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/obs"
	"github.com/stoik/aide/services/agent-service/internal/provider"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	notesPageSize  = 50
	previewRunes   = 500
	rootFolderName = "My Drive"
)

// Notes treats Google Docs as notes and Drive folders as notebooks.
type Notes struct {
	drive *provider.RESTClient
	docs  *provider.RESTClient
	id    provider.Identity
	log   *slog.Logger

	mu      sync.Mutex
	folders map[string]string
}

func NewNotes(auth *Auth, retry *provider.Retrier, log *slog.Logger) *Notes {
	if log == nil {
		log = obs.Discard()
	}
	return &Notes{
		drive:   auth.Client("drive", retry),
		docs:    auth.Client("docs", retry),
		id:      auth,
		log:     log,
		folders: make(map[string]string),
	}
}

func (n *Notes) AccountID() string { return n.id.AccountID() }

func (n *Notes) Notebooks(ctx context.Context) ([]models.Notebook, error) {
	var resp struct {
		Files []driveFile `json:"files"`
	}
	err := n.drive.GetJSON(ctx, "/files", url.Values{
		"q":      {"mimeType='" + folderMimeType + "' and trashed=false"},
		"fields": {"files(id, name)"},
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]models.Notebook, 0, len(resp.Files))
	n.mu.Lock()
	for _, f := range resp.Files {
		n.folders[f.ID] = f.Name
		out = append(out, models.Notebook{
			ID:           f.ID,
			DisplayName:  f.Name,
			Sections:     []models.Section{},
			ProviderType: models.ProviderGoogle,
			AccountID:    n.id.AccountID(),
		})
	}
	n.mu.Unlock()
	return out, nil
}

func (n *Notes) SearchNotes(ctx context.Context, query string) ([]models.Note, error) {
	q := strings.ReplaceAll(query, `\`, `\\`)
	q = strings.ReplaceAll(q, "'", `\'`)
	var resp struct {
		Files []driveFile `json:"files"`
	}
	err := n.drive.GetJSON(ctx, "/files", url.Values{
		"q":        {fmt.Sprintf("(mimeType='application/vnd.google-apps.document' or mimeType='application/vnd.google-apps.note') and fullText contains '%s' and trashed=false", q)},
		"fields":   {"files(id, name, mimeType, createdTime, modifiedTime, parents)"},
		"pageSize": {fmt.Sprint(notesPageSize)},
		"orderBy":  {"modifiedTime desc"},
	}, &resp)
	if err != nil {
		return nil, err
	}

	stamp := provider.StampOf(models.ProviderGoogle, n.id)
	out := make([]models.Note, 0, len(resp.Files))
	for _, f := range resp.Files {
		note := n.toNote(ctx, f)
		stamp.Note(&note)
		out = append(out, note)
	}
	return out, nil
}

// toNote fills the notebook name and a content preview. Both lookups are
// best effort; a failure leaves the defaults in place.
func (n *Notes) toNote(ctx context.Context, f driveFile) models.Note {
	notebookID := "root"
	if len(f.Parents) > 0 {
		notebookID = f.Parents[0]
	}
	title := f.Name
	if title == "" {
		title = "Untitled Document"
	}

	notebookName := n.folderName(ctx, notebookID)
	preview := ""
	if content, err := n.NoteContent(ctx, f.ID); err == nil {
		preview = truncateRunes(content.PlainText, previewRunes)
	} else {
		n.log.Debug("note preview unavailable", "note", f.ID, "error", err)
	}

	return models.Note{
		ID:             f.ID,
		Title:          title,
		Content:        preview,
		CreatedAt:      f.CreatedTime,
		LastModifiedAt: f.ModifiedTime,
		SectionID:      notebookID,
		NotebookID:     notebookID,
		Tags:           []string{},
		Metadata: map[string]any{
			"document_id":   f.ID,
			"mime_type":     f.MimeType,
			"notebook_name": notebookName,
		},
	}
}

func (n *Notes) folderName(ctx context.Context, id string) string {
	if id == "root" {
		return rootFolderName
	}
	n.mu.Lock()
	name, ok := n.folders[id]
	n.mu.Unlock()
	if ok {
		return name
	}

	var f driveFile
	if err := n.drive.GetJSON(ctx, "/files/"+url.PathEscape(id), url.Values{"fields": {"name"}}, &f); err != nil || f.Name == "" {
		return rootFolderName
	}
	n.mu.Lock()
	n.folders[id] = f.Name
	n.mu.Unlock()
	return f.Name
}

// NoteContent reads the Doc's paragraph text. Docs exposes no page HTML, so
// the HTML form wraps the text in a pre block.
func (n *Notes) NoteContent(ctx context.Context, id string) (models.NoteContent, error) {
	var doc document
	if err := n.docs.GetJSON(ctx, "/documents/"+url.PathEscape(id), nil, &doc); err != nil {
		return models.NoteContent{}, err
	}
	text := doc.plainText()
	return models.NoteContent{
		HTML:      "<html><body><pre>" + html.EscapeString(text) + "</pre></body></html>",
		PlainText: text,
		Images:    []models.NoteImage{},
	}, nil
}

func (n *Notes) FindNotesByEntity(ctx context.Context, name string, _ models.EntityType) ([]models.Note, error) {
	return n.SearchNotes(ctx, name)
}

func (n *Notes) ClearCache() {
	n.mu.Lock()
	n.folders = make(map[string]string)
	n.mu.Unlock()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
