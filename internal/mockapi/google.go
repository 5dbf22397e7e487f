package mockapi

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gin-gonic/gin"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	docMimeType    = "application/vnd.google-apps.document"

	// MockAuthCode is the authorization code the consent page hands back.
	MockAuthCode = "mock-auth-code"
)

var (
	fullTextQuery = regexp.MustCompile(`fullText contains '([^']*)'`)
	parentQuery   = regexp.MustCompile(`'([^']+)' in parents`)
)

func (s *Server) registerGoogle(r *gin.Engine) {
	g := r.Group("/google")
	{
		g.GET("/auth", s.handleGoogleConsent)
		g.POST("/token", s.handleGoogleToken)
		g.POST("/revoke", func(c *gin.Context) { c.Status(http.StatusOK) })
	}

	api := g.Group("", requireBearer)
	{
		api.GET("/oauth2/v2/userinfo", s.handleUserInfo)

		api.GET("/gmail/v1/users/me/profile", s.handleGmailProfile)
		api.GET("/gmail/v1/users/me/messages", s.handleGmailList)
		api.GET("/gmail/v1/users/me/messages/:id", s.handleGmailMessage)
		api.GET("/gmail/v1/users/me/history", s.handleGmailHistory)

		api.GET("/calendar/v3/calendars/primary/events", s.handleGoogleEvents)
		api.GET("/calendar/v3/calendars/primary/events/:id", s.handleGoogleEvent)
		api.POST("/calendar/v3/freeBusy", s.handleFreeBusy)

		api.GET("/drive/v3/files", s.handleDriveFiles)
		api.GET("/drive/v3/files/:id", s.handleDriveFile)
		api.GET("/docs/v1/documents/:id", s.handleDocsDocument)
	}
}

func googleError(c *gin.Context, status int, reason, message string) {
	c.JSON(status, gin.H{"error": gin.H{
		"code":    status,
		"message": message,
		"errors":  []gin.H{{"reason": reason, "message": message}},
	}})
}

// handleGoogleConsent approves every request and redirects back with a code.
func (s *Server) handleGoogleConsent(c *gin.Context) {
	redirect, err := url.Parse(c.Query("redirect_uri"))
	if err != nil || redirect.String() == "" {
		googleError(c, http.StatusBadRequest, "invalid_request", "redirect_uri is required")
		return
	}
	q := redirect.Query()
	q.Set("code", MockAuthCode)
	q.Set("state", c.Query("state"))
	redirect.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, redirect.String())
}

func (s *Server) handleGoogleToken(c *gin.Context) {
	switch c.PostForm("grant_type") {
	case "authorization_code":
		if c.PostForm("code") != MockAuthCode {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant", "error_description": "Malformed auth code."})
			return
		}
	case "refresh_token":
		if !strings.HasPrefix(c.PostForm("refresh_token"), "g-refresh") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant", "error_description": "Token has been expired or revoked."})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token_type":    "Bearer",
		"access_token":  "g-access-" + s.NewID(),
		"refresh_token": "g-refresh-" + s.NewID(),
		"expires_in":    3600,
	})
}

func (s *Server) handleUserInfo(c *gin.Context) {
	s.mu.RLock()
	me := s.me["google"]
	s.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{
		"id":      "109876543210",
		"email":   me.Address,
		"name":    me.Name,
		"picture": "https://lh3.googleusercontent.com/a/mock",
	})
}

func (s *Server) handleGmailProfile(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{
		"emailAddress":  s.me["google"].Address,
		"messagesTotal": len(s.google.mails),
		"historyId":     strconv.Itoa(len(s.google.history)),
	})
}

func gmailLabels(m Mail) []string {
	labels := []string{"INBOX"}
	if !m.IsRead {
		labels = append(labels, "UNREAD")
	}
	if m.Importance == "high" {
		labels = append(labels, "IMPORTANT")
	}
	return labels
}

func hasLabels(m Mail, want []string) bool {
	have := map[string]bool{}
	for _, l := range gmailLabels(m) {
		have[l] = true
	}
	for _, l := range want {
		if !have[l] {
			return false
		}
	}
	return true
}

func (s *Server) handleGmailList(c *gin.Context) {
	limit := intQuery(c, "maxResults", 100)
	offset := intQuery(c, "pageToken", 0)
	q := c.Query("q")
	labels := c.QueryArray("labelIds")

	s.mu.RLock()
	var mails []Mail
	for _, m := range s.google.mails {
		if matchesQuery(q, m.Subject, m.Body, m.From.Address, m.From.Name) && hasLabels(m, labels) {
			mails = append(mails, m)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(mails, func(i, j int) bool { return mails[i].ReceivedAt.After(mails[j].ReceivedAt) })

	end := offset + limit
	if end > len(mails) {
		end = len(mails)
	}
	refs := make([]gin.H, 0)
	if offset < len(mails) {
		for _, m := range mails[offset:end] {
			refs = append(refs, gin.H{"id": m.ID, "threadId": m.ConversationID})
		}
	}
	resp := gin.H{"messages": refs, "resultSizeEstimate": len(mails)}
	if end < len(mails) {
		resp["nextPageToken"] = strconv.Itoa(end)
	}
	c.JSON(http.StatusOK, resp)
}

func formatPeople(ps []Person) string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		if p.Name != "" {
			out = append(out, p.Name+" <"+p.Address+">")
		} else {
			out = append(out, p.Address)
		}
	}
	return strings.Join(out, ", ")
}

func gmailMessage(m Mail) gin.H {
	headers := []gin.H{
		{"name": "Subject", "value": m.Subject},
		{"name": "From", "value": formatPeople([]Person{m.From})},
		{"name": "To", "value": formatPeople(m.To)},
		{"name": "Date", "value": m.ReceivedAt.UTC().Format(time.RFC1123Z)},
	}
	if len(m.Cc) > 0 {
		headers = append(headers, gin.H{"name": "Cc", "value": formatPeople(m.Cc)})
	}
	parts := []gin.H{{
		"mimeType": "text/plain",
		"body":     gin.H{"data": base64.URLEncoding.EncodeToString([]byte(m.Body))},
	}}
	if m.HasAttachments {
		parts = append(parts, gin.H{
			"mimeType": "application/pdf",
			"filename": "attachment.pdf",
			"body":     gin.H{"attachmentId": "att-" + m.ID, "size": 1024},
		})
	}
	snippet := m.Body
	if len(snippet) > 100 {
		snippet = snippet[:100]
	}
	return gin.H{
		"id":           m.ID,
		"threadId":     m.ConversationID,
		"labelIds":     gmailLabels(m),
		"snippet":      snippet,
		"internalDate": strconv.FormatInt(m.ReceivedAt.UnixMilli(), 10),
		"payload": gin.H{
			"mimeType": "multipart/mixed",
			"headers":  headers,
			"parts":    parts,
		},
	}
}

func (s *Server) handleGmailMessage(c *gin.Context) {
	id := c.Param("id")
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.google.mails {
		if m.ID == id {
			c.JSON(http.StatusOK, gmailMessage(m))
			return
		}
	}
	googleError(c, http.StatusNotFound, "notFound", "Requested entity was not found.")
}

// handleGmailHistory lists messages added after startHistoryId.
func (s *Server) handleGmailHistory(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start, err := strconv.Atoi(c.Query("startHistoryId"))
	if err != nil || start < 0 || start > len(s.google.history) {
		googleError(c, http.StatusNotFound, "notFound", "Requested entity was not found.")
		return
	}

	records := make([]gin.H, 0)
	for i, id := range s.google.history[start:] {
		records = append(records, gin.H{
			"id":            strconv.Itoa(start + i + 1),
			"messagesAdded": []gin.H{{"message": gin.H{"id": id}}},
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"history":   records,
		"historyId": strconv.Itoa(len(s.google.history)),
	})
}

func googleEvent(e Event) gin.H {
	attendees := make([]gin.H, 0, len(e.Attendees))
	for _, a := range e.Attendees {
		status := a.Response
		if status == "none" || status == "" {
			status = "needsAction"
		}
		attendees = append(attendees, gin.H{
			"email":          a.Address,
			"displayName":    a.Name,
			"optional":       a.Type == "optional",
			"resource":       a.Type == "resource",
			"responseStatus": status,
		})
	}
	ev := gin.H{
		"id":          e.ID,
		"summary":     e.Subject,
		"description": e.Body,
		"location":    e.Location,
		"start":       gin.H{"dateTime": e.Start.UTC().Format(time.RFC3339)},
		"end":         gin.H{"dateTime": e.End.UTC().Format(time.RFC3339)},
		"organizer":   gin.H{"email": e.Organizer.Address, "displayName": e.Organizer.Name},
		"attendees":   attendees,
	}
	if e.JoinURL != "" {
		ev["hangoutLink"] = e.JoinURL
	}
	return ev
}

func (s *Server) eventsBetween(b *mailbox, from, to time.Time) []Event {
	var events []Event
	for _, e := range b.events {
		if e.Start.Before(to) && e.End.After(from) {
			events = append(events, e)
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events
}

func (s *Server) handleGoogleEvents(c *gin.Context) {
	from, err1 := time.Parse(time.RFC3339, c.Query("timeMin"))
	to, err2 := time.Parse(time.RFC3339, c.Query("timeMax"))
	if err1 != nil || err2 != nil {
		googleError(c, http.StatusBadRequest, "badRequest", "timeMin and timeMax are required")
		return
	}
	limit := intQuery(c, "maxResults", 250)

	s.mu.RLock()
	events := s.eventsBetween(s.google, from, to)
	s.mu.RUnlock()
	if len(events) > limit {
		events = events[:limit]
	}

	items := make([]gin.H, 0, len(events))
	for _, e := range events {
		items = append(items, googleEvent(e))
	}
	c.JSON(http.StatusOK, gin.H{"kind": "calendar#events", "items": items})
}

func (s *Server) handleGoogleEvent(c *gin.Context) {
	id := c.Param("id")
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.google.events {
		if e.ID == id {
			c.JSON(http.StatusOK, googleEvent(e))
			return
		}
	}
	googleError(c, http.StatusNotFound, "notFound", "Not Found")
}

func (s *Server) handleFreeBusy(c *gin.Context) {
	var req struct {
		TimeMin time.Time `json:"timeMin"`
		TimeMax time.Time `json:"timeMax"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		googleError(c, http.StatusBadRequest, "badRequest", err.Error())
		return
	}

	s.mu.RLock()
	events := s.eventsBetween(s.google, req.TimeMin, req.TimeMax)
	s.mu.RUnlock()

	busy := make([]gin.H, 0, len(events))
	for _, e := range events {
		busy = append(busy, gin.H{
			"start": e.Start.UTC().Format(time.RFC3339),
			"end":   e.End.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"timeMin":   req.TimeMin.UTC().Format(time.RFC3339),
		"timeMax":   req.TimeMax.UTC().Format(time.RFC3339),
		"calendars": gin.H{"primary": gin.H{"busy": busy}},
	})
}

func driveFile(n Note) gin.H {
	return gin.H{
		"id":           n.ID,
		"name":         n.Title,
		"mimeType":     docMimeType,
		"createdTime":  n.CreatedAt.UTC().Format(time.RFC3339),
		"modifiedTime": n.ModifiedAt.UTC().Format(time.RFC3339),
		"parents":      []string{n.NotebookID},
	}
}

// handleDriveFiles understands the folder, parent and fullText clauses of a Drive query.
func (s *Server) handleDriveFiles(c *gin.Context) {
	q := c.Query("q")
	pageSize := intQuery(c, "pageSize", 100)

	s.mu.RLock()
	defer s.mu.RUnlock()

	files := make([]gin.H, 0)
	if strings.Contains(q, "mimeType = '"+folderMimeType+"'") || strings.Contains(q, "mimeType='"+folderMimeType+"'") {
		seen := map[string]bool{}
		for _, n := range s.google.notes {
			if n.NotebookID == "" || seen[n.NotebookID] {
				continue
			}
			seen[n.NotebookID] = true
			files = append(files, gin.H{"id": n.NotebookID, "name": n.NotebookName, "mimeType": folderMimeType})
		}
		c.JSON(http.StatusOK, gin.H{"files": files})
		return
	}

	text := ""
	if m := fullTextQuery.FindStringSubmatch(q); m != nil {
		text = m[1]
	}
	parent := ""
	if m := parentQuery.FindStringSubmatch(q); m != nil {
		parent = m[1]
	}

	notes := append([]Note(nil), s.google.notes...)
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].ModifiedAt.After(notes[j].ModifiedAt) })
	for _, n := range notes {
		if parent != "" && n.NotebookID != parent {
			continue
		}
		if !matchesQuery(text, n.Title, n.HTML) {
			continue
		}
		files = append(files, driveFile(n))
		if len(files) == pageSize {
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (s *Server) handleDriveFile(c *gin.Context) {
	id := c.Param("id")
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.google.notes {
		if n.ID == id {
			c.JSON(http.StatusOK, driveFile(n))
			return
		}
		if n.NotebookID == id {
			c.JSON(http.StatusOK, gin.H{"id": id, "name": n.NotebookName, "mimeType": folderMimeType})
			return
		}
	}
	googleError(c, http.StatusNotFound, "notFound", "File not found: "+id)
}

// docParagraphs flattens note HTML into Docs paragraphs.
func docParagraphs(html string) []gin.H {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var content []gin.H
	doc.Find("h1, h2, h3, p, li").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		content = append(content, gin.H{"paragraph": gin.H{
			"elements": []gin.H{{"textRun": gin.H{"content": text + "\n"}}},
		}})
	})
	return content
}

func (s *Server) handleDocsDocument(c *gin.Context) {
	id := c.Param("id")
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.google.notes {
		if n.ID == id {
			c.JSON(http.StatusOK, gin.H{
				"documentId": n.ID,
				"title":      n.Title,
				"body":       gin.H{"content": docParagraphs(n.HTML)},
			})
			return
		}
	}
	googleError(c, http.StatusNotFound, "notFound", "Requested entity was not found.")
}
