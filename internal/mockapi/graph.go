package mockapi

import (
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// GraphTimeLayout is the dateTime format Graph uses together with a timeZone field.
const GraphTimeLayout = "2006-01-02T15:04:05.0000000"

const graphPageSize = 25

var containsQuery = regexp.MustCompile(`contains\([^,]+,\s*'([^']*)'\)`)

func (s *Server) registerMicrosoft(r *gin.Engine) {
	auth := r.Group("/msauth")
	{
		auth.POST("/devicecode", s.handleDeviceCode)
		auth.POST("/token", s.handleMicrosoftToken)
	}

	g := r.Group("/graph/v1.0", requireBearer)
	{
		g.GET("/me/messages", s.handleGraphMessages)
		g.GET("/me/messages/delta", s.handleGraphDelta)
		g.GET("/me/messages/:id", s.handleGraphMessage)
		g.GET("/me/calendar/calendarView", s.handleGraphCalendarView)
		g.GET("/me/events/:id", s.handleGraphEvent)
		g.GET("/me/onenote/notebooks", s.handleOneNoteNotebooks)
		g.GET("/me/onenote/notebooks/:id/sections", s.handleOneNoteSections)
		g.GET("/me/onenote/pages", s.handleOneNotePages)
		g.GET("/me/onenote/pages/:id/content", s.handleOneNoteContent)
	}
}

func (s *Server) handleDeviceCode(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"device_code":      "mock-device-code",
		"user_code":        "MOCK-CODE",
		"verification_uri": "https://microsoft.com/devicelogin",
		"expires_in":       900,
		"interval":         1,
		"message":          "To sign in, enter MOCK-CODE at https://microsoft.com/devicelogin",
	})
}

func (s *Server) handleMicrosoftToken(c *gin.Context) {
	switch c.PostForm("grant_type") {
	case "urn:ietf:params:oauth:grant-type:device_code":
		if c.PostForm("device_code") != "mock-device-code" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expired_token"})
			return
		}
	case "refresh_token":
		if !strings.HasPrefix(c.PostForm("refresh_token"), "ms-refresh") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant"})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type"})
		return
	}

	s.mu.RLock()
	me := s.me["microsoft"]
	s.mu.RUnlock()

	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"oid":                "00000000-0000-0000-0000-0000000000aa",
		"preferred_username": me.Address,
		"name":               me.Name,
		"iat":                s.now().Unix(),
		"exp":                s.now().Add(time.Hour).Unix(),
	}).SignedString(SigningKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token_type":    "Bearer",
		"access_token":  "ms-access-" + s.NewID(),
		"refresh_token": "ms-refresh-" + s.NewID(),
		"id_token":      idToken,
		"expires_in":    3600,
	})
}

func graphAddress(p Person) gin.H {
	return gin.H{"emailAddress": gin.H{"name": p.Name, "address": p.Address}}
}

func graphMail(m Mail) gin.H {
	to := make([]gin.H, 0, len(m.To))
	for _, p := range m.To {
		to = append(to, graphAddress(p))
	}
	cc := make([]gin.H, 0, len(m.Cc))
	for _, p := range m.Cc {
		cc = append(cc, graphAddress(p))
	}
	return gin.H{
		"id":               m.ID,
		"subject":          m.Subject,
		"from":             graphAddress(m.From),
		"toRecipients":     to,
		"ccRecipients":     cc,
		"body":             gin.H{"contentType": "text", "content": m.Body},
		"receivedDateTime": m.ReceivedAt.UTC().Format(time.RFC3339),
		"hasAttachments":   m.HasAttachments,
		"importance":       m.Importance,
		"isRead":           m.IsRead,
		"conversationId":   m.ConversationID,
	}
}

func graphTime(t time.Time) gin.H {
	return gin.H{"dateTime": t.UTC().Format(GraphTimeLayout), "timeZone": "UTC"}
}

func graphEvent(e Event) gin.H {
	attendees := make([]gin.H, 0, len(e.Attendees))
	for _, a := range e.Attendees {
		resp := a.Response
		if resp == "tentative" {
			resp = "tentativelyAccepted"
		}
		attendees = append(attendees, gin.H{
			"emailAddress": gin.H{"name": a.Name, "address": a.Address},
			"type":         a.Type,
			"status":       gin.H{"response": resp},
		})
	}
	ev := gin.H{
		"id":              e.ID,
		"subject":         e.Subject,
		"start":           graphTime(e.Start),
		"end":             graphTime(e.End),
		"location":        gin.H{"displayName": e.Location},
		"organizer":       graphAddress(e.Organizer),
		"attendees":       attendees,
		"body":            gin.H{"contentType": "html", "content": e.Body},
		"isOnlineMeeting": e.JoinURL != "",
	}
	if e.JoinURL != "" {
		ev["onlineMeeting"] = gin.H{"joinUrl": e.JoinURL}
	}
	return ev
}

func matchesQuery(q string, fields ...string) bool {
	if q == "" {
		return true
	}
	q = strings.ToLower(q)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

func filterQuery(filter string) string {
	if m := containsQuery.FindStringSubmatch(filter); m != nil {
		return m[1]
	}
	return ""
}

func intQuery(c *gin.Context, name string, def int) int {
	if v, err := strconv.Atoi(c.Query(name)); err == nil && v >= 0 {
		return v
	}
	return def
}

// nextLink rebuilds the request URL with a new $skip.
func nextLink(c *gin.Context, skip int) string {
	u := url.URL{Scheme: "http", Host: c.Request.Host, Path: c.Request.URL.Path}
	q := c.Request.URL.Query()
	q.Set("$skip", strconv.Itoa(skip))
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Server) handleGraphMessages(c *gin.Context) {
	top := intQuery(c, "$top", 10)
	skip := intQuery(c, "$skip", 0)
	q := filterQuery(c.Query("$filter"))

	s.mu.RLock()
	var mails []Mail
	for _, m := range s.microsoft.mails {
		if matchesQuery(q, m.Subject, m.Body) {
			mails = append(mails, m)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(mails, func(i, j int) bool { return mails[i].ReceivedAt.After(mails[j].ReceivedAt) })

	page := top
	if page > graphPageSize {
		page = graphPageSize
	}
	end := skip + page
	if end > len(mails) {
		end = len(mails)
	}
	value := make([]gin.H, 0, page)
	if skip < len(mails) {
		for _, m := range mails[skip:end] {
			value = append(value, graphMail(m))
		}
	}
	resp := gin.H{"value": value}
	if end < len(mails) {
		resp["@odata.nextLink"] = nextLink(c, end)
	}
	c.JSON(http.StatusOK, resp)
}

// handleGraphDelta serves changes since $deltatoken, an index into the change history.
func (s *Server) handleGraphDelta(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from := 0
	if tok := c.Query("$deltatoken"); tok != "" {
		n, err := strconv.Atoi(tok)
		if err != nil || n < 0 || n > len(s.microsoft.history) {
			c.JSON(http.StatusGone, gin.H{"error": gin.H{"code": "SyncStateNotFound", "message": "delta token expired"}})
			return
		}
		from = n
	}

	byID := make(map[string]Mail, len(s.microsoft.mails))
	for _, m := range s.microsoft.mails {
		byID[m.ID] = m
	}
	value := make([]gin.H, 0)
	for _, id := range s.microsoft.history[from:] {
		if m, ok := byID[id]; ok {
			value = append(value, graphMail(m))
		}
	}

	u := url.URL{Scheme: "http", Host: c.Request.Host, Path: c.Request.URL.Path}
	u.RawQuery = url.Values{"$deltatoken": {strconv.Itoa(len(s.microsoft.history))}}.Encode()
	c.JSON(http.StatusOK, gin.H{"value": value, "@odata.deltaLink": u.String()})
}

func notFoundGraph(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "ErrorItemNotFound", "message": "The specified object was not found in the store."}})
}

func (s *Server) handleGraphMessage(c *gin.Context) {
	id := c.Param("id")
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.microsoft.mails {
		if m.ID == id {
			c.JSON(http.StatusOK, graphMail(m))
			return
		}
	}
	notFoundGraph(c)
}

func (s *Server) handleGraphCalendarView(c *gin.Context) {
	start, err1 := time.Parse(time.RFC3339, c.Query("startDateTime"))
	end, err2 := time.Parse(time.RFC3339, c.Query("endDateTime"))
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "ErrorInvalidParameter", "message": "startDateTime and endDateTime are required"}})
		return
	}

	s.mu.RLock()
	var events []Event
	for _, e := range s.microsoft.events {
		if e.Start.Before(end) && e.End.After(start) {
			events = append(events, e)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })

	value := make([]gin.H, 0, len(events))
	for _, e := range events {
		value = append(value, graphEvent(e))
	}
	c.JSON(http.StatusOK, gin.H{"value": value})
}

func (s *Server) handleGraphEvent(c *gin.Context) {
	id := c.Param("id")
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.microsoft.events {
		if e.ID == id {
			c.JSON(http.StatusOK, graphEvent(e))
			return
		}
	}
	notFoundGraph(c)
}

func (s *Server) handleOneNoteNotebooks(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	value := make([]gin.H, 0)
	for _, n := range s.microsoft.notes {
		if n.NotebookID == "" || seen[n.NotebookID] {
			continue
		}
		seen[n.NotebookID] = true
		value = append(value, gin.H{"id": n.NotebookID, "displayName": n.NotebookName})
	}
	c.JSON(http.StatusOK, gin.H{"value": value})
}

func (s *Server) handleOneNoteSections(c *gin.Context) {
	notebookID := c.Param("id")
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	value := make([]gin.H, 0)
	for _, n := range s.microsoft.notes {
		if n.NotebookID != notebookID || seen[n.SectionID] {
			continue
		}
		seen[n.SectionID] = true
		value = append(value, gin.H{"id": n.SectionID, "displayName": n.SectionName})
	}
	c.JSON(http.StatusOK, gin.H{"value": value})
}

func (s *Server) handleOneNotePages(c *gin.Context) {
	q := filterQuery(c.Query("$filter"))
	top := intQuery(c, "$top", 20)

	s.mu.RLock()
	var notes []Note
	for _, n := range s.microsoft.notes {
		if matchesQuery(q, n.Title) {
			notes = append(notes, n)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].ModifiedAt.After(notes[j].ModifiedAt) })
	if len(notes) > top {
		notes = notes[:top]
	}

	value := make([]gin.H, 0, len(notes))
	for _, n := range notes {
		value = append(value, gin.H{
			"id":                   n.ID,
			"title":                n.Title,
			"createdDateTime":      n.CreatedAt.UTC().Format(time.RFC3339),
			"lastModifiedDateTime": n.ModifiedAt.UTC().Format(time.RFC3339),
			"parentSection":        gin.H{"id": n.SectionID, "displayName": n.SectionName},
			"parentNotebook":       gin.H{"id": n.NotebookID, "displayName": n.NotebookName},
		})
	}
	c.JSON(http.StatusOK, gin.H{"value": value})
}

func (s *Server) handleOneNoteContent(c *gin.Context) {
	id := c.Param("id")
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.microsoft.notes {
		if n.ID == id {
			c.Data(http.StatusOK, "text/html", []byte(n.HTML))
			return
		}
	}
	notFoundGraph(c)
}
