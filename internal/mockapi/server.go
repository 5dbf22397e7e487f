// Package mockapi emulates the subset of Microsoft Graph and Google Workspace
// endpoints the agent uses, backed by in-memory state. It serves the local
// mock-server binary and the adapter tests.
package mockapi

import (
	"crypto/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
)

// SigningKey signs the mock Microsoft id_token.
var SigningKey = []byte("mock-signing-key")

// Person is a mailbox identity.
type Person struct {
	Name    string
	Address string
}

// Mail is a message as the emulator stores it, shared by both vendors.
type Mail struct {
	ID             string
	Subject        string
	From           Person
	To             []Person
	Cc             []Person
	Body           string
	ReceivedAt     time.Time
	Importance     string
	IsRead         bool
	HasAttachments bool
	ConversationID string
}

type Attendee struct {
	Person
	Type     string // required, optional, resource
	Response string // none, accepted, declined, tentative
}

type Event struct {
	ID        string
	Subject   string
	Start     time.Time
	End       time.Time
	Location  string
	Organizer Person
	Attendees []Attendee
	Body      string
	JoinURL   string
}

type Note struct {
	ID           string
	Title        string
	HTML         string
	CreatedAt    time.Time
	ModifiedAt   time.Time
	SectionID    string
	SectionName  string
	NotebookID   string
	NotebookName string
}

// mailbox is the state of one vendor account.
type mailbox struct {
	mails  []Mail
	events []Event
	notes  []Note
	// history records the index into mails at each change, for delta and history cursors.
	history []string
}

type fault struct {
	status    int
	body      string
	remaining int
}

// Server is the emulator. All methods are safe for concurrent use.
type Server struct {
	mu        sync.RWMutex
	microsoft *mailbox
	google    *mailbox
	me        map[string]Person
	faults    map[string]*fault
	now       func() time.Time

	entropy   *ulid.MonotonicEntropy
	entropyMu sync.Mutex
}

// Option customizes a Server.
type Option func(*Server)

// WithClock fixes the emulator clock.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithIdentity sets the signed-in user for a vendor ("microsoft" or "google").
func WithIdentity(vendor string, p Person) Option {
	return func(s *Server) { s.me[vendor] = p }
}

func New(opts ...Option) *Server {
	s := &Server{
		microsoft: &mailbox{},
		google:    &mailbox{},
		me: map[string]Person{
			"microsoft": {Name: "Morgan Lee", Address: "morgan@contoso.com"},
			"google":    {Name: "Morgan Lee", Address: "morgan.lee@gmail.com"},
		},
		faults:  make(map[string]*fault),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewID returns a fresh sortable id.
func (s *Server) NewID() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String())
}

func (s *Server) box(vendor string) *mailbox {
	if vendor == "google" {
		return s.google
	}
	return s.microsoft
}

// AddMail appends a message to a vendor mailbox and records it in the change history.
func (s *Server) AddMail(vendor string, m Mail) Mail {
	if m.ID == "" {
		m.ID = s.NewID()
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = s.now()
	}
	if m.Importance == "" {
		m.Importance = "normal"
	}
	if m.ConversationID == "" {
		m.ConversationID = m.ID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.box(vendor)
	b.mails = append(b.mails, m)
	b.history = append(b.history, m.ID)
	return m
}

func (s *Server) AddEvent(vendor string, e Event) Event {
	if e.ID == "" {
		e.ID = s.NewID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.box(vendor)
	b.events = append(b.events, e)
	return e
}

func (s *Server) AddNote(vendor string, n Note) Note {
	if n.ID == "" {
		n.ID = s.NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	if n.ModifiedAt.IsZero() {
		n.ModifiedAt = n.CreatedAt
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.box(vendor)
	b.notes = append(b.notes, n)
	return n
}

// FailNext makes the next n requests whose path contains pathPart fail with status.
func (s *Server) FailNext(pathPart string, status int, body string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[pathPart] = &fault{status: status, body: body, remaining: n}
}

// Handler builds the gin engine serving both vendors.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.injectFaults)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.registerMicrosoft(r)
	s.registerGoogle(r)

	admin := r.Group("/admin")
	{
		admin.POST("/:vendor/mail", s.handleAdminAddMail)
		admin.POST("/:vendor/events", s.handleAdminAddEvent)
		admin.POST("/:vendor/notes", s.handleAdminAddNote)
	}
	return r
}

func (s *Server) injectFaults(c *gin.Context) {
	s.mu.Lock()
	for part, f := range s.faults {
		if f.remaining > 0 && strings.Contains(c.Request.URL.Path, part) {
			f.remaining--
			s.mu.Unlock()
			c.Data(f.status, "application/json", []byte(f.body))
			c.Abort()
			return
		}
	}
	s.mu.Unlock()
	c.Next()
}

// requireBearer rejects requests without an Authorization header.
func requireBearer(c *gin.Context) {
	if !strings.HasPrefix(c.GetHeader("Authorization"), "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "InvalidAuthenticationToken", "message": "Access token is empty."}})
		return
	}
	c.Next()
}

func (s *Server) handleAdminAddMail(c *gin.Context) {
	var req struct {
		Subject    string `json:"subject"`
		FromName   string `json:"from_name"`
		FromEmail  string `json:"from_email"`
		Body       string `json:"body"`
		Importance string `json:"importance"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	vendor := c.Param("vendor")
	s.mu.RLock()
	me := s.me[vendor]
	s.mu.RUnlock()

	m := s.AddMail(vendor, Mail{
		Subject:    req.Subject,
		From:       Person{Name: req.FromName, Address: req.FromEmail},
		To:         []Person{me},
		Body:       req.Body,
		Importance: req.Importance,
	})
	c.JSON(http.StatusOK, gin.H{"id": m.ID})
}

func (s *Server) handleAdminAddEvent(c *gin.Context) {
	var req struct {
		Subject   string    `json:"subject"`
		Start     time.Time `json:"start"`
		End       time.Time `json:"end"`
		Attendees []struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"attendees"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e := Event{Subject: req.Subject, Start: req.Start, End: req.End}
	for _, a := range req.Attendees {
		e.Attendees = append(e.Attendees, Attendee{Person: Person{Name: a.Name, Address: a.Email}, Type: "required", Response: "none"})
	}
	e = s.AddEvent(c.Param("vendor"), e)
	c.JSON(http.StatusOK, gin.H{"id": e.ID})
}

func (s *Server) handleAdminAddNote(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
		HTML  string `json:"html"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n := s.AddNote(c.Param("vendor"), Note{
		Title: req.Title, HTML: req.HTML,
		SectionID: "section-1", SectionName: "Quick Notes",
		NotebookID: "notebook-1", NotebookName: "Work",
	})
	c.JSON(http.StatusOK, gin.H{"id": n.ID})
}
