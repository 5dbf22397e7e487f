package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/agent"
	"github.com/stoik/aide/services/agent-service/internal/manager"
	"github.com/stoik/aide/services/agent-service/internal/provider"
)

const (
	defaultEmailCount = 20
	maxEmailCount     = 100
	defaultDays       = 7
	maxDays           = 60
	defaultSlotLength = 60
	maxSlotLength     = 8 * 60
)

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, response{Success: true, Data: data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, response{Success: false, Error: msg})
}

// failErr maps known errors to a status code.
func failErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, agent.ErrNotAuthenticated), errors.Is(err, provider.ErrNotAuthenticated),
		errors.Is(err, provider.ErrAuthenticationFailed):
		status = http.StatusUnauthorized
	case errors.Is(err, manager.ErrUnknownAccount), errors.Is(err, provider.ErrResourceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, agent.ErrUnknownState), errors.Is(err, agent.ErrUnknownVendor),
		errors.Is(err, provider.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, agent.ErrNoFactory):
		status = http.StatusServiceUnavailable
	case errors.Is(err, provider.ErrRateLimitExceeded):
		status = http.StatusTooManyRequests
	}
	fail(c, status, err.Error())
}

// intQuery reads a positive integer parameter, clamped to max.
func intQuery(c *gin.Context, name string, def, max int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		fail(c, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	if n > max {
		n = max
	}
	return n, true
}

func requiredQuery(c *gin.Context, name string) (string, bool) {
	q := strings.TrimSpace(c.Query(name))
	if q == "" {
		fail(c, http.StatusBadRequest, name+" is required")
		return "", false
	}
	return q, true
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"running":       s.agent.Running(),
		"authenticated": s.agent.IsAuthenticated(),
	})
}

func (s *Server) handleAccounts(c *gin.Context) {
	m := s.agent.Manager()
	ok(c, http.StatusOK, gin.H{
		"accounts": m.Accounts(),
		"stats":    m.Stats(),
	})
}

// handleLogin starts sign-in. Google answers with a consent URL at once; the
// Microsoft device-code flow runs in the background and its code is logged.
func (s *Server) handleLogin(c *gin.Context) {
	vendor := models.ProviderType(strings.ToLower(c.Param("provider")))
	if !vendor.Valid() {
		fail(c, http.StatusBadRequest, "unknown provider "+c.Param("provider"))
		return
	}

	if vendor == models.ProviderMicrosoft {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.LoginTimeout)
			defer cancel()
			res, err := s.agent.Login(ctx, vendor)
			if err != nil {
				s.log.Error("microsoft sign-in failed", "error", err)
				return
			}
			s.log.Info("microsoft sign-in finished", "success", res.Success, "email", res.Account.Email)
		}()
		ok(c, http.StatusAccepted, gin.H{"pending": true, "message": "complete sign-in with the device code shown in the service log"})
		return
	}

	res, err := s.agent.Login(c.Request.Context(), vendor)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

func (s *Server) handleGoogleCallback(c *gin.Context) {
	if e := c.Query("error"); e != "" {
		fail(c, http.StatusBadRequest, "sign-in was not completed: "+e)
		return
	}
	code, state := c.Query("code"), c.Query("state")
	if code == "" || state == "" {
		fail(c, http.StatusBadRequest, "code and state are required")
		return
	}
	res, err := s.agent.HandleAuthCode(c.Request.Context(), code, state)
	if err != nil {
		failErr(c, err)
		return
	}
	if !res.Success {
		fail(c, http.StatusUnauthorized, res.Error)
		return
	}
	ok(c, http.StatusOK, res.Account)
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.agent.Logout(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"account": c.Param("id")})
}

func (s *Server) handleStatus(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{
		"running":      s.agent.Running(),
		"llm_provider": s.agent.LLM().ProviderName(),
		"metrics":      s.agent.Metrics(),
	})
}

func (s *Server) handleStart(c *gin.Context) {
	if err := s.agent.Start(c.Request.Context()); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"running": true})
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.agent.Stop(c.Request.Context()); err != nil {
		s.log.Warn("stop reported errors", "error", err)
	}
	ok(c, http.StatusOK, gin.H{"running": false})
}

func (s *Server) handleRecentEmails(c *gin.Context) {
	n, valid := intQuery(c, "count", defaultEmailCount, maxEmailCount)
	if !valid {
		return
	}
	ok(c, http.StatusOK, s.agent.Manager().AllRecentEmails(c.Request.Context(), n))
}

func (s *Server) handleSearchEmails(c *gin.Context) {
	q, valid := requiredQuery(c, "q")
	if !valid {
		return
	}
	ok(c, http.StatusOK, s.agent.Manager().SearchAllEmails(c.Request.Context(), q))
}

func (s *Server) handlePriorityEmails(c *gin.Context) {
	ok(c, http.StatusOK, s.agent.PriorityEmails(c.Request.Context()))
}

func (s *Server) handleAnalyze(c *gin.Context) {
	a, err := s.agent.AnalyzeEmail(c.Request.Context(), c.Param("account"), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

func (s *Server) handleEmailStats(c *gin.Context) {
	ok(c, http.StatusOK, s.agent.EmailStats(c.Request.Context()))
}

func (s *Server) handleRelatedNotes(c *gin.Context) {
	notes, err := s.agent.RelatedNotes(c.Request.Context(), c.Param("account"), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, notes)
}

func (s *Server) handleMeetings(c *gin.Context) {
	days, valid := intQuery(c, "days", defaultDays, maxDays)
	if !valid {
		return
	}
	ok(c, http.StatusOK, s.agent.Manager().AllUpcomingMeetings(c.Request.Context(), days))
}

func (s *Server) handleBriefing(c *gin.Context) {
	b, err := s.agent.GenerateBriefing(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, b)
}

func (s *Server) handleSlots(c *gin.Context) {
	duration, valid := intQuery(c, "duration", defaultSlotLength, maxSlotLength)
	if !valid {
		return
	}
	days, valid := intQuery(c, "days", defaultDays, maxDays)
	if !valid {
		return
	}
	slots, err := s.agent.Manager().AllAvailableSlots(c.Request.Context(), duration, days)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, slots)
}

func (s *Server) handleMeetingContext(c *gin.Context) {
	mc, err := s.agent.MeetingContext(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, mc)
}

func (s *Server) handleSearchNotes(c *gin.Context) {
	q, valid := requiredQuery(c, "q")
	if !valid {
		return
	}
	ok(c, http.StatusOK, s.agent.Manager().SearchAllNotes(c.Request.Context(), q))
}

// handleNotesByEntity defaults the entity type to person.
func (s *Server) handleNotesByEntity(c *gin.Context) {
	name, valid := requiredQuery(c, "name")
	if !valid {
		return
	}
	typ := models.EntityType(strings.ToLower(c.DefaultQuery("type", string(models.EntityPerson))))
	ok(c, http.StatusOK, s.agent.Manager().FindAllNotesByEntity(c.Request.Context(), name, typ))
}

func (s *Server) handleNoteContent(c *gin.Context) {
	content, err := s.agent.Manager().NoteContent(c.Request.Context(), c.Param("account"), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, content)
}

func (s *Server) handleNotebooks(c *gin.Context) {
	ok(c, http.StatusOK, s.agent.Manager().AllNotebooks(c.Request.Context()))
}

func (s *Server) handleInsights(c *gin.Context) {
	ok(c, http.StatusOK, s.agent.GenerateInsights(c.Request.Context()))
}

type queryRequest struct {
	Query string `json:"query" binding:"required"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var in queryRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, "query is required")
		return
	}
	ok(c, http.StatusOK, gin.H{"answer": s.agent.HandleQuery(c.Request.Context(), in.Query)})
}
