// Package httpapi exposes the agent over a small JSON API.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stoik/aide/services/agent-service/internal/agent"
	"github.com/stoik/aide/services/agent-service/internal/obs"
)

type Options struct {
	RateLimit float64
	Burst     int
	// LoginTimeout bounds a device-code login running in the background.
	LoginTimeout time.Duration
}

type Server struct {
	agent  *agent.Agent
	log    *slog.Logger
	opts   Options
	engine *gin.Engine
}

func New(a *agent.Agent, opts Options, log *slog.Logger) *Server {
	if log == nil {
		log = obs.Discard()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = 15 * time.Minute
	}
	s := &Server{agent: a, log: log, opts: opts}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), obs.Instrument(), Logging(s.log))

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(obs.Handler()))

	api := r.Group("", RateLimit(s.opts.RateLimit, s.opts.Burst))
	{
		api.GET("/accounts", s.handleAccounts)
		api.POST("/accounts/:id/logout", s.handleLogout)
		api.POST("/login/:provider", s.handleLogin)
		api.GET("/auth/google/callback", s.handleGoogleCallback)

		api.GET("/agent/status", s.handleStatus)
		api.POST("/agent/start", s.handleStart)
		api.POST("/agent/stop", s.handleStop)
	}

	data := api.Group("", s.requireAccount)
	{
		data.GET("/emails", s.handleRecentEmails)
		data.GET("/emails/search", s.handleSearchEmails)
		data.GET("/emails/priority", s.handlePriorityEmails)
		data.GET("/emails/stats", s.handleEmailStats)
		data.POST("/emails/:account/:id/analyze", s.handleAnalyze)
		data.GET("/emails/:account/:id/related", s.handleRelatedNotes)

		data.GET("/meetings", s.handleMeetings)
		data.GET("/meetings/slots", s.handleSlots)
		data.GET("/meetings/:id/briefing", s.handleBriefing)
		data.GET("/meetings/:id/context", s.handleMeetingContext)

		data.GET("/notes/search", s.handleSearchNotes)
		data.GET("/notes/entity", s.handleNotesByEntity)
		data.GET("/notes/notebooks", s.handleNotebooks)
		data.GET("/notes/:account/:id/content", s.handleNoteContent)

		data.GET("/insights", s.handleInsights)
		data.POST("/query", s.handleQuery)
	}
	return r
}
