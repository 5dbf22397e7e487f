// Package agent is the application context: it owns the manager, the model
// service and the analysis components, and runs the new-mail processing loop.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/analysis"
	"github.com/stoik/aide/services/agent-service/internal/briefing"
	"github.com/stoik/aide/services/agent-service/internal/correlation"
	"github.com/stoik/aide/services/agent-service/internal/insights"
	"github.com/stoik/aide/services/agent-service/internal/llm"
	"github.com/stoik/aide/services/agent-service/internal/manager"
	"github.com/stoik/aide/services/agent-service/internal/obs"
	"github.com/stoik/aide/services/agent-service/internal/store"
)

const (
	DefaultQueueSize       = 50
	DefaultWorkers         = 4
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMetricsInterval = time.Minute

	priorityWindow = 50
	queryFallback  = "Sorry, I encountered an error processing your request."
	queryPrompt    = "You are an AI assistant helping with email and note management.\nYou can search emails, find notes, check meetings, and provide insights.\nBe concise and helpful."
)

var (
	ErrNotAuthenticated = errors.New("agent: no authenticated account")
	ErrNotRunning       = errors.New("agent: not running")
)

type Config struct {
	VIPSenders      []string
	UrgentKeywords  []string
	QueueSize       int
	Workers         int
	ShutdownTimeout time.Duration
	MetricsInterval time.Duration
}

func (c *Config) defaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = DefaultMetricsInterval
	}
}

// HighPriorityFunc is notified after a high priority message has been analyzed.
type HighPriorityFunc func(ctx context.Context, msg models.Message, a models.EmailAnalysis)

type Agent struct {
	cfg     Config
	log     *slog.Logger
	manager *manager.Manager
	llm     *llm.Service
	store   *store.Store
	factory Factory

	pipeline    *analysis.Pipeline
	correlation *correlation.Engine
	briefing    *briefing.Generator
	insights    *insights.Generator

	onHighPriority HighPriorityFunc

	mu         sync.Mutex
	running    bool
	subscribed bool
	runCtx     context.Context
	cancel     context.CancelFunc
	loopDone   chan struct{}
	incoming   chan models.Message
	pending    map[string]pendingLogin
	now        func() time.Time

	// processingWg tracks in-flight ProcessNewEmail calls started by the loop.
	processingWg sync.WaitGroup

	processed    atomic.Int64
	highPriority atomic.Int64
	skipped      atomic.Int64
	failed       atomic.Int64
}

// New wires the analysis components around m, svc and st. factory may be nil
// when accounts are registered on the manager directly.
func New(cfg Config, m *manager.Manager, svc *llm.Service, st *store.Store, factory Factory, log *slog.Logger) *Agent {
	cfg.defaults()
	if log == nil {
		log = obs.Discard()
	}
	a := &Agent{
		cfg:         cfg,
		log:         log,
		manager:     m,
		llm:         svc,
		store:       st,
		factory:     factory,
		pipeline:    analysis.New(svc, analysis.Options{VIPSenders: cfg.VIPSenders, UrgentKeywords: cfg.UrgentKeywords}, log),
		correlation: correlation.New(m, log),
		briefing:    briefing.New(m, svc, log),
		insights:    insights.New(m, st, log),
		incoming:    make(chan models.Message, cfg.QueueSize),
		pending:     make(map[string]pendingLogin),
		now:         time.Now,
	}
	a.onHighPriority = func(ctx context.Context, msg models.Message, an models.EmailAnalysis) {
		a.log.Warn("high priority email", "subject", msg.Subject, "from", msg.From.Address, "reason", an.PriorityReason)
	}
	return a
}

func (a *Agent) Manager() *manager.Manager          { return a.manager }
func (a *Agent) LLM() *llm.Service                  { return a.llm }
func (a *Agent) Store() *store.Store                { return a.store }
func (a *Agent) Pipeline() *analysis.Pipeline       { return a.pipeline }
func (a *Agent) Correlation() *correlation.Engine   { return a.correlation }
func (a *Agent) Briefings() *briefing.Generator     { return a.briefing }
func (a *Agent) Insights() *insights.Generator      { return a.insights }
func (a *Agent) OnHighPriority(fn HighPriorityFunc) { a.onHighPriority = fn }

func (a *Agent) IsAuthenticated() bool { return a.manager.HasAuthenticatedProvider() }

func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Start subscribes to new mail, starts monitoring every account and launches
// the processing loop. Calling Start on a running agent is a no-op.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		a.log.Info("agent already running")
		return nil
	}
	if !a.manager.HasAuthenticatedProvider() {
		a.mu.Unlock()
		return ErrNotAuthenticated
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.runCtx, a.cancel = runCtx, cancel
	a.loopDone = make(chan struct{})
	a.running = true
	subscribe := !a.subscribed
	a.subscribed = true
	a.mu.Unlock()

	if subscribe {
		a.manager.OnNewEmail(a.enqueue)
	}
	go a.processLoop(runCtx, a.loopDone)
	go a.logPerformanceMetrics(runCtx)

	if err := a.manager.StartAllMonitoring(ctx); err != nil {
		a.log.Warn("some accounts are not monitored", "error", err)
	}
	a.log.Info("agent started", "accounts", len(a.manager.Accounts()))
	return nil
}

// Stop halts monitoring and the loop, then waits up to the shutdown timeout
// for in-flight processing.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	cancel, done := a.cancel, a.loopDone
	a.mu.Unlock()

	err := a.manager.StopAllMonitoring(ctx)
	cancel()
	<-done
	if !a.Shutdown(a.cfg.ShutdownTimeout) {
		a.log.Warn("some email processing may not have completed")
	}
	a.log.Info("agent stopped")
	return err
}

// Shutdown waits for processing goroutines, reporting false on timeout.
func (a *Agent) Shutdown(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		a.processingWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		a.log.Warn("shutdown timeout reached", "timeout", timeout)
		return false
	}
}

// enqueue is the change callback. It blocks while the queue is full so slow
// processing slows polling, and gives up once the agent stops.
func (a *Agent) enqueue(ctx context.Context, msg models.Message) {
	a.mu.Lock()
	runCtx, running := a.runCtx, a.running
	a.mu.Unlock()
	if !running {
		return
	}
	select {
	case a.incoming <- msg:
	case <-runCtx.Done():
	case <-ctx.Done():
	}
}

func (a *Agent) processLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	sem := make(chan struct{}, a.cfg.Workers)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.incoming:
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			a.processingWg.Add(1)
			go func(msg models.Message) {
				defer a.processingWg.Done()
				defer func() { <-sem }()
				a.handleIncoming(ctx, msg)
			}(msg)
		}
	}
}

// handleIncoming skips messages that already have an analysis, which happens
// when a cursor reset replays old mail.
func (a *Agent) handleIncoming(ctx context.Context, msg models.Message) {
	if _, err := a.store.Analysis(ctx, msg.Key()); err == nil {
		a.skipped.Add(1)
		return
	}
	if _, err := a.ProcessNewEmail(ctx, msg); err != nil {
		a.failed.Add(1)
		a.log.Error("processing email failed", "email", msg.Key().String(), "error", err)
	}
}

// ProcessNewEmail stores the message, analyzes it, attaches related notes and
// stores the analysis. Analysis itself never fails; only storage errors are returned.
func (a *Agent) ProcessNewEmail(ctx context.Context, msg models.Message) (models.EmailAnalysis, error) {
	a.log.Debug("processing email", "email", msg.Key().String(), "subject", msg.Subject)
	if err := a.store.SaveMessage(ctx, msg); err != nil {
		return models.EmailAnalysis{}, fmt.Errorf("save message: %w", err)
	}

	result := a.pipeline.AnalyzeEmail(ctx, msg)
	result.RelatedNoteIDs = a.correlation.CorrelateEmailWithNotes(ctx, msg, result.Entities)

	if err := a.store.SaveAnalysis(ctx, msg.Key(), result); err != nil {
		return result, fmt.Errorf("save analysis: %w", err)
	}
	a.processed.Add(1)

	if result.PriorityLevel == models.PriorityHigh {
		a.highPriority.Add(1)
		if a.onHighPriority != nil {
			a.onHighPriority(ctx, msg, result)
		}
	}
	return result, nil
}

// AnalyzeEmail fetches a message from its account and processes it.
func (a *Agent) AnalyzeEmail(ctx context.Context, accountID, id string) (models.EmailAnalysis, error) {
	msg, err := a.manager.EmailByID(ctx, accountID, id)
	if err != nil {
		return models.EmailAnalysis{}, err
	}
	return a.ProcessNewEmail(ctx, msg)
}

// PriorityEmails returns recent messages whose stored analysis is high priority.
func (a *Agent) PriorityEmails(ctx context.Context) []models.Message {
	out := []models.Message{}
	for _, m := range a.manager.AllRecentEmails(ctx, priorityWindow) {
		an, err := a.store.Analysis(ctx, m.Key())
		if err != nil {
			continue
		}
		if an.PriorityLevel == models.PriorityHigh {
			out = append(out, m)
		}
	}
	return out
}

func (a *Agent) GenerateBriefing(ctx context.Context, meetingID string) (models.Briefing, error) {
	return a.briefing.Generate(ctx, meetingID)
}

func (a *Agent) GenerateInsights(ctx context.Context) []models.Insight {
	return a.insights.Generate(ctx)
}

// HandleQuery answers a free-form question. Model failures produce an apology, not an error.
func (a *Agent) HandleQuery(ctx context.Context, query string) string {
	resp, err := a.llm.Chat(ctx, []llm.Message{llm.System(queryPrompt), llm.User(query)}, llm.ChatOptions{})
	if err != nil {
		a.log.Error("query failed", "error", err)
		return queryFallback
	}
	return resp.Content
}

type Metrics struct {
	Processed    int64 `json:"processed"`
	HighPriority int64 `json:"high_priority"`
	Skipped      int64 `json:"skipped"`
	Failed       int64 `json:"failed"`
	Queued       int   `json:"queued"`
}

func (a *Agent) Metrics() Metrics {
	return Metrics{
		Processed:    a.processed.Load(),
		HighPriority: a.highPriority.Load(),
		Skipped:      a.skipped.Load(),
		Failed:       a.failed.Load(),
		Queued:       len(a.incoming),
	}
}

// logPerformanceMetrics logs counters periodically with jitter so several
// agents do not log in lockstep.
func (a *Agent) logPerformanceMetrics(ctx context.Context) {
	base := a.cfg.MetricsInterval
	jitterRange := base / 5
	for {
		interval := base
		if jitterRange > 0 {
			interval += time.Duration(rand.Int63n(int64(jitterRange))) - jitterRange/2
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			m := a.Metrics()
			a.log.Info("agent metrics", "processed", m.Processed, "high_priority", m.HighPriority,
				"skipped", m.Skipped, "failed", m.Failed, "queued", m.Queued)
		}
	}
}
