package provider

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/obs"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultPollJitter   = 5 * time.Second
	// DefaultSeenLimit caps the seen-id cache; the oldest ids are forgotten first.
	DefaultSeenLimit = 5000
)

// PollFunc fetches messages changed since the adapter's cursor.
// The cursor itself is owned by the adapter.
type PollFunc func(ctx context.Context) ([]models.Message, error)

// Monitor drives change polling for one email adapter: a single goroutine per
// account, a seen-id cache for dedup, and the list of subscribed callbacks.
type Monitor struct {
	vendor    models.ProviderType
	accountID string
	interval  time.Duration
	jitter    time.Duration
	poll      PollFunc
	log       *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	subsMu sync.RWMutex
	subs   []ChangeCallback

	seenMu    sync.Mutex
	seen      map[string]struct{}
	seenOrder []string
	seenLimit int
}

type MonitorOption func(*Monitor)

func WithPollInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithSeenLimit sets how many message ids are remembered for dedup.
func WithSeenLimit(n int) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.seenLimit = n
		}
	}
}

// WithPollJitter bounds the start delay used to stagger accounts. Zero disables it.
func WithPollJitter(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.jitter = d }
}

func NewMonitor(vendor models.ProviderType, accountID string, poll PollFunc, log *slog.Logger, opts ...MonitorOption) *Monitor {
	if log == nil {
		log = obs.Discard()
	}
	m := &Monitor{
		vendor:    vendor,
		accountID: accountID,
		interval:  DefaultPollInterval,
		jitter:    DefaultPollJitter,
		poll:      poll,
		log:       log,
		seen:      make(map[string]struct{}),
		seenLimit: DefaultSeenLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers cb for every newly observed message.
func (m *Monitor) Subscribe(cb ChangeCallback) {
	if cb == nil {
		return
	}
	m.subsMu.Lock()
	m.subs = append(m.subs, cb)
	m.subsMu.Unlock()
}

// MarkSeen records ids without notifying. Adapters use it to prime the cache.
func (m *Monitor) MarkSeen(ids ...string) {
	m.seenMu.Lock()
	for _, id := range ids {
		m.remember(id)
	}
	m.seenMu.Unlock()
}

// ResetSeen clears the seen-id cache.
func (m *Monitor) ResetSeen() {
	m.seenMu.Lock()
	m.seen = make(map[string]struct{})
	m.seenOrder = nil
	m.seenMu.Unlock()
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start launches the poll loop. Calling Start on a running monitor is a no-op.
// The loop is detached from ctx's cancellation; Stop ends it.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.run(loopCtx, m.done)
	m.log.Info("monitoring started", "provider", m.vendor, "account", m.accountID, "interval", m.interval)
}

// Stop cancels the loop and waits for it to exit. No callback fires after Stop returns.
// Stop is idempotent. It must not be called from inside a change callback.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.running = false
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	cancel()
	<-done
	m.log.Info("monitoring stopped", "provider", m.vendor, "account", m.accountID)
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	select {
	case <-ctx.Done():
		return
	case <-time.After(m.initialDelay()):
		m.pollOnce(ctx)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

func (m *Monitor) pollOnce(ctx context.Context) {
	msgs, err := m.poll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.log.Warn("poll failed", "provider", m.vendor, "account", m.accountID, "error", err)
		}
		return
	}

	for _, msg := range msgs {
		// A poll that was in flight when Stop was called must not deliver.
		if ctx.Err() != nil {
			return
		}
		if !m.markNew(msg.ID) {
			continue
		}
		obs.EmailsObserved.WithLabelValues(string(m.vendor)).Inc()
		m.notify(ctx, msg)
	}
}

func (m *Monitor) markNew(id string) bool {
	m.seenMu.Lock()
	defer m.seenMu.Unlock()
	return m.remember(id)
}

// remember records id and evicts the oldest ids beyond the limit. It reports
// whether id was new. Callers hold seenMu.
func (m *Monitor) remember(id string) bool {
	if _, ok := m.seen[id]; ok {
		return false
	}
	m.seen[id] = struct{}{}
	m.seenOrder = append(m.seenOrder, id)
	if over := len(m.seenOrder) - m.seenLimit; over > 0 {
		for _, old := range m.seenOrder[:over] {
			delete(m.seen, old)
		}
		m.seenOrder = append([]string(nil), m.seenOrder[over:]...)
	}
	return true
}

// SeenCount reports how many ids the dedup cache holds.
func (m *Monitor) SeenCount() int {
	m.seenMu.Lock()
	defer m.seenMu.Unlock()
	return len(m.seen)
}

func (m *Monitor) notify(ctx context.Context, msg models.Message) {
	m.subsMu.RLock()
	subs := append([]ChangeCallback(nil), m.subs...)
	m.subsMu.RUnlock()

	for _, cb := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("change callback panicked", "provider", m.vendor, "account", m.accountID, "panic", r)
				}
			}()
			cb(ctx, msg)
		}()
	}
}

// initialDelay is deterministic per account so that accounts poll at different offsets.
func (m *Monitor) initialDelay() time.Duration {
	if m.jitter <= 0 {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(string(m.vendor) + "/" + m.accountID))
	return time.Duration(h.Sum64() % uint64(m.jitter.Nanoseconds()))
}
