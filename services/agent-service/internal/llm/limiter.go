package llm

import (
	"context"
	"sync"
	"time"

	"github.com/stoik/aide/services/agent-service/internal/obs"
)

const (
	DefaultMaxRequests = 60
	DefaultWindow      = time.Minute
)

// Limiter admits at most max calls in any sliding window. Waiting blocks only the caller.
type Limiter struct {
	max    int
	window time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	calls []time.Time
}

func NewLimiter(max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{max: max, window: window, now: time.Now, sleep: sleepContext}
}

// Acquire records a call once a slot is free. It loops because other callers
// may take the slot freed while this one slept.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := l.now()
	defer func() { obs.LLMLimiterWait.Observe(l.now().Sub(start).Seconds()) }()

	for {
		wait, ok := l.tryAcquire()
		if ok {
			return nil
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *Limiter) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := l.calls[:0]
	for _, t := range l.calls {
		if now.Sub(t) < l.window {
			kept = append(kept, t)
		}
	}
	l.calls = kept

	if len(l.calls) < l.max {
		l.calls = append(l.calls, now)
		return 0, true
	}
	wait := l.window - now.Sub(l.calls[0])
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// InWindow reports how many calls currently count against the limit.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	n := 0
	for _, t := range l.calls {
		if now.Sub(t) < l.window {
			n++
		}
	}
	return n
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
