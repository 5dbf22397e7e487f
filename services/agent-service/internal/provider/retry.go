package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/obs"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Retrier wraps a single remote operation with classification and exponential backoff.
// Only rate limit, network and service-unavailable failures are retried.
type Retrier struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Log         *slog.Logger

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetrier(maxAttempts int, baseDelay time.Duration, log *slog.Logger) *Retrier {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if log == nil {
		log = obs.Discard()
	}
	return &Retrier{MaxAttempts: maxAttempts, BaseDelay: baseDelay, Log: log, sleep: sleepContext}
}

// Do runs op until it succeeds, fails with a non-retryable error, or attempts run out.
// The returned error is always a *Error.
func (r *Retrier) Do(ctx context.Context, vendor models.ProviderType, op func(ctx context.Context) error) error {
	if r == nil {
		r = NewRetrier(0, 0, nil)
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			obs.ProviderCalls.WithLabelValues(string(vendor), "ok").Inc()
			return nil
		}

		perr := Classify(vendor, err)
		if !perr.Retryable() || attempt+1 >= r.MaxAttempts {
			obs.ProviderCalls.WithLabelValues(string(vendor), string(perr.Kind)).Inc()
			return perr
		}

		delay := r.BaseDelay * time.Duration(1<<attempt)
		obs.ProviderRetries.WithLabelValues(string(vendor), string(perr.Kind)).Inc()
		r.Log.Debug("retrying provider call",
			"provider", vendor, "kind", perr.Kind, "attempt", attempt+1, "delay", delay)

		if err := sleep(ctx, delay); err != nil {
			return perr
		}
	}
}

// Call is Do for operations that return a value.
func Call[T any](ctx context.Context, r *Retrier, vendor models.ProviderType, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, vendor, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
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
