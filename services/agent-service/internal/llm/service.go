package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openaigo "github.com/openai/openai-go/v3"

	"github.com/stoik/aide/services/agent-service/internal/obs"
)

type ServiceOptions struct {
	EnableCache bool
	CacheTTL    time.Duration
	MaxRequests int
	Window      time.Duration
}

// Service fronts a Provider with caching and rate limiting.
type Service struct {
	provider Provider
	cache    *Cache
	limiter  *Limiter
	caching  bool
	log      *slog.Logger
}

func NewService(p Provider, opts ServiceOptions, log *slog.Logger) *Service {
	if log == nil {
		log = obs.Discard()
	}
	return &Service{
		provider: p,
		cache:    NewCache(opts.CacheTTL),
		limiter:  NewLimiter(opts.MaxRequests, opts.Window),
		caching:  opts.EnableCache,
		log:      log,
	}
}

func (s *Service) ProviderName() string { return s.provider.Name() }

// Chat serves from cache when possible; otherwise it waits for the limiter,
// calls the provider and caches the response.
func (s *Service) Chat(ctx context.Context, messages []Message, opts ChatOptions) (ChatResponse, error) {
	var key string
	if s.caching {
		key = s.cache.Key(messages, opts)
		if resp, ok := s.cache.Get(key); ok {
			obs.LLMCache.WithLabelValues("hit").Inc()
			s.log.Debug("llm cache hit")
			return resp, nil
		}
		obs.LLMCache.WithLabelValues("miss").Inc()
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return ChatResponse{}, err
	}

	resp, err := s.provider.Chat(ctx, messages, opts)
	if err != nil {
		obs.LLMRequests.WithLabelValues(s.provider.Name(), "error").Inc()
		return ChatResponse{}, normalize(err)
	}
	obs.LLMRequests.WithLabelValues(s.provider.Name(), "ok").Inc()

	if s.caching {
		s.cache.Set(key, resp)
	}
	return resp, nil
}

// Ask is Chat for a single user prompt, returning only the content.
func (s *Service) Ask(ctx context.Context, prompt string, opts ChatOptions) (string, error) {
	resp, err := s.Chat(ctx, []Message{User(prompt)}, opts)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Stream is rate limited but never cached. Errors inside the stream arrive
// normalized on the final chunk.
func (s *Service) Stream(ctx context.Context, messages []Message, opts ChatOptions) (<-chan Chunk, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	in, err := s.provider.Stream(ctx, messages, opts)
	if err != nil {
		obs.LLMRequests.WithLabelValues(s.provider.Name(), "error").Inc()
		return nil, normalize(err)
	}
	obs.LLMRequests.WithLabelValues(s.provider.Name(), "stream").Inc()

	out := make(chan Chunk)
	go func() {
		defer close(out)
		for c := range in {
			if c.Err != nil {
				c.Err = normalize(c.Err)
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Service) ClearCache() { s.cache.Clear() }

// normalize maps vendor status codes onto the package sentinels.
func normalize(err error) error {
	status := 0
	var apiErr *openaigo.Error
	var statusErr *StatusError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.StatusCode
	case errors.As(err, &statusErr):
		status = statusErr.StatusCode
	}

	switch {
	case status == 429:
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case status == 401:
		return fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	case status >= 500:
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}
