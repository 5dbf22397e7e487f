package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubProvider struct {
	calls atomic.Int32
	reply string
	err   error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Chat(ctx context.Context, messages []Message, opts ChatOptions) (ChatResponse, error) {
	n := s.calls.Add(1)
	if s.err != nil {
		return ChatResponse{}, s.err
	}
	return ChatResponse{Content: fmt.Sprintf("%s #%d", s.reply, n), Model: "stub-1"}, nil
}

func (s *stubProvider) Stream(ctx context.Context, messages []Message, opts ChatOptions) (<-chan Chunk, error) {
	s.calls.Add(1)
	ch := make(chan Chunk, 3)
	ch <- Chunk{Content: "he"}
	ch <- Chunk{Content: "llo"}
	if s.err != nil {
		ch <- Chunk{Err: s.err}
	} else {
		ch <- Chunk{Done: true}
	}
	close(ch)
	return ch, nil
}

func TestChatCachesIdenticalRequests(t *testing.T) {
	p := &stubProvider{reply: "ok"}
	svc := NewService(p, ServiceOptions{EnableCache: true}, nil)
	ctx := context.Background()
	msgs := []Message{System("be brief"), User("hello")}

	first, err := svc.Chat(ctx, msgs, ChatOptions{Temperature: Temperature(0.2)})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	second, err := svc.Chat(ctx, msgs, ChatOptions{Temperature: Temperature(0.2)})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if first.Content != second.Content || p.calls.Load() != 1 {
		t.Fatalf("expected one provider call and identical replies, got %d calls, %q vs %q", p.calls.Load(), first.Content, second.Content)
	}

	if _, err := svc.Chat(ctx, msgs, ChatOptions{Temperature: Temperature(0.9)}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if p.calls.Load() != 2 {
		t.Fatalf("different options must miss the cache, calls = %d", p.calls.Load())
	}
}

func TestChatWithoutCacheAlwaysCalls(t *testing.T) {
	p := &stubProvider{reply: "ok"}
	svc := NewService(p, ServiceOptions{}, nil)
	for i := 0; i < 3; i++ {
		if _, err := svc.Ask(context.Background(), "same", ChatOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	if p.calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", p.calls.Load())
	}
}

func TestCacheExpires(t *testing.T) {
	c := NewCache(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	key := c.Key([]Message{User("x")}, ChatOptions{})
	c.Set(key, ChatResponse{Content: "cached"})
	if _, ok := c.Get(key); !ok {
		t.Fatal("expected hit within ttl")
	}
	now = now.Add(61 * time.Second)
	if _, ok := c.Get(key); ok {
		t.Fatal("expected miss after ttl")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not dropped, len = %d", c.Len())
	}
}

func TestCacheIsBounded(t *testing.T) {
	c := NewCache(time.Minute)
	c.max = 2
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("a", ChatResponse{Content: "a"})
	now = now.Add(time.Second)
	c.Set("b", ChatResponse{Content: "b"})
	now = now.Add(time.Second)
	c.Set("c", ChatResponse{Content: "c"})
	if _, ok := c.Get("a"); ok || c.Len() != 2 {
		t.Fatalf("oldest entry kept, len = %d", c.Len())
	}

	now = now.Add(2 * time.Minute)
	c.Set("d", ChatResponse{Content: "d"})
	if c.Len() != 1 {
		t.Fatalf("expired entries kept, len = %d", c.Len())
	}
}

func TestLimiterWaitsForOldestToAgeOut(t *testing.T) {
	l := NewLimiter(2, time.Minute)
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var slept []time.Duration
	l.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	l.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		slept = append(slept, d)
		now = now.Add(d)
		return nil
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatal(err)
		}
		mu.Lock()
		now = now.Add(10 * time.Second)
		mu.Unlock()
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if len(slept) != 1 || slept[0] != 40*time.Second {
		t.Fatalf("slept %v, want a single 40s wait", slept)
	}
	if l.InWindow() != 2 {
		t.Fatalf("InWindow = %d, want 2", l.InWindow())
	}
}

func TestLimiterHonorsCancellation(t *testing.T) {
	l := NewLimiter(1, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestErrorNormalization(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{429, ErrRateLimited},
		{401, ErrInvalidCredential},
		{500, ErrTransient},
		{503, ErrTransient},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			orig := &StatusError{StatusCode: tc.status, Err: errors.New("boom")}
			svc := NewService(&stubProvider{err: orig}, ServiceOptions{}, nil)
			_, err := svc.Chat(context.Background(), []Message{User("x")}, ChatOptions{})
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatal("original error not wrapped")
			}
		})
	}

	plain := errors.New("bad request")
	svc := NewService(&stubProvider{err: plain}, ServiceOptions{}, nil)
	if _, err := svc.Chat(context.Background(), nil, ChatOptions{}); err != plain {
		t.Fatalf("unmapped errors pass through, got %v", err)
	}
}

func TestStreamIsNotCached(t *testing.T) {
	p := &stubProvider{}
	svc := NewService(p, ServiceOptions{EnableCache: true}, nil)
	for i := 0; i < 2; i++ {
		ch, err := svc.Stream(context.Background(), []Message{User("hi")}, ChatOptions{})
		if err != nil {
			t.Fatal(err)
		}
		var sb strings.Builder
		done := false
		for c := range ch {
			sb.WriteString(c.Content)
			done = done || c.Done
		}
		if sb.String() != "hello" || !done {
			t.Fatalf("stream = %q done=%v", sb.String(), done)
		}
	}
	if p.calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", p.calls.Load())
	}
}

func TestNewProvider(t *testing.T) {
	for _, name := range []string{"openai", "deepseek"} {
		p, err := NewProvider(Config{Provider: name, APIKey: "k"}, nil)
		if err != nil || p.Name() != name {
			t.Fatalf("%s: %v, %v", name, p, err)
		}
	}
	for _, name := range []string{"anthropic", "ollama"} {
		if _, err := NewProvider(Config{Provider: name}, nil); !errors.Is(err, ErrUnsupportedProvider) {
			t.Fatalf("%s: expected ErrUnsupportedProvider, got %v", name, err)
		}
	}
	if _, err := NewProvider(Config{Provider: "mystery"}, nil); err == nil || errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("unknown provider: got %v", err)
	}
}

func TestOpenAIAdapterChat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"bad key"}}`))
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"deepseek-chat",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"high"}}],
			"usage":{"prompt_tokens":7,"completion_tokens":1,"total_tokens":8}}`))
	}))
	defer srv.Close()

	p := NewDeepSeek(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL, MaxTokens: 10})
	resp, err := p.Chat(context.Background(), []Message{System("classify"), User("urgent?")}, ChatOptions{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "high" || resp.Usage.TotalTokens != 8 || resp.Model != "deepseek-chat" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got["model"] != DefaultDeepSeekModel || got["temperature"] != DefaultTemperature {
		t.Fatalf("unexpected request body %v", got)
	}

	exact := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL, Temperature: Temperature(0)})
	if _, err := exact.Chat(context.Background(), []Message{User("x")}, ChatOptions{}); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got["temperature"] != float64(0) {
		t.Fatalf("configured zero temperature sent as %v", got["temperature"])
	}

	bad := NewOpenAI(OpenAIConfig{APIKey: "wrong", BaseURL: srv.URL})
	svc := NewService(bad, ServiceOptions{}, nil)
	if _, err := svc.Chat(context.Background(), []Message{User("x")}, ChatOptions{}); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestExtractJSONArray(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		want  []string
		ok    bool
	}{
		{"bare", `["a", "b"]`, []string{"a", "b"}, true},
		{"fenced", "```json\n[\"Budget\", \"Timeline\"]\n```", []string{"Budget", "Timeline"}, true},
		{"prose", `Here you go: ["one"] hope it helps`, []string{"one"}, true},
		{"object", `{"a": 1}`, nil, false},
		{"garbage", `not json`, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractStrings(tc.reply)
			if ok != tc.ok || strings.Join(got, "|") != strings.Join(tc.want, "|") {
				t.Fatalf("got %v, %v; want %v, %v", got, ok, tc.want, tc.ok)
			}
		})
	}
}
