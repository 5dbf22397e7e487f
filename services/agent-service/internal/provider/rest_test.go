package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stoik/aide/internal/models"
)

func staticToken(token string) TokenFunc {
	return func(ctx context.Context, scopes []string) (string, error) { return token, nil }
}

func TestRESTClientGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		if r.URL.Query().Get("$top") != "5" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[{"id":"m1"}]}`))
	}))
	defer srv.Close()

	c := NewRESTClient(models.ProviderMicrosoft, srv.URL, nil, staticToken("tok"), NewRetrier(1, time.Millisecond, nil))
	var out struct {
		Value []struct {
			ID string `json:"id"`
		} `json:"value"`
	}
	if err := c.GetJSON(context.Background(), "/me/messages", url.Values{"$top": {"5"}}, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if len(out.Value) != 1 || out.Value[0].ID != "m1" {
		t.Fatalf("unexpected body %+v", out)
	}
}

func TestRESTClientRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewRESTClient(models.ProviderGoogle, srv.URL, nil, staticToken("tok"), NewRetrier(3, time.Millisecond, nil))
	if err := c.GetJSON(context.Background(), "/x", nil, &struct{}{}); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("hits = %d, want 3", hits.Load())
	}
}

func TestRESTClientDoesNotRetryUnauthorized(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewRESTClient(models.ProviderGoogle, srv.URL, nil, staticToken("tok"), NewRetrier(3, time.Millisecond, nil))
	err := c.GetJSON(context.Background(), "/x", nil, &struct{}{})
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}
}

func TestRESTClientTokenFailurePropagates(t *testing.T) {
	c := NewRESTClient(models.ProviderGoogle, "http://unused", nil,
		func(ctx context.Context, scopes []string) (string, error) {
			return "", NewError(models.ProviderGoogle, KindAuthenticationFailed, "no credential", nil)
		}, NewRetrier(3, time.Millisecond, nil))
	err := c.GetJSON(context.Background(), "/x", nil, nil)
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
}
