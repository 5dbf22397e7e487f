package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/credentials"
	"github.com/stoik/aide/services/agent-service/internal/store"
)

func newTokenServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "refresh-1" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
	}))
}

func newTestKeeper(srv *httptest.Server) (*TokenKeeper, credentials.Store) {
	creds := credentials.NewKVStore(store.NewMemory())
	conf := &oauth2.Config{ClientID: "client", Endpoint: oauth2.Endpoint{TokenURL: srv.URL + "/token"}}
	return NewTokenKeeper(models.ProviderMicrosoft, "acc-1", conf, creds, srv.Client()), creds
}

func TestTokenKeeperRefreshesNearExpiry(t *testing.T) {
	var hits atomic.Int32
	srv := newTokenServer(t, &hits)
	defer srv.Close()
	k, creds := newTestKeeper(srv)
	ctx := context.Background()

	acct := models.Account{ID: "acc-1", ProviderType: models.ProviderMicrosoft, Email: "me@contoso.com"}
	stale := &oauth2.Token{AccessToken: "stale", RefreshToken: "refresh-1", Expiry: time.Now().Add(2 * time.Minute)}
	if err := k.Set(ctx, stale, acct); err != nil {
		t.Fatal(err)
	}

	tok, err := k.AccessToken(ctx, nil)
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if tok != "fresh" || hits.Load() != 1 {
		t.Fatalf("token = %q hits = %d, want refreshed once", tok, hits.Load())
	}

	// Still valid for an hour: served from cache.
	if _, err := k.AccessToken(ctx, nil); err != nil || hits.Load() != 1 {
		t.Fatalf("expected cached token, hits = %d err = %v", hits.Load(), err)
	}

	// The refresh token survives the refresh and is persisted.
	restored := NewTokenKeeper(models.ProviderMicrosoft, "acc-1", k.Config(), creds, srv.Client())
	if err := restored.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if !restored.Authenticated() {
		t.Fatal("restored keeper should be authenticated")
	}
	rt, _ := restored.Token(ctx)
	if rt.AccessToken != "fresh" || rt.RefreshToken != "refresh-1" {
		t.Fatalf("unexpected restored token %+v", rt)
	}
}

func TestTokenKeeperErrors(t *testing.T) {
	var hits atomic.Int32
	srv := newTokenServer(t, &hits)
	defer srv.Close()
	k, _ := newTestKeeper(srv)
	ctx := context.Background()

	if _, err := k.AccessToken(ctx, nil); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected authentication failure without credential, got %v", err)
	}

	acct := models.Account{ID: "acc-1", Email: "me@contoso.com"}
	if err := k.Set(ctx, &oauth2.Token{AccessToken: "x", Expiry: time.Now().Add(time.Hour)}, acct); err != nil {
		t.Fatal(err)
	}
	if err := k.Refresh(ctx); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected token expired without refresh token, got %v", err)
	}

	if err := k.Set(ctx, &oauth2.Token{AccessToken: "x", RefreshToken: "revoked"}, acct); err != nil {
		t.Fatal(err)
	}
	if err := k.Refresh(ctx); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected token expired for rejected refresh, got %v", err)
	}

	if err := k.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if k.Authenticated() {
		t.Fatal("cleared keeper is still authenticated")
	}
}
