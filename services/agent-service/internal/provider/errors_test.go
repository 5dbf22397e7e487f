package provider

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stoik/aide/internal/models"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Kind
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"invalid"}`, KindAuthenticationFailed},
		{"expired token", http.StatusUnauthorized, `{"error":{"code":"InvalidAuthenticationToken","message":"Lifetime validation failed, the token is expired."}}`, KindTokenExpired},
		{"forbidden", http.StatusForbidden, `{"error":"denied"}`, KindPermissionDenied},
		{"google rate limit", http.StatusForbidden, `{"error":{"errors":[{"reason":"rateLimitExceeded"}]}}`, KindRateLimitExceeded},
		{"google quota", http.StatusForbidden, `{"error":{"errors":[{"reason":"dailyLimitExceeded"}]}}`, KindQuotaExceeded},
		{"not found", http.StatusNotFound, "", KindResourceNotFound},
		{"too many", http.StatusTooManyRequests, "", KindRateLimitExceeded},
		{"bad request", http.StatusBadRequest, "", KindInvalidRequest},
		{"server error", http.StatusInternalServerError, "", KindServiceUnavailable},
		{"gateway", http.StatusBadGateway, "", KindServiceUnavailable},
		{"teapot", http.StatusTeapot, "", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromStatus(models.ProviderGoogle, tt.status, tt.body)
			if err.Kind != tt.want {
				t.Fatalf("kind = %s, want %s", err.Kind, tt.want)
			}
			if err.Provider != models.ProviderGoogle {
				t.Fatalf("provider = %s", err.Provider)
			}
		})
	}
}

func TestClassifyHeuristics(t *testing.T) {
	tests := []struct {
		msg  string
		want Kind
	}{
		{"dial tcp: connection refused", KindNetworkError},
		{"Too Many Requests", KindRateLimitExceeded},
		{"user is not authenticated", KindAuthenticationFailed},
		{"oauth2: invalid_grant", KindTokenExpired},
		{"item not found", KindResourceNotFound},
		{"something odd", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got := Classify(models.ProviderMicrosoft, errors.New(tt.msg))
			if got.Kind != tt.want {
				t.Fatalf("Classify(%q) = %s, want %s", tt.msg, got.Kind, tt.want)
			}
		})
	}
}

func TestErrorMatchesSentinelAndKeepsCause(t *testing.T) {
	cause := errors.New("upstream exploded")
	err := fmt.Errorf("fetch messages: %w", NewError(models.ProviderMicrosoft, KindServiceUnavailable, "", cause))

	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatal("expected errors.Is to match ErrServiceUnavailable")
	}
	if errors.Is(err, ErrNetwork) {
		t.Fatal("unexpected match against ErrNetwork")
	}
	if !errors.Is(err, cause) {
		t.Fatal("original error should stay reachable")
	}
	if KindOf(err) != KindServiceUnavailable {
		t.Fatalf("KindOf = %s", KindOf(err))
	}
}

func TestClassifyPassesThroughClassified(t *testing.T) {
	orig := NewError(models.ProviderGoogle, KindPermissionDenied, "nope", nil)
	if got := Classify(models.ProviderMicrosoft, orig); got != orig {
		t.Fatal("already classified errors must be returned unchanged")
	}
}

func TestFromStatusExtractsVendorMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"error":{"code":"ErrorItemNotFound","message":"The specified object was not found in the store."}}`, "The specified object was not found in the store."},
		{`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`, "Token has been expired or revoked."},
		{`upstream connect error`, "upstream connect error"},
	}
	for _, tt := range tests {
		if got := FromStatus(models.ProviderGoogle, 400, tt.body).Message; got != tt.want {
			t.Errorf("Message = %q, want %q", got, tt.want)
		}
	}
}
