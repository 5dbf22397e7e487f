package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/stoik/aide/internal/models"
)

// Kind is the provider-agnostic classification of a remote failure.
type Kind string

const (
	KindAuthenticationFailed Kind = "authentication_failed"
	KindTokenExpired         Kind = "token_expired"
	KindRateLimitExceeded    Kind = "rate_limit_exceeded"
	KindQuotaExceeded        Kind = "quota_exceeded"
	KindNetworkError         Kind = "network_error"
	KindPermissionDenied     Kind = "permission_denied"
	KindResourceNotFound     Kind = "resource_not_found"
	KindInvalidRequest       Kind = "invalid_request"
	KindServiceUnavailable   Kind = "service_unavailable"
	KindUnknown              Kind = "unknown_error"
)

var (
	ErrAuthenticationFailed = errors.New("provider: authentication failed")
	ErrTokenExpired         = errors.New("provider: token expired")
	ErrRateLimitExceeded    = errors.New("provider: rate limit exceeded")
	ErrQuotaExceeded        = errors.New("provider: quota exceeded")
	ErrNetwork              = errors.New("provider: network error")
	ErrPermissionDenied     = errors.New("provider: permission denied")
	ErrResourceNotFound     = errors.New("provider: resource not found")
	ErrInvalidRequest       = errors.New("provider: invalid request")
	ErrServiceUnavailable   = errors.New("provider: service unavailable")
	ErrUnknown              = errors.New("provider: unknown error")
)

var sentinels = map[Kind]error{
	KindAuthenticationFailed: ErrAuthenticationFailed,
	KindTokenExpired:         ErrTokenExpired,
	KindRateLimitExceeded:    ErrRateLimitExceeded,
	KindQuotaExceeded:        ErrQuotaExceeded,
	KindNetworkError:         ErrNetwork,
	KindPermissionDenied:     ErrPermissionDenied,
	KindResourceNotFound:     ErrResourceNotFound,
	KindInvalidRequest:       ErrInvalidRequest,
	KindServiceUnavailable:   ErrServiceUnavailable,
	KindUnknown:              ErrUnknown,
}

// Error is a classified remote failure. It keeps the vendor and the original error.
type Error struct {
	Kind       Kind
	Provider   models.ProviderType
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Provider))
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind, so errors.Is(err, ErrRateLimitExceeded) works.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// Retryable reports whether the retry wrapper may repeat the call.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimitExceeded, KindNetworkError, KindServiceUnavailable:
		return true
	}
	return false
}

// NewError builds a classified error of the given kind.
func NewError(vendor models.ProviderType, kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Provider: vendor, Message: msg, Err: err}
}

// KindOf returns the classification of err, or KindUnknown.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

// FromStatus classifies a non-2xx vendor response.
func FromStatus(vendor models.ProviderType, status int, body string) *Error {
	lower := strings.ToLower(body)
	e := &Error{Provider: vendor, StatusCode: status, Message: vendorMessage(body)}
	e.Err = fmt.Errorf("unexpected status %d", status)

	switch {
	case status == http.StatusUnauthorized:
		e.Kind = KindAuthenticationFailed
		if strings.Contains(lower, "expired") {
			e.Kind = KindTokenExpired
		}
	case status == http.StatusForbidden:
		// Google reports throttling and quota exhaustion as 403 with a reason.
		switch {
		case strings.Contains(lower, "ratelimitexceeded"):
			e.Kind = KindRateLimitExceeded
		case strings.Contains(lower, "quotaexceeded") || strings.Contains(lower, "dailylimitexceeded"):
			e.Kind = KindQuotaExceeded
		default:
			e.Kind = KindPermissionDenied
		}
	case status == http.StatusNotFound:
		e.Kind = KindResourceNotFound
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimitExceeded
	case status == http.StatusRequestTimeout:
		e.Kind = KindNetworkError
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusConflict:
		e.Kind = KindInvalidRequest
	case status >= 500:
		e.Kind = KindServiceUnavailable
	default:
		e.Kind = KindUnknown
	}
	return e
}

// Classify maps any error into the taxonomy using type checks and message heuristics.
func Classify(vendor models.ProviderType, err error) *Error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}

	e := &Error{Provider: vendor, Err: err}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		e.Kind = KindNetworkError
		if errors.Is(err, context.Canceled) {
			e.Kind = KindUnknown
		}
		return e
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		e.Kind = KindNetworkError
		return e
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "token expired", "token has expired", "invalid_grant"):
		e.Kind = KindTokenExpired
	case containsAny(msg, "unauthorized", "authentication", "not authenticated"):
		e.Kind = KindAuthenticationFailed
	case containsAny(msg, "rate limit", "too many requests", "throttl"):
		e.Kind = KindRateLimitExceeded
	case containsAny(msg, "quota"):
		e.Kind = KindQuotaExceeded
	case containsAny(msg, "forbidden", "permission", "access denied"):
		e.Kind = KindPermissionDenied
	case containsAny(msg, "not found"):
		e.Kind = KindResourceNotFound
	case containsAny(msg, "unavailable", "bad gateway"):
		e.Kind = KindServiceUnavailable
	case containsAny(msg, "timeout", "connection refused", "connection reset", "econnreset", "no such host", "eof", "network"):
		e.Kind = KindNetworkError
	case containsAny(msg, "invalid", "bad request"):
		e.Kind = KindInvalidRequest
	default:
		e.Kind = KindUnknown
	}
	return e
}

// vendorMessage pulls the human-readable message out of a Graph, Google or
// OAuth error body, falling back to the raw body.
func vendorMessage(body string) string {
	if gjson.Valid(body) {
		for _, path := range []string{"error.message", "error_description", "error.code", "error"} {
			if r := gjson.Get(body, path); r.Type == gjson.String && r.Str != "" {
				return truncate(r.Str, 300)
			}
		}
	}
	return truncate(strings.TrimSpace(body), 300)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
