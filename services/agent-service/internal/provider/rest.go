package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stoik/aide/internal/models"
)

// DefaultHTTPTimeout bounds every vendor request; the retry wrapper has no timeout of its own.
const DefaultHTTPTimeout = 30 * time.Second

// TokenFunc returns a bearer token for the given scopes.
type TokenFunc func(ctx context.Context, scopes []string) (string, error)

// RESTClient performs JSON calls against one vendor API on behalf of one account.
// Every call goes through the Retrier, so callers only ever see *Error.
type RESTClient struct {
	Vendor  models.ProviderType
	BaseURL string
	Scopes  []string
	Token   TokenFunc
	HTTP    *http.Client
	Retry   *Retrier
}

func NewRESTClient(vendor models.ProviderType, baseURL string, scopes []string, token TokenFunc, retry *Retrier) *RESTClient {
	return &RESTClient{
		Vendor:  vendor,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Scopes:  scopes,
		Token:   token,
		HTTP:    &http.Client{Timeout: DefaultHTTPTimeout},
		Retry:   retry,
	}
}

// GetJSON fetches path (relative to BaseURL, or absolute) and decodes the body into out.
func (c *RESTClient) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *RESTClient) PostJSON(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// GetRaw fetches path and returns the body verbatim (OneNote page HTML).
func (c *RESTClient) GetRaw(ctx context.Context, path string) ([]byte, error) {
	var raw []byte
	err := c.Retry.Do(ctx, c.Vendor, func(ctx context.Context) error {
		resp, err := c.send(ctx, http.MethodGet, path, nil, nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		return nil
	})
	return raw, err
}

func (c *RESTClient) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return c.Retry.Do(ctx, c.Vendor, func(ctx context.Context) error {
		resp, err := c.send(ctx, method, path, query, body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return NewError(c.Vendor, KindUnknown, "failed to decode response", err)
		}
		return nil
	})
}

func (c *RESTClient) send(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	token, err := c.Token(ctx, c.Scopes)
	if err != nil {
		return nil, err
	}

	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.BaseURL + path
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, NewError(c.Vendor, KindInvalidRequest, "failed to encode request", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, NewError(c.Vendor, KindInvalidRequest, "failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, FromStatus(c.Vendor, resp.StatusCode, string(msg))
	}
	return resp, nil
}
