// Package google adapts Gmail, Google Calendar and Google Docs in Drive to
// the provider interfaces.
package google

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/credentials"
	"github.com/stoik/aide/services/agent-service/internal/obs"
	"github.com/stoik/aide/services/agent-service/internal/provider"
)

const (
	DefaultAuthURL   = "https://accounts.google.com/o/oauth2/v2/auth"
	DefaultTokenURL  = "https://oauth2.googleapis.com/token"
	DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"

	// pendingTTL bounds how long a login URL stays redeemable.
	pendingTTL = 10 * time.Minute
)

var DefaultScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/calendar.readonly",
	"https://www.googleapis.com/auth/drive.readonly",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/userinfo.email",
}

var defaultEndpoints = map[string]string{
	"gmail":    "https://gmail.googleapis.com/gmail/v1",
	"calendar": "https://www.googleapis.com/calendar/v3",
	"drive":    "https://www.googleapis.com/drive/v3",
	"docs":     "https://docs.googleapis.com/v1",
	"oauth2":   "https://www.googleapis.com/oauth2/v2",
}

var servicePaths = map[string]string{
	"gmail":    "/gmail/v1",
	"calendar": "/calendar/v3",
	"drive":    "/drive/v3",
	"docs":     "/docs/v1",
	"oauth2":   "/oauth2/v2",
}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	AuthURL   string
	TokenURL  string
	RevokeURL string
	// APIBaseURL, when set, serves every Google API under one host (the local emulator).
	APIBaseURL string
}

func (c Config) endpoint(service string) string {
	if c.APIBaseURL != "" {
		return strings.TrimRight(c.APIBaseURL, "/") + servicePaths[service]
	}
	return defaultEndpoints[service]
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (c Config) oauth() *oauth2.Config {
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   orDefault(c.AuthURL, DefaultAuthURL),
			TokenURL:  orDefault(c.TokenURL, DefaultTokenURL),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

type userInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Auth runs the authorization-code flow for one Google account. Login hands
// out a consent URL; HandleAuthCode completes it when the redirect arrives.
type Auth struct {
	cfg       Config
	accountID string
	keeper    *provider.TokenKeeper
	retry     *provider.Retrier
	http      *http.Client
	log       *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]time.Time
}

func NewAuth(cfg Config, accountID string, creds credentials.Store, retry *provider.Retrier, log *slog.Logger) *Auth {
	if log == nil {
		log = obs.Discard()
	}
	httpClient := &http.Client{Timeout: provider.DefaultHTTPTimeout}
	return &Auth{
		cfg:       cfg,
		accountID: accountID,
		keeper:    provider.NewTokenKeeper(models.ProviderGoogle, accountID, cfg.oauth(), creds, httpClient),
		retry:     retry,
		http:      httpClient,
		log:       log,
		now:       time.Now,
		pending:   make(map[string]time.Time),
	}
}

func (a *Auth) Initialize(ctx context.Context) error {
	return a.keeper.Load(ctx)
}

// Login starts the redirect flow and returns the consent URL with its state.
func (a *Auth) Login(ctx context.Context) (provider.AuthResult, error) {
	state := uuid.NewString()

	a.mu.Lock()
	for s, at := range a.pending {
		if a.now().Sub(at) > pendingTTL {
			delete(a.pending, s)
		}
	}
	a.pending[state] = a.now()
	a.mu.Unlock()

	authURL := a.keeper.Config().AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	a.log.Info("google consent required", "account", a.accountID, "url", authURL)
	return provider.AuthResult{Pending: true, AuthURL: authURL, State: state}, nil
}

// Pending reports whether state belongs to an unfinished login of this account.
func (a *Auth) Pending(state string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	at, ok := a.pending[state]
	return ok && a.now().Sub(at) <= pendingTTL
}

func (a *Auth) HandleAuthCode(ctx context.Context, code, state string) (provider.AuthResult, error) {
	if !a.Pending(state) {
		err := provider.NewError(models.ProviderGoogle, provider.KindInvalidRequest, "unknown or expired login state", nil)
		return provider.AuthResult{Error: err.Error()}, err
	}
	a.mu.Lock()
	delete(a.pending, state)
	a.mu.Unlock()

	tok, err := a.keeper.Config().Exchange(a.keeper.Context(ctx), code)
	if err != nil {
		perr := provider.NewError(models.ProviderGoogle, provider.KindAuthenticationFailed, "code exchange failed", err)
		return provider.AuthResult{Error: perr.Error()}, perr
	}

	info, err := a.fetchUserInfo(ctx, tok.AccessToken)
	if err != nil {
		return provider.AuthResult{Error: err.Error()}, err
	}
	acct := models.Account{
		ID:           a.accountID,
		ProviderType: models.ProviderGoogle,
		Email:        strings.ToLower(info.Email),
		DisplayName:  orDefault(info.Name, info.Email),
		AvatarURL:    info.Picture,
	}
	if err := a.keeper.Set(ctx, tok, acct); err != nil {
		return provider.AuthResult{Error: err.Error()}, fmt.Errorf("persist credential: %w", err)
	}

	a.log.Info("google account signed in", "account", a.accountID, "email", acct.Email)
	return provider.AuthResult{Success: true, Account: acct}, nil
}

func (a *Auth) fetchUserInfo(ctx context.Context, accessToken string) (userInfo, error) {
	static := func(context.Context, []string) (string, error) { return accessToken, nil }
	client := provider.NewRESTClient(models.ProviderGoogle, a.cfg.endpoint("oauth2"), nil, static, a.retry)
	var info userInfo
	if err := client.GetJSON(ctx, "/userinfo", nil, &info); err != nil {
		return userInfo{}, fmt.Errorf("load profile: %w", err)
	}
	return info, nil
}

// Logout revokes the token at Google (best effort) and deletes the local credential.
func (a *Auth) Logout(ctx context.Context) error {
	if tok, err := a.keeper.Token(ctx); err == nil {
		if err := a.revoke(ctx, tok); err != nil {
			a.log.Warn("token revocation failed", "account", a.accountID, "error", err)
		}
	}
	if err := a.keeper.Clear(ctx); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (a *Auth) revoke(ctx context.Context, tok *oauth2.Token) error {
	token := tok.RefreshToken
	if token == "" {
		token = tok.AccessToken
	}
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, orDefault(a.cfg.RevokeURL, DefaultRevokeURL), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return provider.FromStatus(models.ProviderGoogle, resp.StatusCode, "")
	}
	return nil
}

func (a *Auth) AccessToken(ctx context.Context, scopes []string) (string, error) {
	return a.keeper.AccessToken(ctx, scopes)
}

func (a *Auth) RefreshToken(ctx context.Context) error {
	return a.keeper.Refresh(ctx)
}

func (a *Auth) IsAuthenticated() bool { return a.keeper.Authenticated() }

func (a *Auth) AccountInfo() (models.Account, error) {
	acct, ok := a.keeper.Account()
	if !ok {
		return models.Account{}, provider.ErrNotAuthenticated
	}
	return acct, nil
}

func (a *Auth) ProviderType() models.ProviderType { return models.ProviderGoogle }

func (a *Auth) AccountID() string { return a.accountID }

// Client returns a REST client for one Google API ("gmail", "calendar", "drive", "docs").
func (a *Auth) Client(service string, retry *provider.Retrier) *provider.RESTClient {
	return provider.NewRESTClient(models.ProviderGoogle, a.cfg.endpoint(service), a.keeper.Config().Scopes, a.AccessToken, retry)
}
