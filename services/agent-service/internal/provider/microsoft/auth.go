// Package microsoft adapts Microsoft Graph (Outlook mail, calendar, OneNote)
// to the provider interfaces.
package microsoft

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/credentials"
	"github.com/stoik/aide/services/agent-service/internal/obs"
	"github.com/stoik/aide/services/agent-service/internal/provider"
)

const (
	DefaultAuthority = "https://login.microsoftonline.com"
	DefaultGraphURL  = "https://graph.microsoft.com/v1.0"
)

// DefaultScopes are the delegated Graph permissions the agent needs.
var DefaultScopes = []string{"offline_access", "User.Read", "Mail.Read", "Notes.Read", "Calendars.Read"}

type Config struct {
	ClientID string
	TenantID string
	Scopes   []string

	// DeviceCodeURL and TokenURL override the endpoints derived from TenantID.
	DeviceCodeURL string
	TokenURL      string
	GraphURL      string
}

func (c Config) oauth() *oauth2.Config {
	tenant := c.TenantID
	if tenant == "" {
		tenant = "common"
	}
	deviceURL := c.DeviceCodeURL
	if deviceURL == "" {
		deviceURL = fmt.Sprintf("%s/%s/oauth2/v2.0/devicecode", DefaultAuthority, tenant)
	}
	tokenURL := c.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("%s/%s/oauth2/v2.0/token", DefaultAuthority, tenant)
	}
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &oauth2.Config{
		ClientID: c.ClientID,
		Scopes:   scopes,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: deviceURL,
			TokenURL:      tokenURL,
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}
}

// DeviceCodePrompt shows the user where to enter the device code.
type DeviceCodePrompt func(userCode, verificationURI string)

// Auth runs the device-code flow for one Microsoft account.
type Auth struct {
	cfg       Config
	accountID string
	keeper    *provider.TokenKeeper
	prompt    DeviceCodePrompt
	log       *slog.Logger
}

func NewAuth(cfg Config, accountID string, creds credentials.Store, prompt DeviceCodePrompt, log *slog.Logger) *Auth {
	if log == nil {
		log = obs.Discard()
	}
	if prompt == nil {
		prompt = func(code, uri string) {
			log.Info("complete Microsoft sign-in", "verification_uri", uri, "user_code", code)
		}
	}
	return &Auth{
		cfg:       cfg,
		accountID: accountID,
		keeper:    provider.NewTokenKeeper(models.ProviderMicrosoft, accountID, cfg.oauth(), creds, nil),
		prompt:    prompt,
		log:       log,
	}
}

func (a *Auth) Initialize(ctx context.Context) error {
	return a.keeper.Load(ctx)
}

// Login blocks until the user finishes the device-code flow or ctx ends.
func (a *Auth) Login(ctx context.Context) (provider.AuthResult, error) {
	conf := a.keeper.Config()
	octx := a.keeper.Context(ctx)

	da, err := conf.DeviceAuth(octx)
	if err != nil {
		perr := provider.Classify(models.ProviderMicrosoft, err)
		return provider.AuthResult{Error: perr.Error()}, perr
	}
	a.prompt(da.UserCode, da.VerificationURI)

	tok, err := conf.DeviceAccessToken(octx, da)
	if err != nil {
		perr := provider.NewError(models.ProviderMicrosoft, provider.KindAuthenticationFailed, "device code flow failed", err)
		return provider.AuthResult{Error: perr.Error()}, perr
	}

	acct, err := a.accountFromToken(tok)
	if err != nil {
		return provider.AuthResult{Error: err.Error()}, err
	}
	if err := a.keeper.Set(ctx, tok, acct); err != nil {
		return provider.AuthResult{Error: err.Error()}, fmt.Errorf("persist credential: %w", err)
	}

	a.log.Info("microsoft account signed in", "account", a.accountID, "email", acct.Email)
	return provider.AuthResult{Success: true, Account: acct}, nil
}

// accountFromToken reads the identity claims of the id_token. The token came
// straight from the token endpoint over TLS, so the signature is not checked.
func (a *Auth) accountFromToken(tok *oauth2.Token) (models.Account, error) {
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return models.Account{}, provider.NewError(models.ProviderMicrosoft, provider.KindAuthenticationFailed, "token response has no id_token", nil)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return models.Account{}, provider.NewError(models.ProviderMicrosoft, provider.KindAuthenticationFailed, "malformed id_token", err)
	}

	email, _ := claims["preferred_username"].(string)
	if email == "" {
		email, _ = claims["email"].(string)
	}
	name, _ := claims["name"].(string)
	if name == "" {
		name = email
	}
	return models.Account{
		ID:           a.accountID,
		ProviderType: models.ProviderMicrosoft,
		Email:        strings.ToLower(email),
		DisplayName:  name,
	}, nil
}

// Logout forgets the local credential. Graph has no token revocation endpoint
// for public clients.
func (a *Auth) Logout(ctx context.Context) error {
	if err := a.keeper.Clear(ctx); err != nil {
		return fmt.Errorf("delete credential: %w", err)
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

func (a *Auth) ProviderType() models.ProviderType { return models.ProviderMicrosoft }

func (a *Auth) AccountID() string { return a.accountID }

// Client returns a Graph REST client authorized as this account.
func (a *Auth) Client(retry *provider.Retrier) *provider.RESTClient {
	base := a.cfg.GraphURL
	if base == "" {
		base = DefaultGraphURL
	}
	return provider.NewRESTClient(models.ProviderMicrosoft, base, a.keeper.Config().Scopes, a.AccessToken, retry)
}
