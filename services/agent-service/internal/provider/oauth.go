package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/credentials"
)

// RefreshMargin is how close to expiry a cached token may get before it is refreshed.
const RefreshMargin = 5 * time.Minute

// tokenBlob is the credential layout persisted by TokenKeeper.
type tokenBlob struct {
	Token   *oauth2.Token  `json:"token"`
	Account models.Account `json:"account"`
}

// TokenKeeper caches one account's OAuth token and account info, refreshes it
// ahead of expiry, and persists both through a credentials.Store.
type TokenKeeper struct {
	vendor    models.ProviderType
	accountID string
	conf      *oauth2.Config
	creds     credentials.Store
	http      *http.Client
	now       func() time.Time

	mu      sync.Mutex
	token   *oauth2.Token
	account *models.Account
}

func NewTokenKeeper(vendor models.ProviderType, accountID string, conf *oauth2.Config, creds credentials.Store, httpClient *http.Client) *TokenKeeper {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &TokenKeeper{
		vendor:    vendor,
		accountID: accountID,
		conf:      conf,
		creds:     creds,
		http:      httpClient,
		now:       time.Now,
	}
}

// Context attaches the keeper's HTTP client for oauth2 calls.
func (k *TokenKeeper) Context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, k.http)
}

func (k *TokenKeeper) Config() *oauth2.Config { return k.conf }

// Load restores a persisted credential. A missing credential is not an error.
func (k *TokenKeeper) Load(ctx context.Context) error {
	raw, err := k.creds.Load(ctx, k.vendor, k.accountID)
	if errors.Is(err, credentials.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}

	var blob tokenBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return fmt.Errorf("decode credential: %w", err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.token = blob.Token
	if blob.Account.Email != "" {
		acct := blob.Account
		k.account = &acct
	}
	return nil
}

// Set stores a freshly issued token and the account it belongs to.
func (k *TokenKeeper) Set(ctx context.Context, tok *oauth2.Token, acct models.Account) error {
	k.mu.Lock()
	k.token = tok
	k.account = &acct
	k.mu.Unlock()
	return k.persist(ctx)
}

func (k *TokenKeeper) persist(ctx context.Context) error {
	k.mu.Lock()
	blob := tokenBlob{Token: k.token}
	if k.account != nil {
		blob.Account = *k.account
	}
	k.mu.Unlock()

	raw, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	return k.creds.Save(ctx, k.vendor, k.accountID, raw)
}

// Account returns the cached account, if any.
func (k *TokenKeeper) Account() (models.Account, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.account == nil {
		return models.Account{}, false
	}
	return *k.account, true
}

// Authenticated is a local check; it does not touch the network.
func (k *TokenKeeper) Authenticated() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.account != nil && k.token != nil
}

// Token returns the current access token, refreshing it when within RefreshMargin of expiry.
func (k *TokenKeeper) Token(ctx context.Context) (*oauth2.Token, error) {
	k.mu.Lock()
	tok := k.token
	k.mu.Unlock()

	if tok == nil {
		return nil, NewError(k.vendor, KindAuthenticationFailed, "no credential for account "+k.accountID, nil)
	}
	if tok.AccessToken != "" && (tok.Expiry.IsZero() || tok.Expiry.After(k.now().Add(RefreshMargin))) {
		return tok, nil
	}
	if err := k.Refresh(ctx); err != nil {
		return nil, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.token, nil
}

// AccessToken adapts Token to TokenFunc. Scopes are fixed at login time.
func (k *TokenKeeper) AccessToken(ctx context.Context, scopes []string) (string, error) {
	tok, err := k.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Refresh forces a refresh-token grant.
func (k *TokenKeeper) Refresh(ctx context.Context) error {
	k.mu.Lock()
	tok := k.token
	k.mu.Unlock()

	if tok == nil || tok.RefreshToken == "" {
		return NewError(k.vendor, KindTokenExpired, "no refresh token for account "+k.accountID, nil)
	}

	src := k.conf.TokenSource(k.Context(ctx), &oauth2.Token{RefreshToken: tok.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			perr := FromStatus(k.vendor, rerr.Response.StatusCode, string(rerr.Body))
			if perr.Kind == KindInvalidRequest || perr.Kind == KindAuthenticationFailed {
				perr.Kind = KindTokenExpired
			}
			perr.Err = err
			return perr
		}
		return Classify(k.vendor, err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}

	k.mu.Lock()
	k.token = fresh
	k.mu.Unlock()
	return k.persist(ctx)
}

// Clear drops the cached token and deletes the persisted credential.
func (k *TokenKeeper) Clear(ctx context.Context) error {
	k.mu.Lock()
	k.token = nil
	k.account = nil
	k.mu.Unlock()
	return k.creds.Delete(ctx, k.vendor, k.accountID)
}
