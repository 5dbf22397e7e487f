package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/provider"
)

// Bundle is the set of providers for one account.
type Bundle struct {
	Auth     provider.AuthProvider
	Email    provider.EmailProvider
	Calendar provider.CalendarProvider
	Notes    provider.NotesProvider
}

// Factory builds the providers for a new or restored account.
type Factory func(vendor models.ProviderType, accountID string) (Bundle, error)

// pendingLoginTTL bounds how long a redirect login waits for its code.
const pendingLoginTTL = 10 * time.Minute

type pendingLogin struct {
	vendor  models.ProviderType
	bundle  Bundle
	started time.Time
}

var (
	ErrNoFactory     = errors.New("agent: no provider factory configured")
	ErrUnknownState  = errors.New("agent: unknown or expired login state")
	ErrUnknownVendor = errors.New("agent: unsupported provider type")
)

func (a *Agent) build(vendor models.ProviderType, accountID string) (Bundle, error) {
	if a.factory == nil {
		return Bundle{}, ErrNoFactory
	}
	if !vendor.Valid() {
		return Bundle{}, fmt.Errorf("%w: %s", ErrUnknownVendor, vendor)
	}
	return a.factory(vendor, accountID)
}

// Login starts sign-in for a new account. Device-code logins complete before
// returning; redirect logins return a pending result finished by HandleAuthCode.
func (a *Agent) Login(ctx context.Context, vendor models.ProviderType) (provider.AuthResult, error) {
	b, err := a.build(vendor, uuid.NewString())
	if err != nil {
		return provider.AuthResult{}, err
	}
	res, err := b.Auth.Login(ctx)
	if err != nil {
		return res, err
	}
	if res.Pending {
		a.mu.Lock()
		a.prunePending()
		a.pending[res.State] = pendingLogin{vendor: vendor, bundle: b, started: a.now()}
		a.mu.Unlock()
		return res, nil
	}
	if res.Success {
		if err := a.register(ctx, b); err != nil {
			return res, err
		}
	}
	return res, nil
}

// HandleAuthCode completes a redirect login started by Login.
func (a *Agent) HandleAuthCode(ctx context.Context, code, state string) (provider.AuthResult, error) {
	a.mu.Lock()
	a.prunePending()
	p, ok := a.pending[state]
	if ok {
		delete(a.pending, state)
	}
	a.mu.Unlock()
	if !ok {
		return provider.AuthResult{}, ErrUnknownState
	}

	ex, ok := p.bundle.Auth.(provider.CodeExchanger)
	if !ok {
		return provider.AuthResult{}, fmt.Errorf("%s login has no redirect phase", p.vendor)
	}
	res, err := ex.HandleAuthCode(ctx, code, state)
	if err != nil || !res.Success {
		return res, err
	}
	return res, a.register(ctx, p.bundle)
}

// prunePending drops abandoned redirect logins. Callers hold a.mu.
func (a *Agent) prunePending() {
	for state, p := range a.pending {
		if a.now().Sub(p.started) > pendingLoginTTL {
			delete(a.pending, state)
		}
	}
}

// register adds the account to the manager, records it and starts monitoring
// when the agent is running.
func (a *Agent) register(ctx context.Context, b Bundle) error {
	acct, err := b.Auth.AccountInfo()
	if err != nil {
		return err
	}
	a.manager.RegisterAuth(b.Auth)
	if b.Calendar != nil {
		a.manager.RegisterCalendar(b.Calendar)
	}
	if b.Notes != nil {
		a.manager.RegisterNotes(b.Notes)
	}
	if b.Email != nil {
		a.manager.RegisterEmail(b.Email)
		if a.Running() {
			if err := b.Email.StartMonitoring(ctx); err != nil {
				a.log.Warn("monitoring not started for new account", "account", acct.ID, "error", err)
			}
		}
	}
	if err := a.store.SaveAccount(ctx, acct); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	a.log.Info("account registered", "account", acct.ID, "provider", acct.ProviderType, "email", acct.Email)
	return nil
}

// Restore rebuilds every stored account whose credential is still present.
// It returns how many accounts were registered.
func (a *Agent) Restore(ctx context.Context) (int, error) {
	accounts, err := a.store.Accounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("load accounts: %w", err)
	}
	n := 0
	for _, acct := range accounts {
		b, err := a.build(acct.ProviderType, acct.ID)
		if err != nil {
			a.log.Warn("account not restored", "account", acct.ID, "error", err)
			continue
		}
		if err := b.Auth.Initialize(ctx); err != nil {
			a.log.Warn("credential load failed", "account", acct.ID, "error", err)
			continue
		}
		if !b.Auth.IsAuthenticated() {
			a.log.Info("account needs sign-in", "account", acct.ID, "email", acct.Email)
			continue
		}
		if err := a.register(ctx, b); err != nil {
			a.log.Warn("account not restored", "account", acct.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// Logout revokes and deletes the account's credential and forgets the account.
func (a *Agent) Logout(ctx context.Context, accountID string) error {
	auth, ok := a.manager.Auth(accountID)
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, ErrNotAuthenticated)
	}
	acct, infoErr := auth.AccountInfo()
	if err := auth.Logout(ctx); err != nil {
		return err
	}
	a.manager.RemoveAccount(ctx, accountID)
	if infoErr == nil {
		if err := a.store.DeleteAccount(ctx, acct); err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
	}
	return nil
}
