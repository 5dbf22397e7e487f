package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/stoik/aide/internal/models"
	"github.com/stoik/aide/services/agent-service/internal/agent"
	"github.com/stoik/aide/services/agent-service/internal/config"
	"github.com/stoik/aide/services/agent-service/internal/credentials"
	"github.com/stoik/aide/services/agent-service/internal/db"
	"github.com/stoik/aide/services/agent-service/internal/llm"
	"github.com/stoik/aide/services/agent-service/internal/manager"
	"github.com/stoik/aide/services/agent-service/internal/obs"
	"github.com/stoik/aide/services/agent-service/internal/provider"
	"github.com/stoik/aide/services/agent-service/internal/provider/google"
	"github.com/stoik/aide/services/agent-service/internal/provider/microsoft"
	"github.com/stoik/aide/services/agent-service/internal/store"
)

// runtime is everything one command needs, built from configuration.
type runtime struct {
	cfg   config.Config
	log   *slog.Logger
	conn  *sql.DB
	agent *agent.Agent
}

func (r *runtime) Close() {
	if r.conn != nil {
		r.conn.Close()
	}
}

// build loads configuration and wires storage, providers and the agent.
// prompt, when set, replaces the logged Microsoft device-code instructions.
func build(ctx context.Context, prompt microsoft.DeviceCodePrompt) (*runtime, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	log := obs.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	rt := &runtime{cfg: cfg, log: log}

	var kv store.KV
	if cfg.Database.URL != "" {
		conn, err := db.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		rt.conn = conn
		kv = store.NewPostgres(conn)
	} else {
		log.Debug("database.url not set; using file state", "dir", cfg.Database.StateDir)
		kv = store.NewFile(cfg.Database.StateDir)
	}

	var creds credentials.Store
	switch cfg.Credentials.Backend {
	case "database":
		creds = credentials.NewKVStore(kv)
	default:
		creds = credentials.NewFileStore(cfg.Credentials.Dir)
	}

	if cfg.LLM.APIKey == "" {
		log.Warn("llm.api_key not set; analysis falls back to defaults")
	}
	model, err := llm.NewProvider(llm.Config{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: llm.Temperature(cfg.LLM.Temperature),
		MaxTokens:   cfg.LLM.MaxTokens,
	}, nil)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create llm provider: %w", err)
	}
	svc := llm.NewService(model, llm.ServiceOptions{
		EnableCache: cfg.LLM.EnableCache,
		CacheTTL:    cfg.LLM.CacheTTL,
		MaxRequests: cfg.LLM.MaxRequests,
		Window:      cfg.LLM.Window,
	}, log)

	retry := provider.NewRetrier(cfg.Monitoring.RetryAttempts, cfg.Monitoring.RetryBaseDelay, log)
	factory := providerFactory(cfg, creds, retry, prompt, log)

	rt.agent = agent.New(agent.Config{
		VIPSenders:      cfg.Analysis.VIPSenders,
		UrgentKeywords:  cfg.Analysis.UrgentKeywords,
		QueueSize:       cfg.Monitoring.QueueSize,
		Workers:         cfg.Monitoring.Workers,
		ShutdownTimeout: cfg.Monitoring.ShutdownTimeout,
		MetricsInterval: cfg.Monitoring.MetricsInterval,
	}, manager.New(log), svc, store.New(kv), factory, log)
	return rt, nil
}

// providerFactory builds the adapters of one account for its vendor.
func providerFactory(cfg config.Config, creds credentials.Store, retry *provider.Retrier, prompt microsoft.DeviceCodePrompt, log *slog.Logger) agent.Factory {
	monitorOpts := []provider.MonitorOption{
		provider.WithPollInterval(cfg.Monitoring.PollInterval),
		provider.WithPollJitter(cfg.Monitoring.PollJitter),
	}

	return func(vendor models.ProviderType, accountID string) (agent.Bundle, error) {
		switch vendor {
		case models.ProviderMicrosoft:
			if !cfg.MicrosoftEnabled() {
				return agent.Bundle{}, fmt.Errorf("%w: microsoft.client_id not configured", agent.ErrUnknownVendor)
			}
			auth := microsoft.NewAuth(microsoft.Config{
				ClientID:      cfg.Microsoft.ClientID,
				TenantID:      cfg.Microsoft.TenantID,
				Scopes:        cfg.Microsoft.Scopes,
				DeviceCodeURL: cfg.Microsoft.DeviceCodeURL,
				TokenURL:      cfg.Microsoft.TokenURL,
				GraphURL:      cfg.Microsoft.GraphURL,
			}, accountID, creds, prompt, log)
			return agent.Bundle{
				Auth:     auth,
				Email:    microsoft.NewMail(auth, retry, log, monitorOpts...),
				Calendar: microsoft.NewCalendar(auth, retry),
				Notes:    microsoft.NewNotes(auth, retry),
			}, nil

		case models.ProviderGoogle:
			if !cfg.GoogleEnabled() {
				return agent.Bundle{}, fmt.Errorf("%w: google.client_id not configured", agent.ErrUnknownVendor)
			}
			auth := google.NewAuth(google.Config{
				ClientID:     cfg.Google.ClientID,
				ClientSecret: cfg.Google.ClientSecret,
				RedirectURL:  cfg.Google.RedirectURL,
				Scopes:       cfg.Google.Scopes,
				AuthURL:      cfg.Google.AuthURL,
				TokenURL:     cfg.Google.TokenURL,
				RevokeURL:    cfg.Google.RevokeURL,
				APIBaseURL:   cfg.Google.APIBaseURL,
			}, accountID, creds, retry, log)
			return agent.Bundle{
				Auth:     auth,
				Email:    google.NewMail(auth, retry, log, monitorOpts...),
				Calendar: google.NewCalendar(auth, retry, provider.DefaultBusinessHours),
				Notes:    google.NewNotes(auth, retry, log),
			}, nil
		}
		return agent.Bundle{}, fmt.Errorf("%w: %s", agent.ErrUnknownVendor, vendor)
	}
}
