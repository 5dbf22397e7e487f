// Package config turns viper settings into the typed service configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	// URL is a Postgres DSN. Empty selects the file store under StateDir.
	URL      string
	StateDir string
}

type ServerConfig struct {
	Addr      string
	RateLimit float64
	Burst     int
}

type MonitoringConfig struct {
	PollInterval    time.Duration
	PollJitter      time.Duration
	Workers         int
	QueueSize       int
	ShutdownTimeout time.Duration
	MetricsInterval time.Duration
	RetryAttempts   int
	RetryBaseDelay  time.Duration
}

type LLMConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	EnableCache bool
	CacheTTL    time.Duration
	MaxRequests int
	Window      time.Duration
}

type AnalysisConfig struct {
	VIPSenders     []string
	UrgentKeywords []string
}

type MicrosoftConfig struct {
	ClientID      string
	TenantID      string
	Scopes        []string
	DeviceCodeURL string
	TokenURL      string
	GraphURL      string
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	APIBaseURL   string
}

type CredentialsConfig struct {
	// Backend is "file" or "database".
	Backend string
	Dir     string
}

type LogConfig struct {
	Level  string
	Format string
}

type Config struct {
	Database    DatabaseConfig
	Server      ServerConfig
	Monitoring  MonitoringConfig
	LLM         LLMConfig
	Analysis    AnalysisConfig
	Microsoft   MicrosoftConfig
	Google      GoogleConfig
	Credentials CredentialsConfig
	Log         LogConfig
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.state_dir", "./.aide/state")

	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.burst", 20)

	v.SetDefault("monitoring.poll_interval", "30s")
	v.SetDefault("monitoring.poll_jitter", "5s")
	v.SetDefault("monitoring.workers", 4)
	v.SetDefault("monitoring.queue_size", 50)
	v.SetDefault("monitoring.shutdown_timeout", "10s")
	v.SetDefault("monitoring.metrics_interval", "1m")
	v.SetDefault("monitoring.retry_attempts", 3)
	v.SetDefault("monitoring.retry_base_delay", "1s")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 0)
	v.SetDefault("llm.enable_cache", true)
	v.SetDefault("llm.cache_ttl", "1h")
	v.SetDefault("llm.max_requests", 60)
	v.SetDefault("llm.window", "1m")

	v.SetDefault("microsoft.tenant_id", "common")
	v.SetDefault("google.redirect_url", "http://localhost:8090/auth/google/callback")

	v.SetDefault("credentials.backend", "file")
	v.SetDefault("credentials.dir", "./.aide/credentials")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the typed configuration from v. When emulator.url is set, every
// vendor endpoint not configured explicitly points at the local emulator.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	cfg := Config{
		Database: DatabaseConfig{
			URL:      v.GetString("database.url"),
			StateDir: v.GetString("database.state_dir"),
		},
		Server: ServerConfig{
			Addr:      v.GetString("server.addr"),
			RateLimit: v.GetFloat64("server.rate_limit"),
			Burst:     v.GetInt("server.burst"),
		},
		Monitoring: MonitoringConfig{
			PollInterval:    v.GetDuration("monitoring.poll_interval"),
			PollJitter:      v.GetDuration("monitoring.poll_jitter"),
			Workers:         v.GetInt("monitoring.workers"),
			QueueSize:       v.GetInt("monitoring.queue_size"),
			ShutdownTimeout: v.GetDuration("monitoring.shutdown_timeout"),
			MetricsInterval: v.GetDuration("monitoring.metrics_interval"),
			RetryAttempts:   v.GetInt("monitoring.retry_attempts"),
			RetryBaseDelay:  v.GetDuration("monitoring.retry_base_delay"),
		},
		LLM: LLMConfig{
			Provider:    v.GetString("llm.provider"),
			APIKey:      v.GetString("llm.api_key"),
			BaseURL:     v.GetString("llm.base_url"),
			Model:       v.GetString("llm.model"),
			Temperature: v.GetFloat64("llm.temperature"),
			MaxTokens:   v.GetInt("llm.max_tokens"),
			EnableCache: v.GetBool("llm.enable_cache"),
			CacheTTL:    v.GetDuration("llm.cache_ttl"),
			MaxRequests: v.GetInt("llm.max_requests"),
			Window:      v.GetDuration("llm.window"),
		},
		Analysis: AnalysisConfig{
			VIPSenders:     lower(v.GetStringSlice("analysis.vip_senders")),
			UrgentKeywords: v.GetStringSlice("analysis.urgent_keywords"),
		},
		Microsoft: MicrosoftConfig{
			ClientID:      v.GetString("microsoft.client_id"),
			TenantID:      v.GetString("microsoft.tenant_id"),
			Scopes:        v.GetStringSlice("microsoft.scopes"),
			DeviceCodeURL: v.GetString("microsoft.device_code_url"),
			TokenURL:      v.GetString("microsoft.token_url"),
			GraphURL:      v.GetString("microsoft.graph_url"),
		},
		Google: GoogleConfig{
			ClientID:     v.GetString("google.client_id"),
			ClientSecret: v.GetString("google.client_secret"),
			RedirectURL:  v.GetString("google.redirect_url"),
			Scopes:       v.GetStringSlice("google.scopes"),
			AuthURL:      v.GetString("google.auth_url"),
			TokenURL:     v.GetString("google.token_url"),
			RevokeURL:    v.GetString("google.revoke_url"),
			APIBaseURL:   v.GetString("google.api_base_url"),
		},
		Credentials: CredentialsConfig{
			Backend: strings.ToLower(v.GetString("credentials.backend")),
			Dir:     v.GetString("credentials.dir"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if base := strings.TrimRight(v.GetString("emulator.url"), "/"); base != "" {
		cfg.useEmulator(base)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) useEmulator(base string) {
	setIfEmpty(&c.Microsoft.DeviceCodeURL, base+"/msauth/devicecode")
	setIfEmpty(&c.Microsoft.TokenURL, base+"/msauth/token")
	setIfEmpty(&c.Microsoft.GraphURL, base+"/graph/v1.0")
	setIfEmpty(&c.Microsoft.ClientID, "emulator")
	setIfEmpty(&c.Google.AuthURL, base+"/google/auth")
	setIfEmpty(&c.Google.TokenURL, base+"/google/token")
	setIfEmpty(&c.Google.RevokeURL, base+"/google/revoke")
	setIfEmpty(&c.Google.APIBaseURL, base+"/google")
	setIfEmpty(&c.Google.ClientID, "emulator")
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var ErrInvalid = errors.New("invalid configuration")

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Database.URL == "" && c.Database.StateDir == "" {
		errs = append(errs, errors.New("database.state_dir is required without database.url"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is empty"))
	}
	if c.Server.RateLimit <= 0 || c.Server.Burst <= 0 {
		errs = append(errs, errors.New("server.rate_limit and server.burst must be positive"))
	}
	if c.Monitoring.PollInterval <= 0 {
		errs = append(errs, errors.New("monitoring.poll_interval must be positive"))
	}
	if c.Monitoring.Workers <= 0 || c.Monitoring.QueueSize <= 0 {
		errs = append(errs, errors.New("monitoring.workers and monitoring.queue_size must be positive"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f out of range [0,2]", c.LLM.Temperature))
	}
	if c.LLM.MaxRequests <= 0 || c.LLM.Window <= 0 {
		errs = append(errs, errors.New("llm.max_requests and llm.window must be positive"))
	}
	switch c.Credentials.Backend {
	case "file":
		if c.Credentials.Dir == "" {
			errs = append(errs, errors.New("credentials.dir is required for the file backend"))
		}
	case "database":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("credentials.backend=database requires database.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("credentials.backend %q is not file or database", c.Credentials.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// MicrosoftEnabled reports whether Microsoft sign-in is configured.
func (c Config) MicrosoftEnabled() bool { return c.Microsoft.ClientID != "" }

// GoogleEnabled reports whether Google sign-in is configured.
func (c Config) GoogleEnabled() bool { return c.Google.ClientID != "" }
