package llm

import (
	"fmt"
	"net/http"
	"strings"
)

// Config selects and configures the model backend.
type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	MaxTokens   int
}

// NewProvider builds the adapter named by cfg.Provider.
func NewProvider(cfg Config, httpClient *http.Client) (Provider, error) {
	oc := OpenAIConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		HTTPClient:  httpClient,
	}
	switch name := strings.ToLower(strings.TrimSpace(cfg.Provider)); name {
	case "openai", "":
		return NewOpenAI(oc), nil
	case "deepseek":
		return NewDeepSeek(oc), nil
	case "anthropic", "ollama":
		return nil, fmt.Errorf("%s: %w", name, ErrUnsupportedProvider)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
