package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	DefaultOpenAIModel     = "gpt-4"
	DefaultDeepSeekBaseURL = "https://api.deepseek.com"
	DefaultDeepSeekModel   = "deepseek-chat"
	DefaultTemperature     = 0.7
	DefaultHTTPTimeout     = 75 * time.Second

	// The service has its own limiter; SDK retries stay low so waits are not compounded.
	sdkMaxRetries = 2
)

var _ Provider = (*OpenAI)(nil)

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	name        string
	client      openaigo.Client
	model       string
	temperature float64
	maxTokens   int
}

type OpenAIConfig struct {
	Name        string
	APIKey      string
	BaseURL     string
	Model       string
	// Temperature is DefaultTemperature when nil; zero is a valid setting.
	Temperature *float64
	MaxTokens   int
	HTTPClient  *http.Client
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(sdkMaxRetries),
		option.WithRequestTimeout(DefaultHTTPTimeout),
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}

	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultOpenAIModel
	}
	temp := DefaultTemperature
	if cfg.Temperature != nil {
		temp = *cfg.Temperature
	}
	return &OpenAI{
		name:        name,
		client:      openaigo.NewClient(opts...),
		model:       model,
		temperature: temp,
		maxTokens:   cfg.MaxTokens,
	}
}

// NewDeepSeek is the OpenAI adapter pointed at DeepSeek unless BaseURL overrides it.
func NewDeepSeek(cfg OpenAIConfig) *OpenAI {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultDeepSeekBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultDeepSeekModel
	}
	cfg.Name = "deepseek"
	return NewOpenAI(cfg)
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) params(messages []Message, opts ChatOptions) openaigo.ChatCompletionNewParams {
	model := o.model
	if opts.Model != "" {
		model = opts.Model
	}
	temp := o.temperature
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	p := openaigo.ChatCompletionNewParams{
		Model:       openaigo.ChatModel(model),
		Messages:    toParams(messages),
		Temperature: openaigo.Float(temp),
	}
	maxTokens := o.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	if maxTokens > 0 {
		p.MaxTokens = openaigo.Int(int64(maxTokens))
	}
	return p
}

func toParams(messages []Message) []openaigo.ChatCompletionMessageParamUnion {
	out := make([]openaigo.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openaigo.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openaigo.AssistantMessage(m.Content))
		default:
			out = append(out, openaigo.UserMessage(m.Content))
		}
	}
	return out
}

func (o *OpenAI) Chat(ctx context.Context, messages []Message, opts ChatOptions) (ChatResponse, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(messages, opts))
	if err != nil {
		return ChatResponse{}, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return ChatResponse{}, ErrEmptyResponse
	}
	return ChatResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Model: resp.Model,
	}, nil
}

func (o *OpenAI) Stream(ctx context.Context, messages []Message, opts ChatOptions) (<-chan Chunk, error) {
	stream := o.client.Chat.Completions.NewStreaming(ctx, o.params(messages, opts))
	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer stream.Close()

		send := func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(Chunk{Content: chunk.Choices[0].Delta.Content}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(Chunk{Err: err})
			return
		}
		send(Chunk{Done: true})
	}()
	return out, nil
}
