// Package llm is the model-facing service: a response cache, a sliding-window
// rate limiter and pluggable chat providers behind one Chat/Stream surface.
package llm

import (
	"context"
	"errors"
	"fmt"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// ChatOptions override provider defaults per call. Zero values mean "use the default".
type ChatOptions struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// Temperature is a convenience for building ChatOptions literals.
func Temperature(t float64) *float64 { return &t }

type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
	Model   string `json:"model"`
}

// Chunk is one streamed delta. The final chunk has Done set, or Err on failure.
type Chunk struct {
	Content string
	Done    bool
	Err     error
}

// Provider is one model backend.
type Provider interface {
	Name() string
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (ChatResponse, error)
	Stream(ctx context.Context, messages []Message, opts ChatOptions) (<-chan Chunk, error)
}

var (
	ErrRateLimited         = errors.New("llm: rate limit exceeded, try again later")
	ErrInvalidCredential   = errors.New("llm: invalid api key")
	ErrTransient           = errors.New("llm: service error, try again")
	ErrUnsupportedProvider = errors.New("llm: provider not implemented")
	ErrEmptyResponse       = errors.New("llm: empty response")
)

// StatusError is returned by providers for non-2xx responses they do not map themselves.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }
