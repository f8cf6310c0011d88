package llm

import (
	"fmt"
	"net/http"
)

// Message is one chat turn. Role is "system", "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *APIError `json:"error,omitempty"`
}

// Reply is the first choice of a completion.
type Reply struct {
	Content      string
	FinishReason string
	Model        string
	PromptTokens int
	OutputTokens int
}

// Truncated reports whether the model stopped at the token limit.
func (r Reply) Truncated() bool {
	return r.FinishReason == "length"
}

// APIError is the error object some providers put in the response body.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm api error: %s (type: %s, code: %v)", e.Message, e.Type, e.Code)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
	Cause      *APIError
}

func (e *StatusError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("llm request failed with status %d: %s", e.StatusCode, e.Cause.Message)
	}
	return fmt.Sprintf("llm request failed with status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Retryable is true for rate limiting and server side failures.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type callOptions struct {
	system      string
	maxTokens   int
	temperature *float64
}

// CallOption adjusts a single completion request.
type CallOption func(*callOptions)

func WithSystem(prompt string) CallOption {
	return func(o *callOptions) { o.system = prompt }
}

func WithMaxTokens(n int) CallOption {
	return func(o *callOptions) { o.maxTokens = n }
}

func WithTemperature(t float64) CallOption {
	return func(o *callOptions) { o.temperature = &t }
}
