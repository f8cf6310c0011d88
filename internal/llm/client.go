// Package llm is a small client for OpenAI-compatible chat completion APIs,
// used as the translation backend.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MimeLyc/livesub/pkg/log"
)

const maxBodyBytes = 1 << 20

// Client is safe for concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
	backoff    time.Duration
}

func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &Client{
		config:     config,
		baseURL:    strings.TrimRight(config.APIURL, "/"),
		httpClient: &http.Client{Timeout: config.Timeout},
		backoff:    500 * time.Millisecond,
	}, nil
}

// Complete sends messages to /chat/completions and returns the first choice.
// Rate limits and 5xx answers are retried up to Config.Retries times.
func (c *Client) Complete(ctx context.Context, messages []Message, opts ...CallOption) (Reply, error) {
	o := callOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.system != "" {
		messages = append([]Message{{Role: "system", Content: o.system}}, messages...)
	}
	req := chatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}
	if o.maxTokens > 0 {
		req.MaxTokens = o.maxTokens
	}
	if o.temperature != nil {
		req.Temperature = *o.temperature
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp *chatResponse
	for attempt := 0; ; attempt++ {
		resp, err = c.post(ctx, "/chat/completions", body)
		var statusErr *StatusError
		if err == nil || attempt >= c.config.Retries || !errors.As(err, &statusErr) || !statusErr.Retryable() {
			break
		}
		wait := c.backoff << attempt
		log.Warn("LLM request failed with status %d, retrying in %s", statusErr.StatusCode, wait)
		select {
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		case <-time.After(wait):
		}
	}
	if err != nil {
		return Reply{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, errors.New("no choices in response")
	}

	choice := resp.Choices[0]
	reply := Reply{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Model:        resp.Model,
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	log.Debug("LLM reply from %s: %d prompt tokens, %d output tokens", reply.Model, reply.PromptTokens, reply.OutputTokens)
	return reply, nil
}

// SimpleChat answers a single user prompt.
func (c *Client) SimpleChat(ctx context.Context, prompt string, systemPrompt string) (string, error) {
	reply, err := c.Complete(ctx, []Message{{Role: "user", Content: prompt}}, WithSystem(systemPrompt))
	if err != nil {
		return "", err
	}
	if reply.Truncated() {
		log.Warn("LLM reply hit the token limit (%d)", c.config.MaxTokens)
	}
	return reply.Content, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*chatResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.config.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return nil, fmt.Errorf("request timed out: %w", err)
		}
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed chatResponse
	parseErr := json.Unmarshal(data, &parsed)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(data), Cause: parsed.Error}
	}
	if parseErr != nil {
		return nil, fmt.Errorf("failed to parse response: %w", parseErr)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return nil, parsed.Error
	}
	return &parsed, nil
}
