// Package litellm talks to the LiteLLM proxy: an OpenAI-compatible chat API
// used as the reasoning backend, plus its liveness endpoint.
package litellm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Strob0t/QueryWarden/internal/config"
	"github.com/Strob0t/QueryWarden/internal/resilience"
)

// Client wraps the chat completion client and the proxy's admin surface.
type Client struct {
	chat       *openai.Client
	model      string
	adminURL   string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient builds a client from the LiteLLM config section. cfg.URL is the
// OpenAI-compatible base, conventionally ending in /v1.
func NewClient(cfg config.LiteLLM, breaker *resilience.Breaker) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	oc := openai.DefaultConfig(cfg.MasterKey)
	oc.BaseURL = strings.TrimRight(cfg.URL, "/")
	oc.HTTPClient = httpClient

	return &Client{
		chat:       openai.NewClientWithConfig(oc),
		model:      cfg.Model,
		adminURL:   strings.TrimSuffix(strings.TrimRight(cfg.URL, "/"), "/v1"),
		httpClient: httpClient,
		breaker:    breaker,
	}
}

// Health checks the proxy liveness endpoint. It bypasses the breaker so an
// open circuit does not hide recovery.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.adminURL+"/health/liveliness", http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("litellm health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("litellm health: status %d", resp.StatusCode)
	}
	return nil
}

// complete runs one chat completion through the breaker and returns the
// first choice's content.
func (c *Client) complete(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var content string
	call := func() error {
		resp, err := c.chat.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("no choices returned")
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return "", err
	}
	return content, nil
}
