// Package llm talks to an OpenAI-compatible provider for chat completions
// and embeddings. One configured endpoint serves the llm_call step handler,
// the knowledge embedder, and the assist builder; base_url overrides let
// any compatible provider (Ollama, vLLM, OpenRouter) stand in.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/magpieflow/magpie/internal/logging"
)

// maxResponseBytes limits provider response bodies to prevent memory
// exhaustion.
const maxResponseBytes = 10 * 1024 * 1024 // 10MB

// defaultTimeout allows time for slow completions.
const defaultTimeout = 180 * time.Second

// maxErrorBody bounds how much of an error response lands in the message.
const maxErrorBody = 200

// Config identifies the provider endpoint and models. The API key is read
// from the environment variable named by APIKeyEnv at request time, never
// stored; an empty or unset variable sends no Authorization header, which
// keyless local providers accept.
type Config struct {
	BaseURL    string
	Model      string
	EmbedModel string
	EmbedDims  int
	APIKeyEnv  string
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// Request is a chat completion request.
type Request struct {
	// Model overrides the configured default when set.
	Model string

	// Messages is the chat history to send.
	Messages []Message

	// Temperature controls randomness. nil uses the endpoint default,
	// 0 is deterministic.
	Temperature *float64

	// MaxTokens limits response length. 0 uses the endpoint default.
	MaxTokens int
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a chat completion result.
type Response struct {
	Content      string
	Model        string
	Usage        Usage
	FinishReason string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(rc RetryConfig) Option {
	return func(c *Client) { c.retry = rc }
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client is a provider-agnostic chat and embeddings client. It is safe for
// concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retry      RetryConfig
	logger     *log.Logger
}

// NewClient creates a client for the configured endpoint.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultTimeout},
		retry:      DefaultRetryConfig(),
		logger:     logging.New("llm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Chat sends a completion request and returns the first choice.
func (c *Client) Chat(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, NewFatalError(fmt.Errorf("at least one message is required"))
	}
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	if model == "" {
		return nil, NewFatalError(fmt.Errorf("no chat model configured"))
	}

	wire := chatRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature, // nil = endpoint default, 0 = deterministic
	}
	if req.MaxTokens > 0 {
		wire.MaxTokens = &req.MaxTokens
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	c.logger.Debug("sending chat request", "model", model, "messages", len(req.Messages))

	respBody, err := c.postJSON(ctx, c.chatURL(), body)
	if err != nil {
		return nil, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return &Response{
		Content:      parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		Usage:        parsed.Usage,
		FinishReason: parsed.Choices[0].FinishReason,
	}, nil
}

type embedRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed returns the embedding vector for text using the configured
// embedding model.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, NewFatalError(fmt.Errorf("embedding input is empty"))
	}
	if c.cfg.EmbedModel == "" {
		return nil, NewFatalError(fmt.Errorf("no embedding model configured"))
	}

	body, err := json.Marshal(embedRequest{
		Model:      c.cfg.EmbedModel,
		Input:      text,
		Dimensions: c.cfg.EmbedDims,
	})
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	respBody, err := c.postJSON(ctx, c.embedURL(), body)
	if err != nil {
		return nil, err
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse embeddings response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("no embedding in response")
	}

	raw := parsed.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (c *Client) chatURL() string {
	if strings.HasSuffix(c.cfg.BaseURL, "/chat/completions") {
		return c.cfg.BaseURL
	}
	return c.cfg.BaseURL + "/chat/completions"
}

func (c *Client) embedURL() string {
	if strings.HasSuffix(c.cfg.BaseURL, "/embeddings") {
		return c.cfg.BaseURL
	}
	return c.cfg.BaseURL + "/embeddings"
}

// postJSON executes the request with retry on transient failures.
func (c *Client) postJSON(ctx context.Context, url string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		respBody, err := c.doRequest(ctx, url, body)
		if err == nil {
			return respBody, nil
		}
		lastErr = err

		if IsFatal(err) {
			return nil, err
		}
		if attempt < c.retry.MaxAttempts {
			wait := c.retry.backoff(attempt)
			c.logger.Debug("provider request failed, retrying",
				"attempt", attempt,
				"max_attempts", c.retry.MaxAttempts,
				"backoff", wait,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return nil, lastErr
}

// doRequest executes a single HTTP request against the provider.
func (c *Client) doRequest(ctx context.Context, url string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKeyEnv != "" {
		if key := os.Getenv(c.cfg.APIKeyEnv); key != "" {
			httpReq.Header.Set("Authorization", "Bearer "+key)
		}
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are transient.
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}
	return respBody, nil
}

// classifyHTTPError decides whether a provider error status is worth
// retrying.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > maxErrorBody {
		bodyStr = bodyStr[:maxErrorBody] + "..."
	}

	err := fmt.Errorf("LLM API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden,
		statusCode == http.StatusBadRequest:
		return NewFatalError(err)
	default:
		return NewFatalError(err)
	}
}
