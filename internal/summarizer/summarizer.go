// Package summarizer calls an OpenAI-compatible chat completions endpoint
// to condense page text.
package summarizer

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/hpungsan/skim/internal/config"
	"github.com/hpungsan/skim/internal/errors"
)

const (
	// SystemPrompt is the fixed instruction sent with every request.
	SystemPrompt = "You are a helpful assistant that summarizes text concisely and accurately."

	userPromptPrefix = "Please summarize the following text in a clear and concise way:\n\n"

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 4 << 20
)

// Summarizer turns text into a summary using credential for authentication.
type Summarizer interface {
	Summarize(ctx context.Context, credential, text string) (string, error)
}

// Client is the HTTP Summarizer.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	logger      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New builds a Client from cfg.
func New(cfg *config.Config, opts ...Option) *Client {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c := &Client{
		httpClient:  &http.Client{},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.RequestTimeout(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("summarizer")
	return c
}

// Summarize sends one chat completion request. It never retries.
//
// Non-2xx responses fail with EXTERNAL_API_ERROR carrying the upstream
// error.message when present. An empty completion is also an
// EXTERNAL_API_ERROR. Exceeding the configured timeout fails with TIMEOUT.
func (c *Client) Summarize(ctx context.Context, credential, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.NewInvalidRequest("text is required")
	}
	if credential == "" {
		return "", errors.NewCredentialMissing()
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := c.requestBody(text)
	if err != nil {
		return "", errors.NewInternal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", c.transportError(ctx, err)
	}

	c.logger.Debug("completion response",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		if gjson.ValidBytes(respBody) {
			msg = strings.TrimSpace(gjson.GetBytes(respBody, "error.message").String())
		}
		return "", errors.NewExternalAPI(resp.StatusCode, msg)
	}

	content := strings.TrimSpace(gjson.GetBytes(respBody, "choices.0.message.content").String())
	if content == "" {
		return "", errors.NewExternalAPI(resp.StatusCode, "summarization API returned an empty summary")
	}
	return content, nil
}

// requestBody encodes the chat completion request.
func (c *Client) requestBody(text string) ([]byte, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt),
			openai.UserMessage(userPromptPrefix + text),
		},
		MaxTokens:   openai.Int(int64(c.maxTokens)),
		Temperature: openai.Float(c.temperature),
	}
	body, err := params.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return body, nil
}

// transportError maps a failed round trip to TIMEOUT or EXTERNAL_API_ERROR.
func (c *Client) transportError(ctx context.Context, err error) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewTimeout("summarize", err)
	}
	c.logger.Warn("completion request failed", zap.Error(err))
	apiErr := errors.NewExternalAPI(0, "")
	apiErr.Err = err
	return apiErr
}
