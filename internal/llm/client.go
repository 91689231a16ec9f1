// Package llm is a thin text-generation client for OpenAI-compatible chat
// completion endpoints. The default endpoint is Gemini's compatibility layer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultModel   = "gemini-2.0-flash"
	DefaultTimeout = 15 * time.Second
)

var (
	ErrNotConfigured = errors.New("llm: api key not configured")
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client sends a single prompt and returns the model's text reply. Requests
// are never retried.
type Client struct {
	client  openai.Client
	apiKey  string
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
	)

	return &Client{
		client:  client,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Generate sends prompt with temperature 0 and returns the first choice.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       c.model,
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", fmt.Errorf("llm request: %s", redactSecrets(err.Error(), c.apiKey))
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}

	c.logger.Debug("llm response received",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"chars", len(text),
	)
	return text, nil
}

var (
	bearerTokenRE = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]+\b`)
	authHeaderRE  = regexp.MustCompile(`(?i)(authorization\s*[:=]\s*)([^\n\r,;]+)`)
	apiKeyFieldRE = regexp.MustCompile(`(?i)((?:api[_-]?key|key)\s*[:=]\s*)([^\n\r,;&]+)`)
)

// redactSecrets strips credentials from error text before it is logged.
func redactSecrets(s, apiKey string) string {
	if s == "" {
		return s
	}
	out := s
	if apiKey != "" {
		out = strings.ReplaceAll(out, apiKey, "[REDACTED]")
	}
	out = bearerTokenRE.ReplaceAllString(out, "Bearer [REDACTED]")
	out = authHeaderRE.ReplaceAllString(out, "${1}[REDACTED]")
	out = apiKeyFieldRE.ReplaceAllString(out, "${1}[REDACTED]")
	return out
}
