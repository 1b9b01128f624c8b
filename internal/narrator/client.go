package narrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrNarrator is returned when the narrator service cannot be reached or
// produces no usable completion. It is distinct from ErrSchemaViolation: the
// call itself failed, not the reply's shape.
var ErrNarrator = errors.New("narrator service error")

const (
	defaultMaxRetries = 3
	retryBaseDelay    = time.Second
)

// ChatCompleter is the narrow surface the bridge needs from a chat-completion
// backend. Tests substitute a stub.
type ChatCompleter interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ClientConfig configures the OpenAI-compatible narrator backend.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
}

// Client calls an OpenAI-compatible chat endpoint with bounded retries.
type Client struct {
	api    *openai.Client
	cfg    ClientConfig
	logger *zap.Logger
}

// NewClient builds the narrator client.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:    openai.NewClientWithConfig(apiCfg),
		cfg:    cfg,
		logger: logger,
	}
}

// Complete sends the prompt pair and returns the raw completion text.
// Transient failures are retried with linear backoff; the caller's context
// bounds the whole exchange.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}

	var lastErr error
	for attempt := 0; attempt < defaultMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrNarrator, ctx.Err())
			case <-time.After(retryBaseDelay * time.Duration(attempt)):
			}
		}

		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = err
			c.logger.Warn("narrator completion failed",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			if !isRetryable(err) {
				break
			}
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("no choices returned")
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("%w: %v", ErrNarrator, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "503")
}
