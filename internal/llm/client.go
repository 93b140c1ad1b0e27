// Package llm wraps the completion service used by the analysis and
// citation stages.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// Client is the completion interface consumed by pipeline stages.
type Client interface {
	// Complete sends a single system+user exchange and returns the raw
	// model output.
	Complete(ctx context.Context, req Request) (string, error)

	// Name returns the client identifier (e.g., "openai").
	Name() string
}

// Request is one completion call.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// JSONOnly asks the provider for a JSON object response.
	JSONOnly bool
	// Timeout bounds the call; generation is slow, so stages pass
	// generous values (~60s).
	Timeout time.Duration
}

// OpenAIConfig holds settings for the OpenAI-backed client.
type OpenAIConfig struct {
	APIKey     string
	Model      string        // default "gpt-4.1"
	BaseURL    string        // optional (tests)
	Timeout    time.Duration // default request timeout, default 60s
	MaxRetries int           // transient-error retries, default 2
}

// OpenAIClient implements Client using the official SDK.
type OpenAIClient struct {
	client     openai.Client
	model      string
	timeout    time.Duration
	maxRetries int
}

// NewOpenAIClient creates a completion client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// SDK-level retries are disabled; retry policy lives here so auth
		// failures surface immediately.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

// Complete calls the chat completions endpoint. Transient failures are
// retried; unauthorized and bad-request errors are not.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.Prompt),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.JSONOnly {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	var content string
	err := retry.Do(
		func() error {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			completion, err := c.client.Chat.Completions.New(callCtx, params)
			if err != nil {
				return err
			}
			if len(completion.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}
			content = completion.Choices[0].Message.Content
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries)),
		retry.Delay(2*time.Second),
		retry.RetryIf(isRetryable),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", fmt.Errorf("completion service call failed: %w", err)
	}
	return content, nil
}

// isRetryable reports whether a completion error is worth another attempt.
// Auth and request-shape errors never are.
func isRetryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest, http.StatusNotFound:
			return false
		}
		return true
	}
	// Network errors and timeouts are transient.
	return !errors.Is(err, context.Canceled)
}
