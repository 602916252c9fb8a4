package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/docuquery/backend/pkg/circuitbreaker"
	"github.com/docuquery/backend/pkg/retry"
)

const breakerName = "generation"

// ErrRateLimited marks provider 429 responses so the retry policy can
// distinguish them from permanent failures.
var ErrRateLimited = errors.New("llm provider rate limited")

type Request struct {
	Query     string
	Context   string
	MaxTokens int
}

type Response struct {
	Answer     string
	Model      string
	TokensUsed int
}

// Generator produces an answer from a query and retrieved context.
type Generator interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

type Client struct {
	api         *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	breakers    *circuitbreaker.Registry
	policy      retry.Policy
	logger      *zap.Logger
}

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

func NewClient(cfg Config, breakers *circuitbreaker.Registry, logger *zap.Logger) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4TurboPreview
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:         openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		timeout:     cfg.Timeout,
		breakers:    breakers,
		policy: retry.Policy{
			MaxAttempts:     3,
			InitialDelay:    time.Second,
			MaxDelay:        10 * time.Second,
			Multiplier:      2.0,
			RetryableErrors: []error{ErrRateLimited},
			Logger:          logger,
		},
		logger: logger,
	}
}

const systemPrompt = `You are a precise assistant answering questions about uploaded documents.
Answer using only the provided context. If the context does not contain
the answer, say so plainly instead of guessing. Cite the relevant
passages when possible.`

func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(req.Query, req.Context)},
	}

	var resp openai.ChatCompletionResponse
	err := c.breakers.Execute(ctx, breakerName, func() error {
		return retry.Do(ctx, c.policy, func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			var err error
			resp, err = c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
				Model:       c.model,
				Messages:    messages,
				MaxTokens:   maxTokens,
				Temperature: c.temperature,
			})
			return classifyError(err)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.logger.Debug("Generated answer",
		zap.String("model", resp.Model),
		zap.Int("tokens", resp.Usage.TotalTokens),
	)
	return &Response{
		Answer:     answer,
		Model:      resp.Model,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

func buildUserPrompt(query, context string) string {
	var sb strings.Builder
	if context != "" {
		sb.WriteString("Context:\n")
		sb.WriteString(context)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	return sb.String()
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return err
}
