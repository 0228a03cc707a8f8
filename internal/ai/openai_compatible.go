package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// ChatCompleter is the slice of the OpenAI API the model clients need.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type ClientConfig struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// OpenAICompatibleClient talks to any endpoint that speaks the OpenAI chat
// completions API. Calls share one limiter so extraction and scoring cannot
// together exceed the upstream quota.
type OpenAICompatibleClient struct {
	inner   ChatCompleter
	limiter *rate.Limiter
}

func NewOpenAICompatibleClient(cfg ClientConfig) *OpenAICompatibleClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" {
		oc.BaseURL = base
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}

	return newClient(openai.NewClientWithConfig(oc), cfg.RequestsPerSecond, cfg.Burst)
}

func newClient(inner ChatCompleter, rps float64, burst int) *OpenAICompatibleClient {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &OpenAICompatibleClient{
		inner:   inner,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (c *OpenAICompatibleClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("wait for llm rate limit failed: %w", err)
	}
	resp, err := c.inner.CreateChatCompletion(ctx, req)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("llm request failed: %w", err)
	}
	return resp, nil
}

func firstContent(resp openai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty llm choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty llm content")
	}
	return content, nil
}
