// Package llm provides the chat-completion clients used by the audit engine
// and the intel scraper.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"scanasha/internal/config"
)

// Client is the minimal completion surface the services depend on.
type Client interface {
	// CompleteWithSystem returns the model's text answer.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// CompleteJSON forces a JSON object response.
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// Model returns the model identifier used for requests.
	Model() string
}

// Provider names an LLM backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// ErrNoAPIKey is returned before any network call when no key is configured.
var ErrNoAPIKey = errors.New("API key not configured")

// Options are shared by every provider.
type Options struct {
	APIKey            string
	BaseURL           string
	Model             string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        int
}

// NewClient builds the client selected by cfg.LLM.Provider.
func NewClient(cfg *config.Config) (Client, error) {
	opts := Options{
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		Timeout:           cfg.GetLLMTimeout(),
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		MaxRetries:        cfg.LLM.MaxRetries,
	}

	switch Provider(strings.ToLower(cfg.LLM.Provider)) {
	case ProviderOpenAI, "":
		return NewOpenAIClient(opts), nil
	case ProviderGemini:
		return NewGeminiClient(context.Background(), opts)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.Provider)
	}
}

// withDefaultTimeout applies timeout when ctx carries no deadline.
func withDefaultTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
