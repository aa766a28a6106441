package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"scanasha/internal/logging"
)

// GeminiClient uses the Gemini API through google.golang.org/genai.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, opts Options) (*GeminiClient, error) {
	if opts.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &GeminiClient{
		client:  client,
		model:   opts.Model,
		timeout: opts.Timeout,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Model returns the configured model.
func (c *GeminiClient) Model() string { return c.model }

// CompleteWithSystem sends a system instruction and a user turn.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.generate(ctx, systemPrompt, userPrompt, false)
}

// CompleteJSON requests an application/json response.
func (c *GeminiClient) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.generate(ctx, systemPrompt, userPrompt, true)
}

func (c *GeminiClient) generate(ctx context.Context, systemPrompt, userPrompt string, jsonMode bool) (string, error) {
	ctx, cancel := withDefaultTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	cfg := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if jsonMode {
		cfg.ResponseMIMEType = "application/json"
	}

	start := time.Now()
	logging.LLMDebug("[Gemini] generate: model=%s json=%v", c.model, jsonMode)

	result, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)},
		cfg,
	)
	if err != nil {
		logging.LLMError("[Gemini] generate failed: %v", err)
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", fmt.Errorf("no completion returned")
	}
	logging.LLM("[Gemini] generate: completed in %v response_len=%d", time.Since(start), len(text))
	return text, nil
}
