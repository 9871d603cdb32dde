package llmservice

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"knowledge-rag/internal/config"
)

// Generator turns a prompt into an answer.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Client struct {
	llm         llms.Model
	temperature float64
}

// New returns nil when no provider is configured, so answering stays optional.
func New(cfg *config.LLMConfig) (*Client, error) {
	if cfg.Provider == "" || cfg.Model == "" {
		return nil, nil
	}
	log.Debug().Str("provider", cfg.Provider).Str("model", cfg.Model).Str("base_url", cfg.BaseURL).Msg("Creating LLM client")
	httpClient := &http.Client{Timeout: cfg.Timeout}

	var (
		llm llms.Model
		err error
	)
	switch cfg.Provider {
	case "ollama":
		llm, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
			ollama.WithHTTPClient(httpClient),
		)
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
			openai.WithHTTPClient(httpClient),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s llm: %w", cfg.Provider, err)
	}
	return NewWithModel(llm), nil
}

func NewWithModel(llm llms.Model) *Client {
	return &Client{llm: llm, temperature: 0.2}
}

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	log.Debug().Int("prompt_chars", len(prompt)).Msg("Generating content")
	out, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, llms.WithTemperature(c.temperature))
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return out, nil
}
