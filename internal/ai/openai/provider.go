// Package openai builds a chat model backed by the OpenAI API.
package openai

import (
	"fmt"

	"github.com/kiranshivaraju/findoc/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const Name = "openai"

// NewModel returns an OpenAI chat model. BaseURL points the client at an OpenAI-compatible endpoint.
func NewModel(cfg config.OpenAIConfig) (llms.Model, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	return llm, nil
}
