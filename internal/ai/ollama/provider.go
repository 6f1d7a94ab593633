// Package ollama builds a chat model served by a local Ollama daemon.
package ollama

import (
	"fmt"

	"github.com/kiranshivaraju/findoc/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

const Name = "ollama"

func NewModel(cfg config.OllamaConfig) (llms.Model, error) {
	llm, err := ollama.New(
		ollama.WithModel(cfg.Model),
		ollama.WithServerURL(cfg.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	return llm, nil
}
