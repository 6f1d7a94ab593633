package ai

import (
	"fmt"

	"github.com/kiranshivaraju/findoc/internal/ai/mock"
	"github.com/kiranshivaraju/findoc/internal/ai/ollama"
	"github.com/kiranshivaraju/findoc/internal/ai/openai"
	"github.com/kiranshivaraju/findoc/internal/config"
	"github.com/tmc/langchaingo/llms"
)

// NewModel constructs the chat model for the configured provider.
// Called once at worker startup.
func NewModel(cfg config.AIConfig) (llms.Model, error) {
	switch cfg.Provider {
	case openai.Name:
		return openai.NewModel(cfg.OpenAI)
	case ollama.Name:
		return ollama.NewModel(cfg.Ollama)
	case mock.Name:
		return mock.NewModel(), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of openai, ollama, mock", cfg.Provider)
	}
}
