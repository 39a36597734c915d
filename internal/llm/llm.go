// Package llm is the provider-agnostic boundary to the language model used
// as the extraction fallback.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/config"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
)

// Provider names accepted in LLM_PROVIDER.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderNone   = "none"
)

// Request is a single bounded completion.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completer returns the model's raw text reply to a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// New builds the completer selected by cfg.LLMProvider. It returns nil
// without error when the fallback is disabled.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (Completer, error) {
	switch strings.ToLower(cfg.LLMProvider) {
	case "", ProviderNone:
		return nil, nil
	case ProviderOpenAI:
		return NewOpenAI(OpenAIConfig{
			BaseURL: cfg.LLMBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.LLMModel,
		}, logger)
	case ProviderGemini:
		return NewGemini(ctx, cfg.GeminiAPIKey, cfg.LLMModel, logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}

// StripFences removes a Markdown code fence around a JSON reply.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
