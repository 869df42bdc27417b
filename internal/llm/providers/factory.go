package providers

import (
	"fmt"
	"net/http"

	"noema/internal/config"
	"noema/internal/llm"
	"noema/internal/llm/anthropic"
	"noema/internal/llm/google"
	"noema/internal/llm/mock"
	openaillm "noema/internal/llm/openai"
)

// Build constructs an llm.Provider based on the configured provider name.
// - openai: uses the OpenAI client (default); also serves self-hosted
//   llama.cpp/mlx_lm servers via OPENAI_BASE_URL
// - anthropic/google: concrete provider clients
// - mock: deterministic provider used by tests and the degraded-path fallback
//
// Real clients are wrapped with bounded retries for transient failures; the
// mock stays bare so tests see every call exactly once.
func Build(cfg config.Config, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.LLMClient.Provider {
	case "", "openai", "local":
		return llm.WithRetries(openaillm.New(cfg.LLMClient.OpenAI, httpClient), 0), nil
	case "anthropic":
		return llm.WithRetries(anthropic.New(cfg.LLMClient.Anthropic, httpClient), 0), nil
	case "google":
		p, err := google.New(cfg.LLMClient.Google, httpClient)
		if err != nil {
			return nil, err
		}
		return llm.WithRetries(p, 0), nil
	case "mock":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLMClient.Provider)
	}
}
