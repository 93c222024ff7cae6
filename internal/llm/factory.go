package llm

import (
	"fmt"

	"github.com/entrepeneur4lyf/chatsync/internal/models"
)

// BuildHandler constructs the provider handler for the given model
// descriptor and decrypted API key, wrapped with transient-failure retry.
func BuildHandler(model models.Model, apiKey string) (ApiHandler, error) {
	options := ApiHandlerOptions{
		APIKey:    apiKey,
		ModelID:   model.ID,
		MaxTokens: model.MaxTokens,
	}

	var handler ApiHandler
	switch model.Provider {
	case models.ProviderAnthropic:
		handler = NewAnthropicHandler(options)
	case models.ProviderOpenAI:
		handler = NewOpenAIHandler(options)
	case models.ProviderOpenRouter:
		handler = NewOpenRouterHandler(options)
	case models.ProviderGemini:
		handler = NewGeminiHandler(options)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", model.Provider)
	}
	return WrapWithRetry(handler, DefaultRetryConfig()), nil
}
