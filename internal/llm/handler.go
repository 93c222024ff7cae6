// Package llm provides the streaming model client used for ephemeral
// conversations: a small provider-agnostic handler interface with
// implementations for Anthropic, OpenAI, OpenRouter and Gemini.
package llm

import (
	"context"
)

// Message is the provider-neutral message shape handed to a handler.
type Message struct {
	Role    string  `json:"role"` // "user", "assistant", "system"
	Content string  `json:"content"`
	Images  []Image `json:"images,omitempty"`
}

// Image is inline image input for multimodal models.
type Image struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

// ApiHandler is the core interface a provider implements.
type ApiHandler interface {
	// CreateMessage sends the conversation and returns a streaming response.
	// The stream is closed when generation completes; cancellation is driven
	// through ctx.
	CreateMessage(ctx context.Context, systemPrompt string, messages []Message) (ApiStream, error)
}

// SingleCompletionHandler is the non-streaming convenience used for short
// utility calls such as conversation title summarization.
type SingleCompletionHandler interface {
	CompletePrompt(ctx context.Context, prompt string) (string, error)
}

// ApiHandlerOptions configures a provider handler.
type ApiHandlerOptions struct {
	APIKey    string `json:"apiKey"`
	ModelID   string `json:"modelId"`
	MaxTokens int    `json:"maxTokens,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
}

// CompletePrompt collects a full streamed response for handlers that do not
// implement SingleCompletionHandler directly.
func CompletePrompt(ctx context.Context, h ApiHandler, prompt string) (string, error) {
	stream, err := h.CreateMessage(ctx, "", []Message{{Role: "user", Content: prompt}})
	if err != nil {
		return "", err
	}

	var out string
	for {
		select {
		case chunk, ok := <-stream:
			if !ok {
				return out, nil
			}
			switch c := chunk.(type) {
			case ApiStreamTextChunk:
				out += c.Text
			case ApiStreamErrorChunk:
				return out, c.Err
			}
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}
