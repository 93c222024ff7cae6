package llm

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	openrouter "github.com/revrost/go-openrouter"
)

// OpenRouterHandler implements ApiHandler using the OpenRouter Go SDK, which
// routes a single model id namespace across many upstream providers.
type OpenRouterHandler struct {
	options ApiHandlerOptions
	client  *openrouter.Client
}

// NewOpenRouterHandler creates an OpenRouter handler.
func NewOpenRouterHandler(options ApiHandlerOptions) *OpenRouterHandler {
	return &OpenRouterHandler{
		options: options,
		client:  openrouter.NewClient(options.APIKey),
	}
}

// CreateMessage sends the conversation to OpenRouter and streams the reply.
func (h *OpenRouterHandler) CreateMessage(ctx context.Context, systemPrompt string, messages []Message) (ApiStream, error) {
	params := make([]openrouter.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		params = append(params, openrouter.ChatCompletionMessage{
			Role:    openrouter.ChatMessageRoleSystem,
			Content: openrouter.Content{Text: systemPrompt},
		})
	}

	for _, msg := range messages {
		params = append(params, openrouter.ChatCompletionMessage{
			Role:    convertRoleToOpenRouter(msg.Role),
			Content: openrouter.Content{Text: msg.Content},
		})
	}

	stream, err := h.client.CreateChatCompletionStream(ctx, openrouter.ChatCompletionRequest{
		Model:    h.options.ModelID,
		Messages: params,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion stream: %w", err)
	}

	out := make(chan ApiStreamChunk, 100)

	go func() {
		defer close(out)
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if err == io.EOF {
					return
				}
				log.Error("openrouter stream failed", "model", h.options.ModelID, "error", err)
				out <- ApiStreamErrorChunk{Err: err}
				return
			}

			if len(response.Choices) == 0 {
				continue
			}
			choice := response.Choices[0]
			if choice.Delta.Content != "" {
				out <- ApiStreamTextChunk{Text: choice.Delta.Content}
			}
			if choice.FinishReason != "" {
				out <- ApiStreamFinishChunk{Reason: string(choice.FinishReason)}
			}
		}
	}()

	return out, nil
}

func convertRoleToOpenRouter(role string) string {
	switch role {
	case "assistant":
		return openrouter.ChatMessageRoleAssistant
	case "system":
		return openrouter.ChatMessageRoleSystem
	default:
		return openrouter.ChatMessageRoleUser
	}
}
