package llm

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIHandler implements ApiHandler using the official OpenAI Go SDK.
type OpenAIHandler struct {
	options ApiHandlerOptions
	client  *openai.Client
}

// NewOpenAIHandler creates an OpenAI handler.
func NewOpenAIHandler(options ApiHandlerOptions) *OpenAIHandler {
	opts := []option.RequestOption{option.WithAPIKey(options.APIKey)}
	if options.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(options.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIHandler{options: options, client: &client}
}

// CreateMessage sends the conversation to OpenAI and streams the reply.
func (h *OpenAIHandler) CreateMessage(ctx context.Context, systemPrompt string, messages []Message) (ApiStream, error) {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if systemPrompt != "" {
		params = append(params, openai.SystemMessage(systemPrompt))
	}

	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			params = append(params, openai.AssistantMessage(msg.Content))
		case "system":
			params = append(params, openai.SystemMessage(msg.Content))
		default:
			params = append(params, openai.UserMessage(msg.Content))
		}
	}

	stream := h.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Messages: params,
		Model:    openai.ChatModel(h.options.ModelID),
	})

	out := make(chan ApiStreamChunk, 100)

	go func() {
		defer close(out)

		for stream.Next() {
			evt := stream.Current()
			if len(evt.Choices) == 0 {
				continue
			}
			choice := evt.Choices[0]
			if choice.Delta.Content != "" {
				out <- ApiStreamTextChunk{Text: choice.Delta.Content}
			}
			if choice.FinishReason != "" {
				out <- ApiStreamFinishChunk{Reason: string(choice.FinishReason)}
			}
		}

		if err := stream.Err(); err != nil {
			log.Error("openai stream failed", "model", h.options.ModelID, "error", err)
			out <- ApiStreamErrorChunk{Err: err}
		}
	}()

	return out, nil
}

// CompletePrompt runs a short non-streaming completion, used for title
// summarization.
func (h *OpenAIHandler) CompletePrompt(ctx context.Context, prompt string) (string, error) {
	resp, err := h.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Model:    openai.ChatModel(h.options.ModelID),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
