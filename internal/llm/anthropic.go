package llm

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/charmbracelet/log"
)

// AnthropicHandler implements ApiHandler using the official Anthropic SDK.
type AnthropicHandler struct {
	options ApiHandlerOptions
	client  *anthropic.Client
}

// NewAnthropicHandler creates an Anthropic handler.
func NewAnthropicHandler(options ApiHandlerOptions) *AnthropicHandler {
	opts := []option.RequestOption{option.WithAPIKey(options.APIKey)}
	if options.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(options.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicHandler{options: options, client: &client}
}

// CreateMessage sends the conversation to Anthropic and streams the reply.
func (h *AnthropicHandler) CreateMessage(ctx context.Context, systemPrompt string, messages []Message) (ApiStream, error) {
	params := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(msg.Images))
		if msg.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
		}
		for _, img := range msg.Images {
			blocks = append(blocks, anthropic.NewImageBlockBase64(img.MimeType, img.Data))
		}
		if len(blocks) == 0 {
			continue
		}

		switch msg.Role {
		case "assistant":
			params = append(params, anthropic.NewAssistantMessage(blocks...))
		default:
			params = append(params, anthropic.NewUserMessage(blocks...))
		}
	}

	maxTokens := h.options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(h.options.ModelID),
		MaxTokens: int64(maxTokens),
		Messages:  params,
	}
	if systemPrompt != "" {
		req.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	stream := h.client.Messages.NewStreaming(ctx, req)
	out := make(chan ApiStreamChunk, 100)

	go func() {
		defer close(out)
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			switch eventVariant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch deltaVariant := eventVariant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					out <- ApiStreamTextChunk{Text: deltaVariant.Text}
				case anthropic.ThinkingDelta:
					out <- ApiStreamReasoningChunk{Reasoning: deltaVariant.Thinking}
				}
			case anthropic.MessageDeltaEvent:
				if eventVariant.Delta.StopReason != "" {
					out <- ApiStreamFinishChunk{Reason: string(eventVariant.Delta.StopReason)}
				}
				out <- ApiStreamUsageChunk{OutputTokens: int(eventVariant.Usage.OutputTokens)}
			case anthropic.MessageStopEvent:
				return
			}
		}

		if err := stream.Err(); err != nil {
			log.Error("anthropic stream failed", "model", h.options.ModelID, "error", err)
			out <- ApiStreamErrorChunk{Err: err}
		}
	}()

	return out, nil
}
