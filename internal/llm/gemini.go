package llm

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/charmbracelet/log"
	"google.golang.org/genai"
)

// GeminiHandler implements ApiHandler using the official Google GenAI SDK.
type GeminiHandler struct {
	options ApiHandlerOptions
	client  *genai.Client
}

// NewGeminiHandler creates a Gemini handler. The client is built lazily on
// first use because construction needs a context.
func NewGeminiHandler(options ApiHandlerOptions) *GeminiHandler {
	return &GeminiHandler{options: options}
}

// CreateMessage sends the conversation to Gemini and streams the reply.
func (h *GeminiHandler) CreateMessage(ctx context.Context, systemPrompt string, messages []Message) (ApiStream, error) {
	if h.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  h.options.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		h.client = client
	}

	contents, err := geminiContents(messages)
	if err != nil {
		return nil, err
	}

	maxTokens := h.options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	}
	if systemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}

	iter := h.client.Models.GenerateContentStream(ctx, h.options.ModelID, contents, config)
	out := make(chan ApiStreamChunk, 100)

	go func() {
		defer close(out)

		for result, err := range iter {
			if err != nil {
				log.Error("gemini stream failed", "model", h.options.ModelID, "error", err)
				out <- ApiStreamErrorChunk{Err: err}
				return
			}
			if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
				continue
			}
			candidate := result.Candidates[0]
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					out <- ApiStreamTextChunk{Text: part.Text}
				}
			}
			if candidate.FinishReason != "" {
				out <- ApiStreamFinishChunk{Reason: string(candidate.FinishReason)}
			}
		}
	}()

	return out, nil
}

// geminiContents converts provider-neutral messages to SDK contents.
func geminiContents(messages []Message) ([]*genai.Content, error) {
	var contents []*genai.Content
	for _, msg := range messages {
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		parts := []*genai.Part{{Text: msg.Content}}
		for _, img := range msg.Images {
			// Blob.Data wants raw bytes; the SDK base64-encodes on marshal.
			raw, err := base64.StdEncoding.DecodeString(img.Data)
			if err != nil {
				return nil, fmt.Errorf("invalid base64 image data: %w", err)
			}
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{MIMEType: img.MimeType, Data: raw},
			})
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents, nil
}
