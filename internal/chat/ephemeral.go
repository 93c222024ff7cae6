package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/entrepeneur4lyf/chatsync/internal/llm"
	"github.com/entrepeneur4lyf/chatsync/internal/message"
	"github.com/entrepeneur4lyf/chatsync/internal/models"
)

// ephemeralStrategy runs a chat that exists only in memory: sends call the
// model client directly and stream the assistant reply into the engine's
// local message array. Nothing touches durable storage until
// SaveConversation promotes the whole history in one step.
type ephemeralStrategy struct {
	engine *Engine
	model  models.Model

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newEphemeralStrategy(e *Engine, model models.Model) *ephemeralStrategy {
	return &ephemeralStrategy{engine: e, model: model}
}

func (s *ephemeralStrategy) Kind() Kind { return KindEphemeral }

func (s *ephemeralStrategy) SendMessage(ctx context.Context, req SendRequest) error {
	user := message.New(message.RoleUser, req.Content)
	user.Attachments = req.Attachments
	s.engine.appendLocal(user)
	s.engine.sm.SendMessage(user.ID)

	return s.generate(ctx)
}

func (s *ephemeralStrategy) EditMessage(ctx context.Context, id, newContent string) error {
	e := s.engine

	var role message.Role
	found := e.updateLocal(id, func(m *message.Message) {
		m.Content = newContent
		role = m.Role
	})
	if !found {
		return &UnknownMessageError{ID: id}
	}

	// Editing invalidates everything after the edited turn.
	e.truncateLocalAfter(id, false)
	if role == message.RoleUser {
		e.sm.SendMessage(id)
		return s.generate(ctx)
	}
	return nil
}

func (s *ephemeralStrategy) RetryUserMessage(ctx context.Context, id string) error {
	if !s.engine.truncateLocalAfter(id, false) {
		return &UnknownMessageError{ID: id}
	}
	s.engine.sm.SendMessage(id)
	return s.generate(ctx)
}

func (s *ephemeralStrategy) RetryAssistantMessage(ctx context.Context, id string) error {
	if !s.engine.truncateLocalAfter(id, true) {
		return &UnknownMessageError{ID: id}
	}
	return s.generate(ctx)
}

func (s *ephemeralStrategy) DeleteMessage(ctx context.Context, id string) error {
	if !s.engine.removeLocal(id) {
		return &UnknownMessageError{ID: id}
	}
	return nil
}

// StopGeneration cancels the in-flight stream. The stream loop marks the
// partial assistant message stopped on its way out.
func (s *ephemeralStrategy) StopGeneration(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// SaveConversation promotes the in-memory history into a persisted
// conversation in one step and clears local state on success.
func (s *ephemeralStrategy) SaveConversation(ctx context.Context, title string) (string, error) {
	e := s.engine
	history := e.localHistory()

	if title == "" {
		title = s.titleFor(ctx, history)
	}

	conv, err := e.svc.SaveConversation(ctx, title, history)
	if err != nil {
		return "", err
	}

	e.adoptConversation(conv.ID)
	return conv.ID, nil
}

// Resume regenerates the assistant reply when the local history ends on a
// user turn.
func (s *ephemeralStrategy) Resume(ctx context.Context) error {
	history := s.engine.localHistory()
	if len(history) == 0 || history[len(history)-1].Role != message.RoleUser {
		return nil
	}
	return s.generate(ctx)
}

// generate streams one assistant reply for the current local history.
func (s *ephemeralStrategy) generate(ctx context.Context) error {
	e := s.engine

	handler, err := s.buildHandler(ctx)
	if err != nil {
		e.sm.SetError(err, false)
		return err
	}

	history := e.localHistory()

	assistant := message.New(message.RoleAssistant, "")
	assistant.Metadata.Status = message.StatusPending
	e.appendLocal(assistant)

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	stream, err := handler.CreateMessage(ctx, "", toProviderMessages(history))
	if err != nil {
		e.sm.SetError(err, true)
		e.updateLocal(assistant.ID, func(m *message.Message) {
			m.Metadata.Status = message.StatusError
		})
		return err
	}

	e.sm.StartStreaming(assistant.ID)

	var streamErr error
	for chunk := range stream {
		switch c := chunk.(type) {
		case llm.ApiStreamTextChunk:
			e.sm.AddStreamChunk(c.Text)
			e.updateLocal(assistant.ID, func(m *message.Message) {
				m.Content += c.Text
			})
		case llm.ApiStreamReasoningChunk:
			e.updateLocal(assistant.ID, func(m *message.Message) {
				m.Reasoning += c.Reasoning
			})
		case llm.ApiStreamUsageChunk:
			e.updateLocal(assistant.ID, func(m *message.Message) {
				m.Metadata.InputTokens = c.InputTokens
				m.Metadata.OutputTokens = c.OutputTokens
			})
		case llm.ApiStreamFinishChunk:
			reason := c.Reason
			if reason == "" {
				reason = "stop"
			}
			e.updateLocal(assistant.ID, func(m *message.Message) {
				m.Metadata.FinishReason = reason
			})
		case llm.ApiStreamErrorChunk:
			streamErr = c.Err
		}
	}

	if e.sm.IsStopped() || ctx.Err() != nil {
		e.sm.StopGeneration()
		e.updateLocal(assistant.ID, func(m *message.Message) {
			m.Metadata.Stopped = true
			m.Metadata.Status = message.StatusDone
		})
		return nil
	}
	if streamErr != nil {
		e.sm.SetError(streamErr, true)
		e.updateLocal(assistant.ID, func(m *message.Message) {
			m.Metadata.Status = message.StatusError
		})
		return streamErr
	}

	e.updateLocal(assistant.ID, func(m *message.Message) {
		if m.Metadata.FinishReason == "" {
			m.Metadata.FinishReason = "stop"
		}
		m.Metadata.Status = message.StatusDone
	})
	e.sm.Finish()
	return nil
}

func (s *ephemeralStrategy) buildHandler(ctx context.Context) (llm.ApiHandler, error) {
	key, err := s.engine.creds.GetDecryptedKey(ctx, s.model.Provider, s.model.ID)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, ErrNoCredential
	}
	return llm.BuildHandler(s.model, key)
}

// titleFor produces a conversation title from the first user turn, degrading
// to a content preview when the model call fails.
func (s *ephemeralStrategy) titleFor(ctx context.Context, history []message.Message) string {
	var first string
	for _, msg := range history {
		if msg.Role == message.RoleUser {
			first = msg.Content
			break
		}
	}
	if first == "" {
		return "New Chat"
	}

	if handler, err := s.buildHandler(ctx); err == nil {
		prompt := "Write a title of at most six words for a conversation that starts with:\n\n" + first
		title, err := llm.CompletePrompt(ctx, handler, prompt)
		if err == nil {
			if title = strings.TrimSpace(title); title != "" {
				return title
			}
		}
		s.engine.logger.Debug("title summarization failed, using preview", "error", err)
	}

	return titlePreview(first)
}

func titlePreview(content string) string {
	const max = 50
	content = strings.TrimSpace(content)
	if len(content) <= max {
		return content
	}
	return strings.TrimSpace(content[:max]) + "..."
}

// toProviderMessages converts local history to the provider-neutral shape,
// hoisting inline image attachments into multimodal inputs.
func toProviderMessages(history []message.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, msg := range history {
		if msg.Role == message.RoleContext {
			continue
		}

		m := llm.Message{Role: string(msg.Role), Content: msg.Content}
		for _, att := range msg.Attachments {
			switch att.Type {
			case message.AttachmentImage:
				if mime, data, ok := splitDataURI(att.Content); ok {
					m.Images = append(m.Images, llm.Image{MimeType: mime, Data: data})
				} else if att.Content != "" {
					m.Images = append(m.Images, llm.Image{MimeType: att.MimeType, Data: att.Content})
				}
			case message.AttachmentText:
				if att.Content != "" {
					m.Content += "\n\n" + att.Content
				}
			case message.AttachmentPDF:
				if att.ExtractedText != "" {
					m.Content += "\n\n" + att.ExtractedText
				}
			}
		}
		out = append(out, m)
	}
	return out
}

// splitDataURI unpacks "data:<mime>;base64,<data>".
func splitDataURI(uri string) (mime, data string, ok bool) {
	if !strings.HasPrefix(uri, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(uri, "data:")
	i := strings.Index(rest, ";base64,")
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+len(";base64,"):], true
}
