// Package chat implements the synchronization engine that keeps a client's
// view of a conversation consistent with its authoritative backend: merged
// optimistic/authoritative message state, streaming detection, dual-mode
// send strategies and interrupted-stream resume.
package chat

import (
	"context"

	"github.com/entrepeneur4lyf/chatsync/internal/message"
)

// Kind identifies which strategy variant is active.
type Kind string

const (
	KindPersisted Kind = "persisted"
	KindEphemeral Kind = "ephemeral"
	KindUnusable  Kind = "unusable"
)

// SendRequest carries one user turn into a strategy.
type SendRequest struct {
	Content     string
	Attachments []message.Attachment
}

// Strategy is the operation set shared by persisted and ephemeral chats.
// Implementations are not responsible for optimistic UI state; the engine
// owns that and calls these as the authoritative write path.
type Strategy interface {
	Kind() Kind

	SendMessage(ctx context.Context, req SendRequest) error
	EditMessage(ctx context.Context, id, newContent string) error
	RetryUserMessage(ctx context.Context, id string) error
	RetryAssistantMessage(ctx context.Context, id string) error
	DeleteMessage(ctx context.Context, id string) error
	StopGeneration(ctx context.Context) error

	// SaveConversation persists the chat and returns the conversation id.
	// Only meaningful for ephemeral chats; persisted chats return their
	// existing id.
	SaveConversation(ctx context.Context, title string) (string, error)

	// Resume restarts an interrupted generation.
	Resume(ctx context.Context) error
}

// selectStrategy applies the selection rule: an existing conversation id
// always wins; otherwise a fully described model enables ephemeral mode;
// otherwise the chat is unusable and every operation fails.
func (e *Engine) selectStrategy() Strategy {
	if e.conversationID != "" {
		return newPersistedStrategy(e)
	}
	if e.model != nil && e.model.IsComplete() {
		return newEphemeralStrategy(e, *e.model)
	}
	return unusableStrategy{}
}

// unusableStrategy is the explicit third variant: no conversation and no
// usable model. Every operation fails the same way instead of leaving
// behavior ambiguous.
type unusableStrategy struct{}

func (unusableStrategy) Kind() Kind { return KindUnusable }

func (unusableStrategy) SendMessage(context.Context, SendRequest) error {
	return ErrModelNotSelected
}

func (unusableStrategy) EditMessage(context.Context, string, string) error {
	return ErrModelNotSelected
}

func (unusableStrategy) RetryUserMessage(context.Context, string) error {
	return ErrModelNotSelected
}

func (unusableStrategy) RetryAssistantMessage(context.Context, string) error {
	return ErrModelNotSelected
}

func (unusableStrategy) DeleteMessage(context.Context, string) error {
	return ErrModelNotSelected
}

func (unusableStrategy) StopGeneration(context.Context) error {
	return ErrModelNotSelected
}

func (unusableStrategy) SaveConversation(context.Context, string) (string, error) {
	return "", ErrModelNotSelected
}

func (unusableStrategy) Resume(context.Context) error {
	return ErrModelNotSelected
}
