// Package backend defines the collaborators the sync engine depends on:
// the conversation write path, credential resolution, navigation, and
// user-facing notifications. Implementations live in this package (in
// memory) and in internal/storage (libsql).
package backend

import (
	"context"
	"time"

	"github.com/entrepeneur4lyf/chatsync/internal/message"
	"github.com/entrepeneur4lyf/chatsync/internal/models"
)

// RetryTarget selects which side of an exchange a retry starts from.
type RetryTarget string

const (
	RetryUser      RetryTarget = "user"
	RetryAssistant RetryTarget = "assistant"
)

// Conversation is the durable container for a message history.
type Conversation struct {
	ID          string
	Title       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	IsStreaming bool
}

// SendParams carries a user turn into the write path.
type SendParams struct {
	ConversationID string
	Content        string
	Attachments    []message.Attachment
	ModelID        string
	Provider       models.ProviderID
}

// ConversationService is the write path behind persisted chats. Every
// method is a single round trip that returns an error on rejection; callers
// own optimistic UI state and rollback.
type ConversationService interface {
	CreateConversation(ctx context.Context, title string) (Conversation, error)
	SaveConversation(ctx context.Context, title string, msgs []message.Message) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]message.Message, error)

	SendFollowUp(ctx context.Context, params SendParams) error
	EditMessage(ctx context.Context, conversationID, messageID, newContent string) error
	RetryFromMessage(ctx context.Context, conversationID, messageID string, target RetryTarget) error
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
	StopGeneration(ctx context.Context, conversationID string) error
	ResumeConversation(ctx context.Context, conversationID string) error
}

// CredentialResolver returns a decrypted API key for a provider, or empty
// when none is configured. Only ephemeral chats consult it.
type CredentialResolver interface {
	GetDecryptedKey(ctx context.Context, provider models.ProviderID, modelID string) (string, error)
}

// Navigator moves the UI off a conversation before it is deleted, so the
// user never sees a "conversation not found" flash.
type Navigator interface {
	NavigateAway(conversationID string)
}

// Notifier surfaces toast-level feedback outside the engine's own state.
type Notifier interface {
	Info(msg string)
	Success(msg string)
	Error(msg string)
}
