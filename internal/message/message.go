package message

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleContext   Role = "context"
)

// Status tracks the write lifecycle of a message.
type Status string

const (
	StatusPending Status = "pending"
	StatusError   Status = "error"
	StatusDone    Status = "done"
)

// AttachmentType classifies attachment content.
type AttachmentType string

const (
	AttachmentText  AttachmentType = "text"
	AttachmentImage AttachmentType = "image"
	AttachmentPDF   AttachmentType = "pdf"
)

// Attachment is a file attached to a message. Exactly one content
// representation is meaningful at a time: inline Content (base64 or text,
// qualified by MimeType) or a durable StorageID. Once StorageID is set,
// inline content must not reach the write path again.
type Attachment struct {
	Type     AttachmentType `json:"type"`
	Name     string         `json:"name"`
	Size     int64          `json:"size"`
	MimeType string         `json:"mimeType,omitempty"`
	Content  string         `json:"content,omitempty"`
	// ExtractedText carries PDF text extracted before upload so it survives
	// the switch to a durable reference.
	ExtractedText string `json:"extractedText,omitempty"`
	StorageID     string `json:"storageId,omitempty"`
}

// IsDurable reports whether the attachment is backed by durable storage.
func (a Attachment) IsDurable() bool {
	return a.StorageID != ""
}

// StripInline returns a copy with inline content dropped. Used by the
// persisted write path for attachments that already carry a durable
// reference.
func (a Attachment) StripInline() Attachment {
	if a.IsDurable() {
		a.Content = ""
	}
	return a
}

// Metadata holds generation bookkeeping for a message.
type Metadata struct {
	FinishReason string `json:"finishReason,omitempty"`
	Stopped      bool   `json:"stopped,omitempty"`
	InputTokens  int    `json:"inputTokens,omitempty"`
	OutputTokens int    `json:"outputTokens,omitempty"`
	Status       Status `json:"status,omitempty"`
}

// Message is a single conversation message. Within a conversation, messages
// are ordered by CreatedAt; ties break by insertion order.
type Message struct {
	ID           string       `json:"id"`
	Role         Role         `json:"role"`
	Content      string       `json:"content"`
	Reasoning    string       `json:"reasoning,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	Citations    []string     `json:"citations,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	ParentID     string       `json:"parentId,omitempty"`
	IsMainBranch bool         `json:"isMainBranch"`
	Metadata     Metadata     `json:"metadata"`
}

// New creates a message with a generated id and the current timestamp.
func New(role Role, content string) Message {
	return Message{
		ID:           uuid.New().String(),
		Role:         role,
		Content:      content,
		CreatedAt:    time.Now(),
		IsMainBranch: true,
	}
}

// IsStreaming reports whether the message is an assistant message still
// being generated: no finish reason and not explicitly stopped.
func (m Message) IsStreaming() bool {
	return m.Role == RoleAssistant && m.Metadata.FinishReason == "" && !m.Metadata.Stopped
}

// IsVisible reports whether the message counts toward the visible message
// list: system messages are excluded, as are assistant messages that carry
// neither content nor reasoning.
func (m Message) IsVisible() bool {
	if m.Role == RoleSystem {
		return false
	}
	if m.Role == RoleAssistant && m.Content == "" && m.Reasoning == "" {
		return false
	}
	return true
}

// Signature returns the content-based identity used to retire optimistic
// messages once the authoritative copy arrives. It is intentionally
// content-based rather than id-based: the authoritative id is unknown until
// the write confirms.
func (m Message) Signature() string {
	return string(m.Role) + ":" + m.Content
}

// Snapshot is one observation of a conversation's authoritative message
// list. Loaded distinguishes "not yet loaded" from "loaded and empty".
type Snapshot struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
	// IsStreaming is the server-observed hint that a generation is in
	// flight for this conversation.
	IsStreaming bool `json:"isStreaming"`
	Loaded      bool `json:"loaded"`
}
