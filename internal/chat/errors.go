package chat

import (
	"errors"
	"fmt"
)

// ErrModelNotSelected is returned by every operation on an unusable chat:
// no conversation exists and no fully described model is selected.
var ErrModelNotSelected = errors.New("model not loaded")

// ErrNoCredential is returned when the credential resolver has no decrypted
// key for the selected model's provider.
var ErrNoCredential = errors.New("no API key configured for provider")

// ErrEmptyMessage is returned when a send carries neither content nor any
// accepted attachment. Reported synchronously, before any write.
var ErrEmptyMessage = errors.New("message has no content or attachments")

// UnknownMessageError is returned when an operation targets a message id
// that is not in the current history.
type UnknownMessageError struct {
	ID string
}

func (e *UnknownMessageError) Error() string {
	return fmt.Sprintf("message %s not found", e.ID)
}

// ResumeError wraps a failed resume attempt for a conversation.
type ResumeError struct {
	ConversationID string
	Err            error
}

func (e *ResumeError) Error() string {
	return fmt.Sprintf("resume %s failed: %v", e.ConversationID, e.Err)
}

func (e *ResumeError) Unwrap() error { return e.Err }
