package backend

import (
	"errors"
	"fmt"
)

// ErrConversationNotFound is returned when a write targets a conversation
// that does not exist (or was deleted out from under the caller).
var ErrConversationNotFound = errors.New("conversation not found")

// MessageLimitError is returned when the monthly message quota is exhausted.
// Limit carries the numeric quota so callers can render it.
type MessageLimitError struct {
	Limit int
}

func (e *MessageLimitError) Error() string {
	return fmt.Sprintf("message limit of %d reached", e.Limit)
}

// WriteError wraps a backend rejection with the operation that failed.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
