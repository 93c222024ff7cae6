package chat

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/chatsync/internal/message"
)

// ResumeCoordinator guarantees at most one resume attempt per conversation
// for the lifetime of an engine instance. The attempted map is never
// persisted; a fresh engine may legitimately resume again.
type ResumeCoordinator struct {
	mu        sync.Mutex
	attempted map[string]bool
	logger    *log.Logger
}

// NewResumeCoordinator creates an empty coordinator.
func NewResumeCoordinator(logger *log.Logger) *ResumeCoordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &ResumeCoordinator{
		attempted: make(map[string]bool),
		logger:    logger,
	}
}

// Observe inspects an authoritative snapshot and fires the resume action
// exactly once per conversation when the stream looks interrupted: the last
// message is user-authored with no assistant reply after it, or the snapshot
// carries the explicit streaming hint. On failure the attempt flag is
// cleared so a later snapshot can retrigger; on success it stays set for the
// life of the coordinator. Returns whether a resume was attempted.
func (c *ResumeCoordinator) Observe(ctx context.Context, snap message.Snapshot, resume func(context.Context) error) bool {
	if !snap.Loaded || snap.ConversationID == "" {
		return false
	}
	if !needsResume(snap) {
		return false
	}

	c.mu.Lock()
	if c.attempted[snap.ConversationID] {
		c.mu.Unlock()
		return false
	}
	c.attempted[snap.ConversationID] = true
	c.mu.Unlock()

	c.logger.Info("resuming interrupted conversation", "conversation", snap.ConversationID)
	if err := resume(ctx); err != nil {
		c.mu.Lock()
		delete(c.attempted, snap.ConversationID)
		c.mu.Unlock()
		c.logger.Warn("resume failed", "conversation", snap.ConversationID, "error", err)
		return true
	}
	return true
}

// Attempted reports whether a resume has been tried for a conversation.
func (c *ResumeCoordinator) Attempted(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempted[conversationID]
}

// needsResume reports whether a snapshot shows an interrupted generation.
func needsResume(snap message.Snapshot) bool {
	if snap.IsStreaming {
		return true
	}
	if len(snap.Messages) == 0 {
		return false
	}

	last := snap.Messages[len(snap.Messages)-1]
	return last.Role == message.RoleUser
}
