package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/entrepeneur4lyf/chatsync/internal/events"
	"github.com/entrepeneur4lyf/chatsync/internal/message"
)

// Responder produces an assistant reply for a message history. The memory
// service calls it without holding its lock.
type Responder func(ctx context.Context, history []message.Message) (string, error)

// MemoryService is a mutex-guarded in-memory ConversationService. It backs
// the ephemeral save path and engine tests, and pushes an authoritative
// snapshot on the broker after every mutation.
type MemoryService struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[string][]message.Message

	broker  *events.SnapshotBroker
	logger  *log.Logger
	respond Responder

	limit int
	sent  int
}

// NewMemoryService creates an empty in-memory service. broker may be nil
// when no one subscribes.
func NewMemoryService(broker *events.SnapshotBroker, logger *log.Logger) *MemoryService {
	if logger == nil {
		logger = log.Default()
	}
	return &MemoryService{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]message.Message),
		broker:        broker,
		logger:        logger,
	}
}

// SetResponder installs the assistant reply generator used by send, edit,
// retry and resume.
func (s *MemoryService) SetResponder(r Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respond = r
}

// SetMessageLimit enables the monthly quota. Zero disables it.
func (s *MemoryService) SetMessageLimit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = n
}

func (s *MemoryService) CreateConversation(ctx context.Context, title string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	conv := &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[conv.ID] = conv
	s.messages[conv.ID] = []message.Message{}
	return *conv, nil
}

func (s *MemoryService) SaveConversation(ctx context.Context, title string, msgs []message.Message) (Conversation, error) {
	s.mu.Lock()

	now := time.Now()
	conv := &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	copied := make([]message.Message, len(msgs))
	copy(copied, msgs)
	sort.SliceStable(copied, func(i, j int) bool {
		return copied[i].CreatedAt.Before(copied[j].CreatedAt)
	})

	s.conversations[conv.ID] = conv
	s.messages[conv.ID] = copied
	out := *conv
	s.mu.Unlock()

	s.publish(conv.ID)
	return out, nil
}

func (s *MemoryService) GetConversation(ctx context.Context, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	return *conv, nil
}

func (s *MemoryService) ListMessages(ctx context.Context, conversationID string) ([]message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, ok := s.messages[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	out := make([]message.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryService) SendFollowUp(ctx context.Context, params SendParams) error {
	s.mu.Lock()
	conv, ok := s.conversations[params.ConversationID]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	if s.limit > 0 && s.sent >= s.limit {
		limit := s.limit
		s.mu.Unlock()
		return &MessageLimitError{Limit: limit}
	}
	s.sent++

	msg := message.New(message.RoleUser, params.Content)
	msg.Attachments = params.Attachments
	s.messages[conv.ID] = append(s.messages[conv.ID], msg)
	conv.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.publish(conv.ID)
	return s.generateReply(ctx, conv.ID)
}

func (s *MemoryService) EditMessage(ctx context.Context, conversationID, messageID, newContent string) error {
	s.mu.Lock()
	msgs, ok := s.messages[conversationID]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}

	idx := indexOf(msgs, messageID)
	if idx < 0 {
		s.mu.Unlock()
		return &WriteError{Op: "edit message", Err: fmt.Errorf("message %s not found", messageID)}
	}

	// Editing invalidates everything after the edited turn.
	msgs[idx].Content = newContent
	s.messages[conversationID] = msgs[:idx+1]
	s.touch(conversationID)
	regenerate := msgs[idx].Role == message.RoleUser
	s.mu.Unlock()

	s.publish(conversationID)
	if regenerate {
		return s.generateReply(ctx, conversationID)
	}
	return nil
}

func (s *MemoryService) RetryFromMessage(ctx context.Context, conversationID, messageID string, target RetryTarget) error {
	s.mu.Lock()
	msgs, ok := s.messages[conversationID]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}

	idx := indexOf(msgs, messageID)
	if idx < 0 {
		s.mu.Unlock()
		return &WriteError{Op: "retry from message", Err: fmt.Errorf("message %s not found", messageID)}
	}

	// A user retry keeps the user turn and regenerates after it; an
	// assistant retry discards the assistant turn itself.
	cut := idx + 1
	if target == RetryAssistant {
		cut = idx
	}
	s.messages[conversationID] = msgs[:cut]
	s.touch(conversationID)
	s.mu.Unlock()

	s.publish(conversationID)
	return s.generateReply(ctx, conversationID)
}

func (s *MemoryService) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	s.mu.Lock()
	msgs, ok := s.messages[conversationID]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}

	idx := indexOf(msgs, messageID)
	if idx < 0 {
		s.mu.Unlock()
		return &WriteError{Op: "delete message", Err: fmt.Errorf("message %s not found", messageID)}
	}
	s.messages[conversationID] = append(msgs[:idx], msgs[idx+1:]...)
	s.touch(conversationID)
	s.mu.Unlock()

	s.publish(conversationID)
	return nil
}

func (s *MemoryService) DeleteConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if _, ok := s.conversations[conversationID]; !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	delete(s.conversations, conversationID)
	delete(s.messages, conversationID)
	s.mu.Unlock()

	if s.broker != nil {
		s.broker.Publish(events.ConversationDeleted, conversationID, message.Snapshot{
			ConversationID: conversationID,
			Loaded:         true,
		})
	}
	return nil
}

func (s *MemoryService) StopGeneration(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	conv.IsStreaming = false

	// Mark the trailing assistant message stopped so streaming detection
	// stands down on the next snapshot.
	msgs := s.messages[conversationID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == message.RoleAssistant {
			if msgs[i].Metadata.FinishReason == "" {
				msgs[i].Metadata.Stopped = true
			}
			break
		}
	}
	s.mu.Unlock()

	s.publish(conversationID)
	return nil
}

// ResumeConversation regenerates the assistant reply when the conversation
// ended on a user turn. A conversation with nothing to resume is a no-op.
func (s *MemoryService) ResumeConversation(ctx context.Context, conversationID string) error {
	s.mu.RLock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.RUnlock()
		return ErrConversationNotFound
	}
	msgs := s.messages[conversationID]
	needsReply := conv.IsStreaming
	if !needsReply && len(msgs) > 0 {
		needsReply = msgs[len(msgs)-1].Role == message.RoleUser
	}
	s.mu.RUnlock()

	if !needsReply {
		return nil
	}
	return s.generateReply(ctx, conversationID)
}

// generateReply invokes the responder against a copy of the history and
// appends the assistant turn. The lock is not held across the call.
func (s *MemoryService) generateReply(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	respond := s.respond
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	if respond == nil {
		s.mu.Unlock()
		return nil
	}
	history := make([]message.Message, len(s.messages[conversationID]))
	copy(history, s.messages[conversationID])
	conv.IsStreaming = true
	s.mu.Unlock()

	s.publish(conversationID)
	content, err := respond(ctx, history)

	s.mu.Lock()
	if conv, ok := s.conversations[conversationID]; ok {
		conv.IsStreaming = false
	}
	if err != nil {
		s.mu.Unlock()
		s.publish(conversationID)
		s.logger.Error("reply generation failed", "conversation", conversationID, "error", err)
		return &WriteError{Op: "generate reply", Err: err}
	}

	reply := message.New(message.RoleAssistant, content)
	reply.Metadata.FinishReason = "stop"
	reply.Metadata.Status = message.StatusDone
	s.messages[conversationID] = append(s.messages[conversationID], reply)
	s.mu.Unlock()

	s.publish(conversationID)
	return nil
}

// touch updates the conversation timestamp. Callers hold the lock.
func (s *MemoryService) touch(conversationID string) {
	if conv, ok := s.conversations[conversationID]; ok {
		conv.UpdatedAt = time.Now()
	}
}

// publish pushes the current authoritative snapshot for a conversation.
func (s *MemoryService) publish(conversationID string) {
	if s.broker == nil {
		return
	}

	s.mu.RLock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.RUnlock()
		return
	}
	msgs := make([]message.Message, len(s.messages[conversationID]))
	copy(msgs, s.messages[conversationID])
	streaming := conv.IsStreaming
	s.mu.RUnlock()

	s.broker.Publish(events.SnapshotUpdated, conversationID, message.Snapshot{
		ConversationID: conversationID,
		Messages:       msgs,
		IsStreaming:    streaming,
		Loaded:         true,
	})
}

func indexOf(msgs []message.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}
