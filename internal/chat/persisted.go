package chat

import (
	"context"

	"github.com/entrepeneur4lyf/chatsync/internal/backend"
	"github.com/entrepeneur4lyf/chatsync/internal/message"
)

// persistedStrategy forwards every operation to the conversation service.
// The merged message list stays authoritative through snapshot pushes; the
// strategy never mutates local state itself.
type persistedStrategy struct {
	engine *Engine
}

func newPersistedStrategy(e *Engine) *persistedStrategy {
	return &persistedStrategy{engine: e}
}

func (s *persistedStrategy) Kind() Kind { return KindPersisted }

func (s *persistedStrategy) SendMessage(ctx context.Context, req SendRequest) error {
	e := s.engine

	params := backend.SendParams{
		ConversationID: e.ConversationID(),
		Content:        req.Content,
		Attachments:    req.Attachments,
	}
	if model := e.currentModel(); model != nil {
		params.ModelID = model.ID
		params.Provider = model.Provider
	}
	return e.svc.SendFollowUp(ctx, params)
}

func (s *persistedStrategy) EditMessage(ctx context.Context, id, newContent string) error {
	return s.engine.svc.EditMessage(ctx, s.engine.ConversationID(), id, newContent)
}

func (s *persistedStrategy) RetryUserMessage(ctx context.Context, id string) error {
	return s.engine.svc.RetryFromMessage(ctx, s.engine.ConversationID(), id, backend.RetryUser)
}

func (s *persistedStrategy) RetryAssistantMessage(ctx context.Context, id string) error {
	return s.engine.svc.RetryFromMessage(ctx, s.engine.ConversationID(), id, backend.RetryAssistant)
}

// DeleteMessage removes one message, except when the target is the last
// visible message: then the whole conversation goes, and the UI is navigated
// away first so the user never sees a "conversation not found" flash.
func (s *persistedStrategy) DeleteMessage(ctx context.Context, id string) error {
	e := s.engine
	conversationID := e.ConversationID()

	if s.isLastVisible(id) {
		if e.nav != nil {
			e.nav.NavigateAway(conversationID)
		}
		return e.svc.DeleteConversation(ctx, conversationID)
	}
	return e.svc.DeleteMessage(ctx, conversationID, id)
}

// isLastVisible reports whether id is the only visible message left.
func (s *persistedStrategy) isLastVisible(id string) bool {
	var visible []message.Message
	for _, msg := range s.engine.Messages() {
		if msg.IsVisible() {
			visible = append(visible, msg)
		}
	}
	return len(visible) == 1 && visible[0].ID == id
}

func (s *persistedStrategy) StopGeneration(ctx context.Context) error {
	return s.engine.svc.StopGeneration(ctx, s.engine.ConversationID())
}

func (s *persistedStrategy) SaveConversation(ctx context.Context, title string) (string, error) {
	// Already persisted; saving again is a no-op.
	return s.engine.ConversationID(), nil
}

func (s *persistedStrategy) Resume(ctx context.Context) error {
	return s.engine.svc.ResumeConversation(ctx, s.engine.ConversationID())
}
