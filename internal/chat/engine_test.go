package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/entrepeneur4lyf/chatsync/internal/backend"
	"github.com/entrepeneur4lyf/chatsync/internal/events"
	"github.com/entrepeneur4lyf/chatsync/internal/generation"
	"github.com/entrepeneur4lyf/chatsync/internal/message"
	"github.com/entrepeneur4lyf/chatsync/internal/models"
)

// fakeService records calls and lets tests fail chosen operations.
type fakeService struct {
	mu    sync.Mutex
	calls []string

	stopErr   error
	resumeErr error
	saved     backend.Conversation
	lastSend  backend.SendParams
}

func (f *fakeService) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeService) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeService) CreateConversation(ctx context.Context, title string) (backend.Conversation, error) {
	f.record("create")
	return backend.Conversation{ID: "created"}, nil
}

func (f *fakeService) SaveConversation(ctx context.Context, title string, msgs []message.Message) (backend.Conversation, error) {
	f.record("save:" + title)
	if f.saved.ID == "" {
		f.saved = backend.Conversation{ID: "saved", Title: title}
	}
	return f.saved, nil
}

func (f *fakeService) GetConversation(ctx context.Context, id string) (backend.Conversation, error) {
	return backend.Conversation{ID: id}, nil
}

func (f *fakeService) ListMessages(ctx context.Context, conversationID string) ([]message.Message, error) {
	return nil, nil
}

func (f *fakeService) SendFollowUp(ctx context.Context, params backend.SendParams) error {
	f.mu.Lock()
	f.lastSend = params
	f.mu.Unlock()
	f.record("send:" + params.Content)
	return nil
}

func (f *fakeService) LastSend() backend.SendParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSend
}

func (f *fakeService) EditMessage(ctx context.Context, conversationID, messageID, newContent string) error {
	f.record("edit:" + messageID)
	return nil
}

func (f *fakeService) RetryFromMessage(ctx context.Context, conversationID, messageID string, target backend.RetryTarget) error {
	f.record("retry:" + messageID + ":" + string(target))
	return nil
}

func (f *fakeService) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	f.record("deleteMessage:" + messageID)
	return nil
}

func (f *fakeService) DeleteConversation(ctx context.Context, conversationID string) error {
	f.record("deleteConversation:" + conversationID)
	return nil
}

func (f *fakeService) StopGeneration(ctx context.Context, conversationID string) error {
	f.record("stop")
	return f.stopErr
}

func (f *fakeService) ResumeConversation(ctx context.Context, conversationID string) error {
	f.record("resume:" + conversationID)
	return f.resumeErr
}

type fakeNavigator struct {
	svc *fakeService
}

func (n *fakeNavigator) NavigateAway(conversationID string) {
	n.svc.record("navigate:" + conversationID)
}

type fakeCreds struct {
	key string
	err error
}

func (c fakeCreds) GetDecryptedKey(ctx context.Context, provider models.ProviderID, modelID string) (string, error) {
	return c.key, c.err
}

func doneMessage(role message.Role, content string) message.Message {
	msg := message.New(role, content)
	if role == message.RoleAssistant {
		msg.Metadata.FinishReason = "stop"
		msg.Metadata.Status = message.StatusDone
	}
	return msg
}

func snapshotEvent(conversationID string, msgs ...message.Message) events.SnapshotEvent {
	return events.SnapshotEvent{
		Type:           events.SnapshotUpdated,
		ConversationID: conversationID,
		Payload: message.Snapshot{
			ConversationID: conversationID,
			Messages:       msgs,
			Loaded:         true,
		},
	}
}

func TestStrategySelection(t *testing.T) {
	svc := &fakeService{}
	complete := models.Model{ID: "m", Provider: models.ProviderAnthropic, ContextWindow: 1000, Modalities: []models.Modality{models.ModalityText}}

	t.Run("conversation_id_wins", func(t *testing.T) {
		e := NewEngine(Config{ConversationID: "c1", Model: &complete, Service: svc, Credentials: fakeCreds{}})
		require.Equal(t, KindPersisted, e.Kind())
	})

	t.Run("complete_model_enables_ephemeral", func(t *testing.T) {
		e := NewEngine(Config{Model: &complete, Service: svc, Credentials: fakeCreds{}})
		require.Equal(t, KindEphemeral, e.Kind())
	})

	t.Run("neither_is_unusable", func(t *testing.T) {
		e := NewEngine(Config{Service: svc, Credentials: fakeCreds{}})
		require.Equal(t, KindUnusable, e.Kind())

		err := e.SendMessage(context.Background(), "hi", nil)
		require.ErrorIs(t, err, ErrModelNotSelected)
		_, err = e.SaveConversation(context.Background(), "t")
		require.ErrorIs(t, err, ErrModelNotSelected)
	})

	t.Run("incomplete_model_is_unusable", func(t *testing.T) {
		partial := models.Model{ID: "m"}
		e := NewEngine(Config{Model: &partial, Service: svc, Credentials: fakeCreds{}})
		require.Equal(t, KindUnusable, e.Kind())
	})

	t.Run("send_uses_latest_model", func(t *testing.T) {
		svc := &fakeService{}
		e := NewEngine(Config{ConversationID: "c1", Model: &complete, Service: svc, Credentials: fakeCreds{}})

		swapped := complete
		swapped.ID = "m2"
		e.SetModel(&swapped)

		require.NoError(t, e.SendMessage(context.Background(), "hi", nil))
		require.Equal(t, "m2", svc.LastSend().ModelID)
	})

	t.Run("empty_send_fails_validation", func(t *testing.T) {
		svc := &fakeService{}
		e := NewEngine(Config{ConversationID: "c1", Model: &complete, Service: svc, Credentials: fakeCreds{}})

		err := e.SendMessage(context.Background(), "", nil)
		require.ErrorIs(t, err, ErrEmptyMessage)
		require.Empty(t, svc.Calls())
	})
}

func TestPersistedDeleteLastVisible(t *testing.T) {
	ctx := context.Background()

	t.Run("only_visible_message_deletes_conversation", func(t *testing.T) {
		svc := &fakeService{}
		e := NewEngine(Config{
			ConversationID: "c1",
			Service:        svc,
			Navigator:      &fakeNavigator{svc: svc},
		})

		user := doneMessage(message.RoleUser, "only one")
		system := doneMessage(message.RoleSystem, "prompt")
		empty := message.New(message.RoleAssistant, "")
		e.handleSnapshot(ctx, snapshotEvent("c1", system, user, empty))

		require.NoError(t, e.DeleteMessage(ctx, user.ID))
		require.Equal(t, []string{"navigate:c1", "deleteConversation:c1"}, svc.Calls())
	})

	t.Run("one_of_two_deletes_message_only", func(t *testing.T) {
		svc := &fakeService{}
		e := NewEngine(Config{
			ConversationID: "c1",
			Service:        svc,
			Navigator:      &fakeNavigator{svc: svc},
		})

		first := doneMessage(message.RoleUser, "first")
		second := doneMessage(message.RoleAssistant, "second")
		e.handleSnapshot(ctx, snapshotEvent("c1", first, second))

		require.NoError(t, e.DeleteMessage(ctx, first.ID))
		require.Equal(t, []string{"deleteMessage:" + first.ID}, svc.Calls())
	})
}

func TestStopGenerationRollback(t *testing.T) {
	svc := &fakeService{stopErr: errors.New("backend refused")}
	errs := make(chan error, 1)
	e := NewEngine(Config{
		ConversationID: "c1",
		Service:        svc,
		OnError:        func(err error) { errs <- err },
	})

	e.sm.SendMessage("m1")
	e.sm.StartStreaming("m1")

	e.StopGeneration(context.Background())
	require.Equal(t, generation.StatusStopped, e.sm.Snapshot().Status, "optimistic flip is synchronous")

	select {
	case err := <-errs:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stop rejection")
	}
	require.Equal(t, generation.StatusStreaming, e.sm.Snapshot().Status, "flip rolled back")

	t.Run("success_keeps_flip", func(t *testing.T) {
		svc := &fakeService{}
		e := NewEngine(Config{ConversationID: "c1", Service: svc})
		e.sm.SendMessage("m1")
		e.sm.StartStreaming("m1")

		e.StopGeneration(context.Background())
		require.Eventually(t, func() bool {
			return len(svc.Calls()) == 1
		}, time.Second, 10*time.Millisecond)
		require.Equal(t, generation.StatusStopped, e.sm.Snapshot().Status)
	})
}

func TestEngineSnapshotConsumption(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := events.NewSnapshotBroker()
	defer broker.Shutdown()

	svc := &fakeService{}
	e := NewEngine(Config{ConversationID: "c1", Service: svc, Broker: broker})
	require.True(t, e.IsLoadingMessages(), "loading until first snapshot")

	e.Start(ctx)
	defer e.Stop()

	user := doneMessage(message.RoleUser, "hello")
	reply := doneMessage(message.RoleAssistant, "hi there")
	broker.Publish(events.SnapshotUpdated, "c1", message.Snapshot{
		ConversationID: "c1",
		Messages:       []message.Message{user, reply},
		Loaded:         true,
	})

	require.Eventually(t, func() bool {
		return !e.IsLoadingMessages() && len(e.Messages()) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestEngineOptimisticMessages(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{}
	e := NewEngine(Config{ConversationID: "c1", Service: svc})

	e.handleSnapshot(ctx, snapshotEvent("c1"))

	optimistic := message.New(message.RoleUser, "optimistic")
	e.AddOptimisticMessage(optimistic)
	require.Len(t, e.Messages(), 1)

	// The authoritative copy arrives with a different id but the same
	// signature; the optimistic entry retires instead of duplicating.
	confirmed := doneMessage(message.RoleUser, "optimistic")
	e.handleSnapshot(ctx, snapshotEvent("c1", confirmed))

	msgs := e.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, confirmed.ID, msgs[0].ID)

	e.AddOptimisticMessage(message.New(message.RoleUser, "unconfirmed"))
	require.Len(t, e.Messages(), 2)
	e.ClearOptimisticMessages()
	msgs = e.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, confirmed.ID, msgs[0].ID)
}

func TestEphemeralLocalOperations(t *testing.T) {
	ctx := context.Background()
	complete := models.Model{ID: "m", Provider: models.ProviderAnthropic, ContextWindow: 1000, Modalities: []models.Modality{models.ModalityText}}

	newEphemeral := func(svc *fakeService) *Engine {
		return NewEngine(Config{Model: &complete, Service: svc, Credentials: fakeCreds{}})
	}

	t.Run("send_without_credential_fails", func(t *testing.T) {
		e := newEphemeral(&fakeService{})
		err := e.SendMessage(ctx, "hi", nil)
		require.ErrorIs(t, err, ErrNoCredential)
	})

	t.Run("edit_assistant_turn_in_place", func(t *testing.T) {
		e := newEphemeral(&fakeService{})
		user := doneMessage(message.RoleUser, "q")
		reply := doneMessage(message.RoleAssistant, "a")
		e.appendLocal(user)
		e.appendLocal(reply)

		require.NoError(t, e.EditMessage(ctx, reply.ID, "amended"))
		msgs := e.Messages()
		require.Len(t, msgs, 2)
		require.Equal(t, "amended", msgs[1].Content)
	})

	t.Run("delete_local_message", func(t *testing.T) {
		e := newEphemeral(&fakeService{})
		user := doneMessage(message.RoleUser, "q")
		e.appendLocal(user)

		require.NoError(t, e.DeleteMessage(ctx, user.ID))
		require.Empty(t, e.Messages())

		var unknown *UnknownMessageError
		require.ErrorAs(t, e.DeleteMessage(ctx, user.ID), &unknown)
	})

	t.Run("save_promotes_to_persisted", func(t *testing.T) {
		svc := &fakeService{}
		e := newEphemeral(svc)
		e.appendLocal(doneMessage(message.RoleUser, "keep this thread"))
		e.appendLocal(doneMessage(message.RoleAssistant, "sure"))

		id, err := e.SaveConversation(ctx, "")
		require.NoError(t, err)
		require.Equal(t, "saved", id)
		require.Equal(t, "saved", e.ConversationID())
		require.Equal(t, KindPersisted, e.Kind())
		require.Empty(t, e.localHistory(), "local state cleared on success")

		// No credential, so the title degrades to a content preview.
		require.Equal(t, []string{"save:keep this thread"}, svc.Calls())
	})
}

func TestTitlePreview(t *testing.T) {
	require.Equal(t, "short", titlePreview("short"))

	long := "this prompt is long enough that the preview has to cut it off somewhere"
	preview := titlePreview(long)
	require.LessOrEqual(t, len(preview), 53)
	require.Contains(t, preview, "...")
}
