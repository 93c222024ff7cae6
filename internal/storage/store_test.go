package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entrepeneur4lyf/chatsync/internal/backend"
	"github.com/entrepeneur4lyf/chatsync/internal/message"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "chat.db"), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	store.SetResponder(func(ctx context.Context, history []message.Message) (string, error) {
		return "ack", nil
	})
	return store
}

func countRows(t *testing.T, store *Store, table, conversationID string) int {
	t.Helper()
	var n int
	err := store.db.QueryRow(
		`SELECT COUNT(*) FROM `+table+` WHERE conversation_id = ?`, conversationID).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestStoreConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	t.Run("create_and_get", func(t *testing.T) {
		conv, err := store.CreateConversation(ctx, "notes")
		require.NoError(t, err)

		got, err := store.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		require.Equal(t, "notes", got.Title)
		require.False(t, got.IsStreaming)
	})

	t.Run("unknown_conversation", func(t *testing.T) {
		_, err := store.GetConversation(ctx, "missing")
		require.ErrorIs(t, err, backend.ErrConversationNotFound)
	})

	t.Run("delete_cascades", func(t *testing.T) {
		conv, err := store.CreateConversation(ctx, "doomed")
		require.NoError(t, err)
		require.NoError(t, store.SendFollowUp(ctx, backend.SendParams{
			ConversationID: conv.ID,
			Content:        "hi",
			Attachments: []message.Attachment{
				{Type: message.AttachmentText, Name: "note.txt", Content: "inline"},
			},
		}))
		require.Equal(t, 2, countRows(t, store, "messages", conv.ID))

		require.NoError(t, store.DeleteConversation(ctx, conv.ID))
		_, err = store.ListMessages(ctx, conv.ID)
		require.ErrorIs(t, err, backend.ErrConversationNotFound)
		require.ErrorIs(t, store.DeleteConversation(ctx, conv.ID), backend.ErrConversationNotFound)

		// The cascade must remove the rows themselves, not just the
		// conversation lookup.
		require.Zero(t, countRows(t, store, "messages", conv.ID))
		var orphans int
		err = store.db.QueryRow(
			`SELECT COUNT(*) FROM attachments WHERE message_id NOT IN (SELECT id FROM messages)`).Scan(&orphans)
		require.NoError(t, err)
		require.Zero(t, orphans)
	})
}

func TestStoreSendAndHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	conv, err := store.CreateConversation(ctx, "chat")
	require.NoError(t, err)

	require.NoError(t, store.SendFollowUp(ctx, backend.SendParams{
		ConversationID: conv.ID,
		Content:        "first",
		Attachments: []message.Attachment{
			{Type: message.AttachmentPDF, Name: "doc.pdf", MimeType: "application/pdf", Size: 42, StorageID: "up-1", ExtractedText: "contents"},
		},
	}))

	msgs, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, message.RoleUser, msgs[0].Role)
	require.Len(t, msgs[0].Attachments, 1)
	require.Equal(t, "up-1", msgs[0].Attachments[0].StorageID)
	require.Equal(t, "contents", msgs[0].Attachments[0].ExtractedText)
	require.Equal(t, message.RoleAssistant, msgs[1].Role)
	require.Equal(t, "stop", msgs[1].Metadata.FinishReason)
}

func TestStoreEditAndRetry(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, store *Store) (backend.Conversation, []message.Message) {
		t.Helper()
		conv, err := store.CreateConversation(ctx, "chat")
		require.NoError(t, err)
		require.NoError(t, store.SendFollowUp(ctx, backend.SendParams{ConversationID: conv.ID, Content: "first"}))
		require.NoError(t, store.SendFollowUp(ctx, backend.SendParams{ConversationID: conv.ID, Content: "second"}))
		msgs, err := store.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 4)
		return conv, msgs
	}

	t.Run("edit_user_turn_truncates_and_regenerates", func(t *testing.T) {
		store := newTestStore(t)
		conv, msgs := seed(t, store)

		require.NoError(t, store.EditMessage(ctx, conv.ID, msgs[0].ID, "rewritten"))

		after, err := store.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, after, 2)
		require.Equal(t, "rewritten", after[0].Content)
		require.Equal(t, message.RoleAssistant, after[1].Role)
	})

	t.Run("retry_assistant_discards_assistant_turn", func(t *testing.T) {
		store := newTestStore(t)
		conv, msgs := seed(t, store)

		require.NoError(t, store.RetryFromMessage(ctx, conv.ID, msgs[3].ID, backend.RetryAssistant))

		after, err := store.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, after, 4)
		require.NotEqual(t, msgs[3].ID, after[3].ID)
	})

	t.Run("retry_user_keeps_user_turn", func(t *testing.T) {
		store := newTestStore(t)
		conv, msgs := seed(t, store)

		require.NoError(t, store.RetryFromMessage(ctx, conv.ID, msgs[2].ID, backend.RetryUser))

		after, err := store.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, after, 4)
		require.Equal(t, msgs[2].ID, after[2].ID)
	})
}

func TestStoreStopGeneration(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// Seed a dangling assistant message the way an interrupted stream
	// would leave one.
	msgs := []message.Message{
		message.New(message.RoleUser, "hi"),
		message.New(message.RoleAssistant, "partial"),
	}
	saved, err := store.SaveConversation(ctx, "interrupted", msgs)
	require.NoError(t, err)

	require.NoError(t, store.StopGeneration(ctx, saved.ID))

	after, err := store.ListMessages(ctx, saved.ID)
	require.NoError(t, err)
	require.True(t, after[1].Metadata.Stopped)
	require.False(t, after[1].IsStreaming())

	got, err := store.GetConversation(ctx, saved.ID)
	require.NoError(t, err)
	require.False(t, got.IsStreaming)
}

func TestStoreResume(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	saved, err := store.SaveConversation(ctx, "dangling", []message.Message{
		message.New(message.RoleUser, "hello?"),
	})
	require.NoError(t, err)

	require.NoError(t, store.ResumeConversation(ctx, saved.ID))

	msgs, err := store.ListMessages(ctx, saved.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, message.RoleAssistant, msgs[1].Role)

	// Second resume finds nothing dangling.
	require.NoError(t, store.ResumeConversation(ctx, saved.ID))
	msgs, err = store.ListMessages(ctx, saved.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestStoreUpload(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	att := message.Attachment{Type: message.AttachmentImage, Name: "pic.png", MimeType: "image/png", Size: 9, Content: "aW1hZ2U="}
	uploaded, err := store.Upload(ctx, att)
	require.NoError(t, err)
	require.True(t, uploaded.IsDurable())

	content, err := store.FetchUpload(ctx, uploaded.StorageID)
	require.NoError(t, err)
	require.Equal(t, att.Content, content)
}
