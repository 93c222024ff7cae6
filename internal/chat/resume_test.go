package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entrepeneur4lyf/chatsync/internal/message"
)

func TestResumeCoordinator(t *testing.T) {
	ctx := context.Background()

	danglingSnapshot := func(conversationID string) message.Snapshot {
		return message.Snapshot{
			ConversationID: conversationID,
			Messages:       []message.Message{message.New(message.RoleUser, "hello?")},
			Loaded:         true,
		}
	}

	t.Run("resumes_exactly_once", func(t *testing.T) {
		c := NewResumeCoordinator(nil)
		snap := danglingSnapshot("c1")

		var calls int
		resume := func(ctx context.Context) error {
			calls++
			return nil
		}

		require.True(t, c.Observe(ctx, snap, resume))
		require.False(t, c.Observe(ctx, snap, resume), "second snapshot does not retrigger")
		require.Equal(t, 1, calls)
		require.True(t, c.Attempted("c1"))
	})

	t.Run("failure_clears_flag_for_retrigger", func(t *testing.T) {
		c := NewResumeCoordinator(nil)
		snap := danglingSnapshot("c1")

		var calls int
		require.True(t, c.Observe(ctx, snap, func(ctx context.Context) error {
			calls++
			return errors.New("stream gone")
		}))
		require.False(t, c.Attempted("c1"))

		require.True(t, c.Observe(ctx, snap, func(ctx context.Context) error {
			calls++
			return nil
		}))
		require.Equal(t, 2, calls)
		require.True(t, c.Attempted("c1"))
	})

	t.Run("independent_per_conversation", func(t *testing.T) {
		c := NewResumeCoordinator(nil)
		noop := func(ctx context.Context) error { return nil }

		require.True(t, c.Observe(ctx, danglingSnapshot("c1"), noop))
		require.True(t, c.Observe(ctx, danglingSnapshot("c2"), noop))
	})

	t.Run("streaming_hint_triggers", func(t *testing.T) {
		c := NewResumeCoordinator(nil)
		snap := message.Snapshot{
			ConversationID: "c1",
			Messages: []message.Message{
				message.New(message.RoleUser, "q"),
				message.New(message.RoleAssistant, "partial"),
			},
			IsStreaming: true,
			Loaded:      true,
		}
		require.True(t, c.Observe(ctx, snap, func(ctx context.Context) error { return nil }))
	})

	t.Run("completed_conversation_does_not_trigger", func(t *testing.T) {
		c := NewResumeCoordinator(nil)
		done := message.New(message.RoleAssistant, "answer")
		done.Metadata.FinishReason = "stop"
		snap := message.Snapshot{
			ConversationID: "c1",
			Messages:       []message.Message{message.New(message.RoleUser, "q"), done},
			Loaded:         true,
		}
		require.False(t, c.Observe(ctx, snap, func(ctx context.Context) error { return nil }))
	})

	t.Run("unloaded_snapshot_ignored", func(t *testing.T) {
		c := NewResumeCoordinator(nil)
		snap := danglingSnapshot("c1")
		snap.Loaded = false
		require.False(t, c.Observe(ctx, snap, func(ctx context.Context) error { return nil }))
		require.False(t, c.Attempted("c1"))
	})
}
