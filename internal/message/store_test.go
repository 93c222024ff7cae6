package message

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func msgAt(role Role, content string, at time.Time) Message {
	m := New(role, content)
	m.CreatedAt = at
	return m
}

func TestStoreMerge(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("not_loaded_returns_pending_only", func(t *testing.T) {
		s := NewStore(0)
		second := msgAt(RoleUser, "second", base.Add(2*time.Second))
		first := msgAt(RoleUser, "first", base.Add(time.Second))
		s.AddOptimistic(second)
		s.AddOptimistic(first)

		merged := s.Merge(nil, false)
		require.Len(t, merged, 2)
		require.Equal(t, "first", merged[0].Content)
		require.Equal(t, "second", merged[1].Content)
	})

	t.Run("pending_retired_by_signature", func(t *testing.T) {
		s := NewStore(0)
		optimistic := msgAt(RoleUser, "hello", base)
		s.AddOptimistic(optimistic)

		// Authoritative copy has a different id but the same signature.
		confirmed := msgAt(RoleUser, "hello", base)
		merged := s.Merge([]Message{confirmed}, true)

		require.Len(t, merged, 1, "no duplicate, no loss of the authoritative copy")
		require.Equal(t, confirmed.ID, merged[0].ID)
		require.Equal(t, 0, s.PendingCount(), "pending entry retired")
	})

	t.Run("unconfirmed_pending_survives", func(t *testing.T) {
		s := NewStore(0)
		older := msgAt(RoleAssistant, "reply", base)
		s.AddOptimistic(msgAt(RoleUser, "unconfirmed", base.Add(time.Second)))

		merged := s.Merge([]Message{older}, true)
		require.Len(t, merged, 2)
		require.Equal(t, "reply", merged[0].Content)
		require.Equal(t, "unconfirmed", merged[1].Content)
	})

	t.Run("merge_is_idempotent", func(t *testing.T) {
		s := NewStore(0)
		auth := []Message{
			msgAt(RoleUser, "a", base),
			msgAt(RoleAssistant, "b", base.Add(time.Second)),
		}
		s.AddOptimistic(msgAt(RoleUser, "c", base.Add(2*time.Second)))

		first := s.Merge(auth, true)
		second := s.Merge(auth, true)
		require.Equal(t, first, second)
	})

	t.Run("stable_on_created_at_ties", func(t *testing.T) {
		s := NewStore(0)
		a := msgAt(RoleUser, "tie-a", base)
		b := msgAt(RoleAssistant, "tie-b", base)
		merged := s.Merge([]Message{a, b}, true)
		require.Equal(t, "tie-a", merged[0].Content)
		require.Equal(t, "tie-b", merged[1].Content)
	})

	t.Run("clear_optimistic_empties_pending", func(t *testing.T) {
		s := NewStore(0)
		s.AddOptimistic(New(RoleUser, "stale"))
		s.ClearOptimistic()
		require.Equal(t, 0, s.PendingCount())
		require.Empty(t, s.Merge(nil, false))
	})

	t.Run("pending_map_is_bounded", func(t *testing.T) {
		s := NewStore(4)
		for i := 0; i < 10; i++ {
			s.AddOptimistic(msgAt(RoleUser, fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second)))
		}
		require.Equal(t, 4, s.PendingCount())

		merged := s.Merge(nil, false)
		require.Equal(t, "m6", merged[0].Content, "oldest entries evicted first")
		require.Equal(t, "m9", merged[3].Content)
	})
}

func TestStreamingDetection(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	finished := msgAt(RoleAssistant, "done", base)
	finished.Metadata.FinishReason = "stop"

	stopped := msgAt(RoleAssistant, "halted", base.Add(time.Second))
	stopped.Metadata.Stopped = true

	active := msgAt(RoleAssistant, "partial", base.Add(2*time.Second))

	t.Run("find_streaming_message", func(t *testing.T) {
		require.Nil(t, FindStreamingMessage([]Message{finished, stopped}))

		got := FindStreamingMessage([]Message{finished, stopped, active})
		require.NotNil(t, got)
		require.Equal(t, active.ID, got.ID)
	})

	t.Run("user_messages_never_stream", func(t *testing.T) {
		user := msgAt(RoleUser, "question", base)
		require.False(t, user.IsStreaming())
		require.Nil(t, FindStreamingMessage([]Message{user}))
	})

	t.Run("is_message_streaming_two_tier", func(t *testing.T) {
		list := []Message{finished, active}
		require.True(t, IsMessageStreaming(list, active.ID, true))
		require.False(t, IsMessageStreaming(list, active.ID, false), "gated on isGenerating")
		require.False(t, IsMessageStreaming(list, finished.ID, true), "finish reason set")
	})

	t.Run("false_once_finish_reason_arrives", func(t *testing.T) {
		done := active
		done.Metadata.FinishReason = "stop"
		require.False(t, IsMessageStreaming([]Message{finished, done}, done.ID, true))
	})
}
