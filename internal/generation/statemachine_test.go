package generation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateMachineHappyPath(t *testing.T) {
	sm := New(nil)

	sm.SendMessage("m1")
	require.Equal(t, StatusSending, sm.Snapshot().Status)
	require.True(t, sm.IsGenerating())

	sm.StartStreaming("m1")
	require.True(t, sm.IsStreaming())

	sm.AddStreamChunk("Hello")
	sm.AddStreamChunk(" World")

	state := sm.Snapshot()
	require.Equal(t, "Hello World", state.StreamContent)
	require.Equal(t, "m1", state.CurrentMessageID)

	sm.StopGeneration()
	require.True(t, sm.IsStopped())
	require.Equal(t, "m1", sm.Snapshot().CurrentMessageID)

	sm.Reset()
	state = sm.Snapshot()
	require.Equal(t, StatusIdle, state.Status)
	require.Empty(t, state.CurrentMessageID)
	require.Empty(t, state.StreamContent)
}

func TestStateMachineTransitions(t *testing.T) {
	t.Run("send_while_active_is_noop", func(t *testing.T) {
		sm := New(nil)
		sm.SendMessage("m1")
		sm.SendMessage("m2")
		require.Equal(t, "m1", sm.Snapshot().CurrentMessageID)
	})

	t.Run("chunks_outside_streaming_ignored", func(t *testing.T) {
		sm := New(nil)
		sm.AddStreamChunk("dropped")
		sm.SendMessage("m1")
		sm.AddStreamChunk("dropped too")
		require.Empty(t, sm.Snapshot().StreamContent)
	})

	t.Run("stop_is_idempotent", func(t *testing.T) {
		sm := New(nil)
		sm.SendMessage("m1")
		sm.StartStreaming("m1")
		sm.StopGeneration()
		sm.StopGeneration()
		require.True(t, sm.IsStopped())
	})

	t.Run("stop_from_idle_is_noop", func(t *testing.T) {
		sm := New(nil)
		sm.StopGeneration()
		require.Equal(t, StatusIdle, sm.Snapshot().Status)
	})

	t.Run("finish_completes_stream", func(t *testing.T) {
		sm := New(nil)
		sm.SendMessage("m1")
		sm.StartStreaming("m1")
		sm.AddStreamChunk("done")
		sm.Finish()
		require.Equal(t, StatusComplete, sm.Snapshot().Status)
		require.False(t, sm.IsGenerating())
	})

	t.Run("set_error", func(t *testing.T) {
		sm := New(nil)
		sm.SendMessage("m1")
		boom := errors.New("backend rejected write")
		sm.SetError(boom, false)

		state := sm.Snapshot()
		require.True(t, sm.HasError())
		require.Equal(t, boom, state.Err)
		require.False(t, state.CanRetry)
	})

	t.Run("reset_after_error_allows_new_cycle", func(t *testing.T) {
		sm := New(nil)
		sm.SendMessage("m1")
		sm.SetError(errors.New("x"), true)
		sm.Reset()
		sm.SendMessage("m2")
		require.Equal(t, "m2", sm.Snapshot().CurrentMessageID)
	})
}
