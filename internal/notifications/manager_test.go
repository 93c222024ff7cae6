package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/entrepeneur4lyf/chatsync/internal/events"
)

func TestManagerPublishesOnBroker(t *testing.T) {
	broker := NewBroker()
	defer broker.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := broker.Subscribe(ctx, events.ForType[Notification](events.NotificationError))

	m := NewManager(broker, nil).ForConversation("c1")
	m.Info("loading")
	m.Error("send failed")

	select {
	case ev := <-ch:
		require.Equal(t, events.NotificationError, ev.Type)
		require.Equal(t, "send failed", ev.Payload.Message)
		require.Equal(t, "c1", ev.Payload.ConversationID)
		require.Zero(t, ev.Payload.Duration, "errors never auto-dismiss")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification event")
	}
}

func TestManagerHistoryBounded(t *testing.T) {
	m := NewManager(nil, nil)
	m.max = 3

	for i := 0; i < 5; i++ {
		m.Info("msg")
	}
	require.Len(t, m.Recent(), 3)

	m.Success("done")
	recent := m.Recent()
	require.Equal(t, LevelSuccess, recent[len(recent)-1].Level)
	require.Equal(t, 3*time.Second, recent[len(recent)-1].Duration)
}
