package events

import (
	"context"

	"github.com/entrepeneur4lyf/chatsync/internal/message"
)

// SnapshotEvent is a broker event carrying a conversation snapshot.
type SnapshotEvent = Event[message.Snapshot]

// SnapshotBroker is the subscription source the engine consumes:
// authoritative message snapshots pushed per conversation.
type SnapshotBroker = Broker[message.Snapshot]

// NewSnapshotBroker creates a broker for conversation snapshots.
func NewSnapshotBroker() *SnapshotBroker {
	return NewBroker[message.Snapshot]()
}

// SubscribeConversation subscribes to snapshot updates and the deletion
// event for one conversation. An empty conversation id has "skip" semantics:
// the returned channel never yields and closes with ctx.
func SubscribeConversation(ctx context.Context, b *SnapshotBroker, conversationID string) <-chan SnapshotEvent {
	if conversationID == "" {
		ch := make(chan SnapshotEvent)
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch
	}
	return b.Subscribe(ctx,
		ForAnyType[message.Snapshot](SnapshotUpdated, ConversationDeleted),
		ForConversation[message.Snapshot](conversationID),
	)
}
