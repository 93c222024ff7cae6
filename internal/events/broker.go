// Package events provides the push-based subscription primitive the engine
// consumes: a typed publish-subscribe broker delivering conversation
// snapshot and notification events over buffered channels.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const defaultBufferSize = 64

// EventType identifies the kind of event.
type EventType string

const (
	// Conversation events
	SnapshotUpdated     EventType = "conversation.snapshot.updated"
	ConversationCreated EventType = "conversation.created"
	ConversationDeleted EventType = "conversation.deleted"

	// Notification events
	NotificationInfo    EventType = "notification.info"
	NotificationSuccess EventType = "notification.success"
	NotificationError   EventType = "notification.error"
)

// Event is one published occurrence carrying a typed payload.
type Event[T any] struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	Payload        T         `json:"payload"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Filter decides whether a subscriber receives an event.
type Filter[T any] func(Event[T]) bool

// ForConversation filters events to a single conversation id.
func ForConversation[T any](conversationID string) Filter[T] {
	return func(e Event[T]) bool {
		return e.ConversationID == conversationID
	}
}

// ForType filters events to a single event type.
func ForType[T any](t EventType) Filter[T] {
	return func(e Event[T]) bool {
		return e.Type == t
	}
}

// ForAnyType filters events to a set of event types.
func ForAnyType[T any](types ...EventType) Filter[T] {
	return func(e Event[T]) bool {
		for _, t := range types {
			if e.Type == t {
				return true
			}
		}
		return false
	}
}

// Broker is a typed publish-subscribe broker. Publish never blocks: slow
// subscribers drop events rather than stalling the publisher.
type Broker[T any] struct {
	mu         sync.RWMutex
	subs       map[chan Event[T]][]Filter[T]
	done       chan struct{}
	bufferSize int
}

// NewBroker creates a broker with the default channel buffer size.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		subs:       make(map[chan Event[T]][]Filter[T]),
		done:       make(chan struct{}),
		bufferSize: defaultBufferSize,
	}
}

// Publish delivers an event to all matching subscribers.
func (b *Broker[T]) Publish(eventType EventType, conversationID string, payload T) {
	select {
	case <-b.done:
		return
	default:
	}

	event := Event[T]{
		ID:             uuid.New().String(),
		Type:           eventType,
		Payload:        payload,
		ConversationID: conversationID,
		Timestamp:      time.Now(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, filters := range b.subs {
		if !matches(event, filters) {
			continue
		}
		select {
		case ch <- event:
		default:
			log.Warn("event channel full, dropping event", "type", eventType, "conversation", conversationID)
		}
	}
}

// Subscribe creates a subscription with optional filters. The channel is
// closed when ctx is cancelled or the broker shuts down.
func (b *Broker[T]) Subscribe(ctx context.Context, filters ...Filter[T]) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event[T], b.bufferSize)
	b.subs[ch] = filters

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		b.unsubscribe(ch)
	}()

	return ch
}

func (b *Broker[T]) unsubscribe(ch chan Event[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subs[ch]; exists {
		delete(b.subs, ch)
		close(ch)
	}
}

// Shutdown closes all subscriber channels and stops further publishes.
func (b *Broker[T]) Shutdown() {
	select {
	case <-b.done:
		return
	default:
		close(b.done)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

func matches[T any](event Event[T], filters []Filter[T]) bool {
	for _, f := range filters {
		if !f(event) {
			return false
		}
	}
	return true
}
