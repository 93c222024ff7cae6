// Package notifications turns engine-level outcomes into toast
// notifications published on the event broker for UI layers to consume.
package notifications

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/entrepeneur4lyf/chatsync/internal/events"
)

// Level represents the severity level of a notification
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a single toast-level message.
type Notification struct {
	ID             string        `json:"id"`
	Message        string        `json:"message"`
	Level          Level         `json:"level"`
	Duration       time.Duration `json:"duration"`
	ConversationID string        `json:"conversation_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Broker is the pub/sub channel notifications travel on.
type Broker = events.Broker[Notification]

// NewBroker creates a broker for notifications.
func NewBroker() *Broker {
	return events.NewBroker[Notification]()
}

// Manager publishes notifications and keeps a bounded recent history.
// Its Info/Success/Error methods satisfy the engine's Notifier.
type Manager struct {
	mu     sync.Mutex
	recent []Notification
	max    int

	conversationID string
	broker         *Broker
	logger         *log.Logger

	defaultDurations map[Level]time.Duration
}

// NewManager creates a manager publishing on the given broker. broker may be
// nil; notifications are then only logged and retained.
func NewManager(broker *Broker, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		broker: broker,
		logger: logger,
		max:    100,
		defaultDurations: map[Level]time.Duration{
			LevelInfo:    5 * time.Second,
			LevelSuccess: 3 * time.Second,
			LevelError:   0, // Don't auto-dismiss errors
		},
	}
}

// ForConversation returns a manager that tags every notification with a
// conversation id, sharing the parent's broker.
func (m *Manager) ForConversation(conversationID string) *Manager {
	return &Manager{
		broker:           m.broker,
		logger:           m.logger,
		max:              m.max,
		conversationID:   conversationID,
		defaultDurations: m.defaultDurations,
	}
}

// Info publishes an informational toast.
func (m *Manager) Info(msg string) { m.publish(LevelInfo, msg) }

// Success publishes a success toast.
func (m *Manager) Success(msg string) { m.publish(LevelSuccess, msg) }

// Error publishes an error toast. Errors never auto-dismiss.
func (m *Manager) Error(msg string) { m.publish(LevelError, msg) }

func (m *Manager) publish(level Level, msg string) {
	n := Notification{
		ID:             uuid.NewString(),
		Message:        msg,
		Level:          level,
		Duration:       m.defaultDurations[level],
		ConversationID: m.conversationID,
		CreatedAt:      time.Now(),
	}

	m.mu.Lock()
	m.recent = append(m.recent, n)
	if len(m.recent) > m.max {
		m.recent = m.recent[len(m.recent)-m.max:]
	}
	m.mu.Unlock()

	m.logger.Debug("notification", "level", level, "message", msg)

	if m.broker == nil {
		return
	}
	eventType := events.NotificationInfo
	switch level {
	case LevelSuccess:
		eventType = events.NotificationSuccess
	case LevelError:
		eventType = events.NotificationError
	}
	m.broker.Publish(eventType, m.conversationID, n)
}

// Recent returns the retained notification history, newest last.
func (m *Manager) Recent() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.recent))
	copy(out, m.recent)
	return out
}
