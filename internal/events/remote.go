package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/entrepeneur4lyf/chatsync/internal/message"
)

// RemoteSource connects to a snapshot feed over WebSocket and republishes
// decoded frames on a local broker, so the engine consumes remote and local
// sources through the same subscription primitive.
type RemoteSource struct {
	url    string
	broker *SnapshotBroker
	dialer *websocket.Dialer
	logger *log.Logger
}

// snapshotFrame is the wire shape of one pushed update.
type snapshotFrame struct {
	ConversationID string            `json:"conversationId"`
	Messages       []message.Message `json:"messages"`
	IsStreaming    bool              `json:"isStreaming"`
}

// NewRemoteSource creates a remote snapshot source feeding the given broker.
func NewRemoteSource(url string, broker *SnapshotBroker, logger *log.Logger) *RemoteSource {
	if logger == nil {
		logger = log.Default()
	}
	return &RemoteSource{
		url:    url,
		broker: broker,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

// Run connects and pumps frames until ctx is cancelled, reconnecting with
// backoff on connection loss.
func (r *RemoteSource) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
		if err != nil {
			r.logger.Warn("snapshot source dial failed", "url", r.url, "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = time.Second
		r.pump(ctx, conn)
	}
}

// pump reads frames until the connection drops or ctx is cancelled.
func (r *RemoteSource) pump(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Warn("snapshot source connection lost", "error", err)
			}
			return
		}

		var frame snapshotFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			r.logger.Error("malformed snapshot frame", "error", err)
			continue
		}

		r.broker.Publish(SnapshotUpdated, frame.ConversationID, message.Snapshot{
			ConversationID: frame.ConversationID,
			Messages:       frame.Messages,
			IsStreaming:    frame.IsStreaming,
			Loaded:         true,
		})
	}
}
