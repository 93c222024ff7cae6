// Package storage implements the durable conversation write path on
// SQLite/libsql, plus the durable attachment uploader.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/entrepeneur4lyf/chatsync/internal/backend"
	"github.com/entrepeneur4lyf/chatsync/internal/events"
	"github.com/entrepeneur4lyf/chatsync/internal/message"
)

// Store implements backend.ConversationService on SQLite/libsql and pushes
// an authoritative snapshot on the broker after every mutation.
type Store struct {
	db      *sql.DB
	broker  *events.SnapshotBroker
	logger  *log.Logger
	respond backend.Responder
}

// NewDefaultStore creates a store using the default user directory.
func NewDefaultStore(broker *events.SnapshotBroker, logger *log.Logger) (*Store, error) {
	dbPath, err := NewPathManager().GetChatDatabasePath()
	if err != nil {
		return nil, fmt.Errorf("failed to get default chat database path: %w", err)
	}
	return NewStore(dbPath, broker, logger)
}

// NewStore creates a store backed by the database at dbPath, creating the
// schema as needed.
func NewStore(dbPath string, broker *events.SnapshotBroker, logger *log.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("libsql", "file:"+dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One pooled connection: SQLite serializes writers anyway, and the
	// foreign_keys pragma below is per-connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// The driver prepares one statement per Exec, so the schema runs
	// statement by statement.
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	if logger == nil {
		logger = log.Default()
	}
	logger.Debug("chat store initialized", "path", dbPath)

	return &Store{db: db, broker: broker, logger: logger}, nil
}

// SetResponder installs the assistant reply generator used by send, edit,
// retry and resume.
func (s *Store) SetResponder(r backend.Responder) {
	s.respond = r
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateConversation(ctx context.Context, title string) (backend.Conversation, error) {
	conv := backend.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	query := `INSERT INTO conversations (id, title, created_at, updated_at, is_streaming)
	          VALUES (?, ?, ?, ?, 0)`
	if _, err := s.db.ExecContext(ctx, query, conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt); err != nil {
		return backend.Conversation{}, &backend.WriteError{Op: "create conversation", Err: err}
	}
	return conv, nil
}

func (s *Store) SaveConversation(ctx context.Context, title string, msgs []message.Message) (backend.Conversation, error) {
	conv := backend.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return backend.Conversation{}, &backend.WriteError{Op: "save conversation", Err: err}
	}
	defer tx.Rollback()

	query := `INSERT INTO conversations (id, title, created_at, updated_at, is_streaming)
	          VALUES (?, ?, ?, ?, 0)`
	if _, err := tx.ExecContext(ctx, query, conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt); err != nil {
		return backend.Conversation{}, &backend.WriteError{Op: "save conversation", Err: err}
	}
	for _, msg := range msgs {
		if err := insertMessage(ctx, tx, conv.ID, msg); err != nil {
			return backend.Conversation{}, &backend.WriteError{Op: "save conversation", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return backend.Conversation{}, &backend.WriteError{Op: "save conversation", Err: err}
	}

	s.publish(ctx, conv.ID)
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (backend.Conversation, error) {
	query := `SELECT id, title, created_at, updated_at, is_streaming
	          FROM conversations WHERE id = ?`

	var conv backend.Conversation
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt, &conv.IsStreaming)
	if err == sql.ErrNoRows {
		return backend.Conversation{}, backend.ErrConversationNotFound
	}
	if err != nil {
		return backend.Conversation{}, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]message.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	query := `SELECT id, role, content, reasoning, parent_id, is_main_branch,
	                 finish_reason, stopped, status, input_tokens, output_tokens, created_at
	          FROM messages WHERE conversation_id = ?
	          ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var msgs []message.Message
	for rows.Next() {
		var msg message.Message
		var parentID, reasoning sql.NullString
		err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &reasoning, &parentID, &msg.IsMainBranch,
			&msg.Metadata.FinishReason, &msg.Metadata.Stopped, &msg.Metadata.Status,
			&msg.Metadata.InputTokens, &msg.Metadata.OutputTokens, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Reasoning = reasoning.String
		msg.ParentID = parentID.String
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	if err := s.attachTo(ctx, conversationID, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// attachTo loads every attachment for a conversation and joins them onto
// the message list in place.
func (s *Store) attachTo(ctx context.Context, conversationID string, msgs []message.Message) error {
	query := `SELECT a.message_id, a.type, a.name, a.mime_type, a.size, a.storage_id, a.extracted_text
	          FROM attachments a
	          JOIN messages m ON a.message_id = m.id
	          WHERE m.conversation_id = ?
	          ORDER BY a.rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return fmt.Errorf("failed to get attachments: %w", err)
	}
	defer rows.Close()

	byMessage := make(map[string][]message.Attachment)
	for rows.Next() {
		var messageID string
		var att message.Attachment
		var extracted sql.NullString
		if err := rows.Scan(&messageID, &att.Type, &att.Name, &att.MimeType, &att.Size, &att.StorageID, &extracted); err != nil {
			return fmt.Errorf("failed to scan attachment: %w", err)
		}
		att.ExtractedText = extracted.String
		byMessage[messageID] = append(byMessage[messageID], att)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read attachments: %w", err)
	}

	for i := range msgs {
		msgs[i].Attachments = byMessage[msgs[i].ID]
	}
	return nil
}

func (s *Store) SendFollowUp(ctx context.Context, params backend.SendParams) error {
	if _, err := s.GetConversation(ctx, params.ConversationID); err != nil {
		return err
	}

	msg := message.New(message.RoleUser, params.Content)
	msg.Attachments = params.Attachments

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &backend.WriteError{Op: "send follow-up", Err: err}
	}
	defer tx.Rollback()

	if err := insertMessage(ctx, tx, params.ConversationID, msg); err != nil {
		return &backend.WriteError{Op: "send follow-up", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &backend.WriteError{Op: "send follow-up", Err: err}
	}

	s.touch(ctx, params.ConversationID)
	s.publish(ctx, params.ConversationID)
	return s.generateReply(ctx, params.ConversationID)
}

func (s *Store) EditMessage(ctx context.Context, conversationID, messageID, newContent string) error {
	role, err := s.messageRole(ctx, conversationID, messageID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &backend.WriteError{Op: "edit message", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET content = ? WHERE id = ?`, newContent, messageID); err != nil {
		return &backend.WriteError{Op: "edit message", Err: err}
	}
	if err := deleteAfter(ctx, tx, conversationID, messageID, false); err != nil {
		return &backend.WriteError{Op: "edit message", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &backend.WriteError{Op: "edit message", Err: err}
	}

	s.touch(ctx, conversationID)
	s.publish(ctx, conversationID)
	if role == string(message.RoleUser) {
		return s.generateReply(ctx, conversationID)
	}
	return nil
}

func (s *Store) RetryFromMessage(ctx context.Context, conversationID, messageID string, target backend.RetryTarget) error {
	if _, err := s.messageRole(ctx, conversationID, messageID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &backend.WriteError{Op: "retry from message", Err: err}
	}
	defer tx.Rollback()

	// A user retry keeps the anchor turn; an assistant retry discards it.
	if err := deleteAfter(ctx, tx, conversationID, messageID, target == backend.RetryAssistant); err != nil {
		return &backend.WriteError{Op: "retry from message", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &backend.WriteError{Op: "retry from message", Err: err}
	}

	s.touch(ctx, conversationID)
	s.publish(ctx, conversationID)
	return s.generateReply(ctx, conversationID)
}

func (s *Store) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id = ? AND conversation_id = ?`, messageID, conversationID)
	if err != nil {
		return &backend.WriteError{Op: "delete message", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &backend.WriteError{Op: "delete message", Err: fmt.Errorf("message %s not found", messageID)}
	}

	s.touch(ctx, conversationID)
	s.publish(ctx, conversationID)
	return nil
}

func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	// CASCADE DELETE handles messages and attachments.
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, conversationID)
	if err != nil {
		return &backend.WriteError{Op: "delete conversation", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return backend.ErrConversationNotFound
	}

	if s.broker != nil {
		s.broker.Publish(events.ConversationDeleted, conversationID, message.Snapshot{
			ConversationID: conversationID,
			Loaded:         true,
		})
	}
	return nil
}

func (s *Store) StopGeneration(ctx context.Context, conversationID string) error {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &backend.WriteError{Op: "stop generation", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET is_streaming = 0 WHERE id = ?`, conversationID); err != nil {
		return &backend.WriteError{Op: "stop generation", Err: err}
	}

	// Mark the trailing assistant message stopped so streaming detection
	// stands down on the next snapshot.
	query := `UPDATE messages SET stopped = 1
	          WHERE id = (SELECT id FROM messages
	                      WHERE conversation_id = ? AND role = 'assistant' AND finish_reason = ''
	                      ORDER BY created_at DESC, rowid DESC LIMIT 1)`
	if _, err := tx.ExecContext(ctx, query, conversationID); err != nil {
		return &backend.WriteError{Op: "stop generation", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &backend.WriteError{Op: "stop generation", Err: err}
	}

	s.publish(ctx, conversationID)
	return nil
}

// ResumeConversation regenerates the assistant reply when the conversation
// ended on a user turn or carries the streaming hint.
func (s *Store) ResumeConversation(ctx context.Context, conversationID string) error {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	needsReply := conv.IsStreaming
	if !needsReply {
		var role string
		err := s.db.QueryRowContext(ctx,
			`SELECT role FROM messages WHERE conversation_id = ?
			 ORDER BY created_at DESC, rowid DESC LIMIT 1`, conversationID).Scan(&role)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to inspect last message: %w", err)
		}
		needsReply = role == string(message.RoleUser)
	}

	if !needsReply {
		return nil
	}
	return s.generateReply(ctx, conversationID)
}

// generateReply invokes the responder against the stored history and
// persists the assistant turn.
func (s *Store) generateReply(ctx context.Context, conversationID string) error {
	if s.respond == nil {
		return nil
	}

	history, err := s.ListMessages(ctx, conversationID)
	if err != nil {
		return err
	}

	s.setStreaming(ctx, conversationID, true)
	s.publish(ctx, conversationID)

	content, err := s.respond(ctx, history)
	s.setStreaming(ctx, conversationID, false)
	if err != nil {
		s.publish(ctx, conversationID)
		s.logger.Error("reply generation failed", "conversation", conversationID, "error", err)
		return &backend.WriteError{Op: "generate reply", Err: err}
	}

	reply := message.New(message.RoleAssistant, content)
	reply.Metadata.FinishReason = "stop"
	reply.Metadata.Status = message.StatusDone

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &backend.WriteError{Op: "generate reply", Err: err}
	}
	defer tx.Rollback()
	if err := insertMessage(ctx, tx, conversationID, reply); err != nil {
		return &backend.WriteError{Op: "generate reply", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &backend.WriteError{Op: "generate reply", Err: err}
	}

	s.touch(ctx, conversationID)
	s.publish(ctx, conversationID)
	return nil
}

func (s *Store) messageRole(ctx context.Context, conversationID, messageID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM messages WHERE id = ? AND conversation_id = ?`,
		messageID, conversationID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", &backend.WriteError{Op: "find message", Err: fmt.Errorf("message %s not found", messageID)}
	}
	if err != nil {
		return "", fmt.Errorf("failed to find message: %w", err)
	}
	return role, nil
}

func (s *Store) setStreaming(ctx context.Context, conversationID string, streaming bool) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET is_streaming = ? WHERE id = ?`, streaming, conversationID); err != nil {
		s.logger.Warn("failed to update streaming flag", "conversation", conversationID, "error", err)
	}
}

func (s *Store) touch(ctx context.Context, conversationID string) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, time.Now(), conversationID); err != nil {
		s.logger.Warn("failed to touch conversation", "conversation", conversationID, "error", err)
	}
}

// publish pushes the current authoritative snapshot for a conversation.
// Read failures are logged, not propagated; the mutation already succeeded.
func (s *Store) publish(ctx context.Context, conversationID string) {
	if s.broker == nil {
		return
	}

	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		s.logger.Warn("failed to load conversation for snapshot", "conversation", conversationID, "error", err)
		return
	}
	msgs, err := s.ListMessages(ctx, conversationID)
	if err != nil {
		s.logger.Warn("failed to load messages for snapshot", "conversation", conversationID, "error", err)
		return
	}

	s.broker.Publish(events.SnapshotUpdated, conversationID, message.Snapshot{
		ConversationID: conversationID,
		Messages:       msgs,
		IsStreaming:    conv.IsStreaming,
		Loaded:         true,
	})
}

// insertMessage writes one message and its attachment rows.
func insertMessage(ctx context.Context, tx *sql.Tx, conversationID string, msg message.Message) error {
	query := `INSERT INTO messages (id, conversation_id, role, content, reasoning, parent_id, is_main_branch,
	                                finish_reason, stopped, status, input_tokens, output_tokens, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, query,
		msg.ID, conversationID, msg.Role, msg.Content, msg.Reasoning, msg.ParentID, msg.IsMainBranch,
		msg.Metadata.FinishReason, msg.Metadata.Stopped, msg.Metadata.Status,
		msg.Metadata.InputTokens, msg.Metadata.OutputTokens, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	for _, att := range msg.Attachments {
		attQuery := `INSERT INTO attachments (id, message_id, type, name, mime_type, size, storage_id, extracted_text)
		             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, attQuery,
			uuid.NewString(), msg.ID, att.Type, att.Name, att.MimeType, att.Size, att.StorageID, att.ExtractedText); err != nil {
			return fmt.Errorf("failed to insert attachment: %w", err)
		}
	}
	return nil
}

// deleteAfter removes every message that follows the anchor, optionally
// including the anchor itself.
func deleteAfter(ctx context.Context, tx *sql.Tx, conversationID, messageID string, inclusive bool) error {
	op := ">"
	if inclusive {
		op = ">="
	}
	query := fmt.Sprintf(`DELETE FROM messages
	          WHERE conversation_id = ?
	            AND (created_at, rowid) %s (SELECT created_at, rowid FROM messages WHERE id = ?)`, op)
	if _, err := tx.ExecContext(ctx, query, conversationID, messageID); err != nil {
		return fmt.Errorf("failed to truncate history: %w", err)
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT 'New Chat',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    is_streaming BOOLEAN NOT NULL DEFAULT 0,
    UNIQUE(id)
)`,
	`CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('system', 'user', 'assistant', 'context')),
    content TEXT NOT NULL,
    reasoning TEXT NOT NULL DEFAULT '',
    parent_id TEXT,
    is_main_branch BOOLEAN NOT NULL DEFAULT 1,
    finish_reason TEXT NOT NULL DEFAULT '',
    stopped BOOLEAN NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT '',
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
    UNIQUE(id)
)`,
	`CREATE TABLE IF NOT EXISTS attachments (
    id TEXT PRIMARY KEY,
    message_id TEXT NOT NULL,
    type TEXT NOT NULL,
    name TEXT NOT NULL,
    mime_type TEXT,
    size INTEGER NOT NULL DEFAULT 0,
    storage_id TEXT NOT NULL DEFAULT '',
    extracted_text TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE,
    UNIQUE(id)
)`,
	`CREATE TABLE IF NOT EXISTS uploads (
    storage_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    mime_type TEXT,
    size INTEGER NOT NULL DEFAULT 0,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(storage_id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id)`,
}
