package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"qchat/pkg/protocol"
)

const (
	writeQueueSize  = 100
	writeTimeout    = 30 * time.Second
	writeRetryDelay = 5 * time.Second
)

// SQLiteStore is the durable message and conversation store backed by a local
// SQLite file. All writes funnel through a single goroutine; SQLite allows one
// writer at a time and serializing in-process is cheaper than letting the
// driver fight over the file lock. Reads go straight to the pool.
type SQLiteStore struct {
	db      *sql.DB
	log     *slog.Logger
	writeCh chan writeOp
	done    chan struct{}
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type writeOp struct {
	operation func(*sql.DB) error
	result    chan error
}

// OpenSQLite opens (creating if needed) the store at path and runs the schema
// migration.
func OpenSQLite(path string, log *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{
		db:      db,
		log:     log,
		writeCh: make(chan writeOp, writeQueueSize),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id       TEXT NOT NULL,
			content         TEXT NOT NULL,
			type            TEXT NOT NULL,
			status          TEXT NOT NULL,
			timestamp       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages (conversation_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT PRIMARY KEY,
			participant_id  TEXT NOT NULL UNIQUE,
			unread_count    INTEGER NOT NULL DEFAULT 0,
			updated_at      INTEGER NOT NULL,
			last_message_id TEXT
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeCh:
			err := op.operation(s.db)
			if err != nil {
				s.log.Warn("store write failed, retrying", "error", err)
				time.Sleep(writeRetryDelay)
				err = op.operation(s.db)
				if err != nil {
					s.log.Error("store write failed after retry", "error", err)
				}
			}
			op.result <- err

		case <-s.done:
			return
		}
	}
}

func (s *SQLiteStore) executeWrite(operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOp{operation: operation, result: result}:
		return <-result
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-s.done:
		return ErrStoreClosed
	}
}

// SaveMessage persists a message record. Saving an existing ID overwrites it;
// the send path relies on this when a FAILED message is retried.
func (s *SQLiteStore) SaveMessage(m *protocol.Message) error {
	return s.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT OR REPLACE INTO messages (id, conversation_id, sender_id, content, type, status, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.Exec(query, m.ID, m.ConversationID, m.SenderID, m.Content, m.Type, m.Status, m.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// UpdateMessageStatus moves a stored message to status.
func (s *SQLiteStore) UpdateMessageStatus(id string, status protocol.MessageStatus) error {
	return s.executeWrite(func(db *sql.DB) error {
		res, err := db.Exec(`UPDATE messages SET status = ? WHERE id = ?`, status, id)
		if err != nil {
			return fmt.Errorf("failed to update message status: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrMessageNotFound
		}
		return nil
	})
}

// MessagesByConversation returns a conversation's messages in chronological
// order.
func (s *SQLiteStore) MessagesByConversation(conversationID string) ([]*protocol.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, type, status, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, id ASC
	`
	rows, err := s.db.Query(query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*protocol.Message
	for rows.Next() {
		var m protocol.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type, &m.Status, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// UpsertConversation inserts or fully replaces a conversation record.
func (s *SQLiteStore) UpsertConversation(c *protocol.Conversation) error {
	return s.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO conversations (id, participant_id, unread_count, updated_at, last_message_id)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				participant_id = excluded.participant_id,
				unread_count = excluded.unread_count,
				updated_at = excluded.updated_at,
				last_message_id = excluded.last_message_id
		`
		_, err := db.Exec(query, c.ID, c.ParticipantID, c.UnreadCount, c.UpdatedAt, nullable(c.LastMessageID))
		if err != nil {
			return fmt.Errorf("failed to upsert conversation: %w", err)
		}
		return nil
	})
}

// Conversation looks up a conversation by ID.
func (s *SQLiteStore) Conversation(id string) (*protocol.Conversation, bool, error) {
	return s.queryConversation(`WHERE id = ?`, id)
}

// ConversationByParticipant looks up the conversation held with a contact.
func (s *SQLiteStore) ConversationByParticipant(participantID string) (*protocol.Conversation, bool, error) {
	return s.queryConversation(`WHERE participant_id = ?`, participantID)
}

func (s *SQLiteStore) queryConversation(where string, arg any) (*protocol.Conversation, bool, error) {
	query := `
		SELECT id, participant_id, unread_count, updated_at, last_message_id
		FROM conversations ` + where

	var c protocol.Conversation
	var lastMessageID sql.NullString
	err := s.db.QueryRow(query, arg).Scan(&c.ID, &c.ParticipantID, &c.UnreadCount, &c.UpdatedAt, &lastMessageID)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query conversation: %w", err)
	}
	if lastMessageID.Valid {
		c.LastMessageID = lastMessageID.String
	}
	return &c, true, nil
}

// Conversations returns all conversations, most recently updated first.
func (s *SQLiteStore) Conversations() ([]*protocol.Conversation, error) {
	query := `
		SELECT id, participant_id, unread_count, updated_at, last_message_id
		FROM conversations
		ORDER BY updated_at DESC
	`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var conversations []*protocol.Conversation
	for rows.Next() {
		var c protocol.Conversation
		var lastMessageID sql.NullString
		if err := rows.Scan(&c.ID, &c.ParticipantID, &c.UnreadCount, &c.UpdatedAt, &lastMessageID); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		if lastMessageID.Valid {
			c.LastMessageID = lastMessageID.String
		}
		conversations = append(conversations, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation rows: %w", err)
	}
	return conversations, nil
}

// MarkConversationRead zeroes a conversation's unread counter.
func (s *SQLiteStore) MarkConversationRead(id string) error {
	return s.executeWrite(func(db *sql.DB) error {
		res, err := db.Exec(`UPDATE conversations SET unread_count = 0 WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to mark conversation read: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNoSuchConversation
		}
		return nil
	})
}

// RemoveConversationByParticipant deletes the conversation with a contact and
// its message history atomically. Removing an absent participant is a no-op.
func (s *SQLiteStore) RemoveConversationByParticipant(participantID string) error {
	return s.executeWrite(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var conversationID string
		err = tx.QueryRow(`SELECT id FROM conversations WHERE participant_id = ?`, participantID).Scan(&conversationID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to look up conversation: %w", err)
		}

		if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		return tx.Commit()
	})
}

// Close drains the write loop and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
