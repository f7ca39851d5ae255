package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const schema = `
	CREATE TABLE IF NOT EXISTS message_ids (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		allocated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		conversation_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		message_id INTEGER NOT NULL,
		parent_message_id INTEGER NOT NULL,
		version_id INTEGER NOT NULL DEFAULT 0,
		role TEXT NOT NULL,
		data_for_human TEXT,
		data_for_llm TEXT NOT NULL,
		raw_data TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, message_id, version_id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_user_conversation ON messages(user_id, conversation_id);
`

// SQLiteStore is a Store backed by a sqlite database file
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and migrates) the database at path. Use ":memory:"
// for a throwaway database.
func NewSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "conversation-store").Logger(),
	}
	s.logger.Info().Str("path", path).Msg("Conversation store initialized")
	return s, nil
}

// InsertMessage stores one message
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (
			conversation_id, user_id, message_id, parent_message_id, version_id,
			role, data_for_human, data_for_llm, raw_data, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.UserID, msg.MessageID, msg.ParentMessageID, msg.VersionID,
		msg.Role, nullableJSON(msg.DataForHuman), msg.DataForLLM, nullableJSON(msg.RawData),
		msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	s.logger.Debug().
		Str("conversation_id", msg.ConversationID).
		Int64("message_id", msg.MessageID).
		Str("role", msg.Role).
		Msg("Message stored")
	return nil
}

// NextMessageID allocates an id from the message_ids sequence
func (s *SQLiteStore) NextMessageID(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO message_ids (allocated_at) VALUES (?)`, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to allocate message id: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read message id: %w", err)
	}
	return id, nil
}

// ListMessages returns the conversation's messages ordered by id
func (s *SQLiteStore) ListMessages(ctx context.Context, userID, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id, user_id, message_id, parent_message_id, version_id,
			role, data_for_human, data_for_llm, raw_data, created_at
		FROM messages
		WHERE user_id = ? AND conversation_id = ?
		ORDER BY message_id, version_id`, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var (
			msg          Message
			dataForHuman sql.NullString
			rawData      sql.NullString
			createdAt    int64
		)
		if err := rows.Scan(
			&msg.ConversationID, &msg.UserID, &msg.MessageID, &msg.ParentMessageID, &msg.VersionID,
			&msg.Role, &dataForHuman, &msg.DataForLLM, &rawData, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if dataForHuman.Valid {
			msg.DataForHuman = []byte(dataForHuman.String)
		}
		if rawData.Valid {
			msg.RawData = []byte(rawData.String)
		}
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return messages, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullableJSON(data []byte) interface{} {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return string(data)
}
