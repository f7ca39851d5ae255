package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Roles stored in the role column
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrInvalidMessage is returned when a message lacks required fields
var ErrInvalidMessage = errors.New("invalid conversation message")

// Message is one stored chat message
type Message struct {
	ConversationID  string          `json:"conversation_id"`
	UserID          string          `json:"user_id"`
	MessageID       int64           `json:"message_id"`
	ParentMessageID int64           `json:"parent_message_id"`
	VersionID       int             `json:"version_id"`
	Role            string          `json:"role"`
	DataForHuman    json.RawMessage `json:"data_for_human"`
	DataForLLM      string          `json:"data_for_llm"`
	RawData         json.RawMessage `json:"raw_data"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Validate checks the fields every stored message needs
func (m Message) Validate() error {
	switch {
	case m.ConversationID == "":
		return errors.Join(ErrInvalidMessage, errors.New("conversation_id is required"))
	case m.UserID == "":
		return errors.Join(ErrInvalidMessage, errors.New("user_id is required"))
	case m.Role != RoleUser && m.Role != RoleAssistant:
		return errors.Join(ErrInvalidMessage, errors.New("role must be user or assistant"))
	}
	return nil
}

// Store is the conversation database
type Store interface {
	// InsertMessage stores one message
	InsertMessage(ctx context.Context, msg Message) error

	// NextMessageID allocates a fresh, strictly increasing message id
	NextMessageID(ctx context.Context) (int64, error)

	// ListMessages returns a conversation's messages ordered by id
	ListMessages(ctx context.Context, userID, conversationID string) ([]Message, error)

	Close() error
}
