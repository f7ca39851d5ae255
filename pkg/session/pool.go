package session

import (
	"context"
	"sync"
	"time"
)

// Message is one remembered conversation turn
type Message struct {
	Role            string    `json:"role"`
	Content         string    `json:"content"`
	MessageID       int64     `json:"message_id,omitempty"`
	ParentMessageID int64     `json:"parent_message_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Pool stores the conversation memory of each (user, chat) pair
type Pool interface {
	Get(ctx context.Context, userID, chatID string) ([]Message, error)
	Set(ctx context.Context, userID, chatID string, messages []Message) error
}

// MemoryPool is an in-process Pool
type MemoryPool struct {
	mu          sync.RWMutex
	sessions    map[string][]Message
	maxMessages int
}

// NewMemoryPool creates an empty in-process pool. maxMessages <= 0 keeps
// everything.
func NewMemoryPool(maxMessages int) *MemoryPool {
	return &MemoryPool{
		sessions:    make(map[string][]Message),
		maxMessages: maxMessages,
	}
}

// Get returns a copy of the stored history
func (p *MemoryPool) Get(ctx context.Context, userID, chatID string) ([]Message, error) {
	key, err := Key(userID, chatID)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message{}, p.sessions[key]...), nil
}

// Set replaces the stored history
func (p *MemoryPool) Set(ctx context.Context, userID, chatID string, messages []Message) error {
	key, err := Key(userID, chatID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[key] = trim(append([]Message{}, messages...), p.maxMessages)
	return nil
}

// trim keeps the newest max messages
func trim(messages []Message, max int) []Message {
	if max <= 0 || len(messages) <= max {
		return messages
	}
	return messages[len(messages)-max:]
}
