package conversation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	messages []Message
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// InsertMessage stores a copy of msg
func (s *MemoryStore) InsertMessage(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

// NextMessageID allocates the next id
func (s *MemoryStore) NextMessageID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID, nil
}

// ListMessages returns the conversation's messages ordered by id
func (s *MemoryStore) ListMessages(ctx context.Context, userID, conversationID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []Message{}
	for _, msg := range s.messages {
		if msg.UserID == userID && msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out, nil
}

// Len returns the number of stored messages
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
