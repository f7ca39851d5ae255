package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/harun/streamrun/pkg/agent"
	"github.com/harun/streamrun/pkg/conversation"
	"github.com/harun/streamrun/pkg/session"
	"github.com/harun/streamrun/pkg/stream"
)

type mockStore struct {
	mock.Mock
}

var _ conversation.Store = (*mockStore)(nil)

func (m *mockStore) InsertMessage(ctx context.Context, msg conversation.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockStore) NextMessageID(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) ListMessages(ctx context.Context, userID, conversationID string) ([]conversation.Message, error) {
	args := m.Called(ctx, userID, conversationID)
	return args.Get(0).([]conversation.Message), args.Error(1)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}

func sampleTurn() Turn {
	return Turn{
		UserID:          "u1",
		ChatID:          "c1",
		HumanMessageID:  11,
		AIMessageID:     12,
		ParentMessageID: 10,
		UserIntent:      json.RawMessage(`{"message":"hi"}`),
		Human:           "hi",
		AI:              "hello",
		History: []session.Message{
			{Role: agent.RoleHuman, Content: "before", MessageID: 9},
			{Role: agent.RoleAI, Content: "earlier", MessageID: 10, ParentMessageID: 9},
		},
		Intermediate: []stream.Segment{{Type: stream.TypeTool, Text: "Python"}},
		Final:        []stream.Segment{{Type: stream.TypePlain, Text: "hello"}},
	}
}

func TestPersister_InsertsUserThenAssistant(t *testing.T) {
	store := &mockStore{}
	var inserted []conversation.Message
	store.On("InsertMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			inserted = append(inserted, args.Get(1).(conversation.Message))
		}).
		Return(nil).Twice()
	pool := session.NewMemoryPool(0)

	p := NewPersister(store, pool, zerolog.Nop())
	require.NoError(t, p.Persist(context.Background(), sampleTurn()))
	store.AssertExpectations(t)

	require.Len(t, inserted, 2)
	user, assistant := inserted[0], inserted[1]

	assert.Equal(t, conversation.RoleUser, user.Role)
	assert.Equal(t, int64(11), user.MessageID)
	assert.Equal(t, int64(10), user.ParentMessageID)
	assert.Equal(t, "hi", user.DataForLLM)
	assert.JSONEq(t, `{"message":"hi"}`, string(user.DataForHuman))
	assert.Zero(t, user.VersionID)
	assert.Nil(t, user.RawData)

	assert.Equal(t, conversation.RoleAssistant, assistant.Role)
	assert.Equal(t, int64(12), assistant.MessageID)
	assert.Equal(t, int64(11), assistant.ParentMessageID)
	assert.Equal(t, "hello", assistant.DataForLLM)
	assert.JSONEq(t,
		`{"intermediate_steps":[{"type":"tool","text":"Python"}],"final_answer":[{"type":"plain","text":"hello"}]}`,
		string(assistant.DataForHuman))

	memory, err := pool.Get(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.Len(t, memory, 4)
	assert.Equal(t, "earlier", memory[1].Content)
	assert.Equal(t, session.Message{Role: agent.RoleHuman, Content: "hi", MessageID: 11, ParentMessageID: 10, Timestamp: memory[2].Timestamp}, memory[2])
	assert.Equal(t, int64(12), memory[3].MessageID)
	assert.Equal(t, int64(11), memory[3].ParentMessageID)
}

func TestPersister_EmptyTranscriptIsEncodedAsLists(t *testing.T) {
	store := conversation.NewMemoryStore()
	turn := sampleTurn()
	turn.Intermediate = nil
	turn.Final = nil

	require.NoError(t, NewPersister(store, nil, zerolog.Nop()).Persist(context.Background(), turn))

	msgs, err := store.ListMessages(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"intermediate_steps":[],"final_answer":[]}`, string(msgs[1].DataForHuman))
}

func TestPersister_InsertFailure(t *testing.T) {
	store := &mockStore{}
	store.On("InsertMessage", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

	err := NewPersister(store, nil, zerolog.Nop()).Persist(context.Background(), sampleTurn())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert user message")
	store.AssertNumberOfCalls(t, "InsertMessage", 1)
}

func TestPersister_NoCollaborators(t *testing.T) {
	assert.NoError(t, NewPersister(nil, nil, zerolog.Nop()).Persist(context.Background(), sampleTurn()))
}
