package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/streamrun/pkg/stream"
)

type recordingSink struct {
	events []stream.Event
}

func (s *recordingSink) Emit(ev stream.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func runScript(t *testing.T, ctx context.Context, script string) (Result, []stream.Event, error) {
	t.Helper()
	sink := &recordingSink{}
	result, err := NewScriptedTask().Run(ctx, Input{
		UserID:  "u1",
		ChatID:  "c1",
		Message: "hello",
		History: []Message{{Role: RoleHuman, Content: "earlier"}, {Role: RoleAI, Content: "reply"}},
		Payload: json.RawMessage(script),
	}, sink)
	return result, sink.events, err
}

func TestScriptedTask_EmitsStepsAndResult(t *testing.T) {
	result, events, err := runScript(t, context.Background(), `{
		"steps": [
			{"type": "tool", "text": "Python"},
			{"type": "image", "text": "b64"},
			{"type": "plain", "text": "the ", "final": true},
			{"type": "plain", "text": "answer", "final": true}
		]
	}`)
	require.NoError(t, err)

	require.Len(t, events, 4)
	assert.Equal(t, stream.Event{Type: stream.TypeTool, Text: "Python"}, events[0])
	assert.Equal(t, stream.TypeImage, events[1].Type)

	require.Len(t, result.Messages, 4)
	human, ai, ok := result.Turn()
	require.True(t, ok)
	assert.Equal(t, Message{Role: RoleHuman, Content: "hello"}, human)
	assert.Equal(t, Message{Role: RoleAI, Content: "the answer"}, ai)
}

func TestScriptedTask_AnswerOverride(t *testing.T) {
	result, _, err := runScript(t, context.Background(), `{"answer": "fixed"}`)
	require.NoError(t, err)

	_, ai, ok := result.Turn()
	require.True(t, ok)
	assert.Equal(t, "fixed", ai.Content)
}

func TestScriptedTask_Error(t *testing.T) {
	_, events, err := runScript(t, context.Background(), `{
		"steps": [{"type": "tool", "text": "x"}],
		"error": {"kind": "ValueError", "message": "bad"}
	}`)
	require.Error(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, "ValueError: bad", err.Error())
	assert.Equal(t, "ValueError", ErrorKind(err))
}

func TestScriptedTask_Panic(t *testing.T) {
	assert.PanicsWithValue(t, "kaboom", func() {
		_, _, _ = runScript(t, context.Background(), `{"panic": "kaboom"}`)
	})
}

func TestScriptedTask_EmptyResult(t *testing.T) {
	result, _, err := runScript(t, context.Background(), `{"empty_result": true}`)
	require.NoError(t, err)
	assert.Len(t, result.Messages, 2)
}

func TestScriptedTask_HangUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := runScript(t, ctx, `{"hang": true}`)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScriptedTask_DelayHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, events, err := runScript(t, ctx, `{"steps": [{"type": "plain", "text": "x", "delay_ms": 10000}]}`)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, events)
}

func TestScriptedTask_InvalidPayload(t *testing.T) {
	tests := []string{
		`{"steps": [{"text": "no type"}]}`,
		`{"unknown": 1}`,
		`{"steps": [{"type": "plain", "delay_ms": -1}]}`,
	}
	for _, payload := range tests {
		_, _, err := runScript(t, context.Background(), payload)
		assert.ErrorIs(t, err, ErrInvalidPayload, payload)
	}
}

func TestScriptedTask_EchoWithoutPayload(t *testing.T) {
	sink := &recordingSink{}
	result, err := NewScriptedTask().Run(context.Background(), Input{Message: "hi there"}, sink)
	require.NoError(t, err)

	assert.Equal(t, []stream.Event{
		{Type: stream.TypePlain, Text: "hi ", Final: true},
		{Type: stream.TypePlain, Text: "there", Final: true},
	}, sink.events)
	_, ai, ok := result.Turn()
	require.True(t, ok)
	assert.Equal(t, "hi there", ai.Content)
}
