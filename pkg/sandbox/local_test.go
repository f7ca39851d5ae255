package sandbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/streamrun/pkg/agent"
	"github.com/harun/streamrun/pkg/stream"
)

func drain(t *testing.T, w Worker) []stream.Event {
	t.Helper()
	var events []stream.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("worker did not close its event stream")
			return nil
		}
	}
}

func newLocalLauncher(timeout time.Duration) *LocalLauncher {
	reg := agent.NewRegistry()
	reg.Register(agent.NewScriptedTask())
	cfg := DefaultConfig()
	cfg.Isolation = IsolationLocal
	cfg.ResourceLimits.Timeout = timeout
	return NewLocalLauncher(cfg, reg, zerolog.Nop())
}

func scripted(script string) agent.Input {
	return agent.Input{UserID: "u1", ChatID: "c1", Message: "hi", Payload: json.RawMessage(script)}
}

func TestLocalLauncher_Success(t *testing.T) {
	w, err := newLocalLauncher(0).Launch(context.Background(), agent.ScriptedTaskName, scripted(`{
		"steps": [{"type": "tool", "text": "a"}, {"type": "plain", "text": "b", "final": true}]
	}`))
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID())

	events := drain(t, w)
	outcome := w.Wait()

	assert.Equal(t, []stream.Event{
		{Type: stream.TypeTool, Text: "a"},
		{Type: stream.TypePlain, Text: "b", Final: true},
	}, events)
	assert.Empty(t, outcome.Err)
	assert.Len(t, outcome.Result.Messages, 2)
	assert.False(t, w.Alive())
}

func TestLocalLauncher_UnknownTask(t *testing.T) {
	_, err := newLocalLauncher(0).Launch(context.Background(), "missing", agent.Input{})
	assert.ErrorIs(t, err, agent.ErrTaskNotFound)
}

func TestLocalLauncher_KillStopsHangingTask(t *testing.T) {
	w, err := newLocalLauncher(0).Launch(context.Background(), agent.ScriptedTaskName, scripted(`{"hang": true}`))
	require.NoError(t, err)
	assert.True(t, w.Alive())

	w.Kill()
	w.Kill()

	drain(t, w)
	outcome := w.Wait()
	assert.NotEmpty(t, outcome.Err)
	assert.False(t, w.Alive())
}

func TestLocalLauncher_OutlivesRequestContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w, err := newLocalLauncher(0).Launch(ctx, agent.ScriptedTaskName, scripted(`{
		"steps": [{"type": "plain", "text": "x", "delay_ms": 20}]
	}`))
	require.NoError(t, err)
	cancel()

	events := drain(t, w)
	assert.Len(t, events, 1)
	assert.Empty(t, w.Wait().Err)
}

func TestLocalLauncher_Timeout(t *testing.T) {
	w, err := newLocalLauncher(50*time.Millisecond).Launch(context.Background(), agent.ScriptedTaskName, scripted(`{"hang": true}`))
	require.NoError(t, err)

	drain(t, w)
	assert.Equal(t, "WorkerTimeout: worker exceeded its time limit", w.Wait().Err)
}

func TestLocalLauncher_BlockedEmitReleasedByKill(t *testing.T) {
	l := newLocalLauncher(0)
	l.cfg.QueueSize = 1

	w, err := l.Launch(context.Background(), agent.ScriptedTaskName, scripted(`{
		"steps": [{"type": "plain", "text": "1"}, {"type": "plain", "text": "2"}, {"type": "plain", "text": "3"}]
	}`))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	w.Kill()

	done := make(chan Outcome)
	go func() { done <- w.Wait() }()
	select {
	case outcome := <-done:
		assert.NotEmpty(t, outcome.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("killed worker did not exit")
	}
}
