//go:build unix

package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/streamrun/internal/tracing"
	"github.com/harun/streamrun/pkg/agent"
	"github.com/harun/streamrun/pkg/stream"
)

const helperEnv = "STREAMRUN_SANDBOX_HELPER"

// TestMain doubles as the worker binary: launched with helperEnv set, the
// test executable serves one request and exits.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		reg := agent.NewRegistry()
		reg.Register(agent.NewScriptedTask())
		reg.Register(funcTask{name: "crash", run: func(ctx context.Context, in agent.Input, sink agent.Sink) (agent.Result, error) {
			_ = sink.Emit(stream.Event{Type: stream.TypeTool, Text: "before crash"})
			os.Exit(3)
			return agent.Result{}, nil
		}})
		reg.Register(funcTask{name: "trace", run: func(ctx context.Context, in agent.Input, sink agent.Sink) (agent.Result, error) {
			_ = sink.Emit(stream.Event{Type: stream.TypePlain, Text: tracing.GetRunID(ctx), Final: true})
			return agent.Conversation(in, "ok"), nil
		}})

		reg.Register(funcTask{name: "noisy", run: func(ctx context.Context, in agent.Input, sink agent.Sink) (agent.Result, error) {
			fmt.Println("printed by the task")
			os.Stdout.Write([]byte{0xff, 0xff, 0xff, 0x7f, 'x'})
			if err := exec.Command("/bin/sh", "-c", "echo printed by a subprocess").Run(); err != nil {
				return agent.Result{}, err
			}
			_ = sink.Emit(stream.Event{Type: stream.TypePlain, Text: "clean", Final: true})
			return agent.Conversation(in, "clean"), nil
		}})

		frames, err := OpenFrames()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if err := Serve(context.Background(), reg, os.Stdin, frames, zerolog.New(os.Stderr)); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func newHelperLauncher(t *testing.T, timeout time.Duration) *ProcessLauncher {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Executable = os.Args[0]
	cfg.Command = nil
	cfg.Env = map[string]string{helperEnv: "1"}
	cfg.ResourceLimits.Timeout = timeout

	l, err := NewProcessLauncher(cfg, zerolog.Nop())
	require.NoError(t, err)
	return l
}

func TestProcessLauncher_TaskStdoutDoesNotCorruptFrames(t *testing.T) {
	w, err := newHelperLauncher(t, 0).Launch(context.Background(), "noisy", agent.Input{Message: "hi"})
	require.NoError(t, err)

	events := drain(t, w)
	outcome := w.Wait()

	assert.Empty(t, outcome.Err)
	require.Len(t, events, 1)
	assert.Equal(t, stream.Event{Type: stream.TypePlain, Text: "clean", Final: true}, events[0])
	_, ai, ok := outcome.Result.Turn()
	require.True(t, ok)
	assert.Equal(t, "clean", ai.Content)
}

func TestOpenFrames_MissingDescriptor(t *testing.T) {
	// the test binary itself is not launched with a frame pipe
	if f, err := OpenFrames(); err == nil {
		f.Close()
		t.Skip("descriptor 3 is open in this environment")
	}
	_, err := OpenFrames()
	assert.ErrorIs(t, err, ErrWorkerProtocol)
}

func TestProcessLauncher_Success(t *testing.T) {
	w, err := newHelperLauncher(t, 0).Launch(context.Background(), agent.ScriptedTaskName, scripted(`{
		"steps": [
			{"type": "tool", "text": "Python"},
			{"type": "image", "text": "b64"},
			{"type": "plain", "text": "done", "final": true}
		]
	}`))
	require.NoError(t, err)

	events := drain(t, w)
	outcome := w.Wait()

	require.Len(t, events, 3)
	assert.Equal(t, stream.Event{Type: stream.TypeImage, Text: "b64"}, events[1])
	assert.Empty(t, outcome.Err)
	_, ai, ok := outcome.Result.Turn()
	require.True(t, ok)
	assert.Equal(t, "done", ai.Content)
	assert.False(t, w.Alive())
}

func TestProcessLauncher_TaskErrorAndPanic(t *testing.T) {
	l := newHelperLauncher(t, 0)

	w, err := l.Launch(context.Background(), agent.ScriptedTaskName, scripted(`{"error": {"kind": "ValueError", "message": "bad"}}`))
	require.NoError(t, err)
	drain(t, w)
	assert.Equal(t, "ValueError: bad", w.Wait().Err)

	w, err = l.Launch(context.Background(), agent.ScriptedTaskName, scripted(`{"panic": "kaboom"}`))
	require.NoError(t, err)
	drain(t, w)
	assert.Equal(t, "Panic: kaboom", w.Wait().Err)
}

func TestProcessLauncher_UnknownTask(t *testing.T) {
	w, err := newHelperLauncher(t, 0).Launch(context.Background(), "nope", agent.Input{})
	require.NoError(t, err)

	drain(t, w)
	assert.Equal(t, "TaskNotFound: nope", w.Wait().Err)
}

func TestProcessLauncher_Crash(t *testing.T) {
	w, err := newHelperLauncher(t, 0).Launch(context.Background(), "crash", agent.Input{})
	require.NoError(t, err)

	events := drain(t, w)
	assert.Len(t, events, 1)
	assert.Equal(t, "WorkerExit: exit status 3", w.Wait().Err)
}

func TestProcessLauncher_Kill(t *testing.T) {
	w, err := newHelperLauncher(t, 0).Launch(context.Background(), agent.ScriptedTaskName, scripted(`{
		"steps": [{"type": "tool", "text": "working"}],
		"hang": true
	}`))
	require.NoError(t, err)

	first := <-w.Events()
	assert.Equal(t, "working", first.Text)
	assert.True(t, w.Alive())

	w.Kill()
	w.Kill()

	drain(t, w)
	assert.Contains(t, w.Wait().Err, "WorkerExit")
	assert.False(t, w.Alive())
}

func TestProcessLauncher_Timeout(t *testing.T) {
	w, err := newHelperLauncher(t, 100*time.Millisecond).Launch(context.Background(), agent.ScriptedTaskName, scripted(`{"hang": true}`))
	require.NoError(t, err)

	drain(t, w)
	assert.Equal(t, "WorkerTimeout: worker exceeded its time limit", w.Wait().Err)
}

func TestProcessLauncher_PropagatesTrace(t *testing.T) {
	ctx := tracing.NewRunContext(context.Background(), "u1", "c1", "trace")

	w, err := newHelperLauncher(t, 0).Launch(ctx, "trace", agent.Input{Message: "hi"})
	require.NoError(t, err)

	events := drain(t, w)
	require.Len(t, events, 1)
	assert.Equal(t, tracing.GetRunID(ctx), events[0].Text)
	assert.Empty(t, w.Wait().Err)
}

func TestProcessLauncher_DeniedWorkingDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkingDir = "/etc"
	_, err := NewProcessLauncher(cfg, zerolog.Nop())
	assert.ErrorIs(t, err, ErrFilesystemAccessDenied)
}
