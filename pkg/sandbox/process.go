package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/streamrun/internal/logger"
	"github.com/harun/streamrun/internal/tracing"
	"github.com/harun/streamrun/pkg/agent"
	"github.com/harun/streamrun/pkg/framing"
	"github.com/harun/streamrun/pkg/stream"
)

// ProcessLauncher re-executes a binary per run. The child reads a Request on
// stdin and answers with framed Messages on the inherited descriptor
// FramesFD. Its stdout and stderr are relayed into the parent's logger, so
// whatever the task or its subprocesses print cannot corrupt the frames.
type ProcessLauncher struct {
	cfg        Config
	executable string
	logger     zerolog.Logger
}

// NewProcessLauncher creates a process launcher
func NewProcessLauncher(cfg Config, logger zerolog.Logger) (*ProcessLauncher, error) {
	if !processIsolationSupported() {
		return nil, ErrIsolationUnsupported
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	executable := cfg.Executable
	if executable == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve worker executable: %w", err)
		}
		executable = self
	}

	if err := checkFilesystemAccess(cfg.FilesystemAccess, cfg.WorkingDir); err != nil {
		return nil, err
	}

	return &ProcessLauncher{
		cfg:        cfg,
		executable: executable,
		logger:     logger.With().Str("component", "process-launcher").Logger(),
	}, nil
}

// Launch starts a worker process for the named task
func (l *ProcessLauncher) Launch(ctx context.Context, taskName string, in agent.Input) (Worker, error) {
	args := append(append([]string{}, l.cfg.Command...), "--task", taskName)
	cmd := exec.Command(l.executable, args...)
	cmd.Dir = l.cfg.WorkingDir
	cmd.Env = buildEnvironment(l.cfg, os.Environ())
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stderr: %w", err)
	}
	frames, framesW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker frame pipe: %w", err)
	}
	// ExtraFiles[0] becomes FramesFD in the child
	cmd.ExtraFiles = []*os.File{framesW}

	request, err := json.Marshal(Request{
		Task:        taskName,
		Input:       in,
		Trace:       *tracing.FromContext(ctx),
		MaxMemoryMB: l.cfg.ResourceLimits.MaxMemoryMB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode worker request: %w", err)
	}

	err = cmd.Start()
	// the child holds its own copy; ours must go for EOF to arrive
	framesW.Close()
	if err != nil {
		frames.Close()
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}

	id, _ := gonanoid.New()
	log := tracing.LoggerFromContext(ctx, l.logger).With().
		Str("worker_id", id).
		Int("pid", cmd.Process.Pid).
		Logger()

	w := &processWorker{
		id:     id,
		cmd:    cmd,
		events: make(chan stream.Event, l.cfg.QueueSize),
		killed: make(chan struct{}),
		exited: make(chan struct{}),
		logger: log,
	}

	if timeout := l.cfg.ResourceLimits.Timeout; timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() {
			w.timedOut.Store(true)
			w.logger.Warn().Dur("timeout", timeout).Msg("Worker exceeded its time limit")
			w.Kill()
		})
	}

	go func() {
		defer stdin.Close()
		if _, err := stdin.Write(append(request, '\n')); err != nil {
			log.Debug().Err(err).Msg("Failed to hand request to worker")
		}
	}()

	var relays sync.WaitGroup
	relay := func(r io.Reader, name string) {
		defer relays.Done()
		if err := logger.Relay(r, log.With().Str("stream", name).Logger()); err != nil {
			log.Debug().Err(err).Str("stream", name).Msg("Worker log relay ended")
		}
	}
	relays.Add(2)
	go relay(stdout, "stdout")
	go relay(stderr, "stderr")

	go w.read(frames, &relays)

	log.Debug().Str("task", taskName).Msg("Worker process started")
	return w, nil
}

type processWorker struct {
	id     string
	cmd    *exec.Cmd
	events chan stream.Event
	logger zerolog.Logger
	timer  *time.Timer

	killOnce sync.Once
	killed   chan struct{}
	timedOut atomic.Bool

	exited  chan struct{}
	outcome Outcome
}

// read drains the worker's frame pipe, then reaps the process. Events are
// dropped once the worker was killed so a departed consumer cannot block
// the reaper.
func (w *processWorker) read(frames *os.File, relays *sync.WaitGroup) {
	defer close(w.exited)
	defer frames.Close()

	var (
		result   *agent.Result
		errMsg   string
		protoErr error
	)

	reader := framing.NewReader(frames)
read:
	for {
		var msg Message
		if err := reader.Decode(&msg); err != nil {
			if !errors.Is(err, io.EOF) {
				protoErr = err
			}
			break
		}

		switch msg.Kind {
		case MessageEvent:
			if msg.Event == nil {
				protoErr = fmt.Errorf("%w: event message without event", ErrWorkerProtocol)
				break read
			}
			select {
			case w.events <- *msg.Event:
			case <-w.killed:
			}
		case MessageResult:
			result = msg.Result
		case MessageError:
			errMsg = msg.Error
		case MessageEnd:
			break read
		default:
			protoErr = fmt.Errorf("%w: unknown message kind %q", ErrWorkerProtocol, msg.Kind)
			break read
		}
	}
	close(w.events)

	// Unblock a worker still writing after a protocol error.
	if protoErr != nil {
		w.Kill()
	}
	_, _ = io.Copy(io.Discard, frames)
	relays.Wait()
	waitErr := w.cmd.Wait()
	if w.timer != nil {
		w.timer.Stop()
	}

	switch {
	case w.timedOut.Load():
		errMsg = "WorkerTimeout: worker exceeded its time limit"
	case errMsg != "":
	case protoErr != nil:
		errMsg = agent.FormatError(agent.NewTaskError("WorkerProtocolError", protoErr.Error()))
	case waitErr != nil:
		errMsg = agent.FormatError(agent.NewTaskError("WorkerExit", waitErr.Error()))
	case result == nil:
		errMsg = agent.FormatError(agent.NewTaskError("WorkerExit", "worker ended without a result"))
	}

	if errMsg == "" {
		w.outcome = Outcome{Result: *result}
	} else {
		w.outcome = Outcome{Err: errMsg}
	}

	w.logger.Debug().
		Str("error", errMsg).
		Int("exit_code", w.cmd.ProcessState.ExitCode()).
		Msg("Worker process exited")
}

func (w *processWorker) ID() string                  { return w.id }
func (w *processWorker) Events() <-chan stream.Event { return w.events }

func (w *processWorker) Alive() bool {
	select {
	case <-w.exited:
		return false
	default:
		return true
	}
}

func (w *processWorker) Kill() {
	w.killOnce.Do(func() {
		close(w.killed)
		if !w.Alive() {
			return
		}
		if err := killProcessGroup(w.cmd); err != nil {
			w.logger.Debug().Err(err).Msg("Failed to kill worker")
		}
	})
}

func (w *processWorker) Wait() Outcome {
	<-w.exited
	return w.outcome
}

// OpenFrames returns the frame channel a worker process inherited from its
// launcher.
func OpenFrames() (*os.File, error) {
	f := os.NewFile(FramesFD, "streamrun-frames")
	if f == nil {
		return nil, fmt.Errorf("%w: frame descriptor %d missing", ErrWorkerProtocol, FramesFD)
	}
	if _, err := f.Stat(); err != nil {
		return nil, fmt.Errorf("%w: frame descriptor %d unavailable: %v", ErrWorkerProtocol, FramesFD, err)
	}
	return f, nil
}
