package sandbox

import (
	"context"
	"errors"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/streamrun/internal/tracing"
	"github.com/harun/streamrun/pkg/agent"
	"github.com/harun/streamrun/pkg/stream"
)

// LocalLauncher runs tasks on goroutines. Kill cancels the task context, so
// only tasks that honour cancellation can be stopped.
type LocalLauncher struct {
	cfg      Config
	registry *agent.Registry
	logger   zerolog.Logger
}

// NewLocalLauncher creates a goroutine launcher
func NewLocalLauncher(cfg Config, registry *agent.Registry, logger zerolog.Logger) *LocalLauncher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &LocalLauncher{
		cfg:      cfg,
		registry: registry,
		logger:   logger.With().Str("component", "local-launcher").Logger(),
	}
}

// Launch starts the named task. The worker outlives ctx; only its trace
// values are inherited.
func (l *LocalLauncher) Launch(ctx context.Context, taskName string, in agent.Input) (Worker, error) {
	task, err := l.registry.Get(taskName)
	if err != nil {
		return nil, err
	}

	id, _ := gonanoid.New()
	base := tracing.Detach(ctx)
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout := l.cfg.ResourceLimits.Timeout; timeout > 0 {
		runCtx, cancel = context.WithTimeout(base, timeout)
	} else {
		runCtx, cancel = context.WithCancel(base)
	}

	w := &localWorker{
		id:     id,
		events: make(chan stream.Event, l.cfg.QueueSize),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	l.logger.Debug().Str("worker_id", id).Str("task", taskName).Msg("Launching local worker")
	go w.run(runCtx, task, in)
	return w, nil
}

type localWorker struct {
	id     string
	events chan stream.Event
	done   chan struct{}
	cancel context.CancelFunc

	killOnce sync.Once
	outcome  Outcome
}

func (w *localWorker) run(ctx context.Context, task agent.Task, in agent.Input) {
	defer close(w.done)
	defer w.cancel()

	sink := agent.SinkFunc(func(ev stream.Event) error {
		select {
		case w.events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	result, errMsg := Wrap(ctx, task, in, sink)
	close(w.events)

	if errMsg != "" && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		errMsg = "WorkerTimeout: worker exceeded its time limit"
	}
	w.outcome = Outcome{Result: result, Err: errMsg}
}

func (w *localWorker) ID() string                  { return w.id }
func (w *localWorker) Events() <-chan stream.Event { return w.events }

func (w *localWorker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (w *localWorker) Kill() {
	w.killOnce.Do(w.cancel)
}

func (w *localWorker) Wait() Outcome {
	<-w.done
	return w.outcome
}
