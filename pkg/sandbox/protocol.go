package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/harun/streamrun/internal/tracing"
	"github.com/harun/streamrun/pkg/agent"
	"github.com/harun/streamrun/pkg/framing"
	"github.com/harun/streamrun/pkg/stream"
)

// FramesFD is the descriptor a worker process writes its Messages to.
// Stdout is left to the task.
const FramesFD = 3

// MessageKind tags a frame written by a worker process
type MessageKind string

const (
	MessageEvent  MessageKind = "event"
	MessageResult MessageKind = "result"
	MessageError  MessageKind = "error"
	MessageEnd    MessageKind = "end"
)

// Message is one frame written by a worker process
type Message struct {
	Kind   MessageKind   `json:"kind"`
	Event  *stream.Event `json:"event,omitempty"`
	Result *agent.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Request is written as JSON on a worker process's stdin
type Request struct {
	Task        string               `json:"task"`
	Input       agent.Input          `json:"input"`
	Trace       tracing.TraceContext `json:"trace"`
	MaxMemoryMB int                  `json:"max_memory_mb,omitempty"`
}

// Serve is the worker-process side of process isolation. It reads one
// Request from r, runs the task and writes framed Messages to w: every event,
// then exactly one result or error, then end.
func Serve(ctx context.Context, registry *agent.Registry, r io.Reader, w io.Writer, logger zerolog.Logger) error {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return fmt.Errorf("failed to read worker request: %w", err)
	}

	ctx = tracing.NewContext(ctx, &req.Trace)
	logger = tracing.LoggerFromContext(ctx, logger)

	if req.MaxMemoryMB > 0 {
		debug.SetMemoryLimit(int64(req.MaxMemoryMB) * 1024 * 1024)
	}

	fw := framing.NewWriter(w)
	finish := func(msg Message) error {
		if err := fw.WriteFrame(msg); err != nil {
			return err
		}
		return fw.WriteFrame(Message{Kind: MessageEnd})
	}

	task, err := registry.Get(req.Task)
	if err != nil {
		if werr := finish(Message{Kind: MessageError, Error: agent.FormatError(agent.NewTaskError("TaskNotFound", req.Task))}); werr != nil {
			return werr
		}
		return err
	}

	logger.Debug().Str("task", req.Task).Msg("Worker started")

	sink := agent.SinkFunc(func(ev stream.Event) error {
		return fw.WriteFrame(Message{Kind: MessageEvent, Event: &ev})
	})
	result, errMsg := Wrap(ctx, task, req.Input, sink)

	if errMsg != "" {
		logger.Debug().Str("error", errMsg).Msg("Worker task failed")
		return finish(Message{Kind: MessageError, Error: errMsg})
	}

	logger.Debug().Int("messages", len(result.Messages)).Msg("Worker task finished")
	return finish(Message{Kind: MessageResult, Result: &result})
}
