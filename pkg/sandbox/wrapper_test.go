package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harun/streamrun/pkg/agent"
	"github.com/harun/streamrun/pkg/stream"
)

type funcTask struct {
	name string
	run  func(ctx context.Context, in agent.Input, sink agent.Sink) (agent.Result, error)
}

func (t funcTask) Name() string { return t.name }

func (t funcTask) Run(ctx context.Context, in agent.Input, sink agent.Sink) (agent.Result, error) {
	return t.run(ctx, in, sink)
}

var discard = agent.SinkFunc(func(stream.Event) error { return nil })

func TestWrap(t *testing.T) {
	tests := []struct {
		name    string
		run     func(ctx context.Context, in agent.Input, sink agent.Sink) (agent.Result, error)
		wantErr string
	}{
		{
			name: "success",
			run: func(ctx context.Context, in agent.Input, sink agent.Sink) (agent.Result, error) {
				return agent.Conversation(in, "ok"), nil
			},
		},
		{
			name: "task error",
			run: func(ctx context.Context, in agent.Input, sink agent.Sink) (agent.Result, error) {
				return agent.Result{}, agent.NewTaskError("ValueError", "bad")
			},
			wantErr: "ValueError: bad",
		},
		{
			name: "plain error",
			run: func(ctx context.Context, in agent.Input, sink agent.Sink) (agent.Result, error) {
				return agent.Result{Messages: []agent.Message{{Role: "ai"}}}, errors.New("broken")
			},
			wantErr: "Error: broken",
		},
		{
			name: "panic value",
			run: func(ctx context.Context, in agent.Input, sink agent.Sink) (agent.Result, error) {
				panic("kaboom")
			},
			wantErr: "Panic: kaboom",
		},
		{
			name: "panic error",
			run: func(ctx context.Context, in agent.Input, sink agent.Sink) (agent.Result, error) {
				panic(agent.NewTaskError("KeyError", "missing"))
			},
			wantErr: "KeyError: missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, errMsg := Wrap(context.Background(), funcTask{name: "t", run: tt.run}, agent.Input{Message: "hi"}, discard)
			assert.Equal(t, tt.wantErr, errMsg)
			if tt.wantErr == "" {
				assert.Len(t, result.Messages, 2)
			} else {
				assert.Empty(t, result.Messages)
			}
		})
	}
}
