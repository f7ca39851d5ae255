package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harun/streamrun/pkg/agent"
	"github.com/harun/streamrun/pkg/stream"
)

func TestResolve_ExactlyOneOutcome(t *testing.T) {
	turn := agent.Result{Messages: []agent.Message{
		{Role: agent.RoleHuman, Content: "q"},
		{Role: agent.RoleAI, Content: "a"},
	}}

	tests := []struct {
		name     string
		d        Disposition
		want     Outcome
		cause    error
		terminal *stream.Terminal
	}{
		{
			name: "success",
			d:    Disposition{Result: turn},
			want: OutcomeSuccess,
		},
		{
			name:     "stopped",
			d:        Disposition{Stopped: true, Result: turn},
			want:     OutcomeStoppedByUser,
			cause:    ErrUserStop,
			terminal: &stream.Terminal{Error: stream.ErrorStop},
		},
		{
			name:     "timed out",
			d:        Disposition{TimedOut: true, Err: "Canceled: context canceled"},
			want:     OutcomeTimedOut,
			cause:    ErrIdleTimeout,
			terminal: &stream.Terminal{Error: stream.ErrorTimeout},
		},
		{
			name:     "worker error",
			d:        Disposition{Err: "ValueError: bad"},
			want:     OutcomeInternalError,
			cause:    ErrWorkerFailure,
			terminal: &stream.Terminal{Error: stream.ErrorInternal, ErrorMsg: "ValueError: bad"},
		},
		{
			name:     "empty result",
			d:        Disposition{Result: agent.Result{Messages: []agent.Message{{Role: agent.RoleHuman}}}},
			want:     OutcomeInternalError,
			cause:    ErrEmptyResult,
			terminal: &stream.Terminal{Error: stream.ErrorInternal},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := resolve(tt.d)
			assert.Equal(t, tt.want, res.outcome)
			assert.Equal(t, tt.cause, res.cause)

			for _, other := range []Outcome{OutcomeSuccess, OutcomeStoppedByUser, OutcomeTimedOut, OutcomeInternalError} {
				if other != tt.want {
					assert.NotEqual(t, other, res.outcome)
				}
			}

			term, ok := res.terminal()
			if tt.terminal == nil {
				assert.False(t, ok, "success has no terminal frame")
				return
			}
			assert.True(t, ok)
			assert.Equal(t, *tt.terminal, term)
		})
	}
}

func TestResolve_SuccessTurn(t *testing.T) {
	res := resolve(Disposition{Result: agent.Result{Messages: []agent.Message{
		{Role: agent.RoleHuman, Content: "old q"},
		{Role: agent.RoleAI, Content: "old a"},
		{Role: agent.RoleHuman, Content: "q"},
		{Role: agent.RoleAI, Content: "a"},
	}}})

	assert.Equal(t, "q", res.human)
	assert.Equal(t, "a", res.ai)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "stopped", OutcomeStoppedByUser.String())
	assert.Equal(t, "timeout", OutcomeTimedOut.String())
	assert.Equal(t, "internal", OutcomeInternalError.String())

	assert.NoError(t, OutcomeSuccess.Err())
	assert.ErrorIs(t, OutcomeTimedOut.Err(), ErrIdleTimeout)
}

func TestRenderError(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "ValueError: bad", want: "ValueError: bad"},
		{raw: "AnthropicError: prompt is too long: 210000 tokens", want: "The conversation is too long for the model. Start a new chat and try again."},
		{raw: `OpenAIError: status 429: POST "https://api.openai.com/v1/chat/completions": 429 Too Many Requests`, want: "The model is busy right now. Please retry in a moment."},
		{raw: "AnthropicError: status 529: overloaded_error", want: "The model is busy right now. Please retry in a moment."},
		{raw: "AnthropicError: status 401: authentication_error: invalid x-api-key", want: "The model provider rejected the credentials. Please contact the administrator."},
		{raw: "wrapError: anthropic: provider API key not configured", want: "The model provider rejected the credentials. Please contact the administrator."},
		{raw: "ValueError: expected 4290 rows", want: "ValueError: expected 4290 rows"},
		{raw: "KeyError: 'row_401'", want: "KeyError: 'row_401'"},
		{raw: "ValueError: status 429 in column", want: "ValueError: status 429 in column"},
		{raw: "RuntimeError: rate_limit bucket empty", want: "RuntimeError: rate_limit bucket empty"},
		{raw: "WorkerTimeout: worker exceeded its time limit", want: "The task ran longer than allowed and was stopped."},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderError(tt.raw))
		})
	}
}
