package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/streamrun/pkg/orchestrator"
)

type stubPruner struct {
	calls []time.Duration
	err   error
}

func (p *stubPruner) Prune(maxAge time.Duration) (int, error) {
	p.calls = append(p.calls, maxAge)
	return 2, p.err
}

func TestNewJanitor_Validation(t *testing.T) {
	_, err := NewJanitor(JanitorConfig{}, orchestrator.NewRegistry(), nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewJanitor(JanitorConfig{Schedule: "not a schedule", MaxRunAge: time.Minute}, orchestrator.NewRegistry(), nil, zerolog.Nop())
	assert.Error(t, err)

	j, err := NewJanitor(JanitorConfig{MaxRunAge: time.Minute}, orchestrator.NewRegistry(), nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "@every 1m", j.cfg.Schedule)
}

func TestJanitor_SweepPrunesSessions(t *testing.T) {
	pruner := &stubPruner{}
	j, err := NewJanitor(JanitorConfig{MaxRunAge: time.Minute, SessionMaxAge: time.Hour}, orchestrator.NewRegistry(), pruner, zerolog.Nop())
	require.NoError(t, err)

	j.Sweep()
	assert.Equal(t, []time.Duration{time.Hour}, pruner.calls)

	pruner.err = errors.New("disk gone")
	assert.NotPanics(t, j.Sweep)
}

func TestJanitor_SessionPruneDisabled(t *testing.T) {
	pruner := &stubPruner{}
	j, err := NewJanitor(JanitorConfig{MaxRunAge: time.Minute}, orchestrator.NewRegistry(), pruner, zerolog.Nop())
	require.NoError(t, err)

	j.Sweep()
	assert.Empty(t, pruner.calls)
}

func TestJanitor_StartStop(t *testing.T) {
	j, err := NewJanitor(JanitorConfig{Schedule: "@every 1h", MaxRunAge: time.Minute}, orchestrator.NewRegistry(), nil, zerolog.Nop())
	require.NoError(t, err)
	j.Start()
	j.Stop()
}
