package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testPolicy() Policy {
	return Policy{
		IdleTimeout:       90 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		PollInterval:      35 * time.Millisecond,
	}
}

func TestGovernor_OutputKeepsRunActive(t *testing.T) {
	start := time.Now()
	g := NewGovernor(testPolicy(), start)
	assert.Equal(t, StateIdle, g.State())

	d := g.Tick(start.Add(time.Second), true, true)
	assert.Equal(t, Decision{}, d)
	assert.Equal(t, StateActive, g.State())
	assert.Zero(t, g.IdleFor(start.Add(time.Second)))
}

func TestGovernor_IdleTimeout(t *testing.T) {
	start := time.Now()
	g := NewGovernor(testPolicy(), start)

	g.Tick(start, false, true)
	d := g.Tick(start.Add(90*time.Second), false, true)
	assert.False(t, d.Timeout, "timeout requires exceeding the bound")

	d = g.Tick(start.Add(91*time.Second), false, true)
	assert.True(t, d.Timeout)
	assert.Equal(t, StateFinished, g.State())

	assert.Equal(t, Decision{}, g.Tick(start.Add(200*time.Second), false, true))
}

func TestGovernor_OutputResetsIdleTimer(t *testing.T) {
	start := time.Now()
	g := NewGovernor(testPolicy(), start)

	g.Tick(start, false, true)
	g.Tick(start.Add(80*time.Second), true, true)
	g.Tick(start.Add(81*time.Second), false, true)

	d := g.Tick(start.Add(160*time.Second), false, true)
	assert.False(t, d.Timeout)
	d = g.Tick(start.Add(172*time.Second), false, true)
	assert.True(t, d.Timeout)
}

func TestGovernor_HeartbeatsDoNotResetIdle(t *testing.T) {
	start := time.Now()
	g := NewGovernor(testPolicy(), start)

	heartbeats := 0
	var timedOutAt time.Duration
	for elapsed := time.Duration(0); elapsed <= 120*time.Second; elapsed += time.Second {
		d := g.Tick(start.Add(elapsed), false, true)
		if d.Heartbeat {
			heartbeats++
		}
		if d.Timeout {
			timedOutAt = elapsed
			break
		}
	}

	assert.Equal(t, 91*time.Second, timedOutAt)
	assert.Equal(t, 9, heartbeats)
}

func TestGovernor_NoDecisionsForDeadWorker(t *testing.T) {
	start := time.Now()
	g := NewGovernor(testPolicy(), start)

	g.Tick(start, false, false)
	d := g.Tick(start.Add(10*time.Minute), false, false)
	assert.Equal(t, Decision{}, d)
	assert.NotEqual(t, StateFinished, g.State())
}

func TestGovernor_OutputResetsHeartbeat(t *testing.T) {
	start := time.Now()
	g := NewGovernor(testPolicy(), start)

	g.Tick(start.Add(9*time.Second), true, true)
	d := g.Tick(start.Add(12*time.Second), false, true)
	assert.False(t, d.Heartbeat)
	d = g.Tick(start.Add(19*time.Second), false, true)
	assert.True(t, d.Heartbeat)
}

func TestGovernor_Finish(t *testing.T) {
	g := NewGovernor(testPolicy(), time.Now())
	g.Finish()
	assert.Equal(t, StateFinished, g.State())
	assert.Equal(t, "finished", g.State().String())
}

func TestPolicy_Defaults(t *testing.T) {
	p := Policy{IdleTimeout: time.Second}.withDefaults()
	assert.Equal(t, time.Second, p.IdleTimeout)
	assert.Equal(t, 10*time.Second, p.HeartbeatInterval)
	assert.Equal(t, 35*time.Millisecond, p.PollInterval)
}
