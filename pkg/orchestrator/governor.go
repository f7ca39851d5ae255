package orchestrator

import "time"

// Policy holds the timing knobs of a run
type Policy struct {
	// IdleTimeout aborts a run whose worker produced no output for this long
	IdleTimeout time.Duration

	// HeartbeatInterval is the longest the client may go without a frame
	HeartbeatInterval time.Duration

	// PollInterval is the poll loop tick
	PollInterval time.Duration
}

// DefaultPolicy returns the stock run timings
func DefaultPolicy() Policy {
	return Policy{
		IdleTimeout:       90 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		PollInterval:      35 * time.Millisecond,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.IdleTimeout <= 0 {
		p.IdleTimeout = def.IdleTimeout
	}
	if p.HeartbeatInterval <= 0 {
		p.HeartbeatInterval = def.HeartbeatInterval
	}
	if p.PollInterval <= 0 {
		p.PollInterval = def.PollInterval
	}
	return p
}

// State is the governor's lifecycle state
type State int

const (
	StateIdle State = iota
	StateActive
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Decision is what the poll loop must do after a tick
type Decision struct {
	Timeout   bool
	Heartbeat bool
}

// Governor decides idle timeouts and heartbeats for one run. Not safe for
// concurrent use.
type Governor struct {
	policy Policy
	state  State

	idleSince     time.Time
	idleStarted   bool
	lastHeartbeat time.Time
}

// NewGovernor creates a governor whose heartbeat clock starts at now
func NewGovernor(policy Policy, now time.Time) *Governor {
	return &Governor{
		policy:        policy.withDefaults(),
		state:         StateIdle,
		lastHeartbeat: now,
	}
}

// State returns the current state
func (g *Governor) State() State {
	return g.state
}

// Tick advances the governor. hadOutput reports whether task output was
// drained since the previous tick; workerAlive whether the worker still runs.
func (g *Governor) Tick(now time.Time, hadOutput, workerAlive bool) Decision {
	if g.state == StateFinished {
		return Decision{}
	}

	if hadOutput {
		g.state = StateActive
		g.idleStarted = false
		g.lastHeartbeat = now
		return Decision{}
	}

	if !g.idleStarted {
		g.idleStarted = true
		g.idleSince = now
	}

	if workerAlive && now.Sub(g.idleSince) > g.policy.IdleTimeout {
		g.state = StateFinished
		return Decision{Timeout: true}
	}

	var d Decision
	if workerAlive && now.Sub(g.lastHeartbeat) >= g.policy.HeartbeatInterval {
		d.Heartbeat = true
		g.lastHeartbeat = now
	}
	return d
}

// Finish marks the run finished; later ticks decide nothing
func (g *Governor) Finish() {
	g.state = StateFinished
}

// IdleFor reports how long the run has been without task output
func (g *Governor) IdleFor(now time.Time) time.Duration {
	if !g.idleStarted {
		return 0
	}
	return now.Sub(g.idleSince)
}
