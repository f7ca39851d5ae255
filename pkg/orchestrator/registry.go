package orchestrator

import (
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/streamrun/internal/observability"
	"github.com/harun/streamrun/pkg/agent"
	"github.com/harun/streamrun/pkg/sandbox"
)

// Handle tracks one registered worker. Flags are only changed through the
// Registry.
type Handle struct {
	ID        string
	ChatID    string
	Worker    sandbox.Worker
	StartedAt time.Time

	mu               sync.Mutex
	stopRequested    bool
	timeoutRequested bool
	replaced         bool
}

// Signalled reports whether a stop or timeout was requested
func (h *Handle) Signalled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopRequested || h.timeoutRequested
}

// Disposition is the final state of a handle, read once by Flush
type Disposition struct {
	Stopped  bool
	TimedOut bool
	Replaced bool

	// Err is the worker's "Kind: message" failure, empty on success
	Err    string
	Result agent.Result
}

// Registry tracks the live worker of every chat
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
	now     func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[string]*Handle),
		now:     time.Now,
	}
}

// Register makes worker the live worker of chatID. A previous live worker
// for the chat is marked stopped and replaced, and killed before returning.
func (r *Registry) Register(chatID string, worker sandbox.Worker) *Handle {
	id, _ := gonanoid.New()
	h := &Handle{
		ID:        id,
		ChatID:    chatID,
		Worker:    worker,
		StartedAt: r.now(),
	}

	r.mu.Lock()
	prev := r.handles[chatID]
	r.handles[chatID] = h
	count := len(r.handles)
	r.mu.Unlock()

	if prev != nil {
		prev.mu.Lock()
		if !prev.timeoutRequested {
			prev.stopRequested = true
		}
		prev.replaced = true
		prev.mu.Unlock()
		prev.Worker.Kill()
		observability.RecordSignal("replace")
	}

	observability.SetActiveWorkers(count)
	return h
}

// SignalStop marks the chat's run as stopped and kills its worker. It
// returns false when there is no live run or the run already timed out.
func (r *Registry) SignalStop(chatID string) bool {
	return r.signal(chatID, "stop")
}

// SignalTimeout marks the chat's run as timed out and kills its worker. It
// returns false when there is no live run or the run was already stopped.
func (r *Registry) SignalTimeout(chatID string) bool {
	return r.signal(chatID, "timeout")
}

func (r *Registry) signal(chatID, kind string) bool {
	r.mu.Lock()
	h := r.handles[chatID]
	r.mu.Unlock()
	if h == nil {
		return false
	}
	return r.signalHandle(h, kind)
}

func (r *Registry) signalHandle(h *Handle, kind string) bool {
	h.mu.Lock()
	switch kind {
	case "stop":
		if h.timeoutRequested {
			h.mu.Unlock()
			return false
		}
		h.stopRequested = true
	default:
		if h.stopRequested {
			h.mu.Unlock()
			return false
		}
		h.timeoutRequested = true
	}
	h.mu.Unlock()

	h.Worker.Kill()
	observability.RecordSignal(kind)
	return true
}

// Flush reads the disposition of a joined worker and forgets the handle if
// it is still the chat's live handle. Call exactly once per handle, after
// the worker exited.
func (r *Registry) Flush(h *Handle) Disposition {
	outcome := h.Worker.Wait()

	r.mu.Lock()
	if r.handles[h.ChatID] == h {
		delete(r.handles, h.ChatID)
	}
	count := len(r.handles)
	r.mu.Unlock()
	observability.SetActiveWorkers(count)

	h.mu.Lock()
	defer h.mu.Unlock()
	return Disposition{
		Stopped:  h.stopRequested,
		TimedOut: h.timeoutRequested,
		Replaced: h.replaced,
		Err:      outcome.Err,
		Result:   outcome.Result,
	}
}

// Active returns the chats with a live run, sorted
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	chats := make([]string, 0, len(r.handles))
	for chatID := range r.handles {
		chats = append(chats, chatID)
	}
	sort.Strings(chats)
	return chats
}

// Len returns the number of live runs
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Reap times out runs older than maxAge and drops handles whose worker is
// gone without ever being flushed. It returns how many handles it touched.
func (r *Registry) Reap(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	var stale []*Handle
	for chatID, h := range r.handles {
		if !h.StartedAt.Before(cutoff) {
			continue
		}
		if !h.Worker.Alive() {
			delete(r.handles, chatID)
			continue
		}
		stale = append(stale, h)
	}
	orphans := 0
	count := len(r.handles)
	r.mu.Unlock()

	for _, h := range stale {
		if r.signalHandle(h, "timeout") {
			orphans++
		}
	}
	observability.SetActiveWorkers(count)

	return orphans
}
