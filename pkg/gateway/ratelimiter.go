package gateway

import (
	"sync"
	"time"
)

// Rejection reasons
const (
	ReasonTooManyConcurrent = "too many concurrent runs"
	ReasonRateLimited       = "rate limit exceeded"
)

type userWindow struct {
	requests   []time.Time
	concurrent int
}

// UserRateLimiter applies a sliding one-minute window and a concurrency cap
// per user
type UserRateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxConcurrent     int
	users             map[string]*userWindow
	now               func() time.Time
}

// NewUserRateLimiter creates a limiter. A limit <= 0 disables that check.
func NewUserRateLimiter(requestsPerMinute, maxConcurrent int) *UserRateLimiter {
	return &UserRateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		users:             make(map[string]*userWindow),
		now:               time.Now,
	}
}

// Acquire admits a run for userID. On success the caller must call Release
// when the run ends.
func (r *UserRateLimiter) Acquire(userID string) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w := r.window(userID, now)

	if r.maxConcurrent > 0 && w.concurrent >= r.maxConcurrent {
		return false, ReasonTooManyConcurrent
	}
	if r.requestsPerMinute > 0 && len(w.requests) >= r.requestsPerMinute {
		return false, ReasonRateLimited
	}

	w.requests = append(w.requests, now)
	w.concurrent++
	return true, ""
}

// Release ends a run admitted by Acquire
func (r *UserRateLimiter) Release(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.users[userID]
	if !ok {
		return
	}
	if w.concurrent > 0 {
		w.concurrent--
	}
	if w.concurrent == 0 && len(w.requests) == 0 {
		delete(r.users, userID)
	}
}

// Stats returns the requests in the current window and the runs in flight
func (r *UserRateLimiter) Stats(userID string) (requests, concurrent int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.window(userID, r.now())
	return len(w.requests), w.concurrent
}

// window returns the user's window with requests older than a minute dropped
func (r *UserRateLimiter) window(userID string, now time.Time) *userWindow {
	w, ok := r.users[userID]
	if !ok {
		w = &userWindow{}
		r.users[userID] = w
	}

	cutoff := now.Add(-time.Minute)
	kept := w.requests[:0]
	for _, t := range w.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.requests = kept
	return w
}
