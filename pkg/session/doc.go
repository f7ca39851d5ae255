// Package session keeps the per-chat conversation memory fed back to tasks.
//
// Invariants:
// - Session keys are derived from (user, chat) and are path-safe.
// - Writes for the same session are serialized; Set replaces atomically.
// - Get on an unknown session returns an empty history, not an error.
//
// Usage:
//
//	mgr, _ := session.New("/tmp/streamrun/sessions", 200)
//	history, _ := mgr.Get(ctx, "user-1", "chat-1")
//	_ = mgr.Set(ctx, "user-1", "chat-1", append(history, newTurn...))
package session
