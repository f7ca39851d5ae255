// Package orchestrator drives one streaming run per chat turn.
//
// A run launches a worker for the requested task, relays its events to the
// client as length-prefixed frames, keeps the connection alive with
// heartbeats, aborts idle workers, and on success persists the turn.
//
// Invariants:
// - At most one live worker per chat; registering a new one replaces and
//   kills the previous worker.
// - Stop and timeout are mutually exclusive per run; the first signal wins.
// - Exactly one outcome per run. Failed runs end with exactly one terminal
//   frame; successful runs end after their last event frame.
// - Only successful runs are persisted.
//
// Usage:
//
//	orch := orchestrator.New(launcher, orchestrator.NewRegistry(),
//		orchestrator.WithStore(store),
//		orchestrator.WithPool(pool),
//	)
//	result, err := orch.Run(ctx, orchestrator.Request{ChatID: "c1", UserID: "u1", Task: "scripted"}, w)
package orchestrator
