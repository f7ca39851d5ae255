// Package agent defines the task abstraction executed inside a worker.
//
// A Task receives the user's message plus conversation history, emits
// stream events through a Sink while it works, and returns the updated
// conversation as its Result.
//
// Invariants:
// - Events are emitted in order; the Sink is never called after Run returns.
// - A Result carries the whole conversation; its last two messages are the
//   new human turn and the new AI turn.
// - Failures are returned as errors. TaskError carries an explicit kind.
//
// Usage:
//
//	reg := agent.NewRegistry()
//	reg.Register(agent.NewScriptedTask())
//	task, _ := reg.Get("scripted")
//	result, err := task.Run(ctx, input, agent.SinkFunc(func(ev stream.Event) error {
//		return nil
//	}))
package agent
