package sandbox

import (
	"context"
	"fmt"

	"github.com/harun/streamrun/pkg/agent"
)

// Wrap runs task and never lets a failure escape: errors and panics come
// back as a "Kind: message" string with an empty result.
func Wrap(ctx context.Context, task agent.Task, in agent.Input, sink agent.Sink) (result agent.Result, errMsg string) {
	defer func() {
		if r := recover(); r != nil {
			result = agent.Result{}
			if err, ok := r.(error); ok {
				errMsg = agent.FormatError(err)
				return
			}
			errMsg = fmt.Sprintf("Panic: %v", r)
		}
	}()

	result, err := task.Run(ctx, in, sink)
	if err != nil {
		return agent.Result{}, agent.FormatError(err)
	}
	return result, ""
}
